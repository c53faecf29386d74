// Package transcoder 通过 ffprobe / ffmpeg 把上传的视频规范化为可直接播放的 H.264/AAC MP4。
package transcoder

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Probe 为 ffprobe -show_format -show_streams 的精简结果。
type Probe struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

// ProbeFormat 为容器信息，FormatName 可能是逗号分隔的别名列表。
type ProbeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
}

// ProbeStream 为单条流信息。
type ProbeStream struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	PixFmt    string `json:"pix_fmt"`
}

// ParseProbe 解析 ffprobe 的 JSON 输出。
func ParseProbe(raw []byte) (*Probe, error) {
	var p Probe
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}
	return &p, nil
}

// Plan 为规范化动作。
type Plan int

const (
	// PlanKeep 文件已兼容，原样使用。
	PlanKeep Plan = iota
	// PlanRemux 编码兼容但容器不是 MP4，只重新封装。
	PlanRemux
	// PlanTranscode 需要重新编码。
	PlanTranscode
)

func (p Plan) String() string {
	switch p {
	case PlanKeep:
		return "keep"
	case PlanRemux:
		return "remux"
	default:
		return "transcode"
	}
}

// Decide 根据探测结果选择规范化动作。
func Decide(p *Probe) (Plan, error) {
	var video, audio []ProbeStream
	for _, s := range p.Streams {
		switch s.CodecType {
		case "video":
			video = append(video, s)
		case "audio":
			audio = append(audio, s)
		}
	}
	if len(video) == 0 {
		return PlanTranscode, fmt.Errorf("no video stream in %q", p.Format.FormatName)
	}

	codecsOK := video[0].CodecName == "h264" && (video[0].PixFmt == "" || video[0].PixFmt == "yuv420p")
	for _, a := range audio {
		if a.CodecName != "aac" {
			codecsOK = false
		}
	}
	if !codecsOK {
		return PlanTranscode, nil
	}
	if isMP4(p.Format.FormatName) {
		return PlanKeep, nil
	}
	return PlanRemux, nil
}

func isMP4(formatName string) bool {
	for _, name := range strings.Split(formatName, ",") {
		switch strings.TrimSpace(name) {
		case "mp4", "mov":
			return true
		}
	}
	return false
}
