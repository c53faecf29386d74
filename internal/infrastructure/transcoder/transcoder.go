package transcoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/bionicotaku/lingo-services-ingest/internal/services"

	"github.com/go-kratos/kratos/v2/log"
)

const (
	outputMimeType = "video/mp4"
	outputExt      = ".mp4"
	stderrTail     = 512
)

// Options 描述可执行文件与超时。
type Options struct {
	FFmpegPath  string
	FFprobePath string
	Timeout     time.Duration
}

// FFmpeg 实现 services.Transcoder。
type FFmpeg struct {
	ffmpeg  string
	ffprobe string
	timeout time.Duration
	log     *log.Helper
}

// New 构造 FFmpeg。
func New(opts Options, logger log.Logger) *FFmpeg {
	ffmpeg := opts.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	ffprobe := opts.FFprobePath
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	return &FFmpeg{ffmpeg: ffmpeg, ffprobe: ffprobe, timeout: opts.Timeout, log: log.NewHelper(logger)}
}

// EnsureCompatible 实现 services.Transcoder。
// 输出先写入临时文件再原子重命名，磁盘上的 OutputPath 总是完整文件。
func (f *FFmpeg) EnsureCompatible(ctx context.Context, inputPath, originalFilename string) (*services.TranscodeResult, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	probe, err := f.probe(ctx, inputPath)
	if err != nil {
		return nil, err
	}
	plan, err := Decide(probe)
	if err != nil {
		return nil, err
	}

	filename := OutputFilename(originalFilename)
	if plan == PlanKeep {
		f.log.WithContext(ctx).Infof("video already compatible: path=%s format=%s", inputPath, probe.Format.FormatName)
		return &services.TranscodeResult{OutputPath: inputPath, Filename: filename, MimeType: outputMimeType}, nil
	}

	output, err := ReserveOutput(inputPath)
	if err != nil {
		return nil, err
	}
	tmp := output + ".tmp"
	started := time.Now()
	if _, err := f.run(ctx, f.ffmpeg, BuildArgs(plan, inputPath, tmp)...); err != nil {
		_ = os.Remove(tmp)
		_ = os.Remove(output)
		return nil, fmt.Errorf("ffmpeg %s: %w", plan, err)
	}
	if err := os.Rename(tmp, output); err != nil {
		_ = os.Remove(tmp)
		_ = os.Remove(output)
		return nil, fmt.Errorf("rename transcoded output: %w", err)
	}
	f.log.WithContext(ctx).Infof("video normalized: plan=%s input=%s output=%s elapsed=%s", plan, inputPath, output, time.Since(started))
	return &services.TranscodeResult{
		OutputPath:   output,
		Filename:     filename,
		MimeType:     outputMimeType,
		DidTranscode: true,
	}, nil
}

func (f *FFmpeg) probe(ctx context.Context, path string) (*Probe, error) {
	out, err := f.run(ctx, f.ffprobe,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w", err)
	}
	return ParseProbe(out)
}

func (f *FFmpeg) run(ctx context.Context, bin string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("exit %d: %s", exitErr.ExitCode(), tail(stderr.String()))
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

// BuildArgs 返回 ffmpeg 参数；输出格式显式指定为 mp4。
func BuildArgs(plan Plan, input, output string) []string {
	args := []string{"-hide_banner", "-nostdin", "-y", "-i", input}
	switch plan {
	case PlanRemux:
		args = append(args, "-c", "copy")
	default:
		args = append(args,
			"-c:v", "libx264", "-preset", "veryfast", "-crf", "23", "-pix_fmt", "yuv420p",
			"-c:a", "aac", "-b:a", "128k",
		)
	}
	return append(args, "-movflags", "+faststart", "-f", "mp4", output)
}

// OutputPath 由暂存文件路径派生规范化文件的基础名：<dir>/<id>.part -> <dir>/<id>.mp4。
func OutputPath(input string) string {
	ext := filepath.Ext(input)
	base := strings.TrimSuffix(input, ext)
	if ext == outputExt {
		base += ".normalized"
	}
	return base + outputExt
}

// ReserveOutput 为一次执行占用唯一的输出路径：<dir>/<id>.<random>.mp4。
// 多个实例共享暂存卷时各自写入自己的文件，互不覆盖。
func ReserveOutput(input string) (string, error) {
	base := OutputPath(input)
	stem := strings.TrimSuffix(filepath.Base(base), outputExt)
	file, err := os.CreateTemp(filepath.Dir(base), stem+".*"+outputExt)
	if err != nil {
		return "", fmt.Errorf("reserve output: %w", err)
	}
	name := file.Name()
	if err := file.Close(); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("reserve output: %w", err)
	}
	return name, nil
}

// OutputFilename 把原始文件名的扩展名替换为 .mp4。
func OutputFilename(original string) string {
	name := strings.TrimSpace(filepath.Base(original))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "video"
	}
	return strings.TrimSuffix(name, filepath.Ext(name)) + outputExt
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTail {
		return "..." + s[len(s)-stderrTail:]
	}
	return s
}
