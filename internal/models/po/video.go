// Package po 定义面向持久化的数据对象（Persistent Objects），由 Repository 层使用。
// PO 对象映射数据库表结构，不直接暴露给上层业务逻辑。
package po

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// Phase 表示上传记录在处理流水线中的阶段。
type Phase string

// 阶段常量定义
const (
	PhaseReceiving   Phase = "receiving"    // 正在接收分片
	PhaseConverting  Phase = "converting"   // 格式规范化 / 转码
	PhaseHashing     Phase = "hashing"      // 计算 SHA-256
	PhaseUploadingS3 Phase = "uploading_s3" // 上传至对象存储（可同时推送视频平台）
	PhaseCompleted   Phase = "completed"    // 终态：成功
	PhaseFailed      Phase = "failed"       // 终态：失败

	// PhaseUploadingLegacy 为旧版本写入的上传阶段，语义等同 uploading_s3。
	PhaseUploadingLegacy Phase = "uploading"
)

// ResumablePhases 列出恢复扫描需要处理的非终态阶段（包含旧版别名）。
var ResumablePhases = []Phase{
	PhaseReceiving,
	PhaseConverting,
	PhaseHashing,
	PhaseUploadingS3,
	PhaseUploadingLegacy,
}

// Logical 将旧版阶段名映射为当前阶段。
func (p Phase) Logical() Phase {
	if p == PhaseUploadingLegacy {
		return PhaseUploadingS3
	}
	return p
}

// IsTerminal 判断阶段是否为终态。
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Valid 判断阶段值是否可识别。
func (p Phase) Valid() bool {
	switch p {
	case PhaseReceiving, PhaseConverting, PhaseHashing, PhaseUploadingS3,
		PhaseCompleted, PhaseFailed, PhaseUploadingLegacy:
		return true
	default:
		return false
	}
}

// UploadedRange 描述一个已接收的闭区间字节范围 [Start, End]。
type UploadedRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Len 返回区间覆盖的字节数。
func (r UploadedRange) Len() int64 {
	return r.End - r.Start + 1
}

// Video 表示 ingest.videos 表的数据库实体。
// 记录一次分片上传从接收到入库的完整生命周期。
type Video struct {
	VideoID   uuid.UUID `db:"video_id"`
	UserID    uuid.UUID `db:"user_id"`
	Title     string    `db:"title"`
	Filename  string    `db:"filename"`
	MimeType  string    `db:"mime_type"`
	TotalSize int64     `db:"total_size"` // 客户端声明的总字节数
	ChunkSize int64     `db:"chunk_size"` // 声明的分片大小，未知时为 0
	FileSize  *int64    `db:"file_size"`  // 规范化后工作文件的大小

	Phase          Phase           `db:"phase"`
	UploadedRanges []UploadedRange `db:"uploaded_ranges"`
	UploadOffset   int64           `db:"upload_offset"` // 从 0 开始的连续已接收字节数

	TmpPath          string  `db:"tmp_path"`           // 原始暂存文件
	ConvertedTmpPath *string `db:"converted_tmp_path"` // 规范化后的暂存文件

	ChecksumSHA256 *string `db:"checksum_sha256_base64"`
	StorageKey     *string `db:"storage_key"`
	RemoteVideoID  *string `db:"remote_video_id"`

	FailedPhase  *Phase  `db:"failed_phase"`
	ErrorCode    *string `db:"error_code"`
	ErrorMessage *string `db:"error_message"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// WorkingPath 返回当前阶段应读取的本地文件：优先规范化文件，其次原始暂存文件。
func (v *Video) WorkingPath() string {
	if v == nil {
		return ""
	}
	if v.ConvertedTmpPath != nil && *v.ConvertedTmpPath != "" {
		return *v.ConvertedTmpPath
	}
	return v.TmpPath
}

// StagingPaths 返回记录关联的全部本地暂存文件（去重）。
func (v *Video) StagingPaths() []string {
	if v == nil {
		return nil
	}
	paths := make([]string, 0, 2)
	if v.TmpPath != "" {
		paths = append(paths, v.TmpPath)
	}
	if v.ConvertedTmpPath != nil && *v.ConvertedTmpPath != "" && *v.ConvertedTmpPath != v.TmpPath {
		paths = append(paths, *v.ConvertedTmpPath)
	}
	return paths
}

// VideoPatch 描述一次阶段迁移附带写入的列，nil 字段保持原值。
type VideoPatch struct {
	Filename         *string
	MimeType         *string
	FileSize         *int64
	ConvertedTmpPath *string
	ChecksumSHA256   *string
	StorageKey       *string
	RemoteVideoID    *string
	FailedPhase      *Phase
	ErrorCode        *string
	ErrorMessage     *string
}

// VideoCursor 为按 (updated_at, video_id) 升序分页的键集游标。
type VideoCursor struct {
	UpdatedAt time.Time
	VideoID   uuid.UUID
}

// Cursor 返回以该记录为上一页末尾的游标。
func (v *Video) Cursor() VideoCursor {
	return VideoCursor{UpdatedAt: v.UpdatedAt, VideoID: v.VideoID}
}

// After 判断记录是否排在游标之后。
func (c VideoCursor) After(v *Video) bool {
	if !v.UpdatedAt.Equal(c.UpdatedAt) {
		return v.UpdatedAt.After(c.UpdatedAt)
	}
	return bytes.Compare(v.VideoID[:], c.VideoID[:]) > 0
}

// PhaseQuery 描述恢复扫描使用的阶段分页查询。
// receiving 阶段只返回已接收完整的记录，未完成的上传留给客户端续传。
type PhaseQuery struct {
	Phases []Phase
	After  *VideoCursor // nil 表示第一页
	Limit  int
}

// ReadyForWorkflow 判断记录是否满足 PhaseQuery 的完整性过滤。
func (v *Video) ReadyForWorkflow() bool {
	return v.Phase != PhaseReceiving || v.UploadOffset >= v.TotalSize
}
