// Package vo 定义服务层对外返回的值对象。
package vo

import (
	"time"

	"github.com/bionicotaku/lingo-services-ingest/internal/models/po"
	"github.com/google/uuid"
)

// IngestResult 为单个分片写入后的结果。
type IngestResult struct {
	VideoID    uuid.UUID
	Offset     int64 // 从 0 起连续接收的字节数
	TotalSize  int64
	IsComplete bool
	Duplicate  bool // 分片已被完整覆盖，未重复写入
}

// AdvanceResult 描述一次 Advance 调用的结果。
type AdvanceResult struct {
	VideoID      uuid.UUID
	FromPhase    po.Phase
	ToPhase      po.Phase
	Steps        int
	Terminal     bool
	FailureCause string
}

// Failed 判断本次推进是否以失败终止。
func (r *AdvanceResult) Failed() bool {
	return r != nil && r.ToPhase == po.PhaseFailed
}

// RecoveryReport 汇总一次恢复扫描。
type RecoveryReport struct {
	Scanned     int
	Skipped     int
	Regenerated int
	Completed   int
	Failed      int
	Errors      int
	Duration    time.Duration
}

// VideoStatus 为上传记录的只读视图。
type VideoStatus struct {
	VideoID       uuid.UUID
	UserID        uuid.UUID
	Title         string
	Filename      string
	MimeType      string
	Phase         po.Phase
	TotalSize     int64
	UploadOffset  int64
	IsComplete    bool
	StorageKey    *string
	RemoteVideoID *string
	ErrorCode     *string
	ErrorMessage  *string
	PlaybackURL   *string
	PlaybackTTL   time.Duration
	UpdatedAt     time.Time
}

// NewVideoStatus 从持久化实体构建只读视图。
func NewVideoStatus(video *po.Video) *VideoStatus {
	if video == nil {
		return nil
	}
	return &VideoStatus{
		VideoID:       video.VideoID,
		UserID:        video.UserID,
		Title:         video.Title,
		Filename:      video.Filename,
		MimeType:      video.MimeType,
		Phase:         video.Phase.Logical(),
		TotalSize:     video.TotalSize,
		UploadOffset:  video.UploadOffset,
		IsComplete:    video.UploadOffset == video.TotalSize,
		StorageKey:    video.StorageKey,
		RemoteVideoID: video.RemoteVideoID,
		ErrorCode:     video.ErrorCode,
		ErrorMessage:  video.ErrorMessage,
		UpdatedAt:     video.UpdatedAt,
	}
}
