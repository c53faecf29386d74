// Package outboxevents 构造上传流水线的领域事件，并负责事件到 Outbox 载荷的编码。
package outboxevents

import (
	"errors"
	"time"

	"github.com/bionicotaku/lingo-services-ingest/internal/models/po"
	"github.com/google/uuid"
)

// 事件构造错误。
var (
	ErrNilVideo       = errors.New("event builder: nil video")
	ErrInvalidEventID = errors.New("event builder: invalid event id")
	ErrMissingKey     = errors.New("event builder: completed video without storage key")
)

// AggregateTypeVideo 为事件聚合类型。
const AggregateTypeVideo = "video"

// Kind 标识领域事件类型。
type Kind int

// 领域事件类型常量。
const (
	KindUnknown Kind = iota
	KindVideoIngestCompleted
	KindVideoIngestFailed
)

func (k Kind) String() string {
	switch k {
	case KindVideoIngestCompleted:
		return "ingest.video.completed"
	case KindVideoIngestFailed:
		return "ingest.video.failed"
	default:
		return "ingest.video.unknown"
	}
}

// DomainEvent 表示领域层生成的标准事件。
type DomainEvent struct {
	EventID       uuid.UUID
	Kind          Kind
	AggregateID   uuid.UUID
	AggregateType string
	Version       int64
	OccurredAt    time.Time
	Payload       any
}

// VideoIngestCompleted 描述上传入库成功事件的载荷。
type VideoIngestCompleted struct {
	VideoID        uuid.UUID
	UserID         uuid.UUID
	Title          string
	Filename       string
	MimeType       string
	FileSize       *int64
	ChecksumSHA256 *string
	StorageKey     string
	RemoteVideoID  *string
}

// VideoIngestFailed 描述上传处理失败事件的载荷。
type VideoIngestFailed struct {
	VideoID      uuid.UUID
	UserID       uuid.UUID
	FailedPhase  string
	ErrorCode    string
	ErrorMessage string
}

// NewVideoIngestCompletedEvent 基于已完成的记录构建事件。
func NewVideoIngestCompletedEvent(video *po.Video, eventID uuid.UUID, occurredAt time.Time) (*DomainEvent, error) {
	if video == nil {
		return nil, ErrNilVideo
	}
	if eventID == uuid.Nil {
		return nil, ErrInvalidEventID
	}
	if video.StorageKey == nil || *video.StorageKey == "" {
		return nil, ErrMissingKey
	}
	occurredAt = normalizeOccurredAt(video, occurredAt)
	return &DomainEvent{
		EventID:       eventID,
		Kind:          KindVideoIngestCompleted,
		AggregateID:   video.VideoID,
		AggregateType: AggregateTypeVideo,
		Version:       VersionFromTime(occurredAt),
		OccurredAt:    occurredAt,
		Payload: &VideoIngestCompleted{
			VideoID:        video.VideoID,
			UserID:         video.UserID,
			Title:          video.Title,
			Filename:       video.Filename,
			MimeType:       video.MimeType,
			FileSize:       video.FileSize,
			ChecksumSHA256: video.ChecksumSHA256,
			StorageKey:     *video.StorageKey,
			RemoteVideoID:  video.RemoteVideoID,
		},
	}, nil
}

// NewVideoIngestFailedEvent 基于失败记录构建事件。
func NewVideoIngestFailedEvent(video *po.Video, eventID uuid.UUID, occurredAt time.Time) (*DomainEvent, error) {
	if video == nil {
		return nil, ErrNilVideo
	}
	if eventID == uuid.Nil {
		return nil, ErrInvalidEventID
	}
	occurredAt = normalizeOccurredAt(video, occurredAt)
	payload := &VideoIngestFailed{
		VideoID: video.VideoID,
		UserID:  video.UserID,
	}
	if video.FailedPhase != nil {
		payload.FailedPhase = string(*video.FailedPhase)
	}
	if video.ErrorCode != nil {
		payload.ErrorCode = *video.ErrorCode
	}
	if video.ErrorMessage != nil {
		payload.ErrorMessage = *video.ErrorMessage
	}
	return &DomainEvent{
		EventID:       eventID,
		Kind:          KindVideoIngestFailed,
		AggregateID:   video.VideoID,
		AggregateType: AggregateTypeVideo,
		Version:       VersionFromTime(occurredAt),
		OccurredAt:    occurredAt,
		Payload:       payload,
	}, nil
}

func normalizeOccurredAt(video *po.Video, occurredAt time.Time) time.Time {
	if occurredAt.IsZero() {
		occurredAt = video.UpdatedAt
		if occurredAt.IsZero() {
			occurredAt = time.Now()
		}
	}
	return occurredAt.UTC()
}
