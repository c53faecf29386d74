package outboxevents

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/trace"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// SchemaVersionV1 为当前事件载荷版本。
const SchemaVersionV1 = "v1"

// VersionFromTime 以微秒时间戳作为单调递增的事件版本。
func VersionFromTime(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

// ToStruct 将领域事件编码为 google.protobuf.Struct。
func ToStruct(evt *DomainEvent) (*structpb.Struct, error) {
	if evt == nil {
		return nil, fmt.Errorf("events: nil domain event")
	}

	fields := map[string]any{
		"event_id":       evt.EventID.String(),
		"event_type":     evt.Kind.String(),
		"aggregate_id":   evt.AggregateID.String(),
		"aggregate_type": evt.AggregateType,
		"version":        strconv.FormatInt(evt.Version, 10),
		"occurred_at":    evt.OccurredAt.UTC().Format(time.RFC3339Nano),
	}

	switch payload := evt.Payload.(type) {
	case *VideoIngestCompleted:
		completed := map[string]any{
			"video_id":    payload.VideoID.String(),
			"user_id":     payload.UserID.String(),
			"title":       payload.Title,
			"filename":    payload.Filename,
			"mime_type":   payload.MimeType,
			"storage_key": payload.StorageKey,
		}
		if payload.FileSize != nil {
			completed["file_size"] = strconv.FormatInt(*payload.FileSize, 10)
		}
		if payload.ChecksumSHA256 != nil {
			completed["checksum_sha256"] = *payload.ChecksumSHA256
		}
		if payload.RemoteVideoID != nil {
			completed["remote_video_id"] = *payload.RemoteVideoID
		}
		fields["completed"] = completed
	case *VideoIngestFailed:
		fields["failed"] = map[string]any{
			"video_id":      payload.VideoID.String(),
			"user_id":       payload.UserID.String(),
			"failed_phase":  payload.FailedPhase,
			"error_code":    payload.ErrorCode,
			"error_message": payload.ErrorMessage,
		}
	default:
		return nil, fmt.Errorf("events: unsupported payload type %T", payload)
	}

	return structpb.NewStruct(fields)
}

// Marshal 将领域事件编码为 protobuf 二进制载荷。
func Marshal(evt *DomainEvent) ([]byte, error) {
	st, err := ToStruct(evt)
	if err != nil {
		return nil, err
	}
	payload, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return payload, nil
}

// BuildAttributes 构造符合 Pub/Sub 约定的 message attributes。
func BuildAttributes(evt *DomainEvent, schemaVersion string, traceID string) map[string]string {
	if schemaVersion == "" {
		schemaVersion = SchemaVersionV1
	}
	attrs := map[string]string{
		"event_id":       evt.EventID.String(),
		"event_type":     evt.Kind.String(),
		"aggregate_id":   evt.AggregateID.String(),
		"aggregate_type": evt.AggregateType,
		"version":        strconv.FormatInt(evt.Version, 10),
		"occurred_at":    evt.OccurredAt.UTC().Format(time.RFC3339),
		"schema_version": schemaVersion,
	}
	if traceID != "" {
		attrs["trace_id"] = traceID
	}
	return attrs
}

// TraceIDFromContext 提取 OTel Trace ID，若不存在返回空字符串。
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() || !spanCtx.HasTraceID() {
		return ""
	}
	return spanCtx.TraceID().String()
}
