package outboxevents_test

import (
	"testing"
	"time"

	outboxevents "github.com/bionicotaku/lingo-services-ingest/internal/models/outbox_events"
	"github.com/bionicotaku/lingo-services-ingest/internal/models/po"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestNewVideoIngestCompletedEvent(t *testing.T) {
	key := "videos/ab/abcdef.mp4"
	remote := "yt-123"
	video := &po.Video{
		VideoID:       uuid.New(),
		UserID:        uuid.New(),
		Title:         "lesson",
		Filename:      "lesson.mp4",
		MimeType:      "video/mp4",
		Phase:         po.PhaseCompleted,
		StorageKey:    &key,
		RemoteVideoID: &remote,
	}
	eventID := uuid.New()
	occurred := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	evt, err := outboxevents.NewVideoIngestCompletedEvent(video, eventID, occurred)
	require.NoError(t, err)
	require.Equal(t, outboxevents.KindVideoIngestCompleted, evt.Kind)
	require.Equal(t, video.VideoID, evt.AggregateID)
	require.Equal(t, occurred.UnixMicro(), evt.Version)

	payload, err := outboxevents.Marshal(evt)
	require.NoError(t, err)

	var decoded structpb.Struct
	require.NoError(t, proto.Unmarshal(payload, &decoded))
	fields := decoded.AsMap()
	require.Equal(t, "ingest.video.completed", fields["event_type"])
	completed := fields["completed"].(map[string]any)
	require.Equal(t, key, completed["storage_key"])
	require.Equal(t, remote, completed["remote_video_id"])

	attrs := outboxevents.BuildAttributes(evt, "", "trace-1")
	require.Equal(t, outboxevents.SchemaVersionV1, attrs["schema_version"])
	require.Equal(t, "trace-1", attrs["trace_id"])
	require.Equal(t, eventID.String(), attrs["event_id"])
}

func TestNewVideoIngestCompletedEvent_RequiresStorageKey(t *testing.T) {
	_, err := outboxevents.NewVideoIngestCompletedEvent(&po.Video{VideoID: uuid.New()}, uuid.New(), time.Now())
	require.ErrorIs(t, err, outboxevents.ErrMissingKey)

	_, err = outboxevents.NewVideoIngestCompletedEvent(nil, uuid.New(), time.Now())
	require.ErrorIs(t, err, outboxevents.ErrNilVideo)
}

func TestNewVideoIngestFailedEvent(t *testing.T) {
	phase := po.PhaseHashing
	code := "DATA_LOSS"
	msg := "converted file missing"
	video := &po.Video{VideoID: uuid.New(), UserID: uuid.New(), Phase: po.PhaseFailed, FailedPhase: &phase, ErrorCode: &code, ErrorMessage: &msg}

	_, err := outboxevents.NewVideoIngestFailedEvent(video, uuid.Nil, time.Now())
	require.ErrorIs(t, err, outboxevents.ErrInvalidEventID)

	evt, err := outboxevents.NewVideoIngestFailedEvent(video, uuid.New(), time.Time{})
	require.NoError(t, err)
	require.False(t, evt.OccurredAt.IsZero())

	st, err := outboxevents.ToStruct(evt)
	require.NoError(t, err)
	failed := st.AsMap()["failed"].(map[string]any)
	require.Equal(t, "hashing", failed["failed_phase"])
	require.Equal(t, code, failed["error_code"])
}
