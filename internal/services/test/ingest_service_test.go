package services_test

import (
	"bytes"
	"context"
	"math/rand"
	"os"
	"sync"
	"testing"

	"github.com/bionicotaku/lingo-services-ingest/internal/models/po"
	"github.com/bionicotaku/lingo-services-ingest/internal/services"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ingestHarness struct {
	*workflowHarness
	svc *services.IngestService
}

func newIngestHarness(t *testing.T, cfg services.IngestConfig) *ingestHarness {
	t.Helper()
	wh := newWorkflowHarness(t, nil)
	if cfg.StagingDir == "" {
		cfg.StagingDir = t.TempDir()
	}
	svc, err := services.NewIngestService(wh.store, wh.txm, wh.workflow, cfg, discardLogger)
	require.NoError(t, err)
	return &ingestHarness{workflowHarness: wh, svc: svc}
}

func (h *ingestHarness) start(t *testing.T, content []byte, end int64) uuid.UUID {
	t.Helper()
	res, err := h.svc.IngestChunk(context.Background(), services.IngestChunkInput{
		Session: &services.NewSession{
			UserID:   uuid.New(),
			Title:    "demo",
			Filename: "clip.mov",
			MimeType: "video/quicktime",
		},
		Body:      bytes.NewReader(content[:end+1]),
		Start:     0,
		End:       end,
		TotalSize: int64(len(content)),
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, res.VideoID)
	return res.VideoID
}

func (h *ingestHarness) send(id uuid.UUID, content []byte, start, end int64) error {
	_, err := h.svc.IngestChunk(context.Background(), services.IngestChunkInput{
		VideoID:   id,
		Body:      bytes.NewReader(content[start : end+1]),
		Start:     start,
		End:       end,
		TotalSize: int64(len(content)),
	})
	return err
}

func TestIngestChunkResumesSession(t *testing.T) {
	h := newIngestHarness(t, services.IngestConfig{})
	content := binaryPayload(10)
	id := h.start(t, content, 3)

	res, err := h.svc.IngestChunk(context.Background(), services.IngestChunkInput{
		VideoID:   id,
		Body:      bytes.NewReader(content[4:]),
		Start:     4,
		End:       9,
		TotalSize: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Offset)
	assert.True(t, res.IsComplete)
	assert.False(t, res.Duplicate)

	stored := h.store.snapshot(id)
	assert.Equal(t, []po.UploadedRange{{Start: 0, End: 9}}, stored.UploadedRanges)
	data, err := os.ReadFile(stored.TmpPath)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestIngestChunkDuplicateDoesNotRewrite(t *testing.T) {
	h := newIngestHarness(t, services.IngestConfig{})
	content := binaryPayload(10)
	id := h.start(t, content, 4)

	res, err := h.svc.IngestChunk(context.Background(), services.IngestChunkInput{
		VideoID:   id,
		Body:      bytes.NewReader([]byte{9, 9, 9}),
		Start:     1,
		End:       3,
		TotalSize: 10,
	})
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, int64(5), res.Offset)

	data, err := os.ReadFile(h.store.snapshot(id).TmpPath)
	require.NoError(t, err)
	assert.Equal(t, content[:5], data[:5])
}

func TestIngestChunkRejectsConflictingOverlap(t *testing.T) {
	h := newIngestHarness(t, services.IngestConfig{})
	content := binaryPayload(10)
	id := h.start(t, content, 4)

	err := h.send(id, content, 3, 7)
	require.Error(t, err)
	assert.True(t, kerrors.IsBadRequest(err))
	assert.Equal(t, services.ReasonRangeConflict, kerrors.Reason(err))
	assert.Equal(t, []po.UploadedRange{{Start: 0, End: 4}}, h.store.snapshot(id).UploadedRanges)
}

func TestIngestChunkAdjacentChunksMerge(t *testing.T) {
	h := newIngestHarness(t, services.IngestConfig{})
	content := binaryPayload(10)
	id := h.start(t, content, 4)

	err := h.send(id, content, 7, 9)
	require.NoError(t, err)
	assert.Equal(t, int64(5), h.store.snapshot(id).UploadOffset)

	err = h.send(id, content, 5, 6)
	require.NoError(t, err)
	stored := h.store.snapshot(id)
	assert.Equal(t, []po.UploadedRange{{Start: 0, End: 9}}, stored.UploadedRanges)
	assert.Equal(t, int64(10), stored.UploadOffset)
}

func TestIngestChunkShortBody(t *testing.T) {
	h := newIngestHarness(t, services.IngestConfig{})
	content := binaryPayload(10)
	id := h.start(t, content, 4)

	_, err := h.svc.IngestChunk(context.Background(), services.IngestChunkInput{
		VideoID:   id,
		Body:      bytes.NewReader([]byte{1, 2}),
		Start:     5,
		End:       9,
		TotalSize: 10,
	})
	require.Error(t, err)
	assert.Equal(t, services.ReasonShortChunk, kerrors.Reason(err))
	assert.Equal(t, int64(5), h.store.snapshot(id).UploadOffset)
}

func TestIngestChunkValidation(t *testing.T) {
	h := newIngestHarness(t, services.IngestConfig{MaxTotalSize: 100})
	id := h.start(t, binaryPayload(10), 0)
	three := int64(3)

	cases := []struct {
		name   string
		in     services.IngestChunkInput
		reason string
	}{
		{"结束位置越界", services.IngestChunkInput{VideoID: id, Start: 5, End: 10, TotalSize: 10}, services.ReasonRangeInvalid},
		{"起点大于终点", services.IngestChunkInput{VideoID: id, Start: 6, End: 5, TotalSize: 10}, services.ReasonRangeInvalid},
		{"声明长度不一致", services.IngestChunkInput{VideoID: id, Start: 1, End: 5, TotalSize: 10, DeclaredLength: &three}, services.ReasonRangeInvalid},
		{"总大小超过上限", services.IngestChunkInput{VideoID: id, Start: 0, End: 5, TotalSize: 101}, services.ReasonTooLarge},
		{"总大小与会话不一致", services.IngestChunkInput{VideoID: id, Start: 1, End: 5, TotalSize: 20}, services.ReasonSizeMismatch},
		{"缺少会话", services.IngestChunkInput{Start: 0, End: 5, TotalSize: 10}, services.ReasonSessionInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := tc.in
			in.Body = bytes.NewReader(make([]byte, 32))
			_, err := h.svc.IngestChunk(context.Background(), in)
			require.Error(t, err)
			assert.True(t, kerrors.IsBadRequest(err))
			assert.Equal(t, tc.reason, kerrors.Reason(err))
		})
	}
	assert.Equal(t, int64(1), h.store.snapshot(id).UploadOffset)
}

func TestIngestChunkUnknownSession(t *testing.T) {
	h := newIngestHarness(t, services.IngestConfig{})
	err := h.send(uuid.New(), binaryPayload(10), 0, 4)
	require.Error(t, err)
	assert.True(t, kerrors.IsNotFound(err))
}

func TestIngestChunkAfterReceiving(t *testing.T) {
	h := newIngestHarness(t, services.IngestConfig{})
	content := binaryPayload(10)
	id := h.start(t, content, 5)
	v := h.store.snapshot(id)
	v.Phase = po.PhaseConverting
	h.store.put(v)

	res, err := h.svc.IngestChunk(context.Background(), services.IngestChunkInput{
		VideoID: id, Body: bytes.NewReader(content[:3]), Start: 0, End: 2, TotalSize: 10,
	})
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	err = h.send(id, content, 6, 9)
	require.Error(t, err)
	assert.True(t, kerrors.IsConflict(err))
	assert.Equal(t, services.ReasonNotReceiving, kerrors.Reason(err))
}

func TestIngestChunkMissingStagingFileFailsRecord(t *testing.T) {
	h := newIngestHarness(t, services.IngestConfig{})
	content := binaryPayload(10)
	id := h.start(t, content, 4)
	require.NoError(t, os.Remove(h.store.snapshot(id).TmpPath))

	err := h.send(id, content, 5, 9)
	require.Error(t, err)
	assert.Equal(t, services.ReasonIngestFailed, kerrors.Reason(err))

	stored := h.store.snapshot(id)
	assert.Equal(t, po.PhaseFailed, stored.Phase)
	assert.Equal(t, services.ErrorCodeDataLoss, *stored.ErrorCode)
}

func TestIngestChunkOutOfOrderConcurrent(t *testing.T) {
	const (
		chunk  = 10 * 1024
		chunks = 100
	)
	h := newIngestHarness(t, services.IngestConfig{})
	content := binaryPayload(chunk * chunks)
	id := h.start(t, content, chunk-1)

	order := rand.New(rand.NewSource(42)).Perm(chunks - 1)
	work := make(chan int)
	var wg sync.WaitGroup
	errs := make(chan error, chunks)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				start := int64(i+1) * chunk
				if err := h.send(id, content, start, start+chunk-1); err != nil {
					errs <- err
				}
			}
		}()
	}
	for _, i := range order {
		work <- i
	}
	close(work)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored := h.store.snapshot(id)
	assert.Equal(t, int64(len(content)), stored.UploadOffset)
	assert.Equal(t, []po.UploadedRange{{Start: 0, End: int64(len(content)) - 1}}, stored.UploadedRanges)
	data, err := os.ReadFile(stored.TmpPath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, data))
}

func TestIngestChunkAutoAdvance(t *testing.T) {
	h := newIngestHarness(t, services.IngestConfig{AutoAdvance: true})
	content := binaryPayload(64)
	id := h.start(t, content, int64(len(content))-1)
	h.svc.Wait()

	stored := h.store.snapshot(id)
	assert.Equal(t, po.PhaseCompleted, stored.Phase)
	require.NotNil(t, stored.StorageKey)
	assert.Equal(t, content, h.objects.object(*stored.StorageKey))
}
