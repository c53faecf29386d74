package services_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/bionicotaku/lingo-services-ingest/internal/models/po"
	"github.com/bionicotaku/lingo-services-ingest/internal/repositories"
	"github.com/bionicotaku/lingo-services-ingest/internal/services"

	"github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var discardLogger = log.NewStdLogger(io.Discard)

// memStore 为内存版 VideoStore，语义与 SQL 实现保持一致（阶段守卫、completed 需 storage_key）。
type memStore struct {
	mu     sync.Mutex
	videos map[uuid.UUID]*po.Video
}

func newMemStore() *memStore {
	return &memStore{videos: make(map[uuid.UUID]*po.Video)}
}

func cloneVideo(v *po.Video) *po.Video {
	c := *v
	c.UploadedRanges = append([]po.UploadedRange(nil), v.UploadedRanges...)
	return &c
}

func (s *memStore) put(v *po.Video) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videos[v.VideoID] = cloneVideo(v)
}

func (s *memStore) snapshot(id uuid.UUID) *po.Video {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[id]
	if !ok {
		return nil
	}
	return cloneVideo(v)
}

func (s *memStore) Create(_ context.Context, _ txmanager.Session, in repositories.CreateVideoInput) (*po.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.videos[in.VideoID]; ok {
		return nil, repositories.ErrVideoConflict
	}
	now := time.Now().UTC()
	v := &po.Video{
		VideoID:   in.VideoID,
		UserID:    in.UserID,
		Title:     in.Title,
		Filename:  in.Filename,
		MimeType:  in.MimeType,
		TotalSize: in.TotalSize,
		ChunkSize: in.ChunkSize,
		Phase:     po.PhaseReceiving,
		TmpPath:   in.TmpPath,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.videos[v.VideoID] = v
	return cloneVideo(v), nil
}

func (s *memStore) Get(_ context.Context, _ txmanager.Session, id uuid.UUID) (*po.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[id]
	if !ok {
		return nil, repositories.ErrVideoNotFound
	}
	return cloneVideo(v), nil
}

func (s *memStore) GetForUpdate(ctx context.Context, sess txmanager.Session, id uuid.UUID) (*po.Video, error) {
	if sess == nil {
		return nil, repositories.ErrSessionRequired
	}
	return s.Get(ctx, sess, id)
}

func (s *memStore) UpdateRanges(_ context.Context, _ txmanager.Session, id uuid.UUID, ranges []po.UploadedRange, offset int64) (*po.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[id]
	if !ok || v.Phase != po.PhaseReceiving {
		return nil, repositories.ErrVideoConflict
	}
	v.UploadedRanges = append([]po.UploadedRange(nil), ranges...)
	v.UploadOffset = offset
	v.UpdatedAt = time.Now().UTC()
	return cloneVideo(v), nil
}

func (s *memStore) ApplyTransition(_ context.Context, _ txmanager.Session, id uuid.UUID, from, to po.Phase, p po.VideoPatch) (*po.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[id]
	if !ok || v.Phase != from {
		return nil, repositories.ErrVideoConflict
	}
	next := cloneVideo(v)
	if p.Filename != nil {
		next.Filename = *p.Filename
	}
	if p.MimeType != nil {
		next.MimeType = *p.MimeType
	}
	if p.FileSize != nil {
		next.FileSize = p.FileSize
	}
	if p.ConvertedTmpPath != nil {
		next.ConvertedTmpPath = p.ConvertedTmpPath
	}
	if p.ChecksumSHA256 != nil {
		next.ChecksumSHA256 = p.ChecksumSHA256
	}
	if p.StorageKey != nil {
		next.StorageKey = p.StorageKey
	}
	if p.RemoteVideoID != nil {
		next.RemoteVideoID = p.RemoteVideoID
	}
	if p.FailedPhase != nil {
		next.FailedPhase = p.FailedPhase
	}
	if p.ErrorCode != nil {
		next.ErrorCode = p.ErrorCode
	}
	if p.ErrorMessage != nil {
		next.ErrorMessage = p.ErrorMessage
	}
	if to == po.PhaseCompleted && next.StorageKey == nil {
		return nil, fmt.Errorf("check constraint: completed requires storage_key")
	}
	next.Phase = to
	next.UpdatedAt = time.Now().UTC()
	s.videos[id] = next
	return cloneVideo(next), nil
}

func (s *memStore) RewindToConverting(_ context.Context, _ txmanager.Session, id uuid.UUID, from po.Phase) (*po.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[id]
	if !ok || v.Phase != from || v.StorageKey != nil {
		return nil, repositories.ErrVideoConflict
	}
	v.Phase = po.PhaseConverting
	v.ConvertedTmpPath = nil
	v.ChecksumSHA256 = nil
	v.UpdatedAt = time.Now().UTC()
	return cloneVideo(v), nil
}

func (s *memStore) ListByPhases(_ context.Context, _ txmanager.Session, query po.PhaseQuery) ([]*po.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[po.Phase]bool, len(query.Phases))
	for _, p := range query.Phases {
		want[p] = true
	}
	var out []*po.Video
	for _, v := range s.videos {
		if !want[v.Phase] || !v.ReadyForWorkflow() {
			continue
		}
		if query.After != nil && !query.After.After(v) {
			continue
		}
		out = append(out, cloneVideo(v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cursor().After(out[j]) })
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

func (s *memStore) Delete(_ context.Context, _ txmanager.Session, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.videos[id]; !ok {
		return repositories.ErrVideoNotFound
	}
	delete(s.videos, id)
	return nil
}

type outboxStub struct {
	mu       sync.Mutex
	messages []repositories.OutboxMessage
}

func (o *outboxStub) Enqueue(_ context.Context, _ txmanager.Session, msg repositories.OutboxMessage) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, msg)
	return nil
}

func (o *outboxStub) eventTypes() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.messages))
	for _, m := range o.messages {
		out = append(out, m.EventType)
	}
	return out
}

// lockingTxManager 以进程内互斥锁模拟行锁，事务串行执行。
type lockingTxManager struct {
	mu sync.Mutex
}

func (m *lockingTxManager) WithinTx(ctx context.Context, _ txmanager.TxOptions, fn func(context.Context, txmanager.Session) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, noopSession{ctx: ctx})
}

func (m *lockingTxManager) WithinReadOnlyTx(ctx context.Context, opts txmanager.TxOptions, fn func(context.Context, txmanager.Session) error) error {
	return m.WithinTx(ctx, opts, fn)
}

type noopSession struct {
	ctx context.Context
}

func (noopSession) Tx() pgx.Tx { return nil }

func (s noopSession) Context() context.Context { return s.ctx }

// copyTranscoder 将输入复制为 .mp4 文件，模拟一次转码。
type copyTranscoder struct {
	mu    sync.Mutex
	calls int
	err   error
	// during 在转码期间执行，用于模拟其他实例的并发推进。
	during func()
}

func (t *copyTranscoder) EnsureCompatible(_ context.Context, inputPath, originalFilename string) (*services.TranscodeResult, error) {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	if t.during != nil {
		t.during()
	}
	if t.err != nil {
		return nil, t.err
	}
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return nil, err
	}
	out := inputPath + ".mp4"
	if err := os.WriteFile(out, data, 0o640); err != nil {
		return nil, err
	}
	return &services.TranscodeResult{
		OutputPath:   out,
		Filename:     "normalized.mp4",
		MimeType:     "video/mp4",
		DidTranscode: true,
	}, nil
}

// memObjectStore 读取全部字节并以摘要生成对象键。
type memObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	calls   int
	err     error
	// readLimit > 0 时只读取前 readLimit 字节即视为成功（对象已存在）。
	readLimit int64
}

func newMemObjectStore() *memObjectStore {
	return &memObjectStore{objects: make(map[string][]byte)}
}

func (s *memObjectStore) UploadByChecksum(ctx context.Context, in services.ObjectUpload) (*services.StoredObject, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	key := "videos/sha256/" + in.ChecksumSHA256
	if s.readLimit > 0 {
		if _, err := io.CopyN(io.Discard, in.Body, s.readLimit); err != nil {
			return nil, err
		}
		return &services.StoredObject{Key: key, AlreadyExisted: true}, nil
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, ctxReader{ctx: ctx, r: in.Body}); err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = buf.Bytes()
	return &services.StoredObject{Key: key}, nil
}

func (s *memObjectStore) object(key string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects[key]
}

// memVideoHost 读取流并在 failAfter 个块后返回错误。
type memVideoHost struct {
	chunkSize int
	failAfter int
	err       error

	mu       sync.Mutex
	received []byte
	chunks   int
}

func (h *memVideoHost) UploadVideo(ctx context.Context, body io.Reader, _ string) (string, error) {
	buf := make([]byte, h.chunkSize)
	for {
		if h.failAfter > 0 && h.chunks >= h.failAfter {
			return "", h.err
		}
		n, err := io.ReadFull(ctxReader{ctx: ctx, r: body}, buf)
		if n > 0 {
			h.mu.Lock()
			h.received = append(h.received, buf[:n]...)
			h.chunks++
			h.mu.Unlock()
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return "remote-" + fmt.Sprint(len(h.received)), nil
		}
		if err != nil {
			return "", err
		}
	}
}

func (h *memVideoHost) bytes() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]byte(nil), h.received...)
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
