package repositories_test

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/bionicotaku/lingo-services-ingest/internal/models/po"
	"github.com/bionicotaku/lingo-services-ingest/internal/repositories"
	"github.com/docker/go-connections/nat"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestVideoRepository_Lifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dsn, terminate := startPostgres(ctx, t)
	defer terminate()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	applyMigrations(ctx, t, pool)

	repo := repositories.NewVideoRepository(pool, log.NewStdLogger(io.Discard))
	videoID := uuid.New()

	created, err := repo.Create(ctx, nil, repositories.CreateVideoInput{
		VideoID:   videoID,
		UserID:    uuid.New(),
		Title:     "lesson one",
		Filename:  "lesson.mov",
		MimeType:  "video/quicktime",
		TotalSize: 100,
		ChunkSize: 50,
		TmpPath:   "/staging/" + videoID.String() + ".part",
	})
	require.NoError(t, err)
	require.Equal(t, po.PhaseReceiving, created.Phase)
	require.Empty(t, created.UploadedRanges)

	_, err = repo.Create(ctx, nil, repositories.CreateVideoInput{
		VideoID: videoID, UserID: uuid.New(), Filename: "dup", MimeType: "video/mp4", TotalSize: 1, TmpPath: "/x",
	})
	require.ErrorIs(t, err, repositories.ErrVideoConflict)

	err = withTx(ctx, pool, func(sess *pgxSession) error {
		locked, err := repo.GetForUpdate(ctx, sess, videoID)
		if err != nil {
			return err
		}
		require.Equal(t, int64(100), locked.TotalSize)
		_, err = repo.UpdateRanges(ctx, sess, videoID, []po.UploadedRange{{Start: 0, End: 99}}, 100)
		return err
	})
	require.NoError(t, err)

	got, err := repo.Get(ctx, nil, videoID)
	require.NoError(t, err)
	require.Equal(t, []po.UploadedRange{{Start: 0, End: 99}}, got.UploadedRanges)
	require.Equal(t, int64(100), got.UploadOffset)

	filename := "lesson.mp4"
	mime := "video/mp4"
	converted := "/staging/" + videoID.String() + ".mp4"
	size := int64(90)
	moved, err := repo.ApplyTransition(ctx, nil, videoID, po.PhaseReceiving, po.PhaseConverting, po.VideoPatch{})
	require.NoError(t, err)
	require.Equal(t, po.PhaseConverting, moved.Phase)

	moved, err = repo.ApplyTransition(ctx, nil, videoID, po.PhaseConverting, po.PhaseHashing, po.VideoPatch{
		Filename:         &filename,
		MimeType:         &mime,
		FileSize:         &size,
		ConvertedTmpPath: &converted,
	})
	require.NoError(t, err)
	require.Equal(t, filename, moved.Filename)
	require.Equal(t, converted, moved.WorkingPath())

	_, err = repo.ApplyTransition(ctx, nil, videoID, po.PhaseConverting, po.PhaseHashing, po.VideoPatch{})
	require.ErrorIs(t, err, repositories.ErrVideoConflict, "stale expected phase must conflict")

	_, err = repo.UpdateRanges(ctx, nil, videoID, nil, 0)
	require.ErrorIs(t, err, repositories.ErrVideoConflict, "ranges are frozen after receiving")

	rewound, err := repo.RewindToConverting(ctx, nil, videoID, po.PhaseHashing)
	require.NoError(t, err)
	require.Equal(t, po.PhaseConverting, rewound.Phase)
	require.Nil(t, rewound.ConvertedTmpPath)
	require.Nil(t, rewound.ChecksumSHA256)

	listed, err := repo.ListByPhases(ctx, nil, po.PhaseQuery{Phases: po.ResumablePhases, Limit: 10})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, videoID, listed[0].VideoID)

	require.NoError(t, repo.Delete(ctx, nil, videoID))
	require.ErrorIs(t, repo.Delete(ctx, nil, videoID), repositories.ErrVideoNotFound)
	_, err = repo.Get(ctx, nil, videoID)
	require.ErrorIs(t, err, repositories.ErrVideoNotFound)
}

func TestVideoRepository_CompletedRequiresStorageKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dsn, terminate := startPostgres(ctx, t)
	defer terminate()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	applyMigrations(ctx, t, pool)

	repo := repositories.NewVideoRepository(pool, log.NewStdLogger(io.Discard))
	videoID := uuid.New()
	_, err = repo.Create(ctx, nil, repositories.CreateVideoInput{
		VideoID: videoID, UserID: uuid.New(), Filename: "a.mp4", MimeType: "video/mp4", TotalSize: 1, TmpPath: "/a",
	})
	require.NoError(t, err)

	_, err = repo.ApplyTransition(ctx, nil, videoID, po.PhaseReceiving, po.PhaseCompleted, po.VideoPatch{})
	require.Error(t, err)
}

func TestVideoRepository_ListByPhasesPaging(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dsn, terminate := startPostgres(ctx, t)
	defer terminate()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	applyMigrations(ctx, t, pool)

	repo := repositories.NewVideoRepository(pool, log.NewStdLogger(io.Discard))
	create := func() uuid.UUID {
		id := uuid.New()
		_, err := repo.Create(ctx, nil, repositories.CreateVideoInput{
			VideoID: id, UserID: uuid.New(), Filename: "a.mp4", MimeType: "video/mp4", TotalSize: 10, TmpPath: "/a/" + id.String(),
		})
		require.NoError(t, err)
		return id
	}

	// 未接收完整的记录排在最前，但不应出现在结果中
	for i := 0; i < 3; i++ {
		id := create()
		_, err := pool.Exec(ctx, `UPDATE ingest.videos SET updated_at = '2020-01-01T00:00:00Z', upload_offset = 4,
			uploaded_ranges = '[{"start":0,"end":3}]' WHERE video_id = $1`, id)
		require.NoError(t, err)
	}
	want := map[uuid.UUID]bool{}
	for i := 0; i < 5; i++ {
		id := create()
		_, err := pool.Exec(ctx, `UPDATE ingest.videos SET updated_at = '2021-01-01T00:00:00Z', upload_offset = 10,
			uploaded_ranges = '[{"start":0,"end":9}]' WHERE video_id = $1`, id)
		require.NoError(t, err)
		want[id] = true
	}

	got := map[uuid.UUID]bool{}
	query := po.PhaseQuery{Phases: po.ResumablePhases, Limit: 2}
	for pages := 0; ; pages++ {
		require.Less(t, pages, 10, "paging must terminate")
		page, err := repo.ListByPhases(ctx, nil, query)
		require.NoError(t, err)
		for _, v := range page {
			require.False(t, got[v.VideoID], "video listed twice: %s", v.VideoID)
			got[v.VideoID] = true
		}
		if len(page) < query.Limit {
			break
		}
		cursor := page[len(page)-1].Cursor()
		query.After = &cursor
	}
	require.Equal(t, want, got)
}

func TestVideoRepository_LockContention(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dsn, terminate := startPostgres(ctx, t)
	defer terminate()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	applyMigrations(ctx, t, pool)

	repo := repositories.NewVideoRepository(pool, log.NewStdLogger(io.Discard))
	videoID := uuid.New()
	_, err = repo.Create(ctx, nil, repositories.CreateVideoInput{
		VideoID: videoID, UserID: uuid.New(), Filename: "a.mp4", MimeType: "video/mp4", TotalSize: 10, TmpPath: "/a",
	})
	require.NoError(t, err)

	holder, err := pool.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = holder.Rollback(ctx) }()
	_, err = repo.GetForUpdate(ctx, &pgxSession{tx: holder, ctx: ctx}, videoID)
	require.NoError(t, err)

	contender, err := pool.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = contender.Rollback(ctx) }()
	_, err = contender.Exec(ctx, "SET LOCAL lock_timeout = '100ms'")
	require.NoError(t, err)

	_, err = repo.GetForUpdate(ctx, &pgxSession{tx: contender, ctx: ctx}, videoID)
	require.ErrorIs(t, err, repositories.ErrVideoConflict)

	_, err = repo.GetForUpdate(ctx, nil, videoID)
	require.ErrorIs(t, err, repositories.ErrSessionRequired)
}

func TestOutboxRepository_ClaimAndMark(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dsn, terminate := startPostgres(ctx, t)
	defer terminate()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	applyMigrations(ctx, t, pool)

	repo := repositories.NewOutboxRepository(pool, log.NewStdLogger(io.Discard))
	first, second := uuid.New(), uuid.New()
	for _, id := range []uuid.UUID{first, second} {
		require.NoError(t, repo.Enqueue(ctx, nil, repositories.OutboxMessage{
			EventID:       id,
			AggregateType: "video",
			AggregateID:   uuid.New(),
			EventType:     "ingest.video.completed",
			Payload:       []byte("payload"),
			Headers:       map[string]string{"schema_version": "v1"},
		}))
	}

	pending, err := repo.CountPending(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, int64(2), pending)

	err = withTx(ctx, pool, func(sess *pgxSession) error {
		events, err := repo.ClaimPending(ctx, sess, time.Now().Add(time.Second), 10, 3)
		require.NoError(t, err)
		require.Len(t, events, 2)
		require.Equal(t, "v1", events[0].Headers["schema_version"])
		if err := repo.MarkPublished(ctx, sess, first, time.Now()); err != nil {
			return err
		}
		return repo.Reschedule(ctx, sess, second, "topic not found", time.Now().Add(time.Hour))
	})
	require.NoError(t, err)

	pending, err = repo.CountPending(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), pending)

	err = withTx(ctx, pool, func(sess *pgxSession) error {
		events, err := repo.ClaimPending(ctx, sess, time.Now(), 10, 3)
		require.NoError(t, err)
		require.Empty(t, events, "rescheduled event is not yet available")
		return nil
	})
	require.NoError(t, err)
}

type pgxSession struct {
	tx  pgx.Tx
	ctx context.Context
}

func (s *pgxSession) Tx() pgx.Tx               { return s.tx }
func (s *pgxSession) Context() context.Context { return s.ctx }

func withTx(ctx context.Context, pool *pgxpool.Pool, fn func(sess *pgxSession) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(&pgxSession{tx: tx, ctx: ctx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func startPostgres(ctx context.Context, t *testing.T) (string, func()) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "postgres",
			"POSTGRES_USER":     "postgres",
			"POSTGRES_DB":       "ingest",
		},
		WaitingFor: wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
			return fmt.Sprintf("postgres://postgres:postgres@%s:%s/ingest?sslmode=disable", host, port.Port())
		}).WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("skip repository integration: failed to start postgres container: %v", err)
	}

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://postgres:postgres@%s:%s/ingest?sslmode=disable", host, port.Port())
	cleanup := func() {
		termCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = container.Terminate(termCtx)
	}
	return dsn, cleanup
}

func applyMigrations(ctx context.Context, t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	migrationsDir := findMigrationsDir(t)
	entries, err := os.ReadDir(migrationsDir)
	require.NoError(t, err)

	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}
		paths = append(paths, filepath.Join(migrationsDir, entry.Name()))
	}
	sort.Strings(paths)

	for _, path := range paths {
		sqlBytes, readErr := os.ReadFile(path)
		require.NoError(t, readErr)
		_, execErr := pool.Exec(ctx, string(sqlBytes))
		require.NoErrorf(t, execErr, "apply migration %s", filepath.Base(path))
	}
}

func findMigrationsDir(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	require.NoError(t, err)

	for dir != "" && dir != "/" {
		candidate := filepath.Join(dir, "migrations")
		if info, statErr := os.Stat(candidate); statErr == nil && info.IsDir() {
			return candidate
		}
		dir = filepath.Dir(dir)
	}

	t.Fatalf("migrations directory not found from working directory")
	return ""
}
