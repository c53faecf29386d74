package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/bionicotaku/lingo-services-ingest/internal/models/po"
	"github.com/bionicotaku/lingo-services-ingest/internal/repositories/mappers"
	ingestsql "github.com/bionicotaku/lingo-services-ingest/internal/repositories/sqlc"

	"github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// 仓储层哨兵错误。
var (
	// ErrVideoNotFound 表示上传记录不存在。
	ErrVideoNotFound = errors.New("video not found")
	// ErrVideoConflict 表示行锁竞争失败或记录阶段已被其他执行者推进。
	ErrVideoConflict = errors.New("video state conflict")
	// ErrSessionRequired 表示需要行锁的操作未在事务内调用。
	ErrSessionRequired = errors.New("transaction session required")
)

// PostgreSQL 错误码：锁等待超时、序列化失败、死锁、唯一约束。
const (
	pgLockNotAvailable     = "55P03"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
)

// VideoRepository 封装 ingest.videos 表的访问逻辑。
// 所有写操作都应在 txmanager 会话中先通过 GetForUpdate 取得行锁。
type VideoRepository struct {
	db      *pgxpool.Pool
	queries *ingestsql.Queries
	log     *log.Helper
}

// NewVideoRepository 构造 VideoRepository。
func NewVideoRepository(db *pgxpool.Pool, logger log.Logger) *VideoRepository {
	return &VideoRepository{
		db:      db,
		queries: ingestsql.New(db),
		log:     log.NewHelper(logger),
	}
}

// CreateVideoInput 描述新上传会话的初始字段。
type CreateVideoInput struct {
	VideoID   uuid.UUID
	UserID    uuid.UUID
	Title     string
	Filename  string
	MimeType  string
	TotalSize int64
	ChunkSize int64
	TmpPath   string
}

func (r *VideoRepository) queriesFor(sess txmanager.Session) *ingestsql.Queries {
	if sess != nil {
		return r.queries.WithTx(sess.Tx())
	}
	return r.queries
}

// Create 插入处于 receiving 阶段的新记录。
func (r *VideoRepository) Create(ctx context.Context, sess txmanager.Session, input CreateVideoInput) (*po.Video, error) {
	row, err := r.queriesFor(sess).InsertVideo(ctx, ingestsql.InsertVideoParams{
		VideoID:   input.VideoID,
		UserID:    input.UserID,
		Title:     input.Title,
		Filename:  input.Filename,
		MimeType:  input.MimeType,
		TotalSize: input.TotalSize,
		ChunkSize: input.ChunkSize,
		TmpPath:   input.TmpPath,
	})
	if err != nil {
		if isConflict(err) {
			return nil, fmt.Errorf("insert video %s: %w", input.VideoID, ErrVideoConflict)
		}
		r.log.WithContext(ctx).Errorf("insert video failed: video_id=%s user_id=%s err=%v", input.VideoID, input.UserID, err)
		return nil, fmt.Errorf("insert video: %w", err)
	}
	return mappers.VideoFromRow(row)
}

// Get 读取记录快照（不加锁）。
func (r *VideoRepository) Get(ctx context.Context, sess txmanager.Session, videoID uuid.UUID) (*po.Video, error) {
	row, err := r.queriesFor(sess).GetVideo(ctx, videoID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVideoNotFound
		}
		r.log.WithContext(ctx).Errorf("get video failed: video_id=%s err=%v", videoID, err)
		return nil, fmt.Errorf("get video: %w", err)
	}
	return mappers.VideoFromRow(row)
}

// GetForUpdate 以 SELECT ... FOR UPDATE 锁定并读取最新记录，锁随事务提交释放。
func (r *VideoRepository) GetForUpdate(ctx context.Context, sess txmanager.Session, videoID uuid.UUID) (*po.Video, error) {
	if sess == nil {
		return nil, ErrSessionRequired
	}
	row, err := r.queriesFor(sess).GetVideoForUpdate(ctx, videoID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVideoNotFound
		}
		if isConflict(err) {
			r.log.WithContext(ctx).Warnf("lock video contended: video_id=%s err=%v", videoID, err)
			return nil, fmt.Errorf("lock video %s: %w", videoID, ErrVideoConflict)
		}
		r.log.WithContext(ctx).Errorf("lock video failed: video_id=%s err=%v", videoID, err)
		return nil, fmt.Errorf("lock video: %w", err)
	}
	return mappers.VideoFromRow(row)
}

// UpdateRanges 持久化合并后的区间与连续偏移，仅在 receiving 阶段生效。
func (r *VideoRepository) UpdateRanges(ctx context.Context, sess txmanager.Session, videoID uuid.UUID, ranges []po.UploadedRange, offset int64) (*po.Video, error) {
	raw, err := mappers.EncodeRanges(ranges)
	if err != nil {
		return nil, err
	}
	row, err := r.queriesFor(sess).UpdateVideoRanges(ctx, ingestsql.UpdateVideoRangesParams{
		VideoID:        videoID,
		UploadedRanges: raw,
		UploadOffset:   offset,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isConflict(err) {
			return nil, fmt.Errorf("update ranges %s: %w", videoID, ErrVideoConflict)
		}
		r.log.WithContext(ctx).Errorf("update ranges failed: video_id=%s err=%v", videoID, err)
		return nil, fmt.Errorf("update ranges: %w", err)
	}
	return mappers.VideoFromRow(row)
}

// ApplyTransition 将记录从 from 迁移到 to，并写入 patch 中的非空列。
// 当前阶段不等于 from 时返回 ErrVideoConflict。
func (r *VideoRepository) ApplyTransition(ctx context.Context, sess txmanager.Session, videoID uuid.UUID, from, to po.Phase, patch po.VideoPatch) (*po.Video, error) {
	params := mappers.BuildApplyTransitionParams(videoID, from, to, patch)
	row, err := r.queriesFor(sess).ApplyVideoTransition(ctx, params)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isConflict(err) {
			return nil, fmt.Errorf("transition %s %s->%s: %w", videoID, from, to, ErrVideoConflict)
		}
		r.log.WithContext(ctx).Errorf("apply transition failed: video_id=%s from=%s to=%s err=%v", videoID, from, to, err)
		return nil, fmt.Errorf("apply transition: %w", err)
	}
	return mappers.VideoFromRow(row)
}

// RewindToConverting 丢弃规范化产物与摘要，将记录退回 converting 以重新生成中间文件。
func (r *VideoRepository) RewindToConverting(ctx context.Context, sess txmanager.Session, videoID uuid.UUID, from po.Phase) (*po.Video, error) {
	row, err := r.queriesFor(sess).RewindVideoToConverting(ctx, ingestsql.RewindVideoToConvertingParams{
		VideoID: videoID,
		Phase:   string(from),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isConflict(err) {
			return nil, fmt.Errorf("rewind %s: %w", videoID, ErrVideoConflict)
		}
		r.log.WithContext(ctx).Errorf("rewind video failed: video_id=%s from=%s err=%v", videoID, from, err)
		return nil, fmt.Errorf("rewind video: %w", err)
	}
	return mappers.VideoFromRow(row)
}

// ListByPhases 按 (updated_at, video_id) 升序分页列出处于指定阶段的记录。
// receiving 阶段只返回已接收完整的记录。
func (r *VideoRepository) ListByPhases(ctx context.Context, sess txmanager.Session, query po.PhaseQuery) ([]*po.Video, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 500
	}
	params := ingestsql.ListVideosByPhasesParams{
		Phases:  mappers.PhaseStrings(query.Phases),
		MaxRows: int32(limit),
	}
	if query.After != nil {
		params.AfterUpdatedAt = timestamptzFromTime(query.After.UpdatedAt)
		params.AfterVideoID = pgtype.UUID{Bytes: query.After.VideoID, Valid: true}
	}
	rows, err := r.queriesFor(sess).ListVideosByPhases(ctx, params)
	if err != nil {
		r.log.WithContext(ctx).Errorf("list videos by phase failed: phases=%v err=%v", query.Phases, err)
		return nil, fmt.Errorf("list videos by phase: %w", err)
	}
	return mappers.VideosFromRows(rows)
}

// Delete 删除记录，不存在时返回 ErrVideoNotFound。
func (r *VideoRepository) Delete(ctx context.Context, sess txmanager.Session, videoID uuid.UUID) error {
	affected, err := r.queriesFor(sess).DeleteVideo(ctx, videoID)
	if err != nil {
		r.log.WithContext(ctx).Errorf("delete video failed: video_id=%s err=%v", videoID, err)
		return fmt.Errorf("delete video: %w", err)
	}
	if affected == 0 {
		return ErrVideoNotFound
	}
	return nil
}

func isConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgLockNotAvailable, pgSerializationFailure, pgDeadlockDetected, pgUniqueViolation:
		return true
	default:
		return false
	}
}
