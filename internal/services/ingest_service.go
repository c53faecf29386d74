package services

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/metrics"
	"github.com/bionicotaku/lingo-services-ingest/internal/models/po"
	"github.com/bionicotaku/lingo-services-ingest/internal/models/vo"
	"github.com/bionicotaku/lingo-services-ingest/internal/ranges"
	"github.com/bionicotaku/lingo-services-ingest/internal/repositories"

	"github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// IngestConfig 控制分片接收。
type IngestConfig struct {
	StagingDir   string
	MaxTotalSize int64 // 0 表示不限制
	// AutoAdvance 为 true 时，最后一个分片写入后在后台推进流水线。
	AutoAdvance    bool
	AdvanceTimeout time.Duration
}

// NewSession 描述新上传会话的元数据。
type NewSession struct {
	UserID    uuid.UUID
	Title     string
	Filename  string
	MimeType  string
	ChunkSize int64
}

// IngestChunkInput 描述一次分片写入请求。
// Session 非空时创建新会话（VideoID 由服务端生成），否则续传 VideoID 指定的会话。
type IngestChunkInput struct {
	VideoID        uuid.UUID
	Session        *NewSession
	Body           io.Reader
	Start          int64
	End            int64 // 闭区间
	TotalSize      int64
	DeclaredLength *int64
}

// IngestService 接收分片并写入暂存文件，区间状态与文件写入在同一行锁下完成。
type IngestService struct {
	store    VideoStore
	txm      txmanager.Manager
	staging  *StagingArea
	workflow *Workflow
	cfg      IngestConfig
	log      *log.Helper
	wg       sync.WaitGroup
}

// NewIngestService 构造分片接收服务并准备暂存目录。
func NewIngestService(store VideoStore, txm txmanager.Manager, workflow *Workflow, cfg IngestConfig, logger log.Logger) (*IngestService, error) {
	staging, err := NewStagingArea(cfg.StagingDir)
	if err != nil {
		return nil, err
	}
	return &IngestService{
		store:    store,
		txm:      txm,
		staging:  staging,
		workflow: workflow,
		cfg:      cfg,
		log:      log.NewHelper(logger),
	}, nil
}

// IngestChunk 将 [Start, End] 写入暂存文件并更新已接收区间。
//
// 已被完整覆盖的分片按重复处理，不再写入；与已有区间部分重叠的分片被拒绝。
// 记录离开 receiving 后只接受已覆盖的重复分片。
func (s *IngestService) IngestChunk(ctx context.Context, in IngestChunkInput) (*vo.IngestResult, error) {
	if err := s.validate(in); err != nil {
		metrics.ChunksTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	videoID := in.VideoID
	var tmpPath string
	if in.Session != nil {
		videoID = uuid.New()
		tmpPath = s.staging.PathFor(videoID)
	}

	var (
		result       *vo.IngestResult
		written      int64
		justComplete bool
		receiving    bool
	)
	err := s.txm.WithinTx(ctx, txmanager.TxOptions{}, func(txCtx context.Context, sess txmanager.Session) error {
		if in.Session != nil {
			if err := s.staging.Allocate(tmpPath, in.TotalSize); err != nil {
				return err
			}
			if _, err := s.store.Create(txCtx, sess, repositories.CreateVideoInput{
				VideoID:   videoID,
				UserID:    in.Session.UserID,
				Title:     in.Session.Title,
				Filename:  in.Session.Filename,
				MimeType:  in.Session.MimeType,
				TotalSize: in.TotalSize,
				ChunkSize: in.Session.ChunkSize,
				TmpPath:   tmpPath,
			}); err != nil {
				return err
			}
		}

		video, err := s.store.GetForUpdate(txCtx, sess, videoID)
		if err != nil {
			return err
		}
		if video.Phase != po.PhaseReceiving {
			if ranges.IsCovered(video.UploadedRanges, in.Start, in.End) {
				result = s.buildResult(video, true)
				return nil
			}
			return errors.Conflict(ReasonNotReceiving, "upload is no longer receiving chunks").
				WithCause(fmt.Errorf("video %s in phase %s", videoID, video.Phase))
		}
		if video.TotalSize != in.TotalSize {
			return errors.BadRequest(ReasonSizeMismatch, "total size differs from the upload session").
				WithCause(fmt.Errorf("declared %d, session %d", in.TotalSize, video.TotalSize))
		}
		receiving = true
		if ranges.IsCovered(video.UploadedRanges, in.Start, in.End) {
			result = s.buildResult(video, true)
			return nil
		}
		if ranges.HasConflictingOverlap(video.UploadedRanges, in.Start, in.End) {
			return errors.BadRequest(ReasonRangeConflict, "chunk partially overlaps received bytes").
				WithCause(fmt.Errorf("range %d-%d", in.Start, in.End))
		}

		written, err = writeChunk(video.TmpPath, in.Start, in.End-in.Start+1, in.Body)
		if err != nil {
			if stderrors.Is(err, errShortChunk) {
				return errors.BadRequest(ReasonShortChunk, "chunk body shorter than declared range").WithCause(err)
			}
			return err
		}

		merged := ranges.Merge(append(append([]ranges.Range(nil), video.UploadedRanges...), ranges.Range{Start: in.Start, End: in.End}))
		offset := ranges.ContiguousOffset(merged)
		updated, err := s.store.UpdateRanges(txCtx, sess, videoID, merged, offset)
		if err != nil {
			return err
		}
		justComplete = video.UploadOffset < video.TotalSize && offset == video.TotalSize
		result = s.buildResult(updated, false)
		return nil
	})
	if err != nil {
		if in.Session != nil {
			_ = removeFiles(tmpPath)
		}
		return nil, s.handleFailure(ctx, videoID, err)
	}

	if result.Duplicate {
		metrics.ChunksTotal.WithLabelValues("duplicate").Inc()
	} else {
		metrics.ChunksTotal.WithLabelValues("stored").Inc()
		metrics.ChunkBytesTotal.Add(float64(written))
	}
	if justComplete {
		metrics.UploadsCompletedTotal.Inc()
		s.log.WithContext(ctx).Infof("upload fully received: video_id=%s total=%d", videoID, result.TotalSize)
	}
	if result.IsComplete && receiving && s.cfg.AutoAdvance && s.workflow != nil {
		s.advanceAsync(ctx, videoID)
	}
	return result, nil
}

func (s *IngestService) validate(in IngestChunkInput) error {
	if in.Body == nil {
		return errors.BadRequest(ReasonRangeInvalid, "chunk body is required")
	}
	if err := ranges.Validate(in.Start, in.End, in.TotalSize, in.DeclaredLength); err != nil {
		return errors.BadRequest(ReasonRangeInvalid, err.Error()).WithCause(err)
	}
	if s.cfg.MaxTotalSize > 0 && in.TotalSize > s.cfg.MaxTotalSize {
		return errors.BadRequest(ReasonTooLarge, fmt.Sprintf("total size exceeds %d bytes", s.cfg.MaxTotalSize))
	}
	if in.Session != nil {
		if in.Session.UserID == uuid.Nil || in.Session.Filename == "" {
			return errors.BadRequest(ReasonSessionInvalid, "user_id and filename are required for a new upload")
		}
		return nil
	}
	if in.VideoID == uuid.Nil {
		return errors.BadRequest(ReasonSessionInvalid, "video_id is required")
	}
	return nil
}

func (s *IngestService) handleFailure(ctx context.Context, videoID uuid.UUID, err error) error {
	var se *errors.Error
	if stderrors.As(err, &se) {
		metrics.ChunksTotal.WithLabelValues("rejected").Inc()
		return err
	}
	metrics.ChunksTotal.WithLabelValues("error").Inc()
	if IsDataLoss(err) {
		s.log.WithContext(ctx).Errorf("staging file missing during ingest: video_id=%s err=%v", videoID, err)
		if s.workflow != nil {
			if _, ferr := s.workflow.MarkFailed(ctx, videoID, err); ferr != nil {
				s.log.WithContext(ctx).Errorf("mark failed after data loss: video_id=%s err=%v", videoID, ferr)
			}
		}
		return errors.InternalServer(ReasonIngestFailed, "staging data lost; upload must restart").WithCause(err)
	}
	if stderrors.Is(err, repositories.ErrVideoNotFound) || stderrors.Is(err, repositories.ErrVideoConflict) {
		return mapRepoError(err, "ingest chunk")
	}
	s.log.WithContext(ctx).Errorf("ingest chunk failed: video_id=%s err=%v", videoID, err)
	return errors.InternalServer(ReasonIngestFailed, "ingest chunk failed").WithCause(err)
}

func (s *IngestService) buildResult(video *po.Video, duplicate bool) *vo.IngestResult {
	return &vo.IngestResult{
		VideoID:    video.VideoID,
		Offset:     video.UploadOffset,
		TotalSize:  video.TotalSize,
		IsComplete: video.UploadOffset == video.TotalSize,
		Duplicate:  duplicate,
	}
}

func (s *IngestService) advanceAsync(ctx context.Context, videoID uuid.UUID) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		actx := context.WithoutCancel(ctx)
		if s.cfg.AdvanceTimeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(actx, s.cfg.AdvanceTimeout)
			defer cancel()
		}
		res, err := s.workflow.Advance(actx, videoID)
		if err != nil {
			s.log.WithContext(actx).Warnf("background advance failed: video_id=%s err=%v", videoID, err)
			return
		}
		s.log.WithContext(actx).Infof("background advance finished: video_id=%s phase=%s steps=%d", videoID, res.ToPhase, res.Steps)
	}()
}

// Wait 阻塞直到所有后台推进结束。
func (s *IngestService) Wait() {
	s.wg.Wait()
}
