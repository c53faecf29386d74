// Package recovery 在进程启动时恢复因中断而停留在非终态的上传记录。
package recovery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/metrics"
	"github.com/bionicotaku/lingo-services-ingest/internal/models/po"
	"github.com/bionicotaku/lingo-services-ingest/internal/models/vo"
	"github.com/bionicotaku/lingo-services-ingest/internal/ranges"
	"github.com/bionicotaku/lingo-services-ingest/internal/services"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

const (
	defaultWorkers  = 4
	defaultPageSize = 500
)

// 单条记录的处理结果。
const (
	outcomeSkipped     = "skipped"
	outcomeRegenerated = "regenerated"
	outcomeCompleted   = "completed"
	outcomeFailed      = "failed"
	outcomeAdvanced    = "advanced"
	outcomeError       = "error"
)

// Config 控制恢复扫描。
type Config struct {
	Workers  int
	PageSize int
	// RecordTimeout 为单条记录的处理上限，0 表示不限制。
	RecordTimeout time.Duration
}

type workflow interface {
	Advance(ctx context.Context, videoID uuid.UUID) (*vo.AdvanceResult, error)
	MarkFailed(ctx context.Context, videoID uuid.UUID, cause error) (*vo.AdvanceResult, error)
	Rewind(ctx context.Context, videoID uuid.UUID) (*po.Video, error)
}

// Scanner 扫描非终态记录并逐条驱动到可达的最远阶段。
type Scanner struct {
	store    services.VideoStore
	workflow workflow
	cfg      Config
	log      *log.Helper
}

// NewScanner 构造恢复扫描器。
func NewScanner(store services.VideoStore, wf *services.Workflow, cfg Config, logger log.Logger) *Scanner {
	return newScanner(store, wf, cfg, logger)
}

func newScanner(store services.VideoStore, wf workflow, cfg Config, logger log.Logger) *Scanner {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	return &Scanner{
		store:    store,
		workflow: wf,
		cfg:      cfg,
		log:      log.NewHelper(logger),
	}
}

// ResumeAllStuck 处理所有处于 receiving / converting / hashing / uploading_s3（含旧版 uploading）的记录。
// 候选记录按 (updated_at, video_id) 键集分页读取，直到返回不满一页为止。
// 单条记录的错误只记录与计数，不会中止扫描；列出记录失败时返回已处理部分的报告与错误。
func (s *Scanner) ResumeAllStuck(ctx context.Context) (*vo.RecoveryReport, error) {
	start := time.Now()
	s.log.WithContext(ctx).Infof("recovery scan started: page_size=%d workers=%d", s.cfg.PageSize, s.cfg.Workers)

	report := &vo.RecoveryReport{}
	var mu sync.Mutex
	jobs := make(chan *po.Video)
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for video := range jobs {
				outcome := s.resume(ctx, video)
				metrics.RecoveryRecordsTotal.WithLabelValues(outcome).Inc()
				mu.Lock()
				tally(report, outcome)
				mu.Unlock()
			}
		}()
	}

	scanned, listErr := s.feed(ctx, jobs)
	close(jobs)
	wg.Wait()

	report.Scanned = scanned
	report.Duration = time.Since(start)
	metrics.RecoveryLastRunTimestamp.SetToCurrentTime()
	s.log.WithContext(ctx).Infof("recovery scan finished: scanned=%d skipped=%d regenerated=%d completed=%d failed=%d errors=%d duration=%s",
		report.Scanned, report.Skipped, report.Regenerated, report.Completed, report.Failed, report.Errors, report.Duration)
	if listErr != nil {
		return report, listErr
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// feed 逐页读取候选记录并投递给 worker，返回已投递数量。
// 扫描期间被推进但仍未终结的记录会以新的 updated_at 再次出现在后续页中，按 video_id 去重。
func (s *Scanner) feed(ctx context.Context, jobs chan<- *po.Video) (int, error) {
	seen := make(map[uuid.UUID]struct{})
	query := po.PhaseQuery{Phases: po.ResumablePhases, Limit: s.cfg.PageSize}
	for {
		page, err := s.store.ListByPhases(ctx, nil, query)
		if err != nil {
			return len(seen), fmt.Errorf("recovery: list resumable videos: %w", err)
		}
		if len(page) > 0 {
			cursor := page[len(page)-1].Cursor()
			query.After = &cursor
		}
		for _, video := range page {
			if _, dup := seen[video.VideoID]; dup {
				continue
			}
			select {
			case <-ctx.Done():
				return len(seen), nil
			case jobs <- video:
				seen[video.VideoID] = struct{}{}
			}
		}
		if len(page) < s.cfg.PageSize {
			return len(seen), nil
		}
	}
}

func tally(report *vo.RecoveryReport, outcome string) {
	switch outcome {
	case outcomeSkipped:
		report.Skipped++
	case outcomeRegenerated:
		report.Regenerated++
		report.Completed++
	case outcomeCompleted:
		report.Completed++
	case outcomeFailed:
		report.Failed++
	case outcomeError:
		report.Errors++
	}
}

func (s *Scanner) resume(ctx context.Context, video *po.Video) string {
	if s.cfg.RecordTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RecordTimeout)
		defer cancel()
	}
	helper := s.log.WithContext(ctx)

	if ranges.ContiguousOffset(video.UploadedRanges) < video.TotalSize {
		// 等待客户端续传
		return outcomeSkipped
	}

	regenerated := false
	if needsArtifacts(video) {
		working, err := exists(video.WorkingPath())
		if err != nil {
			helper.Errorf("recovery: stat working file failed: video_id=%s err=%v", video.VideoID, err)
			return outcomeError
		}
		if !working {
			raw, err := exists(video.TmpPath)
			if err != nil {
				helper.Errorf("recovery: stat raw file failed: video_id=%s err=%v", video.VideoID, err)
				return outcomeError
			}
			switch {
			case raw && canRewind(video):
				if _, err := s.workflow.Rewind(ctx, video.VideoID); err != nil {
					helper.Warnf("recovery: rewind failed: video_id=%s err=%v", video.VideoID, err)
					return outcomeError
				}
				helper.Infof("recovery: regenerating intermediate file: video_id=%s phase=%s", video.VideoID, video.Phase)
				regenerated = true
			default:
				cause := fmt.Errorf("%w: no usable staging file for phase %s", services.ErrStagingFileMissing, video.Phase)
				if _, err := s.workflow.MarkFailed(ctx, video.VideoID, cause); err != nil {
					helper.Warnf("recovery: mark failed: video_id=%s err=%v", video.VideoID, err)
					return outcomeError
				}
				return outcomeFailed
			}
		}
	}

	res, err := s.workflow.Advance(ctx, video.VideoID)
	if err != nil {
		helper.Warnf("recovery: advance failed: video_id=%s phase=%s err=%v", video.VideoID, video.Phase, err)
		return outcomeError
	}
	switch {
	case res.Failed():
		return outcomeFailed
	case res.ToPhase == po.PhaseCompleted && regenerated:
		return outcomeRegenerated
	case res.ToPhase == po.PhaseCompleted:
		return outcomeCompleted
	default:
		return outcomeAdvanced
	}
}

// needsArtifacts 判断记录的下一步是否依赖本地文件。已写入 storage_key 的记录只剩清理与完成。
func needsArtifacts(video *po.Video) bool {
	return video.StorageKey == nil
}

// canRewind 判断能否从原始文件重新生成中间产物。
func canRewind(video *po.Video) bool {
	switch video.Phase.Logical() {
	case po.PhaseHashing, po.PhaseUploadingS3:
		return video.ConvertedTmpPath != nil && *video.ConvertedTmpPath != video.TmpPath
	default:
		return false
	}
}

func exists(path string) (bool, error) {
	if path == "" {
		return false, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}
