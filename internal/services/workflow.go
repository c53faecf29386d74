package services

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/metrics"
	outboxevents "github.com/bionicotaku/lingo-services-ingest/internal/models/outbox_events"
	"github.com/bionicotaku/lingo-services-ingest/internal/models/po"
	"github.com/bionicotaku/lingo-services-ingest/internal/models/vo"
	"github.com/bionicotaku/lingo-services-ingest/internal/repositories"

	"github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const (
	defaultMaxSteps     = 16
	defaultRunTimeout   = 2 * time.Hour
	maxErrorMessageSize = 1024
)

// WorkflowConfig 控制阶段驱动器。
type WorkflowConfig struct {
	// MaxSteps 为单次 Advance 最多持久化的迁移次数。
	MaxSteps int
	// RunTimeout 为一次合并执行的上限。执行不随单个调用方取消。
	RunTimeout time.Duration
}

// Workflow 驱动上传记录在阶段之间推进。
//
// 每一步先在锁外执行阶段处理器，再在行锁内校验阶段未变并持久化迁移，
// 因此耗时的文件 I/O 与上传不会长时间持有数据库锁。同一进程内对同一记录的
// 并发调用会被合并。
type Workflow struct {
	store    VideoStore
	outbox   OutboxWriter
	txm      txmanager.Manager
	table    PhaseTable
	log      *log.Helper
	tracer   trace.Tracer
	group      singleflight.Group
	maxSteps   int
	runTimeout time.Duration
	now        func() time.Time
}

// NewWorkflow 构造阶段驱动器。outbox 为 nil 时不写入领域事件。
func NewWorkflow(store VideoStore, outbox OutboxWriter, txm txmanager.Manager, table PhaseTable, cfg WorkflowConfig, logger log.Logger) *Workflow {
	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}
	runTimeout := cfg.RunTimeout
	if runTimeout <= 0 {
		runTimeout = defaultRunTimeout
	}
	return &Workflow{
		store:      store,
		outbox:     outbox,
		txm:        txm,
		table:      table,
		log:        log.NewHelper(logger),
		tracer:     otel.Tracer("lingo-services-ingest/workflow"),
		maxSteps:   maxSteps,
		runTimeout: runTimeout,
		now:        time.Now,
	}
}

// Advance 将记录推进到无法继续为止（终态，或等待更多分片）。
// 阶段处理失败会使记录进入 failed，并以终态结果返回而非错误。
//
// 合并后的执行运行在脱离调用方取消信号的 context 上，受 RunTimeout 约束；
// 每个调用方只在自己的 ctx 结束时提前返回，不影响其他等待者。
func (w *Workflow) Advance(ctx context.Context, videoID uuid.UUID) (*vo.AdvanceResult, error) {
	ch := w.group.DoChan(videoID.String(), func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.runTimeout)
		defer cancel()
		return w.advance(runCtx, videoID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		res, _ := r.Val.(*vo.AdvanceResult)
		if res != nil {
			clone := *res
			res = &clone
		}
		return res, r.Err
	}
}

func (w *Workflow) advance(ctx context.Context, videoID uuid.UUID) (*vo.AdvanceResult, error) {
	metrics.AdvancesInProgress.Inc()
	defer metrics.AdvancesInProgress.Dec()

	video, err := w.store.Get(ctx, nil, videoID)
	if err != nil {
		return nil, mapRepoError(err, "load video")
	}
	result := &vo.AdvanceResult{
		VideoID:   videoID,
		FromPhase: video.Phase.Logical(),
		ToPhase:   video.Phase.Logical(),
	}

	for result.Steps < w.maxSteps {
		phase := video.Phase.Logical()
		handler, ok := w.table[phase]
		if !ok {
			return result, errors.InternalServer(ReasonWorkflowFailed, "no handler for phase").
				WithCause(fmt.Errorf("phase %q", video.Phase))
		}

		step, herr := w.runHandler(ctx, phase, handler, video)
		if herr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				// 中断后记录保持在可恢复阶段
				return result, ctxErr
			}
			failed, err := w.fail(ctx, video, herr)
			if err != nil {
				return result, mapRepoError(err, "mark failed")
			}
			result.ToPhase = failed.Phase
			result.Terminal = true
			result.FailureCause = herr.Error()
			return result, nil
		}

		switch step.Outcome {
		case StepNoop:
			return result, nil
		case StepTerminal:
			result.Terminal = true
			return result, nil
		}

		next, err := w.commit(ctx, video, step)
		if err != nil {
			return result, mapRepoError(err, "apply transition")
		}
		result.Steps++
		result.ToPhase = next.Phase.Logical()
		video = next
	}

	w.log.WithContext(ctx).Warnf("advance stopped at step limit: video_id=%s phase=%s steps=%d", videoID, video.Phase, result.Steps)
	return result, nil
}

func (w *Workflow) runHandler(ctx context.Context, phase po.Phase, handler PhaseHandler, video *po.Video) (Step, error) {
	ctx, span := w.tracer.Start(ctx, "workflow."+string(phase), trace.WithAttributes(
		attribute.String("video.id", video.VideoID.String()),
		attribute.String("video.phase", string(video.Phase)),
	))
	defer span.End()

	start := time.Now()
	step, err := handler.Handle(ctx, video)
	metrics.PhaseDuration.WithLabelValues(string(phase)).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Step{}, err
	}
	span.SetAttributes(attribute.String("step.outcome", step.Outcome.String()))
	return step, nil
}

// commit 在行锁内校验阶段未被其他执行者推进，然后持久化迁移。
func (w *Workflow) commit(ctx context.Context, video *po.Video, step Step) (*po.Video, error) {
	var updated *po.Video
	err := w.txm.WithinTx(ctx, txmanager.TxOptions{}, func(txCtx context.Context, sess txmanager.Session) error {
		current, err := w.store.GetForUpdate(txCtx, sess, video.VideoID)
		if err != nil {
			return err
		}
		if current.Phase != video.Phase {
			return fmt.Errorf("phase moved from %s to %s: %w", video.Phase, current.Phase, repositories.ErrVideoConflict)
		}
		updated, err = w.store.ApplyTransition(txCtx, sess, video.VideoID, current.Phase, step.Next, step.Patch)
		if err != nil {
			return err
		}
		if step.Next.IsTerminal() && step.Next != current.Phase {
			return w.enqueueTerminalEvent(txCtx, sess, updated)
		}
		return nil
	})
	if err != nil {
		if step.Discard != nil {
			step.Discard(ctx)
		}
		return nil, err
	}

	metrics.PhaseTransitionsTotal.WithLabelValues(string(video.Phase.Logical()), string(updated.Phase)).Inc()
	w.log.WithContext(ctx).Infof("phase transition: video_id=%s from=%s to=%s", video.VideoID, video.Phase, updated.Phase)
	if step.AfterCommit != nil {
		step.AfterCommit(ctx)
	}
	return updated, nil
}

func (w *Workflow) enqueueTerminalEvent(ctx context.Context, sess txmanager.Session, video *po.Video) error {
	if w.outbox == nil {
		return nil
	}
	var (
		evt *outboxevents.DomainEvent
		err error
	)
	eventID := uuid.New()
	now := w.now().UTC()
	switch video.Phase {
	case po.PhaseCompleted:
		evt, err = outboxevents.NewVideoIngestCompletedEvent(video, eventID, now)
	case po.PhaseFailed:
		evt, err = outboxevents.NewVideoIngestFailedEvent(video, eventID, now)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("build event: %w", err)
	}
	payload, err := outboxevents.Marshal(evt)
	if err != nil {
		return err
	}
	msg := repositories.OutboxMessage{
		EventID:       evt.EventID,
		AggregateType: evt.AggregateType,
		AggregateID:   evt.AggregateID,
		EventType:     evt.Kind.String(),
		Payload:       payload,
		Headers:       outboxevents.BuildAttributes(evt, outboxevents.SchemaVersionV1, outboxevents.TraceIDFromContext(ctx)),
		OccurredAt:    evt.OccurredAt,
		AvailableAt:   now,
	}
	if err := w.outbox.Enqueue(ctx, sess, msg); err != nil {
		return fmt.Errorf("enqueue %s: %w", msg.EventType, err)
	}
	return nil
}

// fail 将记录强制迁移到 failed，记录失败阶段与原因，并在提交后清理暂存文件。
func (w *Workflow) fail(ctx context.Context, video *po.Video, cause error) (*po.Video, error) {
	phase := video.Phase.Logical()
	code := ErrorCodePhaseFailed
	if IsDataLoss(cause) {
		code = ErrorCodeDataLoss
		w.log.WithContext(ctx).Errorf("staging data lost: video_id=%s phase=%s err=%v", video.VideoID, phase, cause)
	} else {
		w.log.WithContext(ctx).Warnf("phase failed: video_id=%s phase=%s err=%v", video.VideoID, phase, cause)
	}
	message := truncateMessage(cause.Error(), maxErrorMessageSize)
	paths := video.StagingPaths()

	updated, err := w.commit(ctx, video, Step{
		Outcome: StepAdvance,
		Next:    po.PhaseFailed,
		Patch: po.VideoPatch{
			FailedPhase:  &phase,
			ErrorCode:    &code,
			ErrorMessage: &message,
		},
		AfterCommit: func(ctx context.Context) {
			if err := removeFiles(paths...); err != nil {
				w.log.WithContext(ctx).Warnf("remove staging files failed: video_id=%s err=%v", video.VideoID, err)
			}
		},
	})
	if err != nil {
		return nil, err
	}
	metrics.PhaseFailuresTotal.WithLabelValues(string(phase), code).Inc()
	return updated, nil
}

// MarkFailed 将非终态记录强制置为 failed。已处于终态时直接返回当前状态。
func (w *Workflow) MarkFailed(ctx context.Context, videoID uuid.UUID, cause error) (*vo.AdvanceResult, error) {
	if cause == nil {
		cause = stderrors.New("marked failed")
	}
	video, err := w.store.Get(ctx, nil, videoID)
	if err != nil {
		return nil, mapRepoError(err, "load video")
	}
	result := &vo.AdvanceResult{
		VideoID:   videoID,
		FromPhase: video.Phase.Logical(),
		ToPhase:   video.Phase.Logical(),
		Terminal:  video.Phase.IsTerminal(),
	}
	if result.Terminal {
		return result, nil
	}
	failed, err := w.fail(ctx, video, cause)
	if err != nil {
		return result, mapRepoError(err, "mark failed")
	}
	result.Steps = 1
	result.ToPhase = failed.Phase
	result.Terminal = true
	result.FailureCause = cause.Error()
	return result, nil
}

// Rewind 丢弃规范化文件与摘要，将记录退回 converting 以从原始暂存文件重新生成。
// 仅适用于尚未写入 storage_key 的 hashing / uploading_s3 记录。
func (w *Workflow) Rewind(ctx context.Context, videoID uuid.UUID) (*po.Video, error) {
	var rewound *po.Video
	err := w.txm.WithinTx(ctx, txmanager.TxOptions{}, func(txCtx context.Context, sess txmanager.Session) error {
		current, err := w.store.GetForUpdate(txCtx, sess, videoID)
		if err != nil {
			return err
		}
		switch current.Phase.Logical() {
		case po.PhaseHashing, po.PhaseUploadingS3:
		default:
			return fmt.Errorf("rewind from %s: %w", current.Phase, repositories.ErrVideoConflict)
		}
		if current.StorageKey != nil {
			return fmt.Errorf("rewind stored video: %w", repositories.ErrVideoConflict)
		}
		rewound, err = w.store.RewindToConverting(txCtx, sess, videoID, current.Phase)
		return err
	})
	if err != nil {
		return nil, mapRepoError(err, "rewind video")
	}
	metrics.PhaseTransitionsTotal.WithLabelValues("rewind", string(po.PhaseConverting)).Inc()
	w.log.WithContext(ctx).Infof("video rewound to converting: video_id=%s", videoID)
	return rewound, nil
}

func truncateMessage(msg string, limit int) string {
	if len(msg) <= limit {
		return msg
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
