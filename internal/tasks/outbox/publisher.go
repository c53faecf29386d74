// Package outbox 将 ingest.outbox_events 中的领域事件投递到 Pub/Sub。
package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bionicotaku/lingo-services-ingest/internal/repositories"

	"github.com/bionicotaku/lingo-utils/gcpubsub"
	"github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	defaultBatchSize      = 50
	defaultTickInterval   = time.Second
	defaultInitialBackoff = 2 * time.Second
	defaultMaxBackoff     = 2 * time.Minute
	defaultMaxAttempts    = 20
	defaultPublishTimeout = 10 * time.Second
	defaultWorkers        = 4

	maxLastErrorSize = 512
)

// Config 控制发布循环。
type Config struct {
	BatchSize      int
	TickInterval   time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int
	PublishTimeout time.Duration
	Workers        int
}

func sanitizeConfig(cfg Config) Config {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	return cfg
}

type outboxStore interface {
	ClaimPending(ctx context.Context, sess txmanager.Session, now time.Time, limit int, maxAttempts int) ([]repositories.OutboxEvent, error)
	MarkPublished(ctx context.Context, sess txmanager.Session, eventID uuid.UUID, publishedAt time.Time) error
	Reschedule(ctx context.Context, sess txmanager.Session, eventID uuid.UUID, lastErr string, nextAvailable time.Time) error
	CountPending(ctx context.Context, sess txmanager.Session) (int64, error)
}

// PublisherTask 周期性地认领待发布事件并推送到 Pub/Sub。
//
// 事件在事务内以 FOR UPDATE SKIP LOCKED 认领，多个实例可并行运行；
// 发布失败的事件按指数退避重新调度，超过 MaxAttempts 后不再认领。
type PublisherTask struct {
	store     outboxStore
	publisher gcpubsub.Publisher
	txm       txmanager.Manager
	cfg       Config
	log       *log.Helper
	clock     func() time.Time

	successCounter metric.Int64Counter
	failureCounter metric.Int64Counter
	backlogGauge   metric.Int64Gauge
	latency        metric.Float64Histogram
}

// NewPublisherTask 构造 Outbox 发布任务。meter 为 nil 时不记录指标。
func NewPublisherTask(store outboxStore, pub gcpubsub.Publisher, txm txmanager.Manager, cfg Config, logger log.Logger, meter metric.Meter) *PublisherTask {
	task := &PublisherTask{
		store:     store,
		publisher: pub,
		txm:       txm,
		cfg:       sanitizeConfig(cfg),
		log:       log.NewHelper(logger),
		clock:     time.Now,
	}
	if meter != nil {
		task.initMetrics(meter)
	}
	return task
}

func (t *PublisherTask) initMetrics(meter metric.Meter) {
	var err error
	if t.successCounter, err = meter.Int64Counter("outbox_publish_success_total",
		metric.WithDescription("Number of outbox events published")); err != nil {
		t.log.Warnf("init outbox success counter failed: %v", err)
	}
	if t.failureCounter, err = meter.Int64Counter("outbox_publish_failure_total",
		metric.WithDescription("Number of failed outbox publish attempts")); err != nil {
		t.log.Warnf("init outbox failure counter failed: %v", err)
	}
	if t.backlogGauge, err = meter.Int64Gauge("outbox_backlog",
		metric.WithDescription("Number of unpublished outbox events")); err != nil {
		t.log.Warnf("init outbox backlog gauge failed: %v", err)
	}
	if t.latency, err = meter.Float64Histogram("outbox_publish_latency_seconds",
		metric.WithDescription("Latency of a single publish call"), metric.WithUnit("s")); err != nil {
		t.log.Warnf("init outbox latency histogram failed: %v", err)
	}
}

// Run 启动发布循环，直到 ctx 取消。
func (t *PublisherTask) Run(ctx context.Context) error {
	if t == nil || t.store == nil || t.publisher == nil {
		return nil
	}
	t.log.WithContext(ctx).Infof("outbox publisher started: batch=%d interval=%s workers=%d", t.cfg.BatchSize, t.cfg.TickInterval, t.cfg.Workers)
	ticker := time.NewTicker(t.cfg.TickInterval)
	defer ticker.Stop()

	for {
		if _, err := t.Tick(ctx); err != nil && ctx.Err() == nil {
			t.log.WithContext(ctx).Warnf("outbox tick failed: %v", err)
		}
		select {
		case <-ctx.Done():
			t.log.WithContext(ctx).Info("outbox publisher stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type publishResult struct {
	event repositories.OutboxEvent
	err   error
}

// Tick 认领并发布一批事件，返回成功发布的数量。
func (t *PublisherTask) Tick(ctx context.Context) (int, error) {
	published := 0
	err := t.txm.WithinTx(ctx, txmanager.TxOptions{}, func(txCtx context.Context, sess txmanager.Session) error {
		now := t.clock().UTC()
		events, err := t.store.ClaimPending(txCtx, sess, now, t.cfg.BatchSize, t.cfg.MaxAttempts)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}

		// pgx.Tx 不可并发使用：并发发布，顺序回写。
		results := t.publishAll(txCtx, events)
		for _, res := range results {
			if res.err == nil {
				if err := t.store.MarkPublished(txCtx, sess, res.event.EventID, t.clock().UTC()); err != nil {
					return err
				}
				published++
				continue
			}
			next := t.clock().UTC().Add(t.backoffDuration(int(res.event.DeliveryAttempts)))
			t.log.WithContext(txCtx).Warnf("publish outbox event failed: event_id=%s type=%s attempts=%d next=%s err=%v",
				res.event.EventID, res.event.EventType, res.event.DeliveryAttempts+1, next.Format(time.RFC3339), res.err)
			if err := t.store.Reschedule(txCtx, sess, res.event.EventID, truncate(res.err.Error(), maxLastErrorSize), next); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return published, fmt.Errorf("outbox tick: %w", err)
	}
	t.recordBacklog(ctx)
	return published, nil
}

func (t *PublisherTask) publishAll(ctx context.Context, events []repositories.OutboxEvent) []publishResult {
	results := make([]publishResult, len(events))
	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := t.cfg.Workers
	if workers > len(events) {
		workers = len(events)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = publishResult{event: events[i], err: t.publishOne(ctx, events[i])}
			}
		}()
	}
	for i := range events {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return results
}

func (t *PublisherTask) publishOne(ctx context.Context, evt repositories.OutboxEvent) error {
	pubCtx, cancel := context.WithTimeout(ctx, t.cfg.PublishTimeout)
	defer cancel()

	attrs := make(map[string]string, len(evt.Headers)+3)
	for k, v := range evt.Headers {
		attrs[k] = v
	}
	attrs["event_id"] = evt.EventID.String()
	attrs["event_type"] = evt.EventType
	attrs["aggregate_id"] = evt.AggregateID.String()

	start := t.clock()
	_, err := t.publisher.Publish(pubCtx, gcpubsub.Message{
		Data:       evt.Payload,
		Attributes: attrs,
	})
	metricAttrs := metric.WithAttributes(attribute.String("event_type", evt.EventType))
	if t.latency != nil {
		t.latency.Record(ctx, t.clock().Sub(start).Seconds(), metricAttrs)
	}
	if err != nil {
		if t.failureCounter != nil {
			t.failureCounter.Add(ctx, 1, metricAttrs)
		}
		return err
	}
	if t.successCounter != nil {
		t.successCounter.Add(ctx, 1, metricAttrs)
	}
	return nil
}

func (t *PublisherTask) recordBacklog(ctx context.Context) {
	if t.backlogGauge == nil {
		return
	}
	count, err := t.store.CountPending(ctx, nil)
	if err != nil {
		t.log.WithContext(ctx).Warnf("count outbox backlog failed: %v", err)
		return
	}
	t.backlogGauge.Record(ctx, count)
}

// backoffDuration 返回第 attempt 次失败后的等待时间：InitialBackoff * 2^attempt，上限 MaxBackoff。
func (t *PublisherTask) backoffDuration(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := t.cfg.InitialBackoff
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= t.cfg.MaxBackoff {
			return t.cfg.MaxBackoff
		}
	}
	return d
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
