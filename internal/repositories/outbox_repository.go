package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	ingestsql "github.com/bionicotaku/lingo-services-ingest/internal/repositories/sqlc"
	"github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OutboxMessage 描述需要写入 outbox_events 的事件数据。
type OutboxMessage struct {
	EventID       uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	Payload       []byte
	Headers       map[string]string
	OccurredAt    time.Time
	AvailableAt   time.Time
}

// OutboxEvent 为待发布的 Outbox 记录。
type OutboxEvent struct {
	EventID          uuid.UUID
	AggregateType    string
	AggregateID      uuid.UUID
	EventType        string
	Payload          []byte
	Headers          map[string]string
	OccurredAt       time.Time
	DeliveryAttempts int32
}

// OutboxRepository 提供写入 Outbox 表的能力，确保与 TxManager Session 协作。
type OutboxRepository struct {
	baseQueries *ingestsql.Queries
	log         *log.Helper
}

// NewOutboxRepository 构造 Repository。
func NewOutboxRepository(db *pgxpool.Pool, logger log.Logger) *OutboxRepository {
	return &OutboxRepository{
		baseQueries: ingestsql.New(db),
		log:         log.NewHelper(logger),
	}
}

func (r *OutboxRepository) queriesFor(sess txmanager.Session) *ingestsql.Queries {
	if sess != nil {
		return r.baseQueries.WithTx(sess.Tx())
	}
	return r.baseQueries
}

// Enqueue 在指定事务内插入 Outbox 事件。
func (r *OutboxRepository) Enqueue(ctx context.Context, sess txmanager.Session, msg OutboxMessage) error {
	now := time.Now().UTC()
	occurredAt := msg.OccurredAt.UTC()
	if occurredAt.IsZero() {
		occurredAt = now
	}
	availableAt := msg.AvailableAt.UTC()
	if availableAt.IsZero() {
		availableAt = now
	}

	headers := msg.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	rawHeaders, err := json.Marshal(headers)
	if err != nil {
		return fmt.Errorf("encode outbox headers: %w", err)
	}

	params := ingestsql.InsertOutboxEventParams{
		EventID:       msg.EventID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       msg.Payload,
		Headers:       rawHeaders,
		OccurredAt:    timestamptzFromTime(occurredAt),
		AvailableAt:   timestamptzFromTime(availableAt),
	}

	if _, err := r.queriesFor(sess).InsertOutboxEvent(ctx, params); err != nil {
		r.log.WithContext(ctx).Errorf("insert outbox event failed: event_id=%s err=%v", msg.EventID, err)
		return fmt.Errorf("insert outbox event: %w", err)
	}

	r.log.WithContext(ctx).Debugf("outbox event enqueued: aggregate=%s id=%s type=%s", msg.AggregateType, msg.AggregateID, msg.EventType)
	return nil
}

// ClaimPending 锁定一批可发布事件（FOR UPDATE SKIP LOCKED），需在事务内调用。
func (r *OutboxRepository) ClaimPending(ctx context.Context, sess txmanager.Session, now time.Time, limit int, maxAttempts int) ([]OutboxEvent, error) {
	if sess == nil {
		return nil, ErrSessionRequired
	}
	rows, err := r.queriesFor(sess).ClaimPendingOutboxEvents(ctx, ingestsql.ClaimPendingOutboxEventsParams{
		Now:         timestamptzFromTime(now),
		MaxAttempts: int32(maxAttempts),
		MaxRows:     int32(limit),
	})
	if err != nil {
		r.log.WithContext(ctx).Errorf("claim outbox events failed: err=%v", err)
		return nil, fmt.Errorf("claim outbox events: %w", err)
	}
	events := make([]OutboxEvent, 0, len(rows))
	for _, row := range rows {
		headers := map[string]string{}
		if len(row.Headers) > 0 {
			if err := json.Unmarshal(row.Headers, &headers); err != nil {
				r.log.WithContext(ctx).Warnf("decode outbox headers failed: event_id=%s err=%v", row.EventID, err)
			}
		}
		events = append(events, OutboxEvent{
			EventID:          row.EventID,
			AggregateType:    row.AggregateType,
			AggregateID:      row.AggregateID,
			EventType:        row.EventType,
			Payload:          row.Payload,
			Headers:          headers,
			OccurredAt:       row.OccurredAt.Time,
			DeliveryAttempts: row.DeliveryAttempts,
		})
	}
	return events, nil
}

// MarkPublished 标记事件已成功发布。
func (r *OutboxRepository) MarkPublished(ctx context.Context, sess txmanager.Session, eventID uuid.UUID, publishedAt time.Time) error {
	err := r.queriesFor(sess).MarkOutboxEventPublished(ctx, ingestsql.MarkOutboxEventPublishedParams{
		EventID:     eventID,
		PublishedAt: timestamptzFromTime(publishedAt),
	})
	if err != nil {
		r.log.WithContext(ctx).Errorf("mark outbox published failed: event_id=%s err=%v", eventID, err)
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

// Reschedule 记录发布失败并推迟下次可用时间。
func (r *OutboxRepository) Reschedule(ctx context.Context, sess txmanager.Session, eventID uuid.UUID, lastErr string, nextAvailable time.Time) error {
	err := r.queriesFor(sess).RescheduleOutboxEvent(ctx, ingestsql.RescheduleOutboxEventParams{
		EventID:     eventID,
		LastError:   textFromString(lastErr),
		AvailableAt: timestamptzFromTime(nextAvailable),
	})
	if err != nil {
		r.log.WithContext(ctx).Errorf("reschedule outbox event failed: event_id=%s err=%v", eventID, err)
		return fmt.Errorf("reschedule outbox event: %w", err)
	}
	return nil
}

// CountPending 返回尚未发布的事件数量。
func (r *OutboxRepository) CountPending(ctx context.Context, sess txmanager.Session) (int64, error) {
	count, err := r.queriesFor(sess).CountPendingOutboxEvents(ctx)
	if err != nil {
		return 0, fmt.Errorf("count pending outbox events: %w", err)
	}
	return count, nil
}
