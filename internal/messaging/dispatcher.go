package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// OutboxDispatcher drains notification_outbox on an interval. Rows are
// claimed with SKIP LOCKED so several replicas can run side by side;
// a claimed row that is never marked sent comes back after its
// processing lease expires.
type OutboxDispatcher struct {
	pool      *pgxpool.Pool
	publisher Publisher
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

type outboxRow struct {
	ID        int64
	EventType string
	Payload   []byte
	Attempts  int
}

const processingLease = 30 * time.Second

func NewOutboxDispatcher(pool *pgxpool.Pool, publisher Publisher, interval time.Duration, batchSize int, logger *slog.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{
		pool:      pool,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
	}
}

func (d *OutboxDispatcher) Start(ctx context.Context) {
	go d.loop(ctx)
}

func (d *OutboxDispatcher) loop(ctx context.Context) {
	d.logger.Info("outbox dispatcher started", "interval", d.interval, "batch_size", d.batchSize)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if err := d.dispatch(ctx); err != nil {
			d.logger.Error("outbox dispatch failed", "error", err)
		}

		select {
		case <-ctx.Done():
			d.logger.Info("outbox dispatcher stopped")
			return
		case <-ticker.C:
		}
	}
}

func (d *OutboxDispatcher) dispatch(ctx context.Context) error {
	rows, err := d.claim(ctx)
	if err != nil {
		return err
	}

	for _, row := range rows {
		if err := d.publishOne(ctx, row); err != nil {
			d.logger.Warn("publish notification failed",
				"outbox_id", row.ID, "event_type", row.EventType, "attempts", row.Attempts+1, "error", err)
		}
	}
	return nil
}

func (d *OutboxDispatcher) claim(ctx context.Context) ([]outboxRow, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, event_type, payload, attempts
		FROM notification_outbox
		WHERE status IN ('pending', 'processing') AND next_retry <= NOW()
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, d.batchSize)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var items []outboxRow
	for rows.Next() {
		var row outboxRow
		if err := rows.Scan(&row.ID, &row.EventType, &row.Payload, &row.Attempts); err != nil {
			return nil, err
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	lease := time.Now().Add(processingLease)
	for _, row := range items {
		if _, err := tx.Exec(ctx, `
			UPDATE notification_outbox
			SET status = 'processing', next_retry = $2, updated_at = NOW()
			WHERE id = $1`, row.ID, lease); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return items, nil
}

func (d *OutboxDispatcher) publishOne(ctx context.Context, row outboxRow) error {
	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := d.publisher.Publish(pubCtx, row.EventType, row.Payload); err != nil {
		return d.scheduleRetry(ctx, row, err)
	}

	_, err := d.pool.Exec(ctx, `
		UPDATE notification_outbox
		SET status = 'sent', updated_at = NOW()
		WHERE id = $1`, row.ID)
	return err
}

func (d *OutboxDispatcher) scheduleRetry(ctx context.Context, row outboxRow, publishErr error) error {
	nextRetry := time.Now().Add(retryDelay(row.Attempts + 1))
	if _, err := d.pool.Exec(ctx, `
		UPDATE notification_outbox
		SET status = 'pending', attempts = attempts + 1, next_retry = $2, updated_at = NOW()
		WHERE id = $1`, row.ID, nextRetry); err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	return publishErr
}

// retryDelay backs off exponentially; the exponent stops growing after
// the fifth attempt.
func retryDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 5 {
		attempts = 5
	}
	return time.Duration(1<<attempts) * time.Second
}
