// Package sweeper reclaims orders whose payment window ran out. It is
// one of two actors racing on a pending order; the payment reconciler
// is the other. Both condition their updates on status = 'pending', so
// whichever transaction commits first wins and the loser touches
// nothing.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/notify"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/stock"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/storage"
)

type Notifier interface {
	Enqueue(ctx context.Context, q storage.Querier, eventType string, payload any) error
}

type StatusPusher interface {
	PushStatus(orderNumber, status, paymentStatus string)
}

type Sweeper struct {
	pool      *pgxpool.Pool
	ledger    *stock.Ledger
	notifier  Notifier
	pusher    StatusPusher
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

func New(pool *pgxpool.Pool, ledger *stock.Ledger, notifier Notifier, pusher StatusPusher, interval time.Duration, batchSize int, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		pool:      pool,
		ledger:    ledger,
		notifier:  notifier,
		pusher:    pusher,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Run sweeps on a fixed interval until the context ends. Sweep errors
// are logged and retried on the next tick, never fatal.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("expiry sweeper started", "interval", s.interval, "batch_size", s.batchSize)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			n, err := s.SweepOnce(ctx)
			if err != nil {
				s.logger.Error("sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info("expired orders reclaimed", "count", n)
			}
		}
	}
}

// SweepOnce expires one batch of overdue pending orders. Rows locked by
// a concurrent webhook are skipped and come back on the next tick.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin sweep: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, order_number, email
		FROM orders
		WHERE status = 'pending' AND payment_expires_at < NOW()
		ORDER BY payment_expires_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("select expired orders: %w", err)
	}

	type expired struct {
		id     uuid.UUID
		number string
		email  string
	}
	var batch []expired
	for rows.Next() {
		var e expired
		if err := rows.Scan(&e.id, &e.number, &e.email); err != nil {
			rows.Close()
			return 0, err
		}
		batch = append(batch, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	var swept []expired
	for _, e := range batch {
		if _, err := s.ledger.Release(ctx, tx, e.id); err != nil {
			return 0, err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE orders
			SET status = 'failed', stock_reserved = FALSE, updated_at = $2
			WHERE id = $1 AND status = 'pending'`, e.id, now)
		if err != nil {
			return 0, fmt.Errorf("expire order %s: %w", e.number, err)
		}
		if tag.RowsAffected() == 0 {
			continue
		}
		if err := s.notifier.Enqueue(ctx, tx, notify.EventOrderExpired, notify.OrderEvent{
			OrderNumber: e.number,
			Email:       e.email,
		}); err != nil {
			return 0, err
		}
		swept = append(swept, e)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit sweep: %w", err)
	}

	for _, e := range swept {
		s.pusher.PushStatus(e.number, "failed", "pending")
	}
	return len(swept), nil
}
