// Package payment reconciles asynchronous provider callbacks against
// orders. Deliveries are at-least-once and unordered; the webhook_events
// inbox makes processing exactly-once, and status-guarded updates make
// it order-insensitive.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/notify"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/stock"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/storage"
)

var (
	// ErrMalformedEvent marks payloads the provider should not retry.
	ErrMalformedEvent = errors.New("malformed webhook event")

	// ErrStorage marks transient persistence failures; the handler
	// answers 5xx so the provider redelivers.
	ErrStorage = errors.New("webhook storage failure")
)

const (
	eventCaptureCompleted = "PAYMENT.CAPTURE.COMPLETED"
	eventCaptureDenied    = "PAYMENT.CAPTURE.DENIED"
)

type envelope struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		CustomID string `json:"custom_id"`
		Amount   struct {
			CurrencyCode string `json:"currency_code"`
			Value        string `json:"value"`
		} `json:"amount"`
		StatusDetails struct {
			Reason string `json:"reason"`
		} `json:"status_details"`
	} `json:"resource"`
}

type Notifier interface {
	Enqueue(ctx context.Context, q storage.Querier, eventType string, payload any) error
}

type StatusPusher interface {
	PushStatus(orderNumber, status, paymentStatus string)
}

type Reconciler struct {
	pool     *pgxpool.Pool
	ledger   *stock.Ledger
	notifier Notifier
	pusher   StatusPusher
	logger   *slog.Logger
}

func NewReconciler(pool *pgxpool.Pool, ledger *stock.Ledger, notifier Notifier, pusher StatusPusher, logger *slog.Logger) *Reconciler {
	return &Reconciler{pool: pool, ledger: ledger, notifier: notifier, pusher: pusher, logger: logger}
}

// HandleEvent applies one verified delivery. Every side effect runs in
// a single transaction keyed on the event id: a replay inserts zero
// inbox rows and ends there. A nil return tells the provider the event
// is settled; only storage failures ask for redelivery.
func (r *Reconciler) HandleEvent(ctx context.Context, provider string, body []byte) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.ID == "" || env.EventType == "" {
		return fmt.Errorf("%w: missing event id or type", ErrMalformedEvent)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrStorage, err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO webhook_events (provider, event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, event_id) DO NOTHING`,
		provider, env.ID, env.EventType, body,
	)
	if err != nil {
		return fmt.Errorf("%w: record event: %v", ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Info("duplicate webhook delivery acknowledged",
			"provider", provider, "event_id", env.ID, "event_type", env.EventType)
		return nil
	}

	var push *statusPush
	switch env.EventType {
	case eventCaptureCompleted:
		push, err = r.applyCompleted(ctx, tx, provider, env)
	case eventCaptureDenied:
		push, err = r.applyDenied(ctx, tx, provider, env)
	default:
		r.logger.Debug("ignoring webhook event type",
			"provider", provider, "event_type", env.EventType)
	}
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrStorage, err)
	}

	if push != nil {
		r.pusher.PushStatus(push.orderNumber, push.status, push.paymentStatus)
	}
	return nil
}

type statusPush struct {
	orderNumber   string
	status        string
	paymentStatus string
}

type orderRow struct {
	id     uuid.UUID
	number string
	email  string
	status string
	total  int64
}

func (r *Reconciler) applyCompleted(ctx context.Context, tx pgx.Tx, provider string, env envelope) (*statusPush, error) {
	o, err := r.lockOrder(ctx, tx, env.Resource.CustomID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		r.logger.Warn("capture completed for unknown order",
			"provider", provider, "event_id", env.ID, "order_number", env.Resource.CustomID)
		return nil, nil
	}

	amount := r.amountCents(env, o)

	// Two distinct event ids can describe the same capture; one
	// completed payment per order is enough.
	var alreadyPaid bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM payments WHERE order_id = $1 AND status = 'completed')`,
		o.id).Scan(&alreadyPaid)
	if err != nil {
		return nil, fmt.Errorf("%w: check existing payment: %v", ErrStorage, err)
	}
	if !alreadyPaid {
		_, err = tx.Exec(ctx, `
			INSERT INTO payments (id, order_id, provider, provider_txn_id, amount_cents, status)
			VALUES ($1, $2, $3, $4, $5, 'completed')`,
			uuid.New(), o.id, provider, env.Resource.ID, amount,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: insert payment: %v", ErrStorage, err)
		}
	}

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = 'paid', payment_status = 'completed', stock_reserved = FALSE, updated_at = $2
		WHERE id = $1 AND status = 'pending'`, o.id, now)
	if err != nil {
		return nil, fmt.Errorf("%w: mark order paid: %v", ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		// The order already left pending: either an earlier completed
		// event won, or the sweeper/cancel got there first and the
		// holds are gone. Keep the payment on record either way.
		r.logger.Warn("capture completed for non-pending order",
			"provider", provider, "order_number", o.number, "order_status", o.status)
		return nil, nil
	}

	if err := r.ledger.Commit(ctx, tx, o.id); err != nil {
		return nil, fmt.Errorf("%w: commit stock: %v", ErrStorage, err)
	}

	if err := r.notifier.Enqueue(ctx, tx, notify.EventOrderPaid, notify.OrderEvent{
		OrderNumber: o.number,
		Email:       o.email,
		AmountCents: amount,
	}); err != nil {
		return nil, fmt.Errorf("%w: enqueue notification: %v", ErrStorage, err)
	}

	r.logger.Info("order paid", "order_number", o.number, "provider", provider, "amount_cents", amount)
	return &statusPush{orderNumber: o.number, status: "paid", paymentStatus: "completed"}, nil
}

func (r *Reconciler) applyDenied(ctx context.Context, tx pgx.Tx, provider string, env envelope) (*statusPush, error) {
	o, err := r.lockOrder(ctx, tx, env.Resource.CustomID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		r.logger.Warn("capture denied for unknown order",
			"provider", provider, "event_id", env.ID, "order_number", env.Resource.CustomID)
		return nil, nil
	}

	reason := env.Resource.StatusDetails.Reason
	_, err = tx.Exec(ctx, `
		INSERT INTO payments (id, order_id, provider, provider_txn_id, amount_cents, status, reason)
		VALUES ($1, $2, $3, $4, $5, 'failed', $6)`,
		uuid.New(), o.id, provider, env.Resource.ID, r.amountCents(env, o), reason,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: insert payment: %v", ErrStorage, err)
	}

	// A denial will not retry on its own, so the holds are released
	// right away instead of waiting for the sweeper. The status guard
	// keeps a denial that trails a completed capture from regressing
	// the order.
	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = 'failed', payment_status = 'failed', stock_reserved = FALSE, updated_at = $2
		WHERE id = $1 AND status = 'pending'`, o.id, now)
	if err != nil {
		return nil, fmt.Errorf("%w: mark order failed: %v", ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Info("capture denied ignored for non-pending order",
			"provider", provider, "order_number", o.number, "order_status", o.status)
		return nil, nil
	}

	if _, err := r.ledger.Release(ctx, tx, o.id); err != nil {
		return nil, fmt.Errorf("%w: release stock: %v", ErrStorage, err)
	}

	if err := r.notifier.Enqueue(ctx, tx, notify.EventOrderPaymentFailed, notify.OrderEvent{
		OrderNumber: o.number,
		Email:       o.email,
		Reason:      reason,
	}); err != nil {
		return nil, fmt.Errorf("%w: enqueue notification: %v", ErrStorage, err)
	}

	r.logger.Info("order payment denied", "order_number", o.number, "provider", provider, "reason", reason)
	return &statusPush{orderNumber: o.number, status: "failed", paymentStatus: "failed"}, nil
}

// lockOrder resolves the provider's custom id to an order and locks the
// row. A nil order means the reference matched nothing; such events are
// acknowledged, not retried.
func (r *Reconciler) lockOrder(ctx context.Context, tx pgx.Tx, orderNumber string) (*orderRow, error) {
	if orderNumber == "" {
		return nil, nil
	}
	var o orderRow
	err := tx.QueryRow(ctx, `
		SELECT id, order_number, email, status, total_cents
		FROM orders
		WHERE order_number = $1
		FOR UPDATE`, orderNumber).
		Scan(&o.id, &o.number, &o.email, &o.status, &o.total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: lock order: %v", ErrStorage, err)
	}
	return &o, nil
}

func (r *Reconciler) amountCents(env envelope, o *orderRow) int64 {
	cents, err := parseCents(env.Resource.Amount.Value)
	if err != nil {
		r.logger.Warn("unparseable webhook amount, recording zero",
			"event_id", env.ID, "value", env.Resource.Amount.Value)
		return 0
	}
	if cents != o.total {
		r.logger.Warn("webhook amount differs from order total",
			"order_number", o.number, "order_total_cents", o.total, "webhook_cents", cents)
	}
	return cents
}

// parseCents converts a provider decimal string like "64.00" to cents
// without going through floats.
func parseCents(value string) (int64, error) {
	if value == "" {
		return 0, fmt.Errorf("empty amount")
	}
	whole, frac, _ := strings.Cut(value, ".")
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || units < 0 {
		return 0, fmt.Errorf("bad amount %q", value)
	}
	switch len(frac) {
	case 0:
		return units * 100, nil
	case 1:
		frac += "0"
	case 2:
	default:
		return 0, fmt.Errorf("bad amount %q", value)
	}
	sub, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || sub < 0 {
		return 0, fmt.Errorf("bad amount %q", value)
	}
	return units*100 + sub, nil
}
