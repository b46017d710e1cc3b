package shipping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/auth"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/notify"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/storage"
)

const (
	QuoteStatusPending   = "pending"
	QuoteStatusQuoted    = "quoted"
	QuoteStatusConfirmed = "confirmed"
	QuoteStatusCancelled = "cancelled"
)

var (
	ErrQuoteNotFound   = errors.New("shipping quote not found")
	ErrQuoteNotPending = errors.New("shipping quote is no longer pending")
	ErrQuoteNotQuoted  = errors.New("shipping quote has no price yet")
	ErrInvalid         = errors.New("invalid quote request")
)

type Quote struct {
	ID          uuid.UUID   `json:"id"`
	OrderID     *uuid.UUID  `json:"order_id,omitempty"`
	SessionID   string      `json:"-"`
	UserID      *uuid.UUID  `json:"-"`
	Email       string      `json:"email"`
	Country     string      `json:"country"`
	State       string      `json:"state,omitempty"`
	City        string      `json:"city,omitempty"`
	PostalCode  string      `json:"postal_code,omitempty"`
	PackageSize PackageSize `json:"package_size"`
	Status      string      `json:"status"`
	QuotedCents *int64      `json:"quoted_cents,omitempty"`
	Note        string      `json:"note,omitempty"`
	RequestedAt time.Time   `json:"requested_at"`
	QuotedAt    *time.Time  `json:"quoted_at,omitempty"`
}

type OpenQuoteRequest struct {
	OrderID     *uuid.UUID
	Email       string
	Country     string
	State       string
	City        string
	PostalCode  string
	PackageSize PackageSize
	Note        string
}

// Notifier queues a notification in the same transaction as the state
// change it describes.
type Notifier interface {
	Enqueue(ctx context.Context, q storage.Querier, eventType string, payload any) error
}

// QuoteService runs the manual-quote side channel: a customer (or the
// checkout itself, when rating falls back) opens a quote, an operator
// prices it, the customer confirms.
type QuoteService struct {
	pool     *pgxpool.Pool
	notifier Notifier
	logger   *slog.Logger
}

func NewQuoteService(pool *pgxpool.Pool, notifier Notifier, logger *slog.Logger) *QuoteService {
	return &QuoteService{pool: pool, notifier: notifier, logger: logger}
}

// Open inserts a pending quote using the caller's querier, so checkout
// can open one inside its own transaction.
func (s *QuoteService) Open(ctx context.Context, q storage.Querier, p auth.Principal, req OpenQuoteRequest) (*Quote, error) {
	quote := &Quote{
		ID:          uuid.New(),
		OrderID:     req.OrderID,
		SessionID:   p.SessionID,
		UserID:      p.UserID,
		Email:       req.Email,
		Country:     req.Country,
		State:       req.State,
		City:        req.City,
		PostalCode:  req.PostalCode,
		PackageSize: req.PackageSize,
		Status:      QuoteStatusPending,
		Note:        req.Note,
		RequestedAt: time.Now().UTC(),
	}
	_, err := q.Exec(ctx, `
		INSERT INTO shipping_quotes
			(id, order_id, session_id, user_id, email, country, state, city, postal_code, package_size, status, note, requested_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)`,
		quote.ID, quote.OrderID, quote.SessionID, quote.UserID, quote.Email, quote.Country, quote.State,
		quote.City, quote.PostalCode, quote.PackageSize, quote.Status, quote.Note, quote.RequestedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert shipping quote: %w", err)
	}

	if err := s.notifier.Enqueue(ctx, q, notify.EventQuoteRequested, notify.QuoteEvent{
		QuoteID: quote.ID,
		Email:   quote.Email,
		Country: quote.Country,
	}); err != nil {
		return nil, err
	}
	return quote, nil
}

// Request opens a standalone quote from the public endpoint.
func (s *QuoteService) Request(ctx context.Context, p auth.Principal, req OpenQuoteRequest) (*Quote, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin quote request: %w", err)
	}
	defer tx.Rollback(ctx)

	quote, err := s.Open(ctx, tx, p, req)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit quote request: %w", err)
	}
	return quote, nil
}

// Submit records the operator's price, moving pending to quoted.
func (s *QuoteService) Submit(ctx context.Context, quoteID uuid.UUID, cents int64, note string) (*Quote, error) {
	if cents < 0 {
		return nil, fmt.Errorf("%w: quoted amount must not be negative", ErrInvalid)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin quote submit: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
		UPDATE shipping_quotes
		SET status = $2, quoted_cents = $3, quoted_at = $4, note = $5, updated_at = $4
		WHERE id = $1 AND status = $6`,
		quoteID, QuoteStatusQuoted, cents, now, note, QuoteStatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("submit quote %s: %w", quoteID, err)
	}
	if tag.RowsAffected() == 0 {
		_, err := s.getAny(ctx, tx, quoteID)
		if err != nil {
			return nil, err
		}
		return nil, ErrQuoteNotPending
	}

	quote, err := s.getAny(ctx, tx, quoteID)
	if err != nil {
		return nil, err
	}
	if err := s.notifier.Enqueue(ctx, tx, notify.EventQuoteQuoted, notify.QuoteEvent{
		QuoteID:     quote.ID,
		Email:       quote.Email,
		QuotedCents: cents,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit quote submit: %w", err)
	}
	return quote, nil
}

// Confirm is the customer accepting the quoted price. When the quote
// is attached to an order that is still pending, the order's shipping
// and total are repaired in the same transaction; an order that has
// already left pending keeps its totals.
func (s *QuoteService) Confirm(ctx context.Context, p auth.Principal, quoteID uuid.UUID) (*Quote, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin quote confirm: %w", err)
	}
	defer tx.Rollback(ctx)

	quote, err := s.getOwned(ctx, tx, p, quoteID, true)
	if err != nil {
		return nil, err
	}
	if quote.Status != QuoteStatusQuoted {
		return nil, ErrQuoteNotQuoted
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE shipping_quotes SET status = $2, updated_at = $3 WHERE id = $1`,
		quoteID, QuoteStatusConfirmed, now,
	); err != nil {
		return nil, fmt.Errorf("confirm quote %s: %w", quoteID, err)
	}
	quote.Status = QuoteStatusConfirmed

	if quote.OrderID != nil && quote.QuotedCents != nil {
		tag, err := tx.Exec(ctx, `
			UPDATE orders
			SET shipping_cents = $2, total_cents = subtotal_cents + $2, updated_at = $3
			WHERE id = $1 AND status = 'pending'`,
			*quote.OrderID, *quote.QuotedCents, now,
		)
		if err != nil {
			return nil, fmt.Errorf("apply quote to order %s: %w", *quote.OrderID, err)
		}
		if tag.RowsAffected() == 0 {
			s.logger.Warn("quote confirmed after order left pending",
				"quote_id", quoteID, "order_id", *quote.OrderID)
		}
	}

	if err := s.notifier.Enqueue(ctx, tx, notify.EventQuoteConfirmed, notify.QuoteEvent{
		QuoteID: quote.ID,
		Email:   quote.Email,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit quote confirm: %w", err)
	}
	return quote, nil
}

// Cancel withdraws a pending or quoted quote.
func (s *QuoteService) Cancel(ctx context.Context, p auth.Principal, quoteID uuid.UUID) error {
	query := `
		UPDATE shipping_quotes
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ($3, $4)` + ownerPredicate(p, 5)
	tag, err := s.pool.Exec(ctx, query,
		quoteID, QuoteStatusCancelled, QuoteStatusPending, QuoteStatusQuoted, ownerArg(p),
	)
	if err != nil {
		return fmt.Errorf("cancel quote %s: %w", quoteID, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.getOwned(ctx, s.pool, p, quoteID, false); err != nil {
			return err
		}
		return ErrQuoteNotPending
	}
	return nil
}

// Get returns the quote scoped to its requester.
func (s *QuoteService) Get(ctx context.Context, p auth.Principal, quoteID uuid.UUID) (*Quote, error) {
	return s.getOwned(ctx, s.pool, p, quoteID, false)
}

// GetAny is the operator view, unscoped.
func (s *QuoteService) GetAny(ctx context.Context, quoteID uuid.UUID) (*Quote, error) {
	return s.getAny(ctx, s.pool, quoteID)
}

// ListOpen returns quotes awaiting an operator price, oldest first.
func (s *QuoteService) ListOpen(ctx context.Context) ([]Quote, error) {
	rows, err := s.pool.Query(ctx, quoteColumns+`
		FROM shipping_quotes
		WHERE status = $1
		ORDER BY requested_at`, QuoteStatusPending)
	if err != nil {
		return nil, fmt.Errorf("list open quotes: %w", err)
	}
	defer rows.Close()

	var quotes []Quote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, *q)
	}
	return quotes, rows.Err()
}

const quoteColumns = `
	SELECT id, order_id, session_id, user_id, email, country, state, city, postal_code,
	       package_size, status, quoted_cents, note, requested_at, quoted_at`

// ownerPredicate scopes a quote query to its requester the same way
// orders are scoped: by user id when authenticated, otherwise by
// session id on guest-owned rows.
func ownerPredicate(p auth.Principal, arg int) string {
	if p.Authenticated() {
		return fmt.Sprintf(` AND user_id = $%d`, arg)
	}
	return fmt.Sprintf(` AND user_id IS NULL AND session_id = $%d`, arg)
}

func ownerArg(p auth.Principal) any {
	if p.Authenticated() {
		return p.UserID
	}
	return p.SessionID
}

func (s *QuoteService) getAny(ctx context.Context, q storage.Querier, quoteID uuid.UUID) (*Quote, error) {
	row := q.QueryRow(ctx, quoteColumns+` FROM shipping_quotes WHERE id = $1`, quoteID)
	return scanQuote(row)
}

func (s *QuoteService) getOwned(ctx context.Context, q storage.Querier, p auth.Principal, quoteID uuid.UUID, forUpdate bool) (*Quote, error) {
	query := quoteColumns + ` FROM shipping_quotes WHERE id = $1` + ownerPredicate(p, 2)
	if forUpdate {
		query += ` FOR UPDATE`
	}
	row := q.QueryRow(ctx, query, quoteID, ownerArg(p))
	return scanQuote(row)
}

func scanQuote(row pgx.Row) (*Quote, error) {
	var q Quote
	err := row.Scan(&q.ID, &q.OrderID, &q.SessionID, &q.UserID, &q.Email, &q.Country, &q.State,
		&q.City, &q.PostalCode, &q.PackageSize, &q.Status, &q.QuotedCents, &q.Note,
		&q.RequestedAt, &q.QuotedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQuoteNotFound
		}
		return nil, fmt.Errorf("scan shipping quote: %w", err)
	}
	return &q, nil
}
