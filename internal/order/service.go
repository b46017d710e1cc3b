// Package order turns carts into orders and walks them through their
// lifecycle. An order is created, its stock reserved and its prices
// snapshotted inside one transaction; from there the payment
// reconciler, the expiry sweeper or an explicit cancel decide how it
// ends.
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/auth"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/cart"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/catalog"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/notify"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/shipping"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/stock"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/storage"
)

type ShippingSelection struct {
	Method     string `json:"method"`
	Country    string `json:"country"`
	State      string `json:"state"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
}

type CheckoutRequest struct {
	CartID   uuid.UUID         `json:"cart_id"`
	Email    string            `json:"email"`
	Shipping ShippingSelection `json:"shipping"`
}

// Notifier queues a customer/operator notification in the caller's
// transaction.
type Notifier interface {
	Enqueue(ctx context.Context, q storage.Querier, eventType string, payload any) error
}

// StatusPusher fans an order status change out to connected clients.
// Best effort; a lost push is repaired by the next GET.
type StatusPusher interface {
	PushStatus(orderNumber, status, paymentStatus string)
}

type Deps struct {
	Pool     *pgxpool.Pool
	Carts    *cart.Service
	Catalog  *catalog.Repo
	Ledger   *stock.Ledger
	Engine   *shipping.Engine
	Quotes   *shipping.QuoteService
	Notifier Notifier
	Pusher   StatusPusher
	TTL      time.Duration
	Logger   *slog.Logger
}

type Service struct {
	pool     *pgxpool.Pool
	carts    *cart.Service
	catalog  *catalog.Repo
	ledger   *stock.Ledger
	engine   *shipping.Engine
	quotes   *shipping.QuoteService
	notifier Notifier
	pusher   StatusPusher
	ttl      time.Duration
	logger   *slog.Logger
}

func NewService(d Deps) *Service {
	return &Service{
		pool:     d.Pool,
		carts:    d.Carts,
		catalog:  d.Catalog,
		ledger:   d.Ledger,
		engine:   d.Engine,
		quotes:   d.Quotes,
		notifier: d.Notifier,
		pusher:   d.Pusher,
		ttl:      d.TTL,
		logger:   d.Logger,
	}
}

// Checkout converts the cart into a pending order. Price snapshots,
// stock holds and the optional manual-quote placeholder all land in one
// transaction; the carrier lookup runs before it so no row locks are
// held across network calls.
func (s *Service) Checkout(ctx context.Context, p auth.Principal, req CheckoutRequest) (*Order, error) {
	if err := validateCheckout(req); err != nil {
		return nil, err
	}

	c, err := s.carts.Get(ctx, p, req.CartID)
	if err != nil {
		return nil, err
	}
	if len(c.Items) == 0 {
		return nil, cart.ErrEmptyCart
	}
	options, err := s.catalog.OptionsByID(ctx, s.pool, cartOptionIDs(c))
	if err != nil {
		return nil, err
	}

	offers, err := s.engine.Rates(ctx, shipping.RateInput{
		Destination:   shipping.Destination{Country: req.Shipping.Country, State: req.Shipping.State},
		SubtotalCents: subtotal(c, options),
		Items:         rateItems(c, options),
	})
	if err != nil {
		return nil, err
	}
	offer, err := chooseOffer(offers, req.Shipping.Method)
	if err != nil {
		return nil, err
	}

	var o *Order
	for attempt := 0; ; attempt++ {
		o, err = s.createOrder(ctx, p, req, offer)
		if isOrderNumberCollision(err) && attempt < 2 {
			s.logger.Warn("order number collision, retrying", "attempt", attempt+1)
			continue
		}
		break
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Service) createOrder(ctx context.Context, p auth.Principal, req CheckoutRequest, offer shipping.Offer) (*Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin checkout: %w", err)
	}
	defer tx.Rollback(ctx)

	// Reload inside the transaction; the earlier reads only priced
	// shipping.
	c, err := s.carts.LoadForCheckout(ctx, tx, p, req.CartID)
	if err != nil {
		return nil, err
	}
	options, err := s.catalog.OptionsByID(ctx, tx, cartOptionIDs(c))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	o := &Order{
		ID:               uuid.New(),
		Number:           newOrderNumber(now),
		SessionID:        p.SessionID,
		UserID:           p.UserID,
		Email:            req.Email,
		Status:           StatusPending,
		PaymentStatus:    PaymentPending,
		SubtotalCents:    subtotal(c, options),
		ShippingMethod:   offer.Method,
		ShippingCountry:  req.Shipping.Country,
		ShippingState:    req.Shipping.State,
		PaymentExpiresAt: now.Add(s.ttl),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if offer.PriceCents != nil {
		o.ShippingCents = *offer.PriceCents
	}
	o.TotalCents = o.SubtotalCents + o.ShippingCents

	_, err = tx.Exec(ctx, `
		INSERT INTO orders
			(id, order_number, session_id, user_id, email, status, payment_status,
			 subtotal_cents, shipping_cents, total_cents,
			 shipping_method, shipping_country, shipping_state,
			 payment_expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)`,
		o.ID, o.Number, o.SessionID, o.UserID, o.Email, o.Status, o.PaymentStatus,
		o.SubtotalCents, o.ShippingCents, o.TotalCents,
		o.ShippingMethod, o.ShippingCountry, o.ShippingState,
		o.PaymentExpiresAt, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	for _, ci := range c.Items {
		opt := options[ci.OptionID]
		item := Item{
			ID:             uuid.New(),
			OptionID:       ci.OptionID,
			ProductName:    opt.ProductName,
			OptionLabel:    opt.Label,
			Quantity:       ci.Quantity,
			UnitPriceCents: opt.UnitPriceCents,
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items (id, order_id, option_id, product_name, option_label, quantity, unit_price_cents)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			item.ID, o.ID, item.OptionID, item.ProductName, item.OptionLabel, item.Quantity, item.UnitPriceCents,
		); err != nil {
			return nil, fmt.Errorf("insert order item: %w", err)
		}
		o.Items = append(o.Items, item)
	}

	held, err := s.ledger.Reserve(ctx, tx, o.ID, o.PaymentExpiresAt, reservationLines(c))
	if err != nil {
		return nil, err
	}
	if held > 0 {
		if _, err := tx.Exec(ctx, `UPDATE orders SET stock_reserved = TRUE WHERE id = $1`, o.ID); err != nil {
			return nil, fmt.Errorf("flag reserved stock: %w", err)
		}
		o.StockReserved = true
	}

	if offer.RequiresManualQuote {
		quote, err := s.quotes.Open(ctx, tx, p, shipping.OpenQuoteRequest{
			OrderID:     &o.ID,
			Email:       req.Email,
			Country:     req.Shipping.Country,
			State:       req.Shipping.State,
			City:        req.Shipping.City,
			PostalCode:  req.Shipping.PostalCode,
			PackageSize: shipping.SizeFromItems(rateItems(c, options)),
		})
		if err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx, `UPDATE orders SET shipping_quote_id = $2 WHERE id = $1`, o.ID, quote.ID); err != nil {
			return nil, fmt.Errorf("attach quote to order: %w", err)
		}
		o.ShippingQuoteID = &quote.ID
	}

	if err := s.notifier.Enqueue(ctx, tx, notify.EventOrderCreated, notify.OrderEvent{
		OrderNumber: o.Number,
		Email:       o.Email,
		TotalCents:  o.TotalCents,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit checkout: %w", err)
	}
	return o, nil
}

// Cancel moves a pending order to cancelled and releases its holds.
// Orders that already left pending are refused.
func (s *Service) Cancel(ctx context.Context, p auth.Principal, orderNumber string) (*Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin cancel: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := s.getOwned(ctx, tx, p, orderNumber, true)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPending {
		return nil, ErrNotCancellable
	}

	if _, err := s.ledger.Release(ctx, tx, o.ID); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = $2, stock_reserved = FALSE, updated_at = $3
		WHERE id = $1 AND status = $4`,
		o.ID, StatusCancelled, now, StatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("cancel order %s: %w", orderNumber, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotCancellable
	}
	o.Status = StatusCancelled
	o.StockReserved = false

	if err := s.notifier.Enqueue(ctx, tx, notify.EventOrderCancelled, notify.OrderEvent{
		OrderNumber: o.Number,
		Email:       o.Email,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit cancel: %w", err)
	}

	s.pusher.PushStatus(o.Number, o.Status, o.PaymentStatus)
	return o, nil
}

// MarkFulfilled is the operator action closing out a paid order.
func (s *Service) MarkFulfilled(ctx context.Context, orderNumber string) (*Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin fulfill: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := s.getByNumber(ctx, tx, orderNumber, true)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPaid {
		return nil, ErrNotFulfillable
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`,
		o.ID, StatusFulfilled, now, StatusPaid,
	); err != nil {
		return nil, fmt.Errorf("fulfill order %s: %w", orderNumber, err)
	}
	o.Status = StatusFulfilled

	if err := s.notifier.Enqueue(ctx, tx, notify.EventOrderFulfilled, notify.OrderEvent{
		OrderNumber: o.Number,
		Email:       o.Email,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit fulfill: %w", err)
	}

	s.pusher.PushStatus(o.Number, o.Status, o.PaymentStatus)
	return o, nil
}

// Get returns the order with its items, scoped to the requester. An
// order owned by someone else reads as not found.
func (s *Service) Get(ctx context.Context, p auth.Principal, orderNumber string) (*Order, error) {
	o, err := s.getOwned(ctx, s.pool, p, orderNumber, false)
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, s.pool, o); err != nil {
		return nil, err
	}
	return o, nil
}

// List returns the requester's orders, newest first.
func (s *Service) List(ctx context.Context, p auth.Principal) ([]Order, error) {
	var rows pgx.Rows
	var err error
	if p.Authenticated() {
		rows, err = s.pool.Query(ctx, orderColumns+`
			FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, p.UserID)
	} else {
		rows, err = s.pool.Query(ctx, orderColumns+`
			FROM orders WHERE user_id IS NULL AND session_id = $1 ORDER BY created_at DESC`, p.SessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

const orderColumns = `
	SELECT id, order_number, session_id, user_id, email, status, payment_status,
	       subtotal_cents, shipping_cents, total_cents,
	       shipping_method, shipping_country, shipping_state, shipping_quote_id,
	       stock_reserved, payment_expires_at, created_at, updated_at`

func (s *Service) getOwned(ctx context.Context, q storage.Querier, p auth.Principal, orderNumber string, forUpdate bool) (*Order, error) {
	query := orderColumns + ` FROM orders WHERE order_number = $1`
	args := []any{orderNumber}
	if p.Authenticated() {
		query += ` AND user_id = $2`
		args = append(args, p.UserID)
	} else {
		query += ` AND user_id IS NULL AND session_id = $2`
		args = append(args, p.SessionID)
	}
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanOrder(q.QueryRow(ctx, query, args...))
}

func (s *Service) getByNumber(ctx context.Context, q storage.Querier, orderNumber string, forUpdate bool) (*Order, error) {
	query := orderColumns + ` FROM orders WHERE order_number = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanOrder(q.QueryRow(ctx, query, orderNumber))
}

func (s *Service) loadItems(ctx context.Context, q storage.Querier, o *Order) error {
	rows, err := q.Query(ctx, `
		SELECT id, option_id, product_name, option_label, quantity, unit_price_cents
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at`, o.ID)
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.OptionID, &it.ProductName, &it.OptionLabel, &it.Quantity, &it.UnitPriceCents); err != nil {
			return err
		}
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.Number, &o.SessionID, &o.UserID, &o.Email, &o.Status, &o.PaymentStatus,
		&o.SubtotalCents, &o.ShippingCents, &o.TotalCents,
		&o.ShippingMethod, &o.ShippingCountry, &o.ShippingState, &o.ShippingQuoteID,
		&o.StockReserved, &o.PaymentExpiresAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	return &o, nil
}

func validateCheckout(req CheckoutRequest) error {
	if req.CartID == uuid.Nil {
		return fmt.Errorf("%w: cart_id is required", ErrInvalid)
	}
	if !strings.Contains(req.Email, "@") {
		return fmt.Errorf("%w: a valid email is required", ErrInvalid)
	}
	if len(req.Shipping.Country) != 2 {
		return fmt.Errorf("%w: shipping.country must be a two-letter code", ErrInvalid)
	}
	return nil
}

func cartOptionIDs(c *cart.Cart) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(c.Items))
	for _, it := range c.Items {
		ids = append(ids, it.OptionID)
	}
	return ids
}

func subtotal(c *cart.Cart, options map[uuid.UUID]catalog.SellableOption) int64 {
	var total int64
	for _, it := range c.Items {
		total += options[it.OptionID].UnitPriceCents * int64(it.Quantity)
	}
	return total
}

func rateItems(c *cart.Cart, options map[uuid.UUID]catalog.SellableOption) []shipping.Item {
	items := make([]shipping.Item, 0, len(c.Items))
	for _, it := range c.Items {
		opt := options[it.OptionID]
		items = append(items, shipping.Item{
			Quantity:    it.Quantity,
			WeightValue: opt.WeightValue,
			WeightUnit:  opt.WeightUnit,
			DimLength:   opt.DimLength,
			DimWidth:    opt.DimWidth,
			DimHeight:   opt.DimHeight,
			DimUnit:     opt.DimUnit,
		})
	}
	return items
}

func reservationLines(c *cart.Cart) []stock.Line {
	lines := make([]stock.Line, 0, len(c.Items))
	for _, it := range c.Items {
		lines = append(lines, stock.Line{OptionID: it.OptionID, Quantity: it.Quantity})
	}
	return lines
}

// chooseOffer picks the client's named method, or the first (cheapest)
// offer when no method was named.
func chooseOffer(offers []shipping.Offer, method string) (shipping.Offer, error) {
	if len(offers) == 0 {
		return shipping.Offer{}, fmt.Errorf("no shipping offers computed")
	}
	if method == "" {
		return offers[0], nil
	}
	for _, o := range offers {
		if o.Method == method {
			return o, nil
		}
	}
	return shipping.Offer{}, ErrUnknownShippingMethod
}

func isOrderNumberCollision(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && strings.Contains(pgErr.ConstraintName, "order_number")
	}
	return false
}
