package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/auth"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/catalog"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/stock"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/storage"
)

var (
	ErrCartNotFound = errors.New("cart not found")
	ErrEmptyCart    = errors.New("cart is empty")
	ErrInvalid      = errors.New("invalid cart request")
)

type Item struct {
	ID       uuid.UUID `json:"id"`
	OptionID uuid.UUID `json:"option_id"`
	Quantity int32     `json:"quantity"`
}

type Cart struct {
	ID        uuid.UUID  `json:"id"`
	SessionID string     `json:"-"`
	UserID    *uuid.UUID `json:"-"`
	Items     []Item     `json:"items"`
	CreatedAt time.Time  `json:"created_at"`
}

type Service struct {
	pool    *pgxpool.Pool
	catalog *catalog.Repo
	ledger  *stock.Ledger
}

func NewService(pool *pgxpool.Pool, catalog *catalog.Repo, ledger *stock.Ledger) *Service {
	return &Service{pool: pool, catalog: catalog, ledger: ledger}
}

func (s *Service) Create(ctx context.Context, p auth.Principal) (*Cart, error) {
	c := &Cart{
		ID:        uuid.New(),
		SessionID: p.SessionID,
		UserID:    p.UserID,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO carts (id, session_id, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)`,
		c.ID, c.SessionID, c.UserID, c.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert cart: %w", err)
	}
	return c, nil
}

func (s *Service) AddItem(ctx context.Context, p auth.Principal, cartID, optionID uuid.UUID, qty int32) (*Cart, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalid)
	}

	if _, err := s.Get(ctx, p, cartID); err != nil {
		return nil, err
	}
	if _, err := s.catalog.OptionByID(ctx, s.pool, optionID); err != nil {
		return nil, err
	}

	// Advisory check so shoppers hear about a shortage at add time.
	// The authoritative all-or-nothing check is the reservation taken
	// at checkout.
	if available, err := s.ledger.Available(ctx, s.pool, optionID); err == nil && available != nil {
		var inCart int32
		_ = s.pool.QueryRow(ctx, `
			SELECT quantity FROM cart_items
			WHERE cart_id = $1 AND option_id = $2`, cartID, optionID).Scan(&inCart)
		if inCart+qty > *available {
			return nil, &stock.InsufficientStockError{
				OptionID:  optionID,
				Requested: inCart + qty,
				Available: *available,
			}
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO cart_items (id, cart_id, option_id, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (cart_id, option_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity`,
		uuid.New(), cartID, optionID, qty,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert cart item: %w", err)
	}

	return s.Get(ctx, p, cartID)
}

// Get loads a cart with its items, scoped to the requesting principal.
// A cart belonging to someone else reads as not found.
func (s *Service) Get(ctx context.Context, p auth.Principal, cartID uuid.UUID) (*Cart, error) {
	return s.load(ctx, s.pool, p, cartID)
}

// LoadForCheckout loads the cart inside the checkout transaction.
func (s *Service) LoadForCheckout(ctx context.Context, q storage.Querier, p auth.Principal, cartID uuid.UUID) (*Cart, error) {
	c, err := s.load(ctx, q, p, cartID)
	if err != nil {
		return nil, err
	}
	if len(c.Items) == 0 {
		return nil, ErrEmptyCart
	}
	return c, nil
}

func (s *Service) load(ctx context.Context, q storage.Querier, p auth.Principal, cartID uuid.UUID) (*Cart, error) {
	var c Cart
	var err error
	if p.Authenticated() {
		err = q.QueryRow(ctx, `
			SELECT id, session_id, user_id, created_at
			FROM carts
			WHERE id = $1 AND user_id = $2`, cartID, p.UserID).
			Scan(&c.ID, &c.SessionID, &c.UserID, &c.CreatedAt)
	} else {
		err = q.QueryRow(ctx, `
			SELECT id, session_id, user_id, created_at
			FROM carts
			WHERE id = $1 AND user_id IS NULL AND session_id = $2`, cartID, p.SessionID).
			Scan(&c.ID, &c.SessionID, &c.UserID, &c.CreatedAt)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("query cart: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT id, option_id, quantity
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY created_at`, cartID)
	if err != nil {
		return nil, fmt.Errorf("query cart items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.OptionID, &it.Quantity); err != nil {
			return nil, err
		}
		c.Items = append(c.Items, it)
	}
	return &c, rows.Err()
}
