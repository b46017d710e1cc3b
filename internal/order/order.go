package order

import (
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	StatusPending   = "pending"
	StatusPaid      = "paid"
	StatusFulfilled = "fulfilled"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"

	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
)

var (
	ErrOrderNotFound         = errors.New("order not found")
	ErrNotCancellable        = errors.New("order can no longer be cancelled")
	ErrNotFulfillable        = errors.New("order is not ready for fulfillment")
	ErrUnknownShippingMethod = errors.New("unknown shipping method")
	ErrInvalid               = errors.New("invalid checkout request")
)

type Item struct {
	ID             uuid.UUID `json:"id"`
	OptionID       uuid.UUID `json:"option_id"`
	ProductName    string    `json:"product_name"`
	OptionLabel    string    `json:"option_label"`
	Quantity       int32     `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
}

type Order struct {
	ID               uuid.UUID  `json:"id"`
	Number           string     `json:"order_number"`
	SessionID        string     `json:"-"`
	UserID           *uuid.UUID `json:"-"`
	Email            string     `json:"-"`
	Status           string     `json:"status"`
	PaymentStatus    string     `json:"payment_status"`
	SubtotalCents    int64      `json:"subtotal_cents"`
	ShippingCents    int64      `json:"shipping_cents"`
	TotalCents       int64      `json:"total_cents"`
	ShippingMethod   string     `json:"shipping_method"`
	ShippingCountry  string     `json:"shipping_country"`
	ShippingState    string     `json:"shipping_state,omitempty"`
	ShippingQuoteID  *uuid.UUID `json:"shipping_quote_id,omitempty"`
	StockReserved    bool       `json:"-"`
	PaymentExpiresAt time.Time  `json:"payment_expires_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"-"`
	Items            []Item     `json:"items,omitempty"`
}

var numberEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// newOrderNumber builds a customer-facing reference like
// ORD-20260314-K7KQJD. Uniqueness is enforced by the database; callers
// retry on collision.
func newOrderNumber(now time.Time) string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		// rand.Read does not fail on supported platforms.
		panic(fmt.Sprintf("order number entropy: %v", err))
	}
	suffix := numberEncoding.EncodeToString(buf)[:6]
	return fmt.Sprintf("ORD-%s-%s", now.Format("20060102"), suffix)
}
