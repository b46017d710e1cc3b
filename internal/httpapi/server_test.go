package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/auth"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/cart"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/order"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/payment"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/shipping"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/stock"
)

type fakeCarts struct {
	createFn func(context.Context, auth.Principal) (*cart.Cart, error)
	addFn    func(context.Context, auth.Principal, uuid.UUID, uuid.UUID, int32) (*cart.Cart, error)
	getFn    func(context.Context, auth.Principal, uuid.UUID) (*cart.Cart, error)
}

func (f *fakeCarts) Create(ctx context.Context, p auth.Principal) (*cart.Cart, error) {
	return f.createFn(ctx, p)
}

func (f *fakeCarts) AddItem(ctx context.Context, p auth.Principal, cartID, optionID uuid.UUID, qty int32) (*cart.Cart, error) {
	return f.addFn(ctx, p, cartID, optionID, qty)
}

func (f *fakeCarts) Get(ctx context.Context, p auth.Principal, cartID uuid.UUID) (*cart.Cart, error) {
	return f.getFn(ctx, p, cartID)
}

type fakeOrders struct {
	checkoutFn func(context.Context, auth.Principal, order.CheckoutRequest) (*order.Order, error)
	getFn      func(context.Context, auth.Principal, string) (*order.Order, error)
	listFn     func(context.Context, auth.Principal) ([]order.Order, error)
	cancelFn   func(context.Context, auth.Principal, string) (*order.Order, error)
	fulfillFn  func(context.Context, string) (*order.Order, error)
}

func (f *fakeOrders) Checkout(ctx context.Context, p auth.Principal, req order.CheckoutRequest) (*order.Order, error) {
	return f.checkoutFn(ctx, p, req)
}

func (f *fakeOrders) Get(ctx context.Context, p auth.Principal, n string) (*order.Order, error) {
	return f.getFn(ctx, p, n)
}

func (f *fakeOrders) List(ctx context.Context, p auth.Principal) ([]order.Order, error) {
	return f.listFn(ctx, p)
}

func (f *fakeOrders) Cancel(ctx context.Context, p auth.Principal, n string) (*order.Order, error) {
	return f.cancelFn(ctx, p, n)
}

func (f *fakeOrders) MarkFulfilled(ctx context.Context, n string) (*order.Order, error) {
	return f.fulfillFn(ctx, n)
}

type fakeQuotes struct {
	requestFn  func(context.Context, auth.Principal, shipping.OpenQuoteRequest) (*shipping.Quote, error)
	getFn      func(context.Context, auth.Principal, uuid.UUID) (*shipping.Quote, error)
	confirmFn  func(context.Context, auth.Principal, uuid.UUID) (*shipping.Quote, error)
	cancelFn   func(context.Context, auth.Principal, uuid.UUID) error
	submitFn   func(context.Context, uuid.UUID, int64, string) (*shipping.Quote, error)
	listOpenFn func(context.Context) ([]shipping.Quote, error)
}

func (f *fakeQuotes) Request(ctx context.Context, p auth.Principal, req shipping.OpenQuoteRequest) (*shipping.Quote, error) {
	return f.requestFn(ctx, p, req)
}

func (f *fakeQuotes) Get(ctx context.Context, p auth.Principal, id uuid.UUID) (*shipping.Quote, error) {
	return f.getFn(ctx, p, id)
}

func (f *fakeQuotes) Confirm(ctx context.Context, p auth.Principal, id uuid.UUID) (*shipping.Quote, error) {
	return f.confirmFn(ctx, p, id)
}

func (f *fakeQuotes) Cancel(ctx context.Context, p auth.Principal, id uuid.UUID) error {
	return f.cancelFn(ctx, p, id)
}

func (f *fakeQuotes) Submit(ctx context.Context, id uuid.UUID, cents int64, note string) (*shipping.Quote, error) {
	return f.submitFn(ctx, id, cents, note)
}

func (f *fakeQuotes) ListOpen(ctx context.Context) ([]shipping.Quote, error) {
	return f.listOpenFn(ctx)
}

type fakeRates struct {
	ratesFn func(context.Context, shipping.RateInput) ([]shipping.Offer, error)
}

func (f *fakeRates) Rates(ctx context.Context, in shipping.RateInput) ([]shipping.Offer, error) {
	return f.ratesFn(ctx, in)
}

type fakeVerifier struct{ err error }

func (f *fakeVerifier) Verify(payment.SignatureHeader, []byte) error { return f.err }

type fakeWebhooks struct {
	err    error
	bodies [][]byte
}

func (f *fakeWebhooks) HandleEvent(_ context.Context, _ string, body []byte) error {
	f.bodies = append(f.bodies, body)
	return f.err
}

func newTestServer(d Deps) *Server {
	if d.Authority == nil {
		d.Authority = auth.NewAuthority("test-signing-key")
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return NewServer(d)
}

func doJSON(t *testing.T, srv http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

var sessionHeaders = map[string]string{"X-Session-ID": "sess-test-1"}

func TestCreateCartMintsSession(t *testing.T) {
	srv := newTestServer(Deps{
		Carts: &fakeCarts{
			createFn: func(_ context.Context, p auth.Principal) (*cart.Cart, error) {
				return &cart.Cart{ID: uuid.New(), SessionID: p.SessionID}, nil
			},
		},
	})

	// No credentials at all: the handler mints a guest session.
	rec := doJSON(t, srv, http.MethodPost, "/carts", nil, nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
}

func TestCheckoutCreated(t *testing.T) {
	srv := newTestServer(Deps{
		Orders: &fakeOrders{
			checkoutFn: func(_ context.Context, _ auth.Principal, req order.CheckoutRequest) (*order.Order, error) {
				return &order.Order{Number: "ORD-20260501-ABCDEF", Status: order.StatusPending, TotalCents: 6400}, nil
			},
		},
	})

	rec := doJSON(t, srv, http.MethodPost, "/orders", map[string]any{
		"cart_id": uuid.New(),
		"email":   "buyer@example.com",
		"shipping": map[string]any{
			"country": "US", "state": "CA", "method": "standard",
		},
	}, sessionHeaders)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "ORD-20260501-ABCDEF")
}

func TestCheckoutInsufficientStockNamesOption(t *testing.T) {
	optionID := uuid.New()
	srv := newTestServer(Deps{
		Orders: &fakeOrders{
			checkoutFn: func(context.Context, auth.Principal, order.CheckoutRequest) (*order.Order, error) {
				return nil, &stock.InsufficientStockError{OptionID: optionID, Requested: 3, Available: 1}
			},
		},
	})

	rec := doJSON(t, srv, http.MethodPost, "/orders", map[string]any{"cart_id": uuid.New()}, sessionHeaders)

	require.Equal(t, http.StatusConflict, rec.Code)
	var resp struct {
		OptionID  uuid.UUID `json:"option_id"`
		Requested int32     `json:"requested"`
		Available int32     `json:"available"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, optionID, resp.OptionID)
	assert.Equal(t, int32(3), resp.Requested)
	assert.Equal(t, int32(1), resp.Available)
}

func TestCheckoutWithoutCredentialsIsUnauthorized(t *testing.T) {
	srv := newTestServer(Deps{Orders: &fakeOrders{}})

	rec := doJSON(t, srv, http.MethodPost, "/orders", map[string]any{}, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetOrderNotOwnedReadsAsNotFound(t *testing.T) {
	srv := newTestServer(Deps{
		Orders: &fakeOrders{
			getFn: func(context.Context, auth.Principal, string) (*order.Order, error) {
				return nil, order.ErrOrderNotFound
			},
		},
	})

	rec := doJSON(t, srv, http.MethodGet, "/orders/ORD-X", nil, sessionHeaders)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelConflictWhenNotPending(t *testing.T) {
	srv := newTestServer(Deps{
		Orders: &fakeOrders{
			cancelFn: func(context.Context, auth.Principal, string) (*order.Order, error) {
				return nil, order.ErrNotCancellable
			},
		},
	})

	rec := doJSON(t, srv, http.MethodPost, "/orders/ORD-X/cancel", nil, sessionHeaders)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCalculateRates(t *testing.T) {
	price := int64(999)
	srv := newTestServer(Deps{
		Rates: &fakeRates{
			ratesFn: func(_ context.Context, in shipping.RateInput) ([]shipping.Offer, error) {
				assert.Equal(t, "US", in.Destination.Country)
				return []shipping.Offer{{Method: "standard", PriceCents: &price, Currency: "USD"}}, nil
			},
		},
	})

	rec := doJSON(t, srv, http.MethodPost, "/shipping/calculate", map[string]any{
		"destination":       map[string]string{"country": "US", "state": "CA"},
		"order_total_cents": 4999,
	}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"standard"`)
}

func TestCalculateRatesRequiresCountry(t *testing.T) {
	srv := newTestServer(Deps{Rates: &fakeRates{}})

	rec := doJSON(t, srv, http.MethodPost, "/shipping/calculate", map[string]any{}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOperatorEndpointsNeedToken(t *testing.T) {
	quotes := &fakeQuotes{
		listOpenFn: func(context.Context) ([]shipping.Quote, error) {
			return []shipping.Quote{}, nil
		},
	}
	srv := newTestServer(Deps{Quotes: quotes, OperatorToken: "op-secret"})

	rec := doJSON(t, srv, http.MethodGet, "/operator/quotes", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/operator/quotes", nil, map[string]string{"X-Operator-Token": "wrong"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/operator/quotes", nil, map[string]string{"X-Operator-Token": "op-secret"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOperatorClosedWithoutConfiguredToken(t *testing.T) {
	srv := newTestServer(Deps{Quotes: &fakeQuotes{}})

	rec := doJSON(t, srv, http.MethodGet, "/operator/quotes", nil, map[string]string{"X-Operator-Token": ""})

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhookBadSignature(t *testing.T) {
	hooks := &fakeWebhooks{}
	srv := newTestServer(Deps{
		Verifier: &fakeVerifier{err: payment.ErrBadSignature},
		Webhooks: hooks,
	})

	rec := doJSON(t, srv, http.MethodPost, "/webhooks/paypal", map[string]any{"id": "evt"}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	// Verification failed; the event must never reach the reconciler.
	assert.Empty(t, hooks.bodies)
}

func TestWebhookUnconfigured(t *testing.T) {
	srv := newTestServer(Deps{
		Verifier: &fakeVerifier{err: payment.ErrNotConfigured},
		Webhooks: &fakeWebhooks{},
	})

	rec := doJSON(t, srv, http.MethodPost, "/webhooks/paypal", map[string]any{}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookStorageFailureAsksForRedelivery(t *testing.T) {
	srv := newTestServer(Deps{
		Verifier: &fakeVerifier{},
		Webhooks: &fakeWebhooks{err: payment.ErrStorage},
	})

	rec := doJSON(t, srv, http.MethodPost, "/webhooks/paypal", map[string]any{"id": "evt"}, nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWebhookMalformed(t *testing.T) {
	srv := newTestServer(Deps{
		Verifier: &fakeVerifier{},
		Webhooks: &fakeWebhooks{err: payment.ErrMalformedEvent},
	})

	rec := doJSON(t, srv, http.MethodPost, "/webhooks/paypal", map[string]any{}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookAccepted(t *testing.T) {
	hooks := &fakeWebhooks{}
	srv := newTestServer(Deps{
		Verifier: &fakeVerifier{},
		Webhooks: hooks,
	})

	rec := doJSON(t, srv, http.MethodPost, "/webhooks/paypal", map[string]any{"id": "evt-1"}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, hooks.bodies, 1)
	assert.Contains(t, string(hooks.bodies[0]), "evt-1")
}

func TestRequestQuoteValidates(t *testing.T) {
	srv := newTestServer(Deps{Quotes: &fakeQuotes{}})

	rec := doJSON(t, srv, http.MethodPost, "/shipping/request-quote", map[string]any{"email": ""}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitQuoteRejectsNegative(t *testing.T) {
	srv := newTestServer(Deps{
		Quotes: &fakeQuotes{
			submitFn: func(_ context.Context, _ uuid.UUID, cents int64, _ string) (*shipping.Quote, error) {
				if cents < 0 {
					return nil, fmt.Errorf("%w: quoted price must not be negative", shipping.ErrInvalid)
				}
				return &shipping.Quote{}, nil
			},
		},
		OperatorToken: "op-secret",
	})

	rec := doJSON(t, srv, http.MethodPost, "/operator/quotes/"+uuid.NewString(),
		map[string]any{"quoted_cents": -100}, map[string]string{"X-Operator-Token": "op-secret"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
