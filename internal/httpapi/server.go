// Package httpapi is the storefront's HTTP surface: carts, checkout,
// order lifecycle, shipping rates and quotes, payment webhooks, and the
// operator endpoints. Handlers stay thin; every decision lives in the
// services behind the interfaces below.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/auth"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/cart"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/catalog"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/order"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/payment"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/shipping"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/stock"
)

type CartService interface {
	Create(ctx context.Context, p auth.Principal) (*cart.Cart, error)
	AddItem(ctx context.Context, p auth.Principal, cartID, optionID uuid.UUID, qty int32) (*cart.Cart, error)
	Get(ctx context.Context, p auth.Principal, cartID uuid.UUID) (*cart.Cart, error)
}

type OrderService interface {
	Checkout(ctx context.Context, p auth.Principal, req order.CheckoutRequest) (*order.Order, error)
	Get(ctx context.Context, p auth.Principal, orderNumber string) (*order.Order, error)
	List(ctx context.Context, p auth.Principal) ([]order.Order, error)
	Cancel(ctx context.Context, p auth.Principal, orderNumber string) (*order.Order, error)
	MarkFulfilled(ctx context.Context, orderNumber string) (*order.Order, error)
}

type QuoteService interface {
	Request(ctx context.Context, p auth.Principal, req shipping.OpenQuoteRequest) (*shipping.Quote, error)
	Get(ctx context.Context, p auth.Principal, quoteID uuid.UUID) (*shipping.Quote, error)
	Confirm(ctx context.Context, p auth.Principal, quoteID uuid.UUID) (*shipping.Quote, error)
	Cancel(ctx context.Context, p auth.Principal, quoteID uuid.UUID) error
	Submit(ctx context.Context, quoteID uuid.UUID, cents int64, note string) (*shipping.Quote, error)
	ListOpen(ctx context.Context) ([]shipping.Quote, error)
}

type RateService interface {
	Rates(ctx context.Context, in shipping.RateInput) ([]shipping.Offer, error)
}

type WebhookVerifier interface {
	Verify(h payment.SignatureHeader, body []byte) error
}

type WebhookProcessor interface {
	HandleEvent(ctx context.Context, provider string, body []byte) error
}

type Deps struct {
	Authority     *auth.Authority
	Carts         CartService
	Orders        OrderService
	Quotes        QuoteService
	Rates         RateService
	Verifier      WebhookVerifier
	Webhooks      WebhookProcessor
	OrderStream   http.HandlerFunc
	OperatorToken string
	Logger        *slog.Logger
}

type Server struct {
	authority     *auth.Authority
	carts         CartService
	orders        OrderService
	quotes        QuoteService
	rates         RateService
	verifier      WebhookVerifier
	webhooks      WebhookProcessor
	orderStream   http.HandlerFunc
	operatorToken string
	logger        *slog.Logger
	router        chi.Router
}

func NewServer(d Deps) *Server {
	s := &Server{
		authority:     d.Authority,
		carts:         d.Carts,
		orders:        d.Orders,
		quotes:        d.Quotes,
		rates:         d.Rates,
		verifier:      d.Verifier,
		webhooks:      d.Webhooks,
		orderStream:   d.OrderStream,
		operatorToken: d.OperatorToken,
		logger:        d.Logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Post("/carts", s.createCart)
	r.Get("/carts/{cartID}", s.getCart)
	r.Post("/carts/{cartID}/items", s.addCartItem)

	r.Post("/orders", s.checkout)
	r.Get("/orders", s.listOrders)
	r.Get("/orders/{orderNumber}", s.getOrder)
	r.Post("/orders/{orderNumber}/cancel", s.cancelOrder)
	if s.orderStream != nil {
		r.Get("/orders/{orderNumber}/ws", s.orderStream)
	}

	r.Post("/shipping/calculate", s.calculateRates)
	r.Post("/shipping/request-quote", s.requestQuote)
	r.Get("/shipping/quotes/{quoteID}", s.getQuote)
	r.Post("/shipping/quotes/{quoteID}/confirm", s.confirmQuote)
	r.Post("/shipping/quotes/{quoteID}/cancel", s.cancelQuote)

	r.Post("/webhooks/{provider}", s.handleWebhook)

	r.Route("/operator", func(r chi.Router) {
		r.Use(s.requireOperator)
		r.Get("/quotes", s.listOpenQuotes)
		r.Post("/quotes/{quoteID}", s.submitQuote)
		r.Post("/orders/{orderNumber}/fulfill", s.fulfillOrder)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// requireOperator guards back-office endpoints with a static token.
// With no token configured the endpoints stay closed.
func (s *Server) requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Operator-Token")
		if s.operatorToken == "" || token == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(s.operatorToken)) != 1 {
			writeError(w, http.StatusForbidden, "operator token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// principal resolves the caller, minting a fresh guest session when the
// request carries no credentials at all.
func (s *Server) principal(r *http.Request) (auth.Principal, error) {
	p, err := s.authority.FromRequest(r)
	if err == nil {
		return p, nil
	}
	if errors.Is(err, auth.ErrUnauthenticated) {
		return auth.Guest(uuid.NewString()), nil
	}
	return auth.Principal{}, err
}

// requirePrincipal is principal without the minting: operations on
// existing resources need the caller to present the session that owns
// them.
func (s *Server) requirePrincipal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, err := s.authority.FromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing or invalid credentials")
		return auth.Principal{}, false
	}
	return p, true
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var insufficient *stock.InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     "insufficient stock",
			"option_id": insufficient.OptionID,
			"requested": insufficient.Requested,
			"available": insufficient.Available,
		})
	case errors.Is(err, cart.ErrCartNotFound),
		errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, shipping.ErrQuoteNotFound),
		errors.Is(err, catalog.ErrOptionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrNotCancellable),
		errors.Is(err, order.ErrNotFulfillable),
		errors.Is(err, shipping.ErrQuoteNotPending),
		errors.Is(err, shipping.ErrQuoteNotQuoted):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, cart.ErrEmptyCart),
		errors.Is(err, order.ErrUnknownShippingMethod),
		errors.Is(err, order.ErrInvalid),
		errors.Is(err, cart.ErrInvalid),
		errors.Is(err, shipping.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "missing or invalid credentials")
	default:
		s.logger.Error("request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
