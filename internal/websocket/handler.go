package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	gw "github.com/gorilla/websocket"

	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/auth"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/order"
)

type Conn = gw.Conn

var upgrader = gw.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Handler struct {
	hub       *Hub
	authority *auth.Authority
	orders    *order.Service
	logger    *slog.Logger
}

func NewHandler(hub *Hub, authority *auth.Authority, orders *order.Service, logger *slog.Logger) *Handler {
	return &Handler{hub: hub, authority: authority, orders: orders, logger: logger}
}

// ServeWS subscribes the requester to an order's status stream.
// Ownership is checked before the upgrade; an order owned by someone
// else reads as not found, same as the REST surface.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "orderNumber")

	p, err := h.authority.FromRequest(r)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	o, err := h.orders.Get(r.Context(), p, number)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "order", number, "error", err)
		return
	}

	client := &Client{
		hub:         h.hub,
		conn:        conn,
		send:        make(chan []byte, 256),
		orderNumber: number,
	}
	h.hub.register <- client
	go client.writePump()
	go client.readPump()

	// Current state first, so the client is never behind before the
	// first push.
	snapshot := OrderUpdate{
		OrderNumber:   o.Number,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
	}
	if b, err := json.Marshal(snapshot); err == nil {
		select {
		case client.send <- b:
		case <-time.After(time.Second):
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	defer func() { _ = c.conn.Close() }()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(gw.TextMessage, msg); err != nil {
			return
		}
	}
}
