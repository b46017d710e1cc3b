// Package websocket streams order status changes to waiting customers,
// keyed by order number. The hub is the single goroutine that owns the
// client registry; everything reaches it through channels.
package websocket

import (
	"context"
	"encoding/json"
)

type OrderUpdate struct {
	OrderNumber   string `json:"order_number"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
}

type Client struct {
	hub         *Hub
	conn        *Conn
	send        chan []byte
	orderNumber string
}

type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan OrderUpdate
	clients    map[string]map[*Client]bool
}

func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan OrderUpdate),
		clients:    make(map[string]map[*Client]bool),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case c := <-h.register:
			set, ok := h.clients[c.orderNumber]
			if !ok {
				set = make(map[*Client]bool)
				h.clients[c.orderNumber] = set
			}
			set[c] = true
		case c := <-h.unregister:
			if set, ok := h.clients[c.orderNumber]; ok {
				if _, exists := set[c]; exists {
					delete(set, c)
					close(c.send)
				}
				if len(set) == 0 {
					delete(h.clients, c.orderNumber)
				}
			}
		case upd := <-h.broadcast:
			msg, _ := json.Marshal(upd)
			for c := range h.clients[upd.OrderNumber] {
				select {
				case c.send <- msg:
				default:
					// Slow reader; drop it rather than block the hub.
					delete(h.clients[upd.OrderNumber], c)
					close(c.send)
				}
			}
		case <-ctx.Done():
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			return
		}
	}
}

// PushStatus satisfies the StatusPusher interfaces of the order,
// payment and sweeper packages. Non-blocking for callers.
func (h *Hub) PushStatus(orderNumber, status, paymentStatus string) {
	go func() {
		h.broadcast <- OrderUpdate{
			OrderNumber:   orderNumber,
			Status:        status,
			PaymentStatus: paymentStatus,
		}
	}()
}
