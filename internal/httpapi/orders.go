package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/order"
)

func (s *Server) checkout(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}

	var req order.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	o, err := s.orders.Checkout(r.Context(), p, req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"order": o})
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}

	orders, err := s.orders.List(r.Context(), p)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}

	o, err := s.orders.Get(r.Context(), p, chi.URLParam(r, "orderNumber"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": o})
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}

	o, err := s.orders.Cancel(r.Context(), p, chi.URLParam(r, "orderNumber"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": o})
}

func (s *Server) fulfillOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.orders.MarkFulfilled(r.Context(), chi.URLParam(r, "orderNumber"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": o})
}
