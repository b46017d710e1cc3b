package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func (s *Server) createCart(w http.ResponseWriter, r *http.Request) {
	p, err := s.principal(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	c, err := s.carts.Create(r.Context(), p)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	// The session id comes back so a first-time guest can present it on
	// every later request.
	writeJSON(w, http.StatusCreated, map[string]any{
		"cart":       c,
		"session_id": c.SessionID,
	})
}

func (s *Server) getCart(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}
	cartID, err := uuid.Parse(chi.URLParam(r, "cartID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cart id")
		return
	}

	c, err := s.carts.Get(r.Context(), p, cartID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": c})
}

func (s *Server) addCartItem(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}
	cartID, err := uuid.Parse(chi.URLParam(r, "cartID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cart id")
		return
	}

	var req struct {
		OptionID uuid.UUID `json:"option_id"`
		Quantity int32     `json:"quantity"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	c, err := s.carts.AddItem(r.Context(), p, cartID, req.OptionID, req.Quantity)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": c})
}
