package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/shipping"
)

func (s *Server) calculateRates(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Destination shipping.Destination `json:"destination"`
		PackageSize string               `json:"package_size"`
		OrderTotal  int64                `json:"order_total_cents"`
		Items       []shipping.Item      `json:"items"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Destination.Country == "" {
		writeError(w, http.StatusBadRequest, "destination.country is required")
		return
	}

	in := shipping.RateInput{
		Destination:   req.Destination,
		SubtotalCents: req.OrderTotal,
		Items:         req.Items,
	}
	if req.PackageSize != "" {
		size, err := shipping.ParsePackageSize(req.PackageSize)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		in.PackageSize = &size
	}

	offers, err := s.rates.Rates(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"offers": offers})
}

func (s *Server) requestQuote(w http.ResponseWriter, r *http.Request) {
	p, err := s.principal(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	var req struct {
		Email       string `json:"email"`
		Country     string `json:"country"`
		State       string `json:"state"`
		City        string `json:"city"`
		PostalCode  string `json:"postal_code"`
		PackageSize string `json:"package_size"`
		Note        string `json:"note"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Email == "" || req.Country == "" {
		writeError(w, http.StatusBadRequest, "email and country are required")
		return
	}
	size := shipping.SizeMedium
	if req.PackageSize != "" {
		var err error
		if size, err = shipping.ParsePackageSize(req.PackageSize); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	quote, err := s.quotes.Request(r.Context(), p, shipping.OpenQuoteRequest{
		Email:       req.Email,
		Country:     req.Country,
		State:       req.State,
		City:        req.City,
		PostalCode:  req.PostalCode,
		PackageSize: size,
		Note:        req.Note,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"quote":      quote,
		"session_id": quote.SessionID,
	})
}

func (s *Server) getQuote(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}
	quoteID, err := uuid.Parse(chi.URLParam(r, "quoteID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid quote id")
		return
	}

	quote, err := s.quotes.Get(r.Context(), p, quoteID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quote": quote})
}

func (s *Server) confirmQuote(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}
	quoteID, err := uuid.Parse(chi.URLParam(r, "quoteID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid quote id")
		return
	}

	quote, err := s.quotes.Confirm(r.Context(), p, quoteID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quote": quote})
}

func (s *Server) cancelQuote(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}
	quoteID, err := uuid.Parse(chi.URLParam(r, "quoteID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid quote id")
		return
	}

	if err := s.quotes.Cancel(r.Context(), p, quoteID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) listOpenQuotes(w http.ResponseWriter, r *http.Request) {
	quotes, err := s.quotes.ListOpen(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quotes": quotes})
}

func (s *Server) submitQuote(w http.ResponseWriter, r *http.Request) {
	quoteID, err := uuid.Parse(chi.URLParam(r, "quoteID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid quote id")
		return
	}

	var req struct {
		QuotedCents int64  `json:"quoted_cents"`
		Note        string `json:"note"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	quote, err := s.quotes.Submit(r.Context(), quoteID, req.QuotedCents, req.Note)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quote": quote})
}
