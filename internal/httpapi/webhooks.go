package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/payment"
)

// handleWebhook receives provider payment callbacks. The body is read
// raw because the signature covers exact bytes. Responses: 2xx settles
// the delivery, 4xx means the delivery is bad and must not be retried,
// 503 asks the provider to redeliver later.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	hdr := payment.SignatureHeader{
		TransmissionID:   r.Header.Get("Payment-Transmission-Id"),
		TransmissionTime: r.Header.Get("Payment-Transmission-Time"),
		Signature:        r.Header.Get("Payment-Transmission-Sig"),
	}
	if err := s.verifier.Verify(hdr, body); err != nil {
		if errors.Is(err, payment.ErrNotConfigured) {
			s.logger.Error("webhook rejected, verification unconfigured", "provider", provider)
			writeError(w, http.StatusBadRequest, "webhook verification is not configured")
			return
		}
		s.logger.Warn("webhook signature rejected",
			"provider", provider,
			"remote_addr", r.RemoteAddr,
			"transmission_id", hdr.TransmissionID,
			"error", err)
		writeError(w, http.StatusBadRequest, "signature verification failed")
		return
	}

	if err := s.webhooks.HandleEvent(r.Context(), provider, body); err != nil {
		switch {
		case errors.Is(err, payment.ErrMalformedEvent):
			writeError(w, http.StatusBadRequest, "malformed event")
		case errors.Is(err, payment.ErrStorage):
			s.logger.Error("webhook deferred, storage failure", "provider", provider, "error", err)
			writeError(w, http.StatusServiceUnavailable, "temporarily unavailable, please redeliver")
		default:
			s.logger.Error("webhook processing failed", "provider", provider, "error", err)
			writeError(w, http.StatusServiceUnavailable, "temporarily unavailable, please redeliver")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
