package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"time"
)

var (
	// ErrBadSignature covers every verification failure. The handler
	// maps it to a 4xx and logs the attempt.
	ErrBadSignature = errors.New("webhook signature verification failed")

	// ErrNotConfigured means the webhook secret or id is missing from
	// the environment; deliveries cannot be trusted until it is set.
	ErrNotConfigured = errors.New("webhook verification is not configured")
)

// SignatureHeader carries the provider's transmission headers verbatim.
type SignatureHeader struct {
	TransmissionID   string
	TransmissionTime string
	Signature        string
}

// Verifier checks webhook deliveries against the shared secret. The
// signature is an HMAC-SHA256 over
//
//	transmissionID|transmissionTime|webhookID|crc32(body)
//
// hex-encoded by the provider. Transmission time must fall within the
// configured clock-skew window, which bounds replay of a captured
// delivery.
type Verifier struct {
	webhookID string
	secret    []byte
	skew      time.Duration
	now       func() time.Time
}

func NewVerifier(webhookID, secret string, skew time.Duration) *Verifier {
	return &Verifier{
		webhookID: webhookID,
		secret:    []byte(secret),
		skew:      skew,
		now:       time.Now,
	}
}

func (v *Verifier) Verify(h SignatureHeader, body []byte) error {
	if v.webhookID == "" || len(v.secret) == 0 {
		return ErrNotConfigured
	}
	if h.TransmissionID == "" || h.TransmissionTime == "" || h.Signature == "" {
		return fmt.Errorf("%w: missing transmission headers", ErrBadSignature)
	}

	sent, err := time.Parse(time.RFC3339, h.TransmissionTime)
	if err != nil {
		return fmt.Errorf("%w: unparseable transmission time", ErrBadSignature)
	}
	if drift := v.now().Sub(sent); drift > v.skew || drift < -v.skew {
		return fmt.Errorf("%w: transmission time outside the accepted window", ErrBadSignature)
	}

	got, err := hex.DecodeString(h.Signature)
	if err != nil {
		return fmt.Errorf("%w: signature is not hex", ErrBadSignature)
	}

	base := fmt.Sprintf("%s|%s|%s|%d",
		h.TransmissionID, h.TransmissionTime, v.webhookID, crc32.ChecksumIEEE(body))
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(base))
	if !hmac.Equal(mac.Sum(nil), got) {
		return fmt.Errorf("%w: digest mismatch", ErrBadSignature)
	}
	return nil
}
