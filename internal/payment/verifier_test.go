package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWebhookID = "WH-TEST-001"
	testSecret    = "super-secret"
)

func sign(t *testing.T, secret, transmissionID, transmissionTime string, body []byte) string {
	t.Helper()
	base := fmt.Sprintf("%s|%s|%s|%d", transmissionID, transmissionTime, testWebhookID, crc32.ChecksumIEEE(body))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	return hex.EncodeToString(mac.Sum(nil))
}

func frozenVerifier(t *testing.T, at time.Time) *Verifier {
	t.Helper()
	v := NewVerifier(testWebhookID, testSecret, 5*time.Minute)
	v.now = func() time.Time { return at }
	return v
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	v := frozenVerifier(t, now)
	body := []byte(`{"id":"evt-1"}`)
	sentAt := now.Add(-30 * time.Second).Format(time.RFC3339)

	err := v.Verify(SignatureHeader{
		TransmissionID:   "tx-1",
		TransmissionTime: sentAt,
		Signature:        sign(t, testSecret, "tx-1", sentAt, body),
	}, body)

	assert.NoError(t, err)
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	v := frozenVerifier(t, now)
	sentAt := now.Format(time.RFC3339)
	sig := sign(t, testSecret, "tx-1", sentAt, []byte(`{"amount":"10.00"}`))

	err := v.Verify(SignatureHeader{
		TransmissionID:   "tx-1",
		TransmissionTime: sentAt,
		Signature:        sig,
	}, []byte(`{"amount":"9999.00"}`))

	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	v := frozenVerifier(t, now)
	body := []byte(`{}`)
	sentAt := now.Format(time.RFC3339)

	err := v.Verify(SignatureHeader{
		TransmissionID:   "tx-1",
		TransmissionTime: sentAt,
		Signature:        sign(t, "some-other-secret", "tx-1", sentAt, body),
	}, body)

	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifyRejectsStaleTransmission(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	v := frozenVerifier(t, now)
	body := []byte(`{}`)
	sentAt := now.Add(-6 * time.Minute).Format(time.RFC3339)

	err := v.Verify(SignatureHeader{
		TransmissionID:   "tx-1",
		TransmissionTime: sentAt,
		Signature:        sign(t, testSecret, "tx-1", sentAt, body),
	}, body)

	require.ErrorIs(t, err, ErrBadSignature)
	assert.Contains(t, err.Error(), "window")
}

func TestVerifyToleratesSmallClockDrift(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	v := frozenVerifier(t, now)
	body := []byte(`{}`)
	// Provider clock runs two minutes ahead.
	sentAt := now.Add(2 * time.Minute).Format(time.RFC3339)

	err := v.Verify(SignatureHeader{
		TransmissionID:   "tx-1",
		TransmissionTime: sentAt,
		Signature:        sign(t, testSecret, "tx-1", sentAt, body),
	}, body)

	assert.NoError(t, err)
}

func TestVerifyRejectsMissingHeaders(t *testing.T) {
	v := frozenVerifier(t, time.Now())

	err := v.Verify(SignatureHeader{}, []byte(`{}`))

	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifyRejectsNonHexSignature(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	v := frozenVerifier(t, now)

	err := v.Verify(SignatureHeader{
		TransmissionID:   "tx-1",
		TransmissionTime: now.Format(time.RFC3339),
		Signature:        "not hex at all",
	}, []byte(`{}`))

	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifyUnconfigured(t *testing.T) {
	v := NewVerifier("", "", 5*time.Minute)

	err := v.Verify(SignatureHeader{
		TransmissionID:   "tx-1",
		TransmissionTime: time.Now().Format(time.RFC3339),
		Signature:        "00",
	}, []byte(`{}`))

	assert.ErrorIs(t, err, ErrNotConfigured)
}
