package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbasket/commerce/internal/domain/payment"
)

const testSecret = "whsec_test"

func sign(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(body)
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func frozenVerifier(at time.Time) *WebhookVerifier {
	v := NewWebhookVerifier(testSecret)
	v.now = func() time.Time { return at }
	return v
}

func TestVerifyAndParse(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`)

	ev, err := frozenVerifier(now).VerifyAndParse(body, sign(testSecret, now.Unix(), body))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, payment.EventPaymentSucceeded, ev.Type)
	assert.Equal(t, "pi_1", ev.IntentID)
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`)
	header := sign(testSecret, now.Unix(), body)

	tampered := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_other"}}}`)
	_, err := frozenVerifier(now).VerifyAndParse(tampered, header)
	assert.Error(t, err)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte(`{"id":"evt_1"}`)

	_, err := frozenVerifier(now).VerifyAndParse(body, sign("whsec_other", now.Unix(), body))
	assert.Error(t, err)
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte(`{"id":"evt_1"}`)
	stale := now.Add(-6 * time.Minute).Unix()

	_, err := frozenVerifier(now).VerifyAndParse(body, sign(testSecret, stale, body))
	assert.Error(t, err)
}

func TestVerifyAcceptsSecondV1Signature(t *testing.T) {
	// During secret rotation Stripe sends multiple v1 entries.
	now := time.Unix(1700000000, 0)
	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`)
	good := sign(testSecret, now.Unix(), body)
	header := fmt.Sprintf("t=%d,v1=%s,%s", now.Unix(), hex.EncodeToString(make([]byte, 32)), good[len(fmt.Sprintf("t=%d,", now.Unix())):])

	ev, err := frozenVerifier(now).VerifyAndParse(body, header)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
}

func TestVerifyRejectsMalformedHeaders(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte(`{"id":"evt_1"}`)
	v := frozenVerifier(now)

	for _, header := range []string{
		"",
		"v1=deadbeef",
		fmt.Sprintf("t=%d", now.Unix()),
		"t=abc,v1=deadbeef",
	} {
		_, err := v.VerifyAndParse(body, header)
		assert.Error(t, err, "header %q", header)
	}
}
