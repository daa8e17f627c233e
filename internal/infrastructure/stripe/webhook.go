package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/openbasket/commerce/internal/domain/payment"
)

// SignatureHeader is the request header carrying the webhook signature.
const SignatureHeader = "Stripe-Signature"

const defaultTolerance = 5 * time.Minute

// WebhookVerifier checks Stripe's `t=<unix>,v1=<hmac>` signature scheme
// against the shared endpoint secret. Verification fails closed: any parse
// problem, stale timestamp or signature mismatch rejects the event.
type WebhookVerifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{
		secret:    []byte(secret),
		tolerance: defaultTolerance,
		now:       time.Now,
	}
}

type eventEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
	} `json:"data"`
}

func (v *WebhookVerifier) VerifyAndParse(body []byte, signatureHeader string) (*payment.Event, error) {
	timestamp, signatures, err := parseSignatureHeader(signatureHeader)
	if err != nil {
		return nil, err
	}

	age := v.now().Sub(time.Unix(timestamp, 0))
	if age > v.tolerance || age < -v.tolerance {
		return nil, fmt.Errorf("timestamp outside tolerance")
	}

	expected := computeSignature(v.secret, timestamp, body)
	verified := false
	for _, sig := range signatures {
		if hmac.Equal(sig, expected) {
			verified = true
			break
		}
	}
	if !verified {
		return nil, fmt.Errorf("no matching v1 signature")
	}

	var env eventEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("parse event payload: %w", err)
	}
	return &payment.Event{
		ID:       env.ID,
		Type:     payment.EventType(env.Type),
		IntentID: env.Data.Object.ID,
	}, nil
}

func parseSignatureHeader(header string) (timestamp int64, signatures [][]byte, err error) {
	if header == "" {
		return 0, nil, fmt.Errorf("missing signature header")
	}
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			timestamp, err = strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("malformed timestamp")
			}
		case "v1":
			sig, decodeErr := hex.DecodeString(value)
			if decodeErr != nil {
				continue
			}
			signatures = append(signatures, sig)
		}
	}
	if timestamp == 0 || len(signatures) == 0 {
		return 0, nil, fmt.Errorf("malformed signature header")
	}
	return timestamp, signatures, nil
}

func computeSignature(secret []byte, timestamp int64, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(body)
	return mac.Sum(nil)
}
