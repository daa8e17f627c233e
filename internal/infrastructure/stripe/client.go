// Package stripe is a thin adapter to the Stripe payment processor. The
// application layer depends only on the payment.Gateway and
// payment.EventVerifier ports, so this package stays swappable and tests run
// against fakes.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/openbasket/commerce/internal/domain/payment"
)

const DefaultBaseURL = "https://api.stripe.com"

// Client creates PaymentIntents over the Stripe HTTP API. Every call is
// bounded by the configured timeout; a timeout is a gateway-unavailable
// outcome, never success.
type Client struct {
	apiKey  string
	baseURL string
	httpc   *http.Client
}

func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: timeout},
	}
}

type intentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Error        *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) CreateIntent(ctx context.Context, amountMinor int64, currency string, meta payment.Metadata) (*payment.Intent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amountMinor, 10))
	form.Set("currency", currency)
	form.Set("metadata[shopperId]", meta.ShopperID)
	form.Set("metadata[orderId]", meta.OrderID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/payment_intents", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", payment.ErrUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", payment.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", payment.ErrUnavailable, err)
	}

	var parsed intentResponse
	if err := json.Unmarshal(body, &parsed); err != nil && resp.StatusCode < 500 {
		return nil, fmt.Errorf("%w: decode response: %v", payment.ErrRejected, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", payment.ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		msg := "unknown error"
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, fmt.Errorf("%w: %s", payment.ErrRejected, msg)
	}

	if parsed.ID == "" || parsed.ClientSecret == "" {
		return nil, fmt.Errorf("%w: incomplete payment intent response", payment.ErrRejected)
	}
	return &payment.Intent{ID: parsed.ID, ClientSecret: parsed.ClientSecret}, nil
}
