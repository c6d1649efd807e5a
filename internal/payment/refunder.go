// Package payment talks to the external payment provider. Only the refund
// call and webhook signatures live here; card handling is the provider's.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/iliyamo/travel-booking/internal/booking"
)

// Refunder asks the provider to return money held for a booking.
type Refunder interface {
	Refund(ctx context.Context, r booking.RefundRequest) error
}

type refundBody struct {
	BookingID   string `json:"booking_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	Reason      string `json:"reason"`
}

// HTTPRefunder posts refunds to the provider's REST API.
type HTTPRefunder struct {
	BaseURL    string
	Secret     []byte
	HTTPClient *http.Client
}

func NewHTTPRefunder(baseURL string, secret []byte, timeout time.Duration) *HTTPRefunder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPRefunder{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Secret:     secret,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// Refund is safe to retry: the booking id is sent as the idempotency key and
// a 409 from the provider means the refund already happened.
func (c *HTTPRefunder) Refund(ctx context.Context, r booking.RefundRequest) error {
	body, err := json.Marshal(refundBody{
		BookingID:   r.BookingID,
		AmountCents: r.AmountCents,
		Currency:    r.Currency,
		Reason:      "booking " + strings.ToLower(string(r.PaymentStatus)) + " refund",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal refund body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/refunds", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "refund-"+r.BookingID)
	if len(c.Secret) > 0 {
		req.Header.Set(SignatureHeader, Sign(c.Secret, body))
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("refund request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300, resp.StatusCode == http.StatusConflict:
		return nil
	default:
		return fmt.Errorf("refund rejected by provider: status %d", resp.StatusCode)
	}
}
