// Package gateway is the boundary to the external mobile-money payment
// processor: an outbound HTTP request to start a payment and an inbound
// signed callback that reports the outcome.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// ProcessPath is appended to the configured base URL.
const ProcessPath = "/api/v1/payments/process/"

// DefaultTimeout bounds a payment request when none is configured.
const DefaultTimeout = 10 * time.Second

// ErrUnavailable covers network errors, timeouts and 5xx responses.
var ErrUnavailable = errors.New("gateway: unavailable")

// RejectedError is returned for 4xx responses.
type RejectedError struct {
	StatusCode int
	Reason     string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("gateway: rejected (%d): %s", e.StatusCode, e.Reason)
}

// PaymentRequest is the body posted to the processor.
type PaymentRequest struct {
	OrderID     string `json:"order_id"`
	UserID      uint64 `json:"user_id"`
	Amount      string `json:"amount"`
	TillNumber  string `json:"till_number"`
	PhoneNumber string `json:"phone_number"`
	// IdempotencyKey is sent as a header so a retried request is not
	// charged twice by the processor.
	IdempotencyKey string `json:"-"`
}

// Acceptance describes a 2xx answer.
type Acceptance struct {
	StatusCode int
	Reference  string
	Message    string
}

// Client posts payment requests to the processor.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client.  timeout of zero uses DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// processorReply covers the field names the processor has used for its
// reference and message.
type processorReply struct {
	TransactionID     string `json:"transaction_id"`
	CheckoutRequestID string `json:"checkout_request_id"`
	Reference         string `json:"reference"`
	Message           string `json:"message"`
	Error             string `json:"error"`
	Detail            string `json:"detail"`
}

func (r processorReply) reference() string {
	for _, s := range []string{r.TransactionID, r.CheckoutRequestID, r.Reference} {
		if s != "" {
			return s
		}
	}
	return ""
}

func (r processorReply) reason() string {
	for _, s := range []string{r.Error, r.Detail, r.Message} {
		if s != "" {
			return s
		}
	}
	return ""
}

// RequestPayment asks the processor to collect req.Amount.  A 2xx reply
// is an Acceptance; 4xx is a *RejectedError; anything else, including a
// timeout, wraps ErrUnavailable.
func (c *Client) RequestPayment(ctx context.Context, req PaymentRequest) (Acceptance, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Acceptance{}, fmt.Errorf("gateway: marshal: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ProcessPath, bytes.NewReader(body))
	if err != nil {
		return Acceptance{}, fmt.Errorf("gateway: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Acceptance{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		log.Printf("gateway: order %s: read body of %d response after %d bytes: %v", req.OrderID, resp.StatusCode, len(raw), err)
	}

	var reply processorReply
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &reply); err != nil && resp.StatusCode < 300 {
			log.Printf("gateway: order %s: decode %d response: %v", req.OrderID, resp.StatusCode, err)
		}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Acceptance{StatusCode: resp.StatusCode, Reference: reply.reference(), Message: reply.Message}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		reason := reply.reason()
		if reason == "" {
			reason = strings.TrimSpace(string(raw))
		}
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		return Acceptance{}, &RejectedError{StatusCode: resp.StatusCode, Reason: reason}
	default:
		return Acceptance{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
}
