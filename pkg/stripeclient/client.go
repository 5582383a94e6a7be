/**
 * @description
 * This package provides a client for the payment processor's REST API. It
 * encapsulates the logic for making authenticated HTTP requests to the
 * checkout-session endpoints, handling request body construction, and parsing
 * responses.
 *
 * @notes
 * - The processor expects form-encoded request bodies and returns JSON.
 * - Every call carries a bounded timeout; 5xx responses are retried once.
 *
 * @dependencies
 * - context, net/http, net/url, encoding/json, fmt, io, strings, time: Standard Go libraries.
 */
package stripeclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNotConfigured is returned when the client is missing its API key. The
// caller surfaces this as a deployment/config error, not a payment failure.
var ErrNotConfigured = errors.New("stripe client is not configured")

// Client is a client for the payment processor API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new payment-processor API client.
func NewClient(baseURL, apiKey string) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://api.stripe.com"
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Configured reports whether the client has an API key.
func (c *Client) Configured() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

// CheckoutSessionParams describes an outbound checkout session.
type CheckoutSessionParams struct {
	SuccessURL        string
	CancelURL         string
	AmountCents       int64
	Currency          string
	ProductName       string
	CustomerEmail     string
	Metadata          map[string]string
	PaymentMethodType string // defaults to "card"
}

// CheckoutSession is the processor's checkout-session resource.
type CheckoutSession struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	PaymentIntent string            `json:"payment_intent"`
	PaymentStatus string            `json:"payment_status"` // 'paid' | 'unpaid' | 'no_payment_required'
	Status        string            `json:"status"`         // 'open' | 'complete' | 'expired'
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata"`
}

type sessionList struct {
	Data []CheckoutSession `json:"data"`
}

// APIError represents an error response from the processor.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stripe api error (status %d): %s %s", e.StatusCode, e.Code, e.Message)
}

// CreateCheckoutSession creates a hosted checkout session for one screening
// purchase. Metadata carries our correlation IDs so every later webhook event
// echoes them back.
func (c *Client) CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", params.SuccessURL)
	form.Set("cancel_url", params.CancelURL)
	methodType := params.PaymentMethodType
	if methodType == "" {
		methodType = "card"
	}
	form.Set("payment_method_types[0]", methodType)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(params.Currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(params.AmountCents, 10))
	form.Set("line_items[0][price_data][product_data][name]", params.ProductName)
	if params.CustomerEmail != "" {
		form.Set("customer_email", params.CustomerEmail)
	}
	for key, value := range params.Metadata {
		form.Set(fmt.Sprintf("metadata[%s]", key), value)
		form.Set(fmt.Sprintf("payment_intent_data[metadata][%s]", key), value)
	}

	var session CheckoutSession
	if err := c.do(ctx, "POST", "/v1/checkout/sessions", form, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetCheckoutSession retrieves one checkout session by id. Used by the
// manual-confirmation fallback when the webhook has not yet arrived.
func (c *Client) GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	var session CheckoutSession
	if err := c.do(ctx, "GET", "/v1/checkout/sessions/"+url.PathEscape(sessionID), nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// ListSessionsByPaymentIntent is the best-effort secondary lookup used when a
// payment_intent.succeeded event carries no metadata: the session created for
// that intent carries ours.
func (c *Client) ListSessionsByPaymentIntent(ctx context.Context, paymentIntentID string) ([]CheckoutSession, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	var list sessionList
	path := "/v1/checkout/sessions?payment_intent=" + url.QueryEscape(paymentIntentID) + "&limit=1"
	if err := c.do(ctx, "GET", path, nil, &list); err != nil {
		return nil, err
	}
	return list.Data, nil
}

// do executes one API request with a single retry on 5xx responses.
func (c *Client) do(ctx context.Context, method, path string, form url.Values, out any) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		retryable, err := c.doOnce(ctx, method, path, form, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
		log.Printf("level=warn component=stripe_client op=%s path=%s attempt=%d msg=\"retrying after server error\" err=%v", method, path, attempt+1, err)
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, method, path string, form url.Values, out any) (retryable bool, err error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return false, fmt.Errorf("failed to create stripe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		// Transport-level failures (including timeouts) get the one retry.
		return true, fmt.Errorf("failed to execute stripe request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("failed to read stripe response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var wrapper struct {
			Error APIError `json:"error"`
		}
		if jsonErr := json.Unmarshal(bodyBytes, &wrapper); jsonErr == nil {
			apiErr.Code = wrapper.Error.Code
			apiErr.Message = wrapper.Error.Message
		}
		log.Printf("level=warn component=stripe_client op=%s path=%s status=%d code=%q msg=%q", method, path, resp.StatusCode, apiErr.Code, apiErr.Message)
		return resp.StatusCode >= 500, apiErr
	}

	if out != nil {
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return false, fmt.Errorf("failed to decode stripe response: %w", err)
		}
	}
	return false, nil
}
