// Package payments wraps the Creem checkout API and webhook verification.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	liveAPIBase   = "https://api.creem.io/v1"
	testAPIBase   = "https://test-api.creem.io/v1"
	testKeyPrefix = "creem_test_"

	defaultClientTimeout = 30 * time.Second
)

// ErrProviderUnavailable marks transport-level failures talking to Creem.
var ErrProviderUnavailable = errors.New("payment provider unavailable")

// ErrProviderRejected marks non-200 responses from Creem.
var ErrProviderRejected = errors.New("payment provider rejected request")

// Client calls the Creem checkout API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the API base, used in tests.
func WithBaseURL(baseURL string) ClientOption {
	return func(client *Client) {
		client.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = httpClient
	}
}

// NewClient builds a Client. Test keys (creem_test_ prefix) are routed to the
// Creem test API automatically.
func NewClient(apiKey string, options ...ClientOption) *Client {
	client := &Client{
		apiKey:     apiKey,
		baseURL:    apiBaseForKey(apiKey),
		httpClient: &http.Client{Timeout: defaultClientTimeout},
	}
	for _, option := range options {
		if option != nil {
			option(client)
		}
	}
	return client
}

// CheckoutInput describes a checkout session to create.
type CheckoutInput struct {
	ProductID  string
	SuccessURL string
	Metadata   map[string]string
}

// CheckoutSession is the provider's created session.
type CheckoutSession struct {
	SessionID   string
	CheckoutURL string
}

type checkoutRequestPayload struct {
	ProductID  string            `json:"product_id"`
	RequestID  string            `json:"request_id"`
	SuccessURL string            `json:"success_url,omitempty"`
	Metadata   map[string]string `json:"metadata"`
}

type checkoutResponsePayload struct {
	ID          string `json:"id"`
	CheckoutURL string `json:"checkout_url"`
}

// CreateCheckout creates a checkout session carrying the device id and
// product selection in metadata, which the webhook echoes back.
func (client *Client) CreateCheckout(ctx context.Context, input CheckoutInput) (CheckoutSession, error) {
	payload := checkoutRequestPayload{
		ProductID:  input.ProductID,
		RequestID:  uuid.NewString(),
		SuccessURL: input.SuccessURL,
		Metadata:   input.Metadata,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("marshal checkout payload: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, client.baseURL+"/checkouts", bytes.NewReader(body))
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("build checkout request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("x-api-key", client.apiKey)

	response, err := client.httpClient.Do(request)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer func() { _ = response.Body.Close() }()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if response.StatusCode != http.StatusOK {
		return CheckoutSession{}, fmt.Errorf("%w: status %d: %s", ErrProviderRejected, response.StatusCode, strings.TrimSpace(string(responseBody)))
	}

	var parsed checkoutResponsePayload
	if err := json.Unmarshal(responseBody, &parsed); err != nil {
		return CheckoutSession{}, fmt.Errorf("%w: malformed response: %v", ErrProviderRejected, err)
	}
	if parsed.CheckoutURL == "" {
		return CheckoutSession{}, fmt.Errorf("%w: response missing checkout url", ErrProviderRejected)
	}
	return CheckoutSession{SessionID: parsed.ID, CheckoutURL: parsed.CheckoutURL}, nil
}

func apiBaseForKey(apiKey string) string {
	if strings.HasPrefix(apiKey, testKeyPrefix) {
		return testAPIBase
	}
	return liveAPIBase
}
