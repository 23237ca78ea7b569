// Package apiclient is the buyer-side client for the storefront API. It
// reuses the provider client's resilience layer so reads retry through
// transient failures while writes go out exactly once.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"storefront/internal/external"
	"storefront/internal/types"
)

const userAgent = "Storefront-Client/1.0"

// maxErrorBody bounds how much of an unexpected error body is kept.
const maxErrorBody = 4 << 10

// Config holds the settings for New.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
	// Options are applied to both underlying BaseClients (tests inject a
	// no-op sleep here).
	Options []external.BaseClientOption
}

// Client calls the storefront API. Reads (catalog, client config) retry on
// 429/5xx; checkout and verification are never replayed, and their 5xx
// bodies are handed back so the caller can read the JSON verdict.
type Client struct {
	read    *external.BaseClient
	write   *external.BaseClient
	baseURL string
	logger  *slog.Logger
}

// APIError is a non-success answer from the storefront API that carries the
// server's error body.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("storefront api returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("storefront api returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// New builds a Client with separate breakers for reads and writes.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	readOpts := append([]external.BaseClientOption{external.WithLogger(logger)}, cfg.Options...)
	writeOpts := append([]external.BaseClientOption{
		external.WithLogger(logger),
		external.WithServerErrorPassthrough(),
	}, cfg.Options...)

	read := external.NewBaseClient(httpClient, "storefront-read", external.DefaultRetryPolicy(), userAgent, readOpts...)
	write := external.NewBaseClient(httpClient, "storefront-write", external.RetryPolicy{}, userAgent, writeOpts...)
	return NewWithBase(read, write, cfg.BaseURL, logger)
}

// NewWithBase builds a Client over pre-configured BaseClients.
func NewWithBase(read, write *external.BaseClient, baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		read:    read,
		write:   write,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// Prices returns the active catalog.
func (c *Client) Prices(ctx context.Context) ([]types.Product, error) {
	var out types.PricesResponse
	if err := c.get(ctx, "/prices", &out); err != nil {
		return nil, err
	}
	return out.Products, nil
}

// ClientConfig returns the publishable key and payment method family.
func (c *Client) ClientConfig(ctx context.Context) (*types.ClientConfigResponse, error) {
	var out types.ClientConfigResponse
	if err := c.get(ctx, "/client-config", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Checkout opens a payment intent for priceID on behalf of email.
func (c *Client) Checkout(ctx context.Context, req types.CheckoutRequest) (*types.CheckoutResponse, error) {
	resp, err := c.post(ctx, "/checkout", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}
	var out types.CheckoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamBadResponse, "checkout: failed to decode response", err)
	}
	if !out.Success || out.ClientSecret == "" {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "checkout response carried no client secret"}
	}
	return &out, nil
}

// Verify asks the server for an intent's verdict. 400 and 500 answers are
// verdicts too (success=false with a message) and are returned without an
// error; only transport failures and unexpected statuses produce one.
func (c *Client) Verify(ctx context.Context, req types.VerifyRequest) (*types.VerifyResponse, error) {
	resp, err := c.post(ctx, "/verify-payment", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusBadRequest, http.StatusInternalServerError:
	default:
		return nil, readAPIError(resp)
	}

	var out types.VerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamBadResponse,
			fmt.Sprintf("verify: failed to decode %d response", resp.StatusCode),
			err,
		)
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.read.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamBadResponse, "GET "+path+": failed to decode response", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.DebugContext(ctx, "storefront api call", "path", path)
	return c.write.Do(req)
}

// errorBody mirrors the server's flat error envelope.
type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
	// Message is used by /verify-payment style bodies.
	Message string `json:"message"`
}

func readAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		apiErr.Message = strings.TrimSpace(string(raw))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	apiErr.Code = body.Code
	apiErr.RequestID = body.RequestID
	apiErr.Message = body.Error
	if apiErr.Message == "" {
		apiErr.Message = body.Message
	}
	return apiErr
}
