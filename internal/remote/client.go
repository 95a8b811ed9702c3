package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tabvault/tabvault/internal/signing"
	"go.uber.org/zap"
)

var (
	errMissingBaseURL = errors.New("remote: base url is required")
	errMissingSigner  = errors.New("remote: signer is required for auth flows")
)

// TokenSource supplies the bearer credential for protected calls. The
// session manager implements it.
type TokenSource interface {
	Token() string
	TokenExpired() bool
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Tokens     TokenSource
	Signer     *signing.Signer
	Logger     *zap.Logger
}

// Client is the typed HTTP gateway to the remote service. Failed calls
// surface once; there is no retry or backoff at this layer.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	signer     *signing.Signer
	logger     *zap.Logger
}

// NewClient constructs a Client from its configuration.
func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		tokens:     cfg.Tokens,
		signer:     cfg.Signer,
		logger:     logger,
	}, nil
}

// do performs one JSON round-trip. When requiresAuth is set and no usable
// token is held, the call fails with ErrAuthRequired without touching the
// network. A 204 response succeeds without decoding; any other success
// status decodes into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any, requiresAuth bool) error {
	var token string
	if requiresAuth {
		if c.tokens == nil {
			return ErrAuthRequired
		}
		token = c.tokens.Token()
		if token == "" || c.tokens.TokenExpired() {
			return ErrAuthRequired
		}
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	if requiresAuth {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		payload := map[string]any{}
		raw, readErr := io.ReadAll(response.Body)
		if readErr == nil {
			if err := json.Unmarshal(raw, &payload); err != nil {
				payload = map[string]any{}
			}
		}
		remoteErr := &Error{StatusCode: response.StatusCode, Payload: payload}
		c.logger.Warn("remote call failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", response.StatusCode))
		return remoteErr
	}

	if response.StatusCode == http.StatusNoContent || out == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("remote: decoding %s %s response: %w", method, path, err)
	}
	return nil
}
