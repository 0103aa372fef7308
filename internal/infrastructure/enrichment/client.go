// Package enrichment looks up third-party details in the external directory service.
package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ledgerbridge/internal/core/apperror"
	"ledgerbridge/internal/domain/posting"
)

const (
	defaultTimeout       = 5 * time.Second
	errorBodyLimit int64 = 1024
)

// ErrNotFound is returned when the directory has no record for the tax id.
var ErrNotFound = errors.New("third party not found in directory")

// Client calls GET {baseURL}/{taxID}.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

var _ posting.Enrichment = (*Client)(nil)

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithToken sends token as a bearer credential.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// NewClient builds a client. timeout bounds each lookup end to end.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("enrichment base url is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

type lookupResponse struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	IDType string `json:"id_type"`
}

// Lookup implements posting.Enrichment.
//
// Timeouts are CONNECTION_UNAVAILABLE and skip the posting attempt. Any other
// failure lets the caller classify locally.
func (c *Client) Lookup(ctx context.Context, taxID string) (*posting.EnrichedParty, error) {
	target := fmt.Sprintf("%s/%s", c.baseURL, url.PathEscape(taxID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build enrichment request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, apperror.NewConnectionUnavailable(err).WithDetail("dependency", "enrichment")
		}
		return nil, fmt.Errorf("enrichment request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return nil, fmt.Errorf("enrichment status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		if isTimeout(err) {
			return nil, apperror.NewConnectionUnavailable(err).WithDetail("dependency", "enrichment")
		}
		return nil, fmt.Errorf("decode enrichment response: %w", err)
	}

	return &posting.EnrichedParty{
		Name:   strings.TrimSpace(body.Name),
		Email:  strings.ToLower(strings.TrimSpace(body.Email)),
		IDType: strings.TrimSpace(body.IDType),
	}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
