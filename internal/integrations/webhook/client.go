package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"messaging-ledger/internal/domain"
	"messaging-ledger/internal/integrations/eventbus"
)

// deliveryRequest is the body POSTed for each committed call.
type deliveryRequest struct {
	Events []eventbus.Envelope `json:"events"`
}

// tokenPayload is the expected JSON shape stored in SSM for the bearer token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx responses from the receiving endpoint.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("webhook: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client delivers committed events to an HTTP endpoint.
type Client struct {
	url         string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	tokenMu sync.Mutex
	token   string
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client posting to endpoint. The bearer token is fetched
// from SSM on first use and kept once a fetch succeeds.
func NewClient(ps Getter, paramPrefix, endpoint string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("webhook: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("webhook: parameter prefix must not be empty")
	}
	endpoint = strings.TrimSpace(endpoint)
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("webhook: invalid endpoint %q", endpoint)
	}
	c := &Client{
		url:         endpoint,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// resolveToken caches the token after the first successful fetch. A failed
// fetch is retried on the next delivery.
func (c *Client) resolveToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	token, err := fetchTokenFromParamStore(ctx, c.getter, c.tokenParameterName())
	if err != nil {
		return "", err
	}
	c.token = token
	return token, nil
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/webhook-token"
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// Publish POSTs the events of one call as a single JSON document. The call id
// is sent as Idempotency-Key so receivers can drop redeliveries.
func (c *Client) Publish(ctx context.Context, events []domain.EventRecord) error {
	if len(events) == 0 {
		return nil
	}

	token, err := c.resolveToken(ctx)
	if err != nil {
		return err
	}

	envelopes := make([]eventbus.Envelope, 0, len(events))
	for _, rec := range events {
		envelopes = append(envelopes, eventbus.NewEnvelope(rec))
	}
	body, err := json.Marshal(deliveryRequest{Events: envelopes})
	if err != nil {
		return fmt.Errorf("webhook: marshal request: %w", err)
	}

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if reqErr != nil {
		return fmt.Errorf("webhook: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Idempotency-Key", events[0].CallID)

	if err := c.doJSONRequest(req, c.url); err != nil {
		return fmt.Errorf("webhook: delivery failed: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"function": "webhook.Publish",
		"count":    len(events),
		"callId":   events[0].CallID,
	}).Debug("events delivered")
	return nil
}

// doJSONRequest sends req and reports non-2xx responses as *HTTPStatusError.
// The body of a successful response is discarded.
func (c *Client) doJSONRequest(req *http.Request, url string) error {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

func fetchTokenFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("webhook: paramstore getter is nil")
	}
	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("webhook: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("webhook: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", errors.New("webhook: token is empty")
	}
	return tp.Token, nil
}
