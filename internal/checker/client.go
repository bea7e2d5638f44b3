// Package checker talks to the external IMEI verification provider.
package checker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/digkill/IMEICheckBot/internal/config"
	"github.com/digkill/IMEICheckBot/internal/metrics"
	"github.com/digkill/IMEICheckBot/internal/models"
	"github.com/digkill/IMEICheckBot/pkg/logger"
)

const (
	defaultTimeout     = 15 * time.Second
	defaultMaxAttempts = 3
	defaultMaxConns    = 10
	defaultMaxIdle     = 5
)

// ProviderError is returned once the provider could not produce a result.
type ProviderError struct {
	Attempts int
	Last     string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider failed after %d attempt(s): %s", e.Attempts, e.Last)
}

type Options struct {
	URL          string
	APIKey       string
	Timeout      time.Duration
	MaxAttempts  int
	MaxConns     int
	MaxIdleConns int
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		URL:          cfg.IMEIAPIURL,
		APIKey:       cfg.IMEIAPIKey,
		Timeout:      cfg.RequestTimeout(),
		MaxAttempts:  cfg.MaxRetries,
		MaxConns:     cfg.ProviderMaxConns,
		MaxIdleConns: cfg.ProviderMaxIdleConns,
	}
}

type Client struct {
	opts    Options
	log     *slog.Logger
	slots   *semaphore.Weighted
	backoff func(attempt int) time.Duration
}

func NewClient(opts Options, log *slog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = defaultMaxConns
	}
	if opts.MaxIdleConns < 0 {
		opts.MaxIdleConns = defaultMaxIdle
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Client{
		opts:    opts,
		log:     log,
		slots:   semaphore.NewWeighted(int64(opts.MaxConns)),
		backoff: exponentialBackoff,
	}
}

// newTransport bounds connections to the provider. MaxIdleConns of zero turns
// keep-alive off; http.Transport would otherwise read it as unlimited.
func newTransport(opts Options) *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxConnsPerHost:     opts.MaxConns,
		MaxIdleConns:        opts.MaxIdleConns,
		MaxIdleConnsPerHost: opts.MaxIdleConns,
		IdleConnTimeout:     30 * time.Second,
		DisableKeepAlives:   opts.MaxIdleConns == 0,
	}
}

func exponentialBackoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}

type attemptError struct {
	msg       string
	retryable bool
}

// Check looks up identifier with the given provider service. Rate limiting,
// timeouts and connection errors are retried with exponential backoff; any other
// non-200 status fails at once.
func (c *Client) Check(ctx context.Context, identifier string, serviceID int64) (models.VerificationResult, error) {
	if err := c.slots.Acquire(ctx, 1); err != nil {
		return models.VerificationResult{}, fmt.Errorf("acquire provider slot: %w", err)
	}
	defer c.slots.Release(1)

	transport := newTransport(c.opts)
	defer transport.CloseIdleConnections()
	httpClient := &http.Client{Transport: transport, Timeout: c.opts.Timeout}

	endpoint, err := c.endpoint(identifier, serviceID)
	if err != nil {
		return models.VerificationResult{}, err
	}

	var last string
	for attempt := 0; attempt < c.opts.MaxAttempts; attempt++ {
		res, aerr := c.attempt(ctx, httpClient, endpoint)
		if aerr == nil {
			c.log.Info("provider check completed", "service_id", serviceID, "attempt", attempt+1)
			return res, nil
		}
		last = aerr.msg
		c.log.Warn("provider attempt failed", "service_id", serviceID, "attempt", attempt+1, "retryable", aerr.retryable, "err", aerr.msg)
		if !aerr.retryable {
			return models.VerificationResult{}, &ProviderError{Attempts: attempt + 1, Last: last}
		}
		if attempt == c.opts.MaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return models.VerificationResult{}, &ProviderError{Attempts: attempt + 1, Last: ctx.Err().Error()}
		case <-time.After(c.backoff(attempt)):
		}
	}
	return models.VerificationResult{}, &ProviderError{Attempts: c.opts.MaxAttempts, Last: last}
}

func (c *Client) endpoint(identifier string, serviceID int64) (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", fmt.Errorf("parse provider url: %w", err)
	}
	params := u.Query()
	params.Set("key", c.opts.APIKey)
	params.Set("service", strconv.FormatInt(serviceID, 10))
	params.Set("imei", identifier)
	u.RawQuery = params.Encode()
	return u.String(), nil
}

func (c *Client) attempt(ctx context.Context, httpClient *http.Client, endpoint string) (models.VerificationResult, *attemptError) {
	started := time.Now()
	res, aerr := c.do(ctx, httpClient, endpoint, started)
	label := "ok"
	switch {
	case aerr == nil:
	case aerr.retryable:
		label = "retryable"
	default:
		label = "fatal"
	}
	metrics.ProviderAttempts.WithLabelValues(label).Inc()
	metrics.ProviderLatency.WithLabelValues(label).Observe(time.Since(started).Seconds())
	return res, aerr
}

func (c *Client) do(ctx context.Context, httpClient *http.Client, endpoint string, started time.Time) (models.VerificationResult, *attemptError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.VerificationResult{}, &attemptError{msg: fmt.Sprintf("new request: %v", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return models.VerificationResult{}, &attemptError{msg: fmt.Sprintf("timeout after %s", time.Since(started).Round(time.Millisecond)), retryable: true}
		}
		return models.VerificationResult{}, &attemptError{msg: fmt.Sprintf("connection error: %v", redact(err)), retryable: true}
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.VerificationResult{}, &attemptError{msg: fmt.Sprintf("read response body: %v", err), retryable: true}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return models.VerificationResult{}, &attemptError{msg: "rate limited (HTTP 429)", retryable: true}
	default:
		c.log.Error("provider returned unexpected status", "status", resp.StatusCode, "body", truncateBody(rawBody))
		return models.VerificationResult{}, &attemptError{msg: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	res, err := decodeResult(rawBody)
	if err != nil {
		c.log.Error("provider returned malformed body", "err", err, "body", truncateBody(rawBody))
		return models.VerificationResult{}, &attemptError{msg: "malformed provider response"}
	}
	return res, nil
}

type wireResult struct {
	ServiceName json.RawMessage `json:"service_name"`
	IMEI        json.RawMessage `json:"imei"`
	Status      json.RawMessage `json:"status"`
	Credit      json.RawMessage `json:"credit"`
	BalanceLeft json.RawMessage `json:"balance_left"`
	Result      json.RawMessage `json:"result"`
}

func decodeResult(raw []byte) (models.VerificationResult, error) {
	var w wireResult
	if err := json.Unmarshal(raw, &w); err != nil {
		return models.VerificationResult{}, err
	}
	return models.VerificationResult{
		ServiceName: textField(w.ServiceName),
		IMEI:        textField(w.IMEI),
		Status:      textField(w.Status),
		Credit:      textField(w.Credit),
		BalanceLeft: textField(w.BalanceLeft),
		Result:      textField(w.Result),
	}, nil
}

// textField renders strings, numbers and booleans as text. Objects, arrays and
// null become empty.
func textField(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	switch trimmed[0] {
	case '{', '[':
		return ""
	}
	return trimmed
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// redact drops the request URL, which carries the API key.
func redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
