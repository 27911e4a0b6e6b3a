// Package statusapi talks to the language server's local RPC endpoints: the
// probe used to verify a discovered port, and the user status call that
// carries quota data.
package statusapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ppiankov/autoaccept/internal/locator"
	"github.com/ppiankov/autoaccept/internal/quota"
)

const (
	StatusPath = "/exa.language_server_pb.LanguageServerService/GetUserStatus"
	ProbePath  = "/exa.language_server_pb.LanguageServerService/GetUnleashData"

	CSRFHeader     = "X-Codeium-Csrf-Token"
	ProtocolHeader = "Connect-Protocol-Version"

	maxBody = 8 << 20
)

const (
	DefaultTimeout      = 5 * time.Second
	DefaultRetries      = 3
	DefaultRetryBackoff = time.Second
)

// ErrUnavailable is returned when the status call fails after all attempts
// or no endpoint could be discovered.
var ErrUnavailable = errors.New("statusapi: language server unavailable")

// Config controls the status call.
type Config struct {
	Timeout      time.Duration `yaml:"timeout"`
	Retries      int           `yaml:"retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// DefaultConfig returns the default status call settings.
func DefaultConfig() Config {
	return Config{Timeout: DefaultTimeout, Retries: DefaultRetries, RetryBackoff: DefaultRetryBackoff}
}

// Resolver yields the current endpoint. *locator.Cache implements it.
type Resolver interface {
	Get(ctx context.Context) (locator.Endpoint, error)
	Invalidate()
}

// Client fetches user status from the discovered language server.
type Client struct {
	cfg      Config
	resolver Resolver
	http     *http.Client
	log      *slog.Logger
	schemes  []string
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates a status client.
func New(cfg Config, resolver Resolver, log *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries <= 0 {
		cfg.Retries = DefaultRetries
	}
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = 0
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		cfg:      cfg,
		resolver: resolver,
		http:     NewLoopbackClient(cfg.Timeout),
		log:      log,
		schemes:  []string{"https", "http"},
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// FetchStatus returns the parsed quota snapshot. A payload that does not
// decode still yields the default snapshot along with the error.
func (c *Client) FetchStatus(ctx context.Context) (quota.Snapshot, error) {
	raw, err := c.FetchRaw(ctx)
	if err != nil {
		return quota.Snapshot{}, err
	}
	snap, err := quota.Parse(raw, c.now())
	if err != nil {
		c.log.Debug("status payload did not decode", "err", err)
		return snap, err
	}
	return snap, nil
}

// FetchRaw performs the status call with retries. The endpoint cache is
// invalidated after every failed attempt.
func (c *Client) FetchRaw(ctx context.Context) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.Retries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, time.Duration(attempt)*c.cfg.RetryBackoff); err != nil {
				return nil, err
			}
		}

		ep, err := c.resolver.Get(ctx)
		if err != nil {
			if errors.Is(err, locator.ErrNotFound) {
				return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
			}
			lastErr = err
			continue
		}

		raw, err := c.call(ctx, ep.Port, ep.CSRFToken, StatusPath, statusRequestBody)
		if err == nil {
			return raw, nil
		}
		c.resolver.Invalidate()
		c.log.Debug("status call failed", "attempt", attempt+1, "port", ep.Port, "err", err)
		lastErr = err
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrUnavailable, c.cfg.Retries, lastErr)
}

// call tries each scheme in order and returns the first 200 body.
func (c *Client) call(ctx context.Context, port int, token, path string, body []byte) ([]byte, error) {
	var lastErr error
	for _, scheme := range c.schemes {
		raw, err := post(ctx, c.http, scheme, port, token, path, body)
		if err == nil {
			return raw, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

var statusRequestBody = mustJSON(map[string]any{
	"metadata": map[string]string{
		"ideName":       "antigravity",
		"extensionName": "autoaccept",
		"locale":        "en",
	},
})

func post(ctx context.Context, hc *http.Client, scheme string, port int, token, path string, body []byte) ([]byte, error) {
	url := scheme + "://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(port)) + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("statusapi: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ProtocolHeader, "1")
	req.Header.Set(CSRFHeader, token)

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("statusapi: %s %s: %w", scheme, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("statusapi: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("statusapi: %s %s: HTTP %d", scheme, path, resp.StatusCode)
	}
	return raw, nil
}

// NewLoopbackClient returns an HTTP client that accepts the language
// server's self-signed certificate. It refuses to dial anything but loopback.
func NewLoopbackClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: timeout}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				host, _, err := net.SplitHostPort(addr)
				if err != nil {
					return nil, err
				}
				if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
					return nil, fmt.Errorf("statusapi: refusing non-loopback address %s", addr)
				}
				return dialer.DialContext(ctx, network, addr)
			},
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // loopback only, self-signed
		},
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
