package ui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

// DefaultCDPPort is the IDE's remote debugging port.
const DefaultCDPPort = 9222

// ErrNoTarget is returned when no debuggable workbench page is found.
var ErrNoTarget = errors.New("ui: no debuggable page target")

// scanScript returns visible, enabled buttons as JSON. Classification is
// done on the Go side.
const scanScript = `(() => {
  const out = [];
  const nodes = document.querySelectorAll('button, [role="button"], a.monaco-button');
  let i = 0;
  for (const el of nodes) {
    const text = (el.innerText || el.textContent || '').trim();
    if (!text || text.length > 64) continue;
    const style = window.getComputedStyle(el);
    const rect = el.getBoundingClientRect();
    const hidden = style.display === 'none' || style.visibility === 'hidden' || rect.width === 0 || rect.height === 0;
    const disabled = el.disabled === true || el.getAttribute('aria-disabled') === 'true';
    if (!el.dataset.autoacceptId) el.dataset.autoacceptId = 'aa-' + Date.now() + '-' + (i++);
    let command = '';
    const block = el.closest('[class*="terminal"], [class*="command"]');
    if (block) {
      const code = block.querySelector('pre, code');
      if (code) command = (code.innerText || '').trim();
    }
    out.push({text, command, hidden, disabled, selector: '[data-autoaccept-id="' + el.dataset.autoacceptId + '"]'});
  }
  return JSON.stringify(out);
})()`

const clickScript = `(() => {
  const el = document.querySelector(%s);
  if (!el) return false;
  el.click();
  return true;
})()`

type cdpTarget struct {
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

type cdpMessage struct {
	ID     int             `json:"id"`
	Method string          `json:"method,omitempty"`
	Params any             `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type evaluateResult struct {
	Result struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	} `json:"result"`
	ExceptionDetails *struct {
		Text string `json:"text"`
	} `json:"exceptionDetails"`
}

// CDP drives the IDE workbench over the Chrome DevTools Protocol. It
// implements Provider.
type CDP struct {
	host    string
	port    int
	timeout time.Duration
	http    *http.Client
	log     *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID int
}

// NewCDP creates a provider for the debug port on loopback.
func NewCDP(port int, timeout time.Duration, log *slog.Logger) *CDP {
	if port <= 0 {
		port = DefaultCDPPort
	}
	if timeout <= 0 {
		timeout = DefaultBridgeTimeout
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &CDP{
		host:    "127.0.0.1",
		port:    port,
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// Scan implements Provider.
func (p *CDP) Scan(ctx context.Context) ([]Candidate, error) {
	raw, err := p.evaluate(ctx, scanScript)
	if err != nil {
		return nil, err
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, fmt.Errorf("ui: scan result: %w", err)
	}
	var cands []rawCandidate
	if err := json.Unmarshal([]byte(encoded), &cands); err != nil {
		return nil, fmt.Errorf("ui: scan result: %w", err)
	}
	return filter(cands), nil
}

// Click implements Provider.
func (p *CDP) Click(ctx context.Context, c Candidate) error {
	if c.Selector == "" {
		return fmt.Errorf("ui: click %q: no selector", c.Text)
	}
	sel, err := json.Marshal(c.Selector)
	if err != nil {
		return fmt.Errorf("ui: click: %w", err)
	}
	raw, err := p.evaluate(ctx, fmt.Sprintf(clickScript, sel))
	if err != nil {
		return err
	}
	var clicked bool
	if err := json.Unmarshal(raw, &clicked); err != nil || !clicked {
		return fmt.Errorf("ui: click %q: element gone", c.Text)
	}
	return nil
}

// Close drops the websocket connection.
func (p *CDP) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropLocked()
}

func (p *CDP) dropLocked() error {
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

func (p *CDP) evaluate(ctx context.Context, expr string) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		conn, err := p.dial(ctx)
		if err != nil {
			return nil, err
		}
		p.conn = conn
	}

	deadline := time.Now().Add(p.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = p.conn.SetDeadline(deadline)

	p.nextID++
	id := p.nextID
	req := cdpMessage{ID: id, Method: "Runtime.evaluate", Params: map[string]any{
		"expression":    expr,
		"returnByValue": true,
		"awaitPromise":  true,
	}}
	if err := websocket.JSON.Send(p.conn, req); err != nil {
		_ = p.dropLocked()
		return nil, fmt.Errorf("ui: cdp send: %w", err)
	}

	for {
		var msg cdpMessage
		if err := websocket.JSON.Receive(p.conn, &msg); err != nil {
			_ = p.dropLocked()
			return nil, fmt.Errorf("ui: cdp receive: %w", err)
		}
		if msg.ID != id {
			continue // event or stale reply
		}
		if msg.Error != nil {
			return nil, fmt.Errorf("ui: cdp: %s", msg.Error.Message)
		}
		var res evaluateResult
		if err := json.Unmarshal(msg.Result, &res); err != nil {
			return nil, fmt.Errorf("ui: cdp result: %w", err)
		}
		if res.ExceptionDetails != nil {
			return nil, fmt.Errorf("ui: script exception: %s", res.ExceptionDetails.Text)
		}
		return res.Result.Value, nil
	}
}

func (p *CDP) dial(ctx context.Context) (*websocket.Conn, error) {
	target, err := p.findTarget(ctx)
	if err != nil {
		return nil, err
	}
	cfg, err := websocket.NewConfig(target.WebSocketDebuggerURL, "http://"+p.host)
	if err != nil {
		return nil, fmt.Errorf("ui: cdp config: %w", err)
	}
	conn, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("ui: cdp dial: %w", err)
	}
	p.log.Debug("cdp connected", "title", target.Title)
	return conn, nil
}

func (p *CDP) findTarget(ctx context.Context) (cdpTarget, error) {
	url := "http://" + net.JoinHostPort(p.host, strconv.Itoa(p.port)) + "/json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return cdpTarget{}, fmt.Errorf("ui: cdp targets: %w", err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return cdpTarget{}, fmt.Errorf("ui: cdp targets: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return cdpTarget{}, fmt.Errorf("ui: cdp targets: HTTP %d", resp.StatusCode)
	}
	var targets []cdpTarget
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return cdpTarget{}, fmt.Errorf("ui: cdp targets: %w", err)
	}
	return pickTarget(targets)
}

// pickTarget prefers the workbench page over other pages.
func pickTarget(targets []cdpTarget) (cdpTarget, error) {
	var fallback *cdpTarget
	for i := range targets {
		t := targets[i]
		if t.Type != "page" || t.WebSocketDebuggerURL == "" {
			continue
		}
		if strings.Contains(t.URL, "workbench") {
			return t, nil
		}
		if fallback == nil {
			fallback = &targets[i]
		}
	}
	if fallback == nil {
		return cdpTarget{}, ErrNoTarget
	}
	return *fallback, nil
}
