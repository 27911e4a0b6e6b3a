package ui

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// DefaultBridgeTimeout bounds one request to the host.
const DefaultBridgeTimeout = 5 * time.Second

// ErrBridgeClosed is returned once the host side of the bridge has gone away.
var ErrBridgeClosed = errors.New("ui: bridge closed")

type bridgeRequest struct {
	ID       uint64 `json:"id"`
	Op       string `json:"op"`
	Selector string `json:"selector,omitempty"`
	Text     string `json:"text,omitempty"`
	Message  string `json:"message,omitempty"`
}

type bridgeResponse struct {
	ID         uint64         `json:"id"`
	Candidates []rawCandidate `json:"candidates,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Bridge exchanges line-delimited JSON with the extension host, which runs
// the scan and simulates clicks through its own command API. It implements
// Provider and Notifier.
type Bridge struct {
	w       io.Writer
	timeout time.Duration
	log     *slog.Logger

	wmu    sync.Mutex
	mu     sync.Mutex
	nextID uint64
	wait   map[uint64]chan bridgeResponse
	closed bool
	done   chan struct{}
}

// NewBridge starts reading responses from r. Requests are written to w.
func NewBridge(r io.Reader, w io.Writer, timeout time.Duration, log *slog.Logger) *Bridge {
	if timeout <= 0 {
		timeout = DefaultBridgeTimeout
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	b := &Bridge{
		w:       w,
		timeout: timeout,
		log:     log,
		wait:    make(map[uint64]chan bridgeResponse),
		done:    make(chan struct{}),
	}
	go b.readLoop(r)
	return b
}

// Done is closed when the host stops sending.
func (b *Bridge) Done() <-chan struct{} { return b.done }

// Scan implements Provider.
func (b *Bridge) Scan(ctx context.Context) ([]Candidate, error) {
	resp, err := b.call(ctx, bridgeRequest{Op: "scan"})
	if err != nil {
		return nil, err
	}
	return filter(resp.Candidates), nil
}

// Click implements Provider.
func (b *Bridge) Click(ctx context.Context, c Candidate) error {
	_, err := b.call(ctx, bridgeRequest{Op: "click", Selector: c.Selector, Text: c.Text})
	return err
}

// Warn implements Notifier.
func (b *Bridge) Warn(ctx context.Context, message string) error {
	_, err := b.call(ctx, bridgeRequest{Op: "warn", Message: message})
	return err
}

func (b *Bridge) call(ctx context.Context, req bridgeRequest) (bridgeResponse, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return bridgeResponse{}, ErrBridgeClosed
	}
	b.nextID++
	req.ID = b.nextID
	ch := make(chan bridgeResponse, 1)
	b.wait[req.ID] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.wait, req.ID)
		b.mu.Unlock()
	}()

	line, err := json.Marshal(req)
	if err != nil {
		return bridgeResponse{}, fmt.Errorf("ui: encode %s: %w", req.Op, err)
	}
	b.wmu.Lock()
	_, err = b.w.Write(append(line, '\n'))
	b.wmu.Unlock()
	if err != nil {
		return bridgeResponse{}, fmt.Errorf("ui: write %s: %w", req.Op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	select {
	case resp, ok := <-ch:
		if !ok {
			return bridgeResponse{}, ErrBridgeClosed
		}
		if resp.Error != "" {
			return resp, fmt.Errorf("ui: host %s: %s", req.Op, resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return bridgeResponse{}, fmt.Errorf("ui: %s: %w", req.Op, ctx.Err())
	}
}

func (b *Bridge) readLoop(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	for sc.Scan() {
		var resp bridgeResponse
		if err := json.Unmarshal(sc.Bytes(), &resp); err != nil {
			b.log.Debug("bridge: bad line from host", "err", err)
			continue
		}
		b.mu.Lock()
		ch, ok := b.wait[resp.ID]
		b.mu.Unlock()
		if !ok {
			b.log.Debug("bridge: response for unknown request", "id", resp.ID)
			continue
		}
		select {
		case ch <- resp:
		default:
			b.log.Debug("bridge: duplicate response", "id", resp.ID)
		}
	}

	b.mu.Lock()
	b.closed = true
	for id, ch := range b.wait {
		close(ch)
		delete(b.wait, id)
	}
	b.mu.Unlock()
	close(b.done)
}
