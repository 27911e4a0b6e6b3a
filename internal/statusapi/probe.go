package statusapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Prober verifies a candidate port by calling the probe RPC. It implements
// locator.Prober.
type Prober struct {
	http    *http.Client
	schemes []string
}

// NewProber creates a prober whose per-request timeout is timeout.
func NewProber(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Prober{http: NewLoopbackClient(timeout), schemes: []string{"https", "http"}}
}

// Probe reports whether port answers the probe RPC with HTTP 200 and a JSON
// object body.
func (p *Prober) Probe(ctx context.Context, port int, csrfToken string) bool {
	for _, scheme := range p.schemes {
		raw, err := post(ctx, p.http, scheme, port, csrfToken, ProbePath, []byte(`{"wrapper_data":{}}`))
		if err != nil {
			continue
		}
		var obj map[string]json.RawMessage
		if json.Unmarshal(raw, &obj) == nil {
			return true
		}
	}
	return false
}
