// Package locator finds the IDE's local language server: its pid, the port its
// API listens on, and the CSRF token from its launch arguments.
package locator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound means no candidate process produced a verified endpoint.
var ErrNotFound = errors.New("locator: language server not found")

// ErrUnsafeArgument is returned for values that may not be placed in a shell command.
var ErrUnsafeArgument = errors.New("locator: unsafe shell argument")

// Launch flags that identify the target process.
const (
	FlagPort       = "--extension_server_port"
	FlagCSRF       = "--csrf_token"
	FlagAppDataDir = "--app_data_dir"
	AppDataMarker  = "antigravity"
)

// Endpoint is a verified local API endpoint.
type Endpoint struct {
	PID       int    `json:"pid"`
	Port      int    `json:"port"`
	CSRFToken string `json:"-"`
}

// Candidate is a process whose arguments look like the target.
type Candidate struct {
	PID          int
	DeclaredPort int
	CSRFToken    string
}

// Prober verifies that a port serves the API for the given token.
type Prober interface {
	Probe(ctx context.Context, port int, csrfToken string) bool
}

// Config holds per-step timeouts.
type Config struct {
	ScanTimeout  time.Duration `yaml:"scan_timeout"`
	PortTimeout  time.Duration `yaml:"port_timeout"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

// DefaultConfig returns the standard timeouts.
func DefaultConfig() Config {
	return Config{
		ScanTimeout:  8 * time.Second,
		PortTimeout:  5 * time.Second,
		ProbeTimeout: 3 * time.Second,
		CacheTTL:     DefaultCacheTTL,
	}
}

// Locator runs discovery through a platform strategy.
type Locator struct {
	cfg      Config
	strategy Strategy
	runner   Runner
	prober   Prober
	log      *slog.Logger
}

// New creates a Locator. Zero timeouts take defaults.
func New(cfg Config, strategy Strategy, runner Runner, prober Prober, log *slog.Logger) *Locator {
	def := DefaultConfig()
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = def.ScanTimeout
	}
	if cfg.PortTimeout <= 0 {
		cfg.PortTimeout = def.PortTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Locator{cfg: cfg, strategy: strategy, runner: runner, prober: prober, log: log}
}

// Detect returns the first verified endpoint or ErrNotFound.
// Shell and network failures are logged at debug level and never returned.
func (l *Locator) Detect(ctx context.Context) (Endpoint, error) {
	name, err := Sanitize(l.strategy.ProcessName())
	if err != nil {
		l.log.Debug("process name rejected", "name", l.strategy.ProcessName(), "err", err)
		return Endpoint{}, ErrNotFound
	}

	procs := l.list(ctx, func(ctx context.Context) ([]ProcessInfo, error) {
		return l.strategy.FindByName(ctx, l.runner, name)
	})
	if ep, ok := l.verify(ctx, Candidates(procs, true)); ok {
		return ep, nil
	}

	kf, ok := l.strategy.(KeywordFinder)
	if !ok {
		return Endpoint{}, ErrNotFound
	}
	keyword, err := Sanitize(strings.TrimLeft(FlagCSRF, "-"))
	if err != nil {
		return Endpoint{}, ErrNotFound
	}
	l.log.Debug("falling back to keyword scan", "keyword", keyword)
	procs = l.list(ctx, func(ctx context.Context) ([]ProcessInfo, error) {
		return kf.FindByKeyword(ctx, l.runner, keyword)
	})
	if ep, ok := l.verify(ctx, Candidates(procs, false)); ok {
		return ep, nil
	}
	return Endpoint{}, ErrNotFound
}

func (l *Locator) list(ctx context.Context, fn func(context.Context) ([]ProcessInfo, error)) []ProcessInfo {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.ScanTimeout)
	defer cancel()
	procs, err := fn(ctx)
	if err != nil {
		l.log.Debug("process scan failed", "strategy", l.strategy.Name(), "err", err)
		return nil
	}
	return procs
}

func (l *Locator) verify(ctx context.Context, cands []Candidate) (Endpoint, bool) {
	for _, c := range cands {
		ports := l.ports(ctx, c.PID)
		if len(ports) == 0 && c.DeclaredPort > 0 {
			ports = []int{c.DeclaredPort}
		}
		for _, port := range ports {
			pctx, cancel := context.WithTimeout(ctx, l.cfg.ProbeTimeout)
			ok := l.prober.Probe(pctx, port, c.CSRFToken)
			cancel()
			if ok {
				l.log.Debug("endpoint verified", "pid", c.PID, "port", port)
				return Endpoint{PID: c.PID, Port: port, CSRFToken: c.CSRFToken}, true
			}
			l.log.Debug("port probe failed", "pid", c.PID, "port", port)
		}
	}
	return Endpoint{}, false
}

func (l *Locator) ports(ctx context.Context, pid int) []int {
	if _, err := Sanitize(strconv.Itoa(pid)); err != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, l.cfg.PortTimeout)
	defer cancel()
	ports, err := l.strategy.ListeningPorts(ctx, l.runner, pid)
	if err != nil {
		l.log.Debug("port scan failed", "pid", pid, "err", err)
		return nil
	}
	return ports
}

// Candidates parses each process's arguments. With strict set, a process must
// carry the port, CSRF and app-data-dir flags; otherwise only the CSRF token is required.
func Candidates(procs []ProcessInfo, strict bool) []Candidate {
	var out []Candidate
	seen := make(map[int]bool)
	for _, p := range procs {
		if seen[p.PID] {
			continue
		}
		c, ok := ParseArgs(p.PID, p.CommandLine, strict)
		if !ok {
			continue
		}
		seen[p.PID] = true
		out = append(out, c)
	}
	return out
}

var (
	portArg = flagRegex(FlagPort)
	csrfArg = flagRegex(FlagCSRF)
	dirArg  = flagRegex(FlagAppDataDir)
)

// flagRegex matches "--flag=value" and "--flag value".
func flagRegex(flag string) *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(flag) + `(?:=|\s+)("[^"]*"|'[^']*'|\S+)`)
}

// ParseArgs extracts a Candidate from a process command line.
func ParseArgs(pid int, cmdline string, strict bool) (Candidate, bool) {
	token := flagValue(csrfArg, cmdline)
	if token == "" {
		return Candidate{}, false
	}

	c := Candidate{PID: pid, CSRFToken: token}
	if v := flagValue(portArg, cmdline); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port < 65536 {
			c.DeclaredPort = port
		}
	}

	if strict {
		if c.DeclaredPort == 0 {
			return Candidate{}, false
		}
		dir := flagValue(dirArg, cmdline)
		if !strings.Contains(strings.ToLower(dir), AppDataMarker) {
			return Candidate{}, false
		}
	}
	return c, true
}

func flagValue(re *regexp.Regexp, cmdline string) string {
	m := re.FindStringSubmatch(cmdline)
	if m == nil {
		return ""
	}
	v := strings.Trim(m[1], `"'`)
	if strings.HasPrefix(v, "--") {
		return ""
	}
	return v
}

var safeArg = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Sanitize rejects anything but letters, digits, dot, underscore and hyphen.
// Every value interpolated into a shell command passes through here first.
func Sanitize(s string) (string, error) {
	if !safeArg.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeArgument, s)
	}
	return s, nil
}
