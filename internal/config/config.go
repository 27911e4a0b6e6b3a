// Package config loads the daemon configuration from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/autoaccept/internal/breaker"
	"github.com/ppiankov/autoaccept/internal/engine"
	"github.com/ppiankov/autoaccept/internal/lease"
	"github.com/ppiankov/autoaccept/internal/locator"
	"github.com/ppiankov/autoaccept/internal/oplog"
	"github.com/ppiankov/autoaccept/internal/refresh"
	"github.com/ppiankov/autoaccept/internal/rules"
	"github.com/ppiankov/autoaccept/internal/statusapi"
	"github.com/ppiankov/autoaccept/internal/ui"
)

// UI provider names.
const (
	ProviderBridge = "bridge"
	ProviderCDP    = "cdp"
)

// DefaultQuotaRefreshInterval is how often the leader refreshes quota data.
const DefaultQuotaRefreshInterval = refresh.DefaultInterval

// UIConfig selects how the daemon reaches the IDE.
type UIConfig struct {
	Provider string        `yaml:"provider"`
	CDPPort  int           `yaml:"cdp_port"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Config is the full daemon configuration.
type Config struct {
	Enabled              bool             `yaml:"enabled"`
	PollInterval         time.Duration    `yaml:"poll_interval"`
	QuotaRefreshInterval time.Duration    `yaml:"quota_refresh_interval"`
	UI                   UIConfig         `yaml:"ui"`
	Rules                rules.Lists      `yaml:"rules"`
	Breaker              breaker.Config   `yaml:"breaker"`
	Locator              locator.Config   `yaml:"locator"`
	API                  statusapi.Config `yaml:"api"`
	Lease                lease.Config     `yaml:"lease"`
	OplogCapacity        int              `yaml:"oplog_capacity"`
	StorePath            string           `yaml:"store_path"`
	AuditLog             string           `yaml:"audit_log"`
	HTTPAddr             string           `yaml:"http_addr"`
	GRPCAddr             string           `yaml:"grpc_addr"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Enabled:              true,
		PollInterval:         engine.DefaultPollInterval,
		QuotaRefreshInterval: DefaultQuotaRefreshInterval,
		UI: UIConfig{
			Provider: ProviderBridge,
			CDPPort:  ui.DefaultCDPPort,
			Timeout:  ui.DefaultBridgeTimeout,
		},
		Breaker: breaker.Config{
			FailureThreshold: breaker.DefaultFailureThreshold,
			ResetTimeout:     breaker.DefaultResetTimeout,
			SuccessThreshold: breaker.DefaultSuccessThreshold,
		},
		Locator:       locator.DefaultConfig(),
		API:           statusapi.DefaultConfig(),
		Lease:         lease.Config{Name: "autoaccept", StaleAfter: lease.DefaultStaleAfter, Heartbeat: lease.DefaultHeartbeat},
		OplogCapacity: oplog.DefaultCapacity,
		HTTPAddr:      "127.0.0.1:7733",
		GRPCAddr:      "127.0.0.1:7734",
	}
}

// Engine returns the hot-updatable engine settings.
func (c *Config) Engine() engine.Config {
	return engine.Config{Enabled: c.Enabled, PollInterval: c.PollInterval}
}

// Dir is the per-user state directory.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".autoaccept"
	}
	return filepath.Join(home, ".autoaccept")
}

// DefaultPath returns ~/.autoaccept/config.yaml.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Load reads the config at path, or the default path when empty.
// A missing file yields defaults; YAML overwrites only the fields it sets.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.UI.Provider) {
	case ProviderBridge, ProviderCDP:
	default:
		return fmt.Errorf("config: unknown ui.provider %q (want %s or %s)", c.UI.Provider, ProviderBridge, ProviderCDP)
	}
	if c.PollInterval < 0 || c.QuotaRefreshInterval < 0 {
		return fmt.Errorf("config: intervals must not be negative")
	}
	if c.UI.CDPPort < 0 || c.UI.CDPPort > 65535 {
		return fmt.Errorf("config: ui.cdp_port %d out of range", c.UI.CDPPort)
	}
	if c.API.Retries < 0 {
		return fmt.Errorf("config: api.retries must not be negative")
	}
	return nil
}
