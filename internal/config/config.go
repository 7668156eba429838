// Package config loads ChatForge's runtime settings with
// github.com/spf13/viper, in the pattern of kubilitics-ai's
// viperConfigManager: defaults first, then an optional YAML file, then
// CHATFORGE_-prefixed environment variables, highest priority last.
package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the full set of settings the binary needs at startup.
type Config struct {
	Server struct {
		Addr           string
		RequestTimeout int // seconds, matches internal/httpapi's middleware.Timeout
	}

	Database struct {
		URL string
	}

	Crypto struct {
		// MasterKeyHex is the 32-byte nacl/secretbox key, hex-encoded,
		// per SPEC_FULL.md §4.8's "configured encryption master key".
		MasterKeyHex string
	}

	Pipeline struct {
		MaxToolIterations int
		ToolTimeoutSeconds int
		MaxToolConcurrency int
	}

	Tools struct {
		WebSearchAggregatorBaseURL string
		CursorCacheSize            int
		CursorCacheTTLSeconds      int
		CursorSweepCron            string

		// MCPServerURL, when set, is an HTTP-transport MCP server whose
		// tools are discovered at startup and merged into the registry
		// alongside the built-ins, per SPEC_FULL.md's "MCP-backed
		// pluggable tool source" domain-stack entry. Empty disables it.
		MCPServerURL string
	}

	Logging struct {
		Level  string
		Format string
	}

	// Telemetry controls the pkg/telemetry OpenTelemetry spans emitted
	// around C9's pipeline.handle and C7's orchestrator.step; disabled
	// by default since spec.md treats metrics/tracing infrastructure as
	// an external, out-of-scope collaborator.
	Telemetry struct {
		Enabled bool
	}

	// ModelAliases maps a short, operator-chosen name (e.g. "fast") to
	// the literal model id a provider expects (e.g. "gpt-4o-mini"),
	// registered process-wide into pkg/registry at startup per
	// SPEC_FULL.md §9's "model alias resolution within one process"
	// design note.
	ModelAliases map[string]string
}

// Manager is the runtime interface cmd/chatforge consumes: load once,
// read the parsed Config, and receive live-reload notifications for the
// handful of settings that are safe to change without a restart.
type Manager interface {
	Load() error
	Get() *Config
	Watch() <-chan Config
}

type viperManager struct {
	v          *viper.Viper
	configPath string
	config     *Config
	watchCh    chan Config
}

// New constructs a Manager reading from configPath (a YAML file; may be
// empty, in which case only defaults and environment variables apply).
func New(configPath string) Manager {
	return &viperManager{configPath: configPath, config: defaults(), watchCh: make(chan Config, 1)}
}

func defaults() *Config {
	cfg := &Config{}
	cfg.Server.Addr = ":8080"
	cfg.Server.RequestTimeout = 120
	cfg.Pipeline.MaxToolIterations = 10
	cfg.Pipeline.ToolTimeoutSeconds = 60
	cfg.Pipeline.MaxToolConcurrency = 10
	cfg.Tools.CursorCacheSize = 1024
	cfg.Tools.CursorCacheTTLSeconds = 900
	cfg.Tools.CursorSweepCron = "@every 5m"
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	return cfg
}

func (m *viperManager) Load() error {
	m.v = viper.New()
	if m.configPath != "" {
		m.v.SetConfigFile(m.configPath)
		m.v.SetConfigType("yaml")
	}
	m.v.SetEnvPrefix("CHATFORGE")
	m.v.AutomaticEnv()
	m.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	if m.configPath != "" {
		if err := m.v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return fmt.Errorf("read config file: %w", err)
			}
		}
	}

	m.unmarshal()
	return validate(m.config)
}

func (m *viperManager) setDefaults() {
	d := defaults()
	m.v.SetDefault("server.addr", d.Server.Addr)
	m.v.SetDefault("server.request_timeout", d.Server.RequestTimeout)
	m.v.SetDefault("pipeline.max_tool_iterations", d.Pipeline.MaxToolIterations)
	m.v.SetDefault("pipeline.tool_timeout_seconds", d.Pipeline.ToolTimeoutSeconds)
	m.v.SetDefault("pipeline.max_tool_concurrency", d.Pipeline.MaxToolConcurrency)
	m.v.SetDefault("tools.cursor_cache_size", d.Tools.CursorCacheSize)
	m.v.SetDefault("tools.cursor_cache_ttl_seconds", d.Tools.CursorCacheTTLSeconds)
	m.v.SetDefault("tools.cursor_sweep_cron", d.Tools.CursorSweepCron)
	m.v.SetDefault("logging.level", d.Logging.Level)
	m.v.SetDefault("logging.format", d.Logging.Format)
	m.v.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
}

func (m *viperManager) unmarshal() {
	cfg := &Config{}
	cfg.Server.Addr = m.v.GetString("server.addr")
	cfg.Server.RequestTimeout = m.v.GetInt("server.request_timeout")
	cfg.Database.URL = m.v.GetString("database.url")
	cfg.Crypto.MasterKeyHex = m.v.GetString("crypto.master_key_hex")
	cfg.Pipeline.MaxToolIterations = m.v.GetInt("pipeline.max_tool_iterations")
	cfg.Pipeline.ToolTimeoutSeconds = m.v.GetInt("pipeline.tool_timeout_seconds")
	cfg.Pipeline.MaxToolConcurrency = m.v.GetInt("pipeline.max_tool_concurrency")
	cfg.Tools.WebSearchAggregatorBaseURL = m.v.GetString("tools.web_search_aggregator_base_url")
	cfg.Tools.CursorCacheSize = m.v.GetInt("tools.cursor_cache_size")
	cfg.Tools.CursorCacheTTLSeconds = m.v.GetInt("tools.cursor_cache_ttl_seconds")
	cfg.Tools.CursorSweepCron = m.v.GetString("tools.cursor_sweep_cron")
	cfg.Tools.MCPServerURL = m.v.GetString("tools.mcp_server_url")
	cfg.Logging.Level = m.v.GetString("logging.level")
	cfg.Logging.Format = m.v.GetString("logging.format")
	cfg.ModelAliases = m.v.GetStringMapString("models.aliases")
	cfg.Telemetry.Enabled = m.v.GetBool("telemetry.enabled")
	m.config = cfg
}

func validate(cfg *Config) error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url is required (env CHATFORGE_DATABASE_URL)")
	}
	if cfg.Crypto.MasterKeyHex == "" {
		return fmt.Errorf("crypto.master_key_hex is required (env CHATFORGE_CRYPTO_MASTER_KEY_HEX)")
	}
	return nil
}

func (m *viperManager) Get() *Config {
	return m.config
}

// Watch re-unmarshals the config on every file-change event, matching
// kubilitics-ai's viper.WatchConfig/OnConfigChange pattern. Only the
// caller-visible Config snapshot changes; no field is reloaded in place
// so a reader holding an older *Config is never mutated out from under it.
func (m *viperManager) Watch() <-chan Config {
	if m.configPath == "" {
		return m.watchCh
	}
	m.v.WatchConfig()
	m.v.OnConfigChange(func(e fsnotify.Event) {
		m.unmarshal()
		if err := validate(m.config); err != nil {
			return
		}
		select {
		case m.watchCh <- *m.config:
		default:
		}
	})
	return m.watchCh
}
