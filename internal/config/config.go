// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Config carries every environment-driven knob of the warchest service.
// Wallet specs and the mode flag come from argv, not from here.
type Config struct {
	RPCHTTPURL   string `mapstructure:"solanatracker_rpc_http_url"`
	RPCWSURL     string `mapstructure:"solanatracker_rpc_ws_url"`
	DataEndpoint string `mapstructure:"solanatracker_data_endpoint"`
	DataAPIKey   string `mapstructure:"solanatracker_api_key"`

	DatabaseURL string `mapstructure:"warchest_db_url"`

	DataDir       string `mapstructure:"warchest_data_dir"`
	HubEventsFile string `mapstructure:"warchest_hub_events_file"`
	TxMonitorDir  string `mapstructure:"warchest_tx_monitor_dir"`

	SolRefreshSec       int `mapstructure:"hud_sol_refresh_sec"`
	TokensRefreshSec    int `mapstructure:"hud_tokens_refresh_sec"`
	RefreshDebounceMs   int `mapstructure:"warchest_log_refresh_debounce_ms"`
	HubWorkerTimeoutSec int `mapstructure:"hub_worker_timeout_sec"`
	HudMaxTx            int `mapstructure:"hud_max_tx"`

	StableMints []string `mapstructure:"warchest_stable_mints"`

	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"warchest_log_file"`

	KeychainService string `mapstructure:"sc_keychain_service"`
	KeychainAccount string `mapstructure:"sc_keychain_account"`
	NodeEnv         string `mapstructure:"node_env"`
}

const (
	DefaultSolRefreshSec     = 15
	DefaultTokensRefreshSec  = 30
	DefaultRefreshDebounceMs = 5
	DefaultWorkerTimeoutSec  = 120
	DefaultHudMaxTx          = 10
	DefaultDataDir           = "data/warchest"
	DefaultKeychainService   = "scoundrel"
	DefaultKeychainAccount   = "wallet-master-key"
)

// envKeys lists every recognized variable; names are bound verbatim because
// the table spans several historical prefixes (HUD_, WARCHEST_, SC_,
// SOLANATRACKER_) shared with the sibling toolchain.
var envKeys = []string{
	"SOLANATRACKER_RPC_HTTP_URL",
	"SOLANATRACKER_RPC_WS_URL",
	"SOLANATRACKER_DATA_ENDPOINT",
	"SOLANATRACKER_API_KEY",
	"WARCHEST_DB_URL",
	"WARCHEST_DATA_DIR",
	"WARCHEST_HUB_EVENTS_FILE",
	"WARCHEST_TX_MONITOR_DIR",
	"WARCHEST_LOG_REFRESH_DEBOUNCE_MS",
	"WARCHEST_STABLE_MINTS",
	"WARCHEST_LOG_FILE",
	"HUD_SOL_REFRESH_SEC",
	"HUD_TOKENS_REFRESH_SEC",
	"HUD_MAX_TX",
	"HUB_WORKER_TIMEOUT_SEC",
	"LOG_LEVEL",
	"SC_KEYCHAIN_SERVICE",
	"SC_KEYCHAIN_ACCOUNT",
	"NODE_ENV",
}

// Load reads the environment into a validated Config.
func Load() (*Config, error) {
	v := viper.New()

	defaults := map[string]interface{}{
		"hud_sol_refresh_sec":              DefaultSolRefreshSec,
		"hud_tokens_refresh_sec":           DefaultTokensRefreshSec,
		"warchest_log_refresh_debounce_ms": DefaultRefreshDebounceMs,
		"hub_worker_timeout_sec":           DefaultWorkerTimeoutSec,
		"hud_max_tx":                       DefaultHudMaxTx,
		"warchest_data_dir":                DefaultDataDir,
		"log_level":                        "info",
		"sc_keychain_service":              DefaultKeychainService,
		"sc_keychain_account":              DefaultKeychainAccount,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	for _, key := range envKeys {
		if err := v.BindEnv(strings.ToLower(key), key); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if raw := v.GetString("warchest_stable_mints"); raw != "" {
		cfg.StableMints = splitCSV(raw)
	}
	if cfg.HubEventsFile == "" {
		cfg.HubEventsFile = filepath.Join(cfg.DataDir, "hub-events.log")
	}
	if cfg.TxMonitorDir == "" {
		cfg.TxMonitorDir = filepath.Join(cfg.DataDir, "tx-monitor-requests")
	}
	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join("logs", "warchest.log")
	}

	return &cfg, validateConfig(&cfg)
}

func validateConfig(cfg *Config) error {
	if cfg.RPCHTTPURL == "" {
		return errors.New("SOLANATRACKER_RPC_HTTP_URL is required")
	}
	if err := validateURLWithCache(cfg.RPCHTTPURL, "http"); err != nil {
		return errors.New("invalid RPC HTTP URL protocol")
	}
	if cfg.RPCWSURL != "" {
		if err := validateURLWithCache(cfg.RPCWSURL, "ws"); err != nil {
			return errors.New("invalid RPC WebSocket URL protocol")
		}
	}
	if cfg.DataEndpoint != "" {
		if err := validateURLWithCache(cfg.DataEndpoint, "http"); err != nil {
			return errors.New("invalid data endpoint URL protocol")
		}
	}
	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.SolRefreshSec <= 0 {
		return errors.New("invalid HUD_SOL_REFRESH_SEC")
	}
	if cfg.TokensRefreshSec <= 0 {
		return errors.New("invalid HUD_TOKENS_REFRESH_SEC")
	}
	if cfg.RefreshDebounceMs < 0 {
		return errors.New("invalid WARCHEST_LOG_REFRESH_DEBOUNCE_MS")
	}
	if cfg.HubWorkerTimeoutSec <= 0 {
		return errors.New("invalid HUB_WORKER_TIMEOUT_SEC")
	}
	if cfg.HudMaxTx <= 0 {
		return errors.New("invalid HUD_MAX_TX")
	}
	return nil
}

// SolRefreshInterval returns the SOL refresh period as a duration.
func (c *Config) SolRefreshInterval() time.Duration {
	return time.Duration(c.SolRefreshSec) * time.Second
}

// TokensRefreshInterval returns the token refresh period as a duration.
func (c *Config) TokensRefreshInterval() time.Duration {
	return time.Duration(c.TokensRefreshSec) * time.Second
}

// RefreshDebounce returns the per-alias debounce window.
func (c *Config) RefreshDebounce() time.Duration {
	return time.Duration(c.RefreshDebounceMs) * time.Millisecond
}

// HubWorkerTimeout returns the default hub dispatch deadline.
func (c *Config) HubWorkerTimeout() time.Duration {
	return time.Duration(c.HubWorkerTimeoutSec) * time.Second
}

// PidFile returns the PID file path under the data dir.
func (c *Config) PidFile() string {
	return filepath.Join(c.DataDir, "warchest.pid")
}

// StatusFile returns the health snapshot path under the data dir.
func (c *Config) StatusFile() string {
	return filepath.Join(c.DataDir, "status.json")
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	var clean []string
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			clean = append(clean, s)
		}
	}
	return clean
}

var urlCache sync.Map

func validateURLWithCache(rawURL string, protocol string) error {
	if _, ok := urlCache.Load(rawURL); ok {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	urlCache.Store(rawURL, parsed)
	return nil
}
