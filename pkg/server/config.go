package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds server configuration.
type Config struct {
	// --- Identity ---
	Name           string `yaml:"name"`
	WelcomeText    string `yaml:"welcome_text"`
	EntryBlueprint string `yaml:"entry_blueprint"`

	// --- Listeners ---
	TelnetHost string `yaml:"telnet_host"`
	TelnetPort int    `yaml:"telnet_port"`
	WebHost    string `yaml:"web_host"`
	WebPort    int    `yaml:"web_port"`

	// --- Paths ---
	DataDir       string `yaml:"data_dir"`
	BlueprintDir  string `yaml:"blueprint_dir"`
	StorePath     string `yaml:"store_path"`
	ScrollbackDB  string `yaml:"scrollback_db"`

	// --- Timeouts and limits ---
	IdleTimeout         int `yaml:"idle_timeout"`          // seconds, 0 = none
	NegotiationTimeout  int `yaml:"negotiation_timeout"`   // milliseconds
	OutboxMax           int `yaml:"outbox_max"`            // frames per session
	ScrollbackRetention int `yaml:"scrollback_retention"`  // seconds, 0 = keep forever

	// --- Scripts ---
	ScriptWorkers int `yaml:"script_workers"`
	ScriptBudget  int `yaml:"script_budget"` // milliseconds per hook

	// --- Web auth ---
	JWTSecret   string   `yaml:"jwt_secret"`
	JWTExpiry   int      `yaml:"jwt_expiry"` // hours
	CORSOrigins []string `yaml:"cors_origins"`

	// --- Web TLS (optional) ---
	WebDomain string `yaml:"web_domain"` // non-empty enables Let's Encrypt
	TLSCert   string `yaml:"tls_cert"`
	TLSKey    string `yaml:"tls_key"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Name:                "port4k",
		WelcomeText:         WelcomeText,
		EntryBlueprint:      "cellar",
		TelnetPort:          4000,
		WebPort:             8080,
		DataDir:             "data",
		BlueprintDir:        "blueprints",
		StorePath:           "world.db",
		ScrollbackDB:        "scrollback.db",
		IdleTimeout:         3600,
		NegotiationTimeout:  1500,
		OutboxMax:           256,
		ScrollbackRetention: 14 * 24 * 3600,
		ScriptWorkers:       4,
		ScriptBudget:        50,
		JWTExpiry:           24,
	}
}

// LoadConfig reads a YAML config file on top of the defaults. Relative
// paths inside the file resolve against the data dir.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing YAML %s: %w", path, err)
	}
	cfg.resolvePaths()
	return cfg, nil
}

// ApplyEnv overrides config fields from P4K_* environment variables so
// containers can reconfigure without editing the YAML file.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("P4K_TELNET_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.TelnetPort = n
		}
	}
	if v := os.Getenv("P4K_WEB_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.WebPort = n
		}
	}
	if v := os.Getenv("P4K_DATA_DIR"); v != "" {
		c.DataDir = v
		c.resolvePaths()
	}
	if v := os.Getenv("P4K_BLUEPRINT_DIR"); v != "" {
		c.BlueprintDir = v
	}
	if v := os.Getenv("P4K_ENTRY_BLUEPRINT"); v != "" {
		c.EntryBlueprint = v
	}
	if v := os.Getenv("P4K_JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}
	if v := os.Getenv("P4K_CORS_ORIGINS"); v != "" {
		c.CORSOrigins = strings.Split(v, ",")
	}
}

func (c *Config) resolvePaths() {
	if !filepath.IsAbs(c.StorePath) {
		c.StorePath = filepath.Join(c.DataDir, filepath.Base(c.StorePath))
	}
	if !filepath.IsAbs(c.ScrollbackDB) {
		c.ScrollbackDB = filepath.Join(c.DataDir, filepath.Base(c.ScrollbackDB))
	}
}

// IdleDuration returns the idle timeout as a duration, zero if disabled.
func (c Config) IdleDuration() time.Duration {
	if c.IdleTimeout <= 0 {
		return 0
	}
	return time.Duration(c.IdleTimeout) * time.Second
}

// NegotiationDuration returns how long to wait for telnet option replies.
func (c Config) NegotiationDuration() time.Duration {
	if c.NegotiationTimeout <= 0 {
		return 1500 * time.Millisecond
	}
	return time.Duration(c.NegotiationTimeout) * time.Millisecond
}

// RetentionDuration returns the scrollback retention window, zero if disabled.
func (c Config) RetentionDuration() time.Duration {
	if c.ScrollbackRetention <= 0 {
		return 0
	}
	return time.Duration(c.ScrollbackRetention) * time.Second
}

// WelcomeText is shown to new telnet connections before login.
const WelcomeText = "\r\n" +
	"  _  _     ___   ___   ___  _  _  _  _   \r\n" +
	" | || |   | _ \\ / _ \\ | _ \\| ||_|| || |_ \r\n" +
	" |__  |   |  _/| (_) ||   /| |_  |__  _| \r\n" +
	"    |_|   |_|   \\___/ |_|_\\|____|   |_|  \r\n" +
	"\r\n" +
	"Welcome to port4k.\r\n" +
	"\r\n"
