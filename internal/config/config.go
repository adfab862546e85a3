// Package config holds the explicit per-flow configuration for the harness.
//
// Every component receives a *Config at its boundary; nothing reads the
// process environment after Load returns. This keeps a flow reproducible
// and lets tests construct configurations directly.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variable names understood by Load and by the CLI under test.
const (
	EnvAPIBase      = "ANACONDA_API_BASE"
	EnvUIBase       = "ANACONDA_UI_BASE"
	EnvEmail        = "HUB_EMAIL"
	EnvPassword     = "HUB_PASSWORD"
	EnvCallbackPort = "ANACONDA_OAUTH_CALLBACK_PORT"
	EnvAPIKey       = "ANACONDA_AUTH_API_KEY"
	EnvBrowser      = "BROWSER"
	EnvOAuthURLFile = "OAUTH_URL_FILE"
)

// Defaults mirroring the service under test.
const (
	DefaultAuthHost    = "auth.anaconda.com"
	DefaultOrg         = "us-conversion"
	OAuthURLPattern    = "/api/auth/oauth2/authorize"
	SuccessURLPattern  = "/local-login-success"
	WelcomeText        = "Welcome Back"
	SuccessText        = "Success! You are now logged in."
	SidebandFileName   = "oauth_url_output.txt"
	TokenInstalledText = "token has been installed"
	SuccessMarkerOne   = "success!"
	SuccessMarkerTwo   = "token has been installed"
)

// Timeouts groups every bounded wait the harness performs. All values have
// working defaults; an overrides file may shrink them for scripted tests.
type Timeouts struct {
	PageLoad         time.Duration `yaml:"page_load"`
	NetworkIdle      time.Duration `yaml:"network_idle"`
	OAuthCapture     time.Duration `yaml:"oauth_capture"`
	CLICompletion    time.Duration `yaml:"cli_completion"`
	TokenInstall     time.Duration `yaml:"token_install"`
	URLContinuation  time.Duration `yaml:"url_continuation"`
	TerminateGrace   time.Duration `yaml:"terminate_grace"`
	TerminateKill    time.Duration `yaml:"terminate_kill"`
	ReadPoll         time.Duration `yaml:"read_poll"`
	CallbackSettle   time.Duration `yaml:"callback_settle"`
}

// UnmarshalYAML accepts human-readable durations ("30s", "50ms"). Fields
// absent from the document keep their current values, so overrides can be
// partial.
func (t *Timeouts) UnmarshalYAML(value *yaml.Node) error {
	raw := map[string]string{}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	fields := map[string]*time.Duration{
		"page_load":        &t.PageLoad,
		"network_idle":     &t.NetworkIdle,
		"oauth_capture":    &t.OAuthCapture,
		"cli_completion":   &t.CLICompletion,
		"token_install":    &t.TokenInstall,
		"url_continuation": &t.URLContinuation,
		"terminate_grace":  &t.TerminateGrace,
		"terminate_kill":   &t.TerminateKill,
		"read_poll":        &t.ReadPoll,
		"callback_settle":  &t.CallbackSettle,
	}
	for key, val := range raw {
		dst, ok := fields[key]
		if !ok {
			return fmt.Errorf("unknown timeout %q", key)
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("timeout %s: %w", key, err)
		}
		*dst = d
	}
	return nil
}

// Config is the fully resolved harness configuration for one flow.
type Config struct {
	// APIBase is the backend API origin, e.g. https://anaconda.com.
	APIBase string `yaml:"api_base"`
	// UIBase is the web UI origin the login flow lands on.
	UIBase string `yaml:"ui_base"`
	// AuthHost is the host of authorization URLs the CLI prints.
	AuthHost string `yaml:"auth_host"`

	Email    string `yaml:"email"`
	Password string `yaml:"password"`

	// Org is the organization passed to `token install --org`.
	Org string `yaml:"org"`

	// CLIPath is the executable for the CLI under test ("anaconda" on PATH
	// when empty).
	CLIPath string `yaml:"cli_path"`

	// ContinuationLines bounds how many extra stdout lines the resolver
	// reads when reassembling a truncated authorization URL.
	ContinuationLines int `yaml:"continuation_lines"`

	Timeouts Timeouts `yaml:"timeouts"`

	// Headless runs Chrome without a window.
	Headless bool `yaml:"headless"`
}

// DefaultTimeouts returns the waits used against the live service.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		PageLoad:        30 * time.Second,
		NetworkIdle:     30 * time.Second,
		OAuthCapture:    15 * time.Second,
		CLICompletion:   20 * time.Second,
		TokenInstall:    120 * time.Second,
		URLContinuation: 5 * time.Second,
		TerminateGrace:  3 * time.Second,
		TerminateKill:   2 * time.Second,
		ReadPoll:        100 * time.Millisecond,
		CallbackSettle:  5 * time.Second,
	}
}

// Default returns a Config with service defaults and no credentials.
func Default() *Config {
	return &Config{
		AuthHost:          DefaultAuthHost,
		Org:               DefaultOrg,
		CLIPath:           "anaconda",
		ContinuationLines: 3,
		Timeouts:          DefaultTimeouts(),
		Headless:          true,
	}
}

// Load builds a Config from the environment, optionally seeded from a .env
// file (missing file is fine) and an optional YAML overrides file.
func Load(envFile, overridesFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else {
		// Conventional location next to the working directory.
		_ = godotenv.Load()
	}

	cfg := Default()
	cfg.APIBase = strings.TrimRight(os.Getenv(EnvAPIBase), "/")
	cfg.UIBase = strings.TrimRight(os.Getenv(EnvUIBase), "/")
	cfg.Email = os.Getenv(EnvEmail)
	cfg.Password = os.Getenv(EnvPassword)

	if overridesFile != "" {
		data, err := os.ReadFile(overridesFile)
		if err != nil {
			return nil, fmt.Errorf("read overrides %s: %w", overridesFile, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse overrides %s: %w", overridesFile, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first missing required setting.
func (c *Config) Validate() error {
	missing := []string{}
	if c.APIBase == "" {
		missing = append(missing, EnvAPIBase)
	}
	if c.UIBase == "" {
		missing = append(missing, EnvUIBase)
	}
	if c.Email == "" {
		missing = append(missing, EnvEmail)
	}
	if c.Password == "" {
		missing = append(missing, EnvPassword)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// SidebandPath returns where the browser stub is expected to write the full
// authorization URL: the env-named path when set in env, otherwise a
// deterministic file under the flow's clean home, falling back to the
// platform temp directory.
func SidebandPath(env map[string]string, cleanHome string) string {
	if p := env[EnvOAuthURLFile]; p != "" {
		return p
	}
	if cleanHome != "" {
		return filepath.Join(cleanHome, SidebandFileName)
	}
	return filepath.Join(os.TempDir(), SidebandFileName)
}
