// Package config loads the runtime configuration for rowbot. Settings come
// from a YAML file with environment-variable overrides layered on top, so a
// deployment can keep secrets out of the checked-in file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"rowbot/internal/browser"
	"rowbot/internal/retry"
)

// Config is the full runtime configuration.
type Config struct {
	Sheets  SheetsConfig   `yaml:"sheets"`
	Browser browser.Config `yaml:"browser"`
	Retry   RetryConfig    `yaml:"retry"`
	Run     RunConfig      `yaml:"run"`
}

// SheetsConfig names the remote spreadsheet and its collections.
type SheetsConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	SpreadsheetID   string `yaml:"spreadsheet_id"`

	MessageCollection string `yaml:"message_collection"`
	PostCollection    string `yaml:"post_collection"`
	InboxCollection   string `yaml:"inbox_collection"`
	HistoryCollection string `yaml:"history_collection"`

	// LedgerPath is the local idempotency database. Empty disables the
	// ledger and duplicate suppression degrades to per-run detection.
	LedgerPath string `yaml:"ledger_path"`
}

// RetryConfig shapes the shared retry policy for remote operations.
type RetryConfig struct {
	MaxAttempts int     `yaml:"max_attempts"`
	BaseDelayMS int     `yaml:"base_delay_ms"`
	MaxDelayMS  int     `yaml:"max_delay_ms"`
	Jitter      float64 `yaml:"jitter"`
}

// Policy converts the YAML shape into a retry.Policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: r.MaxAttempts,
		BaseDelay:   time.Duration(r.BaseDelayMS) * time.Millisecond,
		MaxDelay:    time.Duration(r.MaxDelayMS) * time.Millisecond,
		Jitter:      r.Jitter,
	}
}

// RunConfig bounds one invocation.
type RunConfig struct {
	// MaxTasks caps eligible tasks per run, 0 means no cap.
	MaxTasks int `yaml:"max_tasks"`
	// PageBudget bounds the open-target listing scan.
	PageBudget int `yaml:"page_budget"`
	// TaskDelayMS is the pause between consecutive tasks.
	TaskDelayMS int `yaml:"task_delay_ms"`
}

// TaskDelay returns the inter-task pause as a duration.
func (r RunConfig) TaskDelay() time.Duration {
	return time.Duration(r.TaskDelayMS) * time.Millisecond
}

// Default returns the configuration used when no file is given.
func Default() Config {
	policy := retry.DefaultPolicy()
	return Config{
		Sheets: SheetsConfig{
			CredentialsFile:   "credentials.json",
			MessageCollection: "MsgList",
			PostCollection:    "PostQueue",
			InboxCollection:   "InboxQueue",
			HistoryCollection: "MsgHistory",
			LedgerPath:        "rowbot.db",
		},
		Browser: browser.DefaultConfig(),
		Retry: RetryConfig{
			MaxAttempts: policy.MaxAttempts,
			BaseDelayMS: int(policy.BaseDelay / time.Millisecond),
			MaxDelayMS:  int(policy.MaxDelay / time.Millisecond),
			Jitter:      policy.Jitter,
		},
		Run: RunConfig{
			PageBudget:  5,
			TaskDelayMS: 2000,
		},
	}
}

// Load reads path into a Config layered over Default, then applies
// environment overrides. An empty path loads defaults and environment only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv layers ROWBOT_* environment variables over the file values.
// Only settings that are secrets or deployment-specific get a variable.
func applyEnv(cfg *Config) {
	setString(&cfg.Sheets.CredentialsFile, "ROWBOT_CREDENTIALS_FILE")
	setString(&cfg.Sheets.SpreadsheetID, "ROWBOT_SPREADSHEET_ID")
	setString(&cfg.Sheets.LedgerPath, "ROWBOT_LEDGER_PATH")
	setString(&cfg.Browser.BaseURL, "ROWBOT_BASE_URL")
	setString(&cfg.Browser.Username, "ROWBOT_USERNAME")
	setString(&cfg.Browser.Password, "ROWBOT_PASSWORD")
	setString(&cfg.Browser.CookieFile, "ROWBOT_COOKIE_FILE")
	setString(&cfg.Browser.DebuggerURL, "ROWBOT_DEBUGGER_URL")
	setBool(&cfg.Browser.Headless, "ROWBOT_HEADLESS")
	setInt(&cfg.Run.MaxTasks, "ROWBOT_MAX_TASKS")
	setInt(&cfg.Run.PageBudget, "ROWBOT_PAGE_BUDGET")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func (c Config) validate() error {
	if c.Sheets.SpreadsheetID == "" {
		return fmt.Errorf("sheets.spreadsheet_id is required")
	}
	if c.Browser.BaseURL == "" {
		return fmt.Errorf("browser.base_url is required")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Run.PageBudget < 1 {
		return fmt.Errorf("run.page_budget must be at least 1")
	}
	return nil
}
