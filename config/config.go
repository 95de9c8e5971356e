package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"

	"github.com/wesm/github-activity-digest/internal/api"
	"github.com/wesm/github-activity-digest/internal/businessday"
	"github.com/wesm/github-activity-digest/internal/models"
)

const (
	// EnvGithubToken is the environment variable name for the GitHub API token
	EnvGithubToken = "ARGH_GITHUB_TOKEN"
	// EnvOrganization overrides the configured organization
	EnvOrganization = "ARGH_ORGANIZATION"
	// EnvDatabasePath overrides the configured database path
	EnvDatabasePath = "ARGH_DATABASE_PATH"
)

// Config represents the application configuration
type Config struct {
	// GitHub API token for authentication (optional, can be set via ARGH_GITHUB_TOKEN env var)
	GitHubToken string `json:"github_token"`

	Organization string `json:"organization"`

	// Path to the SQLite database file
	DatabasePath string `json:"database_path"`

	// List of repositories to sync in the format "owner/name"
	Repositories []string `json:"repositories"`

	// Title of the project board whose status column is authoritative
	TargetProject string `json:"target_project"`
	// Name of the single-select field holding the board status
	StatusField string `json:"status_field"`
	// Board option name to status
	StatusMapping map[string]models.Status `json:"status_mapping"`

	SyncInterval models.Duration   `json:"sync_interval"`
	Timezone     string            `json:"timezone"`
	Holidays     []string          `json:"holidays"`
	Thresholds   models.Thresholds `json:"thresholds"`

	MaxAttempts int             `json:"max_attempts"`
	BaseBackoff models.Duration `json:"base_backoff"`
	MaxBackoff  models.Duration `json:"max_backoff"`
}

// Default returns the configuration used for every field a file leaves out
func Default() Config {
	retry := api.DefaultRetryPolicy()
	return Config{
		DatabasePath: "github_activity.db",
		Repositories: []string{},
		StatusField:  "Status",
		StatusMapping: map[string]models.Status{
			"Todo":        models.StatusTodo,
			"In Progress": models.StatusInProgress,
			"Done":        models.StatusDone,
		},
		SyncInterval: models.Duration(15 * time.Minute),
		Timezone:     "UTC",
		Holidays:     []string{},
		Thresholds:   models.DefaultThresholds(),
		MaxAttempts:  retry.MaxAttempts,
		BaseBackoff:  models.Duration(retry.BaseDelay),
		MaxBackoff:   models.Duration(retry.MaxDelay),
	}
}

// LoadConfig loads the configuration from a JSON file. Comments and
// trailing commas are allowed. A .env file next to the config is loaded
// first; variables already set in the environment win over it.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	config, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if envToken := os.Getenv(EnvGithubToken); envToken != "" {
		config.GitHubToken = envToken
	}
	if org := os.Getenv(EnvOrganization); org != "" {
		config.Organization = org
	}
	if dbPath := os.Getenv(EnvDatabasePath); dbPath != "" {
		config.DatabasePath = dbPath
	}

	// Make database path absolute if it's relative
	if !filepath.IsAbs(config.DatabasePath) {
		config.DatabasePath = filepath.Join(filepath.Dir(path), config.DatabasePath)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Parse decodes a config document over the defaults
func Parse(data []byte) (*Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config := Default()
	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if config.DatabasePath == "" {
		config.DatabasePath = Default().DatabasePath
	}
	if config.StatusField == "" {
		config.StatusField = Default().StatusField
	}
	return &config, nil
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	var errs []error
	for _, repo := range c.Repositories {
		parts := strings.Split(repo, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			errs = append(errs, fmt.Errorf("invalid repository %q, expected owner/name", repo))
		}
	}
	for option, st := range c.StatusMapping {
		if _, err := models.ParseStatus(string(st)); err != nil {
			errs = append(errs, fmt.Errorf("status_mapping[%q]: %w", option, err))
		}
	}
	t := c.Thresholds
	for name, v := range map[string]int{
		"backlog_issue":        t.BacklogIssue,
		"stalled_in_progress":  t.StalledInProgress,
		"reviewer_unassigned":  t.ReviewerUnassigned,
		"review_stalled":       t.ReviewStalled,
		"merge_delayed":        t.MergeDelayed,
		"stuck_review_request": t.StuckReviewRequest,
		"unanswered_mention":   t.UnansweredMention,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("threshold %s must not be negative", name))
		}
	}
	if _, err := businessday.Load(c.Timezone, c.Holidays); err != nil {
		errs = append(errs, err)
	}
	if c.SyncInterval < 0 {
		errs = append(errs, errors.New("sync_interval must not be negative"))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, errors.New("max_attempts must be at least 1"))
	}
	if c.BaseBackoff <= 0 || c.MaxBackoff < c.BaseBackoff {
		errs = append(errs, errors.New("base_backoff must be positive and not exceed max_backoff"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ToSyncConfig returns the settings every component shares through the
// database
func (c *Config) ToSyncConfig() models.SyncConfig {
	return models.SyncConfig{
		Organization:  c.Organization,
		TargetProject: c.TargetProject,
		StatusField:   c.StatusField,
		StatusMapping: c.StatusMapping,
		SyncInterval:  c.SyncInterval,
		Timezone:      c.Timezone,
		Holidays:      c.Holidays,
		Thresholds:    c.Thresholds,
	}
}

// RetryPolicy returns the fetcher retry settings
func (c *Config) RetryPolicy() api.RetryPolicy {
	return api.RetryPolicy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   time.Duration(c.BaseBackoff),
		MaxDelay:    time.Duration(c.MaxBackoff),
	}
}

// SaveConfig saves the configuration to a JSON file. The file is replaced
// atomically so a crash never leaves it half-written.
func SaveConfig(config *Config, path string) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := atomic.WriteFile(path, bytes.NewReader(append(data, '\n'))); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// AddRepository appends repo to the file at path unless already listed.
// The file is re-read as written so environment overrides and resolved
// paths are not persisted.
func AddRepository(path, repo string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	config, err := Parse(data)
	if err != nil {
		return false, err
	}
	for _, existing := range config.Repositories {
		if existing == repo {
			return false, nil
		}
	}
	config.Repositories = append(config.Repositories, repo)
	return true, SaveConfig(config, path)
}

// CreateDefaultConfig creates a default configuration file if it doesn't exist
func CreateDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil // File exists, don't overwrite
	}

	config := Default()
	config.Repositories = []string{"example/repo"}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return SaveConfig(&config, path)
}
