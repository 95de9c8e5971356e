package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesm/github-activity-digest/internal/models"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigAcceptsCommentsAndFillsDefaults(t *testing.T) {
	t.Setenv(EnvGithubToken, "")
	t.Setenv(EnvOrganization, "")
	t.Setenv(EnvDatabasePath, "")
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json", `{
		// tracked repositories
		"repositories": ["acme/api", "acme/web",],
		"target_project": "Roadmap",
		"thresholds": {"backlog_issue": 3},
		"sync_interval": "5m",
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"acme/api", "acme/web"}, cfg.Repositories)
	assert.Equal(t, "Roadmap", cfg.TargetProject)
	assert.Equal(t, "Status", cfg.StatusField)
	assert.Equal(t, 3, cfg.Thresholds.BacklogIssue)
	assert.Equal(t, models.DefaultThresholds().StalledInProgress, cfg.Thresholds.StalledInProgress)
	assert.Equal(t, models.Duration(5*time.Minute), cfg.SyncInterval)
	assert.Equal(t, filepath.Join(dir, "github_activity.db"), cfg.DatabasePath)
	assert.Equal(t, models.StatusInProgress, cfg.StatusMapping["In Progress"])
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json", `{"github_token": "from-file", "organization": "acme"}`)
	writeFile(t, dir, ".env", "ARGH_ORGANIZATION=from-dotenv\n")

	t.Setenv(EnvGithubToken, "from-env")
	t.Setenv(EnvDatabasePath, "/var/lib/digest.db")
	// Pre-register so t.Setenv restores it after godotenv sets it
	t.Setenv(EnvOrganization, "")
	require.NoError(t, os.Unsetenv(EnvOrganization))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.GitHubToken)
	assert.Equal(t, "from-dotenv", cfg.Organization)
	assert.Equal(t, "/var/lib/digest.db", cfg.DatabasePath)
}

func TestValidateRejectsBadSettings(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown status", `{"status_mapping": {"Blocked": "stuck"}}`},
		{"negative threshold", `{"thresholds": {"merge_delayed": -1}}`},
		{"bad holiday", `{"holidays": ["12/25/2024"]}`},
		{"bad timezone", `{"timezone": "Nowhere/Special"}`},
		{"bad repository", `{"repositories": ["no-slash"]}`},
		{"zero attempts", `{"max_attempts": 0}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.doc))
			require.NoError(t, err)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte(`{"repos": ["acme/api"]}`))
	assert.Error(t, err)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	t.Setenv(EnvGithubToken, "")
	t.Setenv(EnvOrganization, "")
	t.Setenv(EnvDatabasePath, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")
	require.NoError(t, CreateDefaultConfig(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	cfg.Repositories = append(cfg.Repositories, "acme/cli")
	cfg.DatabasePath = "digest.db"
	require.NoError(t, SaveConfig(cfg, path))

	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"example/repo", "acme/cli"}, again.Repositories)
	assert.Equal(t, filepath.Join(dir, "nested", "digest.db"), again.DatabasePath)
}

func TestToSyncConfig(t *testing.T) {
	cfg := Default()
	cfg.Organization = "acme"
	cfg.TargetProject = "Roadmap"

	sc := cfg.ToSyncConfig()
	assert.Equal(t, "acme", sc.Organization)
	st, ok := sc.MapBoardStatus("Done")
	assert.True(t, ok)
	assert.Equal(t, models.StatusDone, st)
	assert.Equal(t, cfg.Thresholds, sc.Thresholds)
}

func TestAddRepositoryKeepsEnvOutOfFile(t *testing.T) {
	t.Setenv(EnvGithubToken, "env-token")
	path := writeFile(t, t.TempDir(), "config.json", `{
		// tracked repositories
		"repositories": ["acme/api"],
	}`)

	added, err := AddRepository(path, "acme/cli")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = AddRepository(path, "acme/cli")
	require.NoError(t, err)
	assert.False(t, added)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "env-token")

	cfg, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme/api", "acme/cli"}, cfg.Repositories)
}
