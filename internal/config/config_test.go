package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		_ = os.Chdir(wd)
		viper.Reset()
	})
	viper.Reset()
	return dir
}

func TestLoadConfig_DefaultsAndEnv(t *testing.T) {
	chdirTemp(t)
	t.Setenv("LLM_API_KEY", "sk-test")
	t.Setenv("NOTION_TASK_DATABASE_ID", "task-db-1")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "task-db-1", cfg.Notion.TaskDatabaseID)
	assert.Equal(t, 30*time.Minute, cfg.State.TTL)
	assert.Equal(t, "postgres", cfg.DB.Driver)
	assert.InDelta(t, 0.1, cfg.LLM.Temperature, 1e-9)
}

func TestLoadConfig_FileAndEnvFile(t *testing.T) {
	dir := chdirTemp(t)
	yaml := `
db:
  driver: SQLite
  path: state.db
state:
  ttl: 10m
auth:
  okta_domain: https://example.okta.com/oauth2/default/
mcp:
  servers:
    - name: github
      workflow: github
      url: http://localhost:9000/sse
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	envPath := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envPath, []byte("LLM_API_KEY=from-dotenv\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("LLM_API_KEY") })

	cfg, err := LoadConfig(envPath)
	require.NoError(t, err)

	assert.Equal(t, "from-dotenv", cfg.LLM.APIKey)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, 10*time.Minute, cfg.State.TTL)
	assert.Equal(t, "https://example.okta.com/oauth2/default", cfg.Auth.OktaDomain)
	require.Len(t, cfg.MCP.Servers, 1)
	assert.Equal(t, "github", cfg.MCP.Servers[0].Name)
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	cfg.DB.Driver = "mongo"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm.api_key is required")
	assert.Contains(t, err.Error(), "state.ttl must be positive")
	assert.Contains(t, err.Error(), `db.driver "mongo"`)
}

func TestSubstitutions(t *testing.T) {
	cfg := &Config{}
	cfg.Notion.TaskDatabaseID = "abc123"

	subs := cfg.Substitutions()
	assert.Equal(t, "abc123", subs["taskDbId"])
	assert.Equal(t, "abc123", subs["TASK_DB_ID"])
	_, ok := subs["calendarDbId"]
	assert.False(t, ok)
}

func TestNormalizeOktaIssuer(t *testing.T) {
	assert.Equal(t, "https://a.okta.com", normalizeOktaIssuer(" https://a.okta.com/ "))
	assert.Equal(t, "", normalizeOktaIssuer(""))
}
