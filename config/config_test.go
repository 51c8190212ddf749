package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "Context", cfg.DefaultAgent)
	assert.NotEmpty(t, cfg.Routing)
	assert.Equal(t, 5*time.Second, cfg.AgentTimeout)
	assert.Equal(t, 1, cfg.Retries)
	assert.NotEmpty(t, cfg.FallbackReply)
	assert.NotEmpty(t, cfg.ClosingReply)
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
default_agent: Context
agent_timeout: 2s
retries: 3
agent_timeouts:
  Challenge: 10s
routing:
  - agent: Challenge
    keywords: ["stuck"]
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.AgentTimeout)
	assert.Equal(t, 3, cfg.Retries)
	require.Len(t, cfg.Routing, 1)
	assert.Equal(t, "Challenge", cfg.Routing[0].Agent)

	// Values absent from the file keep their defaults.
	assert.Equal(t, Default().FallbackReply, cfg.FallbackReply)
	assert.Equal(t, Default().HistoryLimit, cfg.HistoryLimit)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("routing: [unterminated"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults pass", func(c *Config) {}, false},
		{"missing default agent", func(c *Config) { c.DefaultAgent = "" }, true},
		{"rule without agent", func(c *Config) { c.Routing = []Rule{{Keywords: []string{"x"}}} }, true},
		{"non-positive timeout", func(c *Config) { c.AgentTimeout = 0 }, true},
		{"negative retries", func(c *Config) { c.Retries = -1 }, true},
		{"non-positive history limit", func(c *Config) { c.HistoryLimit = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTimeoutFor(t *testing.T) {
	cfg := Default()
	cfg.AgentTimeouts = map[string]time.Duration{"Challenge": 10 * time.Second}

	assert.Equal(t, 10*time.Second, cfg.TimeoutFor("Challenge"))
	assert.Equal(t, cfg.AgentTimeout, cfg.TimeoutFor("GoalSetting"))
}
