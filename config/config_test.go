package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/parley/admission"
	"github.com/hupe1980/parley/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type ConfigTestSuite struct {
	suite.Suite
	dir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (s *ConfigTestSuite) SetupTest() {
	s.dir = s.T().TempDir()
}

func (s *ConfigTestSuite) write(name, content string) string {
	path := filepath.Join(s.dir, name)
	require.NoError(s.T(), os.WriteFile(path, []byte(content), 0o600))
	return path
}

func (s *ConfigTestSuite) TestDefaults() {
	cfg, err := Load("")
	require.NoError(s.T(), err)

	assert.Equal(s.T(), ProviderCerebras, cfg.Provider.Name)
	assert.Equal(s.T(), ":8080", cfg.Server.Addr)
	assert.Equal(s.T(), admission.DefaultLimits(), cfg.Limits)
	assert.Equal(s.T(), settings.Defaults().Model, cfg.Settings.Model)
	assert.Equal(s.T(), []string{"llama3.1-8b", "gpt-oss-120b"}, cfg.Settings.ModelFallbacks)
	assert.False(s.T(), cfg.Settings.DisableReasoning)
	assert.True(s.T(), cfg.Journal.Enabled)
	assert.Equal(s.T(), 300, cfg.Journal.MaxEntries)
	assert.Equal(s.T(), 2, cfg.Conversation.MinPairs)
	assert.Equal(s.T(), 6, cfg.Conversation.MaxPairs)
	assert.Equal(s.T(), 3, cfg.Conversation.TurnConcurrency)
	assert.Equal(s.T(), 320*time.Millisecond, cfg.Conversation.MinTurnDelay)
	assert.Equal(s.T(), 760*time.Millisecond, cfg.Conversation.MaxTurnDelay)
}

func (s *ConfigTestSuite) TestLoadYAML() {
	path := s.write("parley.yaml", `
provider:
  name: Mock
limits:
  rps: 2
  tpd: 5000
settings:
  model: llama3.1-8b
  temperature: 7
  disable_reasoning: true
  constraints:
    turn_line_max_chars: 120
conversation:
  max_pairs: 4
  min_turn_delay: 100ms
  max_turn_delay: 200ms
`)
	cfg, err := Load(path)
	require.NoError(s.T(), err)

	assert.Equal(s.T(), ProviderMock, cfg.Provider.Name)
	assert.True(s.T(), cfg.Provider.Configured())
	assert.Equal(s.T(), 2, cfg.Limits.RPS)
	assert.Equal(s.T(), 5000, cfg.Limits.TPD)
	assert.Equal(s.T(), admission.DefaultLimits().TPM, cfg.Limits.TPM)
	assert.Equal(s.T(), "llama3.1-8b", cfg.Settings.Model)
	assert.Equal(s.T(), 2.0, cfg.Settings.Temperature, "temperature is clamped")
	assert.True(s.T(), cfg.Settings.DisableReasoning)
	assert.Equal(s.T(), 120, cfg.Settings.Constraints.TurnLineMaxChars)
	assert.Equal(s.T(), 180, cfg.Settings.Constraints.InteractionLineMaxChars)
	assert.Equal(s.T(), 4, cfg.Conversation.MaxPairs)
	assert.Equal(s.T(), 100*time.Millisecond, cfg.Conversation.MinTurnDelay)
	assert.Equal(s.T(), 200*time.Millisecond, cfg.Conversation.MaxTurnDelay)
}

func (s *ConfigTestSuite) TestLoadTOML() {
	path := s.write("parley.toml", `
[server]
addr = ":9090"

[settings]
model_fallbacks = ["a", "a", " b "]
`)
	cfg, err := Load(path)
	require.NoError(s.T(), err)

	assert.Equal(s.T(), ":9090", cfg.Server.Addr)
	assert.Equal(s.T(), []string{"a", "b"}, cfg.Settings.ModelFallbacks)
}

func (s *ConfigTestSuite) TestEnvOverrides() {
	s.T().Setenv("PARLEY_LIMITS_RPS", "9")
	s.T().Setenv("PARLEY_SETTINGS_MODEL", "gpt-oss-120b")
	s.T().Setenv("PARLEY_SERVER_ADDR", ":7000")

	cfg, err := Load("")
	require.NoError(s.T(), err)

	assert.Equal(s.T(), 9, cfg.Limits.RPS)
	assert.Equal(s.T(), "gpt-oss-120b", cfg.Settings.Model)
	assert.Equal(s.T(), ":7000", cfg.Server.Addr)
}

func (s *ConfigTestSuite) TestProviderKeyFromConventionalEnv() {
	s.T().Setenv("CEREBRAS_API_KEY", "  sk-test  ")

	cfg, err := Load("")
	require.NoError(s.T(), err)

	assert.Equal(s.T(), "sk-test", cfg.Provider.APIKey)
	assert.True(s.T(), cfg.Provider.Configured())
}

func (s *ConfigTestSuite) TestUnconfiguredProvider() {
	s.T().Setenv("CEREBRAS_API_KEY", "")
	s.T().Setenv("PARLEY_PROVIDER_API_KEY", "")

	cfg, err := Load("")
	require.NoError(s.T(), err)
	assert.False(s.T(), cfg.Provider.Configured())
}

func (s *ConfigTestSuite) TestInvalidValues() {
	_, err := Load(s.write("bad-provider.yaml", "provider:\n  name: nope\n"))
	assert.ErrorContains(s.T(), err, `unknown provider "nope"`)

	_, err = Load(s.write("bad-delay.yaml", "conversation:\n  min_turn_delay: 2s\n  max_turn_delay: 1s\n"))
	assert.Error(s.T(), err)

	_, err = Load(filepath.Join(s.dir, "missing.yaml"))
	assert.Error(s.T(), err)
}

func (s *ConfigTestSuite) TestPairBoundsAreOrdered() {
	cfg, err := Load(s.write("pairs.yaml", "conversation:\n  min_pairs: 5\n  max_pairs: 3\n  turn_concurrency: 0\n"))
	require.NoError(s.T(), err)

	assert.Equal(s.T(), 5, cfg.Conversation.MinPairs)
	assert.Equal(s.T(), 5, cfg.Conversation.MaxPairs)
	assert.Equal(s.T(), 1, cfg.Conversation.TurnConcurrency)
}

func TestWatchSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parley.yaml")
	require.NoError(t, os.WriteFile(path, []byte("settings:\n  model: first\n"), 0o600))

	var (
		mu  sync.Mutex
		got []settings.Settings
	)
	w, err := WatchSettings(path, func(s settings.Settings) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, s)
	}, func(o *WatchOptions) { o.Debounce = 20 * time.Millisecond })
	require.NoError(t, err)
	defer func() { require.NoError(t, w.Close()) }()

	// Unrelated files in the same directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o600))
	require.NoError(t, os.WriteFile(path, []byte("settings:\n  model: second\n  top_p: 0.5\n"), 0o600))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0 && got[len(got)-1].Model == "second"
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	last := got[len(got)-1]
	mu.Unlock()
	assert.Equal(t, 0.5, last.TopP)
}

func TestWatchSettingsSkipsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parley.yaml")
	require.NoError(t, os.WriteFile(path, []byte("settings:\n  model: first\n"), 0o600))

	calls := make(chan settings.Settings, 4)
	w, err := WatchSettings(path, func(s settings.Settings) { calls <- s },
		func(o *WatchOptions) { o.Debounce = 10 * time.Millisecond })
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("provider:\n  name: nope\n"), 0o600))
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, calls)

	require.NoError(t, os.WriteFile(path, []byte("settings:\n  model: fixed\n"), 0o600))
	select {
	case s := <-calls:
		assert.Equal(t, "fixed", s.Model)
	case <-time.After(2 * time.Second):
		t.Fatal("no reload after fixing the file")
	}
}

func TestWatchSettingsArguments(t *testing.T) {
	_, err := WatchSettings("", func(settings.Settings) {})
	assert.Error(t, err)

	_, err = WatchSettings("x.yaml", nil)
	assert.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o600))

	w, err := WatchSettings(path, func(settings.Settings) {})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}
