// Package config loads process configuration for the parley binary: the
// provider connection, admission limits, initial runtime settings, journal,
// logging and conversation pacing. Values come from built-in defaults, an
// optional YAML or TOML file and PARLEY_ environment variables, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/parley/admission"
	"github.com/hupe1980/parley/conversation"
	"github.com/hupe1980/parley/journal"
	"github.com/hupe1980/parley/settings"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. PARLEY_LIMITS_RPS.
const EnvPrefix = "PARLEY"

// Provider names.
const (
	ProviderCerebras  = "cerebras"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderMock      = "mock"
)

// ProviderConfig selects and authenticates the model provider.
type ProviderConfig struct {
	Name      string `mapstructure:"name" toml:"name"`
	BaseURL   string `mapstructure:"base_url" toml:"base_url"`
	APIKey    string `mapstructure:"api_key" toml:"api_key"`
	MaxTokens int    `mapstructure:"max_tokens" toml:"max_tokens"`
}

// Configured reports whether a real provider can be called.
func (p ProviderConfig) Configured() bool {
	return p.Name == ProviderMock || p.APIKey != ""
}

// ServerConfig configures the HTTP facade.
type ServerConfig struct {
	Addr string `mapstructure:"addr" toml:"addr"`
}

// JournalConfig configures the debug journal.
type JournalConfig struct {
	Enabled    bool `mapstructure:"enabled" toml:"enabled"`
	MaxEntries int  `mapstructure:"max_entries" toml:"max_entries"`
}

// LoggingConfig configures process logging.
type LoggingConfig struct {
	Level  string `mapstructure:"level" toml:"level"`
	Format string `mapstructure:"format" toml:"format"` // console, json or text
}

// ConversationConfig configures client-side pacing.
type ConversationConfig struct {
	MinPairs        int           `mapstructure:"min_pairs" toml:"min_pairs"`
	MaxPairs        int           `mapstructure:"max_pairs" toml:"max_pairs"`
	TurnConcurrency int           `mapstructure:"turn_concurrency" toml:"turn_concurrency"`
	MinTurnDelay    time.Duration `mapstructure:"min_turn_delay" toml:"min_turn_delay"`
	MaxTurnDelay    time.Duration `mapstructure:"max_turn_delay" toml:"max_turn_delay"`
}

// Config is the complete process configuration.
type Config struct {
	Provider     ProviderConfig     `mapstructure:"provider" toml:"provider"`
	Server       ServerConfig       `mapstructure:"server" toml:"server"`
	Limits       admission.Limits   `mapstructure:"limits" toml:"limits"`
	Settings     settings.Settings  `mapstructure:"settings" toml:"settings"`
	Journal      JournalConfig      `mapstructure:"journal" toml:"journal"`
	Logging      LoggingConfig      `mapstructure:"logging" toml:"logging"`
	Conversation ConversationConfig `mapstructure:"conversation" toml:"conversation"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Provider: ProviderConfig{Name: ProviderCerebras, MaxTokens: 1024},
		Server:   ServerConfig{Addr: ":8080"},
		Limits:   admission.DefaultLimits(),
		Settings: settings.Defaults(),
		Journal:  JournalConfig{Enabled: true, MaxEntries: journal.DefaultMaxEntries},
		Logging:  LoggingConfig{Level: "info", Format: "console"},
		Conversation: ConversationConfig{
			MinPairs:        conversation.DefaultMinPairs,
			MaxPairs:        conversation.DefaultMaxPairs,
			TurnConcurrency: conversation.DefaultTurnConcurrency,
			MinTurnDelay:    conversation.DefaultMinTurnDelay,
			MaxTurnDelay:    conversation.DefaultMaxTurnDelay,
		},
	}
}

// Load reads the configuration. An empty path reads only defaults and the
// environment; a missing file at an explicit path is an error.
func Load(path string) (Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c.normalize()
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Honour the provider's conventional variable as well.
	_ = v.BindEnv("provider.api_key", EnvPrefix+"_PROVIDER_API_KEY", "CEREBRAS_API_KEY")
	return v
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("provider.name", d.Provider.Name)
	v.SetDefault("provider.base_url", d.Provider.BaseURL)
	v.SetDefault("provider.api_key", d.Provider.APIKey)
	v.SetDefault("provider.max_tokens", d.Provider.MaxTokens)

	v.SetDefault("server.addr", d.Server.Addr)

	v.SetDefault("limits.rps", d.Limits.RPS)
	v.SetDefault("limits.tpm", d.Limits.TPM)
	v.SetDefault("limits.tpd", d.Limits.TPD)
	v.SetDefault("limits.max_concurrent", d.Limits.MaxConcurrent)

	s := d.Settings
	v.SetDefault("settings.model", s.Model)
	v.SetDefault("settings.temperature", s.Temperature)
	v.SetDefault("settings.top_p", s.TopP)
	v.SetDefault("settings.interaction_max_completion_tokens", s.InteractionMaxCompletionTokens)
	v.SetDefault("settings.turn_max_completion_tokens", s.TurnMaxCompletionTokens)
	v.SetDefault("settings.disable_reasoning", s.DisableReasoning)
	v.SetDefault("settings.clear_thinking", s.ClearThinking)
	v.SetDefault("settings.model_fallbacks", s.ModelFallbacks)
	v.SetDefault("settings.prompts.interaction_system", s.Prompts.InteractionSystem)
	v.SetDefault("settings.prompts.interaction_task", s.Prompts.InteractionTask)
	v.SetDefault("settings.prompts.turn_system", s.Prompts.TurnSystem)
	v.SetDefault("settings.prompts.turn_task", s.Prompts.TurnTask)
	v.SetDefault("settings.prompts.lab_system", s.Prompts.LabSystem)
	v.SetDefault("settings.prompts.lab_task", s.Prompts.LabTask)
	c := s.Constraints
	v.SetDefault("settings.constraints.interaction_line_max_chars", c.InteractionLineMaxChars)
	v.SetDefault("settings.constraints.interaction_summary_max_chars", c.InteractionSummaryMaxChars)
	v.SetDefault("settings.constraints.turn_line_max_chars", c.TurnLineMaxChars)
	v.SetDefault("settings.constraints.turn_summary_max_chars", c.TurnSummaryMaxChars)
	v.SetDefault("settings.constraints.turn_min_chars_after_speaker", c.TurnMinCharsAfterSpeaker)
	v.SetDefault("settings.constraints.turn_no_markdown", c.TurnNoMarkdown)
	v.SetDefault("settings.constraints.turn_no_stage_directions", c.TurnNoStageDirections)
	v.SetDefault("settings.constraints.turn_alternate_turns", c.TurnAlternateTurns)

	v.SetDefault("journal.enabled", d.Journal.Enabled)
	v.SetDefault("journal.max_entries", d.Journal.MaxEntries)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("conversation.min_pairs", d.Conversation.MinPairs)
	v.SetDefault("conversation.max_pairs", d.Conversation.MaxPairs)
	v.SetDefault("conversation.turn_concurrency", d.Conversation.TurnConcurrency)
	v.SetDefault("conversation.min_turn_delay", d.Conversation.MinTurnDelay)
	v.SetDefault("conversation.max_turn_delay", d.Conversation.MaxTurnDelay)
}

func (c Config) normalize() (Config, error) {
	c.Provider.Name = strings.ToLower(strings.TrimSpace(c.Provider.Name))
	switch c.Provider.Name {
	case ProviderCerebras, ProviderOpenAI, ProviderAnthropic, ProviderMock:
	default:
		return Config{}, fmt.Errorf("unknown provider %q", c.Provider.Name)
	}
	c.Provider.APIKey = strings.TrimSpace(c.Provider.APIKey)
	c.Settings = c.Settings.Normalize()

	cv := &c.Conversation
	cv.MinPairs = max(1, cv.MinPairs)
	cv.MaxPairs = max(cv.MinPairs, cv.MaxPairs)
	cv.TurnConcurrency = max(1, cv.TurnConcurrency)
	if cv.MinTurnDelay < 0 || cv.MaxTurnDelay < cv.MinTurnDelay {
		return Config{}, errors.New("conversation turn delays must satisfy 0 <= min <= max")
	}
	return c, nil
}
