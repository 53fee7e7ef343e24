package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hupe1980/parley"
	"github.com/hupe1980/parley/config"
	"github.com/hupe1980/parley/core"
	"github.com/hupe1980/parley/logging"
	"github.com/hupe1980/parley/model"
	"github.com/hupe1980/parley/model/anthropic"
	"github.com/hupe1980/parley/model/openai"
	"github.com/rs/zerolog"
)

// mockTurnReply is what the offline provider answers with. Lines without a
// speaker prefix are attributed to whoever is speaking.
const mockTurnReply = `{"line":"I think we should compare notes before it gets dark.","summary":"They agree to compare notes before dark.","shouldEnd":false}`

type app struct {
	cfg    config.Config
	logger logging.Logger
	clock  core.Clock
	parley *parley.Parley
}

func wireApp(cfg config.Config, logOut io.Writer, random *core.Random) (*app, error) {
	logger := newLogger(cfg.Logging, logOut)
	clock := core.SystemClock{}

	provider, err := newProvider(cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("wire provider: %w", err)
	}

	cc := cfg.Conversation
	p := parley.New(provider, func(o *parley.Options) {
		o.Limits = cfg.Limits
		o.Settings = cfg.Settings
		o.JournalEnabled = cfg.Journal.Enabled
		o.JournalMaxEntries = cfg.Journal.MaxEntries
		o.MinPairs = cc.MinPairs
		o.MaxPairs = cc.MaxPairs
		o.Scheduler.Concurrency = cc.TurnConcurrency
		o.Scheduler.MinDelay = cc.MinTurnDelay
		o.Scheduler.MaxDelay = cc.MaxTurnDelay
		o.Clock = clock
		o.Random = random
		o.Logger = logger
	})

	return &app{cfg: cfg, logger: logger, clock: clock, parley: p}, nil
}

func newProvider(cfg config.ProviderConfig) (model.Provider, error) {
	switch cfg.Name {
	case config.ProviderMock:
		return model.NewMockProvider(mockTurnReply), nil
	case config.ProviderCerebras, config.ProviderOpenAI:
		return openai.NewProvider(func(o *openai.Options) {
			o.Name = cfg.Name
			o.APIKey = cfg.APIKey
			if cfg.BaseURL != "" {
				o.BaseURL = cfg.BaseURL
			} else if cfg.Name == config.ProviderOpenAI {
				o.BaseURL = ""
			}
		}), nil
	case config.ProviderAnthropic:
		return anthropic.NewProvider(func(o *anthropic.Options) {
			o.APIKey = cfg.APIKey
			if cfg.MaxTokens > 0 {
				o.MaxTokens = int64(cfg.MaxTokens)
			}
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Name)
	}
}

func newLogger(cfg config.LoggingConfig, out io.Writer) logging.Logger {
	level := logging.ParseLevel(cfg.Level)
	switch strings.ToLower(cfg.Format) {
	case "json", "text":
		return logging.NewLogger(&logging.LoggerConfig{
			Level:     level,
			Format:    strings.ToLower(cfg.Format),
			Output:    out,
			Component: "parley",
		})
	default:
		zl := zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}).
			Level(logging.ZerologLevel(level)).
			With().Timestamp().Logger()
		return logging.NewZerologAdapter(zl)
	}
}
