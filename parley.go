// Package parley provides a high-level façade over the dialogue flow-control
// stack: one admission controller guarding the provider, an invoker with
// model fallback, the dialogue generator with its debug journal, and an
// interaction feed. Most applications:
//  1. Create a Parley via New with a model.Provider
//  2. Call Generator directly (request/response use) or open Conversations
//     for a world that starts two-party conversations
//  3. Close the conversations and Wait for dispatched provider calls
package parley

import (
	"github.com/hupe1980/parley/admission"
	"github.com/hupe1980/parley/conversation"
	"github.com/hupe1980/parley/core"
	"github.com/hupe1980/parley/dialogue"
	"github.com/hupe1980/parley/invoke"
	"github.com/hupe1980/parley/journal"
	"github.com/hupe1980/parley/logging"
	"github.com/hupe1980/parley/memory"
	"github.com/hupe1980/parley/model"
	"github.com/hupe1980/parley/settings"
)

// Options configures a Parley instance.
type Options struct {
	// Limits bound requests, tokens and concurrency towards the provider.
	Limits admission.Limits
	// Settings seed the runtime-tunable parameters. Its ModelFallbacks are
	// handed to the invoker.
	Settings settings.Settings

	// JournalEnabled and JournalMaxEntries configure the debug journal.
	JournalEnabled    bool
	JournalMaxEntries int

	// Conversation pacing used by Conversations.
	MinPairs  int
	MaxPairs  int
	Scheduler conversation.SchedulerOptions

	// Sink receives interaction events; defaults to the built-in feed.
	Sink conversation.EventSink

	Clock  core.Clock
	Random *core.Random
	Logger logging.Logger
}

// Parley aggregates the flow-control components around one provider.
type Parley struct {
	opts       Options
	provider   model.Provider
	controller *admission.Controller
	invoker    *invoke.Invoker
	journal    *journal.Journal
	generator  *dialogue.Generator
	feed       *memory.InMemoryFeed
}

// New wires the stack. Unset options fall back to the package defaults.
func New(provider model.Provider, optFns ...func(o *Options)) *Parley {
	opts := Options{
		Limits:            admission.DefaultLimits(),
		Settings:          settings.Defaults(),
		JournalEnabled:    true,
		JournalMaxEntries: journal.DefaultMaxEntries,
		MinPairs:          conversation.DefaultMinPairs,
		MaxPairs:          conversation.DefaultMaxPairs,
		Scheduler:         conversation.DefaultSchedulerOptions(),
		Logger:            logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Clock == nil {
		opts.Clock = core.SystemClock{}
	}
	if opts.Random == nil {
		opts.Random = core.NewTimeSeededRandom()
	}

	p := &Parley{opts: opts, provider: provider}
	p.controller = admission.NewController(func(o *admission.Options) {
		o.Limits = opts.Limits
		o.Clock = opts.Clock
		o.Logger = logging.ForComponent(opts.Logger, "admission")
	})
	store := settings.NewStore(opts.Settings)
	p.invoker = invoke.New(provider, p.controller, func(o *invoke.Options) {
		o.Fallbacks = store.Snapshot().ModelFallbacks
		o.Logger = logging.ForComponent(opts.Logger, "invoke")
	})
	p.journal = journal.New(func(o *journal.Options) {
		o.Enabled = opts.JournalEnabled
		o.MaxEntries = opts.JournalMaxEntries
		o.Clock = opts.Clock
	})
	p.generator = dialogue.NewGenerator(p.invoker, store, func(o *dialogue.Options) {
		o.Journal = p.journal
		o.Logger = logging.ForComponent(opts.Logger, "dialogue")
		o.Clock = opts.Clock
	})
	p.feed = memory.NewInMemoryFeed(func(o *memory.Options) { o.Clock = opts.Clock })

	return p
}

// Provider returns the wrapped provider.
func (p *Parley) Provider() model.Provider { return p.provider }

// Controller returns the admission controller.
func (p *Parley) Controller() *admission.Controller { return p.controller }

// Invoker returns the model invoker.
func (p *Parley) Invoker() *invoke.Invoker { return p.invoker }

// Journal returns the debug journal.
func (p *Parley) Journal() *journal.Journal { return p.journal }

// Generator returns the dialogue generator.
func (p *Parley) Generator() *dialogue.Generator { return p.generator }

// Feed returns the built-in interaction feed.
func (p *Parley) Feed() *memory.InMemoryFeed { return p.feed }

// Conversations creates a conversation manager resolving participants
// through dir and generating turns with the shared generator.
func (p *Parley) Conversations(dir conversation.Directory) *conversation.Manager {
	sink := p.opts.Sink
	if sink == nil {
		sink = p.feed
	}
	return conversation.NewManager(dir, p.generator, func(o *conversation.Options) {
		o.MinPairs = p.opts.MinPairs
		o.MaxPairs = p.opts.MaxPairs
		o.Scheduler = p.opts.Scheduler
		o.Sink = sink
		o.Clock = p.opts.Clock
		o.Random = p.opts.Random
		o.Logger = logging.ForComponent(p.opts.Logger, "conversation")
	})
}

// Wait blocks until every dispatched provider call has returned.
func (p *Parley) Wait() { p.controller.Wait() }
