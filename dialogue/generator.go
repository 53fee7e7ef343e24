package dialogue

import (
	"context"
	"errors"
	"time"

	"github.com/hupe1980/parley/core"
	"github.com/hupe1980/parley/internal/util"
	"github.com/hupe1980/parley/invoke"
	"github.com/hupe1980/parley/journal"
	"github.com/hupe1980/parley/logging"
	"github.com/hupe1980/parley/model"
	"github.com/hupe1980/parley/settings"
)

// Journal routes.
const (
	RouteInteraction = "/api/interaction"
	RouteTurn        = "/api/conversation-turn"
	RouteLabTurn     = "/api/lab/conversation-turn"
)

const (
	turnBudgetCeiling        = 240
	interactionBudgetCeiling = 260
	labBudgetCeiling         = 280
)

// Invoker runs a request with model fallback.
type Invoker interface {
	Invoke(ctx context.Context, req model.Request, estimatedTokens int) (invoke.Outcome, error)
	SetActive(model string)
	SetFallbacks(models []string)
}

var _ Invoker = (*invoke.Invoker)(nil)

// providerCallLogger is implemented by loggers with provider-call helpers.
type providerCallLogger interface {
	LogProviderCall(model string, tokens int, dur time.Duration, success bool, err error)
}

// Options configure a Generator.
type Options struct {
	Journal *journal.Journal
	Logger  logging.Logger
	Clock   core.Clock
}

// Generator produces validated dialogue for the three request kinds. Only
// quota rejections are returned as errors; every other provider or
// validation failure yields the deterministic fallback.
type Generator struct {
	invoker  Invoker
	settings *settings.Store
	journal  *journal.Journal
	logger   logging.Logger
	clock    core.Clock
}

// NewGenerator wires a generator to an invoker and a settings store.
func NewGenerator(invoker Invoker, store *settings.Store, optFns ...func(o *Options)) *Generator {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Clock == nil {
		opts.Clock = core.SystemClock{}
	}
	return &Generator{
		invoker:  invoker,
		settings: store,
		journal:  opts.Journal,
		logger:   logging.OrNoOp(opts.Logger),
		clock:    opts.Clock,
	}
}

// Settings returns the current runtime settings.
func (g *Generator) Settings() settings.Settings {
	return g.settings.Snapshot()
}

// ApplySettings patches the runtime settings. A new model becomes the
// invoker's active model and new fallbacks replace the old list.
func (g *Generator) ApplySettings(p settings.Patch) settings.Settings {
	s := g.settings.Apply(p)
	if p.Model != nil {
		g.invoker.SetActive(s.Model)
	}
	if p.ModelFallbacks != nil {
		g.invoker.SetFallbacks(s.ModelFallbacks)
	}
	return s
}

// ReplaceSettings swaps in a complete settings value and resyncs the invoker.
func (g *Generator) ReplaceSettings(next settings.Settings) settings.Settings {
	s := g.settings.Replace(next)
	g.invoker.SetActive(s.Model)
	g.invoker.SetFallbacks(s.ModelFallbacks)
	return s
}

// Turn generates the next conversation line.
func (g *Generator) Turn(ctx context.Context, req TurnRequest) (TurnReply, error) {
	req, err := req.Sanitize()
	if err != nil {
		return TurnReply{}, err
	}
	s := g.settings.Snapshot()
	fallback := TurnFallback(req)

	data := templateData(req.Speaker.Name, req.Listener.Name, req.TurnIndex, req.MaxTurns)
	payload := buildTurnPrompt(s, g.render(s.Prompts.TurnTask, data), req)
	payloadJSON := mustJSON(payload)
	budget := completionBudget(s.TurnMaxCompletionTokens, turnBudgetCeiling)
	mreq := baseRequest(s, budget,
		model.Message{Role: "system", Content: g.render(s.Prompts.TurnSystem, data)},
		model.Message{Role: "user", Content: payloadJSON},
	)

	id := g.journal.Create(RouteTurn, map[string]any{"input": req, "promptPayload": payload, "modelRequest": mreq})
	out, err := g.call(ctx, mreq, EstimateTokens(payloadJSON)+budget)
	if err != nil {
		return fallback, g.failure(id, err, fallback)
	}

	usage := replyUsage(out)
	shape, err := ParseTurn(out.Response.CombinedText())
	if err != nil {
		g.logger.Debug("turn payload unparseable", "error", err)
		fallback.Usage = usage
		g.journal.Update(id, journal.StatusFallbackParseFailed, result(out, nil, fallback), nil)
		return fallback, nil
	}

	c := s.Constraints
	line, okLine := NormalizeLine(shape.Line, req.Speaker.Name, c.TurnLineMaxChars, c.TurnMinCharsAfterSpeaker)
	summary, okSummary := NormalizeSummary(shape.Summary, c.TurnSummaryMaxChars)
	if !okLine || !okSummary {
		fallback.Usage = usage
		g.journal.Update(id, journal.StatusFallbackInvalid, result(out, shape, fallback), nil)
		return fallback, nil
	}

	reply := TurnReply{
		Line:      line,
		ShouldEnd: NormalizeShouldEnd(shape.ShouldEnd, req.AllowEnd, req.TurnIndex, req.MaxTurns),
		Summary:   summary,
		Source:    SourceModel,
		Usage:     usage,
	}
	g.journal.Update(id, journal.StatusCompleted, result(out, shape, reply), nil)
	return reply, nil
}

// Interaction generates a one-shot exchange between A and B.
func (g *Generator) Interaction(ctx context.Context, req InteractionRequest) (InteractionReply, error) {
	req, err := req.Sanitize()
	if err != nil {
		return InteractionReply{}, err
	}
	s := g.settings.Snapshot()
	fallback := InteractionFallback(req)

	data := templateData(req.A.Name, req.B.Name, 0, 2)
	payload := buildInteractionPrompt(s, g.render(s.Prompts.InteractionTask, data), req)
	payloadJSON := mustJSON(payload)
	budget := completionBudget(s.InteractionMaxCompletionTokens, interactionBudgetCeiling)
	mreq := baseRequest(s, budget,
		model.Message{Role: "system", Content: g.render(s.Prompts.InteractionSystem, data)},
		model.Message{Role: "user", Content: payloadJSON},
	)

	id := g.journal.Create(RouteInteraction, map[string]any{"input": req, "promptPayload": payload, "modelRequest": mreq})
	out, err := g.call(ctx, mreq, EstimateTokens(payloadJSON)+budget)
	if err != nil {
		return fallback, g.failure(id, err, fallback)
	}

	usage := replyUsage(out)
	shape, err := ParseInteraction(out.Response.CombinedText())
	if err != nil {
		fallback.Usage = usage
		g.journal.Update(id, journal.StatusFallbackParseFailed, result(out, nil, fallback), nil)
		return fallback, nil
	}

	c := s.Constraints
	aLine, okA := NormalizeLine(shape.ALine, req.A.Name, c.InteractionLineMaxChars, DefaultMinBody)
	bLine, okB := NormalizeLine(shape.BLine, req.B.Name, c.InteractionLineMaxChars, DefaultMinBody)
	summary, okS := NormalizeSummary(shape.Summary, c.InteractionSummaryMaxChars)
	if !okA || !okB || !okS {
		fallback.Usage = usage
		g.journal.Update(id, journal.StatusFallbackInvalid, result(out, shape, fallback), nil)
		return fallback, nil
	}

	reply := InteractionReply{ALine: aLine, BLine: bLine, Summary: summary, Source: SourceModel, Usage: usage}
	g.journal.Update(id, journal.StatusCompleted, result(out, shape, reply), nil)
	return reply, nil
}

// LabTurn generates one lab-mode turn. A missing or invalid summary falls
// back to the fallback summary; only an invalid line discards the reply.
func (g *Generator) LabTurn(ctx context.Context, req LabTurnRequest) (TurnReply, error) {
	req, err := req.Sanitize()
	if err != nil {
		return TurnReply{}, err
	}
	s := g.settings.Snapshot()
	fallback := LabTurnFallback(req)

	data := templateData(req.Speaker.Name, req.Listener.Name, req.TurnIndex, req.MaxTurns)
	messages := []model.Message{
		{Role: "system", Content: g.render(s.Prompts.LabSystem, data)},
		{Role: "system", Content: participantBlock("Current speaker", req.Speaker)},
		{Role: "system", Content: participantBlock("Other participant", req.Listener)},
		{Role: "user", Content: labTaskBlock(s, g.render(s.Prompts.LabTask, data), req)},
	}
	budget := completionBudget(s.TurnMaxCompletionTokens, labBudgetCeiling)
	mreq := baseRequest(s, budget, messages...)

	id := g.journal.Create(RouteLabTurn, map[string]any{"input": req, "modelRequest": mreq})
	out, err := g.call(ctx, mreq, EstimateTokens(mustJSON(messages))+budget)
	if err != nil {
		return fallback, g.failure(id, err, fallback)
	}

	usage := replyUsage(out)
	c := s.Constraints
	shape, err := ParseLabTurn(out.Response.CombinedText())
	if err != nil {
		fallback.Usage = usage
		g.journal.Update(id, journal.StatusFallbackParseFailed, result(out, nil, fallback), nil)
		return fallback, nil
	}
	line, okLine := NormalizeLine(shape.Line, req.Speaker.Name, c.TurnLineMaxChars, c.TurnMinCharsAfterSpeaker)
	if !okLine {
		fallback.Usage = usage
		g.journal.Update(id, journal.StatusFallbackInvalid, result(out, shape, fallback), nil)
		return fallback, nil
	}
	summary, ok := NormalizeSummary(shape.Summary, c.TurnSummaryMaxChars)
	if !ok {
		summary, _ = NormalizeSummary(fallback.Summary, c.TurnSummaryMaxChars)
	}

	reply := TurnReply{
		Line:      line,
		ShouldEnd: NormalizeShouldEnd(shape.ShouldEnd, req.AllowEnd, req.TurnIndex, req.MaxTurns),
		Summary:   summary,
		Source:    SourceModel,
		Usage:     usage,
	}
	g.journal.Update(id, journal.StatusCompleted, result(out, shape, reply), nil)
	return reply, nil
}

func (g *Generator) call(ctx context.Context, req model.Request, estimate int) (invoke.Outcome, error) {
	start := g.clock.Now()
	out, err := g.invoker.Invoke(ctx, req, estimate)
	if pl, ok := g.logger.(providerCallLogger); ok {
		used := req.Model
		if err == nil {
			used = out.RequestUsed.Model
		}
		pl.LogProviderCall(used, out.Tokens, g.clock.Now().Sub(start), err == nil, err)
	}
	if err == nil {
		g.settings.SetModel(out.RequestUsed.Model)
	}
	return out, err
}

// failure journals a failed invocation. Quota rejections are returned; any
// other error is masked by the fallback and nil is returned.
func (g *Generator) failure(id int64, err error, fallback any) error {
	if errors.Is(err, core.ErrQuotaExceeded) {
		g.journal.Update(id, journal.StatusRejectedDailyLimit, nil, err)
		return err
	}
	g.logger.Warn("provider request failed, using fallback", "error", err)
	g.journal.Update(id, journal.StatusErrorFallback, map[string]any{"response": fallback}, err)
	return nil
}

func (g *Generator) render(text string, data map[string]any) string {
	out, err := util.RenderTemplate(text, data)
	if err != nil {
		g.logger.Warn("prompt template invalid, using raw text", "error", err)
		return text
	}
	return out
}

func templateData(speaker, listener string, turnIndex, maxTurns int) map[string]any {
	return map[string]any{
		"speaker":   speaker,
		"listener":  listener,
		"turnIndex": turnIndex,
		"maxTurns":  maxTurns,
	}
}

func baseRequest(s settings.Settings, budget int, messages ...model.Message) model.Request {
	disable, clearThinking := s.DisableReasoning, s.ClearThinking
	return model.Request{
		Model:               s.Model,
		Messages:            messages,
		Temperature:         s.Temperature,
		TopP:                s.TopP,
		MaxCompletionTokens: budget,
		DisableReasoning:    &disable,
		ClearThinking:       &clearThinking,
	}
}

// replyUsage reports provider usage with the total actually charged.
func replyUsage(out invoke.Outcome) model.Usage {
	u := out.Response.Usage
	u.TotalTokens = out.Tokens
	return u
}

func result(out invoke.Outcome, parsed, response any) map[string]any {
	return map[string]any{
		"usage":       replyUsage(out),
		"rawModel":    out.Response,
		"requestUsed": out.RequestUsed,
		"parsed":      parsed,
		"response":    response,
	}
}
