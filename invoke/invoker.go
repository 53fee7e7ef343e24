package invoke

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/parley/admission"
	"github.com/hupe1980/parley/core"
	"github.com/hupe1980/parley/logging"
	"github.com/hupe1980/parley/model"
)

// ErrNoCompatibleModel is returned when every candidate model failed with a
// capability or access error.
var ErrNoCompatibleModel = errors.New("no compatible model available")

// Submitter is the admission gate every attempt passes through.
type Submitter interface {
	Submit(ctx context.Context, estimatedTokens int, call admission.CallFunc) (admission.Result, error)
}

var _ Submitter = (*admission.Controller)(nil)

// Outcome describes a successful invocation.
type Outcome struct {
	Response    model.Response
	Tokens      int           // tokens charged by admission
	RequestUsed model.Request // the exact variant that succeeded
}

// Options configure an Invoker.
type Options struct {
	// Fallbacks are tried, in order, after the active and requested models.
	Fallbacks []string
	Logger    logging.Logger
}

// Invoker runs requests with model fallback. It is safe for concurrent use.
type Invoker struct {
	provider  model.Provider
	submitter Submitter
	logger    logging.Logger

	mu        sync.RWMutex
	active    string
	fallbacks []string
}

// New creates an Invoker calling provider through submitter.
func New(provider model.Provider, submitter Submitter, optFns ...func(o *Options)) *Invoker {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Invoker{
		provider:  provider,
		submitter: submitter,
		logger:    logging.OrNoOp(opts.Logger),
		fallbacks: append([]string(nil), opts.Fallbacks...),
	}
}

// Active returns the sticky model selected by the last success.
func (iv *Invoker) Active() string {
	iv.mu.RLock()
	defer iv.mu.RUnlock()
	return iv.active
}

// SetActive overrides the sticky model, e.g. after the operator changes the
// configured model.
func (iv *Invoker) SetActive(model string) {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	iv.active = strings.TrimSpace(model)
}

// SetFallbacks replaces the fallback model list.
func (iv *Invoker) SetFallbacks(models []string) {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	iv.fallbacks = append([]string(nil), models...)
}

// Candidates returns the ordered, de-duplicated model ids tried for req.
func (iv *Invoker) Candidates(req model.Request) []string {
	iv.mu.RLock()
	defer iv.mu.RUnlock()
	seq := append([]string{iv.active, req.Model}, iv.fallbacks...)
	return unique(seq)
}

// Invoke runs req, walking candidate models and option variants until one
// succeeds. Non-capability, non-access errors (quota included) abort at once.
func (iv *Invoker) Invoke(ctx context.Context, req model.Request, estimatedTokens int) (Outcome, error) {
	var lastErr error
	for _, m := range iv.Candidates(req) {
	variants:
		for _, variant := range Variants(req.WithModel(m)) {
			res, err := iv.submitter.Submit(ctx, estimatedTokens, func(ctx context.Context) (model.Response, error) {
				return iv.provider.Complete(ctx, variant)
			})
			if err == nil {
				iv.SetActive(m)
				return Outcome{Response: res.Response, Tokens: res.Tokens, RequestUsed: variant}, nil
			}
			lastErr = err

			switch {
			case variant.HasReasoningOptions() && IsCapabilityError(err):
				iv.logger.Debug("model rejected reasoning options", "model", m, "error", err)
				continue
			case IsModelAccessError(err):
				iv.logger.Warn("model unavailable, trying next", "model", m, "error", err)
				break variants
			default:
				return Outcome{}, err
			}
		}
	}
	if lastErr == nil {
		return Outcome{}, ErrNoCompatibleModel
	}
	return Outcome{}, fmt.Errorf("%w: %w", ErrNoCompatibleModel, lastErr)
}

// Variants returns the option variants tried for one model: the request as
// is and, when it carries reasoning controls, a copy without them.
func Variants(req model.Request) []model.Request {
	out := []model.Request{req}
	if req.HasReasoningOptions() {
		stripped := req.WithoutReasoningOptions()
		if stripped.VariantKey() != req.VariantKey() {
			out = append(out, stripped)
		}
	}
	return out
}

// IsCapabilityError reports whether err means the model rejected the
// reasoning controls.
func IsCapabilityError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, core.ErrCapabilityUnsupported) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "clear_thinking") ||
		strings.Contains(msg, "disable_reasoning") ||
		strings.Contains(msg, "disabling reasoning is not supported")
}

// IsModelAccessError reports whether err means the model does not exist or
// is not accessible.
func IsModelAccessError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, core.ErrModelAccessDenied) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "does not exist or you do not have access")
}

func unique(models []string) []string {
	seen := make(map[string]struct{}, len(models))
	out := make([]string, 0, len(models))
	for _, m := range models {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}
