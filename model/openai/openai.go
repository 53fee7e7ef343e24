// Package openai provides an implementation of model.Provider for any
// OpenAI-compatible Chat Completions endpoint (OpenAI, Cerebras, local
// gateways). It adapts the normalized model.Request into the SDK's params,
// forwards optional reasoning controls as extra JSON fields and extracts
// vendor-specific reasoning text from the raw message payload.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hupe1980/parley/core"
	"github.com/hupe1980/parley/model"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tidwall/gjson"
)

// DefaultBaseURL is the Cerebras OpenAI-compatible inference endpoint.
const DefaultBaseURL = "https://api.cerebras.ai/v1"

// Options configure the adapter. Sampling parameters come from each request.
type Options struct {
	Name    string
	BaseURL string
	APIKey  string
}

// Provider wraps the Chat Completions API behind model.Provider.
type Provider struct {
	client *openai.Client
	opts   Options
}

// NewProvider creates a provider using the official client.
func NewProvider(optFns ...func(o *Options)) *Provider {
	opts := Options{Name: "cerebras", BaseURL: DefaultBaseURL}
	for _, fn := range optFns {
		fn(&opts)
	}
	clientOpts := []option.RequestOption{}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := openai.NewClient(clientOpts...)
	return &Provider{client: &client, opts: opts}
}

// NewProviderFromClient creates a provider from an existing client.
func NewProviderFromClient(client *openai.Client, optFns ...func(o *Options)) *Provider {
	opts := Options{Name: "openai"}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Provider{client: client, opts: opts}
}

// Complete performs one non-streaming chat completion.
func (p *Provider) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	params := buildParams(req)
	resp, err := p.client.Chat.Completions.New(ctx, params, reasoningOptions(req)...)
	if err != nil {
		return model.Response{}, classify(err)
	}
	if len(resp.Choices) == 0 {
		return model.Response{}, fmt.Errorf("openai: no choices returned")
	}
	ch0 := resp.Choices[0]
	out := model.Response{
		ID:           resp.ID,
		Model:        resp.Model,
		Text:         ch0.Message.Content,
		Reasoning:    gjson.Get(ch0.Message.RawJSON(), "reasoning").String(),
		FinishReason: ch0.FinishReason,
		Usage: model.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			ReasoningTokens:  int(resp.Usage.CompletionTokensDetails.ReasoningTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	return out, nil
}

func buildParams(req model.Request) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	params := openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       req.Model,
		Temperature: openai.Float(req.Temperature),
		TopP:        openai.Float(req.TopP),
	}
	if req.MaxCompletionTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxCompletionTokens))
	}
	return params
}

// reasoningOptions forwards reasoning controls only when they are set, so a
// stripped request carries no trace of them on the wire.
func reasoningOptions(req model.Request) []option.RequestOption {
	var opts []option.RequestOption
	if req.DisableReasoning != nil {
		opts = append(opts, option.WithJSONSet("disable_reasoning", *req.DisableReasoning))
	}
	if req.ClearThinking != nil {
		opts = append(opts, option.WithJSONSet("clear_thinking", *req.ClearThinking))
	}
	return opts
}

// classify maps well-known API failures onto core sentinels while keeping the
// original error (and its message) in the chain.
func classify(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("openai api error: %w", err)
	}
	msg := strings.ToLower(apiErr.Message + " " + err.Error())
	switch {
	case apiErr.StatusCode == http.StatusNotFound,
		strings.Contains(msg, "does not exist or you do not have access"):
		return fmt.Errorf("openai api error: %w: %w", core.ErrModelAccessDenied, err)
	case strings.Contains(msg, "disable_reasoning"),
		strings.Contains(msg, "clear_thinking"),
		strings.Contains(msg, "disabling reasoning is not supported"):
		return fmt.Errorf("openai api error: %w: %w", core.ErrCapabilityUnsupported, err)
	default:
		return fmt.Errorf("openai api error: %w", err)
	}
}

// Info returns metadata describing this provider.
func (p *Provider) Info() model.Info {
	return model.Info{Name: p.opts.Name, Provider: "openai"}
}
