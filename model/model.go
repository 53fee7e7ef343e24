package model

import (
	"context"
	"fmt"
	"sync"
)

// Message is a single chat message sent to the provider.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Request is the provider boundary descriptor: model id, message list,
// sampling parameters, output-token budget and optional reasoning controls.
// A nil reasoning flag means the option is not sent at all.
type Request struct {
	Model               string    `json:"model"`
	Messages            []Message `json:"messages"`
	Temperature         float64   `json:"temperature"`
	TopP                float64   `json:"top_p"`
	MaxCompletionTokens int       `json:"max_completion_tokens"`
	DisableReasoning    *bool     `json:"disable_reasoning,omitempty"`
	ClearThinking       *bool     `json:"clear_thinking,omitempty"`
}

// HasReasoningOptions reports whether any reasoning control is present.
func (r Request) HasReasoningOptions() bool {
	return r.DisableReasoning != nil || r.ClearThinking != nil
}

// WithoutReasoningOptions returns a copy with reasoning controls removed.
func (r Request) WithoutReasoningOptions() Request {
	r.DisableReasoning = nil
	r.ClearThinking = nil
	return r
}

// WithModel returns a copy targeting model.
func (r Request) WithModel(model string) Request {
	r.Model = model
	return r
}

// VariantKey identifies a request by model and reasoning controls only.
func (r Request) VariantKey() string {
	return fmt.Sprintf("%s|%s|%s", r.Model, flagString(r.DisableReasoning), flagString(r.ClearThinking))
}

func flagString(b *bool) string {
	if b == nil {
		return "-"
	}
	if *b {
		return "true"
	}
	return "false"
}

// Usage captures token usage statistics for a response. Zero values mean the
// provider did not report the figure.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	ReasoningTokens  int `json:"reasoningTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Response is the normalized provider completion.
type Response struct {
	ID           string `json:"id,omitempty"`
	Model        string `json:"model,omitempty"`
	Text         string `json:"text"`
	Reasoning    string `json:"reasoning,omitempty"`
	FinishReason string `json:"finishReason,omitempty"`
	Usage        Usage  `json:"usage"`
}

// CombinedText joins content and reasoning text, skipping blanks, the way
// JSON payloads are searched downstream.
func (r Response) CombinedText() string {
	switch {
	case r.Text != "" && r.Reasoning != "":
		return r.Text + "\n" + r.Reasoning
	case r.Text != "":
		return r.Text
	default:
		return r.Reasoning
	}
}

// Info contains metadata about a provider implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock"
}

// Provider is the minimal interface every model backend implements.
type Provider interface {
	Complete(ctx context.Context, req Request) (Response, error)

	// Info returns information about the provider implementation.
	Info() Info
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, req Request) (Response, error)

// Complete implements Provider.
func (f ProviderFunc) Complete(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// Info implements Provider.
func (f ProviderFunc) Info() Info { return Info{Name: "func", Provider: "func"} }

// MockProvider is a lightweight in-memory Provider useful for tests, demos
// and the offline simulator. Responses are served in order; once exhausted
// the default reply (or error) is returned.
type MockProvider struct {
	mu        sync.Mutex
	info      Info
	script    []mockStep
	defReply  string
	defErr    error
	requests  []Request
	callCount int
}

type mockStep struct {
	text  string
	usage Usage
	err   error
}

// NewMockProvider constructs a MockProvider answering with reply by default.
func NewMockProvider(reply string) *MockProvider {
	return &MockProvider{info: Info{Name: "mock", Provider: "mock"}, defReply: reply}
}

// Reply queues a successful completion.
func (m *MockProvider) Reply(text string, usage Usage) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, mockStep{text: text, usage: usage})
	return m
}

// Fail queues a failing completion.
func (m *MockProvider) Fail(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, mockStep{err: err})
	return m
}

// FailAlways makes every unscripted call fail with err.
func (m *MockProvider) FailAlways(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defErr = err
	return m
}

// Complete implements Provider.
func (m *MockProvider) Complete(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	m.callCount++
	if len(m.script) > 0 {
		step := m.script[0]
		m.script = m.script[1:]
		if step.err != nil {
			return Response{}, step.err
		}
		return Response{Model: req.Model, Text: step.text, Usage: step.usage, FinishReason: "stop"}, nil
	}
	if m.defErr != nil {
		return Response{}, m.defErr
	}
	return Response{Model: req.Model, Text: m.defReply, FinishReason: "stop"}, nil
}

// Requests returns a copy of every request received so far.
func (m *MockProvider) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Calls returns the number of Complete invocations.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Info implements Provider.
func (m *MockProvider) Info() Info { return m.info }
