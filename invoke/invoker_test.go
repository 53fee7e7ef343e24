package invoke

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hupe1980/parley/admission"
	"github.com/hupe1980/parley/core"
	"github.com/hupe1980/parley/internal/testutil"
	"github.com/hupe1980/parley/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockProviderImpl records every attempted variant.
type MockProviderImpl struct{ mock.Mock }

func (m *MockProviderImpl) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(model.Response), args.Error(1)
}

func (m *MockProviderImpl) Info() model.Info {
	return model.Info{Name: "mock", Provider: "mock"}
}

// directSubmitter runs calls immediately, without admission.
type directSubmitter struct{ submits int }

func (d *directSubmitter) Submit(ctx context.Context, est int, call admission.CallFunc) (admission.Result, error) {
	d.submits++
	resp, err := call(ctx)
	if err != nil {
		return admission.Result{}, err
	}
	return admission.Result{Response: resp, Tokens: admission.ChargedTokens(resp.Usage, est)}, nil
}

func boolPtr(b bool) *bool { return &b }

func withReasoning(m string) model.Request {
	return model.Request{Model: m, DisableReasoning: boolPtr(true), ClearThinking: boolPtr(false)}
}

func matchModel(m string, reasoning bool) any {
	return mock.MatchedBy(func(r model.Request) bool {
		return r.Model == m && r.HasReasoningOptions() == reasoning
	})
}

func TestCandidatesOrder(t *testing.T) {
	iv := New(&MockProviderImpl{}, &directSubmitter{}, func(o *Options) {
		o.Fallbacks = []string{"b", "c", "a", " "}
	})
	assert.Equal(t, []string{"a", "b", "c"}, iv.Candidates(model.Request{Model: "a"}))

	iv.SetActive("c")
	assert.Equal(t, []string{"c", "a", "b"}, iv.Candidates(model.Request{Model: "a"}))
}

func TestVariants(t *testing.T) {
	plain := model.Request{Model: "m"}
	assert.Equal(t, []model.Request{plain}, Variants(plain))

	vs := Variants(withReasoning("m"))
	require.Len(t, vs, 2)
	assert.True(t, vs[0].HasReasoningOptions())
	assert.False(t, vs[1].HasReasoningOptions())
}

func TestInvokeSuccessMarksActive(t *testing.T) {
	p := &MockProviderImpl{}
	p.On("Complete", mock.Anything, matchModel("m1", false)).
		Return(model.Response{Text: "hi", Usage: model.Usage{TotalTokens: 9}}, nil).Once()

	iv := New(p, &directSubmitter{})
	out, err := iv.Invoke(context.Background(), model.Request{Model: "m1"}, 100)
	require.NoError(t, err)
	assert.Equal(t, "hi", out.Response.Text)
	assert.Equal(t, 9, out.Tokens)
	assert.Equal(t, "m1", out.RequestUsed.Model)
	assert.Equal(t, "m1", iv.Active())
	p.AssertExpectations(t)
}

func TestInvokeStripsReasoningOnCapabilityError(t *testing.T) {
	p := &MockProviderImpl{}
	p.On("Complete", mock.Anything, matchModel("m1", true)).
		Return(model.Response{}, errors.New("400: unknown field clear_thinking")).Once()
	p.On("Complete", mock.Anything, matchModel("m1", false)).
		Return(model.Response{Text: "ok"}, nil).Once()

	iv := New(p, &directSubmitter{})
	out, err := iv.Invoke(context.Background(), withReasoning("m1"), 100)
	require.NoError(t, err)
	assert.False(t, out.RequestUsed.HasReasoningOptions())
	p.AssertExpectations(t)
}

func TestInvokeFallsBackOnModelAccessError(t *testing.T) {
	p := &MockProviderImpl{}
	p.On("Complete", mock.Anything, matchModel("m1", true)).
		Return(model.Response{}, fmt.Errorf("wrapped: %w", core.ErrModelAccessDenied)).Once()
	p.On("Complete", mock.Anything, matchModel("m2", true)).
		Return(model.Response{}, errors.New("Disabling reasoning is not supported for this model")).Once()
	p.On("Complete", mock.Anything, matchModel("m2", false)).
		Return(model.Response{Text: "ok"}, nil).Once()

	iv := New(p, &directSubmitter{}, func(o *Options) { o.Fallbacks = []string{"m2"} })
	out, err := iv.Invoke(context.Background(), withReasoning("m1"), 100)
	require.NoError(t, err)
	assert.Equal(t, "m2", out.RequestUsed.Model)
	assert.Equal(t, "m2", iv.Active())
	p.AssertExpectations(t)

	// The sticky model is tried first next time.
	assert.Equal(t, []string{"m2", "m1"}, iv.Candidates(model.Request{Model: "m1"}))
}

func TestInvokeAbortsOnOtherErrors(t *testing.T) {
	boom := errors.New("connection reset")
	p := &MockProviderImpl{}
	p.On("Complete", mock.Anything, matchModel("m1", true)).Return(model.Response{}, boom).Once()

	sub := &directSubmitter{}
	iv := New(p, sub, func(o *Options) { o.Fallbacks = []string{"m2"} })
	_, err := iv.Invoke(context.Background(), withReasoning("m1"), 100)
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNoCompatibleModel)
	assert.Equal(t, 1, sub.submits)
	assert.Empty(t, iv.Active())
}

func TestInvokeCapabilityErrorWithoutOptionsAborts(t *testing.T) {
	p := &MockProviderImpl{}
	p.On("Complete", mock.Anything, matchModel("m1", false)).
		Return(model.Response{}, errors.New("clear_thinking something")).Once()

	iv := New(p, &directSubmitter{}, func(o *Options) { o.Fallbacks = []string{"m2"} })
	_, err := iv.Invoke(context.Background(), model.Request{Model: "m1"}, 100)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoCompatibleModel)
	p.AssertExpectations(t)
}

func TestInvokeExhaustion(t *testing.T) {
	denied := errors.New("Model x does not exist or you do not have access to it")
	p := &MockProviderImpl{}
	p.On("Complete", mock.Anything, mock.Anything).Return(model.Response{}, denied)

	iv := New(p, &directSubmitter{}, func(o *Options) { o.Fallbacks = []string{"m2", "m3"} })
	_, err := iv.Invoke(context.Background(), model.Request{Model: "m1"}, 100)
	require.ErrorIs(t, err, ErrNoCompatibleModel)
	require.ErrorIs(t, err, denied)
	p.AssertNumberOfCalls(t, "Complete", 3)
}

func TestInvokeQuotaPropagates(t *testing.T) {
	clock := testutil.NewFakeClock(testutil.Epoch)
	ctrl := admission.NewController(func(o *admission.Options) {
		o.Clock = clock
		o.Limits = admission.Limits{TPD: 100}
	})
	p := model.NewMockProvider("never")

	iv := New(p, ctrl, func(o *Options) { o.Fallbacks = []string{"m2"} })
	_, err := iv.Invoke(context.Background(), model.Request{Model: "m1"}, 500)
	require.ErrorIs(t, err, core.ErrQuotaExceeded)
	assert.Zero(t, p.Calls())
}

func TestErrorClassifiers(t *testing.T) {
	assert.True(t, IsCapabilityError(errors.New("bad param disable_reasoning")))
	assert.True(t, IsCapabilityError(fmt.Errorf("x: %w", core.ErrCapabilityUnsupported)))
	assert.False(t, IsCapabilityError(errors.New("rate limited")))
	assert.False(t, IsCapabilityError(nil))

	assert.True(t, IsModelAccessError(errors.New("Model foo does not exist or you do not have access to it.")))
	assert.True(t, IsModelAccessError(fmt.Errorf("x: %w", core.ErrModelAccessDenied)))
	assert.False(t, IsModelAccessError(errors.New("boom")))
}
