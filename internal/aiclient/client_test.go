package aiclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/matsuri/internal/model/contract"
)

type stubRouter struct {
	responses []string
	errs      []error
	calls     int
	lastReq   contract.CompletionRequest
}

func (s *stubRouter) Route(ctx context.Context, model string, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	idx := s.calls
	s.calls++
	s.lastReq = req
	if idx < len(s.errs) && s.errs[idx] != nil {
		return nil, s.errs[idx]
	}
	if idx < len(s.responses) {
		return &contract.CompletionResponse{Content: s.responses[idx]}, nil
	}
	return &contract.CompletionResponse{Content: ""}, nil
}

func (s *stubRouter) RouteEmbedding(ctx context.Context, model string, text string) ([]float32, error) {
	return nil, errors.New("not implemented")
}

func (s *stubRouter) ListModels() []string { return nil }

func (s *stubRouter) Health(ctx context.Context) error { return nil }

func newTestClient(router *stubRouter) (*Client, *[]time.Duration) {
	c := New(router, Config{
		Model:               "test-model",
		CreativeTemperature: 0.7,
		PacingDelay:         time.Second,
		RetryMaxAttempts:    3,
		RetryBaseDelay:      2 * time.Second,
	})
	var slept []time.Duration
	c.sleep = func(d time.Duration) { slept = append(slept, d) }
	return c, &slept
}

func TestCallPacesAfterSuccess(t *testing.T) {
	router := &stubRouter{responses: []string{"1"}}
	c, slept := newTestClient(router)

	out, err := c.Call(context.Background(), "prompt")

	require.NoError(t, err)
	assert.Equal(t, "1", out)
	assert.Equal(t, 1, router.calls)
	assert.Equal(t, []time.Duration{time.Second}, *slept)
	assert.Equal(t, float32(0), router.lastReq.Temperature)
}

func TestCallCreativeUsesTemperature(t *testing.T) {
	router := &stubRouter{responses: []string{"a title"}}
	c, _ := newTestClient(router)

	_, err := c.CallCreative(context.Background(), "prompt")

	require.NoError(t, err)
	assert.Equal(t, float32(0.7), router.lastReq.Temperature)
}

func TestCallRetriesRateLimitWithDoublingBackoff(t *testing.T) {
	router := &stubRouter{
		errs:      []error{errors.New("429 too many requests"), errors.New("rate limit exceeded"), nil},
		responses: []string{"", "", "ok"},
	}
	c, slept := newTestClient(router)

	out, err := c.Call(context.Background(), "prompt")

	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, router.calls)
	// Two backoffs (2s then 4s), then the pacing delay after success.
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, time.Second}, *slept)
}

func TestCallGivesUpAfterMaxAttempts(t *testing.T) {
	limited := errors.New("rate limit")
	router := &stubRouter{errs: []error{limited, limited, limited, limited, limited}}
	c, slept := newTestClient(router)

	_, err := c.Call(context.Background(), "prompt")

	require.Error(t, err)
	// One initial attempt plus three retries.
	assert.Equal(t, 4, router.calls)
	assert.Len(t, *slept, 3)
}

func TestCallPropagatesOtherErrorsImmediately(t *testing.T) {
	router := &stubRouter{errs: []error{errors.New("401 unauthorized")}}
	c, slept := newTestClient(router)

	_, err := c.Call(context.Background(), "prompt")

	require.Error(t, err)
	assert.Equal(t, 1, router.calls)
	assert.Empty(t, *slept)
}

func TestCallStopsOnCancelledContext(t *testing.T) {
	router := &stubRouter{responses: []string{"unused"}}
	c, _ := newTestClient(router)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Call(ctx, "prompt")

	require.Error(t, err)
	assert.Equal(t, 0, router.calls)
}
