package runner

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdamache/memorybench/internal/llm"
	"github.com/sdamache/memorybench/internal/types"
)

type statusErr struct{ status int }

func (e *statusErr) Error() string   { return fmt.Sprintf("status %d", e.status) }
func (e *statusErr) HTTPStatus() int { return e.status }

func TestClassify_Statuses(t *testing.T) {
	// 429 and 5xx retry; client errors and other statuses fail fast
	cases := []struct {
		status int
		want   string
	}{
		{429, CategoryTransient},
		{500, CategoryTransient},
		{502, CategoryTransient},
		{503, CategoryTransient},
		{504, CategoryTransient},
		{599, CategoryTransient},
		{400, CategoryPermanent},
		{401, CategoryPermanent},
		{403, CategoryPermanent},
		{404, CategoryPermanent},
		{422, CategoryPermanent},
		{301, CategoryPermanent},
	}
	for _, c := range cases {
		if got := Classify(&statusErr{status: c.status}); got != c.want {
			t.Errorf("Classify(status %d) = %s, want %s", c.status, got, c.want)
		}
	}
}

func TestClassify_WrappedHTTPError(t *testing.T) {
	// Status classification sees through error wrapping
	err := fmt.Errorf("bench: case c1: %w", &llm.HTTPError{Status: 429, Body: "slow down"})
	assert.Equal(t, CategoryTransient, Classify(err))
}

func TestClassify_MessageKeywords(t *testing.T) {
	// Status-less connectivity errors are transient by message
	for _, msg := range []string{
		"dial tcp: i/o timeout",
		"read: ECONNRESET",
		"connect: econnrefused",
		"network is unreachable",
		"socket hang up",
		"getaddrinfo ENOTFOUND",
	} {
		if got := Classify(errors.New(msg)); got != CategoryTransient {
			t.Errorf("Classify(%q) = %s, want transient", msg, got)
		}
	}
	assert.Equal(t, CategoryPermanent, Classify(errors.New("invalid manifest")))
}

// fixedPolicy removes randomness and real sleeping from a policy.
func fixedPolicy(p RetryPolicy, slept *[]time.Duration) RetryPolicy {
	p.randFloat = func() float64 { return 0.5 } // jitter factor becomes exactly 1
	p.sleep = func(_ context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
	return p
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	// A clean call has no retry history
	var slept []time.Duration
	p := fixedPolicy(DefaultRetryPolicy(), &slept)
	calls := 0
	res, history, err := p.Do(context.Background(), func() (types.CaseResult, error) {
		calls++
		return types.CaseResult{CaseID: "c1"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, history)
	assert.Equal(t, "c1", res.CaseID)
	assert.Empty(t, slept)
}

func TestDo_TransientRetriesWithBackoff(t *testing.T) {
	// Backoff doubles per attempt: 1s, 2s, 4s with neutral jitter
	var slept []time.Duration
	p := fixedPolicy(DefaultRetryPolicy(), &slept)
	calls := 0
	_, history, err := p.Do(context.Background(), func() (types.CaseResult, error) {
		calls++
		return types.CaseResult{}, &statusErr{status: 503}
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls) // initial + 3 retries
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, slept)

	require.Len(t, history, 4)
	assert.Equal(t, int64(1000), history[0].DelayMs)
	assert.Equal(t, int64(2000), history[1].DelayMs)
	assert.Equal(t, int64(4000), history[2].DelayMs)
	assert.Equal(t, int64(0), history[3].DelayMs) // nothing slept after the last attempt
	assert.Equal(t, CategoryTransient, history[0].Category)
	assert.Equal(t, 1, history[0].Attempt)
	assert.Equal(t, 4, history[3].Attempt)
}

func TestDo_PermanentFailsFast(t *testing.T) {
	// A 400 is never retried
	var slept []time.Duration
	p := fixedPolicy(DefaultRetryPolicy(), &slept)
	calls := 0
	_, history, err := p.Do(context.Background(), func() (types.CaseResult, error) {
		calls++
		return types.CaseResult{}, &statusErr{status: 400}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, slept)
	require.Len(t, history, 1)
	assert.Equal(t, CategoryPermanent, history[0].Category)
}

func TestDo_ZeroRetriesAttemptsOnce(t *testing.T) {
	// MaxRetries=0 means exactly one attempt even for transients
	var slept []time.Duration
	p := DefaultRetryPolicy()
	p.MaxRetries = 0
	p = fixedPolicy(p, &slept)
	calls := 0
	_, _, err := p.Do(context.Background(), func() (types.CaseResult, error) {
		calls++
		return types.CaseResult{}, &statusErr{status: 429}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, slept)
}

func TestDo_DelayCappedAtMax(t *testing.T) {
	// Exponential growth is clamped to max_delay_ms
	var slept []time.Duration
	p := DefaultRetryPolicy()
	p.MaxRetries = 6
	p = fixedPolicy(p, &slept)
	_, _, err := p.Do(context.Background(), func() (types.CaseResult, error) {
		return types.CaseResult{}, &statusErr{status: 503}
	})
	require.Error(t, err)
	require.Len(t, slept, 6)
	assert.Equal(t, 30*time.Second, slept[5])
}

func TestDo_JitterBounds(t *testing.T) {
	// Jitter scales the delay into [1-j, 1+j] around the base
	p := DefaultRetryPolicy()
	p.randFloat = func() float64 { return 0 }
	assert.Equal(t, 500*time.Millisecond, p.delayFor(0))
	p.randFloat = func() float64 { return 1 }
	assert.Equal(t, 1500*time.Millisecond, p.delayFor(0))
}

func TestDo_CancelledSleepStopsRetrying(t *testing.T) {
	// Cancellation during backoff surfaces the case error without further
	// attempts
	p := DefaultRetryPolicy()
	p.randFloat = func() float64 { return 0.5 }
	p.sleep = func(ctx context.Context, _ time.Duration) error { return context.Canceled }
	calls := 0
	_, history, err := p.Do(context.Background(), func() (types.CaseResult, error) {
		calls++
		return types.CaseResult{}, &statusErr{status: 503}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Len(t, history, 1)
}
