package runner

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/sdamache/memorybench/internal/types"
)

// Error categories.
const (
	CategoryTransient = "transient"
	CategoryPermanent = "permanent"
)

// statusCarrier is implemented by errors that carry an HTTP status,
// such as llm.HTTPError.
type statusCarrier interface {
	HTTPStatus() int
}

// transientKeywords classify status-less errors by message.
var transientKeywords = []string{
	"timeout",
	"econnreset",
	"econnrefused",
	"network",
	"socket hang up",
	"etimedout",
	"enotfound",
}

// Classify buckets an error as transient or permanent.
//
// Expectations:
//   - 429 and 5xx statuses are transient
//   - 400, 401, 403, 404, 422 and other non-5xx statuses are permanent
//   - Without a status, known connectivity keywords in the message mean
//     transient, anything else permanent
func Classify(err error) string {
	var sc statusCarrier
	if errors.As(err, &sc) {
		status := sc.HTTPStatus()
		switch {
		case status == 429:
			return CategoryTransient
		case status >= 500 && status <= 599:
			return CategoryTransient
		default:
			return CategoryPermanent
		}
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range transientKeywords {
		if strings.Contains(msg, kw) {
			return CategoryTransient
		}
	}
	return CategoryPermanent
}

// RetryPolicy is exponential backoff with jitter around transient errors.
type RetryPolicy struct {
	BaseDelayMs  int64
	MaxDelayMs   int64
	MaxRetries   int
	JitterFactor float64

	// Test seams. Nil means real randomness and real sleeping.
	randFloat func() float64
	sleep     func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns the standard policy: 3 retries, 1s base,
// 30s cap, +/-50% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelayMs:  1000,
		MaxDelayMs:   30000,
		MaxRetries:   3,
		JitterFactor: 0.5,
	}
}

// delayFor computes the jittered backoff before retry number attempt
// (0-based). One random draw decides the jitter; the same value is both
// recorded and slept.
func (p RetryPolicy) delayFor(attempt int) time.Duration {
	base := float64(p.BaseDelayMs) * math.Pow(2, float64(attempt))
	if capMs := float64(p.MaxDelayMs); base > capMs {
		base = capMs
	}
	u := rand.Float64()
	if p.randFloat != nil {
		u = p.randFloat()
	}
	factor := 1 - p.JitterFactor + 2*p.JitterFactor*u
	return time.Duration(base*factor) * time.Millisecond
}

func (p RetryPolicy) doSleep(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn under the policy.
//
// Expectations:
//   - MaxRetries=0 attempts exactly once
//   - Transient errors sleep the jittered backoff, then retry
//   - Permanent errors fail fast with no sleep
//   - Each failed attempt is recorded; DelayMs on an attempt is the delay
//     actually slept before the next one, zero on the final attempt
func (p RetryPolicy) Do(ctx context.Context, fn func() (types.CaseResult, error)) (types.CaseResult, []types.RetryAttempt, error) {
	var history []types.RetryAttempt
	for attempt := 0; ; attempt++ {
		result, err := fn()
		if err == nil {
			return result, history, nil
		}

		rec := types.RetryAttempt{
			Attempt:   attempt + 1,
			Category:  Classify(err),
			Message:   err.Error(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		if rec.Category == CategoryPermanent || attempt >= p.MaxRetries {
			history = append(history, rec)
			return result, history, err
		}

		delay := p.delayFor(attempt)
		rec.DelayMs = delay.Milliseconds()
		history = append(history, rec)
		if serr := p.doSleep(ctx, delay); serr != nil {
			return result, history, err
		}
	}
}
