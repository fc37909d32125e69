package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

// scriptedClient returns one canned outcome per call, in order, then keeps
// returning the last one.
type scriptedClient struct {
	outcomes []error
	calls    int
}

func (s *scriptedClient) FetchMetadata(ctx context.Context, externalID string) (*Metadata, error) {
	i := s.calls
	if i >= len(s.outcomes) {
		i = len(s.outcomes) - 1
	}
	s.calls++
	if err := s.outcomes[i]; err != nil {
		return nil, err
	}
	return &Metadata{Title: "t-" + externalID}, nil
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func TestRetryRecoversFromTransient(t *testing.T) {
	inner := &scriptedClient{outcomes: []error{
		&TransientError{Status: 503, Err: errors.New("down")},
		&TransientError{Err: errors.New("timeout")},
		nil,
	}}
	c := WithRetry(inner, RetryConfig{MaxAttempts: 3, Backoff: time.Millisecond}).(*retryClient)
	c.sleep = noSleep

	meta, err := c.FetchMetadata(context.Background(), "v1")
	if err != nil {
		t.Fatalf("expected recovery on third attempt, got %v", err)
	}
	if meta.Title != "t-v1" {
		t.Errorf("unexpected metadata: %+v", meta)
	}
	if inner.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", inner.calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	inner := &scriptedClient{outcomes: []error{&TransientError{Status: 500, Err: errors.New("down")}}}
	c := WithRetry(inner, RetryConfig{MaxAttempts: 4}).(*retryClient)
	c.sleep = noSleep

	_, err := c.FetchMetadata(context.Background(), "v1")
	if !IsTransient(err) {
		t.Fatalf("expected transient error after exhaustion, got %v", err)
	}
	if inner.calls != 4 {
		t.Errorf("expected 4 attempts, got %d", inner.calls)
	}
}

func TestRetryDoesNotRetryPermanent(t *testing.T) {
	inner := &scriptedClient{outcomes: []error{fmt.Errorf("gone: %w", ErrNotFound)}}
	c := WithRetry(inner, RetryConfig{MaxAttempts: 5}).(*retryClient)
	c.sleep = noSleep

	_, err := c.FetchMetadata(context.Background(), "v1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("permanent error must not be retried, got %d attempts", inner.calls)
	}
}

func TestRetryExponentialBackoff(t *testing.T) {
	inner := &scriptedClient{outcomes: []error{&TransientError{Err: errors.New("down")}}}
	c := WithRetry(inner, RetryConfig{MaxAttempts: 4, Backoff: 10 * time.Millisecond, Exponential: true}).(*retryClient)

	var delays []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	c.FetchMetadata(context.Background(), "v1")
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("expected %d sleeps, got %d", len(want), len(delays))
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("sleep %d: expected %v, got %v", i, want[i], delays[i])
		}
	}
}

func TestBreakerOpensOnTransientFailures(t *testing.T) {
	inner := &scriptedClient{outcomes: []error{&TransientError{Status: 502, Err: errors.New("bad gateway")}}}
	c := WithBreaker(inner, gobreaker.Settings{
		Name: "test",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := c.FetchMetadata(ctx, "v1"); !IsTransient(err) {
			t.Fatalf("call %d: expected transient error, got %v", i, err)
		}
	}

	// Breaker is open now: the inner client must not be reached.
	before := inner.calls
	if _, err := c.FetchMetadata(ctx, "v1"); !IsTransient(err) {
		t.Fatalf("expected fast-fail transient error while open, got %v", err)
	}
	if inner.calls != before {
		t.Error("open breaker must not call the inner client")
	}
}

func TestBreakerIgnoresNotFound(t *testing.T) {
	inner := &scriptedClient{outcomes: []error{fmt.Errorf("gone: %w", ErrNotFound)}}
	c := WithBreaker(inner, gobreaker.Settings{
		Name: "test",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 2
		},
	})

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if _, err := c.FetchMetadata(ctx, "v1"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("call %d: expected ErrNotFound to pass through, got %v", i, err)
		}
	}
	if inner.calls != 10 {
		t.Errorf("missing videos must not trip the breaker, inner saw %d calls", inner.calls)
	}
}
