package provider

import (
	"context"
	"time"
)

// RetryConfig controls the retry decorator.
type RetryConfig struct {
	MaxAttempts int           // total attempts including the first
	Backoff     time.Duration // delay before the second attempt
	Exponential bool          // double the delay between attempts
}

type retryClient struct {
	inner Client
	cfg   RetryConfig
	sleep func(ctx context.Context, d time.Duration) error
}

// WithRetry wraps c so transient failures are retried with backoff.
// Permanent errors (ErrNotFound, malformed responses) pass through on the
// first occurrence.
func WithRetry(c Client, cfg RetryConfig) Client {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &retryClient{inner: c, cfg: cfg, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *retryClient) FetchMetadata(ctx context.Context, externalID string) (*Metadata, error) {
	meta, err := retryDo(ctx, r, func() (*Metadata, error) {
		return r.inner.FetchMetadata(ctx, externalID)
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// ResolvePlaylist forwards to the inner client with the same retry policy.
func (r *retryClient) ResolvePlaylist(ctx context.Context, playlistID string) ([]string, error) {
	resolver, ok := r.inner.(PlaylistResolver)
	if !ok {
		return nil, ErrPlaylistUnsupported
	}
	return retryDo(ctx, r, func() ([]string, error) {
		return resolver.ResolvePlaylist(ctx, playlistID)
	})
}

func retryDo[T any](ctx context.Context, r *retryClient, call func() (T, error)) (T, error) {
	var zero T
	delay := r.cfg.Backoff
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		out, err := call()
		if err == nil {
			return out, nil
		}
		if !IsTransient(err) {
			return zero, err
		}
		lastErr = err
		if attempt == r.cfg.MaxAttempts {
			break
		}
		if delay > 0 {
			if err := r.sleep(ctx, delay); err != nil {
				return zero, err
			}
			if r.cfg.Exponential {
				delay *= 2
			}
		}
	}
	return zero, lastErr
}
