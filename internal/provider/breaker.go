package provider

import (
	"context"
	"errors"

	"github.com/sony/gobreaker"
)

type breakerClient struct {
	inner Client
	cb    *gobreaker.CircuitBreaker
}

// WithBreaker wraps c in a circuit breaker. Only transient failures count
// toward tripping: a missing video is an answer, not an outage. While the
// breaker is open, calls fail fast with a transient error so the pipeline
// records them without hammering the provider.
func WithBreaker(c Client, st gobreaker.Settings) Client {
	if st.IsSuccessful == nil {
		st.IsSuccessful = func(err error) bool {
			return err == nil || !IsTransient(err)
		}
	}
	return &breakerClient{inner: c, cb: gobreaker.NewCircuitBreaker(st)}
}

func (b *breakerClient) FetchMetadata(ctx context.Context, externalID string) (*Metadata, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.FetchMetadata(ctx, externalID)
	})
	if err != nil {
		return nil, wrapBreakerErr(err)
	}
	return res.(*Metadata), nil
}

// ResolvePlaylist forwards to the inner client through the same breaker.
func (b *breakerClient) ResolvePlaylist(ctx context.Context, playlistID string) ([]string, error) {
	resolver, ok := b.inner.(PlaylistResolver)
	if !ok {
		return nil, ErrPlaylistUnsupported
	}
	res, err := b.cb.Execute(func() (interface{}, error) {
		return resolver.ResolvePlaylist(ctx, playlistID)
	})
	if err != nil {
		return nil, wrapBreakerErr(err)
	}
	return res.([]string), nil
}

func wrapBreakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &TransientError{Err: err}
	}
	return err
}
