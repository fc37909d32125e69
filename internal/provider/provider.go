// Package provider defines the contract for external video metadata sources
// and the error taxonomy the import pipeline branches on.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kasper/vidmeta/internal/domain"
)

// ErrNotFound marks an external id that the provider does not know.
// It is permanent: the pipeline records a failure without retrying.
var ErrNotFound = errors.New("video not found at provider")

// ErrPlaylistUnsupported marks providers without playlist expansion.
var ErrPlaylistUnsupported = errors.New("provider does not support playlist imports")

// TransientError wraps failures worth retrying: 5xx responses, 429
// throttling, timeouts, connection errors.
type TransientError struct {
	Status int // HTTP status when available, 0 for transport errors
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transient provider error (HTTP %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("transient provider error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Metadata is the normalized shape every provider client returns.
type Metadata struct {
	Title          string
	Description    string
	DurationMillis int64
	PublishedAt    time.Time
}

// Client fetches metadata for a single external video id.
type Client interface {
	FetchMetadata(ctx context.Context, externalID string) (*Metadata, error)
}

// PlaylistResolver expands an external playlist id into its video ids.
// Providers without playlist support simply do not implement it.
type PlaylistResolver interface {
	ResolvePlaylist(ctx context.Context, playlistID string) ([]string, error)
}

// Registry maps providers to their configured clients.
type Registry struct {
	clients map[domain.Provider]Client
}

// NewRegistry builds a registry over the given clients.
func NewRegistry(clients map[domain.Provider]Client) *Registry {
	return &Registry{clients: clients}
}

// Lookup returns the client for p, or an error when the provider is not
// configured for imports.
func (r *Registry) Lookup(p domain.Provider) (Client, error) {
	c, ok := r.clients[p]
	if !ok {
		return nil, fmt.Errorf("no import client configured for provider %s", p)
	}
	return c, nil
}
