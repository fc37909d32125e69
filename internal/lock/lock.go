// Package lock provides an advisory, TTL-bounded mutual exclusion primitive
// on top of Redis. There is no heartbeat or renewal: holders must finish
// inside the TTL or the lock silently expires.
package lock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kasper/vidmeta/internal/logger"
	"github.com/redis/go-redis/v9"
)

// Release compares the stored holder token before deleting, so a slow caller
// cannot free a lock that expired and was reacquired by someone else.
const releaseScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// Locker acquires and releases named advisory locks.
type Locker struct {
	rdb     redis.Cmdable
	release *redis.Script
	prefix  string
	ttl     time.Duration
	log     *logger.Logger
}

// New creates a Locker. prefix namespaces lock keys; ttl bounds how long a
// crashed holder can block others.
func New(rdb redis.Cmdable, prefix string, ttl time.Duration, log *logger.Logger) *Locker {
	return &Locker{
		rdb:     rdb,
		release: redis.NewScript(releaseScript),
		prefix:  prefix,
		ttl:     ttl,
		log:     log,
	}
}

// TryLock attempts a single atomic set-if-absent with TTL. On success it
// returns the holder token, which the caller must hand back to Unlock; the
// token identifies this acquisition, not the name, so a holder that overran
// the TTL cannot release a later acquisition of the same name. It returns
// ok=false without error when the lock is already held. A store failure also
// returns ok=false: callers must treat "could not acquire" and "unavailable"
// the same.
func (l *Locker) TryLock(ctx context.Context, name string) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = l.rdb.SetNX(ctx, l.prefix+name, token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("lock store unavailable: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Unlock releases the acquisition identified by token. Releasing with an
// empty token, or after the lock expired and changed hands, is a no-op.
func (l *Locker) Unlock(ctx context.Context, name, token string) error {
	if token == "" {
		return nil
	}

	deleted, err := l.release.Run(ctx, l.rdb, []string{l.prefix + name}, token).Int64()
	if err != nil {
		return fmt.Errorf("lock release failed: %w", err)
	}
	if deleted == 0 {
		l.log.WithField("lock", name).Warn("Lock already expired or taken over at release")
	}
	return nil
}

// Fingerprint derives a deterministic job identity from the request's
// identity-relevant fields. Two distinct submissions describing the same
// underlying job produce the same fingerprint and are serialized by the lock.
func Fingerprint(provider, playlistID, requester string, externalIDs []string) string {
	ids := make([]string, len(externalIDs))
	copy(ids, externalIDs)
	sort.Strings(ids)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s", provider, playlistID, requester, strings.Join(ids, ","))
	return hex.EncodeToString(h.Sum(nil))
}
