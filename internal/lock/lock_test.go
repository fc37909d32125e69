package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kasper/vidmeta/internal/logger"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestTryLockMutualExclusion(t *testing.T) {
	_, client := newTestStore(t)
	ctx := context.Background()

	a := New(client, "test:lock:", time.Minute, logger.New(nil))
	b := New(client, "test:lock:", time.Minute, logger.New(nil))

	_, ok, err := a.TryLock(ctx, "job-1")
	if err != nil || !ok {
		t.Fatalf("first acquire failed: ok=%v err=%v", ok, err)
	}

	_, ok, err = b.TryLock(ctx, "job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("second holder must not acquire a held lock")
	}

	// A different name is independent.
	_, ok, err = b.TryLock(ctx, "job-2")
	if err != nil || !ok {
		t.Fatalf("unrelated lock should be acquirable: ok=%v err=%v", ok, err)
	}
}

func TestUnlockReleasesForOthers(t *testing.T) {
	_, client := newTestStore(t)
	ctx := context.Background()

	a := New(client, "test:lock:", time.Minute, logger.New(nil))
	b := New(client, "test:lock:", time.Minute, logger.New(nil))

	token, ok, _ := a.TryLock(ctx, "job")
	if !ok {
		t.Fatal("setup acquire failed")
	}
	if err := a.Unlock(ctx, "job", token); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if _, ok, err := b.TryLock(ctx, "job"); err != nil || !ok {
		t.Fatalf("expected lock to be free after release: ok=%v err=%v", ok, err)
	}
}

func TestUnlockByNonHolderIsNoop(t *testing.T) {
	_, client := newTestStore(t)
	ctx := context.Background()

	a := New(client, "test:lock:", time.Minute, logger.New(nil))
	b := New(client, "test:lock:", time.Minute, logger.New(nil))

	if _, ok, _ := a.TryLock(ctx, "job"); !ok {
		t.Fatal("setup acquire failed")
	}
	// An empty token never touches the store.
	if err := b.Unlock(ctx, "job", ""); err != nil {
		t.Fatalf("empty-token unlock must be a silent no-op, got %v", err)
	}
	// A made-up token fails the compare and leaves the lock alone.
	if err := b.Unlock(ctx, "job", "not-the-holder"); err != nil {
		t.Fatalf("wrong-token unlock must be a silent no-op, got %v", err)
	}
	// A's lock must survive.
	if _, ok, _ := b.TryLock(ctx, "job"); ok {
		t.Fatal("non-holder unlock must not free the lock")
	}
}

func TestUnlockAfterExpiryDoesNotStealNewHolder(t *testing.T) {
	mr, client := newTestStore(t)
	ctx := context.Background()

	a := New(client, "test:lock:", time.Second, logger.New(nil))
	b := New(client, "test:lock:", time.Minute, logger.New(nil))

	staleToken, ok, _ := a.TryLock(ctx, "job")
	if !ok {
		t.Fatal("setup acquire failed")
	}

	// A's lock expires and B takes over.
	mr.FastForward(2 * time.Second)
	if _, ok, _ := b.TryLock(ctx, "job"); !ok {
		t.Fatal("expected lock to be acquirable after expiry")
	}

	// A's stale release must leave B's lock intact.
	if err := a.Unlock(ctx, "job", staleToken); err != nil {
		t.Fatalf("stale unlock should not error: %v", err)
	}
	if _, ok, _ := a.TryLock(ctx, "job"); ok {
		t.Fatal("stale unlock deleted the new holder's lock")
	}
}

func TestStaleUnlockSameLockerDoesNotStealNewHolder(t *testing.T) {
	// One Locker instance serves every goroutine in a process, so the same
	// instance can hold a stale token for a name it has since reacquired.
	mr, client := newTestStore(t)
	ctx := context.Background()

	l := New(client, "test:lock:", time.Second, logger.New(nil))

	staleToken, ok, _ := l.TryLock(ctx, "job")
	if !ok {
		t.Fatal("setup acquire failed")
	}

	// The first run overruns the TTL; a second run reacquires the same name.
	mr.FastForward(2 * time.Second)
	newToken, ok, _ := l.TryLock(ctx, "job")
	if !ok {
		t.Fatal("expected reacquisition after expiry")
	}

	// The overrun run's deferred release must not free the second run's lock.
	if err := l.Unlock(ctx, "job", staleToken); err != nil {
		t.Fatalf("stale unlock should not error: %v", err)
	}
	if _, ok, _ := l.TryLock(ctx, "job"); ok {
		t.Fatal("stale unlock deleted the new holder's lock")
	}

	// The second run's token still releases normally.
	if err := l.Unlock(ctx, "job", newToken); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if _, ok, _ := l.TryLock(ctx, "job"); !ok {
		t.Fatal("expected lock to be free after the holder released it")
	}
}

func TestFingerprint(t *testing.T) {
	base := Fingerprint("YOUTUBE", "", "alice", []string{"a", "b", "c"})

	if got := Fingerprint("YOUTUBE", "", "alice", []string{"c", "a", "b"}); got != base {
		t.Error("fingerprint must be insensitive to external id order")
	}
	if got := Fingerprint("YOUTUBE", "", "bob", []string{"a", "b", "c"}); got == base {
		t.Error("different requester must yield a different fingerprint")
	}
	if got := Fingerprint("VIMEO", "", "alice", []string{"a", "b", "c"}); got == base {
		t.Error("different provider must yield a different fingerprint")
	}
	if got := Fingerprint("YOUTUBE", "pl-9", "alice", []string{"a", "b", "c"}); got == base {
		t.Error("playlist id must contribute to the fingerprint")
	}
	if len(base) != 64 {
		t.Errorf("expected hex sha256 of length 64, got %d", len(base))
	}
}
