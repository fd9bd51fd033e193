package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), Options{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestWithLock_ExclusiveAndReleased(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisLocker(client, time.Minute)
	ctx := context.Background()

	ran := false
	err := locker.WithLock(ctx, "job:daily-reminders:202405200800", func(ctx context.Context) error {
		ran = true
		if !mr.Exists("lock:job:daily-reminders:202405200800") {
			t.Error("expected lease key to exist while held")
		}

		inner := locker.WithLock(ctx, "job:daily-reminders:202405200800", func(context.Context) error {
			t.Error("second holder must not run")
			return nil
		})
		if !errors.Is(inner, ErrLockNotAcquired) {
			t.Errorf("expected ErrLockNotAcquired, got %v", inner)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Fatal("expected fn to run")
	}
	if mr.Exists("lock:job:daily-reminders:202405200800") {
		t.Error("expected lease to be released")
	}
}

func TestWithLock_DoesNotReleaseForeignToken(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisLocker(client, time.Minute)

	err := locker.WithLock(context.Background(), "k", func(context.Context) error {
		// simulate expiry followed by another holder taking the key
		mr.Set("lock:k", "someone-else")
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := mr.Get("lock:k")
	if err != nil || got != "someone-else" {
		t.Fatalf("expected foreign lease to survive, got %q (%v)", got, err)
	}
}

func TestExportQueue_FIFO(t *testing.T) {
	_, client := newTestClient(t)
	q := NewExportQueue(client, "clinic:export-requests")
	ctx := context.Background()

	first, second := uuid.New(), uuid.New()
	if _, err := q.Enqueue(ctx, first); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Enqueue(ctx, second); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, err := q.Dequeue(ctx, time.Second)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got == nil || got.UserID != first {
		t.Fatalf("expected first request, got %+v", got)
	}

	got, err = q.Dequeue(ctx, time.Second)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got == nil || got.UserID != second {
		t.Fatalf("expected second request, got %+v", got)
	}
}

func TestExportQueue_DequeueEmpty(t *testing.T) {
	_, client := newTestClient(t)
	q := NewExportQueue(client, "clinic:export-requests")

	got, err := q.Dequeue(context.Background(), 100*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil request, got %+v", got)
	}
}

func TestNewRedisClient_PingFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if _, err := NewRedisClient(context.Background(), Options{Addr: addr}); err == nil {
		t.Fatal("expected error for unreachable redis")
	}
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.Config{RedisAddr: "cache:6380", RedisUsername: "clinic", RedisPassword: "secret"})
	if opts.Addr != "cache:6380" || opts.Username != "clinic" || opts.Password != "secret" {
		t.Errorf("unexpected options %+v", opts)
	}
	if opts.ReadTimeout <= 5*time.Second {
		t.Errorf("read timeout %s must exceed the export worker wait", opts.ReadTimeout)
	}
}

func TestWithLease_KeptUntilExpiry(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisLocker(client, time.Minute)
	ctx := context.Background()
	key := "job:monthly-report:203007010900"

	runs := 0
	run := func(context.Context) error {
		runs++
		return nil
	}

	if err := locker.WithLease(ctx, key, run); err != nil {
		t.Fatalf("first lease: %v", err)
	}
	if !mr.Exists("lock:" + key) {
		t.Fatal("expected lease to outlive the run")
	}
	if ttl := mr.TTL("lock:" + key); ttl <= 0 || ttl > time.Minute {
		t.Errorf("unexpected lease ttl %s", ttl)
	}

	if err := locker.WithLease(ctx, key, run); !errors.Is(err, ErrLockNotAcquired) {
		t.Fatalf("expected ErrLockNotAcquired for the same key, got %v", err)
	}

	mr.FastForward(time.Minute + time.Second)
	if err := locker.WithLease(ctx, key, run); err != nil {
		t.Fatalf("expected lease after expiry, got %v", err)
	}
	if runs != 2 {
		t.Fatalf("expected 2 runs, got %d", runs)
	}
}
