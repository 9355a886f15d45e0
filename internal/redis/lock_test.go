package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestLocker(t *testing.T) (*miniredis.Miniredis, Locker) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisSlotLocker(client, 2*time.Second)
}

var slotTime = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func TestWithSlotLock_RunsCriticalSection(t *testing.T) {
	_, locker := newTestLocker(t)

	ran := false
	err := locker.WithSlotLock(context.Background(), uuid.New(), slotTime, func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("WithSlotLock failed: %v", err)
	}
	if !ran {
		t.Fatal("critical section did not run")
	}
}

func TestWithSlotLock_ReleasesAfterRun(t *testing.T) {
	mr, locker := newTestLocker(t)

	practitionerID := uuid.New()
	if err := locker.WithSlotLock(context.Background(), practitionerID, slotTime, func(ctx context.Context) error {
		return nil
	}); err != nil {
		t.Fatalf("first acquisition failed: %v", err)
	}

	key := "lock:practitioner:" + practitionerID.String() + ":slot:2025-06-02T10:00"
	if mr.Exists(key) {
		t.Fatal("lock key still present after release")
	}

	// A second acquisition on the same slot must succeed.
	if err := locker.WithSlotLock(context.Background(), practitionerID, slotTime, func(ctx context.Context) error {
		return nil
	}); err != nil {
		t.Fatalf("re-acquisition failed: %v", err)
	}
}

func TestWithSlotLock_ContendedSlot(t *testing.T) {
	_, locker := newTestLocker(t)

	practitionerID := uuid.New()
	err := locker.WithSlotLock(context.Background(), practitionerID, slotTime, func(ctx context.Context) error {
		// While held, a second caller for the same slot is turned away.
		inner := locker.WithSlotLock(ctx, practitionerID, slotTime, func(ctx context.Context) error {
			t.Fatal("second caller entered the critical section")
			return nil
		})
		if !errors.Is(inner, ErrLockNotAcquired) {
			t.Fatalf("want ErrLockNotAcquired, got %v", inner)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("outer WithSlotLock failed: %v", err)
	}
}

func TestWithSlotLock_DifferentSlotsIndependent(t *testing.T) {
	_, locker := newTestLocker(t)

	practitionerID := uuid.New()
	err := locker.WithSlotLock(context.Background(), practitionerID, slotTime, func(ctx context.Context) error {
		return locker.WithSlotLock(ctx, practitionerID, slotTime.Add(30*time.Minute), func(ctx context.Context) error {
			return nil
		})
	})
	if err != nil {
		t.Fatalf("locks on different slots should not contend: %v", err)
	}
}

func TestWithSlotLock_DoesNotReleaseForeignToken(t *testing.T) {
	mr, locker := newTestLocker(t)

	practitionerID := uuid.New()
	key := "lock:practitioner:" + practitionerID.String() + ":slot:2025-06-02T10:00"

	err := locker.WithSlotLock(context.Background(), practitionerID, slotTime, func(ctx context.Context) error {
		// Simulate TTL expiry plus takeover by another instance.
		mr.Set(key, "someone-else")
		return nil
	})
	if err != nil {
		t.Fatalf("WithSlotLock failed: %v", err)
	}

	val, getErr := mr.Get(key)
	if getErr != nil || val != "someone-else" {
		t.Fatalf("foreign lock token was deleted: val=%q err=%v", val, getErr)
	}
}

func TestWithSlotLock_PropagatesCriticalSectionError(t *testing.T) {
	_, locker := newTestLocker(t)

	boom := errors.New("boom")
	err := locker.WithSlotLock(context.Background(), uuid.New(), slotTime, func(ctx context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want propagated error, got %v", err)
	}
}
