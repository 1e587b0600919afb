package services

import (
	"context"
	"errors"
	"game-session-system/models"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"
)

func TestTryReserveSlotsRespectsCapacity(t *testing.T) {
	checkReservationsCapped(t, newTestDB(t))
}

func TestTryReserveSlotsRespectsCapacityAcrossConnections(t *testing.T) {
	checkReservationsCapped(t, newFileTestDB(t, 8))
}

func checkReservationsCapped(t *testing.T, db *gorm.DB) {
	t.Helper()
	store := NewInstanceStore(db)
	ctx := context.Background()

	inst, err := store.Create(ctx, testEndpoint, 0, "task-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	const capacity, slots, workers = 10, 2, 12
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		reserved int
		misses   int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.TryReserveSlots(ctx, capacity, slots)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				reserved++
			case errors.Is(err, ErrNoInstanceAvailable):
				misses++
			default:
				t.Errorf("TryReserveSlots: %v", err)
			}
		}()
	}
	wg.Wait()

	if reserved != capacity/slots || misses != workers-capacity/slots {
		t.Fatalf("reserved=%d misses=%d", reserved, misses)
	}
	got, err := store.FindByEndpoint(ctx, testEndpoint)
	if err != nil {
		t.Fatalf("FindByEndpoint: %v", err)
	}
	if got.ID != inst.ID || got.PlayerCount != capacity {
		t.Fatalf("instance %s has %d players, want %d", got.ID, got.PlayerCount, capacity)
	}
}

func TestTryReserveSlotsRejectsImpossibleRequests(t *testing.T) {
	store := NewInstanceStore(newTestDB(t))
	for _, slots := range []int{0, -1, 5} {
		if _, err := store.TryReserveSlots(context.Background(), 4, slots); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("slots=%d: err = %v, want ErrInvalidArgument", slots, err)
		}
	}
}

func TestTryReserveSlotsSkipsInvalidAndUsesOldest(t *testing.T) {
	store := NewInstanceStore(newTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	store.Now = func() time.Time { return base }
	if _, err := store.Create(ctx, models.Endpoint{Host: "old", Port: 1}, 0, ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	store.Now = func() time.Time { return base.Add(time.Minute) }
	if _, err := store.Create(ctx, models.Endpoint{Host: "new", Port: 1}, 0, ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.TryReserveSlots(ctx, 4, 4)
	if err != nil || got.Endpoint.Host != "old" {
		t.Fatalf("first reservation = %+v, %v; want old", got, err)
	}
	got, err = store.TryReserveSlots(ctx, 4, 4)
	if err != nil || got.Endpoint.Host != "new" {
		t.Fatalf("second reservation = %+v, %v; want new", got, err)
	}

	if n, err := store.InvalidateAll(ctx); err != nil || n != 2 {
		t.Fatalf("InvalidateAll = %d, %v", n, err)
	}
	if _, err := store.TryReserveSlots(ctx, 8, 1); !errors.Is(err, ErrNoInstanceAvailable) {
		t.Fatalf("after invalidation: err = %v", err)
	}
	if _, err := store.FindByEndpoint(ctx, models.Endpoint{Host: "old", Port: 1}); !errors.Is(err, ErrInstanceNotFound) {
		t.Fatalf("FindByEndpoint after invalidation: err = %v", err)
	}
}

func TestAllocatorProvisionsOnlyWhenFull(t *testing.T) {
	db := newTestDB(t)
	prov := &countingProvisioner{}
	alloc := NewInstanceAllocator(NewInstanceStore(db), prov, 4, time.Second, discardLogger())
	ctx := context.Background()

	first, err := alloc.Allocate(ctx, 2)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	second, err := alloc.Allocate(ctx, 2)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if first.ID != second.ID {
		t.Fatal("second allocation should reuse the instance")
	}
	if _, err := alloc.Allocate(ctx, 2); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if n := prov.calls.Load(); n != 2 {
		t.Fatalf("provisioned %d instances, want 2", n)
	}
}

type blockingProvisioner struct{}

func (blockingProvisioner) Provision(ctx context.Context) (ProvisionedInstance, error) {
	<-ctx.Done()
	return ProvisionedInstance{}, ctx.Err()
}

func TestAllocatorProvisioningFailure(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	failing := NewInstanceAllocator(NewInstanceStore(db), &countingProvisioner{err: errors.New("quota exceeded")}, 4, time.Second, discardLogger())
	_, err := failing.Allocate(ctx, 1)
	if !errors.Is(err, ErrProvisioningFailed) || KindOf(err) != KindProvisioning {
		t.Fatalf("err = %v, want a provisioning failure", err)
	}

	slow := NewInstanceAllocator(NewInstanceStore(db), blockingProvisioner{}, 4, 20*time.Millisecond, discardLogger())
	_, err = slow.Allocate(ctx, 1)
	if !errors.Is(err, ErrProvisioningFailed) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want a timed out provisioning failure", err)
	}
	if n := countRows(t, db, &models.MatchInstance{}, ""); n != 0 {
		t.Fatalf("%d instances recorded after failures", n)
	}
}

func TestInstanceStoreInvalidate(t *testing.T) {
	store := NewInstanceStore(newTestDB(t))
	ctx := context.Background()

	first, err := store.Create(ctx, testEndpoint, 0, "task-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := store.Create(ctx, models.Endpoint{Host: "10.0.0.9", Port: 12346}, 0, "task-2")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := store.Invalidate(ctx, first.ID); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	got, err := store.TryReserveSlots(ctx, 4, 1)
	if err != nil || got.ID != second.ID {
		t.Fatalf("TryReserveSlots = %+v, %v; want the remaining instance", got, err)
	}
	if err := store.Invalidate(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, ErrInstanceNotFound) {
		t.Fatalf("unknown instance: err = %v", err)
	}
}
