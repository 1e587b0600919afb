package services

import (
	"context"
	"errors"
	"game-session-system/models"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

// InstanceAllocator hands out instance slots, provisioning a new instance when
// every existing one is full.
type InstanceAllocator struct {
	Instances   *InstanceStore
	Provisioner Provisioner
	Capacity    int
	Timeout     time.Duration
	Logger      *slog.Logger
}

func NewInstanceAllocator(instances *InstanceStore, provisioner Provisioner, capacity int, timeout time.Duration, logger *slog.Logger) *InstanceAllocator {
	return &InstanceAllocator{
		Instances:   instances,
		Provisioner: provisioner,
		Capacity:    capacity,
		Timeout:     timeout,
		Logger:      logger,
	}
}

func (a *InstanceAllocator) WithTx(tx *gorm.DB) *InstanceAllocator {
	c := *a
	c.Instances = a.Instances.WithTx(tx)
	return &c
}

// Allocate reserves requiredSlots on some instance, provisioning one when none has room.
func (a *InstanceAllocator) Allocate(ctx context.Context, requiredSlots int) (*models.MatchInstance, error) {
	instance, err := a.Reserve(ctx, requiredSlots)
	if err == nil {
		return instance, nil
	}
	if !errors.Is(err, ErrNoInstanceAvailable) {
		return nil, err
	}
	return a.Provision(ctx, requiredSlots)
}

// Reserve takes requiredSlots on an existing instance or reports ErrNoInstanceAvailable.
func (a *InstanceAllocator) Reserve(ctx context.Context, requiredSlots int) (*models.MatchInstance, error) {
	return a.Instances.TryReserveSlots(ctx, a.Capacity, requiredSlots)
}

// Provision starts a new instance and records it with requiredSlots already taken.
// It can block for up to Timeout, so callers must not hold a transaction open around it.
func (a *InstanceAllocator) Provision(ctx context.Context, requiredSlots int) (*models.MatchInstance, error) {
	a.Logger.Info("no instance has free slots, provisioning", "required_slots", requiredSlots, "capacity", a.Capacity)
	provisioned, err := a.provision(ctx)
	if err != nil {
		a.Logger.Error("provisioning failed", "error", err)
		return nil, err
	}
	return a.Instances.Create(ctx, provisioned.Endpoint, requiredSlots, provisioned.Ref)
}

// provision runs the platform call on its own goroutine so the caller can give
// up when ctx ends or the timeout passes.
func (a *InstanceAllocator) provision(ctx context.Context) (ProvisionedInstance, error) {
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	type result struct {
		instance ProvisionedInstance
		err      error
	}
	done := make(chan result, 1)
	go func() {
		instance, err := a.Provisioner.Provision(ctx)
		done <- result{instance, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return ProvisionedInstance{}, &ProvisioningError{Err: r.err}
		}
		return r.instance, nil
	case <-ctx.Done():
		return ProvisionedInstance{}, &ProvisioningError{Err: ctx.Err()}
	}
}
