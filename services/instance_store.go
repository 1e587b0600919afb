package services

import (
	"context"
	"errors"
	"fmt"
	"game-session-system/models"
	"time"

	"gorm.io/gorm"
)

const reserveScanLimit = 16

// InstanceStore tracks session-hosting instances and their reserved slots.
type InstanceStore struct {
	DB  *gorm.DB
	Now func() time.Time
}

func NewInstanceStore(db *gorm.DB) *InstanceStore {
	return &InstanceStore{DB: db, Now: time.Now}
}

func (s *InstanceStore) WithTx(tx *gorm.DB) *InstanceStore {
	return &InstanceStore{DB: tx, Now: s.Now}
}

// TryReserveSlots atomically adds requiredSlots to the oldest valid instance that
// still has room. The capacity check and the increment are one conditional update.
func (s *InstanceStore) TryReserveSlots(ctx context.Context, capacity, requiredSlots int) (*models.MatchInstance, error) {
	if requiredSlots <= 0 || requiredSlots > capacity {
		return nil, fmt.Errorf("%w: cannot reserve %d slots on instances of capacity %d", ErrInvalidArgument, requiredSlots, capacity)
	}
	limit := capacity - requiredSlots
	db := s.DB.WithContext(ctx)

	var candidates []models.MatchInstance
	err := db.Select("id").
		Where("is_valid = ? AND player_count <= ?", true, limit).
		Order("created_at ASC").
		Limit(reserveScanLimit).
		Find(&candidates).Error
	if err != nil {
		return nil, storageErr("find instances", "", err)
	}

	for _, c := range candidates {
		res := db.Model(&models.MatchInstance{}).
			Where("id = ? AND is_valid = ? AND player_count <= ?", c.ID, true, limit).
			UpdateColumn("player_count", gorm.Expr("player_count + ?", requiredSlots))
		if res.Error != nil {
			return nil, storageErr("reserve slots", c.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			continue
		}

		var reserved models.MatchInstance
		if err := db.First(&reserved, "id = ?", c.ID).Error; err != nil {
			return nil, storageErr("reload instance", c.ID, err)
		}
		return &reserved, nil
	}
	return nil, ErrNoInstanceAvailable
}

// Create records a freshly provisioned instance with initialCount slots taken.
func (s *InstanceStore) Create(ctx context.Context, endpoint models.Endpoint, initialCount int, providerRef string) (*models.MatchInstance, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	instance := models.MatchInstance{
		Endpoint:    endpoint,
		PlayerCount: initialCount,
		CreatedAt:   now().UTC().Truncate(time.Millisecond),
		IsValid:     true,
		ProviderRef: providerRef,
	}
	if err := s.DB.WithContext(ctx).Create(&instance).Error; err != nil {
		return nil, storageErr("create instance", fmt.Sprintf("%s:%d", endpoint.Host, endpoint.Port), err)
	}
	return &instance, nil
}

// InvalidateAll retires every valid instance.
func (s *InstanceStore) InvalidateAll(ctx context.Context) (int64, error) {
	res := s.DB.WithContext(ctx).Model(&models.MatchInstance{}).Where("is_valid = ?", true).UpdateColumn("is_valid", false)
	if res.Error != nil {
		return 0, storageErr("invalidate instances", "", res.Error)
	}
	return res.RowsAffected, nil
}

// Invalidate retires one instance so no further slots are reserved on it.
func (s *InstanceStore) Invalidate(ctx context.Context, id string) error {
	res := s.DB.WithContext(ctx).Model(&models.MatchInstance{}).Where("id = ?", id).UpdateColumn("is_valid", false)
	if res.Error != nil {
		return storageErr("invalidate instance", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	return nil
}

// FindByEndpoint returns the newest valid instance serving endpoint.
func (s *InstanceStore) FindByEndpoint(ctx context.Context, endpoint models.Endpoint) (*models.MatchInstance, error) {
	key := fmt.Sprintf("%s:%d", endpoint.Host, endpoint.Port)
	var instance models.MatchInstance
	err := s.DB.WithContext(ctx).
		Where("host = ? AND port = ? AND is_valid = ?", endpoint.Host, endpoint.Port, true).
		Order("created_at DESC").
		First(&instance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, key)
	}
	if err != nil {
		return nil, storageErr("find instance", key, err)
	}
	return &instance, nil
}
