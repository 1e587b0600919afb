// services/config_store.go
package services

import (
	"context"
	"errors"
	"fmt"
	"game-session-system/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConfigStore reads and maintains the per-type match configuration.
type ConfigStore struct {
	DB *gorm.DB
}

func NewConfigStore(db *gorm.DB) *ConfigStore {
	return &ConfigStore{DB: db}
}

// WithTx returns a copy of the store bound to tx.
func (s *ConfigStore) WithTx(tx *gorm.DB) *ConfigStore {
	return &ConfigStore{DB: tx}
}

// Get returns the config for matchType. A missing or malformed row is a
// configuration error, never a retryable one.
func (s *ConfigStore) Get(ctx context.Context, matchType models.MatchType) (*models.MatchConfig, error) {
	var cfg models.MatchConfig
	err := s.DB.WithContext(ctx).First(&cfg, "match_type = ?", matchType).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrMatchConfigMissing, matchType)
	}
	if err != nil {
		return nil, storageErr("get match config", string(matchType), err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMatchConfigInvalid, err)
	}
	return &cfg, nil
}

// Upsert validates and stores cfg, replacing any existing row for its type.
func (s *ConfigStore) Upsert(ctx context.Context, cfg models.MatchConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrMatchConfigInvalid, err)
	}
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "match_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"max_players", "number_of_teams", "duration_ms", "limit_type"}),
	}).Create(&cfg).Error
	if err != nil {
		return storageErr("upsert match config", string(cfg.MatchType), err)
	}
	return nil
}

// Seed upserts every config in one transaction.
func (s *ConfigStore) Seed(ctx context.Context, configs []models.MatchConfig) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		store := s.WithTx(tx)
		for _, cfg := range configs {
			if err := store.Upsert(ctx, cfg); err != nil {
				return err
			}
		}
		return nil
	})
}

// List returns every stored config ordered by type.
func (s *ConfigStore) List(ctx context.Context) ([]models.MatchConfig, error) {
	var configs []models.MatchConfig
	if err := s.DB.WithContext(ctx).Order("match_type ASC").Find(&configs).Error; err != nil {
		return nil, storageErr("list match configs", "", err)
	}
	return configs, nil
}
