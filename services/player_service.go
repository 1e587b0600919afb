package services

import (
	"context"
	"errors"
	"fmt"
	"game-session-system/models"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PlayerService registers players and records their logins.
type PlayerService struct {
	DB     *gorm.DB
	Logger *slog.Logger
}

func NewPlayerService(db *gorm.DB, logger *slog.Logger) *PlayerService {
	return &PlayerService{DB: db, Logger: logger}
}

// Register creates a player. An empty username gets a generated one.
func (s *PlayerService) Register(ctx context.Context, username string) (*models.Player, error) {
	if username == "" {
		username = fmt.Sprintf("Player_%d_%d", time.Now().UnixNano(), 1000+rand.IntN(9000))
	}
	now := time.Now().UTC()
	player := models.Player{
		UserID:      uuid.NewString(),
		Username:    username,
		LastLoginAt: &now,
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.Player{}).
			Where("user_id = ? OR username = ?", player.UserID, player.Username).
			Count(&existing).Error; err != nil {
			return storageErr("check player", player.UserID, err)
		}
		if existing > 0 {
			return fmt.Errorf("%w: %s", ErrDuplicatePlayer, player.Username)
		}
		if err := tx.Create(&player).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: %s", ErrDuplicatePlayer, player.Username)
			}
			return storageErr("create player", player.UserID, err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicatePlayer) {
			s.Logger.Warn("duplicate player registration", "username", player.Username)
		}
		return nil, err
	}

	s.Logger.Info("player registered", "user_id", player.UserID, "username", player.Username)
	return &player, nil
}

// Login stamps the player's last login time.
func (s *PlayerService) Login(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: empty user id", ErrInvalidArgument)
	}
	now := time.Now().UTC()
	res := s.DB.WithContext(ctx).Model(&models.Player{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{"last_login_at": now, "updated_at": now})
	if res.Error != nil {
		return storageErr("login player", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		s.Logger.Warn("login with unknown user id", "user_id", userID)
		return fmt.Errorf("%w: %s", ErrPlayerNotFound, userID)
	}
	s.Logger.Info("player logged in", "user_id", userID)
	return nil
}

// Get loads a player by its user id.
func (s *PlayerService) Get(ctx context.Context, userID string) (*models.Player, error) {
	var player models.Player
	err := s.DB.WithContext(ctx).First(&player, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrPlayerNotFound, userID)
	}
	if err != nil {
		return nil, storageErr("get player", userID, err)
	}
	return &player, nil
}

// Exists reports whether userID is registered.
func (s *PlayerService) Exists(ctx context.Context, userID string) (bool, error) {
	var count int64
	if err := s.DB.WithContext(ctx).Model(&models.Player{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return false, storageErr("check player", userID, err)
	}
	return count > 0, nil
}
