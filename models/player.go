package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Player is a registered identity allowed to request matches.
type Player struct {
	ID          string     `gorm:"primaryKey;type:uuid" json:"id"`
	UserID      string     `gorm:"type:varchar(128);uniqueIndex;not null" json:"user_id"`
	Username    string     `gorm:"type:varchar(128);uniqueIndex;not null" json:"username"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

func (p *Player) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
