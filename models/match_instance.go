package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MatchInstance is one session-hosting server and its reserved slot count.
type MatchInstance struct {
	ID          string    `gorm:"primaryKey;type:uuid" json:"id"`
	Endpoint    Endpoint  `gorm:"embedded" json:"endpoint"`
	PlayerCount int       `gorm:"not null;default:0" json:"player_count"`
	CreatedAt   time.Time `gorm:"not null;index" json:"created_at"`
	IsValid     bool      `gorm:"not null;default:true;index" json:"is_valid"`
	ProviderRef string    `gorm:"type:varchar(255)" json:"provider_ref,omitempty"` // task ARN or other platform id
}

func (i *MatchInstance) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}
