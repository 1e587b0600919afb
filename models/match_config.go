package models

import (
	"errors"
	"fmt"
	"time"
)

// MatchConfig holds the per-type rules used when creating matches.
type MatchConfig struct {
	MatchType      MatchType      `gorm:"primaryKey;type:varchar(64)" json:"matchType"`
	MaxPlayers     int            `gorm:"not null" json:"maxPlayers"`
	NumberOfTeams  int            `gorm:"not null;default:1" json:"numberOfTeams"`
	DurationMillis *int64         `gorm:"column:duration_ms" json:"durationMs,omitempty"`
	LimitType      MatchLimitType `gorm:"not null;default:0" json:"limitType"`
}

// Validate checks a config before it is stored or used.
func (c *MatchConfig) Validate() error {
	if c.MatchType == "" {
		return errors.New("match type is required")
	}
	if c.MaxPlayers <= 0 {
		return fmt.Errorf("match type %q: max players must be positive", c.MatchType)
	}
	if c.NumberOfTeams < 0 {
		return fmt.Errorf("match type %q: number of teams must not be negative", c.MatchType)
	}
	if c.LimitType != LimitNone && c.LimitType != LimitTime {
		return fmt.Errorf("match type %q: %w", c.MatchType, ErrUnsupportedLimitType)
	}
	if c.LimitType.Has(LimitTime) && (c.DurationMillis == nil || *c.DurationMillis <= 0) {
		return fmt.Errorf("match type %q: time limit requires a positive duration", c.MatchType)
	}
	return nil
}

// Duration returns the configured time limit, or nil.
func (c *MatchConfig) Duration() *time.Duration {
	if c.DurationMillis == nil {
		return nil
	}
	d := time.Duration(*c.DurationMillis) * time.Millisecond
	return &d
}
