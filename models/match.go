package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrUnsupportedLimitType is returned for limit types other than None or Time.
var ErrUnsupportedLimitType = errors.New("only time-based match limits are supported")

// MatchType names a match configuration, e.g. "default".
type MatchType string

// MatchLimitType is a flag set describing how a match ends.
type MatchLimitType int

const (
	LimitNone      MatchLimitType = 0
	LimitTime      MatchLimitType = 1
	LimitCondition MatchLimitType = 2
	LimitCustom    MatchLimitType = 4
)

// Has reports whether all bits of flag are set.
func (l MatchLimitType) Has(flag MatchLimitType) bool {
	return l&flag == flag
}

func (l MatchLimitType) String() string {
	switch l {
	case LimitNone:
		return "None"
	case LimitTime:
		return "Time"
	case LimitCondition:
		return "Condition"
	case LimitCustom:
		return "Custom"
	default:
		return "Mixed"
	}
}

// Endpoint is the network address of a session-hosting instance.
type Endpoint struct {
	Host string `gorm:"not null" json:"host"`
	Port int    `gorm:"not null" json:"port"`
}

// Match is one shared session players are matched into.
type Match struct {
	ID          string        `gorm:"primaryKey;type:uuid" json:"id"`
	Players     []MatchPlayer `gorm:"foreignKey:MatchID;constraint:OnDelete:CASCADE" json:"players"`
	PlayerCount int           `gorm:"not null;default:0;index:idx_matches_type_count,priority:2" json:"player_count"`
	CreatedAt   time.Time     `gorm:"not null;index" json:"created_at"`
	Type        MatchType     `gorm:"type:varchar(64);not null;index:idx_matches_type_count,priority:1" json:"type"`
	Endpoint    Endpoint      `gorm:"embedded" json:"endpoint"`
	IsValid     bool          `gorm:"not null;default:true;index" json:"is_valid"`

	// Time limit, only meaningful when LimitType has LimitTime
	DurationMillis *int64         `gorm:"column:duration_ms" json:"duration_ms,omitempty"`
	LimitType      MatchLimitType `gorm:"not null;default:0" json:"limit_type"`

	// Expiry monitoring lease held by one session server process
	LeaseOwner     string `gorm:"type:varchar(64);not null;default:''" json:"-"`
	LeaseExpiresAt int64  `gorm:"not null;default:0" json:"-"`
}

// MatchPlayer is one membership row; (match_id, player_id) is unique.
type MatchPlayer struct {
	ID       uint      `gorm:"primaryKey" json:"-"`
	MatchID  string    `gorm:"type:uuid;not null;uniqueIndex:idx_match_players_member,priority:1" json:"match_id"`
	PlayerID string    `gorm:"type:varchar(128);not null;uniqueIndex:idx_match_players_member,priority:2;index" json:"player_id"`
	JoinedAt time.Time `gorm:"not null" json:"joined_at"`
}

func (m *Match) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// Duration returns the configured time limit, if any.
func (m *Match) Duration() (time.Duration, bool) {
	if m.DurationMillis == nil {
		return 0, false
	}
	return time.Duration(*m.DurationMillis) * time.Millisecond, true
}

// ValidateLimitType rejects limit types the system cannot enforce.
func (m *Match) ValidateLimitType() error {
	if m.LimitType != LimitNone && m.LimitType != LimitTime {
		return ErrUnsupportedLimitType
	}
	return nil
}

// ExpirationTime is CreatedAt plus the duration when the match is time limited.
func (m *Match) ExpirationTime() (time.Time, bool) {
	d, ok := m.Duration()
	if !ok || !m.LimitType.Has(LimitTime) {
		return time.Time{}, false
	}
	return m.CreatedAt.Add(d), true
}

// IsExpiredAt reports whether now is strictly after the expiration time.
func (m *Match) IsExpiredAt(now time.Time) bool {
	exp, ok := m.ExpirationTime()
	return ok && now.After(exp)
}

func (m *Match) PlayerIDs() []string {
	ids := make([]string, 0, len(m.Players))
	for _, p := range m.Players {
		ids = append(ids, p.PlayerID)
	}
	return ids
}

func (m *Match) HasPlayer(playerID string) bool {
	for _, p := range m.Players {
		if p.PlayerID == playerID {
			return true
		}
	}
	return false
}

// DurationMillisOf converts an optional duration into the persisted form.
func DurationMillisOf(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	ms := d.Milliseconds()
	return &ms
}
