package services

import (
	"context"
	"errors"
	"fmt"
	"game-session-system/models"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// openMatchScanLimit bounds how many candidate matches a single TryJoinOpen inspects.
const openMatchScanLimit = 32

// MatchStore persists matches and their membership.
type MatchStore struct {
	DB  *gorm.DB
	Now func() time.Time
}

func NewMatchStore(db *gorm.DB) *MatchStore {
	return &MatchStore{DB: db, Now: time.Now}
}

// WithTx returns a copy of the store bound to tx.
func (s *MatchStore) WithTx(tx *gorm.DB) *MatchStore {
	return &MatchStore{DB: tx, Now: s.Now}
}

func (s *MatchStore) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// Create persists a new valid match holding players.
func (s *MatchStore) Create(ctx context.Context, players []string, matchType models.MatchType, endpoint models.Endpoint, duration *time.Duration, limitType models.MatchLimitType) (*models.Match, error) {
	if len(players) == 0 {
		return nil, fmt.Errorf("%w: a match needs at least one player", ErrInvalidArgument)
	}

	now := s.now().Truncate(time.Millisecond)
	match := models.Match{
		CreatedAt:      now,
		Type:           matchType,
		Endpoint:       endpoint,
		IsValid:        true,
		DurationMillis: models.DurationMillisOf(duration),
		LimitType:      limitType,
	}
	if err := match.ValidateLimitType(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(players))
	for _, id := range players {
		if id == "" {
			return nil, fmt.Errorf("%w: empty player id", ErrInvalidArgument)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		match.Players = append(match.Players, models.MatchPlayer{PlayerID: id, JoinedAt: now})
	}
	match.PlayerCount = len(match.Players)

	if err := s.DB.WithContext(ctx).Create(&match).Error; err != nil {
		return nil, storageErr("create match", string(matchType), err)
	}
	return &match, nil
}

// checkMatchID keeps ids that cannot name a match away from the uuid column.
func checkMatchID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %s", ErrMatchNotFound, id)
	}
	return nil
}

// GetByID loads a match with its players.
func (s *MatchStore) GetByID(ctx context.Context, id string) (*models.Match, error) {
	if err := checkMatchID(id); err != nil {
		return nil, err
	}
	var match models.Match
	err := s.DB.WithContext(ctx).Preload("Players").First(&match, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrMatchNotFound, id)
	}
	if err != nil {
		return nil, storageErr("get match", id, err)
	}
	return &match, nil
}

// TryJoinOpen adds playerID to the oldest open match of matchType.
// Expired candidates are invalidated on the way. ErrNoOpenMatch when none qualifies.
func (s *MatchStore) TryJoinOpen(ctx context.Context, matchType models.MatchType, maxPlayers int, playerID string) (*models.Match, error) {
	if playerID == "" {
		return nil, fmt.Errorf("%w: empty player id", ErrInvalidArgument)
	}

	var candidates []models.Match
	err := s.DB.WithContext(ctx).
		Where("type = ? AND is_valid = ? AND player_count < ?", matchType, true, maxPlayers).
		Order("created_at ASC").
		Limit(openMatchScanLimit).
		Find(&candidates).Error
	if err != nil {
		return nil, storageErr("find open matches", string(matchType), err)
	}

	now := s.now()
	var expired []string
	open := candidates[:0]
	for _, c := range candidates {
		if c.IsExpiredAt(now) {
			expired = append(expired, c.ID)
			continue
		}
		open = append(open, c)
	}
	if len(expired) > 0 {
		err := s.DB.WithContext(ctx).Model(&models.Match{}).
			Where("id IN ? AND is_valid = ?", expired, true).
			UpdateColumn("is_valid", false).Error
		if err != nil {
			return nil, storageErr("invalidate expired matches", string(matchType), err)
		}
	}

	for _, c := range open {
		match, err := s.join(ctx, c.ID, maxPlayers, playerID)
		switch {
		case err == nil:
			return match, nil
		case errors.Is(err, ErrMatchFull), errors.Is(err, ErrMatchClosed), errors.Is(err, ErrMatchNotFound):
			// lost the race for this one
			continue
		default:
			return nil, err
		}
	}
	return nil, ErrNoOpenMatch
}

// Join adds playerID to a specific match. A member rejoining gets the match unchanged.
// A valid match past its time limit reports ErrMatchExpired and is left for the
// caller to invalidate outside any transaction it may roll back.
func (s *MatchStore) Join(ctx context.Context, id string, maxPlayers int, playerID string) (*models.Match, error) {
	if playerID == "" {
		return nil, fmt.Errorf("%w: empty player id", ErrInvalidArgument)
	}
	match, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !match.IsValid {
		return nil, fmt.Errorf("%w: %s", ErrMatchClosed, id)
	}
	if match.IsExpiredAt(s.now()) {
		return nil, fmt.Errorf("%w: %s", ErrMatchExpired, id)
	}
	if match.HasPlayer(playerID) {
		return match, nil
	}
	if match.PlayerCount >= maxPlayers {
		return nil, fmt.Errorf("%w: %s", ErrMatchFull, id)
	}
	return s.join(ctx, id, maxPlayers, playerID)
}

// join performs the conditional increment and the membership insert as one unit,
// so player_count always equals the number of membership rows once committed.
func (s *MatchStore) join(ctx context.Context, id string, maxPlayers int, playerID string) (*models.Match, error) {
	alreadyMember := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Match{}).
			Where("id = ? AND is_valid = ? AND player_count < ?", id, true, maxPlayers).
			Where("NOT EXISTS (SELECT 1 FROM match_players mp WHERE mp.match_id = matches.id AND mp.player_id = ?)", playerID).
			UpdateColumn("player_count", gorm.Expr("player_count + ?", 1))
		if res.Error != nil {
			return storageErr("join match", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return s.classifyJoinMiss(tx, id, maxPlayers, playerID, &alreadyMember)
		}

		member := models.MatchPlayer{MatchID: id, PlayerID: playerID, JoinedAt: s.now()}
		if err := tx.Create(&member).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				alreadyMember = true
				return errRollbackMember
			}
			return storageErr("add match player", id, err)
		}
		return nil
	})
	if err != nil && !(alreadyMember && errors.Is(err, errRollbackMember)) {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

// errRollbackMember undoes an increment whose membership row already existed.
var errRollbackMember = errors.New("player already a member")

func (s *MatchStore) classifyJoinMiss(tx *gorm.DB, id string, maxPlayers int, playerID string, alreadyMember *bool) error {
	var match models.Match
	err := tx.Select("id", "is_valid", "player_count").First(&match, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrMatchNotFound, id)
	}
	if err != nil {
		return storageErr("join match", id, err)
	}
	if !match.IsValid {
		return fmt.Errorf("%w: %s", ErrMatchClosed, id)
	}

	var members int64
	err = tx.Model(&models.MatchPlayer{}).Where("match_id = ? AND player_id = ?", id, playerID).Count(&members).Error
	if err != nil {
		return storageErr("join match", id, err)
	}
	if members > 0 {
		*alreadyMember = true
		return nil
	}
	return fmt.Errorf("%w: %s", ErrMatchFull, id)
}

// Delete removes a match and its membership rows.
func (s *MatchStore) Delete(ctx context.Context, id string) error {
	if err := checkMatchID(id); err != nil {
		return err
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("match_id = ?", id).Delete(&models.MatchPlayer{}).Error; err != nil {
			return storageErr("delete match players", id, err)
		}
		res := tx.Where("id = ?", id).Delete(&models.Match{})
		if res.Error != nil {
			return storageErr("delete match", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrMatchNotFound, id)
		}
		return nil
	})
}

// Invalidate marks one match as no longer joinable.
func (s *MatchStore) Invalidate(ctx context.Context, id string) error {
	if err := checkMatchID(id); err != nil {
		return err
	}
	res := s.DB.WithContext(ctx).Model(&models.Match{}).Where("id = ?", id).UpdateColumn("is_valid", false)
	if res.Error != nil {
		return storageErr("invalidate match", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrMatchNotFound, id)
	}
	return nil
}

// InvalidateAllActive marks every valid match invalid and returns how many changed.
func (s *MatchStore) InvalidateAllActive(ctx context.Context) (int64, error) {
	res := s.DB.WithContext(ctx).Model(&models.Match{}).Where("is_valid = ?", true).UpdateColumn("is_valid", false)
	if res.Error != nil {
		return 0, storageErr("invalidate matches", "", res.Error)
	}
	return res.RowsAffected, nil
}

// InvalidateByEndpoint invalidates the valid matches hosted on endpoint.
func (s *MatchStore) InvalidateByEndpoint(ctx context.Context, endpoint models.Endpoint) (int64, error) {
	res := s.DB.WithContext(ctx).Model(&models.Match{}).
		Where("host = ? AND port = ? AND is_valid = ?", endpoint.Host, endpoint.Port, true).
		UpdateColumn("is_valid", false)
	if res.Error != nil {
		return 0, storageErr("invalidate matches", fmt.Sprintf("%s:%d", endpoint.Host, endpoint.Port), res.Error)
	}
	return res.RowsAffected, nil
}

// ListByPlayer returns the matches playerID belongs to, newest first.
func (s *MatchStore) ListByPlayer(ctx context.Context, playerID string) ([]models.Match, error) {
	db := s.DB.WithContext(ctx)
	var matches []models.Match
	err := db.Preload("Players").
		Where("id IN (?)", db.Model(&models.MatchPlayer{}).Select("match_id").Where("player_id = ?", playerID)).
		Order("created_at DESC").
		Find(&matches).Error
	if err != nil {
		return nil, storageErr("list matches by player", playerID, err)
	}
	return matches, nil
}

// AcquireExpiryLease takes or renews the right to expire match id for ttl.
// It succeeds when the lease is free, already held by owner, or lapsed.
func (s *MatchStore) AcquireExpiryLease(ctx context.Context, id, owner string, ttl time.Duration) (bool, error) {
	if checkMatchID(id) != nil {
		return false, nil
	}
	now := s.now().UnixMilli()
	res := s.DB.WithContext(ctx).Model(&models.Match{}).
		Where("id = ? AND is_valid = ?", id, true).
		Where("(lease_owner = '' OR lease_owner = ? OR lease_expires_at < ?)", owner, now).
		UpdateColumns(map[string]any{
			"lease_owner":      owner,
			"lease_expires_at": now + ttl.Milliseconds(),
		})
	if res.Error != nil {
		return false, storageErr("acquire expiry lease", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ReleaseExpiryLease drops the lease if owner still holds it.
func (s *MatchStore) ReleaseExpiryLease(ctx context.Context, id, owner string) error {
	if checkMatchID(id) != nil {
		return nil
	}
	err := s.DB.WithContext(ctx).Model(&models.Match{}).
		Where("id = ? AND lease_owner = ?", id, owner).
		UpdateColumns(map[string]any{"lease_owner": "", "lease_expires_at": 0}).Error
	if err != nil {
		return storageErr("release expiry lease", id, err)
	}
	return nil
}
