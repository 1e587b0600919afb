package services

import (
	"context"
	"errors"
	"fmt"
	"game-session-system/models"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"
)

// JoinRequest asks for a seat in a match of MatchType, or in MatchID when set.
type JoinRequest struct {
	PlayerID  string
	MatchType models.MatchType
	MatchID   string
}

// JoinResult tells the player where to connect.
type JoinResult struct {
	MatchID   string
	Endpoint  models.Endpoint
	ExpiresAt *time.Time
	Created   bool
}

// Matchmaker places players into matches.
type Matchmaker struct {
	DB                       *gorm.DB
	Matches                  *MatchStore
	Allocator                *InstanceAllocator
	Configs                  *ConfigStore
	Players                  *PlayerService
	Events                   EventPublisher
	RequireRegisteredPlayers bool
	Logger                   *slog.Logger
}

// DefaultMatchType is used when a request names neither a type nor a match.
const DefaultMatchType models.MatchType = "default"

// JoinMatch places the player in the explicit match, else an open match, else a
// new match on an instance with free slots. When every instance is full the
// transaction ends before provisioning, and the new match is recorded once the
// instance is up, so a slow platform call never pins a pooled connection.
func (m *Matchmaker) JoinMatch(ctx context.Context, req JoinRequest) (*JoinResult, error) {
	req.PlayerID = strings.TrimSpace(req.PlayerID)
	req.MatchID = strings.TrimSpace(req.MatchID)
	if req.PlayerID == "" {
		return nil, fmt.Errorf("%w: playerId is required", ErrInvalidArgument)
	}
	if req.MatchType == "" && req.MatchID == "" {
		req.MatchType = DefaultMatchType
	}
	log := m.Logger.With("player_id", req.PlayerID, "match_type", req.MatchType, "match_id", req.MatchID)
	log.Info("join match requested")

	var cfg *models.MatchConfig
	if req.MatchID == "" {
		var err error
		if cfg, err = m.Configs.Get(ctx, req.MatchType); err != nil {
			log.Error("match config unavailable", "error", err)
			return nil, err
		}
	}

	if m.RequireRegisteredPlayers && m.Players != nil {
		ok, err := m.Players.Exists(ctx, req.PlayerID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrPlayerNotFound, req.PlayerID)
		}
	}

	var (
		match        *models.Match
		created      bool
		needInstance bool
	)
	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if req.MatchID != "" {
			match, err = m.joinExplicit(ctx, tx, req)
			return err
		}

		matches := m.Matches.WithTx(tx)
		match, err = matches.TryJoinOpen(ctx, req.MatchType, cfg.MaxPlayers, req.PlayerID)
		if err == nil || !errors.Is(err, ErrNoOpenMatch) {
			return err
		}

		instance, err := m.Allocator.WithTx(tx).Reserve(ctx, cfg.MaxPlayers)
		if errors.Is(err, ErrNoInstanceAvailable) {
			// commit what TryJoinOpen invalidated, provisioning happens after
			needInstance = true
			return nil
		}
		if err != nil {
			return err
		}
		match, err = matches.Create(ctx, []string{req.PlayerID}, req.MatchType, instance.Endpoint, cfg.Duration(), cfg.LimitType)
		created = err == nil
		return err
	})
	switch {
	case err == nil && needInstance:
		match, err = m.createOnNewInstance(ctx, req, cfg)
		created = err == nil
	case errors.Is(err, ErrMatchExpired):
		if ierr := m.Matches.Invalidate(ctx, req.MatchID); ierr != nil {
			log.Warn("failed to invalidate expired match", "error", ierr)
		}
	}
	if err != nil {
		if KindOf(err) == KindUnknown {
			err = storageErr("join match", req.PlayerID, err)
		}
		log.Warn("join match failed", "error", err, "kind", KindOf(err).String())
		return nil, err
	}

	result := &JoinResult{MatchID: match.ID, Endpoint: match.Endpoint, Created: created}
	if exp, ok := match.ExpirationTime(); ok {
		result.ExpiresAt = &exp
	}

	eventType := EventMatchJoined
	if created {
		eventType = EventMatchCreated
	}
	m.publish(ctx, MatchEvent{
		Type:      eventType,
		MatchID:   match.ID,
		MatchType: string(match.Type),
		PlayerID:  req.PlayerID,
		Host:      match.Endpoint.Host,
		Port:      match.Endpoint.Port,
	})

	log.Info("player placed", "match_id", match.ID, "created", created, "host", match.Endpoint.Host, "port", match.Endpoint.Port)
	return result, nil
}

// joinExplicit joins the named match under the limits of its own type.
func (m *Matchmaker) joinExplicit(ctx context.Context, tx *gorm.DB, req JoinRequest) (*models.Match, error) {
	matches := m.Matches.WithTx(tx)
	existing, err := matches.GetByID(ctx, req.MatchID)
	if err != nil {
		return nil, err
	}
	if req.MatchType != "" && req.MatchType != existing.Type {
		return nil, fmt.Errorf("%w: match %s is of type %s, not %s", ErrInvalidArgument, existing.ID, existing.Type, req.MatchType)
	}
	cfg, err := m.Configs.WithTx(tx).Get(ctx, existing.Type)
	if err != nil {
		return nil, err
	}
	return matches.Join(ctx, existing.ID, cfg.MaxPlayers, req.PlayerID)
}

// createOnNewInstance allocates outside any transaction, retrying the
// reservation first in case another request brought an instance up meanwhile.
func (m *Matchmaker) createOnNewInstance(ctx context.Context, req JoinRequest, cfg *models.MatchConfig) (*models.Match, error) {
	instance, err := m.Allocator.Allocate(ctx, cfg.MaxPlayers)
	if err != nil {
		return nil, err
	}
	match, err := m.Matches.Create(ctx, []string{req.PlayerID}, req.MatchType, instance.Endpoint, cfg.Duration(), cfg.LimitType)
	if err != nil {
		// the instance keeps its reserved slots until the next sweep
		m.Logger.Error("match not recorded on allocated instance", "instance_id", instance.ID, "error", err)
		return nil, err
	}
	return match, nil
}

// RetireInstance stops placing players on the instance at endpoint and
// invalidates the matches it hosts, as one unit.
func (m *Matchmaker) RetireInstance(ctx context.Context, endpoint models.Endpoint) (int64, error) {
	var count int64
	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		instances := m.Allocator.Instances.WithTx(tx)
		instance, err := instances.FindByEndpoint(ctx, endpoint)
		if err != nil {
			return err
		}
		if err := instances.Invalidate(ctx, instance.ID); err != nil {
			return err
		}
		count, err = m.Matches.WithTx(tx).InvalidateByEndpoint(ctx, endpoint)
		return err
	})
	if err != nil {
		m.Logger.Warn("retire instance failed", "host", endpoint.Host, "port", endpoint.Port, "error", err)
		return 0, err
	}
	m.Logger.Info("instance retired", "host", endpoint.Host, "port", endpoint.Port, "matches", count)
	m.publish(ctx, MatchEvent{Type: EventMatchInvalidated, Host: endpoint.Host, Port: endpoint.Port, Count: count})
	return count, nil
}

// InvalidateAllMatches retires every valid match.
func (m *Matchmaker) InvalidateAllMatches(ctx context.Context) (int64, error) {
	count, err := m.Matches.InvalidateAllActive(ctx)
	if err != nil {
		m.Logger.Error("invalidate all matches failed", "error", err)
		return 0, err
	}
	m.Logger.Info("invalidated matches", "count", count)
	m.publish(ctx, MatchEvent{Type: EventMatchInvalidated, Count: count})
	return count, nil
}

func (m *Matchmaker) publish(ctx context.Context, event MatchEvent) {
	if m.Events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_ = m.Events.Publish(ctx, event)
}
