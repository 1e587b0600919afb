package gamehub

import (
	"context"
	"errors"
	"game-session-system/models"
	"game-session-system/services"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// expiryMonitor enforces a room's time limit. Every process hosting members of
// the match notifies its own members when the limit passes; the process holding
// the match's expiry lease also invalidates the match and publishes the event.
// The lease is renewed every TTL/3 and any process may take it once it lapses.
type expiryMonitor struct {
	hub       *Hub
	room      *Room
	matchID   string
	limitType models.MatchLimitType
	expiresAt time.Time

	mu        sync.Mutex
	leaseJob  gocron.Job
	expiryJob gocron.Job
	holding   bool
	stopped   bool
}

// startExpiryMonitor reads the match behind room and, if it is time limited,
// schedules its expiry. A match that has already expired is expired at once.
func (h *Hub) startExpiryMonitor(ctx context.Context, room *Room) {
	log := h.logger.With("room", room.Name)

	match, err := h.matches.GetByID(ctx, room.Name)
	if err != nil {
		if errors.Is(err, services.ErrMatchNotFound) {
			log.Warn("no match record for room, expiry not monitored")
		} else {
			log.Error("failed to load match for expiry monitoring", "error", err)
		}
		return
	}
	if err := match.ValidateLimitType(); err != nil {
		log.Error("match has unsupported limit type", "limit_type", int(match.LimitType), "error", err)
		return
	}
	expiresAt, ok := match.ExpirationTime()
	if !ok {
		log.Info("match has no time limit, expiry not monitored")
		return
	}

	m := &expiryMonitor{
		hub:       h,
		room:      room,
		matchID:   match.ID,
		limitType: match.LimitType,
		expiresAt: expiresAt,
	}

	if !h.now().Before(expiresAt) {
		log.Warn("match already expired", "expired_at", expiresAt)
		m.fire(ctx)
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	if prev := h.monitors[room.Name]; prev != nil {
		prev.stop()
	}
	h.monitors[room.Name] = m
	h.mu.Unlock()

	if err := m.schedule(); err != nil {
		log.Error("failed to schedule match expiry", "error", err)
		h.stopMonitor(room.Name, false)
		return
	}
	log.Info("match expiry scheduled", "expires_at", expiresAt, "in", expiresAt.Sub(h.now()))
}

func (m *expiryMonitor) schedule() error {
	h := m.hub
	m.mu.Lock()
	defer m.mu.Unlock()

	expiryJob, err := h.scheduler.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(m.expiresAt)),
		gocron.NewTask(m.fire),
		gocron.WithName("expire:"+m.matchID),
	)
	if errors.Is(err, gocron.ErrOneTimeJobStartDateTimePast) {
		expiryJob, err = h.scheduler.NewJob(
			gocron.OneTimeJob(gocron.OneTimeJobStartImmediately()),
			gocron.NewTask(m.fire),
			gocron.WithName("expire:"+m.matchID),
		)
	}
	if err != nil {
		return err
	}
	m.expiryJob = expiryJob

	interval := h.leaseTTL / 3
	if interval <= 0 {
		interval = time.Second
	}
	leaseJob, err := h.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(m.renew),
		gocron.WithName("lease:"+m.matchID),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = h.scheduler.RemoveJob(expiryJob.ID())
		m.expiryJob = nil
		return err
	}
	m.leaseJob = leaseJob
	return nil
}

// renew acquires or extends the expiry lease.
func (m *expiryMonitor) renew(ctx context.Context) {
	h := m.hub
	held, err := h.matches.AcquireExpiryLease(ctx, m.matchID, h.owner, h.leaseTTL)
	if err != nil {
		h.logger.Warn("expiry lease renewal failed", "match_id", m.matchID, "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	if held != m.holding {
		if held {
			h.logger.Info("expiry lease acquired", "match_id", m.matchID)
		} else {
			h.logger.Info("expiry lease held elsewhere", "match_id", m.matchID)
		}
	}
	m.holding = held
}

// fire runs when the time limit passes.
func (m *expiryMonitor) fire(ctx context.Context) {
	if !m.stop() {
		return
	}
	// removing the running job cancels its context
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	h := m.hub
	h.mu.Lock()
	if h.monitors[m.room.Name] == m {
		delete(h.monitors, m.room.Name)
	}
	h.mu.Unlock()

	expiration := MatchExpiration{
		MatchID:           m.matchID,
		ExpirationType:    m.limitType.String(),
		ExpirationTimeUTC: m.expiresAt.UTC(),
		Data:              map[string]any{"reason": "time_limit"},
	}
	m.room.Broadcast(encode(serverMessage{Type: MsgMatchExpired, Expiration: &expiration}), "")
	removed := m.room.Clear()
	h.rooms.Remove(m.room.Name, m.room)
	h.logger.Info("match expired", "match_id", m.matchID, "notified", len(removed))

	held, err := h.matches.AcquireExpiryLease(ctx, m.matchID, h.owner, h.leaseTTL)
	if err != nil {
		h.logger.Error("expiry lease check failed", "match_id", m.matchID, "error", err)
		return
	}
	if !held {
		// another process owns the shared side effects, or the match is already invalid
		return
	}
	if err := h.matches.Invalidate(ctx, m.matchID); err != nil {
		h.logger.Error("failed to invalidate expired match", "match_id", m.matchID, "error", err)
	}
	h.publish(services.MatchEvent{Type: services.EventMatchExpired, MatchID: m.matchID, OccurredAt: time.Now().UTC()})
	m.release()
}

// stop removes the scheduled jobs. Only the first call reports true.
func (m *expiryMonitor) stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return false
	}
	m.stopped = true
	for _, job := range []gocron.Job{m.leaseJob, m.expiryJob} {
		if job != nil {
			// one-time jobs remove themselves after running
			_ = m.hub.scheduler.RemoveJob(job.ID())
		}
	}
	m.holding = false
	return true
}

func (m *expiryMonitor) release() {
	h := m.hub
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.matches.ReleaseExpiryLease(ctx, m.matchID, h.owner); err != nil {
		h.logger.Warn("failed to release expiry lease", "match_id", m.matchID, "error", err)
	}
}
