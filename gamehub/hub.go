// Package gamehub hosts the real-time rooms players connect to after matchmaking.
package gamehub

import (
	"context"
	"errors"
	"fmt"
	"game-session-system/models"
	"game-session-system/services"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

// DefaultLeaseTTL is how long an expiry lease stays valid without renewal.
const DefaultLeaseTTL = 30 * time.Second

// MatchSource is the part of the match store the hub reads and writes.
type MatchSource interface {
	GetByID(ctx context.Context, id string) (*models.Match, error)
	Invalidate(ctx context.Context, id string) error
	AcquireExpiryLease(ctx context.Context, id, owner string, ttl time.Duration) (bool, error)
	ReleaseExpiryLease(ctx context.Context, id, owner string) error
}

type HubConfig struct {
	Matches     MatchSource
	Events      services.EventPublisher
	Logger      *slog.Logger
	GracePeriod time.Duration
	LeaseTTL    time.Duration
	Policy      MovementPolicy
	Now         func() time.Time
}

// Hub owns every room of this process and the timers that act on them.
type Hub struct {
	rooms       *Registry
	connections *ConnectionManager
	validator   Validator
	matches     MatchSource
	events      services.EventPublisher
	scheduler   gocron.Scheduler
	logger      *slog.Logger
	now         func() time.Time

	owner    string
	leaseTTL time.Duration

	mu       sync.Mutex
	monitors map[string]*expiryMonitor
	closed   bool
}

func NewHub(cfg HubConfig) (*Hub, error) {
	if cfg.Matches == nil {
		return nil, errors.New("gamehub: match source is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	events := cfg.Events
	if events == nil {
		events = services.NopPublisher{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	ttl := cfg.LeaseTTL
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("gamehub: create scheduler: %w", err)
	}
	scheduler.Start()

	owner := uuid.NewString()
	return &Hub{
		rooms:       NewRegistry(),
		connections: NewConnectionManager(cfg.GracePeriod, logger),
		validator:   Validator{Policy: cfg.Policy},
		matches:     cfg.Matches,
		events:      events,
		scheduler:   scheduler,
		logger:      logger.With("hub", owner),
		now:         now,
		owner:       owner,
		leaseTTL:    ttl,
		monitors:    make(map[string]*expiryMonitor),
	}, nil
}

// Rooms exposes the registry, mainly for inspection.
func (h *Hub) Rooms() *Registry { return h.rooms }

// Connections exposes the grace timer manager.
func (h *Hub) Connections() *ConnectionManager { return h.connections }

// Owner is this process's lease identity.
func (h *Hub) Owner() string { return h.owner }

// NewSession binds a transport connection to the hub.
func (h *Hub) NewSession(connID string, sender Sender) *Session {
	if connID == "" {
		connID = uuid.NewString()
	}
	return &Session{hub: h, connID: connID, sender: sender}
}

// removePlayer detaches pc from room and tells the others. It does nothing if
// pc was already replaced or removed, so the leave broadcast fires once.
func (h *Hub) removePlayer(room *Room, pc *PlayerConnection, reason string) bool {
	last, remaining, ok := room.Detach(pc)
	if !ok {
		return false
	}
	h.connections.Cancel(pc.PlayerID)
	room.Broadcast(transformMessage(MsgLeave, last), "")
	h.logger.Info("player left room", "room", room.Name, "player_id", pc.PlayerID, "reason", reason, "remaining", remaining)

	if remaining == 0 {
		h.teardownRoom(room)
	}
	return true
}

// teardownRoom drops an empty room and stops its expiry monitoring without
// notifying anyone.
func (h *Hub) teardownRoom(room *Room) {
	if !room.CloseIfEmpty() {
		return
	}
	h.rooms.Remove(room.Name, room)
	h.stopMonitor(room.Name, true)
	h.logger.Info("room torn down", "room", room.Name)
}

func (h *Hub) stopMonitor(name string, release bool) {
	h.mu.Lock()
	m := h.monitors[name]
	delete(h.monitors, name)
	h.mu.Unlock()
	if m == nil {
		return
	}
	m.stop()
	if release {
		m.release()
	}
}

// Close stops every expiry monitor, releases the leases this process holds and
// shuts the timers down. Rooms are not notified.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	monitors := h.monitors
	h.monitors = make(map[string]*expiryMonitor)
	h.mu.Unlock()

	for _, m := range monitors {
		m.stop()
		m.release()
	}
	h.connections.Close()
	if err := h.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("gamehub: shutdown scheduler: %w", err)
	}
	return nil
}

func (h *Hub) publish(event services.MatchEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.events.Publish(ctx, event); err != nil {
		h.logger.Warn("match event not published", "type", event.Type, "match_id", event.MatchID, "error", err)
	}
}
