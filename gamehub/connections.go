package gamehub

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultGracePeriod is how long a disconnected player may take to reconnect.
const DefaultGracePeriod = 12 * time.Second

type graceTimer struct {
	timer *time.Timer
}

// ConnectionManager runs one reconnect grace timer per player.
type ConnectionManager struct {
	grace  time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	timers map[string]*graceTimer
	closed bool
}

func NewConnectionManager(grace time.Duration, logger *slog.Logger) *ConnectionManager {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &ConnectionManager{
		grace:  grace,
		logger: logger,
		timers: make(map[string]*graceTimer),
	}
}

// StartGracePeriod arms a timer that calls onTimeout unless cancelled first.
// It returns false, leaving the pending timer untouched, if one already exists.
func (m *ConnectionManager) StartGracePeriod(playerID string, onTimeout func() error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	if _, pending := m.timers[playerID]; pending {
		return false
	}

	entry := &graceTimer{}
	entry.timer = time.AfterFunc(m.grace, func() { m.fire(playerID, entry, onTimeout) })
	m.timers[playerID] = entry
	m.logger.Debug("grace period started", "player_id", playerID, "grace", m.grace)
	return true
}

func (m *ConnectionManager) fire(playerID string, entry *graceTimer, onTimeout func() error) {
	m.mu.Lock()
	if current, ok := m.timers[playerID]; !ok || current != entry {
		m.mu.Unlock()
		return
	}
	delete(m.timers, playerID)
	m.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("grace timeout handler panicked", "player_id", playerID, "panic", fmt.Sprint(r))
		}
	}()
	if err := onTimeout(); err != nil {
		m.logger.Error("grace timeout handler failed", "player_id", playerID, "error", err)
	}
}

// Cancel stops and discards the player's timer. It reports whether one was pending.
func (m *ConnectionManager) Cancel(playerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.timers[playerID]
	if !ok {
		return false
	}
	delete(m.timers, playerID)
	entry.timer.Stop()
	m.logger.Debug("grace period cancelled", "player_id", playerID)
	return true
}

func (m *ConnectionManager) Pending(playerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[playerID]
	return ok
}

// Close stops every pending timer without running the callbacks.
func (m *ConnectionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, entry := range m.timers {
		entry.timer.Stop()
		delete(m.timers, id)
	}
	m.closed = true
}
