package gamehub

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	ErrInvalidSession = errors.New("session name is required")
	ErrInvalidPlayer  = errors.New("player id is required")
	ErrAlreadyJoined  = errors.New("connection already joined a session")
	ErrNotJoined      = errors.New("connection has not joined a session")
	ErrSessionClosed  = errors.New("connection closed")
)

// Session is one transport connection's view of the hub. Commands from a
// connection run one at a time; timers may call back concurrently.
type Session struct {
	hub    *Hub
	connID string
	sender Sender

	mu     sync.Mutex
	room   *Room
	player *PlayerConnection
	closed bool
}

func (s *Session) ConnID() string { return s.connID }

func (s *Session) current() (*Room, *PlayerConnection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room, s.player
}

// active returns the session's membership if it is still the live one.
func (s *Session) active() (*Room, *PlayerConnection, error) {
	room, pc := s.current()
	if room == nil || pc == nil || !room.IsCurrent(pc) {
		return nil, nil, ErrNotJoined
	}
	return room, pc, nil
}

// Join attaches the player to the named session, announces it to the room and
// sends the joiner a snapshot of everyone present.
func (s *Session) Join(ctx context.Context, sessionName, playerID string, position Vector3, rotation Quaternion) ([]Transform, error) {
	sessionName = strings.TrimSpace(sessionName)
	playerID = strings.TrimSpace(playerID)
	if sessionName == "" {
		return nil, ErrInvalidSession
	}
	if playerID == "" {
		return nil, ErrInvalidPlayer
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.room != nil && s.player != nil && s.room.IsCurrent(s.player) {
		s.mu.Unlock()
		return nil, ErrAlreadyJoined
	}
	s.mu.Unlock()

	h := s.hub
	if h.connections.Cancel(playerID) {
		h.logger.Info("player reconnected within grace period", "player_id", playerID, "room", sessionName)
	}

	pc := NewPlayerConnection(playerID, s.connID, s.sender, position, rotation, h.now())
	var (
		room    *Room
		created bool
	)
	for {
		room, created = h.rooms.GetOrCreate(sessionName, NewRoom)
		if _, ok := room.Attach(pc); ok {
			break
		}
		// lost a race with teardown, the closed room is about to leave the registry
		h.rooms.Remove(sessionName, room)
	}

	s.mu.Lock()
	s.room, s.player = room, pc
	s.mu.Unlock()

	h.logger.Info("player joined room", "room", sessionName, "player_id", playerID, "conn_id", s.connID, "first", created)
	room.Broadcast(transformMessage(MsgJoin, room.Transform(pc)), "")

	snapshot := room.Snapshot()
	s.sender.Send(encode(serverMessage{Type: MsgSnapshot, Players: snapshot}))

	if created {
		h.startExpiryMonitor(ctx, room)
	}
	return snapshot, nil
}

// Move applies a position update. A rejected move re-sends the last accepted
// transform to the whole room, the sender included.
func (s *Session) Move(position Vector3, rotation Quaternion) (bool, error) {
	room, pc, err := s.active()
	if err != nil {
		return false, err
	}
	h := s.hub

	t, result, ok := room.Move(pc, h.validator, position, rotation, h.now())
	if !ok {
		return false, ErrNotJoined
	}
	if !result.Valid {
		room.Broadcast(transformMessage(MsgMove, t), "")
		h.logger.Warn("movement rejected", "room", room.Name, "player_id", pc.PlayerID, "reason", result.Reason)
		return false, nil
	}
	room.Broadcast(transformMessage(MsgMove, t), s.connID)
	return true, nil
}

// TargetChanged relays the player's new target to the room as is.
func (s *Session) TargetChanged(targetID string) error {
	room, pc, err := s.active()
	if err != nil {
		return err
	}
	room.Broadcast(encode(serverMessage{Type: MsgTargetChanged, PlayerID: pc.PlayerID, TargetID: targetID}), "")
	return nil
}

// Leave removes the player right away.
func (s *Session) Leave() error {
	room, pc := s.current()
	if room == nil || pc == nil {
		return ErrNotJoined
	}
	s.mu.Lock()
	s.room, s.player = nil, nil
	s.mu.Unlock()

	if !s.hub.removePlayer(room, pc, "leave") {
		return ErrNotJoined
	}
	return nil
}

// Disconnect is called when the transport goes away. The player keeps its
// place for the grace period and is removed if it does not come back.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	room, pc := s.room, s.player
	s.mu.Unlock()

	if room == nil || pc == nil || !room.IsCurrent(pc) {
		return
	}
	h := s.hub
	started := h.connections.StartGracePeriod(pc.PlayerID, func() error {
		if h.removePlayer(room, pc, "grace period elapsed") {
			h.logger.Info("player removed after reconnect timeout", "player_id", pc.PlayerID, "room", room.Name)
		}
		return nil
	})
	if started {
		h.logger.Info("client disconnected, waiting for reconnect", "player_id", pc.PlayerID, "room", room.Name)
	}
}

// Close releases the session without touching the room. Grace state started
// by Disconnect is left to run.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
