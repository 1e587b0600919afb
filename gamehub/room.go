package gamehub

import (
	"sort"
	"sync"
	"time"
)

// Sender queues an encoded frame for one connection. It returns false when the
// connection can no longer accept frames.
type Sender interface {
	Send(payload []byte) bool
}

// PlayerConnection is one player's live presence in a room. Its mutable fields
// are only touched through Room methods.
type PlayerConnection struct {
	PlayerID string
	ConnID   string
	sender   Sender

	transform  Transform
	lastUpdate time.Time
}

func NewPlayerConnection(playerID, connID string, sender Sender, position Vector3, rotation Quaternion, now time.Time) *PlayerConnection {
	return &PlayerConnection{
		PlayerID:   playerID,
		ConnID:     connID,
		sender:     sender,
		transform:  Transform{ID: playerID, Position: position, Rotation: rotation},
		lastUpdate: now,
	}
}

// Room is the in-process view of one match: who is connected and where they are.
type Room struct {
	Name string

	mu      sync.Mutex
	players map[string]*PlayerConnection
	closed  bool
}

func NewRoom(name string) *Room {
	return &Room{Name: name, players: make(map[string]*PlayerConnection)}
}

// Attach adds pc, replacing any stale connection of the same player.
// It fails once the room has been torn down.
func (r *Room) Attach(pc *PlayerConnection) (replaced *PlayerConnection, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false
	}
	replaced = r.players[pc.PlayerID]
	r.players[pc.PlayerID] = pc
	return replaced, true
}

// Detach removes pc only if it is still the player's current connection.
func (r *Room) Detach(pc *PlayerConnection) (last Transform, remaining int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, found := r.players[pc.PlayerID]; !found || current != pc {
		return Transform{}, len(r.players), false
	}
	delete(r.players, pc.PlayerID)
	return pc.transform, len(r.players), true
}

func (r *Room) IsCurrent(pc *PlayerConnection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.players[pc.PlayerID] == pc
}

// Transform returns pc's last accepted transform.
func (r *Room) Transform(pc *PlayerConnection) Transform {
	r.mu.Lock()
	defer r.mu.Unlock()
	return pc.transform
}

// Move validates and applies a move for pc. A rejected move leaves state
// untouched and returns the last accepted transform.
func (r *Room) Move(pc *PlayerConnection, v Validator, position Vector3, rotation Quaternion, now time.Time) (Transform, MovementResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.players[pc.PlayerID] != pc {
		return pc.transform, MovementResult{}, false
	}

	elapsed := now.Sub(pc.lastUpdate).Seconds()
	result := v.Validate(pc.transform.Position, position, elapsed)
	if !result.Valid {
		return pc.transform, result, true
	}
	pc.transform.Position = position
	pc.transform.Rotation = rotation
	pc.lastUpdate = now
	return pc.transform, result, true
}

// Snapshot lists every member's transform ordered by player id.
func (r *Room) Snapshot() []Transform {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Transform, 0, len(r.players))
	for _, pc := range r.players {
		out = append(out, pc.transform)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

// Broadcast sends payload to every member except the connection exceptConnID.
func (r *Room) Broadcast(payload []byte, exceptConnID string) int {
	r.mu.Lock()
	targets := make([]Sender, 0, len(r.players))
	for _, pc := range r.players {
		if exceptConnID != "" && pc.ConnID == exceptConnID {
			continue
		}
		targets = append(targets, pc.sender)
	}
	r.mu.Unlock()

	sent := 0
	for _, s := range targets {
		if s.Send(payload) {
			sent++
		}
	}
	return sent
}

// CloseIfEmpty marks an empty room closed so no one can attach to it again.
func (r *Room) CloseIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.players) > 0 {
		return false
	}
	r.closed = true
	return true
}

// Clear drops every member and closes the room, returning who was removed.
func (r *Room) Clear() []*PlayerConnection {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := make([]*PlayerConnection, 0, len(r.players))
	for id, pc := range r.players {
		removed = append(removed, pc)
		delete(r.players, id)
	}
	r.closed = true
	return removed
}

func (r *Room) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
