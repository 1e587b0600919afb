package gamehub

import "sync"

// Registry maps session names to their live rooms.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

// GetOrCreate returns the room for name, building it with factory when absent.
// created is true only for the caller whose factory result was stored.
func (r *Registry) GetOrCreate(name string, factory func(name string) *Room) (room *Room, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.rooms[name]; ok {
		return existing, false
	}
	room = factory(name)
	r.rooms[name] = room
	return room, true
}

func (r *Registry) TryGet(name string) (*Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[name]
	return room, ok
}

// Remove deletes name only while it still maps to room.
func (r *Registry) Remove(name string, room *Room) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.rooms[name]; !ok || current != room {
		return false
	}
	delete(r.rooms, name)
	return true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
