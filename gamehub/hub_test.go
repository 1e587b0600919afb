package gamehub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"game-session-system/models"
	"game-session-system/services"
	"sync"
	"testing"
	"time"
)

type recordingSender struct {
	mu     sync.Mutex
	frames []serverMessage
}

func (s *recordingSender) Send(payload []byte) bool {
	var msg serverMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		panic(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, msg)
	return true
}

func (s *recordingSender) of(kind string) []serverMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []serverMessage
	for _, f := range s.frames {
		if f.Type == kind {
			out = append(out, f)
		}
	}
	return out
}

func (s *recordingSender) count(kind string) int { return len(s.of(kind)) }

// fakeMatches is an in-memory MatchSource with the same lease rules as the store.
type fakeMatches struct {
	mu          sync.Mutex
	match       *models.Match
	leaseOwner  string
	leaseUntil  time.Time
	invalidated int
}

func (f *fakeMatches) GetByID(_ context.Context, id string) (*models.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.match == nil || f.match.ID != id {
		return nil, fmt.Errorf("%w: %s", services.ErrMatchNotFound, id)
	}
	cp := *f.match
	return &cp, nil
}

func (f *fakeMatches) Invalidate(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.match == nil || f.match.ID != id {
		return services.ErrMatchNotFound
	}
	f.match.IsValid = false
	f.invalidated++
	return nil
}

func (f *fakeMatches) AcquireExpiryLease(_ context.Context, id, owner string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.match == nil || f.match.ID != id || !f.match.IsValid {
		return false, nil
	}
	now := time.Now()
	if f.leaseOwner != "" && f.leaseOwner != owner && now.Before(f.leaseUntil) {
		return false, nil
	}
	f.leaseOwner, f.leaseUntil = owner, now.Add(ttl)
	return true, nil
}

func (f *fakeMatches) ReleaseExpiryLease(_ context.Context, id, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leaseOwner == owner {
		f.leaseOwner, f.leaseUntil = "", time.Time{}
	}
	return nil
}

func (f *fakeMatches) invalidations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invalidated
}

type eventLog struct {
	mu     sync.Mutex
	events []services.MatchEvent
}

func (e *eventLog) Publish(_ context.Context, ev services.MatchEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

func (e *eventLog) Close() error { return nil }

func (e *eventLog) count(kind string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if ev.Type == kind {
			n++
		}
	}
	return n
}

func timedMatch(id string, created time.Time, limit time.Duration) *models.Match {
	d := limit
	return &models.Match{
		ID:             id,
		CreatedAt:      created,
		IsValid:        true,
		LimitType:      models.LimitTime,
		DurationMillis: models.DurationMillisOf(&d),
	}
}

func newTestHub(t *testing.T, cfg HubConfig) *Hub {
	t.Helper()
	if cfg.Matches == nil {
		cfg.Matches = &fakeMatches{}
	}
	cfg.Logger = quietLogger()
	hub, err := NewHub(cfg)
	if err != nil {
		t.Fatalf("NewHub: %v", err)
	}
	t.Cleanup(func() { hub.Close() })
	return hub
}

func join(t *testing.T, hub *Hub, room, player string) (*Session, *recordingSender) {
	t.Helper()
	sender := &recordingSender{}
	s := hub.NewSession("", sender)
	if _, err := s.Join(context.Background(), room, player, Vector3{}, Quaternion{W: 1}); err != nil {
		t.Fatalf("Join %s: %v", player, err)
	}
	return s, sender
}

func TestJoinBroadcastsAndSnapshots(t *testing.T) {
	hub := newTestHub(t, HubConfig{})
	_, a := join(t, hub, "m1", "a")
	sb, b := join(t, hub, "m1", "b")

	if got := a.of(MsgJoin); len(got) != 2 || got[1].Transform.ID != "b" {
		t.Fatalf("a saw joins %+v", got)
	}
	snaps := b.of(MsgSnapshot)
	if len(snaps) != 1 || len(snaps[0].Players) != 2 || snaps[0].Players[0].ID != "a" {
		t.Fatalf("b snapshot %+v", snaps)
	}

	if _, err := sb.Join(context.Background(), "m1", "b", Vector3{}, Quaternion{}); !errors.Is(err, ErrAlreadyJoined) {
		t.Fatalf("double join: err = %v", err)
	}
	if _, err := hub.NewSession("", &recordingSender{}).Join(context.Background(), " ", "c", Vector3{}, Quaternion{}); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("blank session: err = %v", err)
	}
}

func TestGraceLapseRemovesPlayerOnce(t *testing.T) {
	hub := newTestHub(t, HubConfig{GracePeriod: 30 * time.Millisecond})
	sa, _ := join(t, hub, "m1", "a")
	_, b := join(t, hub, "m1", "b")

	sa.Disconnect()
	sa.Disconnect()
	if !hub.Connections().Pending("a") {
		t.Fatal("disconnect should start a grace period")
	}

	eventually(t, time.Second, func() bool { return b.count(MsgLeave) > 0 })
	time.Sleep(60 * time.Millisecond)
	leaves := b.of(MsgLeave)
	if len(leaves) != 1 || leaves[0].Transform.ID != "a" {
		t.Fatalf("b saw leaves %+v, want one for a", leaves)
	}
	room, ok := hub.Rooms().TryGet("m1")
	if !ok || room.Len() != 1 {
		t.Fatal("room should still hold b")
	}
}

func TestReconnectWithinGraceKeepsPlayer(t *testing.T) {
	hub := newTestHub(t, HubConfig{GracePeriod: 80 * time.Millisecond})
	sa, _ := join(t, hub, "m1", "a")
	_, b := join(t, hub, "m1", "b")

	sa.Disconnect()
	_, a2 := join(t, hub, "m1", "a")
	if hub.Connections().Pending("a") {
		t.Fatal("rejoin should cancel the grace period")
	}

	time.Sleep(150 * time.Millisecond)
	if n := b.count(MsgLeave); n != 0 {
		t.Fatalf("b saw %d leaves after a reconnected", n)
	}
	if snaps := a2.of(MsgSnapshot); len(snaps) != 1 || len(snaps[0].Players) != 2 {
		t.Fatalf("reconnect snapshot %+v", snaps)
	}
}

func TestLastLeaveTearsDownRoom(t *testing.T) {
	hub := newTestHub(t, HubConfig{})
	sa, _ := join(t, hub, "m1", "a")
	sb, b := join(t, hub, "m1", "b")

	if err := sa.Leave(); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if err := sa.Leave(); !errors.Is(err, ErrNotJoined) {
		t.Fatalf("second Leave: err = %v", err)
	}
	if b.count(MsgLeave) != 1 {
		t.Fatal("b should see a leave")
	}
	if err := sb.Leave(); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if hub.Rooms().Len() != 0 {
		t.Fatal("empty room should be torn down")
	}
}

func TestMoveValidation(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	hub := newTestHub(t, HubConfig{Policy: MovementPolicy{MaxTeleportDistance: 5}, Now: now})
	sa, a := join(t, hub, "m1", "a")
	_, b := join(t, hub, "m1", "b")

	ok, err := sa.Move(Vector3{X: 3}, Quaternion{W: 1})
	if err != nil || !ok {
		t.Fatalf("Move = %v, %v", ok, err)
	}
	if a.count(MsgMove) != 0 || b.count(MsgMove) != 1 {
		t.Fatalf("accepted move: a saw %d, b saw %d", a.count(MsgMove), b.count(MsgMove))
	}

	ok, err = sa.Move(Vector3{X: 100}, Quaternion{W: 1})
	if err != nil || ok {
		t.Fatalf("Move = %v, %v; want rejection", ok, err)
	}
	corrections := a.of(MsgMove)
	if len(corrections) != 1 || corrections[0].Transform.Position.X != 3 {
		t.Fatalf("sender corrections %+v", corrections)
	}
	if moves := b.of(MsgMove); len(moves) != 2 || moves[1].Transform.Position.X != 3 {
		t.Fatalf("b moves %+v", moves)
	}

	if err := sa.TargetChanged("b"); err != nil {
		t.Fatalf("TargetChanged: %v", err)
	}
	if got := b.of(MsgTargetChanged); len(got) != 1 || got[0].PlayerID != "a" || got[0].TargetID != "b" {
		t.Fatalf("target relay %+v", got)
	}

	idle := hub.NewSession("", &recordingSender{})
	if _, err := idle.Move(Vector3{}, Quaternion{}); !errors.Is(err, ErrNotJoined) {
		t.Fatalf("move before join: err = %v", err)
	}
}

func TestTimedMatchExpires(t *testing.T) {
	source := &fakeMatches{match: timedMatch("m1", time.Now(), 150*time.Millisecond)}
	events := &eventLog{}
	hub := newTestHub(t, HubConfig{Matches: source, Events: events, LeaseTTL: 300 * time.Millisecond})

	_, a := join(t, hub, "m1", "a")
	_, b := join(t, hub, "m1", "b")

	eventually(t, 2*time.Second, func() bool { return a.count(MsgMatchExpired) > 0 })
	eventually(t, time.Second, func() bool { return b.count(MsgMatchExpired) > 0 })

	exp := a.of(MsgMatchExpired)[0].Expiration
	if exp == nil || exp.MatchID != "m1" || exp.ExpirationType != "Time" || exp.Data["reason"] != "time_limit" {
		t.Fatalf("expiration payload %+v", exp)
	}
	eventually(t, time.Second, func() bool { return source.invalidations() == 1 })
	eventually(t, time.Second, func() bool { return events.count(services.EventMatchExpired) == 1 })
	if hub.Rooms().Len() != 0 {
		t.Fatal("expired room should be removed")
	}

	time.Sleep(100 * time.Millisecond)
	if a.count(MsgMatchExpired) != 1 || source.invalidations() != 1 {
		t.Fatal("expiry must run once")
	}
}

func TestAlreadyExpiredMatchExpiresOnFirstJoin(t *testing.T) {
	source := &fakeMatches{match: timedMatch("m1", time.Now().Add(-time.Minute), 30*time.Second)}
	hub := newTestHub(t, HubConfig{Matches: source})

	_, a := join(t, hub, "m1", "a")
	if a.count(MsgMatchExpired) != 1 {
		t.Fatal("joiner should be told right away")
	}
	if source.invalidations() != 1 {
		t.Fatalf("invalidated %d times", source.invalidations())
	}
	if hub.Rooms().Len() != 0 {
		t.Fatal("room should be gone")
	}
}

func TestExpiryWithLeaseHeldElsewhere(t *testing.T) {
	source := &fakeMatches{
		match:      timedMatch("m1", time.Now(), 80*time.Millisecond),
		leaseOwner: "other-hub",
		leaseUntil: time.Now().Add(time.Hour),
	}
	events := &eventLog{}
	hub := newTestHub(t, HubConfig{Matches: source, Events: events})

	_, a := join(t, hub, "m1", "a")
	eventually(t, 2*time.Second, func() bool { return a.count(MsgMatchExpired) == 1 })
	time.Sleep(50 * time.Millisecond)
	if source.invalidations() != 0 || events.count(services.EventMatchExpired) != 0 {
		t.Fatal("only the lease holder invalidates and publishes")
	}
}

func TestUntimedMatchIsNotMonitored(t *testing.T) {
	source := &fakeMatches{match: &models.Match{ID: "m1", IsValid: true, CreatedAt: time.Now()}}
	hub := newTestHub(t, HubConfig{Matches: source})

	_, a := join(t, hub, "m1", "a")
	time.Sleep(50 * time.Millisecond)
	if a.count(MsgMatchExpired) != 0 {
		t.Fatal("untimed match expired")
	}
	hub.mu.Lock()
	monitored := len(hub.monitors)
	hub.mu.Unlock()
	if monitored != 0 {
		t.Fatalf("%d monitors for an untimed match", monitored)
	}
}
