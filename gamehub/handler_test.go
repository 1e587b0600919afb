package gamehub

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, kind string) serverMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg serverMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", kind, err)
		}
		if msg.Type == kind {
			return msg
		}
	}
}

func TestHandlerRoundTrip(t *testing.T) {
	hub := newTestHub(t, HubConfig{GracePeriod: time.Minute})
	srv := httptest.NewServer(NewHandler(hub, HandlerConfig{Logger: quietLogger()}))
	defer srv.Close()

	alice := dial(t, srv)
	if err := alice.WriteJSON(clientMessage{Type: MsgJoin, Session: "m1", PlayerID: "alice"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	snap := readUntil(t, alice, MsgSnapshot)
	if len(snap.Players) != 1 || snap.Players[0].Rotation.W != 1 {
		t.Fatalf("snapshot %+v", snap)
	}

	bob := dial(t, srv)
	if err := bob.WriteJSON(clientMessage{Type: MsgJoin, Session: "m1", PlayerID: "bob", Position: &Vector3{X: 2}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, bob, MsgSnapshot)
	// alice's own join was consumed before her snapshot
	if joined := readUntil(t, alice, MsgJoin); joined.Transform.ID != "bob" || joined.Transform.Position.X != 2 {
		t.Fatalf("alice saw join %+v", joined.Transform)
	}

	if err := bob.WriteJSON(clientMessage{Type: MsgMove, Position: &Vector3{X: 3}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	moved := readUntil(t, alice, MsgMove)
	if moved.Transform.ID != "bob" || moved.Transform.Position.X != 3 {
		t.Fatalf("alice saw move %+v", moved.Transform)
	}

	if err := bob.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if e := readUntil(t, bob, MsgError); !strings.Contains(e.Error, "dance") {
		t.Fatalf("error frame %+v", e)
	}

	bob.Close()
	eventually(t, 2*time.Second, func() bool { return hub.Connections().Pending("bob") })
}
