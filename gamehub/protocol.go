package gamehub

import (
	"encoding/json"
	"time"
)

// Client to server message types.
const (
	MsgJoin          = "join"
	MsgLeave         = "leave"
	MsgMove          = "move"
	MsgTargetChanged = "targetChanged"
)

// Server to client message types. join, leave, move and targetChanged are
// reused for the corresponding broadcasts.
const (
	MsgSnapshot     = "snapshot"
	MsgMatchExpired = "matchExpired"
	MsgError        = "error"
)

type clientMessage struct {
	Type     string      `json:"type"`
	Session  string      `json:"session,omitempty"`
	PlayerID string      `json:"playerId,omitempty"`
	Position *Vector3    `json:"position,omitempty"`
	Rotation *Quaternion `json:"rotation,omitempty"`
	TargetID string      `json:"targetId,omitempty"`
}

// MatchExpiration tells clients why and when their match ended.
type MatchExpiration struct {
	MatchID           string         `json:"matchId"`
	ExpirationType    string         `json:"expirationType"`
	ExpirationTimeUTC time.Time      `json:"expirationTimeUtc"`
	Data              map[string]any `json:"data"`
}

type serverMessage struct {
	Type       string           `json:"type"`
	Transform  *Transform       `json:"transform,omitempty"`
	Players    []Transform      `json:"players,omitempty"`
	PlayerID   string           `json:"playerId,omitempty"`
	TargetID   string           `json:"targetId,omitempty"`
	Expiration *MatchExpiration `json:"expiration,omitempty"`
	Error      string           `json:"error,omitempty"`
}

func encode(msg serverMessage) []byte {
	// serverMessage holds only plain data, Marshal cannot fail
	data, _ := json.Marshal(msg)
	return data
}

func transformMessage(kind string, t Transform) []byte {
	return encode(serverMessage{Type: kind, Transform: &t})
}

func errorMessage(text string) []byte {
	return encode(serverMessage{Type: MsgError, Error: text})
}
