package sync

import "encoding/json"

// Message types on the websocket wire.
const (
	TypeInitialState = "initial_state"
	TypeCodeUpdate   = "code_update"
	TypeError        = "error"
)

// Message is the inbound client envelope. Code is a pointer so a
// missing field can be told apart from an empty document.
type Message struct {
	Type      string  `json:"type"`
	Code      *string `json:"code"`
	Timestamp int64   `json:"timestamp"`
}

// InitialState is sent once to a newly joined connection.
type InitialState struct {
	Type   string `json:"type"`
	Code   string `json:"code"`
	RoomID string `json:"roomId"`
}

// CodeUpdate is the fanout envelope for an accepted edit. The timestamp
// is the sender's clock, carried through for display only.
type CodeUpdate struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorMessage is a non-fatal error surfaced to one connection.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func encodeInitialState(code, roomID string) []byte {
	data, _ := json.Marshal(InitialState{
		Type:   TypeInitialState,
		Code:   code,
		RoomID: roomID,
	})
	return data
}

func encodeCodeUpdate(code string, timestamp int64) []byte {
	data, _ := json.Marshal(CodeUpdate{
		Type:      TypeCodeUpdate,
		Code:      code,
		Timestamp: timestamp,
	})
	return data
}

func encodeError(message string) []byte {
	data, _ := json.Marshal(ErrorMessage{
		Type:    TypeError,
		Message: message,
	})
	return data
}
