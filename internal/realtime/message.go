// Package realtime implements the named-channel WebSocket layer: the message
// envelope, per-channel connections with heartbeat and reconnection, and the
// registry that routes calls by channel id.
package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OpType identifies a protocol operation carried by a Message.
type OpType string

// Operation types exchanged on the exercise session channel.
const (
	OpSessionJoin   OpType = "session_join"
	OpSessionLeave  OpType = "session_leave"
	OpSessionUpdate OpType = "session_update"
	OpSessionSync   OpType = "session_sync"

	OpExerciseAdd     OpType = "exercise_add"
	OpExerciseUpdate  OpType = "exercise_update"
	OpExerciseDelete  OpType = "exercise_delete"
	OpExerciseReorder OpType = "exercise_reorder"

	OpSetAdd      OpType = "set_add"
	OpSetUpdate   OpType = "set_update"
	OpSetDelete   OpType = "set_delete"
	OpSetComplete OpType = "set_complete"
	OpSetReorder  OpType = "set_reorder"

	OpCursorMove        OpType = "cursor_move"
	OpParticipantJoin   OpType = "participant_join"
	OpParticipantLeave  OpType = "participant_leave"
	OpParticipantUpdate OpType = "participant_update"

	OpHeartbeat    OpType = "heartbeat"
	OpSyncRequest  OpType = "sync_request"
	OpSyncResponse OpType = "sync_response"

	// OpAny subscribes to every decoded message regardless of type.
	OpAny OpType = "*"
)

var knownOps = map[OpType]struct{}{
	OpSessionJoin: {}, OpSessionLeave: {}, OpSessionUpdate: {}, OpSessionSync: {},
	OpExerciseAdd: {}, OpExerciseUpdate: {}, OpExerciseDelete: {}, OpExerciseReorder: {},
	OpSetAdd: {}, OpSetUpdate: {}, OpSetDelete: {}, OpSetComplete: {}, OpSetReorder: {},
	OpCursorMove: {}, OpParticipantJoin: {}, OpParticipantLeave: {}, OpParticipantUpdate: {},
	OpHeartbeat: {}, OpSyncRequest: {}, OpSyncResponse: {},
}

// Known reports whether t is a recognized protocol operation.
func (t OpType) Known() bool {
	_, ok := knownOps[t]
	return ok
}

// Message is the wire envelope exchanged on a channel. Payload semantics
// depend on Type; the session package owns the typed payload schemas.
type Message struct {
	ID            string          `json:"id"`
	Type          OpType          `json:"type"`
	SessionID     string          `json:"session_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Timestamp     WireTime        `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// NewMessage builds an envelope with a fresh id and current timestamp.
// The payload is marshaled immediately so encoding failures surface to the
// caller rather than at send time.
func NewMessage(op OpType, payload any) (Message, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrEncoding, err)
		}
		raw = data
	}
	return Message{
		ID:        uuid.New().String(),
		Type:      op,
		Payload:   raw,
		Timestamp: WireTime{time.Now().UTC()},
	}, nil
}

// Wire timestamp layouts, tried in order: full precision with offset, whole
// second with offset, then offset-less forms interpreted as UTC.
var wireTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// WireTime is a timestamp that tolerates the ISO-8601 variants produced by
// the server (with and without fractional seconds or an explicit offset).
type WireTime struct {
	time.Time
}

// ParseWireTime decodes an ISO-8601 timestamp string.
func ParseWireTime(s string) (WireTime, error) {
	for _, layout := range wireTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return WireTime{t.UTC()}, nil
		}
	}
	return WireTime{}, fmt.Errorf("%w: unsupported timestamp %q", ErrDecoding, s)
}

// MarshalJSON encodes the timestamp as RFC 3339 in UTC.
func (t WireTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// UnmarshalJSON decodes any supported ISO-8601 form.
func (t *WireTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: timestamp is not a string", ErrDecoding)
	}
	parsed, err := ParseWireTime(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
