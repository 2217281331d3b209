package session

import (
	"bytes"
	"encoding/json"
	"fmt"

	"repsync/internal/realtime"
)

// Typed payloads per operation type. One closed struct per wire shape;
// unknown fields are rejected at the decode boundary so nothing dynamic
// reaches the reconciliation logic.

// JoinPayload asks to join a session.
type JoinPayload struct {
	SessionID string `json:"session_id"`
}

// LeavePayload asks to leave a session.
type LeavePayload struct {
	SessionID string `json:"session_id"`
}

// SessionUpdatePayload carries session status or connection changes, and
// server-reported errors.
type SessionUpdatePayload struct {
	SessionID    string `json:"session_id"`
	Status       string `json:"status,omitempty"`
	ConnectionID string `json:"connection_id,omitempty"`
	Error        string `json:"error,omitempty"`
	ErrorType    string `json:"error_type,omitempty"`
}

// ExercisePayload describes an exercise being added.
type ExercisePayload struct {
	Type         ItemType   `json:"type"`
	Rest         *int       `json:"rest,omitempty"`
	Meta         []ItemMeta `json:"meta"`
	Participants []string   `json:"participants,omitempty"`
}

// SetPayload describes a set being added.
type SetPayload struct {
	Type     SetType `json:"type"`
	Complete bool    `json:"complete"`
	Metrics  Metrics `json:"metrics"`
}

// ExerciseAddPayload adds an exercise to the session state.
type ExerciseAddPayload struct {
	Exercise ExercisePayload `json:"exercise"`
}

// ExerciseUpdatePayload patches whitelisted exercise fields.
type ExerciseUpdatePayload struct {
	ExerciseID string                     `json:"exercise_id"`
	Updates    map[string]json.RawMessage `json:"updates"`
}

// ExerciseDeletePayload removes an exercise.
type ExerciseDeletePayload struct {
	ExerciseID string `json:"exercise_id"`
}

// ExerciseReorderPayload moves an exercise to a new position.
type ExerciseReorderPayload struct {
	ExerciseID string `json:"exercise_id"`
	NewIndex   int    `json:"new_index"`
}

// SetAddPayload adds a set to an exercise.
type SetAddPayload struct {
	ExerciseID string     `json:"exercise_id"`
	Set        SetPayload `json:"set"`
}

// SetUpdatePayload patches whitelisted set fields.
type SetUpdatePayload struct {
	ExerciseID string                     `json:"exercise_id"`
	SetID      string                     `json:"set_id"`
	Updates    map[string]json.RawMessage `json:"updates"`
}

// SetDeletePayload removes a set.
type SetDeletePayload struct {
	ExerciseID string `json:"exercise_id"`
	SetID      string `json:"set_id"`
}

// SetCompletePayload toggles a set's completion flag.
type SetCompletePayload struct {
	ExerciseID string `json:"exercise_id"`
	SetID      string `json:"set_id"`
}

// SetReorderPayload moves a set within its exercise.
type SetReorderPayload struct {
	ExerciseID string `json:"exercise_id"`
	SetID      string `json:"set_id"`
	NewIndex   int    `json:"new_index"`
}

// CursorMovePayload reports a participant's presence cursor. ParticipantID
// attributes broadcast cursor moves; outbound messages fill it with the
// sending account.
type CursorMovePayload struct {
	ParticipantID string `json:"participant_id,omitempty"`
	Cursor        Cursor `json:"cursor"`
}

// ParticipantJoinPayload announces a participant joining.
type ParticipantJoinPayload struct {
	Participant Participant `json:"participant"`
}

// ParticipantLeavePayload announces a participant leaving.
type ParticipantLeavePayload struct {
	ParticipantID string `json:"participant_id"`
}

// ParticipantUpdatePayload announces a participant change (color, cursor).
type ParticipantUpdatePayload struct {
	Participant Participant `json:"participant"`
}

// SyncRequestPayload asks the server for a full state snapshot.
type SyncRequestPayload struct{}

// SyncResponsePayload is the authoritative full-state snapshot; applying it
// replaces local state wholesale.
type SyncResponsePayload struct {
	Session           Session          `json:"session"`
	State             State            `json:"state"`
	ParticipantStates []map[string]any `json:"participant_states,omitempty"`
	Version           int              `json:"version"`
}

// HeartbeatPayload is an application-level keepalive with no content.
type HeartbeatPayload struct{}

// Whitelisted patch keys, matching the server's validators.
var (
	exerciseUpdateKeys = map[string]struct{}{"type": {}, "rest": {}, "meta": {}, "participants": {}}
	setUpdateKeys      = map[string]struct{}{"type": {}, "complete": {}, "metrics": {}}
)

func decodeStrict(raw json.RawMessage, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", realtime.ErrDecoding, err)
	}
	return nil
}

func requireField(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: missing %s", realtime.ErrDecoding, name)
	}
	return nil
}

// DecodePayload validates and decodes the payload for the given operation
// type into its typed struct. An unrecognized type or a payload that fails
// validation yields an error wrapping realtime.ErrDecoding.
func DecodePayload(op realtime.OpType, raw json.RawMessage) (any, error) {
	if raw == nil {
		raw = json.RawMessage("{}")
	}
	switch op {
	case realtime.OpSessionJoin:
		var p JoinPayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, err
		}
		return p, requireField("session_id", p.SessionID)
	case realtime.OpSessionLeave:
		var p LeavePayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, err
		}
		return p, requireField("session_id", p.SessionID)
	case realtime.OpSessionUpdate:
		var p SessionUpdatePayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, err
		}
		return p, requireField("session_id", p.SessionID)
	case realtime.OpSessionSync, realtime.OpSyncResponse:
		var p SyncResponsePayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case realtime.OpExerciseAdd:
		var p ExerciseAddPayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case realtime.OpExerciseUpdate:
		var p ExerciseUpdatePayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, err
		}
		if err := requireField("exercise_id", p.ExerciseID); err != nil {
			return nil, err
		}
		return p, validateUpdateKeys(p.Updates, exerciseUpdateKeys)
	case realtime.OpExerciseDelete:
		var p ExerciseDeletePayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, err
		}
		return p, requireField("exercise_id", p.ExerciseID)
	case realtime.OpExerciseReorder:
		var p ExerciseReorderPayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, err
		}
		return p, requireField("exercise_id", p.ExerciseID)
	case realtime.OpSetAdd:
		var p SetAddPayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, err
		}
		return p, requireField("exercise_id", p.ExerciseID)
	case realtime.OpSetUpdate:
		var p SetUpdatePayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, err
		}
		if err := requireField("exercise_id", p.ExerciseID); err != nil {
			return nil, err
		}
		if err := requireField("set_id", p.SetID); err != nil {
			return nil, err
		}
		return p, validateUpdateKeys(p.Updates, setUpdateKeys)
	case realtime.OpSetDelete:
		var p SetDeletePayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, err
		}
		if err := requireField("exercise_id", p.ExerciseID); err != nil {
			return nil, err
		}
		return p, requireField("set_id", p.SetID)
	case realtime.OpSetComplete:
		var p SetCompletePayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, err
		}
		if err := requireField("exercise_id", p.ExerciseID); err != nil {
			return nil, err
		}
		return p, requireField("set_id", p.SetID)
	case realtime.OpSetReorder:
		var p SetReorderPayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, err
		}
		if err := requireField("exercise_id", p.ExerciseID); err != nil {
			return nil, err
		}
		return p, requireField("set_id", p.SetID)
	case realtime.OpCursorMove:
		var p CursorMovePayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case realtime.OpParticipantJoin:
		var p ParticipantJoinPayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, err
		}
		return p, requireField("participant.id", p.Participant.ID)
	case realtime.OpParticipantLeave:
		var p ParticipantLeavePayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, err
		}
		return p, requireField("participant_id", p.ParticipantID)
	case realtime.OpParticipantUpdate:
		var p ParticipantUpdatePayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, err
		}
		return p, requireField("participant.id", p.Participant.ID)
	case realtime.OpSyncRequest:
		var p SyncRequestPayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case realtime.OpHeartbeat:
		var p HeartbeatPayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: no payload schema for type %q", realtime.ErrDecoding, op)
	}
}

func validateUpdateKeys(updates map[string]json.RawMessage, allowed map[string]struct{}) error {
	if len(updates) == 0 {
		return fmt.Errorf("%w: empty updates", realtime.ErrDecoding)
	}
	for key := range updates {
		if _, ok := allowed[key]; !ok {
			return fmt.Errorf("%w: invalid update key %q", realtime.ErrDecoding, key)
		}
	}
	return nil
}
