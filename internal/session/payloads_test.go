package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repsync/internal/realtime"
)

func TestDecodePayloadKnownTypes(t *testing.T) {
	got, err := DecodePayload(realtime.OpSessionJoin, json.RawMessage(`{"session_id":"s1"}`))
	require.NoError(t, err)
	assert.Equal(t, JoinPayload{SessionID: "s1"}, got)

	got, err = DecodePayload(realtime.OpSetComplete,
		json.RawMessage(`{"exercise_id":"e1","set_id":"set1"}`))
	require.NoError(t, err)
	assert.Equal(t, SetCompletePayload{ExerciseID: "e1", SetID: "set1"}, got)

	got, err = DecodePayload(realtime.OpParticipantJoin,
		json.RawMessage(`{"participant":{"id":"p1","color":"#abc"}}`))
	require.NoError(t, err)
	assert.Equal(t, ParticipantJoinPayload{Participant: Participant{ID: "p1", Color: "#abc"}}, got)
}

func TestDecodePayloadRejectsUnknownFields(t *testing.T) {
	_, err := DecodePayload(realtime.OpSessionJoin,
		json.RawMessage(`{"session_id":"s1","surprise":true}`))
	assert.ErrorIs(t, err, realtime.ErrDecoding)
}

func TestDecodePayloadRejectsMissingRequiredFields(t *testing.T) {
	cases := []struct {
		op  realtime.OpType
		raw string
	}{
		{realtime.OpSessionJoin, `{}`},
		{realtime.OpExerciseDelete, `{}`},
		{realtime.OpSetDelete, `{"exercise_id":"e1"}`},
		{realtime.OpParticipantLeave, `{}`},
		{realtime.OpParticipantJoin, `{"participant":{"color":"#abc"}}`},
	}
	for _, tc := range cases {
		_, err := DecodePayload(tc.op, json.RawMessage(tc.raw))
		assert.ErrorIs(t, err, realtime.ErrDecoding, "op %s payload %s", tc.op, tc.raw)
	}
}

func TestDecodePayloadValidatesUpdateKeys(t *testing.T) {
	_, err := DecodePayload(realtime.OpExerciseUpdate,
		json.RawMessage(`{"exercise_id":"e1","updates":{"rest":60}}`))
	require.NoError(t, err)

	_, err = DecodePayload(realtime.OpExerciseUpdate,
		json.RawMessage(`{"exercise_id":"e1","updates":{"owner_id":"x"}}`))
	assert.ErrorIs(t, err, realtime.ErrDecoding, "non-whitelisted key must be rejected")

	_, err = DecodePayload(realtime.OpExerciseUpdate,
		json.RawMessage(`{"exercise_id":"e1","updates":{}}`))
	assert.ErrorIs(t, err, realtime.ErrDecoding, "empty updates must be rejected")

	_, err = DecodePayload(realtime.OpSetUpdate,
		json.RawMessage(`{"exercise_id":"e1","set_id":"set1","updates":{"complete":true}}`))
	require.NoError(t, err)

	_, err = DecodePayload(realtime.OpSetUpdate,
		json.RawMessage(`{"exercise_id":"e1","set_id":"set1","updates":{"order":3}}`))
	assert.ErrorIs(t, err, realtime.ErrDecoding, "set order is not patchable")
}

func TestDecodePayloadUnknownOp(t *testing.T) {
	_, err := DecodePayload(realtime.OpType("teleport"), json.RawMessage(`{}`))
	assert.ErrorIs(t, err, realtime.ErrDecoding)
}

func TestDecodePayloadNilPayload(t *testing.T) {
	got, err := DecodePayload(realtime.OpHeartbeat, nil)
	require.NoError(t, err)
	assert.Equal(t, HeartbeatPayload{}, got)
}

func TestDecodeSyncResponse(t *testing.T) {
	raw := json.RawMessage(`{
		"session": {"id":"s1","status":"active","owner_id":"a1","participants":[],"invitations":[],"created_at":"2025-03-01T10:00:00Z","updated_at":"2025-03-01T10:05:00Z"},
		"state": {"session_id":"s1","account_id":"a1","version":7,"items":[]},
		"version": 7
	}`)
	got, err := DecodePayload(realtime.OpSyncResponse, raw)
	require.NoError(t, err)
	p, ok := got.(SyncResponsePayload)
	require.True(t, ok)
	assert.Equal(t, "s1", p.Session.ID)
	assert.Equal(t, StatusActive, p.Session.Status)
	assert.Equal(t, 7, p.Version)
	assert.Equal(t, 7, p.State.Version)
}
