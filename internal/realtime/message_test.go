package realtime

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestNewMessageStampsEnvelope(t *testing.T) {
	msg, err := NewMessage(OpSessionJoin, map[string]string{"session_id": "s1"})
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	if msg.ID == "" {
		t.Error("msg.ID is empty")
	}
	if msg.Type != OpSessionJoin {
		t.Errorf("Type = %s, want %s", msg.Type, OpSessionJoin)
	}
	if msg.Timestamp.IsZero() {
		t.Error("Timestamp is zero")
	}
	if string(msg.Payload) != `{"session_id":"s1"}` {
		t.Errorf("Payload = %s", msg.Payload)
	}
}

func TestNewMessageEncodingError(t *testing.T) {
	_, err := NewMessage(OpSessionJoin, func() {})
	if !errors.Is(err, ErrEncoding) {
		t.Errorf("err = %v, want ErrEncoding", err)
	}
}

func TestNewMessageUniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		msg, err := NewMessage(OpHeartbeat, nil)
		if err != nil {
			t.Fatalf("NewMessage failed: %v", err)
		}
		if seen[msg.ID] {
			t.Fatalf("duplicate message id %s", msg.ID)
		}
		seen[msg.ID] = true
	}
}

func TestMessageRoundTrip(t *testing.T) {
	msg := Message{
		ID:            "m1",
		Type:          OpSetComplete,
		SessionID:     "s1",
		Payload:       json.RawMessage(`{"exercise_id":"e1","set_id":"s1"}`),
		Timestamp:     WireTime{time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
		Version:       7,
		CorrelationID: "req-1",
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.ID != msg.ID || decoded.Type != msg.Type || decoded.Version != 7 {
		t.Errorf("round trip mismatch: %+v", decoded)
	}
	if decoded.CorrelationID != "req-1" {
		t.Errorf("CorrelationID = %q", decoded.CorrelationID)
	}
	if !decoded.Timestamp.Equal(msg.Timestamp.Time) {
		t.Errorf("Timestamp = %v, want %v", decoded.Timestamp, msg.Timestamp)
	}
}

func TestParseWireTimeForms(t *testing.T) {
	want := time.Date(2025, 3, 1, 12, 30, 45, 0, time.UTC)
	cases := []struct {
		name  string
		input string
		frac  bool
	}{
		{"fractional with offset", "2025-03-01T12:30:45.123456+00:00", true},
		{"whole second with offset", "2025-03-01T12:30:45+00:00", false},
		{"fractional with Z", "2025-03-01T12:30:45.123456Z", true},
		{"whole second with Z", "2025-03-01T12:30:45Z", false},
		{"naive fractional", "2025-03-01T12:30:45.123456", true},
		{"naive whole second", "2025-03-01T12:30:45", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseWireTime(tc.input)
			if err != nil {
				t.Fatalf("ParseWireTime(%q) failed: %v", tc.input, err)
			}
			if !got.Truncate(time.Second).Equal(want) {
				t.Errorf("parsed %v, want %v (to the second)", got, want)
			}
			if tc.frac && got.Nanosecond() == 0 {
				t.Error("fractional seconds lost")
			}
		})
	}
}

func TestParseWireTimeInvalid(t *testing.T) {
	_, err := ParseWireTime("yesterday at noon")
	if !errors.Is(err, ErrDecoding) {
		t.Errorf("err = %v, want ErrDecoding", err)
	}
}

func TestOpTypeKnown(t *testing.T) {
	if !OpSessionSync.Known() {
		t.Error("session_sync should be known")
	}
	if OpType("made_up").Known() {
		t.Error("made_up should not be known")
	}
	if OpAny.Known() {
		t.Error("wildcard is not a wire operation")
	}
}
