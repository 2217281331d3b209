package realtime

import (
	"errors"
	"testing"
)

func TestWebsocketURLSchemes(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"http://host:8000", "ws://host:8000/ws"},
		{"https://host:8000", "wss://host:8000/ws"},
		{"ws://host:8000", "ws://host:8000/ws"},
		{"wss://host:8000", "wss://host:8000/ws"},
	}
	for _, tc := range cases {
		got, err := websocketURL(tc.base, "/ws")
		if err != nil {
			t.Errorf("websocketURL(%q) failed: %v", tc.base, err)
			continue
		}
		if got != tc.want {
			t.Errorf("websocketURL(%q) = %q, want %q", tc.base, got, tc.want)
		}
	}
}

func TestWebsocketURLInvalidScheme(t *testing.T) {
	for _, base := range []string{"ftp://host", "file:///tmp/x", "host:8000"} {
		if _, err := websocketURL(base, "/ws"); !errors.Is(err, ErrInvalidURL) {
			t.Errorf("websocketURL(%q) err = %v, want ErrInvalidURL", base, err)
		}
	}
}
