package realtime

import (
	"errors"
	"fmt"
)

// Sentinel errors for the realtime layer. Callers match them with errors.Is.
var (
	ErrInvalidURL       = errors.New("invalid websocket URL")
	ErrConnectionFailed = errors.New("connection failed")
	ErrNotConnected     = errors.New("not connected")
	ErrAuthRequired     = errors.New("authentication required")
	ErrEncoding         = errors.New("message encoding failed")
	ErrDecoding         = errors.New("message decoding failed")
	ErrTimeout          = errors.New("operation timed out")
	ErrUnauthorized     = errors.New("unauthorized")
)

// ServerError carries an application-level error message sent by the server.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: %s", e.Message)
}

// ChannelNotFoundError reports an operation against an unregistered channel id.
type ChannelNotFoundError struct {
	ID string
}

func (e *ChannelNotFoundError) Error() string {
	return fmt.Sprintf("channel not found: %s", e.ID)
}
