// Package auth supplies bearer tokens to the realtime layer. Credential
// storage and refresh belong to the host application; these providers only
// read what it exposes.
package auth

import (
	"os"
	"strings"
	"sync"
)

// EnvProvider reads the token from an environment variable on every call.
type EnvProvider struct {
	Var string
}

// Token implements realtime.TokenProvider.
func (p EnvProvider) Token() string {
	return strings.TrimSpace(os.Getenv(p.Var))
}

// Holder is a TokenProvider whose token the host application updates, e.g.
// after a refresh.
type Holder struct {
	mu    sync.RWMutex
	token string
}

// NewHolder creates a Holder with an initial token.
func NewHolder(token string) *Holder {
	return &Holder{token: token}
}

// Token implements realtime.TokenProvider.
func (h *Holder) Token() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.token
}

// Set replaces the current token.
func (h *Holder) Set(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.token = token
}
