package realtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"repsync/pkg/logger"
)

// Registry owns the mapping from channel id to Connection and routes calls
// by id. It is safe for concurrent use. A Registry is injected where it is
// needed; it is never a package global.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
	log   zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Connection),
		log:   *logger.Component("registry"),
	}
}

// Add registers a connection under its channel id. Registering an id twice
// is a no-op with a warning.
func (r *Registry) Add(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.conns[conn.ID()]; exists {
		r.log.Warn().Str("channel", conn.ID()).Msg("Channel already registered, ignoring")
		return
	}
	r.conns[conn.ID()] = conn
}

// Remove disconnects the channel and removes it. Unknown ids are a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	conn, ok := r.conns[id]
	delete(r.conns, id)
	r.mu.Unlock()
	if ok {
		conn.Disconnect()
	}
}

// Get returns the connection for a channel id.
func (r *Registry) Get(id string) (*Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	if !ok {
		return nil, &ChannelNotFoundError{ID: id}
	}
	return conn, nil
}

// ChannelIDs returns the registered channel ids, sorted.
func (r *Registry) ChannelIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Connect connects one channel.
func (r *Registry) Connect(ctx context.Context, id, baseURL string) error {
	conn, err := r.Get(id)
	if err != nil {
		return err
	}
	return conn.Connect(ctx, baseURL)
}

// Disconnect disconnects one channel.
func (r *Registry) Disconnect(id string) error {
	conn, err := r.Get(id)
	if err != nil {
		return err
	}
	conn.Disconnect()
	return nil
}

// Send routes a message to one channel.
func (r *Registry) Send(id string, msg Message) error {
	conn, err := r.Get(id)
	if err != nil {
		return err
	}
	return conn.Send(msg)
}

// Subscribe opens a typed message stream on one channel.
func (r *Registry) Subscribe(id string, op OpType) (*Subscription, error) {
	conn, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return conn.Subscribe(op), nil
}

// ConnectAll attempts every registered channel independently; a failure on
// one channel does not abort the others. The combined error reports every
// channel that failed.
func (r *Registry) ConnectAll(ctx context.Context, baseURL string) error {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	var errs []error
	for _, conn := range conns {
		if err := conn.Connect(ctx, baseURL); err != nil {
			r.log.Error().Err(err).Str("channel", conn.ID()).Msg("Channel connect failed")
			errs = append(errs, fmt.Errorf("channel %s: %w", conn.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// DisconnectAll disconnects every registered channel.
func (r *Registry) DisconnectAll() {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		conn.Disconnect()
	}
}

// State returns the channel's connection state, or disconnected for an
// unknown id. Observation is best-effort and never errors.
func (r *Registry) State(id string) State {
	conn, err := r.Get(id)
	if err != nil {
		return Disconnected()
	}
	return conn.State()
}

// WatchState streams a channel's state for UI binding. Unknown ids yield a
// stream stuck at disconnected rather than an error.
func (r *Registry) WatchState(id string) (<-chan State, func()) {
	conn, err := r.Get(id)
	if err != nil {
		ch := make(chan State, 1)
		ch <- Disconnected()
		return ch, func() {}
	}
	return conn.WatchState()
}

// WatchConnected streams a channel's boolean connected status. Unknown ids
// yield a stream stuck at false.
func (r *Registry) WatchConnected(id string) (<-chan bool, func()) {
	conn, err := r.Get(id)
	if err != nil {
		ch := make(chan bool, 1)
		ch <- false
		return ch, func() {}
	}
	return conn.WatchConnected()
}
