// Package statusapi exposes a local, read-only HTTP view of channel and
// session state for debugging and UI processes that prefer polling a local
// socket over binding the observable streams directly.
package statusapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"repsync/internal/realtime"
	"repsync/internal/session"
	"repsync/pkg/logger"
)

// Server serves the status routes.
type Server struct {
	registry *realtime.Registry
	store    *session.Store
	srv      *http.Server
	log      zerolog.Logger
}

// New builds a status server bound to addr.
func New(addr string, registry *realtime.Registry, store *session.Store) *Server {
	s := &Server{
		registry: registry,
		store:    store,
		log:      *logger.Component("statusapi"),
	}

	r := mux.NewRouter()
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/status/channels/{id}", s.handleChannel).Methods(http.MethodGet)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("Status server failed")
		}
	}()
	s.log.Info().Str("addr", s.srv.Addr).Msg("Status server listening")
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type channelStatus struct {
	State     string `json:"state"`
	Reason    string `json:"reason,omitempty"`
	Connected bool   `json:"connected"`
}

type statusResponse struct {
	Channels map[string]channelStatus `json:"channels"`
	Session  sessionStatus            `json:"session"`
}

type sessionStatus struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Version      int    `json:"version"`
	Items        int    `json:"items"`
	Participants int    `json:"participants"`
}

func (s *Server) snapshot() statusResponse {
	channels := make(map[string]channelStatus)
	for _, id := range s.registry.ChannelIDs() {
		st := s.registry.State(id)
		channels[id] = channelStatus{
			State:     string(st.Kind),
			Reason:    st.Reason,
			Connected: st.Kind == realtime.StateConnected,
		}
	}
	sess := s.store.Session()
	state := s.store.State()
	return statusResponse{
		Channels: channels,
		Session: sessionStatus{
			ID:           sess.ID,
			Status:       string(sess.Status),
			Version:      state.Version,
			Items:        len(state.Items),
			Participants: len(sess.Participants),
		},
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.registry.Get(id); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	st := s.registry.State(id)
	writeJSON(w, http.StatusOK, channelStatus{
		State:     string(st.Kind),
		Reason:    st.Reason,
		Connected: st.Kind == realtime.StateConnected,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
