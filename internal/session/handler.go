package session

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"repsync/internal/realtime"
	"repsync/pkg/logger"
)

// Sender is the outbound half of a channel connection.
type Sender interface {
	Send(msg realtime.Message) error
}

// Handler translates between wire messages and store mutations. Inbound
// dispatch runs on a single goroutine (Run) so mutations apply in arrival
// order; outbound methods are the state-mutation entry points the UI layer
// calls, applying optimistically before the message leaves the device.
type Handler struct {
	store     *Store
	sender    Sender
	accountID string
	log       zerolog.Logger
}

// NewHandler wires a handler to its store and channel.
func NewHandler(store *Store, sender Sender, accountID string) *Handler {
	return &Handler{
		store:     store,
		sender:    sender,
		accountID: accountID,
		log:       *logger.Component("session"),
	}
}

// Run dispatches inbound messages until ctx ends or the stream closes.
// This is the single logical sequence all wire-driven store mutations share.
func (h *Handler) Run(ctx context.Context, msgs <-chan realtime.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			h.Handle(msg)
		}
	}
}

// Handle applies one inbound message. Decode and validation failures are
// logged and dropped; they never propagate past this boundary.
func (h *Handler) Handle(msg realtime.Message) {
	payload, err := DecodePayload(msg.Type, msg.Payload)
	if err != nil {
		h.log.Warn().Err(err).Str("type", string(msg.Type)).Str("id", msg.ID).
			Msg("Dropping undecodable message")
		return
	}

	switch p := payload.(type) {
	case SyncResponsePayload:
		state := p.State
		if state.Version < p.Version {
			state.Version = p.Version
		}
		h.store.ApplySync(p.Session, state)

	case SessionUpdatePayload:
		if p.Error != "" {
			serr := &realtime.ServerError{Message: p.Error}
			h.log.Error().Err(serr).Str("error_type", p.ErrorType).Msg("Server reported session error")
		}
		if p.Status != "" {
			h.store.ApplySessionStatus(Status(p.Status))
		}

	case ExerciseAddPayload:
		// Server events carry no item id; a placeholder holds the slot
		// until the next full sync confirms the authoritative one.
		h.store.AddExercise(itemFromPayload(p.Exercise))

	case ExerciseUpdatePayload:
		h.store.UpdateExercise(p.ExerciseID, p.Updates)

	case ExerciseDeletePayload:
		h.store.DeleteExercise(p.ExerciseID)

	case ExerciseReorderPayload:
		h.store.ReorderExercise(p.ExerciseID, p.NewIndex)

	case SetAddPayload:
		h.store.AddSet(p.ExerciseID, setFromPayload(p.Set))

	case SetUpdatePayload:
		h.store.UpdateSet(p.ExerciseID, p.SetID, p.Updates)

	case SetDeletePayload:
		h.store.DeleteSet(p.ExerciseID, p.SetID)

	case SetCompletePayload:
		h.store.ToggleSetComplete(p.ExerciseID, p.SetID)

	case SetReorderPayload:
		h.store.ApplyServerSetReorder(p.ExerciseID, p.SetID, p.NewIndex)

	case CursorMovePayload:
		if p.ParticipantID != "" {
			h.store.ApplyCursor(p.ParticipantID, p.Cursor)
		}

	case ParticipantJoinPayload:
		h.store.ApplyParticipantJoin(p.Participant)

	case ParticipantLeavePayload:
		h.store.ApplyParticipantLeave(p.ParticipantID)

	case ParticipantUpdatePayload:
		h.store.ApplyParticipantUpdate(p.Participant)

	default:
		// Client-originated request types echoing back; nothing to apply.
		h.log.Debug().Str("type", string(msg.Type)).Msg("Ignoring request-type message")
	}
}

func itemFromPayload(p ExercisePayload) Item {
	return Item{
		ID:           uuid.New().String(),
		Type:         p.Type,
		Rest:         p.Rest,
		Meta:         p.Meta,
		Participants: p.Participants,
	}
}

func setFromPayload(p SetPayload) Set {
	return Set{
		ID:       uuid.New().String(),
		Type:     p.Type,
		Complete: p.Complete,
		Metrics:  p.Metrics,
	}
}

// send encodes and ships one operation, stamping a fresh envelope with the
// session id and the store's current version.
func (h *Handler) send(op realtime.OpType, payload any) error {
	msg, err := realtime.NewMessage(op, payload)
	if err != nil {
		return err
	}
	msg.SessionID = h.store.Session().ID
	msg.Version = h.store.Version()
	return h.sender.Send(msg)
}

// JoinSession asks the server to join a session.
func (h *Handler) JoinSession(sessionID string) error {
	return h.send(realtime.OpSessionJoin, JoinPayload{SessionID: sessionID})
}

// LeaveSession asks the server to leave the current session.
func (h *Handler) LeaveSession() error {
	return h.send(realtime.OpSessionLeave, LeavePayload{SessionID: h.store.Session().ID})
}

// RequestSync asks the server for a full state snapshot.
func (h *Handler) RequestSync() error {
	return h.send(realtime.OpSyncRequest, SyncRequestPayload{})
}

// AddExercise appends an exercise optimistically and announces it.
func (h *Handler) AddExercise(ex ExercisePayload) error {
	h.store.AddExercise(itemFromPayload(ex))
	return h.send(realtime.OpExerciseAdd, ExerciseAddPayload{Exercise: ex})
}

// UpdateExercise patches an exercise optimistically and announces it.
func (h *Handler) UpdateExercise(exerciseID string, updates map[string]json.RawMessage) error {
	h.store.UpdateExercise(exerciseID, updates)
	return h.send(realtime.OpExerciseUpdate, ExerciseUpdatePayload{ExerciseID: exerciseID, Updates: updates})
}

// DeleteExercise removes an exercise optimistically and announces it.
func (h *Handler) DeleteExercise(exerciseID string) error {
	h.store.DeleteExercise(exerciseID)
	return h.send(realtime.OpExerciseDelete, ExerciseDeletePayload{ExerciseID: exerciseID})
}

// ReorderExercise moves an exercise optimistically and announces it.
func (h *Handler) ReorderExercise(exerciseID string, newIndex int) error {
	h.store.ReorderExercise(exerciseID, newIndex)
	return h.send(realtime.OpExerciseReorder, ExerciseReorderPayload{ExerciseID: exerciseID, NewIndex: newIndex})
}

// AddSet appends a set optimistically and announces it.
func (h *Handler) AddSet(exerciseID string, sp SetPayload) error {
	h.store.AddSet(exerciseID, setFromPayload(sp))
	return h.send(realtime.OpSetAdd, SetAddPayload{ExerciseID: exerciseID, Set: sp})
}

// DeleteSet removes a set optimistically and announces it.
func (h *Handler) DeleteSet(exerciseID, setID string) error {
	h.store.DeleteSet(exerciseID, setID)
	return h.send(realtime.OpSetDelete, SetDeletePayload{ExerciseID: exerciseID, SetID: setID})
}

// ToggleSetComplete flips a set optimistically and announces it.
func (h *Handler) ToggleSetComplete(exerciseID, setID string) error {
	h.store.ToggleSetComplete(exerciseID, setID)
	return h.send(realtime.OpSetComplete, SetCompletePayload{ExerciseID: exerciseID, SetID: setID})
}

// ReorderSet swaps two sets optimistically and announces the move as the
// target index the server's set_reorder event expects.
func (h *Handler) ReorderSet(exerciseID, fromSetID, toSetID string) error {
	newIndex := -1
	for _, item := range h.store.State().Items {
		if item.ID != exerciseID {
			continue
		}
		for i, set := range item.Sets {
			if set.ID == toSetID {
				newIndex = i
			}
		}
	}
	h.store.ReorderSet(exerciseID, fromSetID, toSetID)
	if newIndex < 0 {
		// Local no-op; nothing worth announcing.
		return nil
	}
	return h.send(realtime.OpSetReorder, SetReorderPayload{ExerciseID: exerciseID, SetID: fromSetID, NewIndex: newIndex})
}

// UpdateMetrics replaces a set's metrics optimistically and announces it as
// a set_update patch. The full record replaces the old one; there is no
// partial merge.
func (h *Handler) UpdateMetrics(exerciseID, setID string, metrics Metrics) error {
	h.store.UpdateMetrics(exerciseID, setID, metrics)
	raw, err := json.Marshal(metrics)
	if err != nil {
		return err
	}
	return h.send(realtime.OpSetUpdate, SetUpdatePayload{
		ExerciseID: exerciseID,
		SetID:      setID,
		Updates:    map[string]json.RawMessage{"metrics": raw},
	})
}

// MoveCursor announces this account's presence cursor.
func (h *Handler) MoveCursor(cur Cursor) error {
	h.store.ApplyCursor(h.accountID, cur)
	return h.send(realtime.OpCursorMove, CursorMovePayload{ParticipantID: h.accountID, Cursor: cur})
}
