package session

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"repsync/internal/observe"
	"repsync/pkg/logger"
)

// Snapshot is a consistent, deep-copied view of the session documents,
// published to observers after every committed mutation.
type Snapshot struct {
	Session Session
	State   State
}

// Store holds the single authoritative local copy of the session document
// and state. All mutations run under one mutex so apply-in-arrival-order
// holds; reads hand out deep copies, never live references.
//
// Reconciliation, in priority order when sources race:
//  1. a full sync replaces the entire state wholesale (last sync wins);
//  2. discrete server events mutate only the addressed sub-entity;
//  3. local optimistic mutations apply immediately and bump the version,
//     with the next full sync as the authority that corrects divergence.
type Store struct {
	mu      sync.Mutex
	session Session
	state   State
	changes *observe.Value[Snapshot]
	log     zerolog.Logger
}

// NewStore creates a store seeded with the given documents.
func NewStore(sess Session, state State) *Store {
	return &Store{
		session: sess.Clone(),
		state:   state.Clone(),
		changes: observe.NewValue(Snapshot{Session: sess.Clone(), State: state.Clone()}),
		log:     *logger.Component("store"),
	}
}

// Watch streams snapshots, starting with the current one.
func (s *Store) Watch() (<-chan Snapshot, func()) {
	return s.changes.Subscribe()
}

// Session returns a deep copy of the session document.
func (s *Store) Session() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Clone()
}

// State returns a deep copy of the session state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Version returns the current state version.
func (s *Store) Version() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Version
}

// notifyLocked publishes a snapshot. Caller holds s.mu; delivery into
// subscriber channels is non-blocking so holding the lock is safe.
func (s *Store) notifyLocked() {
	s.changes.Set(Snapshot{Session: s.session.Clone(), State: s.state.Clone()})
}

// ApplySync replaces both documents wholesale with the server snapshot.
// No merge: the last full sync always wins over any local divergence.
func (s *Store) ApplySync(sess Session, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = sess.Clone()
	s.state = state.Clone()
	s.notifyLocked()
}

// ApplySessionStatus updates the session document status.
func (s *Store) ApplySessionStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.Status == status {
		return
	}
	s.session.Status = status
	s.notifyLocked()
}

// ApplyParticipantJoin appends a participant. A duplicate join (id already
// present) is a no-op.
func (s *Store) ApplyParticipantJoin(p Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.session.Participants {
		if existing.ID == p.ID {
			return
		}
	}
	s.session.Participants = append(s.session.Participants, p)
	s.notifyLocked()
}

// ApplyParticipantLeave removes a participant. Leaving while not present is
// a no-op.
func (s *Store) ApplyParticipantLeave(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.session.Participants {
		if p.ID == id {
			s.session.Participants = append(s.session.Participants[:i], s.session.Participants[i+1:]...)
			s.notifyLocked()
			return
		}
	}
}

// ApplyParticipantUpdate replaces a participant's record in place. Unknown
// ids are a no-op.
func (s *Store) ApplyParticipantUpdate(p Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.session.Participants {
		if existing.ID == p.ID {
			s.session.Participants[i] = p
			s.notifyLocked()
			return
		}
	}
}

// ApplyCursor moves a participant's presence cursor. Unknown ids are a no-op.
func (s *Store) ApplyCursor(participantID string, cur Cursor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.session.Participants {
		if p.ID == participantID {
			c := cur
			s.session.Participants[i].Cursor = &c
			s.notifyLocked()
			return
		}
	}
}

// AddExercise appends an item with order = current item count + 1 and bumps
// the version. Ids are the caller's responsibility; the store does not dedup.
func (s *Store) AddExercise(item Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.Order = len(s.state.Items) + 1
	s.state.Items = append(s.state.Items, item.clone())
	s.state.Version++
	s.notifyLocked()
}

// UpdateExercise patches whitelisted item fields from raw update values.
// Unknown exercise ids and malformed values are no-ops.
func (s *Store) UpdateExercise(exerciseID string, updates map[string]json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.findItemLocked(exerciseID)
	if item == nil {
		return
	}
	changed := false
	for key, raw := range updates {
		switch key {
		case "type":
			var v ItemType
			if json.Unmarshal(raw, &v) == nil {
				item.Type = v
				changed = true
			}
		case "rest":
			var v *int
			if json.Unmarshal(raw, &v) == nil {
				item.Rest = v
				changed = true
			}
		case "meta":
			var v []ItemMeta
			if json.Unmarshal(raw, &v) == nil {
				item.Meta = v
				changed = true
			}
		case "participants":
			var v []string
			if json.Unmarshal(raw, &v) == nil {
				item.Participants = v
				changed = true
			}
		}
	}
	if changed {
		s.state.Version++
		s.notifyLocked()
	}
}

// DeleteExercise removes an item. Unknown ids are a no-op.
func (s *Store) DeleteExercise(exerciseID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, it := range s.state.Items {
		if it.ID == exerciseID {
			s.state.Items = append(s.state.Items[:i], s.state.Items[i+1:]...)
			s.state.Version++
			s.notifyLocked()
			return
		}
	}
}

// ReorderExercise moves an item to newIndex (clamped) and renumbers item
// order fields 1..N. Unknown ids are a no-op.
func (s *Store) ReorderExercise(exerciseID string, newIndex int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	from := -1
	for i, it := range s.state.Items {
		if it.ID == exerciseID {
			from = i
			break
		}
	}
	if from < 0 {
		return
	}
	if newIndex < 0 {
		newIndex = 0
	}
	if newIndex >= len(s.state.Items) {
		newIndex = len(s.state.Items) - 1
	}
	if newIndex == from {
		return
	}
	item := s.state.Items[from]
	s.state.Items = append(s.state.Items[:from], s.state.Items[from+1:]...)
	s.state.Items = append(s.state.Items[:newIndex],
		append([]Item{item}, s.state.Items[newIndex:]...)...)
	for i := range s.state.Items {
		s.state.Items[i].Order = i + 1
	}
	s.state.Version++
	s.notifyLocked()
}

// AddSet appends a set to an exercise with order = current set count + 1.
// Unknown exercise ids are a no-op.
func (s *Store) AddSet(exerciseID string, set Set) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.findItemLocked(exerciseID)
	if item == nil {
		return
	}
	set.Order = len(item.Sets) + 1
	item.Sets = append(item.Sets, set.clone())
	s.state.Version++
	s.notifyLocked()
}

// UpdateSet patches whitelisted set fields from raw update values. Unknown
// ids and malformed values are no-ops.
func (s *Store) UpdateSet(exerciseID, setID string, updates map[string]json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.findSetLocked(exerciseID, setID)
	if set == nil {
		return
	}
	changed := false
	for key, raw := range updates {
		switch key {
		case "type":
			var v SetType
			if json.Unmarshal(raw, &v) == nil {
				set.Type = v
				changed = true
			}
		case "complete":
			var v bool
			if json.Unmarshal(raw, &v) == nil {
				set.Complete = v
				changed = true
			}
		case "metrics":
			var v Metrics
			if json.Unmarshal(raw, &v) == nil {
				set.Metrics = v
				changed = true
			}
		}
	}
	if changed {
		s.state.Version++
		s.notifyLocked()
	}
}

// DeleteSet removes a set from an exercise. Unknown ids are a no-op.
func (s *Store) DeleteSet(exerciseID, setID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.findItemLocked(exerciseID)
	if item == nil {
		return
	}
	for i, set := range item.Sets {
		if set.ID == setID {
			item.Sets = append(item.Sets[:i], item.Sets[i+1:]...)
			s.state.Version++
			s.notifyLocked()
			return
		}
	}
}

// ToggleSetComplete flips a set's complete flag. A no-op if either id is
// absent. Toggling twice restores the original value.
func (s *Store) ToggleSetComplete(exerciseID, setID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.findSetLocked(exerciseID, setID)
	if set == nil {
		return
	}
	set.Complete = !set.Complete
	s.state.Version++
	s.notifyLocked()
}

// ReorderSet moves the set at fromSetID's position into toSetID's position
// and vice versa. Applying the operation a second time with the arguments
// swapped restores the original ordering. A no-op when the ids are equal or
// either is absent. Order fields are not renumbered; call RenumberSets when
// they need to reflect position.
func (s *Store) ReorderSet(exerciseID, fromSetID, toSetID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fromSetID == toSetID {
		return
	}
	item := s.findItemLocked(exerciseID)
	if item == nil {
		return
	}
	from, to := -1, -1
	for i, set := range item.Sets {
		switch set.ID {
		case fromSetID:
			from = i
		case toSetID:
			to = i
		}
	}
	if from < 0 || to < 0 {
		return
	}
	item.Sets[from], item.Sets[to] = item.Sets[to], item.Sets[from]
	s.state.Version++
	s.notifyLocked()
}

// ApplyServerSetReorder moves a set to newIndex (clamped), the shape the
// server's set_reorder event carries. Unknown ids are a no-op.
func (s *Store) ApplyServerSetReorder(exerciseID, setID string, newIndex int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.findItemLocked(exerciseID)
	if item == nil {
		return
	}
	from := -1
	for i, set := range item.Sets {
		if set.ID == setID {
			from = i
			break
		}
	}
	if from < 0 {
		return
	}
	if newIndex < 0 {
		newIndex = 0
	}
	if newIndex >= len(item.Sets) {
		newIndex = len(item.Sets) - 1
	}
	if newIndex == from {
		return
	}
	moved := item.Sets[from]
	item.Sets = append(item.Sets[:from], item.Sets[from+1:]...)
	item.Sets = append(item.Sets[:newIndex],
		append([]Set{moved}, item.Sets[newIndex:]...)...)
	s.state.Version++
	s.notifyLocked()
}

// RenumberSets reassigns each set's order field as 1..N by current position.
// Unknown exercise ids are a no-op.
func (s *Store) RenumberSets(exerciseID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.findItemLocked(exerciseID)
	if item == nil {
		return
	}
	changed := false
	for i := range item.Sets {
		if item.Sets[i].Order != i+1 {
			item.Sets[i].Order = i + 1
			changed = true
		}
	}
	if changed {
		s.state.Version++
		s.notifyLocked()
	}
}

// UpdateMetrics replaces a set's metrics record wholesale and bumps the
// version. There is no partial-field merge; callers read-modify-write the
// full record. A no-op if either id is absent.
func (s *Store) UpdateMetrics(exerciseID, setID string, metrics Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.findSetLocked(exerciseID, setID)
	if set == nil {
		return
	}
	set.Metrics = metrics.clone()
	s.state.Version++
	s.notifyLocked()
}

// Reset drops the documents back to an empty local session, e.g. after the
// user leaves or ends the session.
func (s *Store) Reset(sess Session, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = sess.Clone()
	s.state = state.Clone()
	s.notifyLocked()
}

func (s *Store) findItemLocked(exerciseID string) *Item {
	for i := range s.state.Items {
		if s.state.Items[i].ID == exerciseID {
			return &s.state.Items[i]
		}
	}
	return nil
}

func (s *Store) findSetLocked(exerciseID, setID string) *Set {
	item := s.findItemLocked(exerciseID)
	if item == nil {
		return nil
	}
	for i := range item.Sets {
		if item.Sets[i].ID == setID {
			return &item.Sets[i]
		}
	}
	return nil
}
