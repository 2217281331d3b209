// Package session holds the collaborative exercise session model, the
// authoritative local state store with its reconciliation rules, and the
// protocol handler that translates between store mutations and wire
// messages.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Status enumerates session document lifecycle phases.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusComplete Status = "complete"
)

// ItemType distinguishes single exercises from compound (superset) entries.
type ItemType string

const (
	ItemSingle   ItemType = "single"
	ItemCompound ItemType = "compound"
)

// ExerciseType declares which metrics apply to an exercise.
type ExerciseType string

const (
	ExerciseWeightReps   ExerciseType = "weight_reps"
	ExerciseWeightTime   ExerciseType = "weight_time"
	ExerciseDistanceTime ExerciseType = "distance_time"
	ExerciseReps         ExerciseType = "reps"
	ExerciseTime         ExerciseType = "time"
	ExerciseDistance     ExerciseType = "distance"
)

// SetType classifies a set within an exercise.
type SetType string

const (
	SetWarmup  SetType = "warmup"
	SetWorking SetType = "working"
	SetDrop    SetType = "drop"
	SetSuper   SetType = "super"
	SetFailure SetType = "failure"
)

// WeightUnit is the unit of a Weight value.
type WeightUnit string

const (
	UnitKilogram WeightUnit = "kg"
	UnitPound    WeightUnit = "lb"
)

// DistanceUnit is the unit of a Distance value.
type DistanceUnit string

const (
	UnitMeter     DistanceUnit = "m"
	UnitKilometer DistanceUnit = "km"
	UnitMile      DistanceUnit = "mi"
	UnitYard      DistanceUnit = "yd"
)

// Weight is a weight value with its unit.
type Weight struct {
	Value float64    `json:"value"`
	Unit  WeightUnit `json:"unit"`
}

// Kilograms converts the weight to kilograms.
func (w Weight) Kilograms() float64 {
	if w.Unit == UnitPound {
		return w.Value * 0.453592
	}
	return w.Value
}

// Pounds converts the weight to pounds.
func (w Weight) Pounds() float64 {
	if w.Unit == UnitKilogram {
		return w.Value * 2.20462
	}
	return w.Value
}

// Duration is an elapsed time in whole seconds.
type Duration struct {
	Value int `json:"value"`
}

// Distance is a distance value with its unit.
type Distance struct {
	Value float64      `json:"value"`
	Unit  DistanceUnit `json:"unit"`
}

var metersPer = map[DistanceUnit]float64{
	UnitMeter:     1,
	UnitKilometer: 1000,
	UnitMile:      1609.34,
	UnitYard:      0.9144,
}

// Meters converts the distance to meters.
func (d Distance) Meters() float64 {
	return d.Value * metersPer[d.Unit]
}

// Metrics is a set's metrics record. All fields are independently optional;
// applicability depends on the exercise's declared type.
type Metrics struct {
	Reps     *int      `json:"reps,omitempty"`
	Weight   *Weight   `json:"weight,omitempty"`
	Duration *Duration `json:"duration,omitempty"`
	Distance *Distance `json:"distance,omitempty"`
}

func (m Metrics) clone() Metrics {
	out := Metrics{}
	if m.Reps != nil {
		v := *m.Reps
		out.Reps = &v
	}
	if m.Weight != nil {
		v := *m.Weight
		out.Weight = &v
	}
	if m.Duration != nil {
		v := *m.Duration
		out.Duration = &v
	}
	if m.Distance != nil {
		v := *m.Distance
		out.Distance = &v
	}
	return out
}

// Cursor points at the exercise and set a participant is focused on.
type Cursor struct {
	ExerciseID    string `json:"exercise_id"`
	ExerciseSetID string `json:"exercise_set_id"`
}

// Participant is a session member with an assigned display color and an
// optional presence cursor.
type Participant struct {
	ID     string  `json:"id"`
	Color  string  `json:"color"`
	Cursor *Cursor `json:"cursor,omitempty"`
}

// Invitation records a pending invite to a session.
type Invitation struct {
	InvitedBy string     `json:"invited_by"`
	Invited   string     `json:"invited"`
	Expires   *time.Time `json:"expires,omitempty"`
}

// Session is the shared session document.
type Session struct {
	ID           string        `json:"id"`
	Name         string        `json:"name,omitempty"`
	Status       Status        `json:"status"`
	OwnerID      string        `json:"owner_id"`
	Participants []Participant `json:"participants"`
	Invitations  []Invitation  `json:"invitations"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Clone returns a deep copy of the session document.
func (s Session) Clone() Session {
	out := s
	out.Participants = make([]Participant, len(s.Participants))
	for i, p := range s.Participants {
		out.Participants[i] = p
		if p.Cursor != nil {
			c := *p.Cursor
			out.Participants[i].Cursor = &c
		}
	}
	out.Invitations = make([]Invitation, len(s.Invitations))
	for i, inv := range s.Invitations {
		out.Invitations[i] = inv
		if inv.Expires != nil {
			t := *inv.Expires
			out.Invitations[i].Expires = &t
		}
	}
	return out
}

// ItemMeta links an item to an exercise definition.
type ItemMeta struct {
	InternalID string       `json:"internal_id"`
	Name       string       `json:"name"`
	Type       ExerciseType `json:"type"`
}

// Set is one set within an exercise item. Order is an explicit field, not
// the structural position in the slice.
type Set struct {
	ID       string  `json:"id"`
	Order    int     `json:"order"`
	Metrics  Metrics `json:"metrics"`
	Type     SetType `json:"type"`
	Complete bool    `json:"complete"`
}

func (s Set) clone() Set {
	out := s
	out.Metrics = s.Metrics.clone()
	return out
}

// Item is one exercise entry in the session state.
type Item struct {
	ID           string     `json:"id"`
	Order        int        `json:"order"`
	Participants []string   `json:"participants"`
	Type         ItemType   `json:"type"`
	Rest         *int       `json:"rest,omitempty"`
	Meta         []ItemMeta `json:"meta"`
	Sets         []Set      `json:"sets"`
}

func (it Item) clone() Item {
	out := it
	if it.Rest != nil {
		v := *it.Rest
		out.Rest = &v
	}
	out.Participants = append([]string(nil), it.Participants...)
	out.Meta = append([]ItemMeta(nil), it.Meta...)
	out.Sets = make([]Set, len(it.Sets))
	for i, s := range it.Sets {
		out.Sets[i] = s.clone()
	}
	return out
}

// State is one account's view of the session state. Version starts at 0 and
// increments on every locally-committed or server-confirmed mutation.
type State struct {
	SessionID string `json:"session_id"`
	AccountID string `json:"account_id"`
	Version   int    `json:"version"`
	Items     []Item `json:"items"`
}

// Clone returns a deep copy of the state.
func (st State) Clone() State {
	out := st
	out.Items = make([]Item, len(st.Items))
	for i, it := range st.Items {
		out.Items[i] = it.clone()
	}
	return out
}

// NewLocalSession synthesizes a draft session and empty state for offline
// use. The server-assigned document replaces it on the next full sync.
func NewLocalSession(accountID, name string) (Session, State) {
	now := time.Now().UTC()
	id := uuid.New().String()
	sess := Session{
		ID:      id,
		Name:    name,
		Status:  StatusDraft,
		OwnerID: accountID,
		Participants: []Participant{
			{ID: accountID, Color: defaultParticipantColor},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	state := State{
		SessionID: id,
		AccountID: accountID,
		Version:   0,
	}
	return sess, state
}

const defaultParticipantColor = "#4A90D9"
