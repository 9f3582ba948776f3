package puzzle

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"time"

	"lukechampine.com/blake3"
)

// PlayerKey identifies a player inside one realm instance. Keys are
// assigned by the realm on admission and never reused within a run.
type PlayerKey uint64

// NavEvent marks a player crossing a piece's area boundary.
type NavEvent uint8

const (
	NavEnter NavEvent = iota + 1
	NavLeave
)

// InteractionKind is the player-initiated gesture on a piece.
type InteractionKind uint8

const (
	InteractClick InteractionKind = iota + 1
	InteractRealm
)

// Interaction is a player gesture plus its optional payload.
type Interaction struct {
	Kind InteractionKind
	Link Link
}

// InteractionResult reports how a piece handled a gesture.
type InteractionResult uint8

const (
	InteractionAccepted InteractionResult = iota + 1
	InteractionFailed
	InteractionInvalid
)

// SimpleEvent is an event emission without player side effects.
type SimpleEvent struct {
	Event Event
	Value Value
}

// OutputKind discriminates piece outputs.
type OutputKind uint8

const (
	OutputEventKind OutputKind = iota + 1
	OutputSend
	OutputMark
	OutputUnmark
	OutputBitSet
	OutputBitClear
	OutputBitToggle
)

// Output is either an event to propagate or a player side effect.
type Output struct {
	Kind    OutputKind
	Event   Event
	Value   Value
	Link    Link
	Mark    uint8
	Players []PlayerKey
}

func EventOutput(ev Event, v Value) Output {
	return Output{Kind: OutputEventKind, Event: ev, Value: v}
}

// Piece is one active puzzle component. Implementations are not safe
// for concurrent use; the realm drains all stimuli on a single task.
type Piece interface {
	// Accept adjusts state in response to a propagated command and
	// returns the outputs the change produced.
	Accept(cmd Command, value Value, now time.Time) []Output
	// Interact responds to a direct player gesture.
	Interact(i Interaction, mark *uint8) (InteractionResult, []SimpleEvent)
	// Tick fires time-driven transitions.
	Tick(now time.Time) []SimpleEvent
	// Next reports the next instant this piece could fire, if any.
	Next(now time.Time) (time.Time, bool)
	// Reset emits the events needed to rebuild downstream state after
	// a reload from the journal.
	Reset() []SimpleEvent
	// Walk responds to a player entering or leaving the piece's area.
	Walk(player PlayerKey, mark *uint8, ev NavEvent) []SimpleEvent
	// Property reports the client-visible value this piece publishes,
	// if it publishes one.
	Property() (Value, bool)
	// State serialises kind-private state for the journal.
	State() (any, error)
}

// Env carries realm-scoped context into piece construction: the realm
// seed for deterministic shuffles and the shared radio-button channels.
type Env struct {
	Seed   int64
	radios map[string]*RadioState
}

func NewEnv(seed int64) *Env {
	return &Env{Seed: seed, radios: map[string]*RadioState{}}
}

// RadioState is the channel shared by radio buttons with the same name.
type RadioState struct {
	Name    string
	Value   uint32
	Enabled bool
}

func (e *Env) Radio(name string, initial uint32, enabled bool) *RadioState {
	if r, ok := e.radios[name]; ok {
		return r
	}
	r := &RadioState{Name: name, Value: initial, Enabled: enabled}
	e.radios[name] = r
	return r
}

// Rand derives a deterministic generator from the realm seed, the
// piece id, and a per-piece reseed counter, so independent servers
// replaying the same journal shuffle identically.
func (e *Env) Rand(piece uint32, counter uint64) *rand.Rand {
	var buf [20]byte
	binary.LittleEndian.PutUint64(buf[0:], uint64(e.Seed))
	binary.LittleEndian.PutUint32(buf[8:], piece)
	binary.LittleEndian.PutUint64(buf[12:], counter)
	sum := blake3.Sum256(buf[:])
	return rand.New(rand.NewSource(int64(binary.LittleEndian.Uint64(sum[:8]))))
}

// ListType selects the element type of list-carrying pieces.
type ListType string

const (
	ListBool ListType = "bool"
	ListNum  ListType = "num"
	ListLink ListType = "link"
)

// Kind tags for piece definitions.
type Kind string

const (
	KindArithmetic    Kind = "arithmetic"
	KindBuffer        Kind = "buffer"
	KindButton        Kind = "button"
	KindClock         Kind = "clock"
	KindComparator    Kind = "comparator"
	KindCounter       Kind = "counter"
	KindHoliday       Kind = "holiday"
	KindIndex         Kind = "index"
	KindIndexList     Kind = "index_list"
	KindLogic         Kind = "logic"
	KindMetronome     Kind = "metronome"
	KindPermutation   Kind = "permutation"
	KindProximity     Kind = "proximity"
	KindRadioButton   Kind = "radio_button"
	KindRealmSelector Kind = "realm_selector"
	KindSink          Kind = "sink"
	KindSwitch        Kind = "switch"
	KindTimer         Kind = "timer"
)

// Def is a piece definition from a realm template: a stable id, a
// kind, and the kind's immutable settings.
type Def struct {
	ID   uint32 `msgpack:"id"`
	Kind Kind   `msgpack:"kind"`

	// Settings; which fields apply depends on Kind.
	Operation string      `msgpack:"operation,omitempty"`
	ValueType ListType    `msgpack:"value_type,omitempty"`
	Enabled   bool        `msgpack:"enabled,omitempty"`
	Initial   uint32      `msgpack:"initial,omitempty"`
	InitialOn bool        `msgpack:"initial_on,omitempty"`
	Max       uint32      `msgpack:"max,omitempty"`
	Period    uint32      `msgpack:"period,omitempty"`
	Shift     *uint32     `msgpack:"shift,omitempty"`
	Frequency uint32      `msgpack:"frequency,omitempty"`
	Capacity  uint32      `msgpack:"capacity,omitempty"`
	Length    uint8       `msgpack:"length,omitempty"`
	Name      string      `msgpack:"name,omitempty"`
	Value     uint32      `msgpack:"value,omitempty"`
	Matcher   MarkMatcher `msgpack:"matcher,omitempty"`
	Holidays  []string    `msgpack:"holidays,omitempty"`
}

// Create builds a fresh piece from the definition.
func (d Def) Create(now time.Time, env *Env) (Piece, error) {
	return d.build(now, env, nil)
}

// Load rebuilds a piece from journalled state.
func (d Def) Load(state []byte, now time.Time, env *Env) (Piece, error) {
	if state == nil {
		return nil, fmt.Errorf("piece %d: no journalled state", d.ID)
	}
	return d.build(now, env, state)
}

func (d Def) build(now time.Time, env *Env, state []byte) (Piece, error) {
	var p Piece
	var err error
	switch d.Kind {
	case KindArithmetic:
		p, err = newArithmetic(d, state)
	case KindBuffer:
		p, err = newBuffer(d, env, state)
	case KindButton:
		p, err = newButton(d, state)
	case KindClock:
		p, err = newClock(d, now, state)
	case KindComparator:
		p, err = newComparator(d, state)
	case KindCounter:
		p, err = newCounter(d, state)
	case KindHoliday:
		p, err = newHoliday(d, now, state)
	case KindIndex:
		p, err = newIndex(d, state)
	case KindIndexList:
		p, err = newIndexList(d, state)
	case KindLogic:
		p, err = newLogic(d, state)
	case KindMetronome:
		p, err = newMetronome(d, now, state)
	case KindPermutation:
		p, err = newPermutation(d, env, state)
	case KindProximity:
		p, err = newProximity(d, env, state)
	case KindRadioButton:
		p, err = newRadioButton(d, env, state)
	case KindRealmSelector:
		p, err = newRealmSelector(d, state)
	case KindSink:
		p, err = newSink(d, state)
	case KindSwitch:
		p, err = newSwitch(d, state)
	case KindTimer:
		p, err = newTimer(d, now, state)
	default:
		return nil, fmt.Errorf("piece %d: unknown kind %q", d.ID, d.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("piece %d (%s): %w", d.ID, d.Kind, err)
	}
	return p, nil
}

// inert provides the no-op defaults most pieces share.
type inert struct{}

func (inert) Accept(Command, Value, time.Time) []Output { return nil }

func (inert) Interact(Interaction, *uint8) (InteractionResult, []SimpleEvent) {
	return InteractionInvalid, nil
}
func (inert) Tick(time.Time) []SimpleEvent             { return nil }
func (inert) Next(time.Time) (time.Time, bool)         { return time.Time{}, false }
func (inert) Reset() []SimpleEvent                     { return nil }
func (inert) Walk(PlayerKey, *uint8, NavEvent) []SimpleEvent { return nil }
func (inert) Property() (Value, bool)                  { return Value{}, false }
