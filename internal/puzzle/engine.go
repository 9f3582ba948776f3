package puzzle

import (
	"fmt"
	"log"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// DefaultEventBudget bounds the number of enqueued commands a single
// stimulus may cause before the realm is declared broken.
const DefaultEventBudget = 10000

// Send is a request to move players along a link.
type Send struct {
	Link    Link
	Players []PlayerKey
}

// MarkOp mutates player marks.
type MarkOp uint8

const (
	MarkSet MarkOp = iota + 1
	MarkClear
	MarkBitSet
	MarkBitClear
	MarkBitToggle
)

type MarkEffect struct {
	Op      MarkOp
	Mark    uint8
	Players []PlayerKey
}

// Effects is everything a stimulus produced beyond internal piece
// state: player movement, mark changes, and the consequence diffs.
type Effects struct {
	Sends      []Send
	Marks      []MarkEffect
	Properties map[string]Value
	Gates      map[string]bool
	Debut      bool
	Broken     bool
}

func (e Effects) empty() bool {
	return len(e.Sends) == 0 && len(e.Marks) == 0 && len(e.Properties) == 0 &&
		len(e.Gates) == 0 && !e.Debut && !e.Broken
}

type senderEvent struct {
	Sender uint32
	Event  Event
}

// Engine runs one realm's puzzle network: pieces wired by propagation
// rules, evaluated to a bounded fixpoint per stimulus. It is not safe
// for concurrent use; the realm loop owns it.
type Engine struct {
	log    *log.Logger
	env    *Env
	budget int

	defs   map[uint32]Def
	pieces map[uint32]Piece
	rules  map[senderEvent][]PropagationRule
	conseq []ConsequenceRule

	lastEvent  map[senderEvent]Value
	properties map[string]Value
	gates      map[string]bool

	settings SettingLookup
	broken   bool
}

// Config assembles an engine from a realm template.
type Config struct {
	Seed         int64
	Budget       int
	Pieces       []Def
	Propagation  []PropagationRule
	Consequences []ConsequenceRule
	Settings     SettingLookup
	Log          *log.Logger
}

// NewEngine creates a fresh engine. States, when non-nil, supplies the
// journalled per-piece state to resume from.
func NewEngine(cfg Config, states map[uint32][]byte, now time.Time) (*Engine, error) {
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultEventBudget
	}
	e := &Engine{
		log:        cfg.Log,
		env:        NewEnv(cfg.Seed),
		budget:     cfg.Budget,
		defs:       make(map[uint32]Def, len(cfg.Pieces)),
		pieces:     make(map[uint32]Piece, len(cfg.Pieces)),
		rules:      map[senderEvent][]PropagationRule{},
		conseq:     cfg.Consequences,
		lastEvent:  map[senderEvent]Value{},
		properties: map[string]Value{},
		gates:      map[string]bool{},
		settings:   cfg.Settings,
	}
	for _, d := range cfg.Pieces {
		if _, dup := e.defs[d.ID]; dup {
			return nil, fmt.Errorf("duplicate piece id %d", d.ID)
		}
		var p Piece
		var err error
		if states != nil {
			p, err = d.Load(states[d.ID], now, e.env)
		} else {
			p, err = d.Create(now, e.env)
		}
		if err != nil {
			return nil, err
		}
		e.defs[d.ID] = d
		e.pieces[d.ID] = p
	}
	for _, r := range cfg.Propagation {
		if _, ok := e.pieces[r.Sender]; !ok {
			return nil, fmt.Errorf("propagation rule names unknown sender %d", r.Sender)
		}
		if _, ok := e.pieces[r.Recipient]; !ok {
			return nil, fmt.Errorf("propagation rule names unknown recipient %d", r.Recipient)
		}
		key := senderEvent{Sender: r.Sender, Event: r.Trigger}
		e.rules[key] = append(e.rules[key], r)
	}
	for _, c := range cfg.Consequences {
		if _, ok := e.pieces[c.Sender]; !ok {
			return nil, fmt.Errorf("consequence rule names unknown sender %d", c.Sender)
		}
	}
	return e, nil
}

// Broken reports whether a budget overrun has wedged the network.
func (e *Engine) Broken() bool { return e.broken }

// Snapshot serialises the per-piece state for the journal.
func (e *Engine) Snapshot() (map[uint32][]byte, error) {
	out := make(map[uint32][]byte, len(e.pieces))
	for id, p := range e.pieces {
		st, err := p.State()
		if err != nil {
			return nil, fmt.Errorf("piece %d: %w", id, err)
		}
		raw, err := msgpack.Marshal(st)
		if err != nil {
			return nil, fmt.Errorf("piece %d: %w", id, err)
		}
		out[id] = raw
	}
	return out, nil
}

// Command delivers an external stimulus to one piece and runs the
// network to a fixpoint.
func (e *Engine) Command(target uint32, cmd Command, value Value, now time.Time) Effects {
	if e.broken {
		return Effects{Broken: true}
	}
	if _, ok := e.pieces[target]; !ok {
		return Effects{}
	}
	return e.run([]queued{{target: target, cmd: cmd, value: value}}, nil, now)
}

// Interact applies a player gesture, then propagates its events.
func (e *Engine) Interact(target uint32, i Interaction, mark *uint8, now time.Time) (InteractionResult, Effects) {
	if e.broken {
		return InteractionFailed, Effects{Broken: true}
	}
	p, ok := e.pieces[target]
	if !ok {
		return InteractionInvalid, Effects{}
	}
	result, events := p.Interact(i, mark)
	if len(events) == 0 {
		return result, Effects{}
	}
	return result, e.run(nil, e.emitted(target, events), now)
}

// Walk reports a boundary crossing to one piece and propagates.
func (e *Engine) Walk(target uint32, player PlayerKey, mark *uint8, ev NavEvent, now time.Time) Effects {
	if e.broken {
		return Effects{Broken: true}
	}
	p, ok := e.pieces[target]
	if !ok {
		return Effects{}
	}
	events := p.Walk(player, mark, ev)
	if len(events) == 0 {
		return Effects{}
	}
	return e.run(nil, e.emitted(target, events), now)
}

// Tick fires every piece whose schedule has come due and propagates
// the results as one stimulus.
func (e *Engine) Tick(now time.Time) Effects {
	if e.broken {
		return Effects{Broken: true}
	}
	var pending []pieceEvents
	for _, id := range e.order() {
		p := e.pieces[id]
		if next, ok := p.Next(now); !ok || next.After(now) {
			continue
		}
		if events := p.Tick(now); len(events) > 0 {
			pending = append(pending, pieceEvents{id: id, events: events})
		}
	}
	if len(pending) == 0 {
		return Effects{}
	}
	var initial []emittedEvent
	for _, pe := range pending {
		initial = append(initial, e.emitted(pe.id, pe.events)...)
	}
	return e.run(nil, initial, now)
}

// NextTick reports the earliest scheduled piece deadline.
func (e *Engine) NextTick(now time.Time) (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, p := range e.pieces {
		next, ok := p.Next(now)
		if !ok {
			continue
		}
		if !found || next.Before(earliest) {
			earliest = next
			found = true
		}
	}
	return earliest, found
}

// ResetAll replays each piece's reset events through the network,
// rebuilding derived state after a journal reload.
func (e *Engine) ResetAll(now time.Time) Effects {
	if e.broken {
		return Effects{Broken: true}
	}
	var initial []emittedEvent
	for _, id := range e.order() {
		initial = append(initial, e.emitted(id, e.pieces[id].Reset())...)
	}
	if len(initial) == 0 {
		return e.finish(Effects{})
	}
	return e.run(nil, initial, now)
}

type queued struct {
	target uint32
	cmd    Command
	value  Value
}

type emittedEvent struct {
	sender uint32
	event  Event
	value  Value
}

type pieceEvents struct {
	id     uint32
	events []SimpleEvent
}

func (e *Engine) emitted(sender uint32, events []SimpleEvent) []emittedEvent {
	out := make([]emittedEvent, len(events))
	for i, ev := range events {
		out[i] = emittedEvent{sender: sender, event: ev.Event, value: ev.Value}
	}
	return out
}

func (e *Engine) order() []uint32 {
	ids := make([]uint32, 0, len(e.pieces))
	for id := range e.pieces {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}

type engineCheckpoint struct {
	states    map[uint32][]byte
	lastEvent map[senderEvent]Value
	radios    map[string]RadioState
}

func (e *Engine) checkpoint() (engineCheckpoint, error) {
	states, err := e.Snapshot()
	if err != nil {
		return engineCheckpoint{}, err
	}
	cp := engineCheckpoint{
		states:    states,
		lastEvent: make(map[senderEvent]Value, len(e.lastEvent)),
		radios:    make(map[string]RadioState, len(e.env.radios)),
	}
	for k, v := range e.lastEvent {
		cp.lastEvent[k] = v
	}
	for name, r := range e.env.radios {
		cp.radios[name] = *r
	}
	return cp, nil
}

func (e *Engine) restore(cp engineCheckpoint, now time.Time) error {
	for id, d := range e.defs {
		p, err := d.Load(cp.states[id], now, e.env)
		if err != nil {
			return err
		}
		e.pieces[id] = p
	}
	e.lastEvent = cp.lastEvent
	for name, saved := range cp.radios {
		if r, ok := e.env.radios[name]; ok {
			*r = saved
		}
	}
	return nil
}

// run evaluates the network to a fixpoint. The queue is ordered by
// ascending target piece id, FIFO within a piece.
func (e *Engine) run(initial []queued, events []emittedEvent, now time.Time) Effects {
	cp, err := e.checkpoint()
	if err != nil {
		if e.log != nil {
			e.log.Printf("puzzle state snapshot failed: %v", err)
		}
		e.broken = true
		return Effects{Broken: true}
	}

	var fx Effects
	queue := append([]queued(nil), initial...)
	enqueued := len(initial)
	overrun := false

	propagate := func(ev emittedEvent) bool {
		key := senderEvent{Sender: ev.sender, Event: ev.event}
		e.lastEvent[key] = ev.value
		if ev.event == EventChanged {
			if b, ok := ev.value.AsBool(); ok && b {
				for _, c := range e.conseq {
					if c.Sender == ev.sender && c.Trigger == ev.event && c.Target == ConsequenceDebut {
						fx.Debut = true
					}
				}
			}
		}
		for _, r := range e.rules[key] {
			payload, ok := r.Transformer.Apply(ev.value, e.settings)
			if !ok {
				continue
			}
			enqueued++
			if enqueued > e.budget {
				return false
			}
			queue = append(queue, queued{target: r.Recipient, cmd: r.Causes, value: payload})
		}
		return true
	}

	for _, ev := range events {
		if !propagate(ev) {
			overrun = true
			break
		}
	}

	for !overrun && len(queue) > 0 {
		next := 0
		for i := 1; i < len(queue); i++ {
			if queue[i].target < queue[next].target {
				next = i
			}
		}
		item := queue[next]
		queue = append(queue[:next], queue[next+1:]...)

		outputs := e.pieces[item.target].Accept(item.cmd, item.value, now)
		for _, out := range outputs {
			switch out.Kind {
			case OutputEventKind:
				if !propagate(emittedEvent{sender: item.target, event: out.Event, value: out.Value}) {
					overrun = true
				}
			case OutputSend:
				fx.Sends = append(fx.Sends, Send{Link: out.Link, Players: out.Players})
			case OutputMark:
				fx.Marks = append(fx.Marks, MarkEffect{Op: MarkSet, Mark: out.Mark, Players: out.Players})
			case OutputUnmark:
				fx.Marks = append(fx.Marks, MarkEffect{Op: MarkClear, Players: out.Players})
			case OutputBitSet:
				fx.Marks = append(fx.Marks, MarkEffect{Op: MarkBitSet, Mark: out.Mark, Players: out.Players})
			case OutputBitClear:
				fx.Marks = append(fx.Marks, MarkEffect{Op: MarkBitClear, Mark: out.Mark, Players: out.Players})
			case OutputBitToggle:
				fx.Marks = append(fx.Marks, MarkEffect{Op: MarkBitToggle, Mark: out.Mark, Players: out.Players})
			}
			if overrun {
				break
			}
		}
	}

	if overrun {
		if restoreErr := e.restore(cp, now); restoreErr != nil && e.log != nil {
			e.log.Printf("puzzle rollback failed: %v", restoreErr)
		}
		e.broken = true
		if e.log != nil {
			e.log.Printf("puzzle event budget (%d) exceeded, network marked broken", e.budget)
		}
		return Effects{Broken: true}
	}

	return e.finish(fx)
}

// finish re-evaluates consequence rules and folds the diffs into fx.
func (e *Engine) finish(fx Effects) Effects {
	for _, c := range e.conseq {
		switch c.Target {
		case ConsequenceProperty:
			value, ok := e.pieces[c.Sender].Property()
			if !ok {
				value, ok = e.lastEvent[senderEvent{Sender: c.Sender, Event: c.Trigger}]
			}
			if !ok {
				continue
			}
			if prev, seen := e.properties[c.Name]; !seen || !prev.Equal(value) {
				e.properties[c.Name] = value
				if fx.Properties == nil {
					fx.Properties = map[string]Value{}
				}
				fx.Properties[c.Name] = value
			}
		case ConsequenceGate:
			open := false
			v, ok := e.pieces[c.Sender].Property()
			if !ok {
				v, ok = e.lastEvent[senderEvent{Sender: c.Sender, Event: c.Trigger}]
			}
			if ok {
				if b, isBool := v.AsBool(); isBool {
					open = b
				}
			}
			if prev, seen := e.gates[c.Name]; !seen || prev != open {
				e.gates[c.Name] = open
				if fx.Gates == nil {
					fx.Gates = map[string]bool{}
				}
				fx.Gates[c.Name] = open
			}
		}
	}
	return fx
}

// Properties returns the currently published property values.
func (e *Engine) Properties() map[string]Value {
	out := make(map[string]Value, len(e.properties))
	for k, v := range e.properties {
		out[k] = v
	}
	return out
}

// Gates returns the current gate states. Gates not yet driven by any
// event are closed.
func (e *Engine) Gates() map[string]bool {
	out := make(map[string]bool, len(e.gates))
	for k, v := range e.gates {
		out[k] = v
	}
	return out
}

// GateOpen reports one gate's state.
func (e *Engine) GateOpen(name string) bool { return e.gates[name] }
