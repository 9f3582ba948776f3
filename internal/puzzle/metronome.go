package puzzle

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

type metronome struct {
	inert
	frequency uint32
	next      time.Time
}

func newMetronome(d Def, now time.Time, state []byte) (Piece, error) {
	m := &metronome{frequency: d.Frequency}
	if state != nil {
		if err := msgpack.Unmarshal(state, &m.frequency); err != nil {
			return nil, err
		}
	}
	m.next = now.Add(time.Duration(m.frequency) * time.Second)
	return m, nil
}

func (m *metronome) Accept(cmd Command, value Value, _ time.Time) []Output {
	if cmd == CmdFrequency && value.Kind == KindNum {
		m.frequency = value.Num
	}
	return nil
}

func (m *metronome) Tick(now time.Time) []SimpleEvent {
	fired := !now.Before(m.next)
	step := time.Duration(max(m.frequency, 1)) * time.Second
	for !m.next.After(now) {
		m.next = m.next.Add(step)
	}
	if !fired {
		return nil
	}
	return []SimpleEvent{{Event: EventCleared, Value: EmptyValue()}}
}

func (m *metronome) Next(time.Time) (time.Time, bool) { return m.next, true }

func (m *metronome) State() (any, error) { return m.frequency, nil }
