package puzzle

import (
	"math"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

type timer struct {
	inert
	frequency uint32
	counter   uint32
	next      time.Time
}

type timerState struct {
	Frequency uint32 `msgpack:"frequency"`
	Counter   uint32 `msgpack:"counter"`
}

func newTimer(d Def, now time.Time, state []byte) (Piece, error) {
	t := &timer{frequency: d.Frequency, counter: d.Initial}
	if state != nil {
		var saved timerState
		if err := msgpack.Unmarshal(state, &saved); err != nil {
			return nil, err
		}
		t.frequency, t.counter = saved.Frequency, saved.Counter
	}
	t.next = now.Add(time.Duration(t.frequency) * time.Second)
	return t, nil
}

func (t *timer) Accept(cmd Command, value Value, _ time.Time) []Output {
	switch {
	case cmd == CmdFrequency && value.Kind == KindNum:
		t.frequency = value.Num
	case cmd == CmdSet && value.Kind == KindNum:
		t.counter = value.Num
	case cmd == CmdUp && value.IsEmpty():
		if t.counter < math.MaxUint32 {
			t.counter++
		}
	case cmd == CmdUp && value.Kind == KindNum:
		if uint64(t.counter)+uint64(value.Num) > math.MaxUint32 {
			t.counter = math.MaxUint32
		} else {
			t.counter += value.Num
		}
	case cmd == CmdDown && value.IsEmpty():
		if t.counter > 0 {
			t.counter--
		}
	case cmd == CmdDown && value.Kind == KindNum:
		if t.counter < value.Num {
			t.counter = 0
		} else {
			t.counter -= value.Num
		}
	}
	return nil
}

func (t *timer) Tick(now time.Time) []SimpleEvent {
	fired := !now.Before(t.next)
	step := time.Duration(max(t.frequency, 1)) * time.Second
	for !t.next.After(now) {
		t.next = t.next.Add(step)
	}
	if !fired || t.counter == 0 {
		return nil
	}
	t.counter--
	out := []SimpleEvent{{Event: EventChanged, Value: NumValue(t.counter)}}
	if t.counter == 0 {
		out = append(out, SimpleEvent{Event: EventAtMin, Value: EmptyValue()})
	}
	return out
}

func (t *timer) Next(time.Time) (time.Time, bool) {
	if t.counter == 0 {
		return time.Time{}, false
	}
	return t.next, true
}

func (t *timer) State() (any, error) {
	return timerState{Frequency: t.frequency, Counter: t.counter}, nil
}
