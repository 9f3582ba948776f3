package puzzle

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

type counter struct {
	inert
	value uint32
	max   uint32
}

func newCounter(d Def, state []byte) (Piece, error) {
	c := &counter{value: 0, max: d.Max}
	if state != nil {
		if err := msgpack.Unmarshal(state, &c.value); err != nil {
			return nil, err
		}
		if c.value > c.max {
			c.value = c.max
		}
	}
	return c, nil
}

func (c *counter) Accept(cmd Command, value Value, _ time.Time) []Output {
	next := c.value
	switch {
	case cmd == CmdUp && value.IsEmpty():
		if c.value < c.max {
			next = c.value + 1
		}
	case cmd == CmdDown && value.IsEmpty():
		if c.value > 0 {
			next = c.value - 1
		}
	case cmd == CmdUp && value.Kind == KindNum:
		if uint64(c.value)+uint64(value.Num) > uint64(c.max) {
			next = c.max
		} else {
			next = c.value + value.Num
		}
	case cmd == CmdDown && value.Kind == KindNum:
		if c.value < value.Num {
			next = 0
		} else {
			next = c.value - value.Num
		}
	case cmd == CmdSet && value.IsEmpty():
		next = 0
	case cmd == CmdSet && value.Kind == KindNum:
		next = value.Num
		if next > c.max {
			next = c.max
		}
	}
	if next == c.value {
		return nil
	}
	c.value = next
	out := []Output{EventOutput(EventChanged, NumValue(c.value))}
	switch c.value {
	case 0:
		out = append(out, EventOutput(EventAtMin, EmptyValue()))
	case c.max:
		out = append(out, EventOutput(EventAtMax, EmptyValue()))
	}
	return out
}

func (c *counter) State() (any, error) { return c.value, nil }
