package puzzle

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// buffer is a typed FIFO of fixed capacity. Inserting into a full
// buffer evicts the oldest element.
type buffer struct {
	inert
	items    []Value
	capacity int
	elem     ListType
	id       uint32
	env      *Env
	reseeds  uint64
}

type bufferState struct {
	Items   []Value `msgpack:"items"`
	Reseeds uint64  `msgpack:"reseeds"`
}

func newBuffer(d Def, env *Env, state []byte) (Piece, error) {
	if !d.ValueType.valid() {
		return nil, fmt.Errorf("buffer cannot hold %q values", d.ValueType)
	}
	if d.Capacity == 0 {
		return nil, fmt.Errorf("buffer requires a non-zero capacity")
	}
	b := &buffer{capacity: int(d.Capacity), elem: d.ValueType, id: d.ID, env: env}
	if state != nil {
		var saved bufferState
		if err := msgpack.Unmarshal(state, &saved); err != nil {
			return nil, err
		}
		b.items, b.reseeds = saved.Items, saved.Reseeds
		if len(b.items) > b.capacity {
			b.items = b.items[:b.capacity]
		}
	}
	return b, nil
}

func (b *buffer) Accept(cmd Command, value Value, _ time.Time) []Output {
	switch {
	case cmd == CmdInsert:
		v, ok := b.elem.scalar(value)
		if !ok {
			return nil
		}
		b.items = append(b.items, v)
		for len(b.items) > b.capacity {
			b.items = b.items[1:]
		}
		return []Output{
			EventOutput(EventChanged, b.elem.collect(b.items)),
			EventOutput(EventSelected, v),
		}
	case cmd == CmdClear && value.IsEmpty():
		b.items = nil
		return []Output{
			EventOutput(EventChanged, b.elem.collect(nil)),
			EventOutput(EventCleared, EmptyValue()),
		}
	case cmd == CmdToggle && value.IsEmpty() && len(b.items) > 0:
		rng := b.env.Rand(b.id, b.reseeds)
		b.reseeds++
		rng.Shuffle(len(b.items), func(i, j int) {
			b.items[i], b.items[j] = b.items[j], b.items[i]
		})
		return []Output{EventOutput(EventChanged, b.elem.collect(b.items))}
	}
	return nil
}

func (b *buffer) State() (any, error) {
	return bufferState{Items: b.items, Reseeds: b.reseeds}, nil
}
