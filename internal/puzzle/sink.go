package puzzle

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// sink holds the latest Set value and publishes it as the realm
// property named by its definition.
type sink struct {
	inert
	value Value
	elem  ListType
	name  string
}

func newSink(d Def, state []byte) (Piece, error) {
	if d.ValueType != ListBool && d.ValueType != ListNum {
		return nil, fmt.Errorf("sink cannot publish %q values", d.ValueType)
	}
	s := &sink{elem: d.ValueType, name: d.Name}
	switch d.ValueType {
	case ListBool:
		s.value = BoolValue(false)
	case ListNum:
		s.value = NumValue(0)
	}
	if state != nil {
		if err := msgpack.Unmarshal(state, &s.value); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *sink) Accept(cmd Command, value Value, _ time.Time) []Output {
	if cmd != CmdSet {
		return nil
	}
	if v, ok := s.elem.scalar(value); ok {
		s.value = v
	}
	return nil
}

func (s *sink) Property() (Value, bool) { return s.value, true }

func (s *sink) State() (any, error) { return s.value, nil }
