package puzzle

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// comparator compares two inputs of a single type; bools order as
// false < true.
type comparator struct {
	inert
	left, right uint32
	op          ComparisonOp
	valueType   ListType
}

func newComparator(d Def, state []byte) (Piece, error) {
	op := ComparisonOp(d.Operation)
	switch op {
	case CompareNotEqual, CompareEqual, CompareLessThanOrEqual, CompareLessThan,
		CompareGreaterThanOrEqual, CompareGreaterThan:
	default:
		return nil, fmt.Errorf("unknown comparator operation %q", d.Operation)
	}
	if d.ValueType != ListBool && d.ValueType != ListNum {
		return nil, fmt.Errorf("comparator cannot compare %q values", d.ValueType)
	}
	c := &comparator{op: op, valueType: d.ValueType}
	if state != nil {
		var saved pairState[uint32]
		if err := msgpack.Unmarshal(state, &saved); err != nil {
			return nil, err
		}
		c.left, c.right = saved.Left, saved.Right
	}
	return c, nil
}

func (c *comparator) operand(v Value) (uint32, bool) {
	switch c.valueType {
	case ListBool:
		if b, ok := v.AsBool(); ok {
			if b {
				return 1, true
			}
			return 0, true
		}
	case ListNum:
		if n, ok := v.AsNum(); ok {
			return n, true
		}
	}
	return 0, false
}

func (c *comparator) Accept(cmd Command, value Value, _ time.Time) []Output {
	n, ok := c.operand(value)
	if !ok {
		return nil
	}
	cmp := Comparison{Op: c.op}
	old := cmp.Compare(c.left, c.right)
	switch cmd {
	case CmdSetLeft:
		c.left = n
	case CmdSetRight:
		c.right = n
	default:
		return nil
	}
	next := cmp.Compare(c.left, c.right)
	if next == old {
		return nil
	}
	return []Output{EventOutput(EventChanged, BoolValue(next))}
}

func (c *comparator) State() (any, error) {
	return pairState[uint32]{Left: c.left, Right: c.right}, nil
}
