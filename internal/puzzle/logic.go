package puzzle

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

type logicOp string

const (
	logicAnd  logicOp = "and"
	logicOr   logicOp = "or"
	logicXor  logicOp = "xor"
	logicNAnd logicOp = "nand"
	logicNOr  logicOp = "nor"
)

func (op logicOp) perform(left, right bool) bool {
	switch op {
	case logicAnd:
		return left && right
	case logicOr:
		return left || right
	case logicXor:
		return left != right
	case logicNAnd:
		return !(left && right)
	case logicNOr:
		return !(left || right)
	default:
		return false
	}
}

type logic struct {
	inert
	left, right bool
	op          logicOp
}

type pairState[T any] struct {
	Left  T `msgpack:"left"`
	Right T `msgpack:"right"`
}

func newLogic(d Def, state []byte) (Piece, error) {
	op := logicOp(d.Operation)
	switch op {
	case logicAnd, logicOr, logicXor, logicNAnd, logicNOr:
	default:
		return nil, fmt.Errorf("unknown logic operation %q", d.Operation)
	}
	l := &logic{op: op}
	if state != nil {
		var saved pairState[bool]
		if err := msgpack.Unmarshal(state, &saved); err != nil {
			return nil, err
		}
		l.left, l.right = saved.Left, saved.Right
	}
	return l, nil
}

func (l *logic) Accept(cmd Command, value Value, _ time.Time) []Output {
	b, ok := value.AsBool()
	if !ok {
		return nil
	}
	old := l.op.perform(l.left, l.right)
	switch cmd {
	case CmdSetLeft:
		l.left = b
	case CmdSetRight:
		l.right = b
	default:
		return nil
	}
	next := l.op.perform(l.left, l.right)
	if next == old {
		return nil
	}
	return []Output{EventOutput(EventChanged, BoolValue(next))}
}

func (l *logic) State() (any, error) {
	return pairState[bool]{Left: l.left, Right: l.right}, nil
}
