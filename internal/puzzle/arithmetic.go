package puzzle

import (
	"fmt"
	"math"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

type arithmeticOp string

const (
	arithAdd      arithmeticOp = "add"
	arithSubtract arithmeticOp = "subtract"
	arithMultiply arithmeticOp = "multiply"
	arithDivide   arithmeticOp = "divide"
	arithModulo   arithmeticOp = "modulo"
	arithAbsDiff  arithmeticOp = "absolute_difference"
)

// perform saturates instead of wrapping; division or modulo by zero
// yields zero.
func (op arithmeticOp) perform(left, right uint32) uint32 {
	switch op {
	case arithAdd:
		if sum := uint64(left) + uint64(right); sum > math.MaxUint32 {
			return math.MaxUint32
		} else {
			return uint32(sum)
		}
	case arithSubtract:
		if left < right {
			return 0
		}
		return left - right
	case arithMultiply:
		if prod := uint64(left) * uint64(right); prod > math.MaxUint32 {
			return math.MaxUint32
		} else {
			return uint32(prod)
		}
	case arithDivide:
		if right == 0 {
			return 0
		}
		return left / right
	case arithModulo:
		if right == 0 {
			return 0
		}
		return left % right
	case arithAbsDiff:
		if left > right {
			return left - right
		}
		return right - left
	default:
		return 0
	}
}

type arithmetic struct {
	inert
	left, right uint32
	op          arithmeticOp
}

func newArithmetic(d Def, state []byte) (Piece, error) {
	op := arithmeticOp(d.Operation)
	switch op {
	case arithAdd, arithSubtract, arithMultiply, arithDivide, arithModulo, arithAbsDiff:
	default:
		return nil, fmt.Errorf("unknown arithmetic operation %q", d.Operation)
	}
	a := &arithmetic{op: op}
	if state != nil {
		var saved pairState[uint32]
		if err := msgpack.Unmarshal(state, &saved); err != nil {
			return nil, err
		}
		a.left, a.right = saved.Left, saved.Right
	}
	return a, nil
}

func (a *arithmetic) Accept(cmd Command, value Value, _ time.Time) []Output {
	n, ok := value.AsNum()
	if !ok {
		return nil
	}
	old := a.op.perform(a.left, a.right)
	switch cmd {
	case CmdSetLeft:
		a.left = n
	case CmdSetRight:
		a.right = n
	default:
		return nil
	}
	next := a.op.perform(a.left, a.right)
	if next == old {
		return nil
	}
	return []Output{EventOutput(EventChanged, NumValue(next))}
}

func (a *arithmetic) State() (any, error) {
	return pairState[uint32]{Left: a.left, Right: a.right}, nil
}
