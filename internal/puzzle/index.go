package puzzle

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// index selects one element out of a replaceable list.
type index struct {
	inert
	items    []Value
	selected uint32
	elem     ListType
}

type indexState struct {
	Items    []Value `msgpack:"items"`
	Selected uint32  `msgpack:"selected"`
}

func newIndex(d Def, state []byte) (Piece, error) {
	if !d.ValueType.valid() {
		return nil, fmt.Errorf("index cannot hold %q values", d.ValueType)
	}
	ix := &index{elem: d.ValueType}
	if state != nil {
		var saved indexState
		if err := msgpack.Unmarshal(state, &saved); err != nil {
			return nil, err
		}
		ix.items, ix.selected = saved.Items, saved.Selected
	}
	return ix, nil
}

func (ix *index) Accept(cmd Command, value Value, _ time.Time) []Output {
	changed := false
	switch cmd {
	case CmdInsert:
		if items, ok := ix.elem.list(value); ok {
			ix.items = items
			changed = true
		}
	case CmdSet:
		if n, ok := value.AsNum(); ok {
			ix.selected = n
			changed = true
		}
	}
	if !changed {
		return nil
	}
	out := EmptyValue()
	if int(ix.selected) < len(ix.items) {
		out = ix.items[ix.selected]
	}
	return []Output{EventOutput(EventChanged, out)}
}

func (ix *index) State() (any, error) {
	return indexState{Items: ix.items, Selected: ix.selected}, nil
}

// indexList selects several elements by modular index.
type indexList struct {
	inert
	items    []Value
	selected []uint32
	elem     ListType
}

type indexListState struct {
	Items    []Value  `msgpack:"items"`
	Selected []uint32 `msgpack:"selected"`
}

func newIndexList(d Def, state []byte) (Piece, error) {
	if !d.ValueType.valid() {
		return nil, fmt.Errorf("index list cannot hold %q values", d.ValueType)
	}
	ix := &indexList{elem: d.ValueType}
	if state != nil {
		var saved indexListState
		if err := msgpack.Unmarshal(state, &saved); err != nil {
			return nil, err
		}
		ix.items, ix.selected = saved.Items, saved.Selected
	}
	return ix, nil
}

func (ix *indexList) Accept(cmd Command, value Value, _ time.Time) []Output {
	changed := false
	switch cmd {
	case CmdInsert:
		if items, ok := ix.elem.list(value); ok {
			ix.items = items
			changed = true
		}
	case CmdSet:
		if value.Kind == KindNumList {
			ix.selected = append([]uint32(nil), value.Nums...)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	if len(ix.items) == 0 {
		return []Output{EventOutput(EventChanged, EmptyValue())}
	}
	picked := make([]Value, len(ix.selected))
	for i, s := range ix.selected {
		picked[i] = ix.items[int(s)%len(ix.items)]
	}
	return []Output{EventOutput(EventChanged, ix.elem.collect(picked))}
}

func (ix *indexList) State() (any, error) {
	return indexListState{Items: ix.items, Selected: ix.selected}, nil
}
