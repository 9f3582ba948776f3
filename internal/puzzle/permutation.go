package puzzle

import (
	"errors"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// permutation holds a shuffled arrangement of [0, length). Reshuffles
// derive from the realm seed so every server replaying the journal
// reaches the same arrangement.
type permutation struct {
	inert
	pbox     []uint32
	selected uint32
	id       uint32
	env      *Env
	reseeds  uint64
}

type permutationState struct {
	PBox     []uint32 `msgpack:"pbox"`
	Selected uint32   `msgpack:"selected"`
	Reseeds  uint64   `msgpack:"reseeds"`
}

func newPermutation(d Def, env *Env, state []byte) (Piece, error) {
	if d.Length == 0 {
		return nil, errors.New("permutation requires a non-zero length")
	}
	p := &permutation{id: d.ID, env: env}
	if state != nil {
		var saved permutationState
		if err := msgpack.Unmarshal(state, &saved); err != nil {
			return nil, err
		}
		p.pbox, p.selected, p.reseeds = saved.PBox, saved.Selected, saved.Reseeds
		if len(p.pbox) != int(d.Length) {
			return nil, errors.New("journalled permutation has the wrong length")
		}
	} else {
		p.pbox = make([]uint32, d.Length)
		for i := range p.pbox {
			p.pbox[i] = uint32(i)
		}
		p.shuffle()
	}
	return p, nil
}

func (p *permutation) shuffle() {
	rng := p.env.Rand(p.id, p.reseeds)
	p.reseeds++
	rng.Shuffle(len(p.pbox), func(i, j int) {
		p.pbox[i], p.pbox[j] = p.pbox[j], p.pbox[i]
	})
}

func (p *permutation) Accept(cmd Command, value Value, _ time.Time) []Output {
	if cmd != CmdSet {
		return nil
	}
	switch value.Kind {
	case KindEmpty:
		p.shuffle()
		return []Output{
			EventOutput(EventChanged, NumListValue(append([]uint32(nil), p.pbox...))),
			EventOutput(EventSelected, NumValue(p.pbox[p.selected])),
		}
	case KindNum:
		next := value.Num
		if next >= uint32(len(p.pbox)) {
			next = uint32(len(p.pbox)) - 1
		}
		if next == p.selected {
			return nil
		}
		p.selected = next
		return []Output{EventOutput(EventSelected, NumValue(p.pbox[p.selected]))}
	}
	return nil
}

func (p *permutation) State() (any, error) {
	return permutationState{PBox: p.pbox, Selected: p.selected, Reseeds: p.reseeds}, nil
}
