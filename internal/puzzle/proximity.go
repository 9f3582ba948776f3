package puzzle

import (
	"sort"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// proximity tracks which matching players stand in its area. Send
// commands eject the occupants; mark commands retag them.
type proximity struct {
	inert
	matcher MarkMatcher
	players map[PlayerKey]struct{}
	id      uint32
	env     *Env
	reseeds uint64
}

type proximityState struct {
	Reseeds uint64 `msgpack:"reseeds"`
}

// Occupancy is transient: a reloaded realm repopulates it from player
// positions, so only the reseed counter is journalled.
func newProximity(d Def, env *Env, state []byte) (Piece, error) {
	p := &proximity{matcher: d.Matcher, players: map[PlayerKey]struct{}{}, id: d.ID, env: env}
	if state != nil {
		var saved proximityState
		if err := msgpack.Unmarshal(state, &saved); err != nil {
			return nil, err
		}
		p.reseeds = saved.Reseeds
	}
	return p, nil
}

func (p *proximity) occupants() []PlayerKey {
	keys := make([]PlayerKey, 0, len(p.players))
	for k := range p.players {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (p *proximity) Accept(cmd Command, value Value, _ time.Time) []Output {
	switch {
	case cmd == CmdSend && value.Kind == KindLink:
		players := p.occupants()
		p.players = map[PlayerKey]struct{}{}
		return []Output{
			{Kind: OutputSend, Link: value.Link, Players: players},
			EventOutput(EventChanged, NumValue(0)),
		}
	case cmd == CmdSend && value.Kind == KindLinkList:
		if len(value.Links) == 0 {
			return nil
		}
		rng := p.env.Rand(p.id, p.reseeds)
		p.reseeds++
		var out []Output
		for _, player := range p.occupants() {
			link := value.Links[rng.Intn(len(value.Links))]
			out = append(out, Output{Kind: OutputSend, Link: link, Players: []PlayerKey{player}})
		}
		p.players = map[PlayerKey]struct{}{}
		return append(out, EventOutput(EventChanged, NumValue(0)))
	case (cmd == CmdClear || cmd == CmdSet) && value.IsEmpty():
		return []Output{{Kind: OutputUnmark, Players: p.occupants()}}
	case cmd == CmdSet && value.Kind == KindNum:
		mark := uint8(min(value.Num, 255))
		return []Output{{Kind: OutputMark, Mark: mark, Players: p.occupants()}}
	case cmd == CmdSet && value.Kind == KindNumList:
		var marks []uint8
		for _, n := range value.Nums {
			if n <= 255 {
				marks = append(marks, uint8(n))
			}
		}
		if len(marks) == 0 {
			return nil
		}
		var out []Output
		for i, player := range p.occupants() {
			out = append(out, Output{Kind: OutputMark, Mark: marks[i%len(marks)], Players: []PlayerKey{player}})
		}
		return out
	case cmd == CmdClear && value.Kind == KindNum:
		if value.Num > 7 {
			return nil
		}
		return []Output{{Kind: OutputBitClear, Mark: uint8(value.Num), Players: p.occupants()}}
	case cmd == CmdInsert && value.Kind == KindNum:
		if value.Num > 7 {
			return nil
		}
		return []Output{{Kind: OutputBitSet, Mark: uint8(value.Num), Players: p.occupants()}}
	case cmd == CmdToggle && value.Kind == KindNum:
		if value.Num > 7 {
			return nil
		}
		return []Output{{Kind: OutputBitToggle, Mark: uint8(value.Num), Players: p.occupants()}}
	}
	return nil
}

func (p *proximity) Walk(player PlayerKey, mark *uint8, ev NavEvent) []SimpleEvent {
	before := len(p.players)
	switch ev {
	case NavEnter:
		if p.matcher.Matches(mark) {
			p.players[player] = struct{}{}
		}
	case NavLeave:
		delete(p.players, player)
	}
	if len(p.players) == before {
		return nil
	}
	return []SimpleEvent{{Event: EventChanged, Value: NumValue(uint32(len(p.players)))}}
}

func (p *proximity) Reset() []SimpleEvent {
	return []SimpleEvent{{Event: EventChanged, Value: NumValue(uint32(len(p.players)))}}
}

func (p *proximity) State() (any, error) { return proximityState{Reseeds: p.reseeds}, nil }
