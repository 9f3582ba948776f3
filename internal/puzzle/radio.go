package puzzle

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// radioButton participates in a named channel shared by all buttons
// with the same name: clicking one selects its value for the group.
type radioButton struct {
	inert
	matcher MarkMatcher
	shared  *RadioState
	value   uint32
}

type radioState struct {
	Current uint32 `msgpack:"current"`
	Enabled bool   `msgpack:"enabled"`
}

func newRadioButton(d Def, env *Env, state []byte) (Piece, error) {
	initial, enabled := d.Initial, d.Enabled
	if state != nil {
		var saved radioState
		if err := msgpack.Unmarshal(state, &saved); err != nil {
			return nil, err
		}
		initial, enabled = saved.Current, saved.Enabled
	}
	return &radioButton{
		matcher: d.Matcher,
		shared:  env.Radio(d.Name, initial, enabled),
		value:   d.Value,
	}, nil
}

func (r *radioButton) Accept(cmd Command, value Value, _ time.Time) []Output {
	var enabled bool
	switch {
	case cmd == CmdEnable && value.IsEmpty():
		enabled = true
	case cmd == CmdDisable && value.IsEmpty():
		enabled = false
	case cmd == CmdEnable && value.Kind == KindBool:
		enabled = value.Bool
	default:
		return nil
	}
	if r.shared.Enabled == enabled {
		return nil
	}
	r.shared.Enabled = enabled
	return []Output{EventOutput(EventSensitive, BoolValue(enabled))}
}

func (r *radioButton) Interact(i Interaction, mark *uint8) (InteractionResult, []SimpleEvent) {
	if i.Kind != InteractClick {
		return InteractionInvalid, nil
	}
	if !r.matcher.Matches(mark) || !r.shared.Enabled || r.shared.Value == r.value {
		return InteractionFailed, nil
	}
	r.shared.Value = r.value
	return InteractionAccepted, []SimpleEvent{{Event: EventChanged, Value: NumValue(r.value)}}
}

func (r *radioButton) State() (any, error) {
	return radioState{Current: r.shared.Value, Enabled: r.shared.Enabled}, nil
}
