package puzzle

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

type toggleSwitch struct {
	inert
	state   bool
	enabled bool
	matcher MarkMatcher
}

type switchState struct {
	State   bool `msgpack:"state"`
	Enabled bool `msgpack:"enabled"`
}

func newSwitch(d Def, state []byte) (Piece, error) {
	s := &toggleSwitch{state: d.InitialOn, enabled: d.Enabled, matcher: d.Matcher}
	if state != nil {
		var saved switchState
		if err := msgpack.Unmarshal(state, &saved); err != nil {
			return nil, err
		}
		s.state, s.enabled = saved.State, saved.Enabled
	}
	return s, nil
}

func (s *toggleSwitch) Accept(cmd Command, value Value, _ time.Time) []Output {
	enabled, state := s.enabled, s.state
	switch {
	case cmd == CmdDown && value.IsEmpty():
		state = true
	case cmd == CmdUp && value.IsEmpty():
		state = false
	case cmd == CmdToggle && value.IsEmpty():
		state = !s.state
	case cmd == CmdEnable && value.IsEmpty():
		enabled = true
	case cmd == CmdDisable && value.IsEmpty():
		enabled = false
	case cmd == CmdSet && value.Kind == KindBool:
		state = value.Bool
	case cmd == CmdEnable && value.Kind == KindBool:
		enabled = value.Bool
	}
	var out []Output
	if enabled != s.enabled {
		s.enabled = enabled
		out = append(out, EventOutput(EventSensitive, BoolValue(s.enabled)))
	}
	if state != s.state {
		s.state = state
		out = append(out, EventOutput(EventChanged, BoolValue(s.state)))
	}
	return out
}

func (s *toggleSwitch) Interact(i Interaction, mark *uint8) (InteractionResult, []SimpleEvent) {
	if i.Kind != InteractClick {
		return InteractionInvalid, nil
	}
	if !s.enabled || !s.matcher.Matches(mark) {
		return InteractionFailed, nil
	}
	s.state = !s.state
	return InteractionAccepted, []SimpleEvent{{Event: EventChanged, Value: BoolValue(s.state)}}
}

func (s *toggleSwitch) State() (any, error) {
	return switchState{State: s.state, Enabled: s.enabled}, nil
}
