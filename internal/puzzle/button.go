package puzzle

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

type button struct {
	inert
	enabled bool
	matcher MarkMatcher
}

func newButton(d Def, state []byte) (Piece, error) {
	b := &button{enabled: d.Enabled, matcher: d.Matcher}
	if state != nil {
		if err := msgpack.Unmarshal(state, &b.enabled); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *button) Accept(cmd Command, value Value, _ time.Time) []Output {
	next := b.enabled
	switch {
	case cmd == CmdEnable && value.IsEmpty():
		next = true
	case cmd == CmdDisable && value.IsEmpty():
		next = false
	case cmd == CmdEnable && value.Kind == KindBool:
		next = value.Bool
	}
	if next == b.enabled {
		return nil
	}
	b.enabled = next
	return []Output{EventOutput(EventSensitive, BoolValue(b.enabled))}
}

func (b *button) Interact(i Interaction, mark *uint8) (InteractionResult, []SimpleEvent) {
	if i.Kind != InteractClick {
		return InteractionInvalid, nil
	}
	if !b.enabled || !b.matcher.Matches(mark) {
		return InteractionFailed, nil
	}
	return InteractionAccepted, []SimpleEvent{{Event: EventChanged, Value: EmptyValue()}}
}

func (b *button) State() (any, error) { return b.enabled, nil }
