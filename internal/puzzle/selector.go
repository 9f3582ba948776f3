package puzzle

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// realmSelector lets a player pick a destination realm; the choice
// flows out as a Changed link event.
type realmSelector struct {
	inert
	matcher MarkMatcher
	realm   Link
}

func newRealmSelector(d Def, state []byte) (Piece, error) {
	s := &realmSelector{matcher: d.Matcher, realm: HomeLink()}
	if state != nil {
		if err := msgpack.Unmarshal(state, &s.realm); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *realmSelector) Accept(Command, Value, time.Time) []Output { return nil }

func (s *realmSelector) Interact(i Interaction, mark *uint8) (InteractionResult, []SimpleEvent) {
	if i.Kind != InteractRealm {
		return InteractionInvalid, nil
	}
	if !s.matcher.Matches(mark) {
		return InteractionFailed, nil
	}
	s.realm = i.Link
	return InteractionAccepted, []SimpleEvent{{Event: EventChanged, Value: LinkValue(i.Link)}}
}

func (s *realmSelector) State() (any, error) { return s.realm, nil }
