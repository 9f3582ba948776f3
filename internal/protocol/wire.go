package protocol

import (
	"time"

	"spadina.network/internal/puzzle"
)

// LocationKind discriminates location-change targets.
type LocationKind uint8

const (
	// LocationNoWhere detaches the player from any realm.
	LocationNoWhere LocationKind = iota
	LocationHome
	LocationTrainNext
	LocationRealm
)

// Location addresses a realm, or one of the pseudo-destinations, in a
// location change. Server is empty for the player's own server.
type Location struct {
	Kind   LocationKind `msgpack:"kind"`
	Owner  string       `msgpack:"owner,omitempty"`
	Asset  string       `msgpack:"asset,omitempty"`
	Server string       `msgpack:"server,omitempty"`
}

// Link renders the location as a puzzle link for directory resolution.
// NoWhere has no link form and maps to the zero link.
func (l Location) Link() puzzle.Link {
	switch l.Kind {
	case LocationHome:
		return puzzle.HomeLink()
	case LocationTrainNext:
		return puzzle.TrainNextLink()
	case LocationRealm:
		return puzzle.Link{Kind: puzzle.LinkGlobal, Owner: l.Owner, Asset: l.Asset, Server: l.Server}
	default:
		return puzzle.Link{}
	}
}

// LocationFrom renders a puzzle link as a wire location. Spawn-only
// links have no wire form and map to NoWhere.
func LocationFrom(l puzzle.Link) Location {
	switch l.Kind {
	case puzzle.LinkHome:
		return Location{Kind: LocationHome}
	case puzzle.LinkTrainNext:
		return Location{Kind: LocationTrainNext}
	case puzzle.LinkGlobal, puzzle.LinkOwner:
		return Location{Kind: LocationRealm, Owner: l.Owner, Asset: l.Asset, Server: l.Server}
	default:
		return Location{Kind: LocationNoWhere}
	}
}

// ActionKind discriminates client actions.
type ActionKind uint8

const (
	ActionMove ActionKind = iota + 1
	ActionRotate
	ActionInteract
	ActionEmote
)

// Interaction gestures.
const (
	GestureClick uint8 = iota + 1
	GestureRealm
)

// Action is one element of the client action vocabulary.
type Action struct {
	Kind ActionKind `msgpack:"kind"`

	// Move.
	Point uint32 `msgpack:"point,omitempty"`
	// Rotate.
	Direction uint8 `msgpack:"direction,omitempty"`
	// Interact. Target carries the realm payload of a realm-selector
	// gesture.
	Piece   uint32   `msgpack:"piece,omitempty"`
	Gesture uint8    `msgpack:"gesture,omitempty"`
	Target  Location `msgpack:"target,omitempty"`
	// Emote.
	Animation  string `msgpack:"animation,omitempty"`
	DurationMS uint32 `msgpack:"duration_ms,omitempty"`
}

// Setting is one typed realm setting value.
type Setting struct {
	Kind string      `msgpack:"kind"`
	Bool bool        `msgpack:"bool,omitempty"`
	Num  int64       `msgpack:"num,omitempty"`
	Real float64     `msgpack:"real,omitempty"`
	Text string      `msgpack:"text,omitempty"`
	Link puzzle.Link `msgpack:"link,omitempty"`
}

// Announcement is one realm notice. A zero Expires never expires.
type Announcement struct {
	ID      uint32    `msgpack:"id"`
	Title   string    `msgpack:"title"`
	Body    string    `msgpack:"body"`
	Expires time.Time `msgpack:"expires,omitempty"`
}

// ChatMessage is one realm-channel message. Sender is a principal in
// "name" or "name@server" form.
type ChatMessage struct {
	Sender string    `msgpack:"sender"`
	At     time.Time `msgpack:"at"`
	Body   string    `msgpack:"body"`
}

// DirectMessage is one entry of a player-to-player conversation as the
// requesting player sees it.
type DirectMessage struct {
	Inbound bool      `msgpack:"inbound"`
	Body    string    `msgpack:"body"`
	Created time.Time `msgpack:"created"`
}

// Presence is one realm roster entry.
type Presence struct {
	Player uint64 `msgpack:"player"`
	Name   string `msgpack:"name"`
	Avatar []byte `msgpack:"avatar,omitempty"`
	At     uint32 `msgpack:"at"`
}

// TimedStep is one committed path step with its authoritative arrival
// time.
type TimedStep struct {
	Edge   string    `msgpack:"edge"`
	From   uint32    `msgpack:"from"`
	To     uint32    `msgpack:"to"`
	Arrive time.Time `msgpack:"arrive"`
}

// AccessRule pairs a predicate ("*", "*@server", "@domain",
// "player@server", "player") with a verdict.
type AccessRule struct {
	Predicate string    `msgpack:"predicate"`
	Allow     bool      `msgpack:"allow"`
	Expires   time.Time `msgpack:"expires,omitempty"`
}

// Bookmark is one saved client shortcut.
type Bookmark struct {
	Kind  string `msgpack:"kind"`
	Value string `msgpack:"value"`
}

// RealmRef names a realm on the receiving server.
type RealmRef struct {
	Owner string `msgpack:"owner"`
	Asset string `msgpack:"asset"`
}

// CalendarEntry reports the live announcements of one subscribed
// realm.
type CalendarEntry struct {
	Realm         RealmRef       `msgpack:"realm"`
	Server        string         `msgpack:"server,omitempty"`
	Announcements []Announcement `msgpack:"announcements"`
}
