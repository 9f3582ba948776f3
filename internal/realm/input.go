package realm

import (
	"time"

	"spadina.network/internal/access"
	"spadina.network/internal/nav"
	"spadina.network/internal/puzzle"
)

// PlayerKey identifies a player within the realm roster for the
// lifetime of their visit.
type PlayerKey = puzzle.PlayerKey

// Input is one message on a realm's inbox. The drain loop processes
// inputs serially, so the runtime and manifold see a total order.
type Input interface{ realmInput() }

// PlayerJoined asks the realm to admit a player.
type PlayerJoined struct {
	Key       PlayerKey
	Principal access.Principal
	Avatar    []byte
	Spawn     string
	Client    Client
	Reply     chan<- JoinResult
}

// JoinResult answers a PlayerJoined request.
type JoinResult struct {
	Accepted bool
	Reason   string
	Snapshot *Snapshot
}

// PlayerLeft removes a player from the roster.
type PlayerLeft struct {
	Key PlayerKey
}

// PlayerAction carries one client action. SentAt is the client's
// timestamp, used for jitter estimation.
type PlayerAction struct {
	Key    PlayerKey
	Action Action
	SentAt time.Time
}

// PeerEvent injects a puzzle command arriving over federation.
type PeerEvent struct {
	Target uint32
	Cmd    puzzle.Command
	Value  puzzle.Value
}

// SettingChanged updates an owner-adjustable realm setting.
type SettingChanged struct {
	By    access.Principal
	Name  string
	Value Setting
	Reply chan<- error
}

// Kick ejects a player to their home realm.
type Kick struct {
	Target PlayerKey
}

// ChatPosted appends a message to the realm chat.
type ChatPosted struct {
	From access.Principal
	Body string
	At   time.Time
}

// AnnouncementAdd adds or replaces an announcement.
type AnnouncementAdd struct {
	Announcement Announcement
}

// AnnouncementClear removes one announcement, or all when ID is zero.
type AnnouncementClear struct {
	ID uint32
}

// AccessMutated replaces the realm access list. Present players who no
// longer pass are ejected.
type AccessMutated struct {
	List access.List
}

// Shutdown flushes state and stops the drain loop.
type Shutdown struct {
	Done chan<- struct{}
}

func (PlayerJoined) realmInput()      {}
func (PlayerLeft) realmInput()        {}
func (PlayerAction) realmInput()      {}
func (PeerEvent) realmInput()         {}
func (SettingChanged) realmInput()    {}
func (Kick) realmInput()              {}
func (ChatPosted) realmInput()        {}
func (AnnouncementAdd) realmInput()   {}
func (AnnouncementClear) realmInput() {}
func (AccessMutated) realmInput()     {}
func (Shutdown) realmInput()          {}

// ActionKind discriminates client actions.
type ActionKind uint8

const (
	ActionMove ActionKind = iota + 1
	ActionRotate
	ActionInteract
	ActionEmote
)

// Action is one element of the client action vocabulary.
type Action struct {
	Kind ActionKind

	// Move.
	Point nav.PointID
	// Rotate.
	Direction uint8
	// Interact.
	Piece       uint32
	Interaction puzzle.Interaction
	// Emote.
	Animation string
	Duration  time.Duration
}
