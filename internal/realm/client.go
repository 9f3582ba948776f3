package realm

import (
	"time"

	"spadina.network/internal/access"
	"spadina.network/internal/nav"
	"spadina.network/internal/puzzle"
)

// Client is the realm's outbound half of a player session. Deliver
// must not block; it returns false when the session's buffer is full,
// which drops the player from the realm.
type Client interface {
	Deliver(u Update) bool
}

// Update is a realm-to-client push message.
type Update interface{ realmUpdate() }

// Snapshot is the full realm view sent on admission.
type Snapshot struct {
	Name          string
	Position      nav.PointID
	Properties    map[string]puzzle.Value
	Gates         map[string]bool
	Settings      map[string]Setting
	Chat          []ChatMessage
	Announcements []Announcement
	Players       []Presence
}

// Presence is one roster entry.
type Presence struct {
	Key       PlayerKey
	Principal access.Principal
	Avatar    []byte
	At        nav.PointID
}

// PropertyChanged pushes a client-visible property diff.
type PropertyChanged struct {
	Name  string
	Value puzzle.Value
}

// GateChanged pushes a manifold gate diff.
type GateChanged struct {
	Name string
	Open bool
}

// TimedStep is one committed path step with its authoritative arrival
// time.
type TimedStep struct {
	Step   nav.Step
	Arrive time.Time
}

// CommittedPath pushes a player's authoritative route. PendingGate
// names the gate blocking the suffix, empty if none.
type CommittedPath struct {
	Player      PlayerKey
	Start       nav.PointID
	Steps       []TimedStep
	PendingGate string
}

// ChatUpdate pushes one realm chat message.
type ChatUpdate struct {
	Message ChatMessage
}

// PresenceChanged pushes a roster delta.
type PresenceChanged struct {
	Presence Presence
	Entered  bool
}

// PoseChanged pushes a rotate or emote from another player.
type PoseChanged struct {
	Player    PlayerKey
	Direction uint8
	Animation string
	Duration  time.Duration
}

// AnnouncementsChanged pushes the current announcement list.
type AnnouncementsChanged struct {
	Announcements []Announcement
}

// SettingUpdated pushes one setting diff.
type SettingUpdated struct {
	Name  string
	Value Setting
}

// RealmBroken tells clients the puzzle network is wedged and they are
// being sent home.
type RealmBroken struct{}

// Kicked tells a client they were removed.
type Kicked struct {
	Reason string
}

func (Snapshot) realmUpdate()             {}
func (PropertyChanged) realmUpdate()      {}
func (GateChanged) realmUpdate()          {}
func (CommittedPath) realmUpdate()        {}
func (ChatUpdate) realmUpdate()           {}
func (PresenceChanged) realmUpdate()      {}
func (PoseChanged) realmUpdate()          {}
func (AnnouncementsChanged) realmUpdate() {}
func (SettingUpdated) realmUpdate()       {}
func (RealmBroken) realmUpdate()          {}
func (Kicked) realmUpdate()               {}
