package protocol

import (
	"time"

	"spadina.network/internal/puzzle"
)

// Server-to-client tags.
const (
	tagWelcome           = "welcome"
	tagResult            = "result"
	tagAssetResult       = "asset-result"
	tagRealmSnapshot     = "realm-snapshot"
	tagPropertyChanged   = "property-changed"
	tagGateChanged       = "gate-changed"
	tagCommittedPath     = "committed-path"
	tagChatPush          = "chat"
	tagPresenceChanged   = "presence-changed"
	tagPoseChanged       = "pose-changed"
	tagAnnouncements     = "announcements"
	tagSettingUpdated    = "setting-updated"
	tagRealmBroken       = "realm-broken"
	tagKicked            = "kicked"
	tagAccessCurrent     = "access-current"
	tagLocationMessages  = "location-messages"
	tagDirectMessages    = "direct-messages"
	tagDirectMsgReceived = "direct-message-received"
	tagBookmarks         = "bookmarks"
	tagCalendar          = "calendar"
	tagPublicKeys        = "public-keys"
	tagFollowRequested   = "follow-requested"
	tagEmoteRequested    = "consensual-emote-requested"
	tagLost              = "lost"
)

// Welcome confirms authentication and opens the session.
type Welcome struct {
	Player      string `msgpack:"player"`
	Server      string `msgpack:"server"`
	ResumeToken string `msgpack:"resume_token"`
}

// Result answers a correlated request. Reason is only populated for
// NotAllowed verdicts.
type Result struct {
	ID      uint32  `msgpack:"id"`
	Outcome Outcome `msgpack:"outcome"`
	Reason  string  `msgpack:"reason,omitempty"`
}

// AssetResult answers an AssetPull.
type AssetResult struct {
	ID    uint32 `msgpack:"id"`
	Asset string `msgpack:"asset"`
	Found bool   `msgpack:"found"`
	Data  []byte `msgpack:"data,omitempty"`
}

// RealmSnapshot is the full realm view sent on admission. Self is the
// receiving player's roster key.
type RealmSnapshot struct {
	ID            uint32                  `msgpack:"id"`
	Name          string                  `msgpack:"name"`
	Owner         string                  `msgpack:"owner"`
	Asset         string                  `msgpack:"asset"`
	Self          uint64                  `msgpack:"self"`
	Position      uint32                  `msgpack:"position"`
	Properties    map[string]puzzle.Value `msgpack:"properties"`
	Gates         map[string]bool         `msgpack:"gates"`
	Settings      map[string]Setting      `msgpack:"settings"`
	Chat          []ChatMessage           `msgpack:"chat"`
	Announcements []Announcement          `msgpack:"announcements"`
	Players       []Presence              `msgpack:"players"`
}

// PropertyChanged pushes a client-visible property diff.
type PropertyChanged struct {
	Name  string       `msgpack:"name"`
	Value puzzle.Value `msgpack:"value"`
}

// GateChanged pushes a manifold gate diff.
type GateChanged struct {
	Name string `msgpack:"name"`
	Open bool   `msgpack:"open"`
}

// CommittedPath pushes a player's authoritative route. PendingGate
// names the gate blocking the suffix, empty if none.
type CommittedPath struct {
	Player      uint64      `msgpack:"player"`
	Start       uint32      `msgpack:"start"`
	Steps       []TimedStep `msgpack:"steps"`
	PendingGate string      `msgpack:"pending_gate,omitempty"`
}

// ChatPush pushes one realm chat message.
type ChatPush struct {
	Message ChatMessage `msgpack:"message"`
}

// PresenceChanged pushes a roster delta.
type PresenceChanged struct {
	Presence Presence `msgpack:"presence"`
	Entered  bool     `msgpack:"entered"`
}

// PoseChanged pushes a rotate or emote from another player.
type PoseChanged struct {
	Player     uint64 `msgpack:"player"`
	Direction  uint8  `msgpack:"direction,omitempty"`
	Animation  string `msgpack:"animation,omitempty"`
	DurationMS uint32 `msgpack:"duration_ms,omitempty"`
}

// AnnouncementsChanged pushes the current announcement list.
type AnnouncementsChanged struct {
	ID            uint32         `msgpack:"id,omitempty"`
	Announcements []Announcement `msgpack:"announcements"`
}

// SettingUpdated pushes one setting diff.
type SettingUpdated struct {
	Name  string  `msgpack:"name"`
	Value Setting `msgpack:"value"`
}

// RealmBroken tells clients the puzzle network is wedged and they are
// being sent home.
type RealmBroken struct{}

// Kicked tells the client it was removed from its realm.
type Kicked struct {
	Reason string `msgpack:"reason"`
}

// AccessCurrent answers an AccessGet.
type AccessCurrent struct {
	ID           uint32       `msgpack:"id"`
	Target       string       `msgpack:"target"`
	Rules        []AccessRule `msgpack:"rules"`
	DefaultAllow bool         `msgpack:"default_allow"`
}

// LocationMessages answers a LocationMessagesGet.
type LocationMessages struct {
	ID       uint32        `msgpack:"id"`
	Messages []ChatMessage `msgpack:"messages"`
}

// DirectMessages answers a DirectMessagesGet.
type DirectMessages struct {
	ID       uint32          `msgpack:"id"`
	Player   string          `msgpack:"player"`
	Messages []DirectMessage `msgpack:"messages"`
}

// DirectMessageReceived pushes an incoming private message.
type DirectMessageReceived struct {
	From    string    `msgpack:"from"`
	Body    string    `msgpack:"body"`
	Created time.Time `msgpack:"created"`
}

// Bookmarks answers a BookmarksGet.
type Bookmarks struct {
	ID        uint32     `msgpack:"id"`
	Bookmarks []Bookmark `msgpack:"bookmarks"`
}

// Calendar answers a CalendarGet.
type Calendar struct {
	ID      uint32          `msgpack:"id"`
	Entries []CalendarEntry `msgpack:"entries"`
}

// PublicKeys answers a PublicKeysGet.
type PublicKeys struct {
	ID    uint32   `msgpack:"id"`
	Names []string `msgpack:"names"`
}

// FollowRequested relays another player's follow request.
type FollowRequested struct {
	Request uint32 `msgpack:"request"`
	Player  string `msgpack:"player"`
}

// ConsensualEmoteRequested relays another player's emote proposal.
type ConsensualEmoteRequested struct {
	Request uint32 `msgpack:"request"`
	Player  string `msgpack:"player"`
	Emote   string `msgpack:"emote"`
}

// Lost is the final frame of a session dropped by the server.
type Lost struct {
	Reason string `msgpack:"reason"`
}

func (Welcome) serverTag() string                  { return tagWelcome }
func (Result) serverTag() string                   { return tagResult }
func (AssetResult) serverTag() string              { return tagAssetResult }
func (RealmSnapshot) serverTag() string            { return tagRealmSnapshot }
func (PropertyChanged) serverTag() string          { return tagPropertyChanged }
func (GateChanged) serverTag() string              { return tagGateChanged }
func (CommittedPath) serverTag() string            { return tagCommittedPath }
func (ChatPush) serverTag() string                 { return tagChatPush }
func (PresenceChanged) serverTag() string          { return tagPresenceChanged }
func (PoseChanged) serverTag() string              { return tagPoseChanged }
func (AnnouncementsChanged) serverTag() string     { return tagAnnouncements }
func (SettingUpdated) serverTag() string           { return tagSettingUpdated }
func (RealmBroken) serverTag() string              { return tagRealmBroken }
func (Kicked) serverTag() string                   { return tagKicked }
func (AccessCurrent) serverTag() string            { return tagAccessCurrent }
func (LocationMessages) serverTag() string         { return tagLocationMessages }
func (DirectMessages) serverTag() string           { return tagDirectMessages }
func (DirectMessageReceived) serverTag() string    { return tagDirectMsgReceived }
func (Bookmarks) serverTag() string                { return tagBookmarks }
func (Calendar) serverTag() string                 { return tagCalendar }
func (PublicKeys) serverTag() string               { return tagPublicKeys }
func (FollowRequested) serverTag() string          { return tagFollowRequested }
func (ConsensualEmoteRequested) serverTag() string { return tagEmoteRequested }
func (Lost) serverTag() string                     { return tagLost }

var serverTypes = map[string]func() ServerMessage{
	tagWelcome:           func() ServerMessage { return new(Welcome) },
	tagResult:            func() ServerMessage { return new(Result) },
	tagAssetResult:       func() ServerMessage { return new(AssetResult) },
	tagRealmSnapshot:     func() ServerMessage { return new(RealmSnapshot) },
	tagPropertyChanged:   func() ServerMessage { return new(PropertyChanged) },
	tagGateChanged:       func() ServerMessage { return new(GateChanged) },
	tagCommittedPath:     func() ServerMessage { return new(CommittedPath) },
	tagChatPush:          func() ServerMessage { return new(ChatPush) },
	tagPresenceChanged:   func() ServerMessage { return new(PresenceChanged) },
	tagPoseChanged:       func() ServerMessage { return new(PoseChanged) },
	tagAnnouncements:     func() ServerMessage { return new(AnnouncementsChanged) },
	tagSettingUpdated:    func() ServerMessage { return new(SettingUpdated) },
	tagRealmBroken:       func() ServerMessage { return new(RealmBroken) },
	tagKicked:            func() ServerMessage { return new(Kicked) },
	tagAccessCurrent:     func() ServerMessage { return new(AccessCurrent) },
	tagLocationMessages:  func() ServerMessage { return new(LocationMessages) },
	tagDirectMessages:    func() ServerMessage { return new(DirectMessages) },
	tagDirectMsgReceived: func() ServerMessage { return new(DirectMessageReceived) },
	tagBookmarks:         func() ServerMessage { return new(Bookmarks) },
	tagCalendar:          func() ServerMessage { return new(Calendar) },
	tagPublicKeys:        func() ServerMessage { return new(PublicKeys) },
	tagFollowRequested:   func() ServerMessage { return new(FollowRequested) },
	tagEmoteRequested:    func() ServerMessage { return new(ConsensualEmoteRequested) },
	tagLost:              func() ServerMessage { return new(Lost) },
}
