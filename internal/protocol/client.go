package protocol

import "time"

// Client-to-server tags.
const (
	tagAssetPull       = "asset-pull"
	tagLocationChange  = "location-change"
	tagInLocation      = "in-location"
	tagLocationMsgSend = "location-message-send"
	tagLocationMsgsGet = "location-messages-get"
	tagDirectMsgSend   = "direct-message-send"
	tagDirectMsgsGet   = "direct-messages-get"
	tagBookmarkMutate  = "bookmark-mutate"
	tagBookmarksGet    = "bookmarks-get"
	tagAccessGet       = "access-get"
	tagAccessMutate    = "access-mutate"
	tagFollowRequest   = "follow-request"
	tagFollowResponse  = "follow-response"
	tagEmoteRequest    = "consensual-emote-request"
	tagEmoteResponse   = "consensual-emote-response"
	tagAvatarSet       = "avatar-set"
	tagCalendarMutate  = "calendar-subscription-mutate"
	tagCalendarGet     = "calendar-get"
	tagPublicKeyAdd    = "public-key-add"
	tagPublicKeyDelete = "public-key-delete"
	tagPublicKeysGet   = "public-keys-get"
)

// AssetPull asks for an asset blob; the server recruits its peers on a
// local miss.
type AssetPull struct {
	ID    uint32 `msgpack:"id"`
	Asset string `msgpack:"asset"`
}

// LocationChange moves the player to a new realm or detaches them.
type LocationChange struct {
	ID     uint32   `msgpack:"id"`
	Target Location `msgpack:"target"`
}

// RealmRequestKind discriminates in-realm subrequests.
type RealmRequestKind uint8

const (
	RealmPerform RealmRequestKind = iota + 1
	RealmChangeSetting
	RealmAnnouncementAdd
	RealmAnnouncementClear
	RealmAnnouncementList
	RealmKick
)

// RealmRequest is one subrequest routed to the player's current realm.
type RealmRequest struct {
	Kind RealmRequestKind `msgpack:"kind"`

	// Perform.
	Actions []Action `msgpack:"actions,omitempty"`
	// ChangeSetting.
	Name  string  `msgpack:"name,omitempty"`
	Value Setting `msgpack:"value,omitempty"`
	// AnnouncementAdd / AnnouncementClear (zero Clear removes all).
	Announcement Announcement `msgpack:"announcement,omitempty"`
	Clear        uint32       `msgpack:"clear,omitempty"`
	// Kick.
	Target uint64 `msgpack:"target,omitempty"`
}

// InLocation routes a request to the player's current realm. SentAt
// is the client clock at send time, used for jitter estimation.
type InLocation struct {
	ID      uint32       `msgpack:"id"`
	Request RealmRequest `msgpack:"request"`
	SentAt  time.Time    `msgpack:"sent_at,omitempty"`
}

// LocationMessageSend posts to the current realm's chat channel.
type LocationMessageSend struct {
	Body string `msgpack:"body"`
}

// LocationMessagesGet fetches retained realm chat in [From, To).
type LocationMessagesGet struct {
	ID   uint32    `msgpack:"id"`
	From time.Time `msgpack:"from"`
	To   time.Time `msgpack:"to"`
}

// DirectMessageSend delivers a private message, across federation when
// the recipient is remote.
type DirectMessageSend struct {
	ID        uint32 `msgpack:"id"`
	Recipient string `msgpack:"recipient"`
	Body      string `msgpack:"body"`
}

// DirectMessagesGet fetches a conversation slice and advances the
// last-read watermark.
type DirectMessagesGet struct {
	ID     uint32    `msgpack:"id"`
	Player string    `msgpack:"player"`
	From   time.Time `msgpack:"from"`
	To     time.Time `msgpack:"to"`
}

// BookmarkMutate adds or removes one bookmark.
type BookmarkMutate struct {
	ID       uint32   `msgpack:"id"`
	Add      bool     `msgpack:"add"`
	Bookmark Bookmark `msgpack:"bookmark"`
}

// BookmarksGet lists the player's bookmarks.
type BookmarksGet struct {
	ID uint32 `msgpack:"id"`
}

// AccessGet fetches one of the player's access lists by target name.
type AccessGet struct {
	ID     uint32 `msgpack:"id"`
	Target string `msgpack:"target"`
}

// AccessMutate replaces one of the player's access lists.
type AccessMutate struct {
	ID           uint32       `msgpack:"id"`
	Target       string       `msgpack:"target"`
	Rules        []AccessRule `msgpack:"rules"`
	DefaultAllow bool         `msgpack:"default_allow"`
}

// FollowRequest asks to join another player's current realm.
type FollowRequest struct {
	ID     uint32 `msgpack:"id"`
	Player string `msgpack:"player"`
}

// FollowResponse answers a relayed follow request.
type FollowResponse struct {
	Request uint32 `msgpack:"request"`
	Ok      bool   `msgpack:"ok"`
}

// ConsensualEmoteRequest proposes a paired animation.
type ConsensualEmoteRequest struct {
	ID     uint32 `msgpack:"id"`
	Player string `msgpack:"player"`
	Emote  string `msgpack:"emote"`
}

// ConsensualEmoteResponse answers a relayed emote request.
type ConsensualEmoteResponse struct {
	Request uint32 `msgpack:"request"`
	Ok      bool   `msgpack:"ok"`
}

// AvatarSet replaces the player's opaque avatar payload.
type AvatarSet struct {
	ID     uint32 `msgpack:"id"`
	Avatar []byte `msgpack:"avatar"`
}

// CalendarSubscriptionMutate adds or removes a subscribed realm.
type CalendarSubscriptionMutate struct {
	ID    uint32   `msgpack:"id"`
	Add   bool     `msgpack:"add"`
	Realm Location `msgpack:"realm"`
}

// CalendarGet fetches upcoming announcements of subscribed realms.
type CalendarGet struct {
	ID uint32 `msgpack:"id"`
}

// PublicKeyAdd registers a login public key.
type PublicKeyAdd struct {
	ID   uint32 `msgpack:"id"`
	Name string `msgpack:"name"`
	Key  []byte `msgpack:"key"`
}

// PublicKeyDelete revokes a login public key by name.
type PublicKeyDelete struct {
	ID   uint32 `msgpack:"id"`
	Name string `msgpack:"name"`
}

// PublicKeysGet lists registered key names.
type PublicKeysGet struct {
	ID uint32 `msgpack:"id"`
}

func (AssetPull) clientTag() string                  { return tagAssetPull }
func (LocationChange) clientTag() string             { return tagLocationChange }
func (InLocation) clientTag() string                 { return tagInLocation }
func (LocationMessageSend) clientTag() string        { return tagLocationMsgSend }
func (LocationMessagesGet) clientTag() string        { return tagLocationMsgsGet }
func (DirectMessageSend) clientTag() string          { return tagDirectMsgSend }
func (DirectMessagesGet) clientTag() string          { return tagDirectMsgsGet }
func (BookmarkMutate) clientTag() string             { return tagBookmarkMutate }
func (BookmarksGet) clientTag() string               { return tagBookmarksGet }
func (AccessGet) clientTag() string                  { return tagAccessGet }
func (AccessMutate) clientTag() string               { return tagAccessMutate }
func (FollowRequest) clientTag() string              { return tagFollowRequest }
func (FollowResponse) clientTag() string             { return tagFollowResponse }
func (ConsensualEmoteRequest) clientTag() string     { return tagEmoteRequest }
func (ConsensualEmoteResponse) clientTag() string    { return tagEmoteResponse }
func (AvatarSet) clientTag() string                  { return tagAvatarSet }
func (CalendarSubscriptionMutate) clientTag() string { return tagCalendarMutate }
func (CalendarGet) clientTag() string                { return tagCalendarGet }
func (PublicKeyAdd) clientTag() string               { return tagPublicKeyAdd }
func (PublicKeyDelete) clientTag() string            { return tagPublicKeyDelete }
func (PublicKeysGet) clientTag() string              { return tagPublicKeysGet }

var clientTypes = map[string]func() ClientMessage{
	tagAssetPull:       func() ClientMessage { return new(AssetPull) },
	tagLocationChange:  func() ClientMessage { return new(LocationChange) },
	tagInLocation:      func() ClientMessage { return new(InLocation) },
	tagLocationMsgSend: func() ClientMessage { return new(LocationMessageSend) },
	tagLocationMsgsGet: func() ClientMessage { return new(LocationMessagesGet) },
	tagDirectMsgSend:   func() ClientMessage { return new(DirectMessageSend) },
	tagDirectMsgsGet:   func() ClientMessage { return new(DirectMessagesGet) },
	tagBookmarkMutate:  func() ClientMessage { return new(BookmarkMutate) },
	tagBookmarksGet:    func() ClientMessage { return new(BookmarksGet) },
	tagAccessGet:       func() ClientMessage { return new(AccessGet) },
	tagAccessMutate:    func() ClientMessage { return new(AccessMutate) },
	tagFollowRequest:   func() ClientMessage { return new(FollowRequest) },
	tagFollowResponse:  func() ClientMessage { return new(FollowResponse) },
	tagEmoteRequest:    func() ClientMessage { return new(ConsensualEmoteRequest) },
	tagEmoteResponse:   func() ClientMessage { return new(ConsensualEmoteResponse) },
	tagAvatarSet:       func() ClientMessage { return new(AvatarSet) },
	tagCalendarMutate:  func() ClientMessage { return new(CalendarSubscriptionMutate) },
	tagCalendarGet:     func() ClientMessage { return new(CalendarGet) },
	tagPublicKeyAdd:    func() ClientMessage { return new(PublicKeyAdd) },
	tagPublicKeyDelete: func() ClientMessage { return new(PublicKeyDelete) },
	tagPublicKeysGet:   func() ClientMessage { return new(PublicKeysGet) },
}
