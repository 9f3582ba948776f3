package protocol

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Federation tags.
const (
	tagPeerHello       = "peer-hello"
	tagAssetHave       = "asset-have"
	tagAssetMiss       = "asset-miss"
	tagAssetBlob       = "asset-blob"
	tagVisitorJoin     = "visitor-join"
	tagVisitorLeave    = "visitor-leave"
	tagVisitorEnvelope = "visitor-envelope"
	tagChatDelivery    = "chat-delivery"
	tagCalendarFetch   = "calendar-fetch"
	tagCalendarEntries = "calendar-entries"
	tagACLProbe        = "acl-probe"
	tagACLVerdict      = "acl-verdict"
	tagBanAnnounce     = "ban-announce"
)

// PeerHello opens a federation link. Token is a JWT proving the
// dialing server controls its claimed name.
type PeerHello struct {
	Server  string `msgpack:"server"`
	Version int    `msgpack:"version"`
	Token   string `msgpack:"token"`
}

// AssetHave asks whether the receiver holds an asset.
type AssetHave struct {
	Asset string `msgpack:"asset"`
}

// AssetMiss is a negative AssetHave answer.
type AssetMiss struct {
	Asset string `msgpack:"asset"`
}

// AssetBlob is a positive AssetHave answer carrying the lz4-framed
// asset payload. Receivers validate the content hash before admission.
type AssetBlob struct {
	Asset      string `msgpack:"asset"`
	Compressed []byte `msgpack:"compressed"`
}

// VisitorJoin opens a remote-player session targeting a realm on the
// receiving server. Player is the visitor's name on the sending
// server.
type VisitorJoin struct {
	Player string   `msgpack:"player"`
	Target Location `msgpack:"target"`
	Avatar []byte   `msgpack:"avatar,omitempty"`
}

// VisitorLeave closes a remote-player session.
type VisitorLeave struct {
	Player string `msgpack:"player"`
}

// VisitorEnvelope relays one client or server frame for a remote
// player's session; the direction is implied by the sender.
type VisitorEnvelope struct {
	Player string             `msgpack:"player"`
	Body   msgpack.RawMessage `msgpack:"body"`
}

// ChatDelivery carries one direct message across federation. The
// (sender, recipient, created) triple dedupes redelivery.
type ChatDelivery struct {
	Sender    string    `msgpack:"sender"`
	Recipient string    `msgpack:"recipient"`
	Body      string    `msgpack:"body"`
	Created   time.Time `msgpack:"created"`
}

// CalendarFetch asks for the live announcements of the named realms.
type CalendarFetch struct {
	ID     uint32     `msgpack:"id"`
	Realms []RealmRef `msgpack:"realms"`
}

// CalendarEntries answers a CalendarFetch.
type CalendarEntries struct {
	ID      uint32          `msgpack:"id"`
	Entries []CalendarEntry `msgpack:"entries"`
}

// ACLProbe asks whether a player of the sending server would pass the
// receiver's ACLs. Owner and Asset are empty for a server-level check.
type ACLProbe struct {
	ID     uint32 `msgpack:"id"`
	Player string `msgpack:"player"`
	Owner  string `msgpack:"owner,omitempty"`
	Asset  string `msgpack:"asset,omitempty"`
}

// ACLVerdict answers an ACLProbe.
type ACLVerdict struct {
	ID      uint32 `msgpack:"id"`
	Allowed bool   `msgpack:"allowed"`
}

// Ban is one entry of a server's ban table.
type Ban struct {
	Server string `msgpack:"server,omitempty"`
	Player string `msgpack:"player,omitempty"`
	Reason string `msgpack:"reason,omitempty"`
}

// BanAnnounce propagates the sender's current ban table.
type BanAnnounce struct {
	Bans []Ban `msgpack:"bans"`
}

func (PeerHello) peerTag() string       { return tagPeerHello }
func (AssetHave) peerTag() string       { return tagAssetHave }
func (AssetMiss) peerTag() string       { return tagAssetMiss }
func (AssetBlob) peerTag() string       { return tagAssetBlob }
func (VisitorJoin) peerTag() string     { return tagVisitorJoin }
func (VisitorLeave) peerTag() string    { return tagVisitorLeave }
func (VisitorEnvelope) peerTag() string { return tagVisitorEnvelope }
func (ChatDelivery) peerTag() string    { return tagChatDelivery }
func (CalendarFetch) peerTag() string   { return tagCalendarFetch }
func (CalendarEntries) peerTag() string { return tagCalendarEntries }
func (ACLProbe) peerTag() string        { return tagACLProbe }
func (ACLVerdict) peerTag() string      { return tagACLVerdict }
func (BanAnnounce) peerTag() string     { return tagBanAnnounce }

var peerTypes = map[string]func() PeerFrame{
	tagPeerHello:       func() PeerFrame { return new(PeerHello) },
	tagAssetHave:       func() PeerFrame { return new(AssetHave) },
	tagAssetMiss:       func() PeerFrame { return new(AssetMiss) },
	tagAssetBlob:       func() PeerFrame { return new(AssetBlob) },
	tagVisitorJoin:     func() PeerFrame { return new(VisitorJoin) },
	tagVisitorLeave:    func() PeerFrame { return new(VisitorLeave) },
	tagVisitorEnvelope: func() PeerFrame { return new(VisitorEnvelope) },
	tagChatDelivery:    func() PeerFrame { return new(ChatDelivery) },
	tagCalendarFetch:   func() PeerFrame { return new(CalendarFetch) },
	tagCalendarEntries: func() PeerFrame { return new(CalendarEntries) },
	tagACLProbe:        func() PeerFrame { return new(ACLProbe) },
	tagACLVerdict:      func() PeerFrame { return new(ACLVerdict) },
	tagBanAnnounce:     func() PeerFrame { return new(BanAnnounce) },
}
