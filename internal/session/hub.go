// Package session owns player sessions: the duplex pumps between a
// client transport and the rest of the server, with per-session
// ordering, outbound sequence numbers, and bounded backpressure.
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"spadina.network/internal/access"
	"spadina.network/internal/asset"
	"spadina.network/internal/directory"
	"spadina.network/internal/protocol"
	"spadina.network/internal/puzzle"
)

const (
	// DefaultOutboundBuffer is the per-session outbound frame budget;
	// overflowing it drops the session.
	DefaultOutboundBuffer = 256
	// DefaultResumeGrace is how long a detached session survives
	// waiting for a reconnect.
	DefaultResumeGrace = time.Minute
)

// AssetFetcher resolves asset blobs, recruiting peers on a local miss.
type AssetFetcher interface {
	Pull(ctx context.Context, id asset.ID) ([]byte, error)
}

// Store is the persistence surface the sessions' local handlers need.
type Store interface {
	Bookmarks(player string) ([]protocol.Bookmark, error)
	MutateBookmark(player string, add bool, b protocol.Bookmark) error

	PlayerAccess(player string, target access.Target) (access.List, error)
	SetPlayerAccess(player string, target access.Target, list access.List) error
	RealmAccess(owner, assetID string) (access.List, error)
	SetRealmAccess(owner, assetID string, list access.List) error

	Avatar(player string) ([]byte, error)
	SetAvatar(player string, avatar []byte) error

	RecordDirectMessage(player, counterpart string, body string, created time.Time, inbound bool) error
	DirectMessages(player, counterpart string, from, to time.Time) ([]protocol.DirectMessage, error)
	MarkRead(player, counterpart string, at time.Time) error

	CalendarSubscriptions(player string) ([]SubscribedRealm, error)
	MutateCalendarSubscription(player string, add bool, sub SubscribedRealm) error
	RealmAnnouncements(owner, assetID string) ([]protocol.Announcement, error)

	PublicKeys(player string) ([]string, error)
	AddPublicKey(player, name string, key []byte) error
	DeletePublicKey(player, name string) error
}

// SubscribedRealm is one calendar subscription. Server is empty for
// local realms.
type SubscribedRealm struct {
	Owner  string
	Asset  string
	Server string
}

// Remotes is the federation surface sessions delegate to. A nil
// Remotes refuses everything remote.
type Remotes interface {
	// Visit opens a remote-player session on the named server; pushed
	// frames for the visitor arrive through push.
	Visit(server string, p access.Principal, avatar []byte, link puzzle.Link, push func(protocol.ServerMessage) bool) error
	// Forward relays an in-realm request for an active visit.
	Forward(server string, p access.Principal, m protocol.ClientMessage) error
	// Leave closes an active visit.
	Leave(server string, p access.Principal)
	SendDirect(server string, d protocol.ChatDelivery) error
	Calendar(ctx context.Context, server string, realms []protocol.RealmRef) ([]protocol.CalendarEntry, error)
}

// Config assembles a hub.
type Config struct {
	LocalServer    string
	Directory      *directory.Directory
	Assets         AssetFetcher
	Store          Store
	Remotes        Remotes
	OutboundBuffer int
	InboundRate    rate.Limit
	InboundBurst   int
	ResumeGrace    time.Duration
	Log            *log.Logger
	Clock          func() time.Time
}

// Hub tracks the connected sessions of one server.
type Hub struct {
	cfg Config
	log *log.Logger

	mu      sync.Mutex
	byName  map[string]*Session
	resume  map[string]*Session
	relays  map[uint32]relay
	nextRel uint32
}

type relayKind uint8

const (
	relayFollow relayKind = iota + 1
	relayEmote
)

// relay is one pending follow or consensual-emote exchange.
type relay struct {
	kind      relayKind
	from      *Session
	to        *Session
	requestID uint32
	emote     string
}

func NewHub(cfg Config) (*Hub, error) {
	if cfg.Directory == nil || cfg.Store == nil || cfg.Assets == nil {
		return nil, errors.New("hub needs a directory, a store, and an asset fetcher")
	}
	if cfg.OutboundBuffer <= 0 {
		cfg.OutboundBuffer = DefaultOutboundBuffer
	}
	if cfg.InboundRate <= 0 {
		cfg.InboundRate = 50
	}
	if cfg.InboundBurst <= 0 {
		cfg.InboundBurst = 100
	}
	if cfg.ResumeGrace <= 0 {
		cfg.ResumeGrace = DefaultResumeGrace
	}
	if cfg.Log == nil {
		cfg.Log = log.Default()
	}
	return &Hub{
		cfg:    cfg,
		log:    cfg.Log,
		byName: map[string]*Session{},
		resume: map[string]*Session{},
	}, nil
}

// SetRemotes wires the federation surface. The hub and the mesh need
// each other, so the mesh is attached after construction, before any
// session connects.
func (h *Hub) SetRemotes(r Remotes) {
	h.cfg.Remotes = r
}

func (h *Hub) now() time.Time {
	if h.cfg.Clock != nil {
		return h.cfg.Clock()
	}
	return time.Now()
}

// Connect opens a session for an authenticated local player, replacing
// any previous session under the same name.
func (h *Hub) Connect(player string, admin bool) *Session {
	s := newSession(h, access.Principal{Player: player}, admin)
	h.mu.Lock()
	prev := h.byName[player]
	h.byName[player] = s
	h.resume[s.resumeToken] = s
	h.mu.Unlock()
	if prev != nil {
		prev.Close("signed in elsewhere")
	}
	h.cfg.Directory.Register(s.key, s)
	if avatar, err := h.cfg.Store.Avatar(player); err == nil {
		s.setAvatar(avatar)
	}
	return s
}

// ConnectRemote opens a session for a visiting remote player. It is
// not in the name or resume tables: the visitor's own server owns the
// client connection.
func (h *Hub) ConnectRemote(p access.Principal, avatar []byte) *Session {
	s := newSession(h, p, false)
	s.setAvatar(avatar)
	h.cfg.Directory.Register(s.key, s)
	return s
}

// Resume finds a detached session by its resume token.
func (h *Hub) Resume(token string) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.resume[token]
	if !ok || s.done() {
		return nil, false
	}
	return s, true
}

// Online reports whether a local player has a live session.
func (h *Hub) Online(player string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.byName[player]
	return ok && !s.done()
}

// Connected reports how many local players have live sessions.
func (h *Hub) Connected() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, s := range h.byName {
		if !s.done() {
			n++
		}
	}
	return n
}

// DeliverDirect pushes an incoming direct message to a local player's
// session, if one is connected.
func (h *Hub) DeliverDirect(recipient string, from string, body string, created time.Time) {
	h.mu.Lock()
	s, ok := h.byName[recipient]
	h.mu.Unlock()
	if ok && !s.done() {
		s.Push(protocol.DirectMessageReceived{From: from, Body: body, Created: created})
	}
}

func (h *Hub) remove(s *Session) {
	h.mu.Lock()
	if h.byName[s.principal.Player] == s {
		delete(h.byName, s.principal.Player)
	}
	delete(h.resume, s.resumeToken)
	for id, r := range h.relays {
		if r.from == s || r.to == s {
			delete(h.relays, id)
		}
	}
	h.mu.Unlock()
	h.cfg.Directory.Unregister(s.key)
}

func (h *Hub) lookup(player string) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.byName[player]
	if !ok || s.done() {
		return nil, false
	}
	return s, true
}

// addRelay registers a pending follow/emote exchange and returns the
// id the responder will echo.
func (h *Hub) addRelay(r relay) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextRel++
	if h.relays == nil {
		h.relays = map[uint32]relay{}
	}
	h.relays[h.nextRel] = r
	return h.nextRel
}

// takeRelay resolves a pending exchange; the responder must be the
// session the request was sent to.
func (h *Hub) takeRelay(id uint32, responder *Session) (relay, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.relays[id]
	if !ok || r.to != responder {
		return relay{}, false
	}
	delete(h.relays, id)
	return r, true
}

// Shutdown drops every session with a final Lost frame.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.byName))
	for _, s := range h.byName {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()
	for _, s := range sessions {
		s.Close("server shutting down")
	}
}

func (h *Hub) limiter() *rate.Limiter {
	return rate.NewLimiter(h.cfg.InboundRate, h.cfg.InboundBurst)
}
