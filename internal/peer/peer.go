// Package peer maintains federation links to other servers: visitor
// relays, direct-message delivery, the asset swarm, calendar fetches,
// and ACL probes all ride one WebSocket per peer.
package peer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"spadina.network/internal/access"
	"spadina.network/internal/asset"
	"spadina.network/internal/protocol"
	"spadina.network/internal/puzzle"
	"spadina.network/internal/session"
)

const (
	// DefaultAssetWait bounds how long a swarm fetch waits for the
	// first positive answer.
	DefaultAssetWait = 2 * time.Second

	dialTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second
	readTimeout  = 90 * time.Second
)

// TokenSource mints the JWT a dialing server presents in its hello.
type TokenSource interface {
	IssuePeer(audience string) (string, error)
}

// TokenVerifier checks a hello token and returns the server name it
// proves.
type TokenVerifier interface {
	VerifyPeer(token string) (server string, err error)
}

// Store is the persistence surface federation needs.
type Store interface {
	// SaveIncomingChat records a delivered direct message; fresh is
	// false for a redelivery of the same (sender, recipient, created)
	// triple.
	SaveIncomingChat(recipient, sender, body string, created time.Time) (fresh bool, err error)
	RealmAnnouncements(owner, assetID string) ([]protocol.Announcement, error)
	RealmAccess(owner, assetID string) (access.List, error)
	ServerAccess(target access.Target) (access.List, error)
	BannedPeers() ([]protocol.Ban, error)
}

// Blobs is the local asset store the swarm answers from.
type Blobs interface {
	Get(ctx context.Context, id asset.ID) ([]byte, error)
	Put(ctx context.Context, id asset.ID, data []byte) error
}

// Config assembles a mesh.
type Config struct {
	LocalServer string
	Hub         *session.Hub
	Store       Store
	Blobs       Blobs
	Tokens      TokenSource
	Verifier    TokenVerifier
	// Resolve maps a server name to its peer endpoint URL. The default
	// is wss://<server>/api/peer.
	Resolve   func(server string) string
	AssetWait time.Duration
	Log       *log.Logger
	Clock     func() time.Time
}

// Mesh owns the links to every peer server this one talks to.
type Mesh struct {
	cfg Config
	log *log.Logger

	mu     sync.Mutex
	links  map[string]*link
	banned map[string]string
	closed bool
}

func New(cfg Config) (*Mesh, error) {
	if cfg.Hub == nil || cfg.Store == nil || cfg.Blobs == nil {
		return nil, errors.New("mesh needs a hub, a store, and a blob store")
	}
	if cfg.Tokens == nil || cfg.Verifier == nil {
		return nil, errors.New("mesh needs a token source and verifier")
	}
	if cfg.Resolve == nil {
		cfg.Resolve = func(server string) string { return "wss://" + server + "/api/peer" }
	}
	if cfg.AssetWait <= 0 {
		cfg.AssetWait = DefaultAssetWait
	}
	if cfg.Log == nil {
		cfg.Log = log.Default()
	}
	m := &Mesh{
		cfg:    cfg,
		log:    cfg.Log,
		links:  map[string]*link{},
		banned: map[string]string{},
	}
	m.RefreshBans()
	return m, nil
}

func (m *Mesh) now() time.Time {
	if m.cfg.Clock != nil {
		return m.cfg.Clock()
	}
	return time.Now()
}

// RefreshBans reloads the ban table from the store, dropping links to
// newly banned servers.
func (m *Mesh) RefreshBans() {
	bans, err := m.cfg.Store.BannedPeers()
	if err != nil {
		m.log.Printf("[peer] load bans: %v", err)
		return
	}
	table := map[string]string{}
	for _, b := range bans {
		if b.Server != "" {
			table[b.Server] = b.Reason
		}
	}
	m.mu.Lock()
	m.banned = table
	var dropped []*link
	for server, l := range m.links {
		if _, gone := table[server]; gone {
			delete(m.links, server)
			dropped = append(dropped, l)
		}
	}
	m.mu.Unlock()
	for _, l := range dropped {
		l.shut("banned")
	}
}

// Banned reports whether a server is on the ban table.
func (m *Mesh) Banned(server string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reason, ok := m.banned[server]
	return reason, ok
}

// Peers reports the servers with an established link.
func (m *Mesh) Peers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.links))
	for server, l := range m.links {
		if l.connected() {
			out = append(out, server)
		}
	}
	return out
}

// ensureLink returns the link for a server, dialing in the background
// when there is none yet.
func (m *Mesh) ensureLink(server string) (*link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, protocol.Transient("federation is shut down")
	}
	if reason, ok := m.banned[server]; ok {
		return nil, protocol.Permanent("server %s is banned: %s", server, reason)
	}
	if l, ok := m.links[server]; ok {
		return l, nil
	}
	l := newLink(m, server, true)
	m.links[server] = l
	go l.run()
	return l, nil
}

// adopt installs an accepted inbound link, replacing any dialed one.
func (m *Mesh) adopt(l *link) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	if _, ok := m.banned[l.server]; ok {
		return false
	}
	if prev, ok := m.links[l.server]; ok && prev.connected() {
		return false
	} else if ok {
		prev.shut("replaced by inbound link")
	}
	m.links[l.server] = l
	return true
}

func (m *Mesh) forget(l *link) {
	m.mu.Lock()
	if m.links[l.server] == l {
		delete(m.links, l.server)
	}
	m.mu.Unlock()
}

// Shutdown closes every link.
func (m *Mesh) Shutdown() {
	m.mu.Lock()
	m.closed = true
	links := make([]*link, 0, len(m.links))
	for _, l := range m.links {
		links = append(links, l)
	}
	m.links = map[string]*link{}
	m.mu.Unlock()
	for _, l := range links {
		l.shut("server shutting down")
	}
}

// Visit implements session.Remotes.
func (m *Mesh) Visit(server string, p access.Principal, avatar []byte, lnk puzzle.Link, push func(protocol.ServerMessage) bool) error {
	l, err := m.ensureLink(server)
	if err != nil {
		return err
	}
	return l.startVisit(p, avatar, lnk, push)
}

// Forward implements session.Remotes.
func (m *Mesh) Forward(server string, p access.Principal, msg protocol.ClientMessage) error {
	l, err := m.ensureLink(server)
	if err != nil {
		return err
	}
	return l.forwardVisit(p, msg)
}

// Leave implements session.Remotes.
func (m *Mesh) Leave(server string, p access.Principal) {
	m.mu.Lock()
	l, ok := m.links[server]
	m.mu.Unlock()
	if ok {
		l.endVisit(p)
	}
}

// SendDirect implements session.Remotes.
func (m *Mesh) SendDirect(server string, d protocol.ChatDelivery) error {
	l, err := m.ensureLink(server)
	if err != nil {
		return err
	}
	return l.send(d)
}

// Calendar implements session.Remotes.
func (m *Mesh) Calendar(ctx context.Context, server string, realms []protocol.RealmRef) ([]protocol.CalendarEntry, error) {
	l, err := m.ensureLink(server)
	if err != nil {
		return nil, err
	}
	return l.fetchCalendar(ctx, server, realms)
}

// CheckRemoteACL asks a server whether one of our players would pass
// its ACLs. Owner and assetID are empty for a server-level check.
func (m *Mesh) CheckRemoteACL(ctx context.Context, server, player, owner, assetID string) (bool, error) {
	l, err := m.ensureLink(server)
	if err != nil {
		return false, err
	}
	return l.probeACL(ctx, player, owner, assetID)
}

type assetAnswer struct {
	data []byte
	miss bool
}

// Fetch asks every connected peer for an asset and returns the first
// verified answer.
func (m *Mesh) Fetch(ctx context.Context, id asset.ID) ([]byte, error) {
	m.mu.Lock()
	links := make([]*link, 0, len(m.links))
	for _, l := range m.links {
		if l.connected() {
			links = append(links, l)
		}
	}
	m.mu.Unlock()
	if len(links) == 0 {
		return nil, fmt.Errorf("%w: no peers to ask", asset.ErrMissing)
	}

	ch := make(chan assetAnswer, len(links))
	asked := 0
	for _, l := range links {
		if err := l.askAsset(id, ch); err == nil {
			asked++
		}
	}
	if asked == 0 {
		return nil, fmt.Errorf("%w: no peers to ask", asset.ErrMissing)
	}

	timer := time.NewTimer(m.cfg.AssetWait)
	defer timer.Stop()
	misses := 0
	for {
		select {
		case ans := <-ch:
			if ans.miss {
				misses++
				if misses == asked {
					return nil, fmt.Errorf("%w: every peer missed", asset.ErrMissing)
				}
				continue
			}
			data, err := decompress(ans.data)
			if err != nil {
				m.log.Printf("[peer] asset %s: %v", id, err)
				continue
			}
			if err := id.Verify(data); err != nil {
				m.log.Printf("[peer] asset %s: %v", id, err)
				continue
			}
			return data, nil
		case <-timer.C:
			return nil, fmt.Errorf("%w: swarm timed out", asset.ErrMissing)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Fetcher resolves assets from the local blob store first, recruiting
// the swarm on a miss and caching the result.
type Fetcher struct {
	Local Blobs
	Mesh  *Mesh
}

// Pull implements session.AssetFetcher.
func (f Fetcher) Pull(ctx context.Context, id asset.ID) ([]byte, error) {
	data, err := f.Local.Get(ctx, id)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, asset.ErrMissing) || f.Mesh == nil {
		return nil, err
	}
	data, err = f.Mesh.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := f.Local.Put(ctx, id, data); err != nil {
		f.Mesh.log.Printf("[peer] cache asset %s: %v", id, err)
	}
	return data, nil
}
