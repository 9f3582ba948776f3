package peer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/pierrec/lz4/v4"

	"spadina.network/internal/access"
	"spadina.network/internal/asset"
	"spadina.network/internal/protocol"
	"spadina.network/internal/puzzle"
	"spadina.network/internal/session"
)

// visit is one of our players on the peer's server.
type visit struct {
	principal access.Principal
	push      func(protocol.ServerMessage) bool
}

// link is the connection to one peer server. Dialed links reconnect
// with backoff; accepted links die with their connection.
type link struct {
	mesh   *Mesh
	server string
	dialed bool
	done   chan struct{}
	once   sync.Once

	mu         sync.Mutex
	conn       *websocket.Conn
	nextID     uint32
	calendars  map[uint32]chan []protocol.CalendarEntry
	acls       map[uint32]chan bool
	assetWaits map[string][]chan assetAnswer
	visits     map[string]*visit
	hosted     map[string]*session.Session

	writeMu sync.Mutex
}

func newLink(m *Mesh, server string, dialed bool) *link {
	return &link{
		mesh:       m,
		server:     server,
		dialed:     dialed,
		done:       make(chan struct{}),
		calendars:  map[uint32]chan []protocol.CalendarEntry{},
		acls:       map[uint32]chan bool{},
		assetWaits: map[string][]chan assetAnswer{},
		visits:     map[string]*visit{},
		hosted:     map[string]*session.Session{},
	}
}

func (l *link) connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

func (l *link) shut(reason string) {
	l.once.Do(func() {
		l.mesh.log.Printf("[peer %s] closing link: %s", l.server, reason)
		close(l.done)
	})
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// run is the dialed-link lifecycle: connect, serve, reconnect.
func (l *link) run() {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 5 * time.Minute
	bo.MaxElapsedTime = 0
	for {
		select {
		case <-l.done:
			return
		default:
		}
		conn, err := l.dial()
		if err != nil {
			l.mesh.log.Printf("[peer %s] dial: %v", l.server, err)
		} else {
			bo.Reset()
			l.attach(conn)
			l.readLoop(conn)
			l.detach(conn)
		}
		select {
		case <-l.done:
			l.mesh.forget(l)
			return
		case <-time.After(bo.NextBackOff()):
		}
	}
}

// dial opens and handshakes a connection to the peer.
func (l *link) dial() (*websocket.Conn, error) {
	token, err := l.mesh.cfg.Tokens.IssuePeer(l.server)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.Dial(l.mesh.cfg.Resolve(l.server), nil)
	if err != nil {
		return nil, err
	}
	hello := protocol.PeerHello{Server: l.mesh.cfg.LocalServer, Version: protocol.Version, Token: token}
	frame, err := protocol.EncodePeer(hello)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		conn.Close()
		return nil, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(dialTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("await hello: %w", err)
	}
	reply, err := protocol.DecodePeer(data)
	if err != nil {
		conn.Close()
		return nil, err
	}
	theirs, ok := reply.(*protocol.PeerHello)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("peer answered %T instead of a hello", reply)
	}
	named, err := l.mesh.cfg.Verifier.VerifyPeer(theirs.Token)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("peer token: %w", err)
	}
	if named != l.server {
		conn.Close()
		return nil, fmt.Errorf("peer token names %s, dialed %s", named, l.server)
	}
	return conn, nil
}

func (l *link) attach(conn *websocket.Conn) {
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	l.mesh.log.Printf("[peer %s] link up", l.server)
}

// detach fails everything waiting on the dead connection.
func (l *link) detach(conn *websocket.Conn) {
	l.mu.Lock()
	if l.conn == conn {
		l.conn = nil
	}
	calendars := l.calendars
	acls := l.acls
	waits := l.assetWaits
	visits := l.visits
	hosted := l.hosted
	l.calendars = map[uint32]chan []protocol.CalendarEntry{}
	l.acls = map[uint32]chan bool{}
	l.assetWaits = map[string][]chan assetAnswer{}
	l.visits = map[string]*visit{}
	l.hosted = map[string]*session.Session{}
	l.mu.Unlock()

	for _, ch := range calendars {
		close(ch)
	}
	for _, ch := range acls {
		close(ch)
	}
	for _, chans := range waits {
		for _, ch := range chans {
			ch <- assetAnswer{miss: true}
		}
	}
	for _, v := range visits {
		v.push(protocol.Kicked{Reason: "connection to " + l.server + " lost"})
	}
	for _, s := range hosted {
		s.Close("home server disconnected")
	}
	l.mesh.log.Printf("[peer %s] link down", l.server)
}

// serve runs an accepted inbound connection until it dies.
func (l *link) serve(conn *websocket.Conn) {
	l.attach(conn)
	l.readLoop(conn)
	l.detach(conn)
	l.mesh.forget(l)
}

func (l *link) readLoop(conn *websocket.Conn) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		frame, err := protocol.DecodePeer(data)
		if err != nil {
			l.mesh.log.Printf("[peer %s] %v", l.server, err)
			continue
		}
		l.handle(frame)
	}
}

// send writes one frame; writes are serialized on the connection.
func (l *link) send(f protocol.PeerFrame) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return protocol.Transient("no link to %s", l.server)
	}
	data, err := protocol.EncodePeer(f)
	if err != nil {
		return err
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return protocol.Transient("write to %s: %v", l.server, err)
	}
	return nil
}

func (l *link) handle(f protocol.PeerFrame) {
	switch v := f.(type) {
	case *protocol.AssetHave:
		go l.answerAsset(v.Asset)
	case *protocol.AssetMiss:
		l.resolveAsset(v.Asset, assetAnswer{miss: true})
	case *protocol.AssetBlob:
		l.resolveAsset(v.Asset, assetAnswer{data: v.Compressed})
	case *protocol.VisitorJoin:
		l.handleVisitorJoin(v)
	case *protocol.VisitorLeave:
		l.handleVisitorLeave(v.Player)
	case *protocol.VisitorEnvelope:
		l.handleEnvelope(v)
	case *protocol.ChatDelivery:
		l.handleChat(v)
	case *protocol.CalendarFetch:
		go l.answerCalendar(v)
	case *protocol.CalendarEntries:
		l.resolveCalendar(v)
	case *protocol.ACLProbe:
		go l.answerACL(v)
	case *protocol.ACLVerdict:
		l.resolveACL(v)
	case *protocol.BanAnnounce:
		l.mesh.log.Printf("[peer %s] announced %d bans", l.server, len(v.Bans))
	case *protocol.PeerHello:
		// Handshake is over; a repeat hello is noise.
	default:
		l.mesh.log.Printf("[peer %s] unhandled %T", l.server, f)
	}
}

func (l *link) nextRequestID() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	return l.nextID
}

// startVisit opens a remote-player session for one of our players.
// Visits are keyed by the player's local name: that is the name the
// peer echoes back.
func (l *link) startVisit(p access.Principal, avatar []byte, lnk puzzle.Link, push func(protocol.ServerMessage) bool) error {
	l.mu.Lock()
	l.visits[p.Player] = &visit{principal: p, push: push}
	l.mu.Unlock()
	err := l.send(protocol.VisitorJoin{
		Player: p.Player,
		Target: protocol.LocationFrom(lnk),
		Avatar: avatar,
	})
	if err != nil {
		l.mu.Lock()
		delete(l.visits, p.Player)
		l.mu.Unlock()
	}
	return err
}

func (l *link) forwardVisit(p access.Principal, msg protocol.ClientMessage) error {
	l.mu.Lock()
	_, ok := l.visits[p.Player]
	l.mu.Unlock()
	if !ok {
		return protocol.Permanent("no active visit on %s", l.server)
	}
	body, err := protocol.EncodeClient(msg)
	if err != nil {
		return err
	}
	return l.send(protocol.VisitorEnvelope{Player: p.Player, Body: body})
}

func (l *link) endVisit(p access.Principal) {
	l.mu.Lock()
	_, ok := l.visits[p.Player]
	delete(l.visits, p.Player)
	l.mu.Unlock()
	if ok {
		_ = l.send(protocol.VisitorLeave{Player: p.Player})
	}
}

// handleVisitorJoin hosts a visiting player from the peer.
func (l *link) handleVisitorJoin(v *protocol.VisitorJoin) {
	p := access.Principal{Player: v.Player, Server: l.server}
	s := l.mesh.cfg.Hub.ConnectRemote(p, v.Avatar)
	l.mu.Lock()
	prev := l.hosted[v.Player]
	l.hosted[v.Player] = s
	l.mu.Unlock()
	if prev != nil {
		prev.Close("rejoined")
	}
	go l.pumpHosted(v.Player, s)

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	s.Handle(ctx, &protocol.LocationChange{Target: v.Target})
}

// pumpHosted relays a hosted visitor's outbound frames back to their
// server.
func (l *link) pumpHosted(player string, s *session.Session) {
	for {
		select {
		case frame := <-s.Out():
			if err := l.send(protocol.VisitorEnvelope{Player: player, Body: frame}); err != nil {
				s.Close("relay failed")
				return
			}
		case <-s.Done():
			if frame := s.LostFrame(); frame != nil {
				_ = l.send(protocol.VisitorEnvelope{Player: player, Body: frame})
			}
			_ = l.send(protocol.VisitorLeave{Player: player})
			l.mu.Lock()
			if l.hosted[player] == s {
				delete(l.hosted, player)
			}
			l.mu.Unlock()
			return
		case <-l.done:
			s.Close("link closed")
			return
		}
	}
}

func (l *link) handleVisitorLeave(player string) {
	l.mu.Lock()
	s := l.hosted[player]
	delete(l.hosted, player)
	delete(l.visits, player)
	l.mu.Unlock()
	if s != nil {
		s.Close("visit ended")
	}
}

func (l *link) handleEnvelope(env *protocol.VisitorEnvelope) {
	// Frames for our visitors carry server messages; frames from their
	// visitors carry client messages.
	l.mu.Lock()
	ourVisit := l.visits[env.Player]
	hosted := l.hosted[env.Player]
	l.mu.Unlock()

	if ourVisit != nil {
		_, msg, err := protocol.DecodeServer(env.Body)
		if err != nil {
			l.mesh.log.Printf("[peer %s] visitor frame: %v", l.server, err)
			return
		}
		if !ourVisit.push(msg) {
			l.endVisit(ourVisit.principal)
		}
		return
	}
	if hosted == nil {
		return
	}
	msg, err := protocol.DecodeClient(env.Body)
	if err != nil {
		l.mesh.log.Printf("[peer %s] hosted frame: %v", l.server, err)
		return
	}
	switch msg.(type) {
	case *protocol.InLocation, *protocol.LocationMessageSend, *protocol.LocationMessagesGet:
	default:
		// Visitors only get the in-realm vocabulary here; everything
		// else belongs to their own server.
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	hosted.Handle(ctx, msg)
}

func (l *link) handleChat(d *protocol.ChatDelivery) {
	sender, err := access.ParsePrincipal(d.Sender)
	if err != nil {
		return
	}
	// The link authenticated the peer; the sender cannot claim another
	// server.
	sender.Server = l.server
	fresh, err := l.mesh.cfg.Store.SaveIncomingChat(d.Recipient, sender.String(), d.Body, d.Created)
	if err != nil {
		l.mesh.log.Printf("[peer %s] chat delivery: %v", l.server, err)
		return
	}
	if fresh {
		l.mesh.cfg.Hub.DeliverDirect(d.Recipient, sender.String(), d.Body, d.Created)
	}
}

func (l *link) answerAsset(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	data, err := l.mesh.cfg.Blobs.Get(ctx, asset.ID(id))
	if err != nil {
		_ = l.send(protocol.AssetMiss{Asset: id})
		return
	}
	packed, err := compress(data)
	if err != nil {
		_ = l.send(protocol.AssetMiss{Asset: id})
		return
	}
	_ = l.send(protocol.AssetBlob{Asset: id, Compressed: packed})
}

func (l *link) askAsset(id asset.ID, ch chan assetAnswer) error {
	l.mu.Lock()
	l.assetWaits[string(id)] = append(l.assetWaits[string(id)], ch)
	l.mu.Unlock()
	return l.send(protocol.AssetHave{Asset: string(id)})
}

func (l *link) resolveAsset(id string, ans assetAnswer) {
	l.mu.Lock()
	chans := l.assetWaits[id]
	delete(l.assetWaits, id)
	l.mu.Unlock()
	for _, ch := range chans {
		ch <- ans
	}
}

func (l *link) fetchCalendar(ctx context.Context, server string, realms []protocol.RealmRef) ([]protocol.CalendarEntry, error) {
	id := l.nextRequestID()
	ch := make(chan []protocol.CalendarEntry, 1)
	l.mu.Lock()
	l.calendars[id] = ch
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.calendars, id)
		l.mu.Unlock()
	}()

	if err := l.send(protocol.CalendarFetch{ID: id, Realms: realms}); err != nil {
		return nil, err
	}
	select {
	case entries, ok := <-ch:
		if !ok {
			return nil, protocol.Transient("link to %s dropped", server)
		}
		for i := range entries {
			entries[i].Server = server
		}
		return entries, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *link) answerCalendar(v *protocol.CalendarFetch) {
	entries := make([]protocol.CalendarEntry, 0, len(v.Realms))
	for _, ref := range v.Realms {
		anns, err := l.mesh.cfg.Store.RealmAnnouncements(ref.Owner, ref.Asset)
		if err != nil {
			continue
		}
		entries = append(entries, protocol.CalendarEntry{Realm: ref, Announcements: anns})
	}
	_ = l.send(protocol.CalendarEntries{ID: v.ID, Entries: entries})
}

func (l *link) resolveCalendar(v *protocol.CalendarEntries) {
	l.mu.Lock()
	ch, ok := l.calendars[v.ID]
	delete(l.calendars, v.ID)
	l.mu.Unlock()
	if ok {
		ch <- v.Entries
	}
}

func (l *link) probeACL(ctx context.Context, player, owner, assetID string) (bool, error) {
	id := l.nextRequestID()
	ch := make(chan bool, 1)
	l.mu.Lock()
	l.acls[id] = ch
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.acls, id)
		l.mu.Unlock()
	}()

	if err := l.send(protocol.ACLProbe{ID: id, Player: player, Owner: owner, Asset: assetID}); err != nil {
		return false, err
	}
	select {
	case allowed, ok := <-ch:
		if !ok {
			return false, protocol.Transient("link to %s dropped", l.server)
		}
		return allowed, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (l *link) answerACL(v *protocol.ACLProbe) {
	p := access.Principal{Player: v.Player, Server: l.server}
	now := l.mesh.now()
	serverList, err := l.mesh.cfg.Store.ServerAccess(access.TargetAccessServer)
	if err != nil {
		_ = l.send(protocol.ACLVerdict{ID: v.ID, Allowed: false})
		return
	}
	allowed := serverList.Check(p, l.mesh.cfg.LocalServer, now)
	if allowed && v.Owner != "" {
		realmList, err := l.mesh.cfg.Store.RealmAccess(v.Owner, v.Asset)
		if err != nil {
			allowed = false
		} else {
			allowed = realmList.Check(p, l.mesh.cfg.LocalServer, now)
		}
	}
	_ = l.send(protocol.ACLVerdict{ID: v.ID, Allowed: allowed})
}

func (l *link) resolveACL(v *protocol.ACLVerdict) {
	l.mu.Lock()
	ch, ok := l.acls[v.ID]
	delete(l.acls, v.ID)
	l.mu.Unlock()
	if ok {
		ch <- v.Allowed
	}
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
}
