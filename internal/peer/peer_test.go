package peer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"spadina.network/internal/access"
	"spadina.network/internal/asset"
	"spadina.network/internal/directory"
	"spadina.network/internal/protocol"
	"spadina.network/internal/session"
)

const (
	local  = "here.example"
	remote = "far.example"
)

type fakeTokens struct{}

func (fakeTokens) IssuePeer(string) (string, error) { return "tok:" + local, nil }

type remoteTokens struct{}

func (remoteTokens) IssuePeer(string) (string, error) { return "tok:" + remote, nil }

type fakeVerifier struct{}

func (fakeVerifier) VerifyPeer(token string) (string, error) {
	name, ok := strings.CutPrefix(token, "tok:")
	if !ok {
		return "", fmt.Errorf("bad token %q", token)
	}
	return name, nil
}

type fakeAssets struct {
	templates map[asset.ID]*asset.Template
}

func (f *fakeAssets) Template(_ context.Context, id asset.ID) (*asset.Template, error) {
	tpl, ok := f.templates[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", asset.ErrMissing, id)
	}
	return tpl, nil
}

type fakeRealmStore struct{}

func (fakeRealmStore) RealmRow(_, _ string, seed int64) ([]byte, int64, error) {
	return nil, seed, nil
}

func (fakeRealmStore) SaveRealmState(string, string, []byte) error { return nil }

func (fakeRealmStore) RealmAccess(string, string) (access.List, error) {
	return access.List{Rules: []access.Rule{{Kind: access.MatchAll, Allow: true}}}, nil
}

func (fakeRealmStore) PlayerDebuted(string) (bool, error) { return true, nil }

func (fakeRealmStore) SetDebuted(string) error { return nil }

func (fakeRealmStore) PlayerTrainIndex(string) (int, error) { return -1, nil }

func (fakeRealmStore) SetPlayerTrainIndex(string, int) error { return nil }

// stubStore backs both the hub and the mesh.
type stubStore struct {
	mu    sync.Mutex
	chat  map[string][]string
	bans  []protocol.Ban
	anns  map[string][]protocol.Announcement
	fresh map[string]bool
}

func newStubStore() *stubStore {
	return &stubStore{
		chat:  map[string][]string{},
		anns:  map[string][]protocol.Announcement{},
		fresh: map[string]bool{},
	}
}

func (s *stubStore) SaveIncomingChat(recipient, sender, body string, created time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sender + "/" + recipient + "/" + created.UTC().Format(time.RFC3339Nano)
	if s.fresh[key] {
		return false, nil
	}
	s.fresh[key] = true
	s.chat[recipient] = append(s.chat[recipient], body)
	return true, nil
}

func (s *stubStore) RealmAnnouncements(owner, assetID string) ([]protocol.Announcement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.anns[owner+"/"+assetID], nil
}

func (s *stubStore) RealmAccess(string, string) (access.List, error) {
	return access.List{Rules: []access.Rule{{Kind: access.MatchAll, Allow: true}}}, nil
}

func (s *stubStore) ServerAccess(access.Target) (access.List, error) {
	return access.List{DefaultAllow: true}, nil
}

func (s *stubStore) BannedPeers() ([]protocol.Ban, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bans, nil
}

func (s *stubStore) chatFor(recipient string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.chat[recipient]...)
}

// Session-store surface; only what these tests touch does anything.
func (s *stubStore) Bookmarks(string) ([]protocol.Bookmark, error) { return nil, nil }

func (s *stubStore) MutateBookmark(string, bool, protocol.Bookmark) error { return nil }

func (s *stubStore) SetRealmAccess(string, string, access.List) error { return nil }

func (s *stubStore) Avatar(string) ([]byte, error) { return nil, nil }

func (s *stubStore) SetAvatar(string, []byte) error { return nil }

func (s *stubStore) MarkRead(string, string, time.Time) error { return nil }

func (s *stubStore) PublicKeys(string) ([]string, error) { return nil, nil }

func (s *stubStore) AddPublicKey(string, string, []byte) error { return nil }

func (s *stubStore) DeletePublicKey(string, string) error { return nil }

func (s *stubStore) PlayerAccess(string, access.Target) (access.List, error) {
	return access.List{DefaultAllow: true}, nil
}

func (s *stubStore) SetPlayerAccess(string, access.Target, access.List) error { return nil }

func (s *stubStore) RecordDirectMessage(string, string, string, time.Time, bool) error {
	return nil
}

func (s *stubStore) DirectMessages(string, string, time.Time, time.Time) ([]protocol.DirectMessage, error) {
	return nil, nil
}

func (s *stubStore) CalendarSubscriptions(string) ([]session.SubscribedRealm, error) {
	return nil, nil
}

func (s *stubStore) MutateCalendarSubscription(string, bool, session.SubscribedRealm) error {
	return nil
}

type memBlobs struct {
	mu    sync.Mutex
	blobs map[asset.ID][]byte
}

func (m *memBlobs) Get(_ context.Context, id asset.ID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[id]
	if !ok {
		return nil, asset.ErrMissing
	}
	return data, nil
}

func (m *memBlobs) Put(_ context.Context, id asset.ID, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blobs == nil {
		m.blobs = map[asset.ID][]byte{}
	}
	m.blobs[id] = data
	return nil
}

func testMesh(t *testing.T, store *stubStore, blobs *memBlobs) (*Mesh, *session.Hub) {
	t.Helper()
	home := asset.ComputeID([]byte("home template"))
	dir, err := directory.New(directory.Config{
		LocalServer: local,
		HomeAsset:   string(home),
		Assets: &fakeAssets{templates: map[asset.ID]*asset.Template{
			home: {Name: "home", Points: []asset.TemplatePoint{{ID: 0}}, DefaultSpawn: 0},
		}},
		Store: fakeRealmStore{},
	})
	if err != nil {
		t.Fatalf("directory: %v", err)
	}
	hub, err := session.NewHub(session.Config{
		LocalServer: local,
		Directory:   dir,
		Assets:      Fetcher{Local: blobs},
		Store:       store,
	})
	if err != nil {
		t.Fatalf("hub: %v", err)
	}
	mesh, err := New(Config{
		LocalServer: local,
		Hub:         hub,
		Store:       store,
		Blobs:       blobs,
		Tokens:      fakeTokens{},
		Verifier:    fakeVerifier{},
		AssetWait:   500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("mesh: %v", err)
	}
	t.Cleanup(func() {
		mesh.Shutdown()
		hub.Shutdown()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		dir.Shutdown(ctx)
	})
	return mesh, hub
}

// fakePeer is a scripted remote server endpoint.
type fakePeer struct {
	t      *testing.T
	srv    *httptest.Server
	script func(conn *websocket.Conn)
}

func startFakePeer(t *testing.T, script func(conn *websocket.Conn)) *fakePeer {
	t.Helper()
	p := &fakePeer{t: t, script: script}
	p.srv = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Handshake: read their hello, answer with ours.
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if _, err := protocol.DecodePeer(data); err != nil {
			t.Errorf("hello: %v", err)
			return
		}
		reply, _ := protocol.EncodePeer(protocol.PeerHello{Server: remote, Version: protocol.Version, Token: "tok:" + remote})
		if err := conn.WriteMessage(websocket.BinaryMessage, reply); err != nil {
			return
		}
		script(conn)
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakePeer) url() string {
	return "ws" + strings.TrimPrefix(p.srv.URL, "http")
}

func readFrame(t *testing.T, conn *websocket.Conn) protocol.PeerFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	frame, err := protocol.DecodePeer(data)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return frame
}

func writeFrame(t *testing.T, conn *websocket.Conn, f protocol.PeerFrame) {
	t.Helper()
	data, err := protocol.EncodePeer(f)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never held")
}

func TestSwarmFetch(t *testing.T) {
	payload := []byte("a realm template blob")
	id := asset.ComputeID(payload)

	peer := startFakePeer(t, func(conn *websocket.Conn) {
		for {
			_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frame, err := protocol.DecodePeer(data)
			if err != nil {
				continue
			}
			if have, ok := frame.(*protocol.AssetHave); ok && have.Asset == string(id) {
				packed, _ := compress(payload)
				out, _ := protocol.EncodePeer(protocol.AssetBlob{Asset: string(id), Compressed: packed})
				_ = conn.WriteMessage(websocket.BinaryMessage, out)
			}
		}
	})

	blobs := &memBlobs{}
	mesh, _ := testMesh(t, newStubStore(), blobs)
	mesh.cfg.Resolve = func(string) string { return peer.url() }

	if _, err := mesh.ensureLink(remote); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(mesh.Peers()) == 1 })

	got, err := mesh.Fetch(context.Background(), id)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("fetched %q", got)
	}

	// The composite fetcher caches swarm hits locally.
	f := Fetcher{Local: blobs, Mesh: mesh}
	if _, err := f.Pull(context.Background(), id); err != nil {
		t.Fatalf("pull: %v", err)
	}
	if _, err := blobs.Get(context.Background(), id); err != nil {
		t.Fatalf("not cached: %v", err)
	}
}

func TestSwarmRejectsCorruptBlob(t *testing.T) {
	payload := []byte("good bytes")
	id := asset.ComputeID(payload)

	peer := startFakePeer(t, func(conn *websocket.Conn) {
		for {
			_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frame, err := protocol.DecodePeer(data)
			if err != nil {
				continue
			}
			if _, ok := frame.(*protocol.AssetHave); ok {
				packed, _ := compress([]byte("tampered bytes"))
				out, _ := protocol.EncodePeer(protocol.AssetBlob{Asset: string(id), Compressed: packed})
				_ = conn.WriteMessage(websocket.BinaryMessage, out)
			}
		}
	})

	mesh, _ := testMesh(t, newStubStore(), &memBlobs{})
	mesh.cfg.Resolve = func(string) string { return peer.url() }
	if _, err := mesh.ensureLink(remote); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(mesh.Peers()) == 1 })

	if _, err := mesh.Fetch(context.Background(), id); err == nil {
		t.Fatal("corrupt blob accepted")
	}
}

func TestChatDeliveryDedupes(t *testing.T) {
	created := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	delivered := make(chan struct{})
	peer := startFakePeer(t, func(conn *websocket.Conn) {
		d := protocol.ChatDelivery{Sender: "carol", Recipient: "bob", Body: "hello", Created: created}
		for i := 0; i < 2; i++ {
			out, _ := protocol.EncodePeer(d)
			_ = conn.WriteMessage(websocket.BinaryMessage, out)
		}
		close(delivered)
		time.Sleep(time.Second)
	})

	store := newStubStore()
	mesh, hub := testMesh(t, store, &memBlobs{})
	mesh.cfg.Resolve = func(string) string { return peer.url() }
	bob := hub.Connect("bob", false)
	if _, err := mesh.ensureLink(remote); err != nil {
		t.Fatal(err)
	}
	<-delivered
	waitFor(t, func() bool { return len(store.chatFor("bob")) == 1 })

	select {
	case frame := <-bob.Out():
		_, m, err := protocol.DecodeServer(frame)
		if err != nil {
			t.Fatal(err)
		}
		got, ok := m.(*protocol.DirectMessageReceived)
		if !ok || got.From != "carol@"+remote || got.Body != "hello" {
			t.Fatalf("delivered %#v", m)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("nothing delivered")
	}
	select {
	case frame := <-bob.Out():
		_, m, _ := protocol.DecodeServer(frame)
		t.Fatalf("redelivered %#v", m)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestBannedServerRefused(t *testing.T) {
	store := newStubStore()
	store.bans = []protocol.Ban{{Server: remote, Reason: "spam"}}
	mesh, _ := testMesh(t, store, &memBlobs{})

	err := mesh.SendDirect(remote, protocol.ChatDelivery{})
	if err == nil {
		t.Fatal("send to banned server succeeded")
	}
	if kind := protocol.KindOf(err); kind != protocol.KindPermanent {
		t.Fatalf("kind = %v", kind)
	}
}

func TestVisitReceivesHostFrames(t *testing.T) {
	joined := make(chan *protocol.VisitorJoin, 1)
	peer := startFakePeer(t, func(conn *websocket.Conn) {
		frame := readFrameNoT(conn)
		join, ok := frame.(*protocol.VisitorJoin)
		if !ok {
			return
		}
		joined <- join
		snap, _ := protocol.EncodeServer(1, protocol.RealmSnapshot{Name: "plaza", Owner: "host", Asset: "cc"})
		out, _ := protocol.EncodePeer(protocol.VisitorEnvelope{Player: join.Player, Body: snap})
		_ = conn.WriteMessage(websocket.BinaryMessage, out)
		time.Sleep(time.Second)
	})

	mesh, _ := testMesh(t, newStubStore(), &memBlobs{})
	mesh.cfg.Resolve = func(string) string { return peer.url() }
	if _, err := mesh.ensureLink(remote); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(mesh.Peers()) == 1 })

	got := make(chan protocol.ServerMessage, 4)
	err := mesh.Visit(remote, access.Principal{Player: "alice"}, nil,
		(protocol.Location{Kind: protocol.LocationRealm, Owner: "host", Asset: "cc"}).Link(),
		func(m protocol.ServerMessage) bool { got <- m; return true })
	if err != nil {
		t.Fatalf("visit: %v", err)
	}

	select {
	case join := <-joined:
		if join.Player != "alice" || join.Target.Owner != "host" {
			t.Fatalf("join = %+v", join)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no visitor join")
	}
	select {
	case m := <-got:
		snap, ok := m.(*protocol.RealmSnapshot)
		if !ok || snap.Name != "plaza" {
			t.Fatalf("pushed %#v", m)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no pushed frame")
	}
}

func readFrameNoT(conn *websocket.Conn) protocol.PeerFrame {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil
	}
	frame, err := protocol.DecodePeer(data)
	if err != nil {
		return nil
	}
	return frame
}

func TestInboundHostsVisitor(t *testing.T) {
	store := newStubStore()
	mesh, _ := testMesh(t, store, &memBlobs{})
	host := httptest.NewServer(mesh.Handler())
	defer host.Close()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial("ws"+strings.TrimPrefix(host.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	writeFrame(t, conn, protocol.PeerHello{Server: remote, Version: protocol.Version, Token: "tok:" + remote})
	hello, ok := readFrame(t, conn).(*protocol.PeerHello)
	if !ok || hello.Server != local {
		t.Fatalf("handshake answer %#v", hello)
	}

	home := asset.ComputeID([]byte("home template"))
	writeFrame(t, conn, protocol.VisitorJoin{
		Player: "carol",
		Target: protocol.Location{Kind: protocol.LocationRealm, Owner: "bob", Asset: string(home)},
	})

	// The host admits the visitor and relays the realm snapshot back.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		frame := readFrame(t, conn)
		env, ok := frame.(*protocol.VisitorEnvelope)
		if !ok {
			continue
		}
		if env.Player != "carol" {
			t.Fatalf("envelope for %q", env.Player)
		}
		_, m, err := protocol.DecodeServer(env.Body)
		if err != nil {
			t.Fatal(err)
		}
		if snap, ok := m.(*protocol.RealmSnapshot); ok {
			if snap.Owner != "bob" || snap.Name != "home" {
				t.Fatalf("snapshot = %+v", snap)
			}
			return
		}
	}
	t.Fatal("no snapshot relayed")
}

func TestInboundRejectsBadToken(t *testing.T) {
	mesh, _ := testMesh(t, newStubStore(), &memBlobs{})
	host := httptest.NewServer(mesh.Handler())
	defer host.Close()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial("ws"+strings.TrimPrefix(host.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	writeFrame(t, conn, protocol.PeerHello{Server: remote, Version: protocol.Version, Token: "forged"})
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("handshake with forged token succeeded")
	}
}
