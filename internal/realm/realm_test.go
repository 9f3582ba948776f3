package realm

import (
	"log"
	"testing"
	"time"

	"spadina.network/internal/access"
	"spadina.network/internal/asset"
	"spadina.network/internal/nav"
	"spadina.network/internal/puzzle"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) time.Time {
	c.t = c.t.Add(d)
	return c.t
}

type testClient struct {
	updates []Update
	reject  bool
}

func (c *testClient) Deliver(u Update) bool {
	if c.reject {
		return false
	}
	c.updates = append(c.updates, u)
	return true
}

func (c *testClient) lastGate(name string) (open, seen bool) {
	for _, u := range c.updates {
		if g, ok := u.(GateChanged); ok && g.Name == name {
			open, seen = g.Open, true
		}
	}
	return open, seen
}

func (c *testClient) lastPath() (CommittedPath, bool) {
	var out CommittedPath
	found := false
	for _, u := range c.updates {
		if p, ok := u.(CommittedPath); ok {
			out, found = p, true
		}
	}
	return out, found
}

type memSaver struct{ data []byte }

func (s *memSaver) SaveRealmState(d []byte) error {
	s.data = append([]byte(nil), d...)
	return nil
}

func allowAll() access.List {
	return access.List{Rules: []access.Rule{{Kind: access.MatchAll, Allow: true}}}
}

// doorTemplate wires a button at point 1 to a 30 s timer driving the
// "door" gate on the edge to point 2.
func doorTemplate() *asset.Template {
	return &asset.Template{
		Name: "door-lobby",
		Pieces: []puzzle.Def{
			{ID: 1, Kind: puzzle.KindButton, Enabled: true, Matcher: puzzle.AnyPlayer()},
			{ID: 2, Kind: puzzle.KindTimer, Frequency: 1},
			{ID: 3, Kind: puzzle.KindSink, ValueType: puzzle.ListBool, Name: "door"},
		},
		Propagation: []puzzle.PropagationRule{
			{Sender: 1, Trigger: puzzle.EventChanged, Recipient: 2, Causes: puzzle.CmdSet,
				Transformer: puzzle.Transformer{Kind: puzzle.TransformEmptyToNum, Num: 30}},
			{Sender: 2, Trigger: puzzle.EventChanged, Recipient: 3, Causes: puzzle.CmdSet,
				Transformer: puzzle.Transformer{Kind: puzzle.TransformNumToBool, Compare: puzzle.Comparison{Op: puzzle.CompareGreaterThan}, Num: 0}},
		},
		Consequences: []puzzle.ConsequenceRule{
			{Sender: 3, Trigger: puzzle.EventChanged, Target: puzzle.ConsequenceGate, Name: "door"},
		},
		Points: []asset.TemplatePoint{
			{ID: 0},
			{ID: 1, Piece: 1, HasPiece: true},
			{ID: 2},
		},
		Edges: []asset.TemplateEdge{
			{ID: "a", A: 0, B: 1, Cost: 10},
			{ID: "b", A: 1, B: 2, Cost: 10, Gate: "door"},
		},
		DefaultSpawn: 1,
	}
}

func testRealm(t *testing.T, tpl *asset.Template, clock *fakeClock, mutate func(*Config)) *Realm {
	t.Helper()
	cfg := Config{
		Name:         tpl.Name,
		Owner:        "owner",
		LocalServer:  "here.example",
		Seed:         7,
		Template:     tpl,
		AccessList:   allowAll(),
		ServerAccess: allowAll(),
		Log:          log.New(testWriter{t}, "[realm] ", 0),
		Clock:        clock.Now,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	r, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", p)
	return len(p), nil
}

func join(t *testing.T, r *Realm, clock *fakeClock, key PlayerKey, name string) (*testClient, *Snapshot) {
	t.Helper()
	c := &testClient{}
	reply := make(chan JoinResult, 1)
	r.handle(PlayerJoined{
		Key:       key,
		Principal: access.Principal{Player: name},
		Client:    c,
		Reply:     reply,
	}, clock.t)
	res := <-reply
	if !res.Accepted {
		t.Fatalf("join %s denied: %s", name, res.Reason)
	}
	return c, res.Snapshot
}

func TestAdmission(t *testing.T) {
	clock := &fakeClock{t: t0}
	r := testRealm(t, doorTemplate(), clock, nil)

	c, snap := join(t, r, clock, 1, "alice")
	if snap.Name != "door-lobby" || snap.Position != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if len(snap.Players) != 1 || snap.Players[0].Key != 1 {
		t.Fatalf("roster = %+v", snap.Players)
	}

	// A second join shows up in both rosters.
	_, snap2 := join(t, r, clock, 2, "bob")
	if len(snap2.Players) != 2 {
		t.Fatalf("second roster = %+v", snap2.Players)
	}
	sawEnter := false
	for _, u := range c.updates {
		if pc, ok := u.(PresenceChanged); ok && pc.Entered && pc.Presence.Key == 2 {
			sawEnter = true
		}
	}
	if !sawEnter {
		t.Fatal("first player missed the presence delta")
	}
}

func TestAdmissionDenied(t *testing.T) {
	clock := &fakeClock{t: t0}
	r := testRealm(t, doorTemplate(), clock, func(cfg *Config) {
		cfg.AccessList = access.List{Rules: []access.Rule{
			{Kind: access.MatchPlayer, Player: "mallory", Allow: false},
			{Kind: access.MatchAll, Allow: true},
		}}
	})
	reply := make(chan JoinResult, 1)
	r.handle(PlayerJoined{
		Key:       1,
		Principal: access.Principal{Player: "mallory"},
		Client:    &testClient{},
		Reply:     reply,
	}, clock.t)
	res := <-reply
	if res.Accepted || res.Reason != "access denied" {
		t.Fatalf("join result = %+v", res)
	}
}

func TestOwnerAdmittedUnderDefaultDenyList(t *testing.T) {
	clock := &fakeClock{t: t0}
	// A fresh realm inherits a deny-all access list until its owner
	// grants anything; the owner must still get in.
	r := testRealm(t, doorTemplate(), clock, func(cfg *Config) {
		cfg.AccessList = access.DefaultAccess()
	})

	_, snap := join(t, r, clock, 1, "owner")
	if snap.Position != 1 {
		t.Fatalf("owner snapshot = %+v", snap)
	}

	reply := make(chan JoinResult, 1)
	r.handle(PlayerJoined{
		Key:       2,
		Principal: access.Principal{Player: "alice"},
		Client:    &testClient{},
		Reply:     reply,
	}, clock.t)
	res := <-reply
	if res.Accepted {
		t.Fatal("non-owner admitted through a deny-all list")
	}
}

func TestOwnerSurvivesAccessRevocation(t *testing.T) {
	clock := &fakeClock{t: t0}
	r := testRealm(t, doorTemplate(), clock, nil)
	join(t, r, clock, 1, "owner")
	join(t, r, clock, 2, "alice")

	r.handle(AccessMutated{List: access.DefaultAccess()}, clock.t)

	if _, still := r.players[1]; !still {
		t.Fatal("owner evicted from their own realm")
	}
	if _, still := r.players[2]; still {
		t.Fatal("revoked player kept their seat")
	}
}

func TestSelfClosingDoor(t *testing.T) {
	clock := &fakeClock{t: t0}
	r := testRealm(t, doorTemplate(), clock, nil)
	c, _ := join(t, r, clock, 1, "alice")

	// Standing at the button, the interaction fires immediately.
	r.handle(PlayerAction{Key: 1, Action: Action{
		Kind: ActionInteract, Piece: 1, Interaction: puzzle.Interaction{Kind: puzzle.InteractClick},
	}}, clock.t)
	if r.engine.GateOpen("door") {
		t.Fatal("door open before the first timer tick")
	}

	r.handleDue(clock.advance(time.Second))
	if open, seen := c.lastGate("door"); !seen || !open {
		t.Fatal("door-open delta not delivered")
	}

	// The route across the open door commits in full.
	r.handle(PlayerAction{Key: 1, Action: Action{Kind: ActionMove, Point: 2}}, clock.t)
	path, ok := c.lastPath()
	if !ok || len(path.Steps) != 1 || path.PendingGate != "" {
		t.Fatalf("committed path = %+v", path)
	}

	for i := 0; i < 30; i++ {
		r.handleDue(clock.advance(time.Second))
	}
	if open, _ := c.lastGate("door"); open {
		t.Fatal("door still open after the timer drained")
	}
}

func TestPendingPathCommitsWhenGateOpens(t *testing.T) {
	clock := &fakeClock{t: t0}
	r := testRealm(t, doorTemplate(), clock, nil)
	c, _ := join(t, r, clock, 1, "alice")

	// The only route to 2 crosses the closed door.
	r.handle(PlayerAction{Key: 1, Action: Action{Kind: ActionMove, Point: 2}}, clock.t)
	path, ok := c.lastPath()
	if !ok || len(path.Steps) != 0 || path.PendingGate != "door" {
		t.Fatalf("blocked path = %+v", path)
	}

	r.handle(PlayerAction{Key: 1, Action: Action{
		Kind: ActionInteract, Piece: 1, Interaction: puzzle.Interaction{Kind: puzzle.InteractClick},
	}}, clock.t)
	r.handleDue(clock.advance(time.Second))

	path, ok = c.lastPath()
	if !ok || len(path.Steps) != 1 || path.PendingGate != "" {
		t.Fatalf("path after gate opened = %+v", path)
	}
	if path.Steps[0].Step.Edge != "b" {
		t.Fatalf("committed edge = %q, want b", path.Steps[0].Step.Edge)
	}
}

// proximityTemplate counts occupants of area "pad" at point 1; the
// third arrival sends everyone home.
func proximityTemplate() *asset.Template {
	return &asset.Template{
		Name: "pad",
		Pieces: []puzzle.Def{
			{ID: 1, Kind: puzzle.KindProximity, Name: "pad", Matcher: puzzle.AnyPlayer()},
			{ID: 2, Kind: puzzle.KindCounter, Max: 3},
		},
		Propagation: []puzzle.PropagationRule{
			{Sender: 1, Trigger: puzzle.EventChanged, Recipient: 2, Causes: puzzle.CmdSet,
				Transformer: puzzle.Transformer{Kind: puzzle.TransformUnchanged}},
			{Sender: 2, Trigger: puzzle.EventAtMax, Recipient: 1, Causes: puzzle.CmdSend,
				Transformer: puzzle.Transformer{Kind: puzzle.TransformEmptyToHome}},
		},
		Points: []asset.TemplatePoint{
			{ID: 0},
			{ID: 1, Areas: []string{"pad"}},
		},
		Edges:        []asset.TemplateEdge{{ID: "a", A: 0, B: 1, Cost: 10}},
		DefaultSpawn: 0,
	}
}

func TestProximityEjectsOccupants(t *testing.T) {
	clock := &fakeClock{t: t0}
	var relocated []PlayerKey
	r := testRealm(t, proximityTemplate(), clock, func(cfg *Config) {
		cfg.Relocate = func(key PlayerKey, link puzzle.Link) {
			if link.Kind != puzzle.LinkHome {
				t.Errorf("player %d sent along %+v, want home", key, link)
			}
			relocated = append(relocated, key)
		}
	})

	names := []string{"alice", "bob", "carol"}
	for i, name := range names {
		key := PlayerKey(i + 1)
		join(t, r, clock, key, name)
		r.handle(PlayerAction{Key: key, Action: Action{Kind: ActionMove, Point: 1}}, clock.t)
		r.handleDue(clock.advance(nav.StepTime + 100*time.Millisecond))
	}

	if len(relocated) != 3 {
		t.Fatalf("relocated = %v, want all three", relocated)
	}
	for i, key := range relocated {
		if key != PlayerKey(i+1) {
			t.Fatalf("eject order = %v, want ascending", relocated)
		}
	}
	if len(r.players) != 0 {
		t.Fatalf("%d players still resident", len(r.players))
	}
}

// cycleTemplate wires two switches into an infinite toggle loop.
func cycleTemplate() *asset.Template {
	return &asset.Template{
		Name: "loop",
		Pieces: []puzzle.Def{
			{ID: 1, Kind: puzzle.KindSwitch, Enabled: true, Matcher: puzzle.AnyPlayer()},
			{ID: 2, Kind: puzzle.KindSwitch, Enabled: true, Matcher: puzzle.AnyPlayer()},
		},
		Propagation: []puzzle.PropagationRule{
			{Sender: 1, Trigger: puzzle.EventChanged, Recipient: 2, Causes: puzzle.CmdToggle,
				Transformer: puzzle.Transformer{Kind: puzzle.TransformAnyToEmpty}},
			{Sender: 2, Trigger: puzzle.EventChanged, Recipient: 1, Causes: puzzle.CmdToggle,
				Transformer: puzzle.Transformer{Kind: puzzle.TransformAnyToEmpty}},
		},
		Points:       []asset.TemplatePoint{{ID: 0}},
		DefaultSpawn: 0,
	}
}

func TestBudgetBreakEjectsEveryone(t *testing.T) {
	clock := &fakeClock{t: t0}
	var relocated []PlayerKey
	r := testRealm(t, cycleTemplate(), clock, func(cfg *Config) {
		cfg.EventBudget = 100
		cfg.Relocate = func(key PlayerKey, link puzzle.Link) {
			relocated = append(relocated, key)
		}
	})
	c1, _ := join(t, r, clock, 1, "alice")
	join(t, r, clock, 2, "bob")

	r.handle(PeerEvent{Target: 1, Cmd: puzzle.CmdToggle, Value: puzzle.EmptyValue()}, clock.t)

	if !r.Broken() {
		t.Fatal("realm not marked broken")
	}
	if len(relocated) != 2 {
		t.Fatalf("relocated = %v, want both players", relocated)
	}
	sawBroken := false
	for _, u := range c1.updates {
		if _, ok := u.(RealmBroken); ok {
			sawBroken = true
		}
	}
	if !sawBroken {
		t.Fatal("RealmBroken not delivered")
	}

	reply := make(chan JoinResult, 1)
	r.handle(PlayerJoined{Key: 3, Principal: access.Principal{Player: "carol"}, Client: &testClient{}, Reply: reply}, clock.t)
	if res := <-reply; res.Accepted {
		t.Fatal("broken realm admitted a player")
	}
}

func TestIdleUnloadAfterGrace(t *testing.T) {
	clock := &fakeClock{t: t0}
	idled := false
	r := testRealm(t, doorTemplate(), clock, func(cfg *Config) {
		cfg.OnIdle = func() { idled = true }
	})
	join(t, r, clock, 1, "alice")
	r.handle(PlayerLeft{Key: 1}, clock.t)

	r.handleDue(clock.advance(DefaultIdleGrace - time.Second))
	if r.closed || idled {
		t.Fatal("realm unloaded before the grace elapsed")
	}
	r.handleDue(clock.advance(2 * time.Second))
	if !r.closed || !idled {
		t.Fatal("realm still resident after the grace")
	}
}

func TestRejoinCancelsIdle(t *testing.T) {
	clock := &fakeClock{t: t0}
	idled := false
	r := testRealm(t, doorTemplate(), clock, func(cfg *Config) {
		cfg.OnIdle = func() { idled = true }
	})
	join(t, r, clock, 1, "alice")
	r.handle(PlayerLeft{Key: 1}, clock.t)
	clock.advance(30 * time.Second)
	join(t, r, clock, 1, "alice")

	r.handleDue(clock.advance(10 * time.Minute))
	if r.closed || idled {
		t.Fatal("occupied realm unloaded")
	}
}

func settingTemplate() *asset.Template {
	return &asset.Template{
		Name:         "study",
		Points:       []asset.TemplatePoint{{ID: 0}},
		DefaultSpawn: 0,
		Settings: []asset.SettingDefault{
			{Name: "mood", Kind: asset.SettingText, Text: "calm"},
		},
	}
}

func TestSettingChangeAndReload(t *testing.T) {
	clock := &fakeClock{t: t0}
	saver := &memSaver{}
	r := testRealm(t, settingTemplate(), clock, func(cfg *Config) {
		cfg.Saver = saver
	})
	join(t, r, clock, 1, "alice")

	reply := make(chan error, 1)
	r.handle(SettingChanged{Name: "mood", Value: Setting{Kind: asset.SettingBool, Bool: true}, Reply: reply}, clock.t)
	if err := <-reply; err == nil {
		t.Fatal("type-mismatched setting accepted")
	}

	r.handle(SettingChanged{Name: "mood", Value: Setting{Kind: asset.SettingText, Text: "stormy"}, Reply: reply}, clock.t)
	if err := <-reply; err != nil {
		t.Fatalf("setting change: %v", err)
	}
	if saver.data == nil {
		t.Fatal("state not journalled after the setting change")
	}

	reloaded := testRealm(t, settingTemplate(), clock, func(cfg *Config) {
		cfg.State = saver.data
	})
	_, snap := join(t, reloaded, clock, 2, "bob")
	if got := snap.Settings["mood"]; got.Text != "stormy" {
		t.Fatalf("reloaded setting = %+v, want stormy", got)
	}
}

func TestOverflowingClientIsDropped(t *testing.T) {
	clock := &fakeClock{t: t0}
	r := testRealm(t, doorTemplate(), clock, nil)
	join(t, r, clock, 1, "alice")

	slow := &testClient{reject: true}
	reply := make(chan JoinResult, 1)
	r.handle(PlayerJoined{Key: 2, Principal: access.Principal{Player: "bob"}, Client: slow, Reply: reply}, clock.t)
	<-reply

	// Any broadcast to the wedged session drops it.
	r.handle(ChatPosted{From: access.Principal{Player: "alice"}, Body: "hi", At: clock.t}, clock.t)
	if _, still := r.players[2]; still {
		t.Fatal("overflowing session not dropped")
	}
}

func TestAccessMutationEvictsDenied(t *testing.T) {
	clock := &fakeClock{t: t0}
	var relocated []PlayerKey
	r := testRealm(t, doorTemplate(), clock, func(cfg *Config) {
		cfg.Relocate = func(key PlayerKey, _ puzzle.Link) { relocated = append(relocated, key) }
	})
	join(t, r, clock, 1, "alice")
	bobClient := &testClient{}
	reply := make(chan JoinResult, 1)
	r.handle(PlayerJoined{Key: 2, Principal: access.Principal{Player: "bob"}, Client: bobClient, Reply: reply}, clock.t)
	<-reply

	r.handle(AccessMutated{List: access.List{Rules: []access.Rule{
		{Kind: access.MatchPlayer, Player: "bob", Allow: false},
		{Kind: access.MatchAll, Allow: true},
	}}}, clock.t)

	if _, still := r.players[2]; still {
		t.Fatal("denied player not evicted")
	}
	if _, still := r.players[1]; !still {
		t.Fatal("allowed player evicted")
	}
	if len(relocated) != 1 || relocated[0] != 2 {
		t.Fatalf("relocated = %v", relocated)
	}
}
