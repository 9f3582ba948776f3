// Package realm runs one puzzle-world instance: a serially drained
// inbox in front of the puzzle engine, the walk manifold, the roster,
// chat, and announcements. All realm state is owned by the drain loop;
// other tasks talk to it only through Submit.
package realm

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"spadina.network/internal/access"
	"spadina.network/internal/asset"
	"spadina.network/internal/nav"
	"spadina.network/internal/puzzle"
)

// DefaultIdleGrace is how long an empty realm stays resident before
// unloading.
const DefaultIdleGrace = 90 * time.Second

// Config assembles a realm instance.
type Config struct {
	Name        string
	Owner       string
	LocalServer string
	Seed        int64
	Template    *asset.Template
	// State is the previous journal record, nil for a fresh realm.
	State        []byte
	AccessList   access.List
	ServerAccess access.List
	Saver        Saver
	// Relocate moves a player out of this realm along a link. The
	// player has already been removed from the roster when called.
	Relocate func(key PlayerKey, link puzzle.Link)
	// OnDebut fires when a consequence rule debuts the acting player.
	OnDebut func(key PlayerKey)
	// OnIdle fires when the realm unloads after its idle grace.
	OnIdle      func()
	IdleGrace   time.Duration
	EventBudget int
	ChatTail    int
	Log         *log.Logger
	Clock       func() time.Time
}

type queuedInteract struct {
	piece       uint32
	point       nav.PointID
	interaction puzzle.Interaction
}

type player struct {
	key       PlayerKey
	principal access.Principal
	avatar    []byte
	client    Client
	at        nav.PointID
	// route is the remaining committed path with arrival times.
	route []TimedStep
	// pending is the suffix blocked behind a closed gate.
	pending []nav.Step
	dest    nav.PointID
	// interact fires when the player arrives at its point.
	interact *queuedInteract
	jitter   jitterWindow
}

// Realm is one loaded realm instance. All methods except Submit and
// Run must only be called from the drain loop.
type Realm struct {
	cfg      Config
	log      *log.Logger
	manifold *nav.Manifold
	engine   *puzzle.Engine
	occ      *nav.Occupancy
	// areaPieces maps manifold areas to the proximity pieces watching
	// them.
	areaPieces  map[string][]uint32
	piecePoints map[uint32]nav.PointID
	settings    map[string]Setting
	acl         access.List
	marks       map[string]uint8
	players     map[PlayerKey]*player
	chat        *chatRing
	board       board
	inbox       chan Input
	broken      bool
	closed      bool
	idleAt      time.Time
}

// New loads a realm from its template, resuming from the journal
// record when one is given.
func New(cfg Config) (*Realm, error) {
	if cfg.Template == nil {
		return nil, fmt.Errorf("realm %q: no template", cfg.Name)
	}
	if cfg.IdleGrace <= 0 {
		cfg.IdleGrace = DefaultIdleGrace
	}
	if cfg.Log == nil {
		cfg.Log = log.Default()
	}
	m, err := cfg.Template.Manifold()
	if err != nil {
		return nil, fmt.Errorf("realm %q: %w", cfg.Name, err)
	}

	r := &Realm{
		cfg:         cfg,
		log:         cfg.Log,
		manifold:    m,
		occ:         nav.NewOccupancy(m),
		areaPieces:  map[string][]uint32{},
		piecePoints: map[uint32]nav.PointID{},
		settings:    map[string]Setting{},
		acl:         cfg.AccessList,
		marks:       map[string]uint8{},
		players:     map[PlayerKey]*player{},
		chat:        newChatRing(cfg.ChatTail),
		inbox:       make(chan Input, 64),
	}
	for _, d := range cfg.Template.Pieces {
		if d.Kind == puzzle.KindProximity && d.Name != "" {
			r.areaPieces[d.Name] = append(r.areaPieces[d.Name], d.ID)
		}
	}
	for _, p := range cfg.Template.Points {
		if p.HasPiece {
			r.piecePoints[p.Piece] = nav.PointID(p.ID)
		}
	}
	for _, s := range cfg.Template.Settings {
		r.settings[s.Name] = settingFromDefault(s)
	}

	var states map[uint32][]byte
	if cfg.State != nil {
		st, err := decodeState(cfg.State)
		if err != nil {
			return nil, fmt.Errorf("realm %q: %w", cfg.Name, err)
		}
		states = st.Pieces
		for name, v := range st.Settings {
			if cur, ok := r.settings[name]; ok && cur.Kind == v.Kind {
				r.settings[name] = v
			}
		}
		for p, m := range st.Marks {
			r.marks[p] = m
		}
		r.board.entries = st.Announcements
		r.broken = st.Broken
	}

	now := r.now()
	r.engine, err = puzzle.NewEngine(puzzle.Config{
		Seed:         cfg.Seed,
		Budget:       cfg.EventBudget,
		Pieces:       cfg.Template.Pieces,
		Propagation:  cfg.Template.Propagation,
		Consequences: cfg.Template.Consequences,
		Settings:     r.settingLookup,
		Log:          cfg.Log,
	}, states, now)
	if err != nil {
		return nil, fmt.Errorf("realm %q: %w", cfg.Name, err)
	}
	if states != nil {
		// Rebuild derived gate and property state from the reloaded
		// pieces. No clients are attached yet, so the diffs go nowhere.
		r.engine.ResetAll(now)
	}
	r.idleAt = now.Add(cfg.IdleGrace)
	return r, nil
}

func (r *Realm) now() time.Time {
	if r.cfg.Clock != nil {
		return r.cfg.Clock()
	}
	return time.Now()
}

func (r *Realm) settingLookup(name string) (puzzle.Link, bool) {
	s, ok := r.settings[name]
	if !ok || s.Kind != asset.SettingRealm {
		return puzzle.Link{}, false
	}
	return s.Link, true
}

// Submit places an input on the realm inbox.
func (r *Realm) Submit(ctx context.Context, in Input) error {
	select {
	case r.inbox <- in:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the inbox until shutdown, context cancellation, or idle
// unload.
func (r *Realm) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		now := r.now()
		rearm(timer, r.nextWake(now), now)
		select {
		case <-ctx.Done():
			r.save()
			return ctx.Err()
		case in := <-r.inbox:
			r.handle(in, r.now())
		case <-timer.C:
			r.handleDue(r.now())
		}
		if r.closed {
			r.save()
			return nil
		}
	}
}

func rearm(t *time.Timer, at, now time.Time) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	d := at.Sub(now)
	if d < 0 {
		d = 0
	}
	t.Reset(d)
}

// nextWake is the earliest deadline among scheduled puzzle ticks,
// route arrivals, and the idle grace.
func (r *Realm) nextWake(now time.Time) time.Time {
	earliest := now.Add(time.Hour)
	if next, ok := r.engine.NextTick(now); ok && next.Before(earliest) {
		earliest = next
	}
	for _, p := range r.players {
		if len(p.route) > 0 && p.route[0].Arrive.Before(earliest) {
			earliest = p.route[0].Arrive
		}
	}
	if len(r.players) == 0 && !r.idleAt.IsZero() && r.idleAt.Before(earliest) {
		earliest = r.idleAt
	}
	return earliest
}

func (r *Realm) handle(in Input, now time.Time) {
	switch in := in.(type) {
	case PlayerJoined:
		r.handleJoin(in, now)
	case PlayerLeft:
		r.removePlayer(in.Key, now, true)
	case PlayerAction:
		r.handleAction(in, now)
	case PeerEvent:
		fx := r.engine.Command(in.Target, in.Cmd, in.Value, now)
		r.applyEffects(fx, nil, now)
		r.save()
	case SettingChanged:
		r.handleSetting(in, now)
	case Kick:
		if p, ok := r.players[in.Target]; ok {
			p.client.Deliver(Kicked{Reason: "kicked by the realm owner"})
			r.removePlayer(in.Target, now, true)
			if r.cfg.Relocate != nil {
				r.cfg.Relocate(in.Target, puzzle.HomeLink())
			}
		}
	case ChatPosted:
		msg := ChatMessage{Principal: in.From, At: in.At, Body: in.Body}
		r.chat.add(msg)
		r.broadcast(ChatUpdate{Message: msg}, 0)
	case AnnouncementAdd:
		r.board.add(in.Announcement, now)
		r.broadcast(AnnouncementsChanged{Announcements: r.board.list(now)}, 0)
		r.save()
	case AnnouncementClear:
		r.board.clear(in.ID, now)
		r.broadcast(AnnouncementsChanged{Announcements: r.board.list(now)}, 0)
		r.save()
	case AccessMutated:
		r.acl = in.List
		r.evictDenied(now)
	case Shutdown:
		r.closed = true
		if in.Done != nil {
			defer close(in.Done)
		}
	}
}

// handleDue runs everything whose deadline has passed: route steps,
// queued interactions, scheduled piece ticks, the idle grace.
func (r *Realm) handleDue(now time.Time) {
	r.advanceRoutes(now)
	fx := r.engine.Tick(now)
	r.applyEffects(fx, nil, now)
	r.save()
	if len(r.players) == 0 && !r.idleAt.IsZero() && !now.Before(r.idleAt) {
		r.closed = true
		if r.cfg.OnIdle != nil {
			r.cfg.OnIdle()
		}
	}
}

// isOwner reports whether the principal is this realm's owner on the
// local server. The owner is never subject to the realm's access
// list; a fresh realm inherits a deny-all list and the owner must
// still get in.
func (r *Realm) isOwner(p access.Principal) bool {
	return p.Player == r.cfg.Owner && (p.Server == "" || p.Server == r.cfg.LocalServer)
}

func (r *Realm) handleJoin(in PlayerJoined, now time.Time) {
	deny := func(reason string) {
		if in.Reply != nil {
			in.Reply <- JoinResult{Reason: reason}
		}
	}
	if r.broken {
		deny("realm is out of order")
		return
	}
	if !r.isOwner(in.Principal) && !access.Layered(r.cfg.ServerAccess, r.acl, in.Principal, r.cfg.LocalServer, now) {
		deny("access denied")
		return
	}
	spawn, ok := r.manifold.Spawn(in.Spawn)
	if !ok {
		deny("no such spawn point")
		return
	}

	p := &player{
		key:       in.Key,
		principal: in.Principal,
		avatar:    in.Avatar,
		client:    in.Client,
		at:        spawn,
		dest:      spawn,
	}
	r.players[in.Key] = p
	r.idleAt = time.Time{}
	r.walkAreas(p, r.occ.Move(nav.Player(in.Key), spawn), now)

	if in.Reply != nil {
		in.Reply <- JoinResult{Accepted: true, Snapshot: r.snapshot(p, now)}
	}
	r.broadcast(PresenceChanged{Presence: r.presence(p), Entered: true}, in.Key)
	r.save()
}

func (r *Realm) snapshot(p *player, now time.Time) *Snapshot {
	settings := make(map[string]Setting, len(r.settings))
	for k, v := range r.settings {
		settings[k] = v
	}
	roster := make([]Presence, 0, len(r.players))
	for _, other := range r.players {
		roster = append(roster, r.presence(other))
	}
	sort.Slice(roster, func(i, j int) bool { return roster[i].Key < roster[j].Key })
	return &Snapshot{
		Name:          r.cfg.Name,
		Position:      p.at,
		Properties:    r.engine.Properties(),
		Gates:         r.engine.Gates(),
		Settings:      settings,
		Chat:          r.chat.tail(),
		Announcements: r.board.list(now),
		Players:       roster,
	}
}

func (r *Realm) presence(p *player) Presence {
	return Presence{Key: p.key, Principal: p.principal, Avatar: p.avatar, At: p.at}
}

// removePlayer drops a player from the roster and the manifold.
// announce controls the presence broadcast.
func (r *Realm) removePlayer(key PlayerKey, now time.Time, announce bool) {
	p, ok := r.players[key]
	if !ok {
		return
	}
	delete(r.players, key)
	r.walkAreas(p, r.occ.Remove(nav.Player(key)), now)
	if announce {
		r.broadcast(PresenceChanged{Presence: r.presence(p), Entered: false}, 0)
	}
	if len(r.players) == 0 {
		r.idleAt = now.Add(r.cfg.IdleGrace)
	}
}

func (r *Realm) handleAction(in PlayerAction, now time.Time) {
	p, ok := r.players[in.Key]
	if !ok {
		return
	}
	if !in.SentAt.IsZero() {
		p.jitter.observe(now.Sub(in.SentAt))
	}
	switch in.Action.Kind {
	case ActionMove:
		p.interact = nil
		r.routeTo(p, in.Action.Point, now)
	case ActionInteract:
		point, hosted := r.piecePoints[in.Action.Piece]
		if !hosted {
			return
		}
		if p.at == point && len(p.route) == 0 {
			r.runInteraction(p, in.Action.Piece, in.Action.Interaction, now)
			return
		}
		p.interact = &queuedInteract{piece: in.Action.Piece, point: point, interaction: in.Action.Interaction}
		r.routeTo(p, point, now)
	case ActionRotate:
		r.broadcast(PoseChanged{Player: p.key, Direction: in.Action.Direction}, p.key)
	case ActionEmote:
		r.broadcast(PoseChanged{Player: p.key, Animation: in.Action.Animation, Duration: in.Action.Duration}, p.key)
	}
}

// routeTo plans and commits a path. The committed prefix gets
// authoritative arrival times; the pending suffix waits on its gate.
func (r *Realm) routeTo(p *player, to nav.PointID, now time.Time) {
	p.dest = to
	plan := r.manifold.PlanPath(p.at, to, r.engine.GateOpen)
	p.route = p.route[:0]
	base := now
	for _, s := range plan.Committed {
		d := s.Duration
		if d <= 0 {
			d = nav.StepTime
		}
		base = base.Add(d)
		p.route = append(p.route, TimedStep{Step: s, Arrive: base})
	}
	p.pending = plan.Pending

	pc := CommittedPath{Player: p.key, Start: p.at, Steps: append([]TimedStep(nil), p.route...)}
	if len(plan.Pending) > 0 {
		if e, ok := r.manifold.Edge(plan.Pending[0].Edge); ok {
			pc.PendingGate = e.Gate
		}
	}
	r.broadcast(pc, 0)
}

// advanceRoutes moves committed-path heads that have arrived, in
// ascending player order, firing proximity crossings and queued
// interactions.
func (r *Realm) advanceRoutes(now time.Time) {
	keys := make([]PlayerKey, 0, len(r.players))
	for k := range r.players {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		p, ok := r.players[k]
		if !ok {
			continue
		}
		for len(p.route) > 0 && !p.route[0].Arrive.After(now) {
			step := p.route[0]
			p.route = p.route[1:]
			p.at = step.Step.To
			r.walkAreas(p, r.occ.Move(nav.Player(p.key), p.at), now)
			if _, still := r.players[k]; !still {
				break
			}
		}
		p, ok = r.players[k]
		if !ok {
			continue
		}
		if len(p.route) == 0 && p.interact != nil && p.at == p.interact.point {
			qi := p.interact
			p.interact = nil
			r.runInteraction(p, qi.piece, qi.interaction, now)
		}
	}
}

func (r *Realm) runInteraction(p *player, piece uint32, i puzzle.Interaction, now time.Time) {
	_, fx := r.engine.Interact(piece, i, r.markPtr(p.principal), now)
	r.applyEffects(fx, p, now)
	r.save()
}

// walkAreas feeds area boundary crossings into the proximity pieces
// watching those areas.
func (r *Realm) walkAreas(p *player, changes []nav.AreaChange, now time.Time) {
	for _, c := range changes {
		ev := puzzle.NavLeave
		if c.Entered {
			ev = puzzle.NavEnter
		}
		for _, piece := range r.areaPieces[c.Area] {
			fx := r.engine.Walk(piece, p.key, r.markPtr(p.principal), ev, now)
			r.applyEffects(fx, p, now)
		}
	}
}

func (r *Realm) markPtr(principal access.Principal) *uint8 {
	m, ok := r.marks[principal.String()]
	if !ok {
		return nil
	}
	return &m
}

// applyEffects folds one fixpoint's output into the realm: mark
// mutations, property and gate broadcasts, path re-checks, player
// sends, debut, and breakage.
func (r *Realm) applyEffects(fx puzzle.Effects, actor *player, now time.Time) {
	if fx.Broken {
		r.breakRealm(now)
		return
	}
	for _, m := range fx.Marks {
		r.applyMark(m)
	}
	for _, name := range sortedKeys(fx.Properties) {
		r.broadcast(PropertyChanged{Name: name, Value: fx.Properties[name]}, 0)
	}
	gateNames := make([]string, 0, len(fx.Gates))
	for name := range fx.Gates {
		gateNames = append(gateNames, name)
	}
	sort.Strings(gateNames)
	for _, name := range gateNames {
		r.broadcast(GateChanged{Name: name, Open: fx.Gates[name]}, 0)
	}
	if len(fx.Gates) > 0 {
		r.recheckPending(now)
	}
	for _, send := range fx.Sends {
		r.applySend(send, now)
	}
	if fx.Debut && actor != nil && r.cfg.OnDebut != nil {
		r.cfg.OnDebut(actor.key)
	}
}

func (r *Realm) applyMark(m puzzle.MarkEffect) {
	for _, key := range m.Players {
		p, ok := r.players[key]
		if !ok {
			continue
		}
		id := p.principal.String()
		cur, has := r.marks[id]
		switch m.Op {
		case puzzle.MarkSet:
			r.marks[id] = m.Mark
		case puzzle.MarkClear:
			delete(r.marks, id)
		case puzzle.MarkBitSet:
			r.marks[id] = cur | 1<<m.Mark
		case puzzle.MarkBitClear:
			if has {
				r.marks[id] = cur &^ (1 << m.Mark)
			}
		case puzzle.MarkBitToggle:
			r.marks[id] = cur ^ 1<<m.Mark
		}
	}
}

// applySend moves players along a link. Spawn links warp within the
// realm; everything else leaves it.
func (r *Realm) applySend(send puzzle.Send, now time.Time) {
	for _, key := range send.Players {
		p, ok := r.players[key]
		if !ok {
			continue
		}
		if send.Link.Kind == puzzle.LinkSpawn {
			point, ok := r.manifold.Spawn(send.Link.Spawn)
			if !ok {
				continue
			}
			p.route = nil
			p.pending = nil
			p.interact = nil
			p.at = point
			r.walkAreas(p, r.occ.Move(nav.Player(key), point), now)
			arrive := now.Add(nav.WarpTime)
			r.broadcast(CommittedPath{Player: key, Start: point, Steps: []TimedStep{{
				Step: nav.Step{From: point, To: point}, Arrive: arrive,
			}}}, 0)
			continue
		}
		r.removePlayer(key, now, true)
		if r.cfg.Relocate != nil {
			r.cfg.Relocate(key, send.Link)
		}
	}
}

// recheckPending replans every blocked route after a gate change, in
// ascending player order. A newly open gate commits the next chunk.
func (r *Realm) recheckPending(now time.Time) {
	keys := make([]PlayerKey, 0, len(r.players))
	for k, p := range r.players {
		if len(p.pending) > 0 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		p := r.players[k]
		if len(p.route) > 0 {
			// Still walking the committed prefix; the re-check happens
			// when the head arrives.
			continue
		}
		r.routeTo(p, p.dest, now)
	}
}

// breakRealm marks the realm broken and sends everyone home.
func (r *Realm) breakRealm(now time.Time) {
	if r.broken {
		return
	}
	r.broken = true
	r.log.Printf("realm %q marked broken, ejecting %d players", r.cfg.Name, len(r.players))
	r.broadcast(RealmBroken{}, 0)
	keys := make([]PlayerKey, 0, len(r.players))
	for k := range r.players {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		r.removePlayer(k, now, false)
		if r.cfg.Relocate != nil {
			r.cfg.Relocate(k, puzzle.HomeLink())
		}
	}
}

func (r *Realm) handleSetting(in SettingChanged, now time.Time) {
	reply := func(err error) {
		if in.Reply != nil {
			in.Reply <- err
		}
	}
	cur, ok := r.settings[in.Name]
	if !ok {
		reply(fmt.Errorf("no setting %q", in.Name))
		return
	}
	if err := cur.checkAssign(in.Value); err != nil {
		reply(err)
		return
	}
	r.settings[in.Name] = in.Value
	r.broadcast(SettingUpdated{Name: in.Name, Value: in.Value}, 0)
	reply(nil)
	r.save()
}

// evictDenied re-runs admission for the roster after an ACL change.
func (r *Realm) evictDenied(now time.Time) {
	keys := make([]PlayerKey, 0, len(r.players))
	for k := range r.players {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		p := r.players[k]
		if r.isOwner(p.principal) || access.Layered(r.cfg.ServerAccess, r.acl, p.principal, r.cfg.LocalServer, now) {
			continue
		}
		p.client.Deliver(Kicked{Reason: "access revoked"})
		r.removePlayer(k, now, true)
		if r.cfg.Relocate != nil {
			r.cfg.Relocate(k, puzzle.HomeLink())
		}
	}
}

// broadcast delivers an update to every player except the one named
// by skip. Players whose session buffer overflows are dropped.
func (r *Realm) broadcast(u Update, skip PlayerKey) {
	var dropped []PlayerKey
	for k, p := range r.players {
		if k == skip {
			continue
		}
		if !p.client.Deliver(u) {
			dropped = append(dropped, k)
		}
	}
	for _, k := range dropped {
		r.log.Printf("realm %q dropping player %d: outbound buffer overflow", r.cfg.Name, k)
		r.removePlayer(k, r.now(), true)
	}
}

// Jitter reports a player's current jitter estimate.
func (r *Realm) Jitter(key PlayerKey) (time.Duration, bool) {
	p, ok := r.players[key]
	if !ok {
		return 0, false
	}
	return p.jitter.estimate(), true
}

// Broken reports whether the puzzle network is wedged.
func (r *Realm) Broken() bool { return r.broken }

func (r *Realm) save() {
	if r.cfg.Saver == nil {
		return
	}
	pieces, err := r.engine.Snapshot()
	if err != nil {
		r.log.Printf("realm %q snapshot failed: %v", r.cfg.Name, err)
		return
	}
	st := persistedState{
		Pieces:        pieces,
		Settings:      r.settings,
		Marks:         r.marks,
		Announcements: r.board.entries,
		Broken:        r.broken,
	}
	data, err := st.encode()
	if err != nil {
		r.log.Printf("realm %q state encode failed: %v", r.cfg.Name, err)
		return
	}
	if err := r.cfg.Saver.SaveRealmState(data); err != nil {
		r.log.Printf("realm %q state save failed: %v", r.cfg.Name, err)
	}
}

func sortedKeys(m map[string]puzzle.Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
