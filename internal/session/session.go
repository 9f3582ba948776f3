package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"spadina.network/internal/access"
	"spadina.network/internal/asset"
	"spadina.network/internal/directory"
	"spadina.network/internal/protocol"
	"spadina.network/internal/puzzle"
	"spadina.network/internal/realm"
)

const (
	chatCacheSize  = 256
	requestTimeout = 10 * time.Second
)

// Session is one connected player. Inbound frames are handled in
// arrival order by the transport's reader; outbound frames carry a
// monotonically increasing sequence.
type Session struct {
	hub         *Hub
	principal   access.Principal
	admin       bool
	key         realm.PlayerKey
	resumeToken string

	out      chan []byte
	doneCh   chan struct{}
	closeOne sync.Once

	mu        sync.Mutex
	seq       uint64
	lostFrame []byte
	avatar    []byte
	current   *directory.Handle
	remote    string
	chat      []protocol.ChatMessage
	board     []protocol.Announcement
}

func newSession(h *Hub, p access.Principal, admin bool) *Session {
	return &Session{
		hub:         h,
		principal:   p,
		admin:       admin,
		key:         h.cfg.Directory.NextPlayerKey(),
		resumeToken: uuid.NewString(),
		out:         make(chan []byte, h.cfg.OutboundBuffer),
		doneCh:      make(chan struct{}),
	}
}

// Principal reports who this session is.
func (s *Session) Principal() access.Principal { return s.principal }

// ResumeToken is handed to the client in the Welcome frame.
func (s *Session) ResumeToken() string { return s.resumeToken }

// Out is the outbound frame stream for the transport's writer.
func (s *Session) Out() <-chan []byte { return s.out }

// Done closes when the session is dropped.
func (s *Session) Done() <-chan struct{} { return s.doneCh }

func (s *Session) done() bool {
	select {
	case <-s.doneCh:
		return true
	default:
		return false
	}
}

// LostFrame is the final frame to write after Done closes, if any.
func (s *Session) LostFrame() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lostFrame
}

func (s *Session) setAvatar(avatar []byte) {
	s.mu.Lock()
	s.avatar = avatar
	s.mu.Unlock()
}

// Push encodes one server message with the next outbound sequence. A
// full buffer drops the session with Lost on the last slot.
func (s *Session) Push(m protocol.ServerMessage) bool {
	s.mu.Lock()
	if s.lostFrame != nil {
		s.mu.Unlock()
		return false
	}
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	data, err := protocol.EncodeServer(seq, m)
	if err != nil {
		s.hub.log.Printf("[session %s] encode %T: %v", s.principal, m, err)
		return true
	}
	select {
	case s.out <- data:
		return true
	case <-s.doneCh:
		return false
	default:
		s.drop("outbound buffer overflow")
		return false
	}
}

// drop marks the session lost; the transport writes the Lost frame
// and closes.
func (s *Session) drop(reason string) {
	s.closeOne.Do(func() {
		s.mu.Lock()
		s.seq++
		frame, err := protocol.EncodeServer(s.seq, protocol.Lost{Reason: reason})
		if err == nil {
			s.lostFrame = frame
		}
		cur, remote := s.current, s.remote
		s.current = nil
		s.remote = ""
		s.mu.Unlock()
		close(s.doneCh)

		if cur != nil {
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			_ = cur.Realm.Submit(ctx, realm.PlayerLeft{Key: s.key})
			cancel()
		}
		if remote != "" && s.hub.cfg.Remotes != nil {
			s.hub.cfg.Remotes.Leave(remote, s.principal)
		}
		s.hub.remove(s)
	})
}

// Close drops the session with a reason.
func (s *Session) Close(reason string) { s.drop(reason) }

// Deliver implements realm.Client. It never blocks the realm.
func (s *Session) Deliver(u realm.Update) bool {
	switch v := u.(type) {
	case realm.ChatUpdate:
		s.mu.Lock()
		s.chat = append(s.chat, wireChat(v.Message))
		if len(s.chat) > chatCacheSize {
			s.chat = s.chat[len(s.chat)-chatCacheSize:]
		}
		s.mu.Unlock()
	case realm.AnnouncementsChanged:
		s.mu.Lock()
		s.board = wireAnnouncements(v.Announcements)
		s.mu.Unlock()
	case realm.Kicked, realm.RealmBroken:
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
	}
	m := UpdateMessage(u)
	if m == nil {
		return true
	}
	return s.Push(m)
}

// Relocated implements directory.Session: a realm sent this player
// out along a link.
func (s *Session) Relocated(from directory.Key, link puzzle.Link) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		s.mu.Lock()
		if s.current != nil && s.current.Key == from {
			s.current = nil
		}
		s.mu.Unlock()
		if err := s.follow(ctx, 0, link); err != nil {
			s.hub.log.Printf("[session %s] relocation: %v", s.principal, err)
			// Last resort so the player is never stranded.
			if link.Kind != puzzle.LinkHome {
				_ = s.follow(ctx, 0, puzzle.HomeLink())
			}
		}
	}()
}

func (s *Session) location() (directory.Key, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return s.current.Key, "", true
	}
	if s.remote != "" {
		return directory.Key{}, s.remote, true
	}
	return directory.Key{}, "", false
}

// leave detaches from the current realm, local or remote.
func (s *Session) leave(ctx context.Context) {
	s.mu.Lock()
	cur, remote := s.current, s.remote
	s.current = nil
	s.remote = ""
	s.mu.Unlock()
	if cur != nil {
		_ = cur.Realm.Submit(ctx, realm.PlayerLeft{Key: s.key})
	}
	if remote != "" && s.hub.cfg.Remotes != nil {
		s.hub.cfg.Remotes.Leave(remote, s.principal)
	}
}

// follow resolves a link and joins the realm it names. A non-zero id
// answers the client request that triggered the move.
func (s *Session) follow(ctx context.Context, id uint32, link puzzle.Link) error {
	s.leave(ctx)
	key, server, err := s.hub.cfg.Directory.Resolve(s.principal, link)
	switch {
	case errors.Is(err, directory.ErrRemote):
		return s.visitRemote(id, server, link)
	case errors.Is(err, directory.ErrNotDebuted):
		err = protocol.Permanent("you have not debuted yet")
		s.respond(id, err)
		return err
	case err != nil:
		s.respond(id, err)
		return err
	}
	return s.joinKey(ctx, id, key, link.Spawn)
}

// joinKey admits the player into a local realm and sends the
// snapshot.
func (s *Session) joinKey(ctx context.Context, id uint32, key directory.Key, spawn string) error {
	h, err := s.hub.cfg.Directory.Acquire(ctx, key)
	if err != nil {
		s.respond(id, err)
		return err
	}
	s.mu.Lock()
	avatar := s.avatar
	s.mu.Unlock()

	reply := make(chan realm.JoinResult, 1)
	join := realm.PlayerJoined{
		Key:       s.key,
		Principal: s.principal,
		Avatar:    avatar,
		Spawn:     spawn,
		Client:    s,
		Reply:     reply,
	}
	if err := h.Realm.Submit(ctx, join); err != nil {
		s.respond(id, err)
		return err
	}
	var res realm.JoinResult
	select {
	case res = <-reply:
	case <-ctx.Done():
		err := protocol.Transient("realm did not answer: %v", ctx.Err())
		s.respond(id, err)
		return err
	}
	if !res.Accepted {
		err := protocol.Permanent("%s", res.Reason)
		s.respond(id, err)
		return err
	}

	s.mu.Lock()
	s.current = h
	s.chat = nil
	s.board = wireAnnouncements(res.Snapshot.Announcements)
	for _, m := range res.Snapshot.Chat {
		s.chat = append(s.chat, wireChat(m))
	}
	s.mu.Unlock()
	s.Push(snapshotMessage(id, key, s.key, res.Snapshot))
	return nil
}

func (s *Session) visitRemote(id uint32, server string, link puzzle.Link) error {
	if s.hub.cfg.Remotes == nil {
		err := protocol.Permanent("server %s is not reachable", server)
		s.respond(id, err)
		return err
	}
	s.mu.Lock()
	avatar := s.avatar
	s.mu.Unlock()
	err := s.hub.cfg.Remotes.Visit(server, s.principal, avatar, link, s.Push)
	if err != nil {
		s.respond(id, err)
		return err
	}
	s.mu.Lock()
	s.remote = server
	s.mu.Unlock()
	s.respond(id, nil)
	return nil
}

// respond answers a correlated request; id zero means there is no
// request to answer.
func (s *Session) respond(id uint32, err error) {
	if id == 0 {
		return
	}
	outcome, reason := protocol.OutcomeFor(err)
	s.Push(protocol.Result{ID: id, Outcome: outcome, Reason: reason})
}

// ownsRealm reports whether the session may administer its current
// local realm.
func (s *Session) ownsRealm(key directory.Key) bool {
	if s.admin {
		return true
	}
	return s.principal.Server == "" && s.principal.Player == key.Owner
}

// Handle dispatches one inbound message. The transport calls it
// serially, preserving arrival order.
func (s *Session) Handle(ctx context.Context, m protocol.ClientMessage) {
	switch v := m.(type) {
	case *protocol.AssetPull:
		s.handleAssetPull(v)
	case *protocol.LocationChange:
		s.handleLocationChange(ctx, v)
	case *protocol.InLocation:
		s.handleInLocation(ctx, v)
	case *protocol.LocationMessageSend:
		s.handleChatSend(ctx, v)
	case *protocol.LocationMessagesGet:
		s.handleChatGet(v)
	case *protocol.DirectMessageSend:
		s.handleDirectSend(v)
	case *protocol.DirectMessagesGet:
		s.handleDirectGet(v)
	case *protocol.BookmarkMutate:
		err := s.hub.cfg.Store.MutateBookmark(s.principal.Player, v.Add, v.Bookmark)
		s.respond(v.ID, err)
	case *protocol.BookmarksGet:
		marks, err := s.hub.cfg.Store.Bookmarks(s.principal.Player)
		if err != nil {
			s.respond(v.ID, err)
			return
		}
		s.Push(protocol.Bookmarks{ID: v.ID, Bookmarks: marks})
	case *protocol.AccessGet:
		s.handleAccessGet(v)
	case *protocol.AccessMutate:
		s.handleAccessMutate(ctx, v)
	case *protocol.FollowRequest:
		s.handleFollowRequest(v)
	case *protocol.FollowResponse:
		s.handleFollowResponse(ctx, v)
	case *protocol.ConsensualEmoteRequest:
		s.handleEmoteRequest(v)
	case *protocol.ConsensualEmoteResponse:
		s.handleEmoteResponse(ctx, v)
	case *protocol.AvatarSet:
		err := s.hub.cfg.Store.SetAvatar(s.principal.Player, v.Avatar)
		if err == nil {
			s.setAvatar(v.Avatar)
		}
		s.respond(v.ID, err)
	case *protocol.CalendarSubscriptionMutate:
		sub := SubscribedRealm{Owner: v.Realm.Owner, Asset: v.Realm.Asset, Server: v.Realm.Server}
		err := s.hub.cfg.Store.MutateCalendarSubscription(s.principal.Player, v.Add, sub)
		s.respond(v.ID, err)
	case *protocol.CalendarGet:
		go s.handleCalendarGet(v.ID)
	case *protocol.PublicKeyAdd:
		s.respond(v.ID, s.hub.cfg.Store.AddPublicKey(s.principal.Player, v.Name, v.Key))
	case *protocol.PublicKeyDelete:
		s.respond(v.ID, s.hub.cfg.Store.DeletePublicKey(s.principal.Player, v.Name))
	case *protocol.PublicKeysGet:
		names, err := s.hub.cfg.Store.PublicKeys(s.principal.Player)
		if err != nil {
			s.respond(v.ID, err)
			return
		}
		s.Push(protocol.PublicKeys{ID: v.ID, Names: names})
	default:
		s.hub.log.Printf("[session %s] unhandled %T", s.principal, m)
	}
}

func (s *Session) handleAssetPull(v *protocol.AssetPull) {
	id := asset.ID(v.Asset)
	if !id.Valid() {
		s.respond(v.ID, protocol.Permanent("malformed asset id"))
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		data, err := s.hub.cfg.Assets.Pull(ctx, id)
		if err != nil {
			s.Push(protocol.AssetResult{ID: v.ID, Asset: v.Asset, Found: false})
			return
		}
		s.Push(protocol.AssetResult{ID: v.ID, Asset: v.Asset, Found: true, Data: data})
	}()
}

func (s *Session) handleLocationChange(ctx context.Context, v *protocol.LocationChange) {
	if v.Target.Kind == protocol.LocationNoWhere {
		s.leave(ctx)
		s.respond(v.ID, nil)
		return
	}
	_ = s.follow(ctx, v.ID, v.Target.Link())
}

func (s *Session) handleInLocation(ctx context.Context, v *protocol.InLocation) {
	s.mu.Lock()
	cur, remote := s.current, s.remote
	s.mu.Unlock()
	if remote != "" && s.hub.cfg.Remotes != nil {
		if err := s.hub.cfg.Remotes.Forward(remote, s.principal, v); err != nil {
			s.respond(v.ID, err)
		}
		return
	}
	if cur == nil {
		s.respond(v.ID, protocol.Permanent("not in a realm"))
		return
	}

	switch v.Request.Kind {
	case protocol.RealmPerform:
		sentAt := v.SentAt
		if sentAt.IsZero() {
			sentAt = s.hub.now()
		}
		for _, wa := range v.Request.Actions {
			a, err := realmAction(wa)
			if err != nil {
				s.respond(v.ID, protocol.Permanent("%s", err))
				return
			}
			if err := cur.Realm.Submit(ctx, realm.PlayerAction{Key: s.key, Action: a, SentAt: sentAt}); err != nil {
				s.respond(v.ID, err)
				return
			}
		}
		s.respond(v.ID, nil)
	case protocol.RealmChangeSetting:
		if !s.ownsRealm(cur.Key) {
			s.respond(v.ID, protocol.Permanent("only the realm owner can change settings"))
			return
		}
		reply := make(chan error, 1)
		in := realm.SettingChanged{By: s.principal, Name: v.Request.Name, Value: realmSetting(v.Request.Value), Reply: reply}
		if err := cur.Realm.Submit(ctx, in); err != nil {
			s.respond(v.ID, err)
			return
		}
		select {
		case err := <-reply:
			if err != nil {
				err = protocol.Permanent("%s", err)
			}
			s.respond(v.ID, err)
		case <-ctx.Done():
			s.respond(v.ID, protocol.Transient("realm did not answer: %v", ctx.Err()))
		}
	case protocol.RealmAnnouncementAdd:
		if !s.ownsRealm(cur.Key) {
			s.respond(v.ID, protocol.Permanent("only the realm owner can post announcements"))
			return
		}
		err := cur.Realm.Submit(ctx, realm.AnnouncementAdd{Announcement: realmAnnouncement(v.Request.Announcement)})
		s.respond(v.ID, err)
	case protocol.RealmAnnouncementClear:
		if !s.ownsRealm(cur.Key) {
			s.respond(v.ID, protocol.Permanent("only the realm owner can clear announcements"))
			return
		}
		err := cur.Realm.Submit(ctx, realm.AnnouncementClear{ID: v.Request.Clear})
		s.respond(v.ID, err)
	case protocol.RealmAnnouncementList:
		s.mu.Lock()
		board := append([]protocol.Announcement(nil), s.board...)
		s.mu.Unlock()
		s.Push(protocol.AnnouncementsChanged{ID: v.ID, Announcements: board})
	case protocol.RealmKick:
		if !s.ownsRealm(cur.Key) {
			s.respond(v.ID, protocol.Permanent("only the realm owner can kick players"))
			return
		}
		err := cur.Realm.Submit(ctx, realm.Kick{Target: realm.PlayerKey(v.Request.Target)})
		s.respond(v.ID, err)
	default:
		s.respond(v.ID, protocol.Permanent("unknown realm request %d", v.Request.Kind))
	}
}

func (s *Session) handleChatSend(ctx context.Context, v *protocol.LocationMessageSend) {
	s.mu.Lock()
	cur, remote := s.current, s.remote
	s.mu.Unlock()
	if remote != "" && s.hub.cfg.Remotes != nil {
		_ = s.hub.cfg.Remotes.Forward(remote, s.principal, v)
		return
	}
	if cur == nil {
		return
	}
	_ = cur.Realm.Submit(ctx, realm.ChatPosted{From: s.principal, Body: v.Body, At: s.hub.now()})
}

func (s *Session) handleChatGet(v *protocol.LocationMessagesGet) {
	s.mu.Lock()
	var out []protocol.ChatMessage
	for _, m := range s.chat {
		if m.At.Before(v.From) || !m.At.Before(v.To) {
			continue
		}
		out = append(out, m)
	}
	s.mu.Unlock()
	s.Push(protocol.LocationMessages{ID: v.ID, Messages: out})
}

func (s *Session) handleDirectSend(v *protocol.DirectMessageSend) {
	recipient, err := access.ParsePrincipal(v.Recipient)
	if err != nil {
		s.respond(v.ID, protocol.Permanent("%s", err))
		return
	}
	created := s.hub.now()
	if recipient.Server != "" && recipient.Server != s.hub.cfg.LocalServer {
		if s.hub.cfg.Remotes == nil {
			s.respond(v.ID, protocol.Permanent("server %s is not reachable", recipient.Server))
			return
		}
		if err := s.hub.cfg.Store.RecordDirectMessage(s.principal.Player, recipient.String(), v.Body, created, false); err != nil {
			s.respond(v.ID, err)
			return
		}
		err := s.hub.cfg.Remotes.SendDirect(recipient.Server, protocol.ChatDelivery{
			Sender:    s.principal.Player + "@" + s.hub.cfg.LocalServer,
			Recipient: recipient.Player,
			Body:      v.Body,
			Created:   created,
		})
		s.respond(v.ID, err)
		return
	}

	acl, err := s.hub.cfg.Store.PlayerAccess(recipient.Player, access.TargetDirectMessages)
	if err != nil {
		s.respond(v.ID, err)
		return
	}
	if !acl.Check(s.principal, s.hub.cfg.LocalServer, created) {
		s.respond(v.ID, protocol.Permanent("%s does not accept your messages", recipient.Player))
		return
	}
	if err := s.hub.cfg.Store.RecordDirectMessage(s.principal.Player, recipient.Player, v.Body, created, false); err != nil {
		s.respond(v.ID, err)
		return
	}
	if err := s.hub.cfg.Store.RecordDirectMessage(recipient.Player, s.principal.Player, v.Body, created, true); err != nil {
		s.respond(v.ID, err)
		return
	}
	s.hub.DeliverDirect(recipient.Player, s.principal.String(), v.Body, created)
	s.respond(v.ID, nil)
}

func (s *Session) handleDirectGet(v *protocol.DirectMessagesGet) {
	msgs, err := s.hub.cfg.Store.DirectMessages(s.principal.Player, v.Player, v.From, v.To)
	if err != nil {
		s.respond(v.ID, err)
		return
	}
	_ = s.hub.cfg.Store.MarkRead(s.principal.Player, v.Player, s.hub.now())
	s.Push(protocol.DirectMessages{ID: v.ID, Player: v.Player, Messages: msgs})
}

// accessScope resolves an access-list target name to its storage
// scope, enforcing who may touch it.
func (s *Session) accessScope(target string) (player string, t access.Target, realmScope bool, err error) {
	switch access.Target(target) {
	case access.TargetDirectMessages, access.TargetNewRealmAccess, access.TargetNewRealmAdmin:
		return s.principal.Player, access.Target(target), false, nil
	case access.TargetAccessServer, access.TargetAdminServer, access.TargetCreateOnServer:
		if !s.admin {
			return "", "", false, protocol.Permanent("server lists need admin access")
		}
		return "", access.Target(target), false, nil
	}
	if target == "realm" {
		return "", "", true, nil
	}
	return "", "", false, protocol.Permanent("unknown access target %q", target)
}

func (s *Session) handleAccessGet(v *protocol.AccessGet) {
	player, target, realmScope, err := s.accessScope(v.Target)
	if err != nil {
		s.respond(v.ID, err)
		return
	}
	var list access.List
	if realmScope {
		key, _, ok := s.location()
		if !ok || !s.ownsRealm(key) {
			s.respond(v.ID, protocol.Permanent("not the owner of a local realm"))
			return
		}
		list, err = s.hub.cfg.Store.RealmAccess(key.Owner, key.Asset)
	} else {
		list, err = s.hub.cfg.Store.PlayerAccess(player, target)
	}
	if err != nil {
		s.respond(v.ID, err)
		return
	}
	rules := make([]protocol.AccessRule, 0, len(list.Rules))
	for _, r := range list.Rules {
		rules = append(rules, protocol.AccessRule{
			Predicate: r.Predicate(s.hub.cfg.LocalServer),
			Allow:     r.Allow,
			Expires:   r.Expiry,
		})
	}
	s.Push(protocol.AccessCurrent{ID: v.ID, Target: v.Target, Rules: rules, DefaultAllow: list.DefaultAllow})
}

func (s *Session) handleAccessMutate(ctx context.Context, v *protocol.AccessMutate) {
	player, target, realmScope, err := s.accessScope(v.Target)
	if err != nil {
		s.respond(v.ID, err)
		return
	}
	list := access.List{DefaultAllow: v.DefaultAllow}
	for _, wr := range v.Rules {
		r, err := access.ParsePredicate(wr.Predicate)
		if err != nil {
			s.respond(v.ID, protocol.Permanent("%s", err))
			return
		}
		r.Allow = wr.Allow
		r.Expiry = wr.Expires
		list.Rules = append(list.Rules, r)
	}
	if realmScope {
		key, _, ok := s.location()
		if !ok || !s.ownsRealm(key) {
			s.respond(v.ID, protocol.Permanent("not the owner of a local realm"))
			return
		}
		if err := s.hub.cfg.Store.SetRealmAccess(key.Owner, key.Asset, list); err != nil {
			s.respond(v.ID, err)
			return
		}
		s.mu.Lock()
		cur := s.current
		s.mu.Unlock()
		if cur != nil {
			_ = cur.Realm.Submit(ctx, realm.AccessMutated{List: list})
		}
		s.respond(v.ID, nil)
		return
	}
	s.respond(v.ID, s.hub.cfg.Store.SetPlayerAccess(player, target, list))
}

func (s *Session) handleFollowRequest(v *protocol.FollowRequest) {
	target, ok := s.hub.lookup(v.Player)
	if !ok {
		s.respond(v.ID, protocol.Permanent("%s is not connected here", v.Player))
		return
	}
	rid := s.hub.addRelay(relay{kind: relayFollow, from: s, to: target, requestID: v.ID})
	target.Push(protocol.FollowRequested{Request: rid, Player: s.principal.String()})
}

func (s *Session) handleFollowResponse(ctx context.Context, v *protocol.FollowResponse) {
	r, ok := s.hub.takeRelay(v.Request, s)
	if !ok || r.kind != relayFollow {
		return
	}
	if !v.Ok {
		r.from.respond(r.requestID, protocol.Permanent("%s declined", s.principal.Player))
		return
	}
	key, remote, here := s.location()
	if !here || remote != "" {
		r.from.respond(r.requestID, protocol.Permanent("%s is not in a local realm", s.principal.Player))
		return
	}
	r.from.leave(ctx)
	_ = r.from.joinKey(ctx, r.requestID, key, "")
}

func (s *Session) handleEmoteRequest(v *protocol.ConsensualEmoteRequest) {
	target, ok := s.hub.lookup(v.Player)
	if !ok {
		s.respond(v.ID, protocol.Permanent("%s is not connected here", v.Player))
		return
	}
	rid := s.hub.addRelay(relay{kind: relayEmote, from: s, to: target, requestID: v.ID, emote: v.Emote})
	target.Push(protocol.ConsensualEmoteRequested{Request: rid, Player: s.principal.String(), Emote: v.Emote})
}

func (s *Session) handleEmoteResponse(ctx context.Context, v *protocol.ConsensualEmoteResponse) {
	r, ok := s.hub.takeRelay(v.Request, s)
	if !ok || r.kind != relayEmote {
		return
	}
	if !v.Ok {
		r.from.respond(r.requestID, protocol.Permanent("%s declined", s.principal.Player))
		return
	}
	fromKey, _, fromHere := r.from.location()
	toKey, _, toHere := s.location()
	if !fromHere || !toHere || fromKey != toKey {
		r.from.respond(r.requestID, protocol.Permanent("not in the same realm"))
		return
	}
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur == nil {
		return
	}
	now := s.hub.now()
	act := realm.Action{Kind: realm.ActionEmote, Animation: r.emote, Duration: time.Second}
	_ = cur.Realm.Submit(ctx, realm.PlayerAction{Key: r.from.key, Action: act, SentAt: now})
	_ = cur.Realm.Submit(ctx, realm.PlayerAction{Key: s.key, Action: act, SentAt: now})
	r.from.respond(r.requestID, nil)
}

func (s *Session) handleCalendarGet(id uint32) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	subs, err := s.hub.cfg.Store.CalendarSubscriptions(s.principal.Player)
	if err != nil {
		s.respond(id, err)
		return
	}
	var entries []protocol.CalendarEntry
	remote := map[string][]protocol.RealmRef{}
	for _, sub := range subs {
		if sub.Server == "" || sub.Server == s.hub.cfg.LocalServer {
			anns, err := s.hub.cfg.Store.RealmAnnouncements(sub.Owner, sub.Asset)
			if err != nil {
				continue
			}
			entries = append(entries, protocol.CalendarEntry{
				Realm:         protocol.RealmRef{Owner: sub.Owner, Asset: sub.Asset},
				Announcements: anns,
			})
			continue
		}
		remote[sub.Server] = append(remote[sub.Server], protocol.RealmRef{Owner: sub.Owner, Asset: sub.Asset})
	}
	if s.hub.cfg.Remotes != nil {
		for server, refs := range remote {
			fetched, err := s.hub.cfg.Remotes.Calendar(ctx, server, refs)
			if err != nil {
				s.hub.log.Printf("[session %s] calendar %s: %v", s.principal, server, err)
				continue
			}
			entries = append(entries, fetched...)
		}
	}
	s.Push(protocol.Calendar{ID: id, Entries: entries})
}

// String names the session for logs.
func (s *Session) String() string {
	return fmt.Sprintf("%s#%d", s.principal, s.key)
}
