package db

import (
	"path/filepath"
	"testing"
	"time"

	"spadina.network/internal/access"
	"spadina.network/internal/directory"
	"spadina.network/internal/peer"
	"spadina.network/internal/protocol"
	"spadina.network/internal/session"
)

var (
	_ directory.Store = (*DB)(nil)
	_ session.Store   = (*DB)(nil)
	_ peer.Store      = (*DB)(nil)
)

func testDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "spadina.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestDebutAndTrainIndex(t *testing.T) {
	d := testDB(t)

	debuted, err := d.PlayerDebuted("alice")
	if err != nil || debuted {
		t.Fatalf("fresh player debuted = %v, %v", debuted, err)
	}
	index, err := d.PlayerTrainIndex("alice")
	if err != nil || index != -1 {
		t.Fatalf("fresh train index = %d, %v", index, err)
	}

	if err := d.SetPlayerTrainIndex("alice", 2); err != nil {
		t.Fatal(err)
	}
	if err := d.SetDebuted("alice"); err != nil {
		t.Fatal(err)
	}

	debuted, err = d.PlayerDebuted("alice")
	if err != nil || !debuted {
		t.Fatalf("debuted = %v, %v", debuted, err)
	}
	index, err = d.PlayerTrainIndex("alice")
	if err != nil || index != 2 {
		t.Fatalf("train index = %d, %v", index, err)
	}
}

func TestAccessListRoundTrip(t *testing.T) {
	d := testDB(t)

	// Defaults for absent rows.
	list, err := d.PlayerAccess("alice", access.TargetDirectMessages)
	if err != nil || !list.DefaultAllow || len(list.Rules) != 0 {
		t.Fatalf("message default = %+v, %v", list, err)
	}
	list, err = d.PlayerAccess("alice", access.TargetNewRealmAccess)
	if err != nil || list.DefaultAllow {
		t.Fatalf("realm-template default = %+v, %v", list, err)
	}
	list, err = d.ServerAccess(access.TargetAccessServer)
	if err != nil || !list.DefaultAllow {
		t.Fatalf("server default = %+v, %v", list, err)
	}

	want := access.List{Rules: []access.Rule{
		{Kind: access.MatchServer, Server: "far.example", Allow: false},
		{Kind: access.MatchAll, Allow: true},
	}}
	if err := d.SetPlayerAccess("alice", access.TargetDirectMessages, want); err != nil {
		t.Fatal(err)
	}
	got, err := d.PlayerAccess("alice", access.TargetDirectMessages)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Rules) != 2 || got.Rules[0].Server != "far.example" || got.Rules[0].Allow {
		t.Fatalf("rules = %+v", got.Rules)
	}

	if err := d.SetServerAccess(access.TargetAdminServer, access.List{Rules: []access.Rule{
		{Kind: access.MatchPlayer, Player: "root", Allow: true},
	}}); err != nil {
		t.Fatal(err)
	}
	got, err = d.ServerAccess(access.TargetAdminServer)
	if err != nil || len(got.Rules) != 1 || got.Rules[0].Player != "root" {
		t.Fatalf("admin list = %+v, %v", got, err)
	}
}

func TestRealmRowKeepsFirstSeed(t *testing.T) {
	d := testDB(t)

	state, seed, err := d.RealmRow("alice", "cc11", 41)
	if err != nil || state != nil || seed != 41 {
		t.Fatalf("first row = %v, %d, %v", state, seed, err)
	}
	_, seed, err = d.RealmRow("alice", "cc11", 99)
	if err != nil || seed != 41 {
		t.Fatalf("second row seed = %d, %v", seed, err)
	}

	if err := d.SaveRealmState("alice", "cc11", []byte{0x81}); err != nil {
		t.Fatal(err)
	}
	state, seed, err = d.RealmRow("alice", "cc11", 7)
	if err != nil || seed != 41 || len(state) != 1 {
		t.Fatalf("reloaded = %v, %d, %v", state, seed, err)
	}
}

func TestRealmAccessInheritsOwnerTemplate(t *testing.T) {
	d := testDB(t)

	tmpl := access.List{Rules: []access.Rule{{Kind: access.MatchLocal, Allow: true}}}
	if err := d.SetPlayerAccess("alice", access.TargetNewRealmAccess, tmpl); err != nil {
		t.Fatal(err)
	}

	got, err := d.RealmAccess("alice", "cc22")
	if err != nil || len(got.Rules) != 1 || got.Rules[0].Kind != access.MatchLocal {
		t.Fatalf("inherited = %+v, %v", got, err)
	}

	own := access.List{Rules: []access.Rule{{Kind: access.MatchAll, Allow: true}}}
	if err := d.SetRealmAccess("alice", "cc22", own); err != nil {
		t.Fatal(err)
	}
	got, err = d.RealmAccess("alice", "cc22")
	if err != nil || len(got.Rules) != 1 || got.Rules[0].Kind != access.MatchAll {
		t.Fatalf("own list = %+v, %v", got, err)
	}
}

func TestDirectMessageWindowAndDedupe(t *testing.T) {
	d := testDB(t)
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		if err := d.RecordDirectMessage("alice", "bob", "msg", at, i%2 == 0); err != nil {
			t.Fatal(err)
		}
	}
	got, err := d.DirectMessages("alice", "bob", base, base.Add(2*time.Minute))
	if err != nil || len(got) != 2 {
		t.Fatalf("window = %d messages, %v", len(got), err)
	}
	if !got[0].Inbound || got[1].Inbound {
		t.Fatalf("order = %+v", got)
	}

	fresh, err := d.SaveIncomingChat("alice", "carol@far.example", "hi", base)
	if err != nil || !fresh {
		t.Fatalf("first delivery fresh = %v, %v", fresh, err)
	}
	fresh, err = d.SaveIncomingChat("alice", "carol@far.example", "hi", base)
	if err != nil || fresh {
		t.Fatalf("redelivery fresh = %v, %v", fresh, err)
	}

	if err := d.MarkRead("alice", "bob", base.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
}

func TestBookmarksAndSubscriptions(t *testing.T) {
	d := testDB(t)

	mark := protocol.Bookmark{Kind: "realm", Value: "bob/cc22"}
	if err := d.MutateBookmark("alice", true, mark); err != nil {
		t.Fatal(err)
	}
	if err := d.MutateBookmark("alice", true, mark); err != nil {
		t.Fatal(err)
	}
	marks, err := d.Bookmarks("alice")
	if err != nil || len(marks) != 1 || marks[0] != mark {
		t.Fatalf("bookmarks = %+v, %v", marks, err)
	}
	if err := d.MutateBookmark("alice", false, mark); err != nil {
		t.Fatal(err)
	}
	if marks, _ = d.Bookmarks("alice"); len(marks) != 0 {
		t.Fatalf("bookmarks after delete = %+v", marks)
	}

	sub := session.SubscribedRealm{Owner: "bob", Asset: "cc22", Server: "far.example"}
	if err := d.MutateCalendarSubscription("alice", true, sub); err != nil {
		t.Fatal(err)
	}
	subs, err := d.CalendarSubscriptions("alice")
	if err != nil || len(subs) != 1 || subs[0] != sub {
		t.Fatalf("subs = %+v, %v", subs, err)
	}
}

func TestPeerBans(t *testing.T) {
	d := testDB(t)

	if err := d.SetPeerBan("far.example", true, "spam"); err != nil {
		t.Fatal(err)
	}
	bans, err := d.BannedPeers()
	if err != nil || len(bans) != 1 || bans[0].Server != "far.example" || bans[0].Reason != "spam" {
		t.Fatalf("bans = %+v, %v", bans, err)
	}
	if err := d.SetPeerBan("far.example", false, ""); err != nil {
		t.Fatal(err)
	}
	if bans, _ = d.BannedPeers(); len(bans) != 0 {
		t.Fatalf("bans after lift = %+v", bans)
	}
}

func TestCredentialsAndKeys(t *testing.T) {
	d := testDB(t)

	hash, secrets, err := d.Credentials("alice")
	if err != nil || hash != nil || secrets != nil {
		t.Fatalf("fresh credentials = %v, %v, %v", hash, secrets, err)
	}
	if err := d.SetPassword("alice", []byte("argon")); err != nil {
		t.Fatal(err)
	}
	if err := d.SetOTPSecrets("alice", []string{"AAAA", "BBBB"}); err != nil {
		t.Fatal(err)
	}
	hash, secrets, err = d.Credentials("alice")
	if err != nil || string(hash) != "argon" || len(secrets) != 2 {
		t.Fatalf("credentials = %q, %v, %v", hash, secrets, err)
	}

	if err := d.AddPublicKey("alice", "laptop", []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	key, err := d.PublicKey("alice", "laptop")
	if err != nil || len(key) != 3 {
		t.Fatalf("key = %v, %v", key, err)
	}
	names, err := d.PublicKeys("alice")
	if err != nil || len(names) != 1 || names[0] != "laptop" {
		t.Fatalf("names = %+v, %v", names, err)
	}
	if err := d.DeletePublicKey("alice", "laptop"); err != nil {
		t.Fatal(err)
	}
	if names, _ = d.PublicKeys("alice"); len(names) != 0 {
		t.Fatalf("names after delete = %+v", names)
	}
}

func TestRealmAnnouncementsEmpty(t *testing.T) {
	d := testDB(t)
	anns, err := d.RealmAnnouncements("alice", "cc11")
	if err != nil || anns != nil {
		t.Fatalf("announcements = %+v, %v", anns, err)
	}
}
