package access

import (
	"testing"
	"time"
)

const local = "spadina.example"

var (
	now   = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	alice = Principal{Player: "alice"}
	bob   = Principal{Player: "bob", Server: "other.example"}
	carol = Principal{Player: "carol", Server: "sub.other.example"}
)

func TestFirstMatchWins(t *testing.T) {
	l := List{Rules: []Rule{
		{Kind: MatchPlayer, Player: "bob", Server: "other.example", Allow: true},
		{Kind: MatchServer, Server: "other.example", Allow: false},
		{Kind: MatchAll, Allow: true},
	}}
	if !l.Check(bob, local, now) {
		t.Error("bob denied despite leading allow")
	}
	dave := Principal{Player: "dave", Server: "other.example"}
	if l.Check(dave, local, now) {
		t.Error("dave allowed past the server deny")
	}
	if !l.Check(alice, local, now) {
		t.Error("alice not caught by trailing wildcard")
	}
}

func TestDefaults(t *testing.T) {
	if DefaultAccess().Check(alice, local, now) {
		t.Error("empty access list allowed")
	}
	if !DefaultMessaging().Check(alice, local, now) {
		t.Error("empty messaging list denied")
	}
}

func TestLocalAndDomainRules(t *testing.T) {
	l := List{Rules: []Rule{
		{Kind: MatchLocal, Allow: true},
		{Kind: MatchDomain, Server: "other.example", Allow: true},
	}}
	if !l.Check(alice, local, now) {
		t.Error("local player denied")
	}
	if !l.Check(bob, local, now) || !l.Check(carol, local, now) {
		t.Error("domain suffix not matched")
	}
	eve := Principal{Player: "eve", Server: "elsewhere.example"}
	if l.Check(eve, local, now) {
		t.Error("unrelated server allowed")
	}
	// A principal explicitly at the local server counts as local.
	if !l.Check(Principal{Player: "fred", Server: local}, local, now) {
		t.Error("explicit local server not treated as local")
	}
}

func TestExpiredRulesNeverMatch(t *testing.T) {
	l := List{Rules: []Rule{
		{Kind: MatchAll, Allow: true, Expiry: now.Add(-time.Hour)},
	}}
	if l.Check(alice, local, now) {
		t.Error("expired allow still granting")
	}
	l.Rules[0].Expiry = now.Add(time.Hour)
	if !l.Check(alice, local, now) {
		t.Error("live allow not granting")
	}

	compacted := l.Compact(now.Add(2 * time.Hour))
	if len(compacted.Rules) != 0 {
		t.Errorf("Compact kept %d expired rules", len(compacted.Rules))
	}
}

func TestLayered(t *testing.T) {
	server := List{Rules: []Rule{{Kind: MatchAll, Allow: true}}}
	realm := List{Rules: []Rule{{Kind: MatchServer, Server: "other.example", Allow: false}, {Kind: MatchAll, Allow: true}}}
	if !Layered(server, realm, alice, local, now) {
		t.Error("alice blocked by layering")
	}
	if Layered(server, realm, bob, local, now) {
		t.Error("realm deny not enforced")
	}
	serverDeny := List{Rules: []Rule{{Kind: MatchAll, Allow: false}}}
	if Layered(serverDeny, realm, alice, local, now) {
		t.Error("server deny not enforced")
	}
}

func TestParsePredicate(t *testing.T) {
	cases := []struct {
		in   string
		want Rule
	}{
		{"*", Rule{Kind: MatchAll}},
		{"*@other.example", Rule{Kind: MatchServer, Server: "other.example"}},
		{"@other.example", Rule{Kind: MatchDomain, Server: "other.example"}},
		{"bob@Other.Example", Rule{Kind: MatchPlayer, Player: "bob", Server: "other.example"}},
		{"alice", Rule{Kind: MatchPlayer, Player: "alice"}},
	}
	for _, tc := range cases {
		got, err := ParsePredicate(tc.in)
		if err != nil {
			t.Errorf("ParsePredicate(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParsePredicate(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
	for _, bad := range []string{"", "*@", "@", "bob@"} {
		if _, err := ParsePredicate(bad); err == nil {
			t.Errorf("ParsePredicate(%q) accepted", bad)
		}
	}
}

// Adding a deny rule must never grant access; removing an allow rule
// must never grant access. Checked differentially over a pile of
// principals and list prefixes.
func TestMonotonicity(t *testing.T) {
	principals := []Principal{alice, bob, carol, {Player: "dave", Server: "other.example"}}
	base := List{Rules: []Rule{
		{Kind: MatchPlayer, Player: "alice", Allow: true},
		{Kind: MatchServer, Server: "other.example", Allow: true},
		{Kind: MatchDomain, Server: "other.example", Allow: false},
		{Kind: MatchAll, Allow: true},
	}}

	denyRules := []Rule{
		{Kind: MatchAll, Allow: false},
		{Kind: MatchLocal, Allow: false},
		{Kind: MatchPlayer, Player: "bob", Server: "other.example", Allow: false},
	}
	for pos := 0; pos <= len(base.Rules); pos++ {
		for _, deny := range denyRules {
			var with List
			with.Rules = append(with.Rules, base.Rules[:pos]...)
			with.Rules = append(with.Rules, deny)
			with.Rules = append(with.Rules, base.Rules[pos:]...)
			for _, p := range principals {
				before := base.Check(p, local, now)
				after := with.Check(p, local, now)
				if after && !before {
					t.Errorf("deny %+v at %d granted %s", deny, pos, p)
				}
			}
		}
	}

	for i, r := range base.Rules {
		if !r.Allow {
			continue
		}
		var without List
		without.Rules = append(without.Rules, base.Rules[:i]...)
		without.Rules = append(without.Rules, base.Rules[i+1:]...)
		for _, p := range principals {
			if without.Check(p, local, now) && !base.Check(p, local, now) {
				t.Errorf("removing allow %d granted %s", i, p)
			}
		}
	}
}
