// Package access evaluates first-match access control lists over
// player principals. Server ACLs layer over realm or player ACLs: a
// principal must pass both to act.
package access

import (
	"fmt"
	"strings"
	"time"
)

// Target names which control list is being read or changed.
type Target string

const (
	// TargetAccessServer gates visiting any realm on this server.
	TargetAccessServer Target = "access_server"
	// TargetAdminServer gates changing ACLs anywhere on this server.
	TargetAdminServer Target = "admin_server"
	// TargetCreateOnServer gates hosting assets and realms here.
	TargetCreateOnServer Target = "create_on_server"
	// TargetDirectMessages gates sending a player direct messages.
	TargetDirectMessages Target = "direct_messages"
	// TargetNewRealmAccess is copied onto newly created realms.
	TargetNewRealmAccess Target = "new_realm_access"
	// TargetNewRealmAdmin is copied onto newly created realms.
	TargetNewRealmAdmin Target = "new_realm_admin"
)

// Principal is a player identity: a local name, or name@server for a
// remote player.
type Principal struct {
	Player string `msgpack:"player"`
	// Server is empty for local players.
	Server string `msgpack:"server,omitempty"`
}

// ParsePrincipal splits "name" or "name@server".
func ParsePrincipal(s string) (Principal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Principal{}, fmt.Errorf("empty principal")
	}
	name, server, found := strings.Cut(s, "@")
	if !found {
		return Principal{Player: name}, nil
	}
	if name == "" || server == "" {
		return Principal{}, fmt.Errorf("malformed principal %q", s)
	}
	return Principal{Player: name, Server: strings.ToLower(server)}, nil
}

func (p Principal) String() string {
	if p.Server == "" {
		return p.Player
	}
	return p.Player + "@" + p.Server
}

// serverOr resolves the principal's server, treating empty as local.
func (p Principal) serverOr(local string) string {
	if p.Server == "" {
		return local
	}
	return p.Server
}

// RuleKind selects what a rule matches.
type RuleKind string

const (
	// MatchAll matches every principal.
	MatchAll RuleKind = "all"
	// MatchLocal matches players of the local server.
	MatchLocal RuleKind = "local"
	// MatchServer matches every player of one named server.
	MatchServer RuleKind = "server"
	// MatchDomain matches every player of servers under a domain
	// suffix.
	MatchDomain RuleKind = "domain"
	// MatchPlayer matches one principal.
	MatchPlayer RuleKind = "player"
)

// Rule is one access control entry. Expired rules never match.
type Rule struct {
	Kind   RuleKind  `msgpack:"kind"`
	Player string    `msgpack:"player,omitempty"`
	Server string    `msgpack:"server,omitempty"`
	Allow  bool      `msgpack:"allow"`
	Expiry time.Time `msgpack:"expiry,omitempty"`
}

func (r Rule) live(now time.Time) bool {
	return r.Expiry.IsZero() || r.Expiry.After(now)
}

func (r Rule) matches(p Principal, local string, now time.Time) bool {
	if !r.live(now) {
		return false
	}
	switch r.Kind {
	case MatchAll:
		return true
	case MatchLocal:
		return p.serverOr(local) == local
	case MatchServer:
		return p.serverOr(local) == r.Server
	case MatchDomain:
		return hasDomainSuffix(r.Server, p.serverOr(local))
	case MatchPlayer:
		ruleServer := r.Server
		if ruleServer == "" {
			ruleServer = local
		}
		return p.Player == r.Player && p.serverOr(local) == ruleServer
	default:
		return false
	}
}

func hasDomainSuffix(suffix, server string) bool {
	return server == suffix || strings.HasSuffix(server, "."+suffix)
}

// List is an ordered rule list with a default for the no-match case.
type List struct {
	Rules []Rule `msgpack:"rules"`
	// DefaultAllow is the verdict when no rule matches: false for
	// access lists, true for messaging lists.
	DefaultAllow bool `msgpack:"default_allow"`
}

// DefaultAccess is the list protecting realms and servers: empty,
// deny by default.
func DefaultAccess() List { return List{} }

// DefaultMessaging is the list protecting direct messages: empty,
// allow by default.
func DefaultMessaging() List { return List{DefaultAllow: true} }

// Check scans the rules in order and returns the first match's
// verdict, or the default.
func (l List) Check(p Principal, localServer string, now time.Time) bool {
	for _, r := range l.Rules {
		if r.matches(p, localServer, now) {
			return r.Allow
		}
	}
	return l.DefaultAllow
}

// Compact drops expired rules, preserving order.
func (l List) Compact(now time.Time) List {
	out := List{DefaultAllow: l.DefaultAllow}
	for _, r := range l.Rules {
		if r.live(now) {
			out.Rules = append(out.Rules, r)
		}
	}
	return out
}

// ParsePredicate reads the textual rule forms: "*", "*@server",
// "@domain", "player@server", "player".
func ParsePredicate(s string) (Rule, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return Rule{}, fmt.Errorf("empty predicate")
	case s == "*":
		return Rule{Kind: MatchAll}, nil
	case strings.HasPrefix(s, "*@"):
		server := strings.ToLower(s[2:])
		if server == "" {
			return Rule{}, fmt.Errorf("malformed predicate %q", s)
		}
		return Rule{Kind: MatchServer, Server: server}, nil
	case strings.HasPrefix(s, "@"):
		domain := strings.ToLower(s[1:])
		if domain == "" {
			return Rule{}, fmt.Errorf("malformed predicate %q", s)
		}
		return Rule{Kind: MatchDomain, Server: domain}, nil
	default:
		p, err := ParsePrincipal(s)
		if err != nil {
			return Rule{}, err
		}
		return Rule{Kind: MatchPlayer, Player: p.Player, Server: p.Server}, nil
	}
}

// Predicate renders the rule's textual form. Local-only rules render
// as a server match on the given local server, which evaluates the
// same way.
func (r Rule) Predicate(local string) string {
	switch r.Kind {
	case MatchAll:
		return "*"
	case MatchLocal:
		return "*@" + local
	case MatchServer:
		return "*@" + r.Server
	case MatchDomain:
		return "@" + r.Server
	case MatchPlayer:
		if r.Server == "" {
			return r.Player
		}
		return r.Player + "@" + r.Server
	default:
		return ""
	}
}

// Layered evaluates the server list, then the inner (realm or player)
// list; both must allow.
func Layered(server, inner List, p Principal, localServer string, now time.Time) bool {
	return server.Check(p, localServer, now) && inner.Check(p, localServer, now)
}
