package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
)

type fakeCreds struct {
	hash    []byte
	secrets []string
}

func (f fakeCreds) Credentials(string) ([]byte, []string, error) { return f.hash, f.secrets, nil }

func TestSessionRoundTrip(t *testing.T) {
	s := NewSessions([]byte("sekrit"), time.Hour)
	token, err := s.Issue("alice")
	if err != nil {
		t.Fatal(err)
	}
	player, err := s.Verify(token)
	if err != nil || player != "alice" {
		t.Fatalf("verify = %q, %v", player, err)
	}
}

func TestSessionExpires(t *testing.T) {
	s := NewSessions([]byte("sekrit"), time.Hour)
	now := time.Now()
	s.clock = func() time.Time { return now }
	token, err := s.Issue("alice")
	if err != nil {
		t.Fatal(err)
	}
	now = now.Add(2 * time.Hour)
	if _, err := s.Verify(token); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestSessionRejectsWrongSecret(t *testing.T) {
	token, err := NewSessions([]byte("one"), time.Hour).Issue("alice")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewSessions([]byte("two"), time.Hour).Verify(token); err == nil {
		t.Fatal("foreign token accepted")
	}
}

func TestPasswordLogin(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatal(err)
	}
	sessions := NewSessions([]byte("sekrit"), time.Hour)
	l := NewLogin(fakeCreds{hash: hash}, sessions, "password")

	token, err := l.Password("alice", "hunter2")
	if err != nil || token == "" {
		t.Fatalf("login = %q, %v", token, err)
	}
	if _, err := l.Password("alice", "wrong"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("wrong password err = %v", err)
	}
	if _, err := l.OTP("alice", "000000"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("otp in password mode err = %v", err)
	}
}

func TestOTPLogin(t *testing.T) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "spadina", AccountName: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	code, err := totp.GenerateCode(key.Secret(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	sessions := NewSessions([]byte("sekrit"), time.Hour)
	l := NewLogin(fakeCreds{secrets: []string{"JBSWY3DPEHPK3PXP", key.Secret()}}, sessions, "otp")

	token, err := l.OTP("alice", code)
	if err != nil || token == "" {
		t.Fatalf("login = %q, %v", token, err)
	}
	if _, err := l.OTP("alice", "000000"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("bad code err = %v", err)
	}
}

func peersPair(t *testing.T) (*Peers, *Peers) {
	t.Helper()
	pubA, keyA, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	pubB, keyB, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	keys := map[string]ed25519.PublicKey{"a.example": pubA, "b.example": pubB}
	fetch := func(server string) (ed25519.PublicKey, error) {
		key, ok := keys[server]
		if !ok {
			return nil, errors.New("unknown server")
		}
		return key, nil
	}
	return NewPeers("a.example", keyA, fetch), NewPeers("b.example", keyB, fetch)
}

func TestPeerTokenRoundTrip(t *testing.T) {
	a, b := peersPair(t)
	token, err := a.IssuePeer("b.example")
	if err != nil {
		t.Fatal(err)
	}
	server, err := b.VerifyPeer(token)
	if err != nil || server != "a.example" {
		t.Fatalf("verify = %q, %v", server, err)
	}
}

func TestPeerTokenWrongAudience(t *testing.T) {
	a, b := peersPair(t)
	token, err := a.IssuePeer("c.example")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.VerifyPeer(token); err == nil {
		t.Fatal("token for another audience accepted")
	}
}

func TestPeerTokenForgedIssuer(t *testing.T) {
	_, b := peersPair(t)
	_, rogue, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	// Signed by a key that is not a.example's published one.
	forger := NewPeers("a.example", rogue, nil)
	token, err := forger.IssuePeer("b.example")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.VerifyPeer(token); err == nil {
		t.Fatal("forged token accepted")
	}
}

func keyHandlerBody(t *testing.T, p *Peers) string {
	t.Helper()
	rec := httptest.NewRecorder()
	p.KeyHandler()(rec, httptest.NewRequest("GET", KeyPath, nil))
	return rec.Body.String()
}

func TestKeyHandlerAndDecode(t *testing.T) {
	a, _ := peersPair(t)
	pub := a.key.Public().(ed25519.PublicKey)
	decoded, err := DecodeKey(keyHandlerBody(t, a))
	if err != nil {
		t.Fatal(err)
	}
	if !decoded.Equal(pub) {
		t.Fatal("published key does not match")
	}
}

func TestLoadOrCreateKeyIsStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "peer.pem")
	first, err := LoadOrCreateKey(path)
	if err != nil {
		t.Fatal(err)
	}
	second, err := LoadOrCreateKey(path)
	if err != nil {
		t.Fatal(err)
	}
	if !first.Equal(second) {
		t.Fatal("reloaded key differs")
	}
}
