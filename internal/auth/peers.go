package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	peerTokenTTL = 5 * time.Minute
	keyCacheTTL  = time.Hour

	// KeyPath is where a server publishes its federation public key.
	KeyPath = "/.well-known/spadina-key"
)

// KeyFetcher retrieves another server's federation public key.
type KeyFetcher func(server string) (ed25519.PublicKey, error)

// Peers signs this server's hello tokens with its Ed25519 key and
// verifies peers' tokens against their published keys.
type Peers struct {
	server string
	key    ed25519.PrivateKey
	fetch  KeyFetcher
	clock  func() time.Time

	mu    sync.Mutex
	cache map[string]cachedKey
}

type cachedKey struct {
	key     ed25519.PublicKey
	fetched time.Time
}

// NewPeers builds the peer authenticator. A nil fetch uses HTTPS
// against the well-known path.
func NewPeers(server string, key ed25519.PrivateKey, fetch KeyFetcher) *Peers {
	if fetch == nil {
		fetch = FetchKeyHTTPS
	}
	return &Peers{
		server: server,
		key:    key,
		fetch:  fetch,
		clock:  time.Now,
		cache:  make(map[string]cachedKey),
	}
}

// IssuePeer implements peer.TokenSource.
func (p *Peers) IssuePeer(audience string) (string, error) {
	now := p.clock()
	claims := jwt.RegisteredClaims{
		Issuer:    p.server,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(peerTokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(p.key)
}

// VerifyPeer implements peer.TokenVerifier. The issuer named in the
// token must have published the key that signed it, and the token must
// be addressed to us.
func (p *Peers) VerifyPeer(token string) (string, error) {
	var unverified jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &unverified); err != nil {
		return "", err
	}
	issuer := unverified.Issuer
	if issuer == "" {
		return "", errors.New("token has no issuer")
	}
	key, err := p.keyFor(issuer)
	if err != nil {
		return "", fmt.Errorf("key for %s: %w", issuer, err)
	}
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{},
		func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithAudience(p.server),
		jwt.WithTimeFunc(p.clock))
	if err != nil {
		return "", err
	}
	claims := parsed.Claims.(*jwt.RegisteredClaims)
	if claims.Issuer != issuer {
		return "", errors.New("issuer changed between parses")
	}
	return issuer, nil
}

func (p *Peers) keyFor(server string) (ed25519.PublicKey, error) {
	p.mu.Lock()
	cached, ok := p.cache[server]
	p.mu.Unlock()
	if ok && p.clock().Sub(cached.fetched) < keyCacheTTL {
		return cached.key, nil
	}
	key, err := p.fetch(server)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.cache[server] = cachedKey{key: key, fetched: p.clock()}
	p.mu.Unlock()
	return key, nil
}

// KeyHandler serves this server's public key at the well-known path.
func (p *Peers) KeyHandler() http.HandlerFunc {
	encoded := base64.StdEncoding.EncodeToString(p.key.Public().(ed25519.PublicKey))
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, encoded)
	}
}

// FetchKeyHTTPS is the production key fetcher.
func FetchKeyHTTPS(server string) (ed25519.PublicKey, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get("https://" + server + KeyPath)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s answered %s", server, resp.Status)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return nil, err
	}
	return DecodeKey(string(raw))
}

// DecodeKey parses the published base64 key form.
func DecodeKey(encoded string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("key is %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// LoadOrCreateKey reads the PEM Ed25519 key at path, generating and
// persisting one on first start.
func LoadOrCreateKey(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		block, _ := pem.Decode(raw)
		if block == nil {
			return nil, fmt.Errorf("%s: not PEM", path)
		}
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		key, ok := parsed.(ed25519.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%s: not an Ed25519 key", path)
		}
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	encoded := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		return nil, err
	}
	return key, nil
}
