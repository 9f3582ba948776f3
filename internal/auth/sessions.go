// Package auth covers both sides of identity: player sign-in with
// session tokens, and server-to-server proof for the federation mesh.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

// ErrBadCredentials is returned for any sign-in failure so callers
// cannot distinguish unknown players from wrong secrets.
var ErrBadCredentials = errors.New("bad credentials")

// Sessions mints and checks the HS256 bearer tokens clients carry.
type Sessions struct {
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

func NewSessions(secret []byte, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Sessions{secret: secret, ttl: ttl, clock: time.Now}
}

func (s *Sessions) Issue(player string) (string, error) {
	now := s.clock()
	claims := jwt.RegisteredClaims{
		Subject:   player,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify implements session.Authenticator.
func (s *Sessions) Verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{},
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(s.clock))
	if err != nil {
		return "", err
	}
	claims := parsed.Claims.(*jwt.RegisteredClaims)
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// CredentialStore is the persistence surface sign-in needs.
type CredentialStore interface {
	Credentials(player string) (passwordHash []byte, otpSecrets []string, err error)
}

// Login checks player credentials and issues session tokens. Mode is
// otp or password, matching the configuration.
type Login struct {
	store    CredentialStore
	sessions *Sessions
	mode     string
	clock    func() time.Time
}

func NewLogin(store CredentialStore, sessions *Sessions, mode string) *Login {
	return &Login{store: store, sessions: sessions, mode: mode, clock: time.Now}
}

// Password validates a fixed password against its bcrypt hash.
func (l *Login) Password(player, password string) (string, error) {
	if l.mode != "password" {
		return "", ErrBadCredentials
	}
	hash, _, err := l.store.Credentials(player)
	if err != nil {
		return "", err
	}
	if len(hash) == 0 || bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
		return "", ErrBadCredentials
	}
	return l.sessions.Issue(player)
}

// OTP validates a TOTP code against any of the player's registered
// secrets.
func (l *Login) OTP(player, code string) (string, error) {
	if l.mode != "otp" {
		return "", ErrBadCredentials
	}
	_, secrets, err := l.store.Credentials(player)
	if err != nil {
		return "", err
	}
	for _, secret := range secrets {
		if totp.Validate(code, secret) {
			return l.sessions.Issue(player)
		}
	}
	return "", ErrBadCredentials
}

// HashPassword prepares a password for storage.
func HashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}
