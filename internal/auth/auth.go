// Package auth provides admin authentication and bearer-token session
// management for the HTTP API.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"grimm.is/zedctl/internal/clock"
)

var (
	// ErrBadCredentials covers unknown user and wrong password alike.
	ErrBadCredentials = errors.New("auth: invalid credentials")

	// ErrInvalidToken covers missing, unknown, and expired tokens.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// DefaultSessionTTL is how long a login stays valid.
const DefaultSessionTTL = 24 * time.Hour

// Session is an active login.
type Session struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store verifies the configured admin credentials and tracks sessions
// in memory. Sessions do not survive a restart; operators just log in
// again.
type Store struct {
	username string
	hash     string
	ttl      time.Duration
	clk      clock.Clock

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates a store for one admin identity. hash is a bcrypt
// hash of the admin password.
func NewStore(username, hash string, ttl time.Duration, clk clock.Clock) *Store {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if clk == nil {
		clk = &clock.RealClock{}
	}
	return &Store{
		username: username,
		hash:     hash,
		ttl:      ttl,
		clk:      clk,
		sessions: make(map[string]*Session),
	}
}

// HashPassword produces a bcrypt hash for config files.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Login checks the credentials and mints a session token.
func (s *Store) Login(username, password string) (*Session, error) {
	if username != s.username {
		// Burn comparable time so the response does not reveal whether
		// the username exists.
		bcrypt.CompareHashAndPassword([]byte(s.hash), []byte(password))
		return nil, ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.hash), []byte(password)); err != nil {
		return nil, ErrBadCredentials
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}
	now := s.clk.Now()
	sess := &Session{
		Token:     token,
		Username:  username,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	s.mu.Lock()
	s.sessions[token] = sess
	s.pruneLocked(now)
	s.mu.Unlock()

	return sess, nil
}

// Validate resolves a token to its session.
func (s *Store) Validate(token string) (*Session, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	s.mu.RLock()
	sess, ok := s.sessions[token]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrInvalidToken
	}
	if s.clk.Now().After(sess.ExpiresAt) {
		s.mu.Lock()
		delete(s.sessions, token)
		s.mu.Unlock()
		return nil, ErrInvalidToken
	}
	return sess, nil
}

// Logout invalidates a token. Unknown tokens are a no-op.
func (s *Store) Logout(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

// TTLSeconds returns the session lifetime for login responses.
func (s *Store) TTLSeconds() int {
	return int(s.ttl / time.Second)
}

func (s *Store) pruneLocked(now time.Time) {
	for token, sess := range s.sessions {
		if now.After(sess.ExpiresAt) {
			delete(s.sessions, token)
		}
	}
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
