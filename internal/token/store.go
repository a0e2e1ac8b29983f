// Package token implements the short-lived session token store. A token is
// issued once, lives for a fixed TTL, and is destroyed by its first
// successful consumption or by expiry, whichever comes first.
package token

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tesseranet/tessera/internal/domain"
)

// Entry is the credential state held behind an issued token.
type Entry struct {
	Address   string
	Secret    string
	ExpiresAt time.Time
}

// Store holds pending session tokens. All access goes through one mutex so
// consumption is an atomic check-and-remove per token.
type Store struct {
	mu     sync.Mutex
	tokens map[string]Entry

	ttl  time.Duration
	now  func() time.Time
	done chan struct{}
	once sync.Once
}

// NewStore creates a token store and starts its background sweep.
func NewStore(ttl time.Duration) *Store {
	s := &Store{
		tokens: make(map[string]Entry),
		ttl:    ttl,
		now:    time.Now,
		done:   make(chan struct{}),
	}
	go s.sweep()
	return s
}

// TTL returns the configured token lifetime.
func (s *Store) TTL() time.Duration { return s.ttl }

// Issue stores credentials for a new token and returns the token string.
// An empty address issues a guest token.
func (s *Store) Issue(address, secret string) string {
	if address == "" {
		address = domain.GuestAddress
		secret = ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		tok := uuid.NewString()
		if _, exists := s.tokens[tok]; exists {
			continue
		}
		s.tokens[tok] = Entry{Address: address, Secret: secret, ExpiresAt: s.now().Add(s.ttl)}
		return tok
	}
}

// Consume removes and returns the entry for tok. It fails with
// token_not_found when absent and token_expired when past its TTL; an
// expired entry is purged on access.
func (s *Store) Consume(tok string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.tokens[tok]
	if !ok {
		return Entry{}, domain.Err(domain.KindTokenNotFound)
	}
	delete(s.tokens, tok)
	if s.now().After(entry.ExpiresAt) {
		return Entry{}, domain.Err(domain.KindTokenExpired)
	}
	return entry, nil
}

// Pending reports the number of unconsumed tokens. Diagnostics only.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// Close stops the sweep and discards all pending tokens.
func (s *Store) Close() {
	s.once.Do(func() { close(s.done) })
	s.mu.Lock()
	s.tokens = make(map[string]Entry)
	s.mu.Unlock()
}

func (s *Store) sweep() {
	t := time.NewTicker(s.ttl)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			now := s.now()
			s.mu.Lock()
			for tok, entry := range s.tokens {
				if now.After(entry.ExpiresAt) {
					delete(s.tokens, tok)
				}
			}
			s.mu.Unlock()
		case <-s.done:
			return
		}
	}
}
