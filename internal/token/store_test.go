package token

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tesseranet/tessera/internal/domain"
)

func TestIssueAndConsume(t *testing.T) {
	s := NewStore(30 * time.Second)
	defer s.Close()

	tok := s.Issue("t123456789", "hunter2")
	require.NotEmpty(t, tok)

	entry, err := s.Consume(tok)
	require.NoError(t, err)
	assert.Equal(t, "t123456789", entry.Address)
	assert.Equal(t, "hunter2", entry.Secret)
}

func TestConsumeIsSingleUse(t *testing.T) {
	s := NewStore(30 * time.Second)
	defer s.Close()

	tok := s.Issue("t123456789", "hunter2")
	_, err := s.Consume(tok)
	require.NoError(t, err)

	_, err = s.Consume(tok)
	assert.ErrorIs(t, err, domain.Err(domain.KindTokenNotFound))
}

func TestConsumeUnknownToken(t *testing.T) {
	s := NewStore(30 * time.Second)
	defer s.Close()

	_, err := s.Consume("nope")
	assert.ErrorIs(t, err, domain.Err(domain.KindTokenNotFound))
}

func TestConsumeExpiredToken(t *testing.T) {
	s := NewStore(30 * time.Second)
	defer s.Close()

	current := time.Now()
	s.now = func() time.Time { return current }

	tok := s.Issue("t123456789", "hunter2")
	current = current.Add(31 * time.Second)

	_, err := s.Consume(tok)
	assert.ErrorIs(t, err, domain.Err(domain.KindTokenExpired))

	// The expired entry was purged, not left behind.
	assert.Zero(t, s.Pending())
}

func TestIssueGuest(t *testing.T) {
	s := NewStore(30 * time.Second)
	defer s.Close()

	tok := s.Issue("", "ignored")
	entry, err := s.Consume(tok)
	require.NoError(t, err)
	assert.Equal(t, domain.GuestAddress, entry.Address)
	assert.Empty(t, entry.Secret)
}

func TestConcurrentConsumeSucceedsOnce(t *testing.T) {
	s := NewStore(30 * time.Second)
	defer s.Close()

	tok := s.Issue("t123456789", "hunter2")

	const attempts = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Consume(tok); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

func TestCloseDiscardsPendingTokens(t *testing.T) {
	s := NewStore(30 * time.Second)
	s.Issue("t123456789", "hunter2")
	s.Close()

	assert.Zero(t, s.Pending())
}
