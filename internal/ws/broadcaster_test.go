package ws

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tesseranet/tessera/internal/domain"
)

func TestBroadcastDeliversToMatchingConnections(t *testing.T) {
	reg, tokens := testRegistry(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bc := NewBroadcaster(reg, time.Minute, logger)

	subscribed, err := reg.Register(nil, tokens.Issue("", ""))
	require.NoError(t, err)

	unsubscribed, err := reg.Register(nil, tokens.Issue("", ""))
	require.NoError(t, err)
	require.NoError(t, reg.SetSubscription(unsubscribed, "transactions", false))

	bc.Broadcast(domain.TransactionEvent(&domain.Transaction{From: "k1", To: "k2", Value: 10}))

	select {
	case raw := <-subscribed.send:
		var msg map[string]any
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, "event", msg["type"])
		assert.Equal(t, "transaction", msg["event"])
		tx, ok := msg["transaction"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "k1", tx["from"])
		assert.Equal(t, "k2", tx["to"])
		assert.Equal(t, float64(10), tx["value"])
	default:
		t.Fatal("subscribed connection received nothing")
	}

	assert.Empty(t, unsubscribed.send)
}

func TestBroadcastNeverBlocksOnFullBuffer(t *testing.T) {
	reg, tokens := testRegistry(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bc := NewBroadcaster(reg, time.Minute, logger)

	slow, err := reg.Register(nil, tokens.Issue("", ""))
	require.NoError(t, err)
	healthy, err := reg.Register(nil, tokens.Issue("", ""))
	require.NoError(t, err)

	for i := 0; i < sendBuffer; i++ {
		slow.enqueue([]byte("{}"))
	}

	done := make(chan struct{})
	go func() {
		bc.Broadcast(domain.TransactionEvent(&domain.Transaction{From: "k1", To: "k2", Value: 1}))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a slow connection")
	}

	// The healthy connection still got the event.
	assert.Len(t, healthy.send, 1)
}

func TestBroadcastAfterDeregisterIsSafe(t *testing.T) {
	reg, tokens := testRegistry(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bc := NewBroadcaster(reg, time.Minute, logger)

	c, err := reg.Register(nil, tokens.Issue("", ""))
	require.NoError(t, err)
	reg.Deregister(c)

	assert.NotPanics(t, func() {
		bc.Broadcast(domain.TransactionEvent(&domain.Transaction{From: "k1", To: "k2", Value: 1}))
	})
	assert.False(t, c.enqueue([]byte("{}")), "stopped connection must drop enqueues")
}
