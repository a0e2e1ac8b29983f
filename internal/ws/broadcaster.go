package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/tesseranet/tessera/internal/domain"
)

// Broadcaster fans events out to subscribed connections. Delivery goes
// through each connection's buffered send channel and never blocks the
// producer; a slow or dead connection drops the message for itself only.
type Broadcaster struct {
	reg      *Registry
	interval time.Duration
	logger   *slog.Logger
}

func NewBroadcaster(reg *Registry, keepalive time.Duration, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{reg: reg, interval: keepalive, logger: logger}
}

// Broadcast delivers ev to every matching live connection.
func (b *Broadcaster) Broadcast(ev domain.Event) {
	msg, err := json.Marshal(map[string]any{
		"type":              "event",
		"event":             string(ev.Category),
		string(ev.Category): ev.Payload,
	})
	if err != nil {
		b.logger.Error("event marshal failed", "category", ev.Category, "err", err)
		return
	}
	for _, c := range b.reg.snapshot() {
		if !c.wants(ev) {
			continue
		}
		if c.enqueue(msg) {
			eventsTotal.WithLabelValues(string(ev.Category)).Inc()
		} else {
			droppedTotal.Inc()
			b.logger.Warn("dropped event for slow connection",
				"category", ev.Category, "address", c.Address())
		}
	}
}

var keepaliveMsg = []byte(`{"type":"keepalive"}`)

// Run emits the keepalive tick to every live connection until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) {
	t := time.NewTicker(b.interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			for _, c := range b.reg.snapshot() {
				c.enqueue(keepaliveMsg)
			}
		case <-ctx.Done():
			return
		}
	}
}
