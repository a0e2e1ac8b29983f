package ledger

import (
	"context"
	"log/slog"

	"github.com/tesseranet/tessera/internal/domain"
)

// LogNotifier is the default WebhookNotifier: it records finalized
// transactions in the log. Real delivery is an external collaborator.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) TransactionFinalized(ctx context.Context, tx *domain.Transaction) {
	n.Logger.Debug("transaction finalized",
		"id", tx.ID, "from", tx.From, "to", tx.To, "value", tx.Value)
}

// StaticWork is a WorkSource pinned to a configured value. The difficulty
// computation itself is out of scope.
type StaticWork int64

func (w StaticWork) Work(ctx context.Context) int64 { return int64(w) }
