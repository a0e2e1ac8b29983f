// Package ledger implements the balance-mutating engine: peer-to-peer
// transfers, system transactions and name purchases. Atomicity of the
// underlying mutations is delegated to the Store; the engine owns
// validation, event emission and webhook notification.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"regexp"

	"github.com/tesseranet/tessera/internal/domain"
)

// ErrNotFound is returned by Store reads when no record exists. It is a
// lookup miss, not a client-protocol failure, so it stays out of the
// domain error taxonomy and is mapped to a 404 at the HTTP boundary.
var ErrNotFound = errors.New("record not found")

// Store is the persistence collaborator. Implementations must make each
// method atomic: a failed call leaves no partial mutation behind.
type Store interface {
	GetAccount(ctx context.Context, address string) (*domain.Account, error)

	// ApplyTransfer debits from and credits to (creating the recipient
	// account if needed) and records the transaction, all as one unit.
	ApplyTransfer(ctx context.Context, from, to string, amount int64, meta string) (*domain.Transaction, error)

	// CreateTransaction records a transaction without touching balances.
	CreateTransaction(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error)

	// RegisterName creates the name record (failing with name_taken on an
	// existing key), debits the owner by cost and records the cost as a
	// system transaction to sink, all as one unit.
	RegisterName(ctx context.Context, name, owner string, cost int64, sink string) (*domain.Name, *domain.Transaction, error)

	GetName(ctx context.Context, name string) (*domain.Name, error)
}

// Broadcaster delivers finalized events to subscribed connections. Delivery
// is fire-and-forget; Broadcast must never block on slow consumers.
type Broadcaster interface {
	Broadcast(ev domain.Event)
}

// WebhookNotifier is told about every finalized transaction. Delivery
// mechanics live outside the core.
type WebhookNotifier interface {
	TransactionFinalized(ctx context.Context, tx *domain.Transaction)
}

// WorkSource yields the current mining difficulty. The value is opaque here.
type WorkSource interface {
	Work(ctx context.Context) int64
}

// Engine executes ledger mutations. Every successful operation runs
// Validated → Applied → Recorded → Notified; a failure at any stage leaves
// no external effect.
type Engine struct {
	store    Store
	bc       Broadcaster
	webhooks WebhookNotifier
	logger   *slog.Logger

	nameCost int64
	nameSink string
}

func NewEngine(store Store, bc Broadcaster, webhooks WebhookNotifier, logger *slog.Logger, nameCost int64, nameSink string) *Engine {
	return &Engine{
		store:    store,
		bc:       bc,
		webhooks: webhooks,
		logger:   logger,
		nameCost: nameCost,
		nameSink: nameSink,
	}
}

// NameCost returns the configured name registration cost.
func (e *Engine) NameCost() int64 { return e.nameCost }

// Transfer moves amount from one account to another and returns the
// recorded transaction. Fails with insufficient_funds when amount is not
// positive or exceeds the sender's balance; no balance changes on failure.
func (e *Engine) Transfer(ctx context.Context, from, to string, amount int64, meta string) (*domain.Transaction, error) {
	if amount <= 0 {
		return nil, domain.Errf(domain.KindInsufficientFunds, "amount must be positive")
	}
	tx, err := e.store.ApplyTransfer(ctx, from, to, amount, meta)
	if err != nil {
		return nil, err
	}
	e.notify(ctx, tx)
	return tx, nil
}

// SystemTransaction records non-peer-to-peer value movement. It performs no
// balance mutation; any balance change is the caller's responsibility.
func (e *Engine) SystemTransaction(ctx context.Context, from, to string, value int64, name, meta string) (*domain.Transaction, error) {
	tx, err := e.store.CreateTransaction(ctx, &domain.Transaction{
		From:  from,
		To:    to,
		Value: value,
		Name:  name,
		Op:    meta,
	})
	if err != nil {
		return nil, err
	}
	e.notify(ctx, tx)
	return tx, nil
}

var namePattern = regexp.MustCompile(`^[a-z0-9]{1,64}$`)

// ValidName reports whether name is a registrable key.
func ValidName(name string) bool { return namePattern.MatchString(name) }

// PurchaseName registers name to owner, debiting the registration cost.
// Check-and-create is atomic in the store: two concurrent purchases of the
// same name yield exactly one success and one name_taken.
func (e *Engine) PurchaseName(ctx context.Context, name, owner string) (*domain.Name, error) {
	record, costTx, err := e.store.RegisterName(ctx, name, owner, e.nameCost, e.nameSink)
	if err != nil {
		return nil, err
	}
	if costTx != nil {
		e.notify(ctx, costTx)
	}
	e.bc.Broadcast(domain.NameEvent(record))
	e.logger.Info("name registered", "name", name, "owner", owner, "cost", e.nameCost)
	return record, nil
}

// GetAccount reads the current account record.
func (e *Engine) GetAccount(ctx context.Context, address string) (*domain.Account, error) {
	return e.store.GetAccount(ctx, address)
}

// GetName reads a name record.
func (e *Engine) GetName(ctx context.Context, name string) (*domain.Name, error) {
	return e.store.GetName(ctx, name)
}

func (e *Engine) notify(ctx context.Context, tx *domain.Transaction) {
	e.webhooks.TransactionFinalized(ctx, tx)
	e.bc.Broadcast(domain.TransactionEvent(tx))
}
