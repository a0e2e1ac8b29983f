package store

import (
	"context"
	"sync"
	"time"

	"github.com/tesseranet/tessera/internal/domain"
	"github.com/tesseranet/tessera/internal/ledger"
)

// Memory is an in-process store for development and tests. One mutex guards
// all state, so every mutating call is trivially atomic and the net effect
// of concurrent transfers is serial.
type Memory struct {
	mu       sync.Mutex
	accounts map[string]*domain.Account
	names    map[string]*domain.Name
	txs      []*domain.Transaction
	nextID   int64

	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[string]*domain.Account),
		names:    make(map[string]*domain.Name),
		nextID:   1,
		now:      time.Now,
	}
}

// SeedAccount creates an account with an opening balance.
func (m *Memory) SeedAccount(address string, balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[address] = &domain.Account{
		Address:   address,
		Balance:   balance,
		TotalIn:   balance,
		FirstSeen: m.now(),
	}
}

func (m *Memory) GetAccount(ctx context.Context, address string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[address]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	out := *acc
	return &out, nil
}

func (m *Memory) ApplyTransfer(ctx context.Context, from, to string, amount int64, meta string) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sender, ok := m.accounts[from]
	if !ok || sender.Balance < amount {
		return nil, domain.Err(domain.KindInsufficientFunds)
	}
	sender.Balance -= amount
	sender.TotalOut += amount

	recipient, ok := m.accounts[to]
	if !ok {
		recipient = &domain.Account{Address: to, FirstSeen: m.now()}
		m.accounts[to] = recipient
	}
	recipient.Balance += amount
	recipient.TotalIn += amount

	return m.record(&domain.Transaction{From: from, To: to, Value: amount, Op: meta}), nil
}

func (m *Memory) CreateTransaction(ctx context.Context, rec *domain.Transaction) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *rec
	return m.record(&out), nil
}

func (m *Memory) RegisterName(ctx context.Context, name, owner string, cost int64, sink string) (*domain.Name, *domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.names[name]; taken {
		return nil, nil, domain.Err(domain.KindNameTaken)
	}
	acc, ok := m.accounts[owner]
	if !ok || acc.Balance < cost {
		return nil, nil, domain.Err(domain.KindInsufficientFunds)
	}
	acc.Balance -= cost
	acc.TotalOut += cost

	now := m.now()
	rec := &domain.Name{
		Name:          name,
		Owner:         owner,
		OriginalOwner: owner,
		Registered:    now,
		Updated:       now,
		Unpaid:        cost,
	}
	m.names[name] = rec
	costTx := m.record(&domain.Transaction{To: sink, Value: cost, Name: name})

	out := *rec
	return &out, costTx, nil
}

func (m *Memory) GetName(ctx context.Context, name string) (*domain.Name, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.names[name]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	out := *rec
	return &out, nil
}

// record assigns the next id and appends; caller holds the lock.
func (m *Memory) record(rec *domain.Transaction) *domain.Transaction {
	rec.ID = m.nextID
	m.nextID++
	if rec.Time.IsZero() {
		rec.Time = m.now()
	}
	m.txs = append(m.txs, rec)
	out := *rec
	return &out
}
