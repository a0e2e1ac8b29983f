// Package store provides the persistence collaborators behind the ledger
// engine: a Postgres implementation for production and an in-memory
// implementation for development and tests. Both satisfy ledger.Store and
// both guarantee that each mutating call is atomic.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tesseranet/tessera/internal/domain"
	"github.com/tesseranet/tessera/internal/ledger"
)

// Schema is the DDL for the ledger tables. Applied by cmd/seeder.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	address   TEXT PRIMARY KEY,
	balance   BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
	totalin   BIGINT NOT NULL DEFAULT 0,
	totalout  BIGINT NOT NULL DEFAULT 0,
	firstseen TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS transactions (
	id           BIGSERIAL PRIMARY KEY,
	from_address TEXT NOT NULL DEFAULT '',
	to_address   TEXT NOT NULL,
	value        BIGINT NOT NULL CHECK (value >= 0),
	time         TIMESTAMPTZ NOT NULL DEFAULT now(),
	name         TEXT NOT NULL DEFAULT '',
	op           TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS names (
	name           TEXT PRIMARY KEY,
	owner          TEXT NOT NULL,
	original_owner TEXT NOT NULL,
	registered     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated        TIMESTAMPTZ NOT NULL DEFAULT now(),
	transferred    TIMESTAMPTZ,
	a              TEXT NOT NULL DEFAULT '',
	unpaid         BIGINT NOT NULL DEFAULT 0
);
`

const uniqueViolation = "23505"

// Postgres is the pgx-backed store.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) GetAccount(ctx context.Context, address string) (*domain.Account, error) {
	var acc domain.Account
	err := p.pool.QueryRow(ctx,
		"SELECT address, balance, totalin, totalout, firstseen FROM accounts WHERE address = $1",
		address,
	).Scan(&acc.Address, &acc.Balance, &acc.TotalIn, &acc.TotalOut, &acc.FirstSeen)
	if err == pgx.ErrNoRows {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("account query failed: %w", err)
	}
	return &acc, nil
}

// CreateAccount inserts an account with an opening balance. Used by seeding.
func (p *Postgres) CreateAccount(ctx context.Context, address string, balance int64) error {
	_, err := p.pool.Exec(ctx,
		"INSERT INTO accounts (address, balance, totalin) VALUES ($1, $2, $2)",
		address, balance)
	return err
}

// ApplyTransfer moves amount between the two accounts and records the
// transaction in one database transaction. Row locks are taken in lexical
// address order so two opposite transfers between the same pair cannot
// deadlock.
func (p *Postgres) ApplyTransfer(ctx context.Context, from, to string, amount int64, meta string) (*domain.Transaction, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	// The recipient may not exist yet; give it a row so both locks below
	// are plain row locks. Rolled back if anything fails.
	_, err = tx.Exec(ctx,
		"INSERT INTO accounts (address) VALUES ($1) ON CONFLICT (address) DO NOTHING", to)
	if err != nil {
		return nil, fmt.Errorf("recipient upsert failed: %w", err)
	}

	first, second := from, to
	if second < first {
		first, second = second, first
	}
	var fromBalance int64
	for _, addr := range [2]string{first, second} {
		var balance int64
		err = tx.QueryRow(ctx,
			"SELECT balance FROM accounts WHERE address = $1 FOR UPDATE", addr,
		).Scan(&balance)
		if err == pgx.ErrNoRows {
			// Only the sender can be missing at this point.
			return nil, domain.Err(domain.KindInsufficientFunds)
		}
		if err != nil {
			return nil, fmt.Errorf("lock acquisition failed: %w", err)
		}
		if addr == from {
			fromBalance = balance
		}
	}

	if fromBalance < amount {
		return nil, domain.Err(domain.KindInsufficientFunds)
	}

	_, err = tx.Exec(ctx,
		"UPDATE accounts SET balance = balance - $1, totalout = totalout + $1 WHERE address = $2",
		amount, from)
	if err != nil {
		return nil, fmt.Errorf("debit failed: %w", err)
	}
	_, err = tx.Exec(ctx,
		"UPDATE accounts SET balance = balance + $1, totalin = totalin + $1 WHERE address = $2",
		amount, to)
	if err != nil {
		return nil, fmt.Errorf("credit failed: %w", err)
	}

	rec := &domain.Transaction{From: from, To: to, Value: amount, Op: meta}
	err = tx.QueryRow(ctx,
		"INSERT INTO transactions (from_address, to_address, value, op) VALUES ($1, $2, $3, $4) RETURNING id, time",
		from, to, amount, meta,
	).Scan(&rec.ID, &rec.Time)
	if err != nil {
		return nil, fmt.Errorf("transaction insert failed: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return rec, nil
}

func (p *Postgres) CreateTransaction(ctx context.Context, rec *domain.Transaction) (*domain.Transaction, error) {
	out := *rec
	err := p.pool.QueryRow(ctx,
		"INSERT INTO transactions (from_address, to_address, value, name, op) VALUES ($1, $2, $3, $4, $5) RETURNING id, time",
		rec.From, rec.To, rec.Value, rec.Name, rec.Op,
	).Scan(&out.ID, &out.Time)
	if err != nil {
		return nil, fmt.Errorf("transaction insert failed: %w", err)
	}
	return &out, nil
}

// RegisterName creates the name row, debits the owner and records the cost
// as a system transaction, all in one database transaction. The primary key
// on names makes check-and-create atomic; a concurrent duplicate surfaces as
// a unique violation and maps to name_taken.
func (p *Postgres) RegisterName(ctx context.Context, name, owner string, cost int64, sink string) (*domain.Name, *domain.Transaction, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	rec := &domain.Name{Name: name, Owner: owner, OriginalOwner: owner, Unpaid: cost}
	err = tx.QueryRow(ctx,
		"INSERT INTO names (name, owner, original_owner, unpaid) VALUES ($1, $2, $2, $3) RETURNING registered, updated",
		name, owner, cost,
	).Scan(&rec.Registered, &rec.Updated)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, nil, domain.Err(domain.KindNameTaken)
		}
		return nil, nil, fmt.Errorf("name insert failed: %w", err)
	}

	var balance int64
	err = tx.QueryRow(ctx,
		"SELECT balance FROM accounts WHERE address = $1 FOR UPDATE", owner,
	).Scan(&balance)
	if err == pgx.ErrNoRows {
		return nil, nil, domain.Err(domain.KindInsufficientFunds)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("lock acquisition failed: %w", err)
	}
	if balance < cost {
		return nil, nil, domain.Err(domain.KindInsufficientFunds)
	}
	_, err = tx.Exec(ctx,
		"UPDATE accounts SET balance = balance - $1, totalout = totalout + $1 WHERE address = $2",
		cost, owner)
	if err != nil {
		return nil, nil, fmt.Errorf("debit failed: %w", err)
	}

	costTx := &domain.Transaction{To: sink, Value: cost, Name: name}
	err = tx.QueryRow(ctx,
		"INSERT INTO transactions (to_address, value, name) VALUES ($1, $2, $3) RETURNING id, time",
		sink, cost, name,
	).Scan(&costTx.ID, &costTx.Time)
	if err != nil {
		return nil, nil, fmt.Errorf("transaction insert failed: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return rec, costTx, nil
}

func (p *Postgres) GetName(ctx context.Context, name string) (*domain.Name, error) {
	var rec domain.Name
	err := p.pool.QueryRow(ctx,
		"SELECT name, owner, original_owner, registered, updated, transferred, a, unpaid FROM names WHERE name = $1",
		name,
	).Scan(&rec.Name, &rec.Owner, &rec.OriginalOwner, &rec.Registered, &rec.Updated, &rec.Transferred, &rec.A, &rec.Unpaid)
	if err == pgx.ErrNoRows {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("name query failed: %w", err)
	}
	return &rec, nil
}
