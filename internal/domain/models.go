package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// GuestAddress is the reserved principal for unauthenticated sessions.
const GuestAddress = "guest"

// Account holds a balance in the ledger, keyed by address.
type Account struct {
	Address   string    `json:"address"`
	Balance   int64     `json:"balance"`
	TotalIn   int64     `json:"totalin"`
	TotalOut  int64     `json:"totalout"`
	FirstSeen time.Time `json:"firstseen"`
}

// Transaction is the immutable record of one value movement. From is empty
// for system-originated transactions such as name purchases.
type Transaction struct {
	ID    int64     `json:"id"`
	From  string    `json:"from,omitempty"`
	To    string    `json:"to"`
	Value int64     `json:"value"`
	Time  time.Time `json:"time"`
	Name  string    `json:"name,omitempty"`
	Op    string    `json:"op,omitempty"`
}

// Name is a registered name record. Unpaid starts at the registration cost
// and is decremented externally by block-reward accounting.
type Name struct {
	Name          string     `json:"name"`
	Owner         string     `json:"owner"`
	OriginalOwner string     `json:"original_owner"`
	Registered    time.Time  `json:"registered"`
	Updated       time.Time  `json:"updated"`
	Transferred   *time.Time `json:"transferred,omitempty"`
	A             string     `json:"a,omitempty"`
	Unpaid        int64      `json:"unpaid"`
}

// AddressFromSecret derives the ledger address controlled by a secret. The
// derivation is deterministic, so authentication is re-derive and compare.
func AddressFromSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return "t" + hex.EncodeToString(sum[:])[:9]
}
