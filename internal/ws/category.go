// Package ws implements the websocket side of the server: the connection
// registry, the subscription-filtered event broadcaster and the
// message-oriented subprotocol spoken over each socket.
package ws

import (
	"slices"
	"strings"

	"github.com/tesseranet/tessera/internal/domain"
)

// Category is a subscription category a connection may opt in or out of.
// The own* variants additionally require the event to involve the
// connection's authenticated address.
type Category string

const (
	CatBlocks          Category = "blocks"
	CatOwnBlocks       Category = "ownBlocks"
	CatTransactions    Category = "transactions"
	CatOwnTransactions Category = "ownTransactions"
	CatNames           Category = "names"
	CatOwnNames        Category = "ownNames"
	CatMOTD            Category = "motd"
)

var categories = []Category{
	CatBlocks, CatOwnBlocks,
	CatTransactions, CatOwnTransactions,
	CatNames, CatOwnNames,
	CatMOTD,
}

// ParseCategory maps a wire string to a known category.
func ParseCategory(s string) (Category, bool) {
	c := Category(s)
	return c, slices.Contains(categories, c)
}

// Own reports whether the category requires an authenticated address match.
func (c Category) Own() bool { return strings.HasPrefix(string(c), "own") }

// Event returns the event category this subscription category matches.
func (c Category) Event() domain.EventCategory {
	switch c {
	case CatBlocks, CatOwnBlocks:
		return domain.EventBlock
	case CatTransactions, CatOwnTransactions:
		return domain.EventTransaction
	case CatNames, CatOwnNames:
		return domain.EventName
	case CatMOTD:
		return domain.EventMOTD
	}
	return ""
}

// defaultSubscriptions is the initial set for a new connection: every
// public category.
func defaultSubscriptions() map[Category]bool {
	subs := make(map[Category]bool, len(categories))
	for _, c := range categories {
		if !c.Own() {
			subs[c] = true
		}
	}
	return subs
}
