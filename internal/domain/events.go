package domain

// EventCategory names a class of broadcast event on the wire.
type EventCategory string

const (
	EventBlock       EventCategory = "block"
	EventTransaction EventCategory = "transaction"
	EventName        EventCategory = "name"
	EventMOTD        EventCategory = "motd"
)

// Event is one broadcastable occurrence. Addresses lists the counterparty
// addresses used to match own* subscriptions; Payload is serialized into the
// event message under a field named after the category.
type Event struct {
	Category  EventCategory
	Addresses []string
	Payload   any
}

// TransactionEvent builds the event emitted when a transfer is finalized.
func TransactionEvent(tx *Transaction) Event {
	addrs := []string{tx.To}
	if tx.From != "" {
		addrs = append(addrs, tx.From)
	}
	return Event{Category: EventTransaction, Addresses: addrs, Payload: tx}
}

// NameEvent builds the event emitted when a name is registered.
func NameEvent(n *Name) Event {
	return Event{Category: EventName, Addresses: []string{n.Owner}, Payload: n}
}
