package ws

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/tesseranet/tessera/internal/domain"
	"github.com/tesseranet/tessera/internal/token"
)

const sendBuffer = 32

// Conn is one live connection entry. The socket itself is written only by
// the write pump; everything else is guarded by mu.
type Conn struct {
	sock  *websocket.Conn
	token string

	send chan []byte
	stop chan struct{}
	once sync.Once

	mu      sync.Mutex
	address string
	secret  string
	subs    map[Category]bool
}

// Address returns the connection's resolved principal.
func (c *Conn) Address() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.address
}

// Authed reports whether the connection holds an authenticated address.
func (c *Conn) Authed() bool { return c.Address() != domain.GuestAddress }

// Subscriptions returns the current category set, sorted.
func (c *Conn) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for cat := range c.subs {
		out = append(out, string(cat))
	}
	slices.Sort(out)
	return out
}

// enqueue hands a marshaled message to the write pump without blocking.
// Returns false when the connection is stopping or its buffer is full.
func (c *Conn) enqueue(msg []byte) bool {
	select {
	case <-c.stop:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Conn) shutdown() {
	c.once.Do(func() { close(c.stop) })
}

// wants reports whether the connection is subscribed to ev. own* categories
// match only when the event involves the connection's address.
func (c *Conn) wants(ev domain.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for cat := range c.subs {
		if cat.Event() != ev.Category {
			continue
		}
		if !cat.Own() {
			return true
		}
		if c.address != domain.GuestAddress && slices.Contains(ev.Addresses, c.address) {
			return true
		}
	}
	return false
}

// Authenticator validates that a secret proves control of an address.
type Authenticator interface {
	Authenticate(address, secret string) bool
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(address, secret string) bool

func (f AuthenticatorFunc) Authenticate(address, secret string) bool { return f(address, secret) }

// Registry tracks live connection entries. Registration consumes a session
// token; deregistration is idempotent and safe to run concurrently with an
// in-flight broadcast to the same connection.
type Registry struct {
	mu    sync.Mutex
	conns map[*Conn]struct{}

	tokens *token.Store
	auth   Authenticator
	logger *slog.Logger
}

func NewRegistry(tokens *token.Store, auth Authenticator, logger *slog.Logger) *Registry {
	return &Registry{
		conns:  make(map[*Conn]struct{}),
		tokens: tokens,
		auth:   auth,
		logger: logger,
	}
}

// Register consumes tok and, on success, adds a new entry with the default
// subscription set. A credential failure registers nothing.
func (r *Registry) Register(sock *websocket.Conn, tok string) (*Conn, error) {
	entry, err := r.tokens.Consume(tok)
	if err != nil {
		return nil, err
	}
	c := &Conn{
		sock:    sock,
		token:   tok,
		send:    make(chan []byte, sendBuffer),
		stop:    make(chan struct{}),
		address: entry.Address,
		secret:  entry.Secret,
		subs:    defaultSubscriptions(),
	}
	r.mu.Lock()
	r.conns[c] = struct{}{}
	r.mu.Unlock()
	connectionsGauge.Inc()
	return c, nil
}

// Deregister removes the entry and stops its write pump. A second call for
// the same connection is a no-op.
func (r *Registry) Deregister(c *Conn) {
	r.mu.Lock()
	_, live := r.conns[c]
	delete(r.conns, c)
	r.mu.Unlock()
	if !live {
		return
	}
	c.shutdown()
	connectionsGauge.Dec()
}

// SetSubscription toggles one category on the entry.
func (r *Registry) SetSubscription(c *Conn, category string, enabled bool) error {
	cat, ok := ParseCategory(category)
	if !ok {
		return domain.Errf(domain.KindUnknownCategory, category)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cat.Own() && c.address == domain.GuestAddress {
		return domain.Err(domain.KindNotAuthenticated)
	}
	if enabled {
		c.subs[cat] = true
	} else {
		delete(c.subs, cat)
	}
	return nil
}

// Upgrade promotes a guest entry to an authenticated one.
func (r *Registry) Upgrade(c *Conn, address, secret string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.address != domain.GuestAddress {
		return domain.Err(domain.KindAlreadyAuthenticated)
	}
	if !r.auth.Authenticate(address, secret) {
		return domain.Err(domain.KindAuthFailed)
	}
	c.address = address
	c.secret = secret
	return nil
}

// snapshot returns the live entries at this instant.
func (r *Registry) snapshot() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		out = append(out, c)
	}
	return out
}

// CloseAll deregisters every live connection. Used at shutdown.
func (r *Registry) CloseAll() {
	for _, c := range r.snapshot() {
		r.Deregister(c)
	}
}
