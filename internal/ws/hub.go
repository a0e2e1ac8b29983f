package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tesseranet/tessera/internal/domain"
)

const writeTimeout = 10 * time.Second

// Hub ties the registry and broadcaster to the websocket endpoint and
// dispatches the message subprotocol.
type Hub struct {
	reg    *Registry
	bc     *Broadcaster
	motd   string
	logger *slog.Logger
	upgr   websocket.Upgrader
}

func NewHub(reg *Registry, bc *Broadcaster, motd string, logger *slog.Logger) *Hub {
	return &Hub{reg: reg, bc: bc, motd: motd, logger: logger}
}

// Registry exposes the hub's connection registry.
func (h *Hub) Registry() *Registry { return h.reg }

// Broadcaster exposes the hub's event broadcaster.
func (h *Hub) Broadcaster() *Broadcaster { return h.bc }

// HandleGateway upgrades the request and registers the connection under tok.
// The socket is upgraded first so a credential failure can be reported over
// the wire before closing.
func (h *Hub) HandleGateway(w http.ResponseWriter, r *http.Request, tok string) {
	sock, err := h.upgr.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "err", err)
		return
	}
	c, err := h.reg.Register(sock, tok)
	if err != nil {
		msg, _ := json.Marshal(map[string]any{
			"ok":    false,
			"type":  "error",
			"error": string(domain.KindOf(err)),
		})
		sock.SetWriteDeadline(time.Now().Add(writeTimeout))
		sock.WriteMessage(websocket.TextMessage, msg)
		sock.Close()
		return
	}

	go h.writePump(c)
	c.enqueue(h.helloMessage())
	h.readPump(c)
	h.reg.Deregister(c)
}

func (h *Hub) helloMessage() []byte {
	msg, _ := json.Marshal(map[string]any{
		"ok":   true,
		"type": "hello",
		"motd": h.motd,
	})
	return msg
}

// writePump owns all writes to the socket. It exits when the connection is
// deregistered or a write fails, closing the socket either way.
func (h *Hub) writePump(c *Conn) {
	defer c.sock.Close()
	for {
		select {
		case msg := <-c.send:
			c.sock.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.sock.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-c.stop:
			c.sock.SetWriteDeadline(time.Now().Add(writeTimeout))
			c.sock.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (h *Hub) readPump(c *Conn) {
	for {
		_, raw, err := c.sock.ReadMessage()
		if err != nil {
			return
		}
		if resp := h.handle(c, raw); resp != nil {
			c.enqueue(resp)
		}
	}
}

// clientMessage is the envelope of every client-to-server message. ID is a
// caller-chosen correlation value, echoed verbatim in the response.
type clientMessage struct {
	ID         json.RawMessage `json:"id"`
	Type       string          `json:"type"`
	Event      string          `json:"event,omitempty"`
	Address    string          `json:"address,omitempty"`
	PrivateKey string          `json:"privatekey,omitempty"`
}

func (h *Hub) handle(c *Conn, raw []byte) []byte {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return marshalError(nil, domain.KindServerError)
	}

	switch msg.Type {
	case "subscribe", "unsubscribe":
		err := h.reg.SetSubscription(c, msg.Event, msg.Type == "subscribe")
		if err != nil {
			return marshalError(msg.ID, domain.KindOf(err))
		}
		return marshalOK(msg.ID, map[string]any{"subscriptions": c.Subscriptions()})

	case "login":
		address := msg.Address
		if address == "" {
			address = domain.AddressFromSecret(msg.PrivateKey)
		}
		if err := h.reg.Upgrade(c, address, msg.PrivateKey); err != nil {
			return marshalError(msg.ID, domain.KindOf(err))
		}
		return marshalOK(msg.ID, map[string]any{"address": address, "isGuest": false})

	case "me":
		return marshalOK(msg.ID, map[string]any{
			"address": c.Address(),
			"isGuest": !c.Authed(),
		})

	case "ping":
		return marshalOK(msg.ID, map[string]any{"type": "pong"})

	default:
		h.logger.Debug("unknown message type", "type", msg.Type)
		return marshalError(msg.ID, domain.KindServerError)
	}
}

func marshalOK(id json.RawMessage, fields map[string]any) []byte {
	fields["ok"] = true
	if id != nil {
		fields["id"] = id
	}
	msg, _ := json.Marshal(fields)
	return msg
}

func marshalError(id json.RawMessage, kind domain.ErrorKind) []byte {
	fields := map[string]any{"ok": false, "error": string(kind)}
	if id != nil {
		fields["id"] = id
	}
	msg, _ := json.Marshal(fields)
	return msg
}
