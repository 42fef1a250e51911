package websocket

import (
	"net/http"
	"sync"
)

// Handler receives a connection's lifecycle and data callbacks. All
// three methods are invoked on the connection's event-loop goroutine
// and MUST NOT block; a handler that needs to do real work should hand
// it off and return.
//
// A handler typically outlives individual connections and indexes them
// by id. It only ever receives a [Handle], never the connection itself,
// so a stale reference cannot keep a torn-down connection alive.
type Handler interface {
	// HandleUpgrade is called exactly once, right after the upgrade
	// response has been flushed and the connection has entered
	// websocket mode. headers are the upgrade request's headers.
	HandleUpgrade(id int64, conn *Handle, headers http.Header)

	// HandleData is called once per decoded chunk of a data message,
	// in stream order. messageStarting marks the first chunk of a
	// message, messageFinished the last; a short message sets both.
	// For [OpcodeText] messages the chunk boundaries respect nothing
	// (a rune may span chunks), but the concatenation of all chunks
	// up to messageFinished is guaranteed valid UTF-8. A message the
	// peer abandons by starting a new one ends with a synthetic call
	// that carries no data and sets messageFinished; that message's
	// text is not checked for a truncated final rune.
	HandleData(id int64, opcode Opcode, data []byte, messageStarting, messageFinished bool)

	// HandleClose is called exactly once when the connection is torn
	// down, whatever the cause. The id's [Handle] yields nil once the
	// teardown completes, right after this call returns.
	HandleClose(id int64)
}

// defaultHandler rejects every upgrade, for servers
// that enabled WebSockets without installing a handler.
type defaultHandler struct{}

func (defaultHandler) HandleUpgrade(_ int64, conn *Handle, _ http.Header) {
	conn.Close(StatusNormalClosure, "No WebSocket handler available")
}

func (defaultHandler) HandleData(int64, Opcode, []byte, bool, bool) {}

func (defaultHandler) HandleClose(int64) {}

// Registry maps live connection ids to connections. Handlers resolve
// a [Handle] through it; after a connection's teardown callback has
// fired, its handle yields nil.
type Registry struct {
	mu    sync.RWMutex
	conns map[int64]*Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: map[int64]*Conn{}}
}

func (r *Registry) add(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.id] = c
}

func (r *Registry) remove(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

// Lookup returns the live connection with the given id, or nil.
func (r *Registry) Lookup(id int64) *Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[id]
}

// Handle is a weak reference to a connection: it resolves through the
// registry on every use, so it goes stale the moment the connection is
// torn down instead of pinning it. Both methods are safe to call from
// any goroutine, including after teardown (they become no-ops).
type Handle struct {
	id  int64
	reg *Registry
}

func (h *Handle) ID() int64 { return h.id }

// Get returns the live connection, or nil after teardown.
func (h *Handle) Get() *Conn {
	if h == nil || h.reg == nil {
		return nil
	}
	return h.reg.Lookup(h.id)
}

// SendMessage enqueues an outbound message if the connection is live.
func (h *Handle) SendMessage(w *MessageWriter) {
	if c := h.Get(); c != nil {
		c.SendMessage(w, true)
	}
}

// Close starts the closing handshake if the connection is live.
func (h *Handle) Close(status StatusCode, reason string) {
	if c := h.Get(); c != nil {
		c.Close(status, reason)
	}
}
