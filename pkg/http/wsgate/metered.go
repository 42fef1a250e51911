package wsgate

import (
	"net/http"
	"sync"
	"time"

	"github.com/tzrikka/gong/pkg/metrics"
	"github.com/tzrikka/gong/pkg/websocket"
)

// meteredHandler wraps the application's [websocket.Handler] to record
// a metric for every completed inbound message, without the
// application having to know about metrics at all.
type meteredHandler struct {
	inner websocket.Handler

	mu    sync.Mutex
	sizes map[int64]int
}

func newMeteredHandler(h websocket.Handler) *meteredHandler {
	return &meteredHandler{inner: h, sizes: map[int64]int{}}
}

func (m *meteredHandler) HandleUpgrade(id int64, conn *websocket.Handle, headers http.Header) {
	m.inner.HandleUpgrade(id, conn, headers)
}

func (m *meteredHandler) HandleData(id int64, opcode websocket.Opcode, data []byte, messageStarting, messageFinished bool) {
	m.mu.Lock()
	if messageStarting {
		m.sizes[id] = 0
	}
	m.sizes[id] += len(data)
	size := m.sizes[id]
	if messageFinished {
		delete(m.sizes, id)
	}
	m.mu.Unlock()

	if messageFinished {
		metrics.IncrementMessageCounter(time.Now().UTC(), "in", opcode.String(), size)
	}

	m.inner.HandleData(id, opcode, data, messageStarting, messageFinished)
}

func (m *meteredHandler) HandleClose(id int64) {
	m.mu.Lock()
	delete(m.sizes, id)
	m.mu.Unlock()

	m.inner.HandleClose(id)
}
