package websocket

// MessageWriter turns one outbound message into a sequence of frames
// of bounded size, setting the FIN bit and opcode correctly across
// fragmentation (https://datatracker.ietf.org/doc/html/rfc6455#section-5.4).
// The first frame carries the message's data opcode, every later one
// [OpcodeContinuation]; only the last has FIN set.
//
// A MessageWriter is consumed by a single goroutine (the connection's
// event loop), one frame at a time, as the socket drains.
type MessageWriter struct {
	buf       []byte
	dataType  Opcode
	chunkSize int

	pos       int
	first     bool
	exhausted bool
}

// NewTextMessage wraps a UTF-8 string as an outbound TEXT message.
func NewTextMessage(text string) *MessageWriter {
	return newMessageWriter([]byte(text), OpcodeText, 0)
}

// NewBinaryMessage wraps a byte slice as an outbound BINARY message.
// The caller must not modify data until the message has been sent.
func NewBinaryMessage(data []byte) *MessageWriter {
	return newMessageWriter(data, OpcodeBinary, 0)
}

func newMessageWriter(buf []byte, dataType Opcode, chunkSize int) *MessageWriter {
	if chunkSize <= 0 {
		chunkSize = sendChunkSize
	}
	return &MessageWriter{buf: buf, dataType: dataType, chunkSize: chunkSize, first: true}
}

// opcode returns the message's data opcode, size its total payload
// length; both feed the connection's sent-message observer.
func (w *MessageWriter) opcode() Opcode { return w.dataType }
func (w *MessageWriter) size() int      { return len(w.buf) }

// createFrame encodes the message's next frame, or returns nil once
// the whole payload has been framed. An empty message yields exactly
// one frame with FIN set and an empty body.
func (w *MessageWriter) createFrame() []byte {
	if w.exhausted {
		return nil
	}

	end := min(w.pos+w.chunkSize, len(w.buf))
	raw := w.buf[w.pos:end]
	w.pos = end

	fin := w.pos >= len(w.buf)
	opcode := OpcodeContinuation
	if w.first {
		opcode = w.dataType
	}

	w.first = false
	w.exhausted = fin
	return createFrame(fin, opcode, raw, nil)
}
