package wsgate

import (
	"bufio"
	"errors"
	"net"
	"os"
	"sync/atomic"
	"time"
)

const (
	// parkTimeout bounds how long a read-only connection sleeps in the
	// kernel before re-checking its desired readiness.
	parkTimeout = time.Second

	// pollTimeout is used instead when outbound work is also pending,
	// so a quiet peer can't stall our writes.
	pollTimeout = 5 * time.Millisecond

	// sendTimeout bounds a single write step when the peer's receive
	// window is full; the remainder is retried on the next step.
	sendTimeout = 500 * time.Millisecond
)

// tcpSocket adapts a *net.TCPConn to the engine's non-blocking
// [websocket.Socket] contract, using read/write deadlines: a read that
// hits its deadline reports "no data" instead of an error, and a
// retracted deadline doubles as the event loop's wakeup mechanism.
type tcpSocket struct {
	tc *net.TCPConn
	br *bufio.Reader // Bytes the request parser read past the headers.

	// parked distinguishes an idle (read-only) connection from one
	// with writes pending. Written by the loop goroutine, read here.
	parked bool

	// wake is set by interrupt so a wakeup that lands between two
	// Recv calls isn't lost under a fresh deadline.
	wake atomic.Bool
}

func newTCPSocket(tc *net.TCPConn, br *bufio.Reader) *tcpSocket {
	return &tcpSocket{tc: tc, br: br}
}

// Recv reads whatever is available without waiting for more: leftover
// bytes the HTTP parser already buffered first, then the socket. When
// nothing arrives within the park window it returns (0, nil), per the
// Socket contract.
func (s *tcpSocket) Recv(p []byte) (int, error) {
	if s.wake.CompareAndSwap(true, false) {
		return 0, nil
	}

	if s.br != nil {
		if n := s.br.Buffered(); n > 0 {
			return s.br.Read(p[:min(len(p), n)])
		}
		s.br = nil
	}

	d := parkTimeout
	if !s.parked {
		d = pollTimeout
	}
	if err := s.tc.SetReadDeadline(time.Now().Add(d)); err != nil {
		return 0, err
	}

	n, err := s.tc.Read(p)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return n, nil
	}
	return n, err
}

// Send writes as much of p as the socket accepts within the send
// window; a full send buffer yields a short (or zero) count, not an
// error, and the engine retries the remainder.
func (s *tcpSocket) Send(p []byte) (int, error) {
	if err := s.tc.SetWriteDeadline(time.Now().Add(sendTimeout)); err != nil {
		return 0, err
	}

	n, err := s.tc.Write(p)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return n, nil
	}
	return n, err
}

func (s *tcpSocket) SetNoDelay(noDelay bool) error {
	return s.tc.SetNoDelay(noDelay)
}

// OptimizeForPacket re-enables Nagle coalescing while a logical packet
// is being written in pieces; EndPacketOptimization flushes it by
// turning TCP_NODELAY back on.
func (s *tcpSocket) OptimizeForPacket() {
	_ = s.tc.SetNoDelay(false)
}

func (s *tcpSocket) EndPacketOptimization() {
	_ = s.tc.SetNoDelay(true)
}

func (s *tcpSocket) Close() error {
	return s.tc.Close()
}

// interrupt implements the engine's wakeup: it retracts the read
// deadline so a Recv parked in the kernel returns immediately, and
// flags the wakeup so one landing between Recv calls isn't missed.
func (s *tcpSocket) interrupt() {
	s.wake.Store(true)
	_ = s.tc.SetReadDeadline(time.Now())
}
