// Package wsgate accepts TCP connections, parses their HTTP/1.1
// upgrade request, and drives the resulting WebSocket connections'
// event loops. It is the front end the protocol engine in
// [github.com/tzrikka/gong/pkg/websocket] treats as an external
// collaborator: the HTTP parsing, the socket ownership, and the
// readiness-driven loop all live here.
package wsgate

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/tzrikka/gong/internal/logger"
	"github.com/tzrikka/gong/pkg/metrics"
	"github.com/tzrikka/gong/pkg/websocket"
)

const (
	requestTimeout = 3 * time.Second
)

// Server owns a TCP listener and one event-loop goroutine per accepted
// connection. Each loop honors its connection's desired readiness
// ([websocket.Conn.Wants]) and tears the connection down when it wants
// nothing, or when the server shuts down.
type Server struct {
	port       int
	authSecret []byte
	useMetrics bool

	handler websocket.Handler
	reg     *websocket.Registry
	logger  *slog.Logger // Base logger for the engine's connections.

	ln       net.Listener
	stopped  atomic.Bool
	wg       sync.WaitGroup
	socketMu sync.Mutex
	sockets  map[int64]*tcpSocket
}

// NewServer configures a WebSocket server from CLI flags. The handler
// receives every connection's callbacks; nil installs the engine's
// reject-all default. The engine logs through the [slog.Logger] in
// ctx, if any.
func NewServer(ctx context.Context, cmd *cli.Command, h websocket.Handler) *Server {
	useMetrics := cmd.Bool("metrics")
	if useMetrics && h != nil {
		h = newMeteredHandler(h)
	}

	return &Server{
		port:       cmd.Int("ws-port"),
		authSecret: []byte(cmd.String("auth-secret")),
		useMetrics: useMetrics,
		handler:    h,
		reg:        websocket.NewRegistry(),
		logger:     logger.FromContext(ctx),
		sockets:    map[int64]*tcpSocket{},
	}
}

// Registry exposes the server's connection registry, so handlers can
// resolve ids they stored into live connections.
func (s *Server) Registry() *websocket.Registry {
	return s.reg
}

// Run starts accepting connections, and blocks until [Server.Shutdown].
func (s *Server) Run() error {
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(s.port)))
	if err != nil {
		return err
	}
	s.socketMu.Lock()
	s.ln = ln
	s.socketMu.Unlock()

	log.Info().Msgf("WebSocket server listening on %s", ln.Addr())

	for {
		nc, err := ln.Accept()
		if err != nil {
			if s.stopped.Load() {
				return nil
			}
			return err
		}

		s.wg.Add(1)
		go s.serve(nc)
	}
}

// Addr returns the listener's address, once [Server.Run] has bound it.
func (s *Server) Addr() net.Addr {
	s.socketMu.Lock()
	defer s.socketMu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Shutdown stops accepting connections, wakes every event loop so it
// notices, and waits for them to finish tearing their connections down
// (each sends a best-effort 1001 GoingAway close frame).
func (s *Server) Shutdown() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}

	s.socketMu.Lock()
	if s.ln != nil {
		_ = s.ln.Close()
	}
	for _, sock := range s.sockets {
		sock.interrupt()
	}
	s.socketMu.Unlock()

	s.wg.Wait()
}

// serve handles a single TCP connection for its whole lifetime:
// request parsing, optional authentication, the upgrade, and the
// event loop.
func (s *Server) serve(nc net.Conn) {
	defer s.wg.Done()

	l := log.With().Str("trace_id", shortuuid.New()).
		Str("remote_addr", nc.RemoteAddr().String()).Logger()

	tc, ok := nc.(*net.TCPConn)
	if !ok {
		l.Error().Msgf("listener yielded a %T, not a TCP connection", nc)
		_ = nc.Close()
		return
	}

	// The request line and headers arrive in plain blocking HTTP land;
	// the readiness model starts only after the upgrade is queued.
	_ = tc.SetReadDeadline(time.Now().Add(requestTimeout))
	br := bufio.NewReader(tc)
	req, err := http.ReadRequest(br)
	if err != nil {
		l.Warn().Err(err).Msg("failed to read HTTP request")
		_ = tc.Close()
		s.countConnection("rejected", 0)
		return
	}
	_ = tc.SetReadDeadline(time.Time{})

	l = l.With().Str("http_method", req.Method).Str("url_path", req.URL.EscapedPath()).Logger()
	l.Info().Msg("received HTTP request")

	if !s.authorize(l, tc, req) {
		s.countConnection("rejected", 0)
		return
	}

	sock := newTCPSocket(tc, br)
	conn := websocket.NewConn(sock, websocket.WakeupFunc(sock.interrupt), s.handler, s.reg, s.logger)
	if s.useMetrics {
		conn.OnMessageSent(func(opcode websocket.Opcode, size int) {
			metrics.IncrementMessageCounter(time.Now().UTC(), "out", opcode.String(), size)
		})
	}
	conn.UpgradeRequest(req)

	l = l.With().Int64("conn_id", conn.ID()).Logger()
	s.track(conn.ID(), sock)
	s.loop(l, conn, sock)
	s.untrack(conn.ID())

	conn.Shutdown()
	s.countConnection("closed", conn.ID())
	l.Info().Msg("connection closed")
}

// loop drives one connection until it wants no further I/O. Writes are
// serviced before reads, so control frames and close handshakes drain
// promptly; parking happens inside Recv, bounded by a deadline that
// [tcpSocket.interrupt] can retract at any time.
func (s *Server) loop(l zerolog.Logger, conn *websocket.Conn, sock *tcpSocket) {
	for {
		if s.stopped.Load() {
			return
		}

		want := conn.Wants()
		if want == 0 {
			return
		}

		if want&websocket.Write != 0 {
			if err := conn.Duplex(websocket.Write); err != nil {
				l.Debug().Err(err).Msg("write error")
				return
			}
		}
		if want&websocket.Read != 0 {
			sock.parked = want == websocket.Read
			if err := conn.Duplex(websocket.Read); err != nil {
				l.Debug().Err(err).Msg("read error")
				return
			}
		}
	}
}

func (s *Server) track(id int64, sock *tcpSocket) {
	s.socketMu.Lock()
	s.sockets[id] = sock
	s.socketMu.Unlock()

	s.countConnection("opened", id)
}

func (s *Server) countConnection(event string, id int64) {
	if !s.useMetrics {
		return
	}
	l := s.logger
	if l == nil {
		l = slog.Default()
	}
	metrics.IncrementConnectionCounter(l, time.Now().UTC(), event, id)
}

func (s *Server) untrack(id int64) {
	s.socketMu.Lock()
	defer s.socketMu.Unlock()
	delete(s.sockets, id)
}
