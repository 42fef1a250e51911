// Package websocket is a server-only implementation of the WebSocket
// protocol (RFC 6455, version 13), built around an event-loop readiness
// model instead of blocking reads and writes.
//
// The package owns the connection-level state machine: it parses
// arbitrarily fragmented client frames from a non-blocking byte stream,
// unmasks and validates them (including incremental UTF-8 validation of
// text messages), interleaves outbound data frames with out-of-band
// control frames, and drives the closing handshake. Everything else is
// an external collaborator behind a small interface:
//
//  1. [Socket] is the non-blocking byte stream (a TCP socket, usually)
//  2. [Wakeup] lets producers on other goroutines nudge the event loop
//  3. [Handler] receives upgrade, data, and close callbacks
//
// A connection never blocks on I/O. Each call to [Conn.Duplex] performs
// at most one socket read and one socket write, then recomputes the
// readiness the connection wants next ([Conn.Wants]). The event loop is
// expected to re-enter Duplex whenever the kernel reports matching
// readiness, and to tear the connection down once it wants nothing.
//
// Note: WebSocket [extensions] and [subprotocols] are not supported.
//
// [extensions]: https://www.iana.org/assignments/websocket/websocket.xhtml#extension-name
// [subprotocols]: https://www.iana.org/assignments/websocket/websocket.xhtml#subprotocol-name
package websocket
