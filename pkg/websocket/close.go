package websocket

import (
	"encoding/binary"
	"strconv"
)

// StatusCode indicates a reason for the closure of
// an established WebSocket connection, as defined in
// https://datatracker.ietf.org/doc/html/rfc6455#section-7.4.
//
// See also https://www.iana.org/assignments/websocket/websocket.xhtml#close-code-number.
//
// Other status code ranges:
//   - 0-999: not used
//   - 3000-3999: reserved for use by libraries, frameworks, and applications
//   - 4000-4999: reserved for private use and thus can't be registered
type StatusCode uint16

const (
	// The purpose for which the connection was established has been fulfilled.
	StatusNormalClosure StatusCode = iota + 1000
	// An endpoint is "going away", such as a server going
	// down or a browser having navigated away from a page.
	StatusGoingAway
	// An endpoint is terminating the connection due to a protocol error.
	StatusProtocolError
	// An endpoint is terminating the connection because it has received a
	// type of data it cannot accept (e.g., an endpoint that understands
	// only text data MAY send this if it receives a binary message).
	StatusUnsupportedData
	// Reserved. The specific meaning might be defined in the future.
	_
	// Reserved value, MUST NOT be set as a status code in a Close control
	// frame by an endpoint. It is designated for use in applications expecting
	// a status code to indicate that no status code was actually present.
	StatusNotReceived
	// Reserved value, MUST NOT be set as a status code in a Close control
	// frame by an endpoint. It is designated for use in applications expecting
	// a status code to indicate that the connection was closed abnormally,
	// e.g., without sending or receiving a Close control frame.
	StatusClosedAbnormally
	// An endpoint is terminating the connection because it has received data
	// within a message that was not consistent with the type of the message
	// (e.g., non-UTF-8 RFC 3629 data within a text message).
	StatusInvalidData
	// An endpoint is terminating the connection because it has received a message
	// that violates its policy. This is a generic status code that can be returned
	// when there is no other more suitable status code (e.g., 1003 or 1009)
	// or if there is a need to hide specific details about the policy.
	StatusPolicyViolation
	// An endpoint is terminating the connection because it has
	// received a message that is too big for it to process.
	StatusMessageTooBig
	// An endpoint (client) is terminating the connection because it has expected
	// the server to negotiate one or more extensions, but the server didn't return
	// them in the response message of the WebSocket handshake.
	StatusMandatoryExtension
	// A remote endpoint is terminating the connection because it encountered
	// an unexpected condition that prevented it from fulfilling the request.
	// See https://www.rfc-editor.org/errata_search.php?eid=3227.
	StatusInternalError
)

// String returns the status code's name, or its number if it's unrecognized.
func (s StatusCode) String() string {
	switch s {
	case StatusNormalClosure:
		return "normal closure"
	case StatusGoingAway:
		return "going away"
	case StatusProtocolError:
		return "protocol error"
	case StatusUnsupportedData:
		return "unsupported data"
	case StatusNotReceived:
		return "status not received"
	case StatusClosedAbnormally:
		return "closed abnormally"
	case StatusInvalidData:
		return "invalid data"
	case StatusPolicyViolation:
		return "policy violation"
	case StatusMessageTooBig:
		return "message too big"
	case StatusMandatoryExtension:
		return "expected extension negotiation"
	case StatusInternalError:
		return "internal error"
	default:
		return strconv.Itoa(int(s))
	}
}

// maxCloseReason is the maximum length of a connection closing reason.
// The difference from [maxControlPayload] is due to the status code.
const (
	maxCloseReason = maxControlPayload - 2
)

// closePayload builds the payload of a connection-close control frame:
// a big-endian status code followed by an optional UTF-8 reason, truncated
// to fit the control-frame payload limit. A zero status with an empty
// reason yields an empty payload ("no status code present").
func closePayload(status StatusCode, reason string) []byte {
	if status == 0 && reason == "" {
		return nil
	}

	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}

	p := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(p[:2], uint16(status))
	copy(p[2:], reason)
	return p
}

// parseClosePayload extracts the [StatusCode] and the optional
// UTF-8 reason from an incoming connection-close control frame.
func parseClosePayload(payload []byte) (StatusCode, string) {
	switch len(payload) {
	case 0:
		return StatusNotReceived, ""
	case 1:
		return StatusProtocolError, ""
	default:
		return StatusCode(binary.BigEndian.Uint16(payload[:2])), string(payload[2:])
	}
}
