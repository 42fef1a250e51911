package websocket

import (
	"fmt"
	"log/slog"
)

// dataReceived is the receive assembler: the frame decoder hands it
// every decoded payload chunk, and it reassembles them into messages,
// answers control frames, validates text messages, and invokes the
// data handler.
//
// It is based on:
//   - Fragmentation: https://datatracker.ietf.org/doc/html/rfc6455#section-5.4
//   - Control frames: https://datatracker.ietf.org/doc/html/rfc6455#section-5.5
//   - Data frames: https://datatracker.ietf.org/doc/html/rfc6455#section-5.6
//   - Handling errors in UTF-8 data: https://datatracker.ietf.org/doc/html/rfc6455#section-8.1
func (c *Conn) dataReceived(data []byte, opcode Opcode, frameStarting, frameFinished, finalFrame bool) {
	if opcode.isControl() {
		// A control payload is at most 125 bytes, so it normally
		// arrives whole in one chunk; accumulate the rare split.
		if !frameFinished {
			if frameStarting {
				c.ctrlBuf = c.ctrlBuf[:0]
			}
			c.ctrlBuf = append(c.ctrlBuf, data...)
			return
		}
		if len(c.ctrlBuf) > 0 {
			data = append(c.ctrlBuf, data...)
			c.ctrlBuf = nil
		}
		c.frame = newFrameReader()
		c.controlFrame(opcode, data)
		return
	}

	messageStarting := !c.recvActive
	if messageStarting {
		c.recvOpcode, c.recvActive = opcode, true
	} else if frameStarting && opcode != OpcodeContinuation {
		// The peer started a new message without terminating the
		// previous one (RFC 6455 section 5.4 violation). Deliver a
		// synthetic end for the old message and adopt the new opcode.
		c.logger.Error("new data message before the previous one finished",
			slog.String("opcode", opcode.String()), slog.String("previous", c.recvOpcode.String()))
		c.callDataHandler(c.recvOpcode, nil, false, true)
		c.recvOpcode = opcode
		messageStarting = true
	}

	if frameFinished {
		c.frame = newFrameReader()
	}
	messageFinished := frameFinished && finalFrame
	if messageFinished {
		c.recvActive = false
	}

	if c.recvOpcode == OpcodeText {
		if messageStarting {
			c.utf8.reset()
		}
		if err := c.utf8.feed(data, messageFinished); err != nil {
			c.utf8.reset()
			c.logger.Error("invalid UTF-8 in text message")
			c.Close(StatusInvalidData, "Not valid UTF-8")
			return
		}
	}
	if messageFinished {
		c.utf8.reset()
	}

	c.callDataHandler(c.recvOpcode, data, messageStarting, messageFinished)
}

func (c *Conn) callDataHandler(opcode Opcode, data []byte, messageStarting, messageFinished bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic in WebSocket data handler", slog.Any("panic", r))
			c.Close(StatusInternalError, fmt.Sprintf("Unexpected error in handler: %v", r))
		}
	}()
	c.handler.HandleData(c.id, opcode, data, messageStarting, messageFinished)
}

// controlFrame answers an inbound control frame: PING gets a PONG with
// the same payload, CLOSE gets a CLOSE echoing the payload (and latches
// closeReceived), PONG is ignored. Control frames never affect message
// reassembly.
func (c *Conn) controlFrame(opcode Opcode, data []byte) {
	switch opcode {
	case OpcodePing:
		c.pushControlFrame(createFrame(true, OpcodePong, data, nil), false)
	case OpcodeClose:
		status, reason := parseClosePayload(data)
		c.logger.Debug("received WebSocket close frame",
			slog.String("close_status", status.String()), slog.String("close_reason", reason))
		c.pushControlFrame(createFrame(true, OpcodeClose, data, nil), true)
		c.closeReceived = true
	case OpcodePong:
		// No tracking of unsolicited PONGs.
	}
	c.setWSState()
}
