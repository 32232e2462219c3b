// Package server defines shared payload types and utility helpers that are
// reused across client and hub logic.
package server

import (
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/gorilla/websocket"
)

// inboundMessage is one raw frame read from a client, queued for the hub.
type inboundMessage struct {
	sender  *Client
	payload []byte
}

// isExpectedCloseError reports whether err is a normal connection
// termination that should not be logged as a failure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived)
}
