package server

import (
	"github.com/sablekv/sable/lib/ds/buffer"
	"github.com/sablekv/sable/lib/ds/list"
)

// Conn is the per-connection state tracked by the event loop.
//
// The want flags are the connection's readiness intent for the next poll:
// a connection wants to read while waiting for requests, wants to write
// while a response is buffered, and wants to close after EOF, a protocol
// violation or an I/O error. The timer node links the connection into
// exactly one of the idle and io lists, ordered by last activity.
type Conn struct {
	fd int

	wantRead  bool
	wantWrite bool
	wantClose bool

	incoming *buffer.Buffer
	outgoing *buffer.Buffer

	lastActiveMs uint64
	timerNode    list.Node[*Conn]
}

func newConn(fd int, nowMs uint64) *Conn {
	c := &Conn{
		fd:           fd,
		wantRead:     true, // read the first request
		incoming:     buffer.New(connBufSize),
		outgoing:     buffer.New(connBufSize),
		lastActiveMs: nowMs,
	}
	c.timerNode.Init()
	c.timerNode.Ref = c
	return c
}
