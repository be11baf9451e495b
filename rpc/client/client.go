// Package client provides the blocking wire client used by the CLI
// commands and the benchmark tool.
//
// A Client owns a fixed-size pool of TCP connections to one server. Do
// borrows a connection, writes one framed request, reads exactly one framed
// response and returns the decoded value tree. The pool is a bounded
// concurrent queue, so any number of goroutines can share one Client; each
// request still sees strict request/response ordering on its borrowed
// connection.
package client

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/sablekv/sable/lib/ds/buffer"
	"github.com/sablekv/sable/rpc/proto"
)

// Config holds the client connection parameters.
type Config struct {
	// Endpoint is the server address, e.g. "localhost:1234".
	Endpoint string
	// TimeoutSecond bounds dial, read and write operations. 0 disables.
	TimeoutSecond int
	// Connections is the pool size. Minimum 1.
	Connections int
	// TCPNoDelay disables Nagle's algorithm on pool connections.
	TCPNoDelay bool
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		Endpoint:      "localhost:1234",
		TimeoutSecond: 10,
		Connections:   1,
		TCPNoDelay:    true,
	}
}

// Client is a pooled connection to one server.
type Client struct {
	config Config
	pool   *xsync.MPMCQueueOf[net.Conn]
}

// Dial connects the pool.
func Dial(config Config) (*Client, error) {
	if config.Connections < 1 {
		config.Connections = 1
	}
	c := &Client{
		config: config,
		pool:   xsync.NewMPMCQueueOf[net.Conn](config.Connections),
	}
	for i := 0; i < config.Connections; i++ {
		conn, err := c.connect()
		if err != nil {
			c.Close()
			return nil, err
		}
		c.pool.Enqueue(conn)
	}
	return c, nil
}

func (c *Client) connect() (net.Conn, error) {
	timeout := time.Duration(c.config.TimeoutSecond) * time.Second
	conn, err := net.DialTimeout("tcp", c.config.Endpoint, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.config.Endpoint, err)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(c.config.TCPNoDelay); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

// Close tears down every pooled connection.
func (c *Client) Close() error {
	for {
		conn, ok := c.pool.TryDequeue()
		if !ok {
			return nil
		}
		conn.Close()
	}
}

// Do sends one command and returns the decoded response.
func (c *Client) Do(args ...string) (proto.Value, error) {
	cmd := make([][]byte, len(args))
	for i, a := range args {
		cmd[i] = []byte(a)
	}

	conn := c.pool.Dequeue()
	v, err := c.roundTrip(conn, cmd)
	if err != nil {
		// the connection's framing state is unknown, replace it
		conn.Close()
		if fresh, dialErr := c.connect(); dialErr == nil {
			c.pool.Enqueue(fresh)
		} else {
			c.pool.Enqueue(conn) // keep the slot occupied, next Do fails fast
		}
		return proto.Value{}, err
	}
	c.pool.Enqueue(conn)
	return v, nil
}

func (c *Client) roundTrip(conn net.Conn, cmd [][]byte) (proto.Value, error) {
	timeout := time.Duration(c.config.TimeoutSecond) * time.Second
	if timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
			return proto.Value{}, err
		}
	}

	out := buffer.New(64)
	proto.AppendRequest(out, cmd)
	if _, err := conn.Write(out.Data()); err != nil {
		return proto.Value{}, fmt.Errorf("write failed: %w", err)
	}

	return ReadResponse(conn)
}

// ReadResponse reads one framed response value from r.
func ReadResponse(r io.Reader) (proto.Value, error) {
	var header [proto.HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return proto.Value{}, fmt.Errorf("read header failed: %w", err)
	}
	frameLen := binary.LittleEndian.Uint32(header[:])
	if frameLen > proto.MaxMsg {
		return proto.Value{}, proto.ErrFrameTooBig
	}

	body := make([]byte, frameLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return proto.Value{}, fmt.Errorf("read body failed: %w", err)
	}

	v, used, err := proto.ParseValue(body)
	if err != nil {
		return proto.Value{}, err
	}
	if used != len(body) {
		return proto.Value{}, fmt.Errorf("%w: %d trailing bytes in response", proto.ErrProtocol, len(body)-used)
	}
	return v, nil
}
