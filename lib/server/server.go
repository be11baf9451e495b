// Package server runs the event loop: a single goroutine multiplexing every
// client connection over a readiness poll, executing commands against the
// database and pacing timers for idle connections, stalled writes and TTL
// expirations.
//
// Concurrency model: everything the loop touches (the database, the TTL
// heap, the connection lists, the fd table) is owned by the loop goroutine
// and never locked. The only cross-goroutine signal is Stop, which writes a
// byte into a self-pipe registered in the poll set.
package server

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sablekv/sable/lib/ds/list"
	"github.com/sablekv/sable/lib/engine"
	"github.com/sablekv/sable/lib/logging"
	"github.com/sablekv/sable/rpc/proto"
)

var logger = logging.GetLogger("server")

// Server owns the listener, the connections and the database.
type Server struct {
	config Config
	db     *engine.DB

	listenFd int
	port     int

	// fd2conn maps a socket fd to its connection. Grown to 2*fd on demand
	// and never compacted; gaps are cheap compared to re-indexing.
	fd2conn []*Conn

	idleList list.Node[*Conn]
	ioList   list.Node[*Conn]

	// stopR/stopW form the self-pipe that wakes the loop for shutdown.
	stopR, stopW int

	started  time.Time
	readBuf  [readChunk]byte
	pollArgs []unix.PollFd
}

// New creates a server with an empty database.
func New(config Config) *Server {
	s := &Server{
		config:   config,
		listenFd: -1,
		stopR:    -1,
		stopW:    -1,
		started:  time.Now(),
	}
	s.db = engine.New(s.nowMs)
	s.idleList.Init()
	s.ioList.Init()
	return s
}

// nowMs is the loop's monotonic millisecond clock.
func (s *Server) nowMs() uint64 {
	return uint64(time.Since(s.started) / time.Millisecond)
}

// Listen binds the TCP listener and the shutdown pipe. Safe to call once,
// before Serve; Serve calls it if needed.
func (s *Server) Listen() error {
	if s.listenFd >= 0 {
		return nil
	}

	addr, port, err := splitEndpoint(s.config.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", s.config.Endpoint, err)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return fmt.Errorf("setsockopt: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return fmt.Errorf("set nonblock: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port, Addr: addr}); err != nil {
		unix.Close(fd)
		return fmt.Errorf("bind: %w", err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return fmt.Errorf("listen: %w", err)
	}

	sa, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("getsockname: %w", err)
	}
	s.port = sa.(*unix.SockaddrInet4).Port

	var pipe [2]int
	if err := unix.Pipe(pipe[:]); err != nil {
		unix.Close(fd)
		return fmt.Errorf("pipe: %w", err)
	}
	s.stopR, s.stopW = pipe[0], pipe[1]
	unix.SetNonblock(s.stopR, true)

	s.listenFd = fd
	logger.Infof("listening on %s", s.config.Endpoint)
	return nil
}

// Port returns the bound TCP port. Valid after Listen.
func (s *Server) Port() int {
	return s.port
}

// Stop wakes the loop and makes Serve return after tearing everything
// down. Safe to call from any goroutine.
func (s *Server) Stop() {
	if s.stopW >= 0 {
		unix.Write(s.stopW, []byte{0})
	}
}

// Serve runs the event loop until Stop is called or the poll fails.
func (s *Server) Serve() error {
	if err := s.Listen(); err != nil {
		return err
	}
	defer s.teardown()

	for {
		// the listening socket and the stop pipe come first, then every
		// live connection with its current readiness intent
		s.pollArgs = s.pollArgs[:0]
		s.pollArgs = append(s.pollArgs,
			unix.PollFd{Fd: int32(s.listenFd), Events: unix.POLLIN},
			unix.PollFd{Fd: int32(s.stopR), Events: unix.POLLIN},
		)
		for _, conn := range s.fd2conn {
			if conn == nil {
				continue
			}
			pfd := unix.PollFd{Fd: int32(conn.fd)}
			if conn.wantRead {
				pfd.Events |= unix.POLLIN
			}
			if conn.wantWrite {
				pfd.Events |= unix.POLLOUT
			}
			s.pollArgs = append(s.pollArgs, pfd)
		}

		n, err := unix.Poll(s.pollArgs, s.nextTimerMs())
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		_ = n

		if s.pollArgs[1].Revents&unix.POLLIN != 0 {
			logger.Infof("shutdown requested")
			return nil
		}

		if s.pollArgs[0].Revents&unix.POLLIN != 0 {
			s.handleAccept()
		}

		for _, pfd := range s.pollArgs[2:] {
			if pfd.Revents == 0 {
				continue
			}
			conn := s.fd2conn[pfd.Fd]
			if conn == nil {
				continue
			}
			if pfd.Revents&unix.POLLIN != 0 {
				s.handleRead(conn)
			}
			if pfd.Revents&unix.POLLOUT != 0 {
				s.handleWrite(conn)
			}
			if pfd.Revents&unix.POLLERR != 0 || conn.wantClose {
				s.destroyConn(conn)
			}
		}

		s.processTimers()
	}
}

// --------------------------------------------------------------------------
// Accept / Read / Write
// --------------------------------------------------------------------------

func (s *Server) handleAccept() {
	for {
		fd, sa, err := unix.Accept(s.listenFd)
		if err == unix.EAGAIN {
			return
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			logger.Errorf("accept: %v", err)
			return
		}
		if err := unix.SetNonblock(fd, true); err != nil {
			logger.Errorf("set nonblock: %v", err)
			unix.Close(fd)
			continue
		}

		if sa4, ok := sa.(*unix.SockaddrInet4); ok {
			logger.Infof("new client from %s:%d", net.IP(sa4.Addr[:]), sa4.Port)
		}

		conn := newConn(fd, s.nowMs())
		list.InsertBefore(&s.idleList, &conn.timerNode)

		if len(s.fd2conn) <= fd {
			grown := make([]*Conn, 2*fd+1)
			copy(grown, s.fd2conn)
			s.fd2conn = grown
		}
		s.fd2conn[fd] = conn
		mConnsAccepted.Inc()
	}
}

func (s *Server) handleRead(conn *Conn) {
	conn.lastActiveMs = s.nowMs()

	n, err := unix.Read(conn.fd, s.readBuf[:])
	if err == unix.EAGAIN {
		return
	}
	if err == unix.EINTR {
		return
	}
	if err != nil || n == 0 {
		// 0 is EOF; anything else is an I/O error
		conn.wantClose = true
		return
	}
	mBytesRead.Add(n)
	conn.incoming.Append(s.readBuf[:n])

	// a reading connection is doing I/O, track it under the short deadline
	list.Detach(&conn.timerNode)
	list.InsertBefore(&s.ioList, &conn.timerNode)

	// drain every complete pipelined request
	for s.tryOneRequest(conn) {
	}

	if conn.outgoing.Size() > 0 {
		conn.wantRead = false
		conn.wantWrite = true
		// the socket is likely writable right now, skip one poll round
		s.handleWrite(conn)
	}
}

// tryOneRequest peels one complete frame off the incoming buffer, executes
// it and appends the response. Returns false when more bytes are needed or
// the connection is condemned.
func (s *Server) tryOneRequest(conn *Conn) bool {
	if conn.incoming.Size() < proto.HeaderSize {
		return false
	}
	frameLen := binary.LittleEndian.Uint32(conn.incoming.Data())
	if frameLen > proto.MaxMsg {
		logger.Errorf("oversize frame (%d bytes) from fd %d", frameLen, conn.fd)
		mProtocolErrors.Inc()
		conn.wantClose = true
		return false
	}
	if conn.incoming.Size() < proto.HeaderSize+int(frameLen) {
		return false
	}

	body := conn.incoming.Data()[proto.HeaderSize : proto.HeaderSize+frameLen]
	cmd, err := proto.ParseRequest(body)
	if err != nil {
		logger.Errorf("bad request from fd %d: %v", conn.fd, err)
		mProtocolErrors.Inc()
		conn.wantClose = true
		return false
	}

	s.db.Exec(cmd, conn.outgoing)
	mRequests.Inc()

	conn.incoming.Consume(proto.HeaderSize + int(frameLen))
	return true
}

func (s *Server) handleWrite(conn *Conn) {
	conn.lastActiveMs = s.nowMs()

	n, err := unix.Write(conn.fd, conn.outgoing.Data())
	if err == unix.EAGAIN {
		return
	}
	if err == unix.EINTR {
		return
	}
	if err != nil {
		conn.wantClose = true
		return
	}
	mBytesWritten.Add(n)
	conn.outgoing.Consume(n)

	if conn.outgoing.Size() == 0 {
		// response fully flushed, go back to waiting for requests
		conn.wantWrite = false
		conn.wantRead = true
		list.Detach(&conn.timerNode)
		list.InsertBefore(&s.idleList, &conn.timerNode)
	}
}

func (s *Server) destroyConn(conn *Conn) {
	unix.Close(conn.fd)
	s.fd2conn[conn.fd] = nil
	list.Detach(&conn.timerNode)
	mConnsClosed.Inc()
}

// --------------------------------------------------------------------------
// Timers
// --------------------------------------------------------------------------

// nextTimerMs computes the poll timeout from the nearest deadline: the
// oldest idle connection, the oldest stalled connection, or the earliest
// TTL. -1 means wait forever.
func (s *Server) nextTimerMs() int {
	nowMs := s.nowMs()
	next := uint64(1<<64 - 1)

	if !s.idleList.Empty() {
		conn := s.idleList.Front().Ref
		next = min(next, conn.lastActiveMs+idleTimeoutMs)
	}
	if !s.ioList.Empty() {
		conn := s.ioList.Front().Ref
		next = min(next, conn.lastActiveMs+ioTimeoutMs)
	}
	if expireAt, ok := s.db.NextExpiry(); ok {
		next = min(next, expireAt)
	}

	if next == 1<<64-1 {
		return -1
	}
	if next <= nowMs {
		return 0
	}
	return int(next - nowMs)
}

func (s *Server) processTimers() {
	nowMs := s.nowMs()

	for !s.idleList.Empty() {
		conn := s.idleList.Front().Ref
		if conn.lastActiveMs+idleTimeoutMs >= nowMs {
			break
		}
		logger.Infof("removing idle connection: %d", conn.fd)
		mConnsIdleTimeo.Inc()
		s.destroyConn(conn)
	}

	for !s.ioList.Empty() {
		conn := s.ioList.Front().Ref
		if conn.lastActiveMs+ioTimeoutMs >= nowMs {
			break
		}
		logger.Infof("removing io timeout connection: %d", conn.fd)
		mConnsIOTimeo.Inc()
		s.destroyConn(conn)
	}

	for _, key := range s.db.ExpireOverdue(maxExpireWorks) {
		logger.Debugf("key expired: %s", key)
		mKeysExpired.Inc()
	}
}

// --------------------------------------------------------------------------
// Teardown
// --------------------------------------------------------------------------

func (s *Server) teardown() {
	for _, conn := range s.fd2conn {
		if conn != nil {
			s.destroyConn(conn)
		}
	}
	if s.listenFd >= 0 {
		unix.Close(s.listenFd)
		s.listenFd = -1
	}
	if s.stopR >= 0 {
		unix.Close(s.stopR)
		unix.Close(s.stopW)
		s.stopR, s.stopW = -1, -1
	}
}

// splitEndpoint parses "host:port" into a 4-byte IPv4 address and a port.
// An empty or wildcard host binds every interface.
func splitEndpoint(endpoint string) ([4]byte, int, error) {
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return [4]byte{}, 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return [4]byte{}, 0, fmt.Errorf("invalid port %q", portStr)
	}
	var addr [4]byte
	if host != "" && host != "0.0.0.0" {
		ip := net.ParseIP(host)
		if ip == nil || ip.To4() == nil {
			return [4]byte{}, 0, fmt.Errorf("invalid IPv4 host %q", host)
		}
		copy(addr[:], ip.To4())
	}
	return addr, port, nil
}
