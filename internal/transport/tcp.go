package transport

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/dnsauth/dnsauthd/internal/dnsmsg"
	"github.com/dnsauth/dnsauthd/internal/worker"
)

const (
	tcpIdleTimeout     = 30 * time.Second
	maxTCPMessage      = 65535
	defaultMaxTCPConns = 256
)

// TCPConfig configures a TCPServer.
type TCPConfig struct {
	Address     string
	IdleTimeout time.Duration
	// MaxConnections bounds how many TCP connections may be handled at
	// once; up to as many more accepted connections wait in the worker
	// pool's queue, and a connection accepted while that queue is full is
	// closed immediately instead of spawning another goroutine.
	MaxConnections int
}

// TCPServer answers queries over plain TCP, using the standard 2-byte
// big-endian length prefix (RFC 1035 §4.2.2). A single connection may
// carry multiple pipelined queries; each is answered independently and
// responses are written in the order their queries were read. Each
// accepted connection is handed to a bounded worker.Pool for its entire
// lifetime rather than spawned as an unbounded goroutine, so
// MaxConnections is an enforced ceiling, not a suggestion.
type TCPServer struct {
	listener net.Listener
	handler  Handler
	idle     time.Duration
	pool     *worker.Pool
}

// NewTCPServer binds a TCP listener at cfg.Address.
func NewTCPServer(cfg TCPConfig, handler Handler) (*TCPServer, error) {
	l, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, err
	}
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = tcpIdleTimeout
	}
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = defaultMaxTCPConns
	}
	pool := worker.NewPool(worker.Config{Workers: maxConns, QueueSize: maxConns})
	return &TCPServer{listener: l, handler: handler, idle: idle, pool: pool}, nil
}

// Addr returns the bound local address.
func (s *TCPServer) Addr() net.Addr { return s.listener.Addr() }

// Serve accepts connections until ctx is canceled.
func (s *TCPServer) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				_ = s.pool.Close()
				return nil
			default:
				continue
			}
		}
		c := conn
		if err := s.pool.SubmitAsync(ctx, worker.JobFunc(func(jobCtx context.Context) error {
			s.handleConnection(jobCtx, c)
			return nil
		})); err != nil {
			// Pool is at MaxConnections or shutting down: reject rather
			// than spawn an unbounded goroutine.
			_ = c.Close()
		}
	}
}

func (s *TCPServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remoteAddr, _ := conn.RemoteAddr().(*net.TCPAddr)
	var clientIP net.IP
	if remoteAddr != nil {
		clientIP = remoteAddr.IP
	}

	lenBuf := make([]byte, 2)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.idle))
		if _, err := io.ReadFull(conn, lenBuf); err != nil {
			return
		}
		msgLen := binary.BigEndian.Uint16(lenBuf)
		if msgLen == 0 {
			return
		}

		msgBuf := make([]byte, msgLen)
		if _, err := io.ReadFull(conn, msgBuf); err != nil {
			return
		}

		query, err := dnsmsg.NewParser(msgBuf).Parse()
		if err != nil {
			return
		}

		resp := s.handler.HandleDNS(ctx, query, clientIP)
		if resp == nil {
			continue
		}

		wire, err := dnsmsg.NewBuilder(maxTCPMessage).Build(resp)
		if err != nil {
			return
		}

		out := make([]byte, 2+len(wire))
		binary.BigEndian.PutUint16(out[:2], uint16(len(wire)))
		copy(out[2:], wire)
		if _, err := conn.Write(out); err != nil {
			return
		}
	}
}

// Close stops the listener and waits for in-flight connections to finish.
func (s *TCPServer) Close() error {
	err := s.listener.Close()
	_ = s.pool.Close()
	return err
}
