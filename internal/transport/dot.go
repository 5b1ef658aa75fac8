package transport

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/dnsauth/dnsauthd/internal/dnsmsg"
	"github.com/dnsauth/dnsauthd/internal/worker"
)

const dotIdleTimeout = 60 * time.Second

// DoTConfig configures a DoTServer. Either TLSConfig or CertFile+KeyFile
// must be supplied; spec.md requires a real TLS library here rather than
// the teacher's placeholder in-line TLS state machine, so this always
// goes through crypto/tls.
type DoTConfig struct {
	Address     string
	TLSConfig   *tls.Config
	CertFile    string
	KeyFile     string
	IdleTimeout time.Duration
	// MaxConnections bounds how many TLS connections may be handled at
	// once, mirroring TCPConfig.MaxConnections.
	MaxConnections int
}

// DoTServer answers queries over DNS-over-TLS (RFC 7858), using the same
// 2-byte length-prefixed framing as plain TCP, inside a TLS session
// negotiated with ALPN protocol "dot". Each accepted connection runs as a
// job on a bounded worker.Pool rather than an unbounded goroutine, so
// MaxConnections is actually enforced.
type DoTServer struct {
	listener net.Listener
	handler  Handler
	idle     time.Duration
	pool     *worker.Pool
}

// NewDoTServer resolves the TLS configuration and binds a TLS listener at
// cfg.Address.
func NewDoTServer(cfg DoTConfig, handler Handler) (*DoTServer, error) {
	tlsCfg, err := resolveTLSConfig(cfg.TLSConfig, cfg.CertFile, cfg.KeyFile, "dot")
	if err != nil {
		return nil, err
	}

	l, err := tls.Listen("tcp", cfg.Address, tlsCfg)
	if err != nil {
		return nil, err
	}

	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = dotIdleTimeout
	}
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = defaultMaxTCPConns
	}
	pool := worker.NewPool(worker.Config{Workers: maxConns, QueueSize: maxConns})
	return &DoTServer{listener: l, handler: handler, idle: idle, pool: pool}, nil
}

func resolveTLSConfig(base *tls.Config, certFile, keyFile, alpn string) (*tls.Config, error) {
	if base != nil {
		cfg := base.Clone()
		if len(cfg.NextProtos) == 0 {
			cfg.NextProtos = []string{alpn}
		}
		return cfg, nil
	}
	if certFile == "" || keyFile == "" {
		return nil, fmt.Errorf("transport: TLS config or cert/key file pair required")
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("transport: loading TLS certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		NextProtos:   []string{alpn},
	}, nil
}

// Addr returns the bound local address.
func (s *DoTServer) Addr() net.Addr { return s.listener.Addr() }

// Serve accepts connections until ctx is canceled.
func (s *DoTServer) Serve(ctx context.Context) error {
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
			_ = c.Close()
		}
	}
}

func (s *DoTServer) handleConnection(ctx context.Context, conn net.Conn) {
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

// Close stops the listener and waits for in-flight connections.
func (s *DoTServer) Close() error {
	err := s.listener.Close()
	_ = s.pool.Close()
	return err
}
