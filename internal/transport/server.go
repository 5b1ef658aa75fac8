package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/dnsauth/dnsauthd/internal/cookie"
	"github.com/dnsauth/dnsauthd/internal/dnsmsg"
	"github.com/dnsauth/dnsauthd/internal/metrics"
	"github.com/dnsauth/dnsauthd/internal/resolve"
	"github.com/dnsauth/dnsauthd/internal/zonestore"
)

// Config describes which transports to run and how.
type Config struct {
	UDPAddr       string
	UDPListeners  int
	TCPAddr       string
	DoTAddr       string
	DoTCertFile   string
	DoTKeyFile    string
	DoHAddr       string
	DoHCertFile   string
	DoHKeyFile    string
	DoHPath       string
	EnableDoT     bool
	EnableDoH     bool

	// MaxConnections bounds concurrent TCP/DoT connections, each handled
	// by a worker-pool job rather than an unbounded goroutine.
	MaxConnections int

	// EDNSUDPMax is the maximum EDNS0 UDP payload size this server
	// advertises and will build a response up to (RFC 6891). Defaults to
	// 4096 if zero.
	EDNSUDPMax uint16

	Store    *zonestore.Store
	Cookies  *cookie.Manager
	Metrics  *metrics.Metrics
}

// Server runs every enabled transport against a shared zone store and
// resolver, and implements Handler itself so each transport's listener
// can call straight into it.
type Server struct {
	cfg Config

	udpServers []*UDPServer
	tcpServer  *TCPServer
	dotServer  *DoTServer
	dohServer  *DoHServer
}

// New wires up listeners for every transport cfg enables. It binds
// sockets immediately but doesn't start serving until Start is called.
func New(cfg Config) (*Server, error) {
	s := &Server{cfg: cfg}

	listeners := cfg.UDPListeners
	if listeners <= 0 {
		listeners = 1
	}
	for i := 0; i < listeners; i++ {
		u, err := NewUDPServer(UDPConfig{Address: cfg.UDPAddr, Metrics: cfg.Metrics, MaxUDPSize: cfg.EDNSUDPMax}, s)
		if err != nil {
			return nil, fmt.Errorf("transport: binding UDP listener %d: %w", i, err)
		}
		s.udpServers = append(s.udpServers, u)
	}

	tcp, err := NewTCPServer(TCPConfig{Address: cfg.TCPAddr, MaxConnections: cfg.MaxConnections}, s)
	if err != nil {
		return nil, fmt.Errorf("transport: binding TCP listener: %w", err)
	}
	s.tcpServer = tcp

	if cfg.EnableDoT {
		dot, err := NewDoTServer(DoTConfig{
			Address: cfg.DoTAddr, CertFile: cfg.DoTCertFile, KeyFile: cfg.DoTKeyFile,
			MaxConnections: cfg.MaxConnections,
		}, s)
		if err != nil {
			return nil, fmt.Errorf("transport: binding DoT listener: %w", err)
		}
		s.dotServer = dot
	}

	if cfg.EnableDoH {
		s.dohServer = NewDoHServer(DoHConfig{
			Address: cfg.DoHAddr, Path: cfg.DoHPath, CertFile: cfg.DoHCertFile, KeyFile: cfg.DoHKeyFile,
		}, s)
	}

	return s, nil
}

// HandleDNS implements Handler: it resolves a query against the zone
// store and cookie manager, recording metrics along the way.
func (s *Server) HandleDNS(ctx context.Context, query *dnsmsg.Message, clientIP net.IP) *dnsmsg.Message {
	start := time.Now()
	resp := resolve.Respond(s.cfg.Store, s.cfg.Cookies, query, clientIP, s.ednsUDPMax())
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.QueriesTotal.WithLabelValues("any").Inc()
		s.cfg.Metrics.ResolveLatency.WithLabelValues("any").Observe(time.Since(start).Seconds())
		s.cfg.Metrics.ResponsesTotal.WithLabelValues(resp.Header.Rcode.String()).Inc()
	}
	return resp
}

// Start launches every configured transport's Serve loop in its own
// goroutine and returns immediately; it does not block.
func (s *Server) Start(ctx context.Context) {
	for _, u := range s.udpServers {
		go func(u *UDPServer) { _ = u.Serve(ctx) }(u)
	}
	go func() { _ = s.tcpServer.Serve(ctx) }()
	if s.dotServer != nil {
		go func() { _ = s.dotServer.Serve(ctx) }()
	}
	if s.dohServer != nil {
		go func() { _ = s.dohServer.Serve(ctx, s.cfg.DoHCertFile, s.cfg.DoHKeyFile) }()
	}
}

// ednsUDPMax returns the configured EDNS0 UDP payload ceiling, defaulting
// to 4096 when unset.
func (s *Server) ednsUDPMax() uint16 {
	if s.cfg.EDNSUDPMax == 0 {
		return 4096
	}
	return s.cfg.EDNSUDPMax
}

// Close closes every listener this Server opened.
func (s *Server) Close() error {
	for _, u := range s.udpServers {
		_ = u.Close()
	}
	_ = s.tcpServer.Close()
	if s.dotServer != nil {
		_ = s.dotServer.Close()
	}
	if s.dohServer != nil {
		_ = s.dohServer.server.Close()
	}
	return nil
}
