package transport

import (
	"context"
	"encoding/binary"
	"net"
	"sync/atomic"

	"github.com/dnsauth/dnsauthd/internal/dnsmsg"
	"github.com/dnsauth/dnsauthd/internal/metrics"
	"github.com/dnsauth/dnsauthd/internal/msgpool"
	"github.com/dnsauth/dnsauthd/internal/worker"
)

const (
	udpReadBufferBytes  = 4 * 1024 * 1024
	udpWriteBufferBytes = 4 * 1024 * 1024
	defaultMaxUDPSize   = 4096
)

// UDPConfig configures a UDPServer.
type UDPConfig struct {
	Address string
	Workers int
	Metrics *metrics.Metrics
	// MaxUDPSize is the configured edns_udp_max ceiling; defaults to 4096
	// when zero.
	MaxUDPSize uint16
}

// UDPServer answers queries over plain UDP, running a bounded worker pool
// to decode, resolve, and build each reply rather than one goroutine per
// packet.
type UDPServer struct {
	conn       *net.UDPConn
	handler    Handler
	pool       *worker.Pool
	metrics    *metrics.Metrics
	maxUDPSize int

	bufs *msgpool.BufferPool
	msgs *msgpool.MessagePool

	packetsTotal atomic.Uint64
	errorsTotal  atomic.Uint64

	done chan struct{}
}

// NewUDPServer binds a UDP socket at cfg.Address and prepares (but does
// not start) a UDPServer around it.
func NewUDPServer(cfg UDPConfig, handler Handler) (*UDPServer, error) {
	addr, err := net.ResolveUDPAddr("udp", cfg.Address)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	_ = conn.SetReadBuffer(udpReadBufferBytes)
	_ = conn.SetWriteBuffer(udpWriteBufferBytes)

	workers := cfg.Workers
	if workers <= 0 {
		workers = 8
	}
	pool := worker.NewPool(worker.Config{Workers: workers, QueueSize: workers * 64})

	maxUDPSize := int(cfg.MaxUDPSize)
	if maxUDPSize == 0 {
		maxUDPSize = defaultMaxUDPSize
	}

	return &UDPServer{
		conn: conn, handler: handler, pool: pool, metrics: cfg.Metrics,
		maxUDPSize: maxUDPSize,
		bufs:       msgpool.NewBufferPool(),
		msgs:       msgpool.NewMessagePool(),
		done:       make(chan struct{}),
	}, nil
}

// Addr returns the bound local address.
func (s *UDPServer) Addr() net.Addr { return s.conn.LocalAddr() }

// Serve reads packets until ctx is canceled or the socket is closed,
// dispatching each to the worker pool.
func (s *UDPServer) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.conn.Close()
	}()

	buf := make([]byte, s.maxUDPSize)
	for {
		n, raddr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				close(s.done)
				return nil
			default:
			}
			s.errorsTotal.Add(1)
			continue
		}
		s.packetsTotal.Add(1)

		packet := s.bufs.Get(n)[:n]
		copy(packet, buf[:n])
		addr := raddr

		_ = s.pool.SubmitAsync(ctx, worker.JobFunc(func(jobCtx context.Context) error {
			s.handlePacket(jobCtx, packet, addr)
			return nil
		}))
	}
}

func (s *UDPServer) handlePacket(ctx context.Context, packet []byte, addr *net.UDPAddr) {
	defer s.bufs.Put(packet)

	query := s.msgs.Get()
	defer s.msgs.Put(query)
	if err := dnsmsg.NewParser(packet).ParseInto(query); err != nil {
		s.errorsTotal.Add(1)
		return
	}

	resp := s.handler.HandleDNS(ctx, query, addr.IP)
	if resp == nil {
		return
	}

	maxLen := 512
	if opt, ok := dnsmsg.FindOPT(query.Additional); ok {
		parsed := dnsmsg.ParseOPT(opt)
		if int(parsed.UDPSize) > maxLen {
			maxLen = int(parsed.UDPSize)
		}
	}
	if maxLen > s.maxUDPSize {
		maxLen = s.maxUDPSize
	}

	wire, err := dnsmsg.NewBuilder(maxLen).Build(resp)
	if err != nil {
		s.errorsTotal.Add(1)
		return
	}
	if s.metrics != nil && wireTruncated(wire) {
		s.metrics.TruncatedTotal.Inc()
	}
	_, _ = s.conn.WriteToUDP(wire, addr)
}

// wireTruncated reports whether a built message has its TC bit set.
func wireTruncated(wire []byte) bool {
	return len(wire) >= 4 && binary.BigEndian.Uint16(wire[2:4])&0x0200 != 0
}

// Stats returns simple lifetime counters.
func (s *UDPServer) Stats() (packets, errors uint64) {
	return s.packetsTotal.Load(), s.errorsTotal.Load()
}

// Close stops accepting new work and closes the worker pool.
func (s *UDPServer) Close() error {
	_ = s.conn.Close()
	return s.pool.Close()
}
