package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/dnsauth/dnsauthd/internal/dnsmsg"
	"github.com/dnsauth/dnsauthd/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoAHandler(t *testing.T) Handler {
	t.Helper()
	name, err := dnsmsg.ParseName("www.example.org.")
	require.NoError(t, err)
	return HandlerFunc(func(ctx context.Context, query *dnsmsg.Message, clientIP net.IP) *dnsmsg.Message {
		a, err := dnsmsg.BuildA(name, 300, net.ParseIP("192.0.2.1"))
		require.NoError(t, err)
		return &dnsmsg.Message{
			Header:   dnsmsg.Header{ID: query.Header.ID, QR: true, Opcode: query.Header.Opcode, AA: true},
			Question: query.Question,
			Answer:   []dnsmsg.ResourceRecord{a},
		}
	})
}

func TestUDPServerAnswersQuery(t *testing.T) {
	srv, err := NewUDPServer(UDPConfig{Address: "127.0.0.1:0"}, echoAHandler(t))
	require.NoError(t, err)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Serve(ctx) }()

	conn, err := net.Dial("udp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	name, err := dnsmsg.ParseName("www.example.org.")
	require.NoError(t, err)
	query := &dnsmsg.Message{
		Header:   dnsmsg.Header{ID: 99, RD: true, Opcode: dnsmsg.OpcodeQuery},
		Question: []dnsmsg.Question{{Name: name, Type: dnsmsg.TypeA, Class: dnsmsg.ClassIN}},
	}
	wire, err := dnsmsg.NewBuilder(512).Build(query)
	require.NoError(t, err)

	_, err = conn.Write(wire)
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 512)
	n, err := conn.Read(buf)
	require.NoError(t, err)

	resp, err := dnsmsg.NewParser(buf[:n]).Parse()
	require.NoError(t, err)
	assert.Equal(t, uint16(99), resp.Header.ID)
	assert.True(t, resp.Header.QR)
	require.Len(t, resp.Answer, 1)
	ip, err := resp.Answer[0].A()
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1", ip.String())
}

func TestUDPServerStatsCountsPackets(t *testing.T) {
	srv, err := NewUDPServer(UDPConfig{Address: "127.0.0.1:0"}, echoAHandler(t))
	require.NoError(t, err)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Serve(ctx) }()

	conn, err := net.Dial("udp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	name, err := dnsmsg.ParseName("www.example.org.")
	require.NoError(t, err)
	query := &dnsmsg.Message{
		Header:   dnsmsg.Header{ID: 1, Opcode: dnsmsg.OpcodeQuery},
		Question: []dnsmsg.Question{{Name: name, Type: dnsmsg.TypeA, Class: dnsmsg.ClassIN}},
	}
	wire, err := dnsmsg.NewBuilder(512).Build(query)
	require.NoError(t, err)
	_, err = conn.Write(wire)
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 512)
	_, err = conn.Read(buf)
	require.NoError(t, err)

	packets, _ := srv.Stats()
	assert.GreaterOrEqual(t, packets, uint64(1))
}

func TestUDPServerRecordsTruncatedTotal(t *testing.T) {
	name, err := dnsmsg.ParseName("www.example.org.")
	require.NoError(t, err)

	// A handler whose answer section alone is far larger than the 512-byte
	// no-EDNS0 ceiling the test query advertises, forcing Build to set TC.
	bigHandler := HandlerFunc(func(ctx context.Context, query *dnsmsg.Message, clientIP net.IP) *dnsmsg.Message {
		answers := make([]dnsmsg.ResourceRecord, 0, 64)
		for i := 0; i < 64; i++ {
			a, err := dnsmsg.BuildA(name, 300, net.ParseIP("192.0.2.1"))
			require.NoError(t, err)
			answers = append(answers, a)
		}
		return &dnsmsg.Message{
			Header:   dnsmsg.Header{ID: query.Header.ID, QR: true, Opcode: query.Header.Opcode, AA: true},
			Question: query.Question,
			Answer:   answers,
		}
	})

	m := metrics.New()
	srv, err := NewUDPServer(UDPConfig{Address: "127.0.0.1:0", Metrics: m}, bigHandler)
	require.NoError(t, err)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Serve(ctx) }()

	conn, err := net.Dial("udp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	query := &dnsmsg.Message{
		Header:   dnsmsg.Header{ID: 7, RD: true, Opcode: dnsmsg.OpcodeQuery},
		Question: []dnsmsg.Question{{Name: name, Type: dnsmsg.TypeA, Class: dnsmsg.ClassIN}},
	}
	wire, err := dnsmsg.NewBuilder(512).Build(query)
	require.NoError(t, err)
	_, err = conn.Write(wire)
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 512)
	n, err := conn.Read(buf)
	require.NoError(t, err)

	resp, err := dnsmsg.NewParser(buf[:n]).Parse()
	require.NoError(t, err)
	assert.True(t, resp.Header.TC)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TruncatedTotal))
}
