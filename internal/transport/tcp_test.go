package transport

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/dnsauth/dnsauthd/internal/dnsmsg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCPServerAnswersPipelinedQueries(t *testing.T) {
	srv, err := NewTCPServer(TCPConfig{Address: "127.0.0.1:0"}, echoAHandler(t))
	require.NoError(t, err)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Serve(ctx) }()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	name, err := dnsmsg.ParseName("www.example.org.")
	require.NoError(t, err)

	for i := uint16(0); i < 3; i++ {
		query := &dnsmsg.Message{
			Header:   dnsmsg.Header{ID: i, RD: true, Opcode: dnsmsg.OpcodeQuery},
			Question: []dnsmsg.Question{{Name: name, Type: dnsmsg.TypeA, Class: dnsmsg.ClassIN}},
		}
		wire, err := dnsmsg.NewBuilder(maxTCPMessage).Build(query)
		require.NoError(t, err)

		framed := make([]byte, 2+len(wire))
		binary.BigEndian.PutUint16(framed[:2], uint16(len(wire)))
		copy(framed[2:], wire)

		_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		_, err = conn.Write(framed)
		require.NoError(t, err)

		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var lenBuf [2]byte
		_, err = io.ReadFull(conn, lenBuf[:])
		require.NoError(t, err)
		respLen := binary.BigEndian.Uint16(lenBuf[:])

		respBuf := make([]byte, respLen)
		_, err = io.ReadFull(conn, respBuf)
		require.NoError(t, err)

		resp, err := dnsmsg.NewParser(respBuf).Parse()
		require.NoError(t, err)
		assert.Equal(t, i, resp.Header.ID)
		require.Len(t, resp.Answer, 1)
	}
}

func TestTCPServerRejectsConnectionsBeyondMaxConnections(t *testing.T) {
	block := make(chan struct{})
	handler := HandlerFunc(func(ctx context.Context, query *dnsmsg.Message, clientIP net.IP) *dnsmsg.Message {
		<-block
		return nil
	})

	// Workers and QueueSize are both set to MaxConnections, so with
	// MaxConnections: 1 a second connection fills the lone queue slot and
	// a third finds the pool entirely saturated.
	srv, err := NewTCPServer(TCPConfig{Address: "127.0.0.1:0", MaxConnections: 1}, handler)
	require.NoError(t, err)
	defer func() {
		close(block)
		srv.Close()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Serve(ctx) }()

	name, err := dnsmsg.ParseName("www.example.org.")
	require.NoError(t, err)
	query := &dnsmsg.Message{
		Header:   dnsmsg.Header{ID: 1, RD: true, Opcode: dnsmsg.OpcodeQuery},
		Question: []dnsmsg.Question{{Name: name, Type: dnsmsg.TypeA, Class: dnsmsg.ClassIN}},
	}
	wire, err := dnsmsg.NewBuilder(maxTCPMessage).Build(query)
	require.NoError(t, err)
	framed := make([]byte, 2+len(wire))
	binary.BigEndian.PutUint16(framed[:2], uint16(len(wire)))
	copy(framed[2:], wire)

	first, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer first.Close()
	_, err = first.Write(framed)
	require.NoError(t, err)

	second, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer second.Close()
	_, err = second.Write(framed)
	require.NoError(t, err)

	// Give the accept loop time to actually hand both connections to the
	// pool before the third arrives and finds it full.
	require.Eventually(t, func() bool {
		third, err := net.Dial("tcp", srv.Addr().String())
		if err != nil {
			return false
		}
		defer third.Close()
		_ = third.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		start := time.Now()
		buf := make([]byte, 1)
		_, err = third.Read(buf)
		return err != nil && time.Since(start) < 150*time.Millisecond
	}, 2*time.Second, 20*time.Millisecond)
}

func TestTCPServerClosesIdleConnection(t *testing.T) {
	srv, err := NewTCPServer(TCPConfig{Address: "127.0.0.1:0", IdleTimeout: 50 * time.Millisecond}, echoAHandler(t))
	require.NoError(t, err)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Serve(ctx) }()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	assert.Error(t, err) // server closed the idle connection
}
