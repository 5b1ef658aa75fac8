// Package transport implements the four query-serving transports named in
// the spec — UDP, TCP, DNS-over-TLS, and DNS-over-HTTPS — plus the
// top-level Server that wires a zone store, resolver, cookie manager, and
// metrics across all of them.
package transport

import (
	"context"
	"net"

	"github.com/dnsauth/dnsauthd/internal/dnsmsg"
)

// Handler answers a single parsed query, given the client's address (used
// for DNS Cookie validation). It is shared by TCP, DoT, and DoH; UDP
// drives it directly too, via Server.
type Handler interface {
	HandleDNS(ctx context.Context, query *dnsmsg.Message, clientIP net.IP) *dnsmsg.Message
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, query *dnsmsg.Message, clientIP net.IP) *dnsmsg.Message

// HandleDNS implements Handler.
func (f HandlerFunc) HandleDNS(ctx context.Context, query *dnsmsg.Message, clientIP net.IP) *dnsmsg.Message {
	return f(ctx, query, clientIP)
}
