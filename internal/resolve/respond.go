package resolve

import (
	"net"

	"github.com/dnsauth/dnsauthd/internal/cookie"
	"github.com/dnsauth/dnsauthd/internal/dnsmsg"
	"github.com/dnsauth/dnsauthd/internal/zonestore"
)

// ednsVersionSupported is the highest EDNS version this server
// understands (RFC 6891 EDNS0 only).
const ednsVersionSupported = 0

// defaultEDNSUDPMax is used when a caller passes 0 for maxUDPSize (e.g.
// existing callers that predate the configurable edns_udp_max setting).
const defaultEDNSUDPMax = 4096

// Respond builds a complete response Message for query, handling EDNS0
// (including BADVERS for unsupported versions), DNS Cookie validation
// (including BADCOOKIE), and delegating actual name resolution to
// Resolve. clientIP is used for cookie validation; it may be nil if
// cookies are disabled. maxUDPSize is the server's configured
// edns_udp_max, echoed back in this server's own OPT records; pass 0 to
// use the 4096 default.
func Respond(store *zonestore.Store, cookies *cookie.Manager, query *dnsmsg.Message, clientIP net.IP, maxUDPSize uint16) *dnsmsg.Message {
	if maxUDPSize == 0 {
		maxUDPSize = defaultEDNSUDPMax
	}
	resp := &dnsmsg.Message{
		Header: dnsmsg.Header{
			ID:     query.Header.ID,
			QR:     true,
			Opcode: query.Header.Opcode,
			RD:     query.Header.RD,
		},
	}

	if query.Header.Opcode != dnsmsg.OpcodeQuery {
		resp.Header.Rcode = dnsmsg.RCodeNotImplemented
		return resp
	}
	if len(query.Question) != 1 {
		resp.Header.Rcode = dnsmsg.RCodeFormatError
		return resp
	}
	resp.Question = query.Question

	opt, hasOPT := dnsmsg.FindOPT(query.Additional)
	var parsedOPT dnsmsg.OPTRecord
	udpSize := uint16(512)
	if hasOPT {
		parsedOPT = dnsmsg.ParseOPT(opt)
		udpSize = parsedOPT.UDPSize
		if udpSize < 512 {
			udpSize = 512
		}

		if parsedOPT.Version > ednsVersionSupported {
			respOPT := dnsmsg.BuildOPT(dnsmsg.OPTRecord{UDPSize: maxUDPSize, ExtendedRcode: uint8(dnsmsg.RCodeBadVers >> 4), DO: parsedOPT.DO})
			resp.Header.Rcode = dnsmsg.RCodeBadVers & 0x0F
			resp.Additional = []dnsmsg.ResourceRecord{respOPT}
			return resp
		}

		if cookies != nil && cookies.Enabled() && len(parsedOPT.Cookie) > 0 {
			verdict, serverCookie := cookies.Validate(parsedOPT.Cookie, clientIP)
			if verdict == cookie.Invalid && cookies.RequireValid() {
				respOPT := dnsmsg.BuildOPT(dnsmsg.OPTRecord{
					UDPSize: maxUDPSize, ExtendedRcode: uint8(dnsmsg.RCodeBadCookie >> 4), DO: parsedOPT.DO,
					Cookie: append(parsedOPT.Cookie[:cookie.ClientCookieSize:cookie.ClientCookieSize], serverCookie...),
				})
				resp.Header.Rcode = dnsmsg.RCodeBadCookie & 0x0F
				resp.Additional = []dnsmsg.ResourceRecord{respOPT}
				return resp
			}
		}
	}

	q := query.Question[0]
	result := Resolve(store, q)

	resp.Header.Rcode = result.Rcode
	resp.Header.AA = result.Authoritative
	resp.Answer = result.Answer
	resp.Authority = result.Authority
	resp.Additional = result.Additional

	if hasOPT {
		cookieBytes := parsedOPT.Cookie
		var respCookie []byte
		if cookies != nil && cookies.Enabled() && len(cookieBytes) >= 8 {
			_, respCookie = cookies.Validate(cookieBytes, clientIP)
		}
		respOPT := dnsmsg.BuildOPT(dnsmsg.OPTRecord{UDPSize: maxUDPSize, DO: parsedOPT.DO, Cookie: respCookie})
		resp.Additional = append(resp.Additional, respOPT)
	}

	return resp
}

// MaxUDPPayload returns the UDP payload size a query's EDNS0 OPT record
// advertised, or 512 (the pre-EDNS0 default) if none was present.
func MaxUDPPayload(query *dnsmsg.Message) int {
	opt, ok := dnsmsg.FindOPT(query.Additional)
	if !ok {
		return 512
	}
	parsed := dnsmsg.ParseOPT(opt)
	if parsed.UDPSize < 512 {
		return 512
	}
	return int(parsed.UDPSize)
}
