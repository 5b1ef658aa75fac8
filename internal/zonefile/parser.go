// Package zonefile parses RFC 1035 §5 master files into a zone.Zone.
// Parsing is positional (name, ttl, class, type, rdata, in that column
// order once defaults are filled in) rather than trial-and-error, per the
// grammar RFC 1035 actually specifies.
package zonefile

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/dnsauth/dnsauthd/internal/dnsmsg"
	"github.com/dnsauth/dnsauthd/internal/zone"
)

// Config controls parsing defaults and limits.
type Config struct {
	DefaultTTL uint32
	// Strict rejects the whole zone on any record error instead of
	// skipping the offending line and continuing.
	Strict bool
}

// DefaultConfig returns the parser's default settings.
func DefaultConfig() Config {
	return Config{DefaultTTL: 3600, Strict: false}
}

// ParseError reports a line-level failure.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("zonefile: line %d: %s: %v", e.Line, e.Text, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// state carries the directives and defaults that accumulate while
// scanning a master file: $ORIGIN, $TTL, and the "last owner name" used
// for lines that omit it.
type state struct {
	origin     dnsmsg.Name
	defaultTTL uint32
	lastOwner  dnsmsg.Name
	haveOwner  bool
	lastTTL    uint32
	haveTTL    bool
}

// Parse reads a master file from r for the zone rooted at originStr and
// returns the assembled Zone.
func Parse(r io.Reader, originStr string, cfg Config) (*zone.Zone, error) {
	origin, err := dnsmsg.ParseName(originStr)
	if err != nil {
		return nil, fmt.Errorf("zonefile: invalid origin %q: %w", originStr, err)
	}

	st := &state{origin: origin, defaultTTL: cfg.DefaultTTL}
	z := zone.New(origin)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	parenDepth := 0
	var logical strings.Builder
	logicalLineNo := 0
	logicalIndented := false

	flushLogical := func() error {
		line := strings.TrimSpace(logical.String())
		logical.Reset()
		if line == "" {
			return nil
		}
		return processLine(line, logicalIndented, logicalLineNo, st, z, cfg)
	}

	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		line := stripComment(raw)

		if parenDepth == 0 {
			logicalLineNo = lineNo
			logicalIndented = isLeadingWhitespaceContinuation(line)
		}

		opens := strings.Count(line, "(")
		closes := strings.Count(line, ")")
		parenDepth += opens - closes
		if parenDepth < 0 {
			return nil, &ParseError{lineNo, raw, fmt.Errorf("unbalanced parentheses")}
		}
		line = strings.ReplaceAll(line, "(", " ")
		line = strings.ReplaceAll(line, ")", " ")

		logical.WriteByte(' ')
		logical.WriteString(line)

		if parenDepth == 0 {
			if err := flushLogical(); err != nil {
				return nil, &ParseError{logicalLineNo, raw, err}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("zonefile: scan: %w", err)
	}
	if parenDepth != 0 {
		return nil, fmt.Errorf("zonefile: unterminated parenthesized record")
	}
	return z, nil
}

// processLine handles one logical record line (already merged across any
// parenthesized continuation and stripped of comments).
func processLine(line string, indented bool, lineNo int, st *state, z *zone.Zone, cfg Config) error {
	if strings.HasPrefix(line, "$ORIGIN") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return fmt.Errorf("$ORIGIN requires an argument")
		}
		name, err := resolveName(fields[1], st.origin)
		if err != nil {
			return err
		}
		st.origin = name
		return nil
	}
	if strings.HasPrefix(line, "$TTL") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return fmt.Errorf("$TTL requires an argument")
		}
		ttl, err := parseTTL(fields[1])
		if err != nil {
			return err
		}
		st.defaultTTL = ttl
		return nil
	}

	rr, err := parseRecordLine(line, indented, st)
	if err != nil {
		if cfg.Strict {
			return err
		}
		return nil
	}
	z.AddRecord(rr)
	return nil
}

// stripComment removes an unquoted trailing ";" comment.
func stripComment(line string) string {
	inQuotes := false
	for i, c := range line {
		switch c {
		case '"':
			inQuotes = !inQuotes
		case ';':
			if !inQuotes {
				return line[:i]
			}
		}
	}
	return line
}

// parseRecordLine decodes one resource-record line using RFC 1035's
// positional column grammar:
//
//	[name] [ttl] [class] type rdata...
//
// name, ttl, and class are each optional and, when omitted, inherit from
// the previous record (name, ttl) or default to IN (class). Column
// identity is determined positionally: a token is a TTL iff it's all
// digits (with optional trailing scale suffix), a class iff it matches
// a known class mnemonic, and otherwise belongs to name or type as its
// position dictates.
func parseRecordLine(line string, indented bool, st *state) (dnsmsg.ResourceRecord, error) {
	fields := splitFields(line)
	if len(fields) == 0 {
		return dnsmsg.ResourceRecord{}, fmt.Errorf("empty record line")
	}

	idx := 0
	var owner dnsmsg.Name
	if indented {
		if !st.haveOwner {
			return dnsmsg.ResourceRecord{}, fmt.Errorf("record has no preceding owner name")
		}
		owner = st.lastOwner
	} else {
		name, err := resolveName(fields[0], st.origin)
		if err != nil {
			return dnsmsg.ResourceRecord{}, fmt.Errorf("owner name: %w", err)
		}
		owner = name
		idx++
	}

	ttl := st.defaultTTL
	if st.haveTTL {
		ttl = st.lastTTL
	}
	class := dnsmsg.ClassIN

	// Consume up to two more positional tokens (TTL and/or class) before
	// the type mnemonic, in either order, per RFC 1035 §5.1.
	for i := 0; i < 2 && idx < len(fields); i++ {
		tok := fields[idx]
		if t, err := parseTTL(tok); err == nil && isDigitLed(tok) {
			ttl = t
			st.lastTTL = t
			st.haveTTL = true
			idx++
			continue
		}
		if c, ok := classMnemonic(tok); ok {
			class = c
			idx++
			continue
		}
		break
	}

	if idx >= len(fields) {
		return dnsmsg.ResourceRecord{}, fmt.Errorf("missing record type")
	}
	typeTok := strings.ToUpper(fields[idx])
	idx++

	rdata := fields[idx:]
	rrtype, ok := typeMnemonic(typeTok)
	if !ok {
		return dnsmsg.ResourceRecord{}, fmt.Errorf("unknown record type %q", typeTok)
	}

	rr, err := buildRecord(owner, ttl, rrtype, rdata, st.origin)
	if err != nil {
		return dnsmsg.ResourceRecord{}, fmt.Errorf("%s record: %w", typeTok, err)
	}
	rr.Class = class

	st.lastOwner = owner
	st.haveOwner = true
	return rr, nil
}

// isLeadingWhitespaceContinuation reports whether line began with
// whitespace before Fields-splitting removed it, meaning the owner column
// was left blank and should repeat the previous record's owner.
func isLeadingWhitespaceContinuation(line string) bool {
	return len(line) > 0 && (line[0] == ' ' || line[0] == '\t')
}

// splitFields tokenizes a record line, keeping double-quoted strings
// (TXT rdata) intact as single fields without their quotes.
func splitFields(line string) []string {
	var out []string
	var cur strings.Builder
	inQuotes := false
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"':
			inQuotes = !inQuotes
		case !inQuotes && (c == ' ' || c == '\t'):
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return out
}

func resolveName(tok string, origin dnsmsg.Name) (dnsmsg.Name, error) {
	if tok == "@" {
		return origin, nil
	}
	if strings.HasSuffix(tok, ".") {
		return dnsmsg.ParseName(tok)
	}
	combined := tok + "." + strings.TrimSuffix(origin.String(), ".")
	return dnsmsg.ParseName(combined)
}

func isDigitLed(tok string) bool {
	return len(tok) > 0 && tok[0] >= '0' && tok[0] <= '9'
}

// parseTTL parses a bare integer or a suffixed duration like "1h30m",
// "2d", "1w" (s/m/h/d/w, additive, as BIND master files allow).
func parseTTL(tok string) (uint32, error) {
	if tok == "" {
		return 0, fmt.Errorf("empty TTL")
	}
	if n, err := strconv.ParseUint(tok, 10, 32); err == nil {
		return uint32(n), nil
	}

	var total uint64
	var num uint64
	hasDigits := false
	for _, c := range tok {
		switch {
		case c >= '0' && c <= '9':
			num = num*10 + uint64(c-'0')
			hasDigits = true
		case c == 's' || c == 'S':
			total += num
			num = 0
			hasDigits = false
		case c == 'm' || c == 'M':
			total += num * 60
			num = 0
			hasDigits = false
		case c == 'h' || c == 'H':
			total += num * 3600
			num = 0
			hasDigits = false
		case c == 'd' || c == 'D':
			total += num * 86400
			num = 0
			hasDigits = false
		case c == 'w' || c == 'W':
			total += num * 604800
			num = 0
			hasDigits = false
		default:
			return 0, fmt.Errorf("invalid TTL token %q", tok)
		}
	}
	if hasDigits {
		return 0, fmt.Errorf("invalid TTL token %q: trailing digits without unit", tok)
	}
	if total > 0xFFFFFFFF {
		return 0, fmt.Errorf("TTL %q overflows 32 bits", tok)
	}
	return uint32(total), nil
}

func classMnemonic(tok string) (dnsmsg.Class, bool) {
	switch strings.ToUpper(tok) {
	case "IN":
		return dnsmsg.ClassIN, true
	case "CH":
		return dnsmsg.ClassCH, true
	case "HS":
		return dnsmsg.ClassHS, true
	}
	return 0, false
}

func typeMnemonic(tok string) (dnsmsg.RRType, bool) {
	switch tok {
	case "A":
		return dnsmsg.TypeA, true
	case "AAAA":
		return dnsmsg.TypeAAAA, true
	case "NS":
		return dnsmsg.TypeNS, true
	case "CNAME":
		return dnsmsg.TypeCNAME, true
	case "SOA":
		return dnsmsg.TypeSOA, true
	case "PTR":
		return dnsmsg.TypePTR, true
	case "MX":
		return dnsmsg.TypeMX, true
	case "TXT":
		return dnsmsg.TypeTXT, true
	case "SRV":
		return dnsmsg.TypeSRV, true
	case "CAA":
		return dnsmsg.TypeCAA, true
	case "DNSKEY":
		return dnsmsg.TypeDNSKEY, true
	case "DS":
		return dnsmsg.TypeDS, true
	case "RRSIG":
		return dnsmsg.TypeRRSIG, true
	case "NSEC":
		return dnsmsg.TypeNSEC, true
	case "NSEC3":
		return dnsmsg.TypeNSEC3, true
	case "NSEC3PARAM":
		return dnsmsg.TypeNSEC3PARAM, true
	case "OPT":
		return dnsmsg.TypeOPT, true
	}
	return genericTypeMnemonic(tok)
}

// genericTypeMnemonic decodes RFC 3597 "TYPEnnn" generic type syntax, used
// for record types this parser has no mnemonic for at all.
func genericTypeMnemonic(tok string) (dnsmsg.RRType, bool) {
	if !strings.HasPrefix(tok, "TYPE") || len(tok) == len("TYPE") {
		return 0, false
	}
	n, err := strconv.ParseUint(tok[len("TYPE"):], 10, 16)
	if err != nil {
		return 0, false
	}
	return dnsmsg.RRType(n), true
}

func buildRecord(owner dnsmsg.Name, ttl uint32, rrtype dnsmsg.RRType, rdata []string, origin dnsmsg.Name) (dnsmsg.ResourceRecord, error) {
	switch rrtype {
	case dnsmsg.TypeA:
		if len(rdata) != 1 {
			return dnsmsg.ResourceRecord{}, fmt.Errorf("A requires 1 field, got %d", len(rdata))
		}
		ip := net.ParseIP(rdata[0]).To4()
		if ip == nil {
			return dnsmsg.ResourceRecord{}, fmt.Errorf("invalid IPv4 address %q", rdata[0])
		}
		return dnsmsg.BuildA(owner, ttl, ip)
	case dnsmsg.TypeAAAA:
		if len(rdata) != 1 {
			return dnsmsg.ResourceRecord{}, fmt.Errorf("AAAA requires 1 field, got %d", len(rdata))
		}
		ip := net.ParseIP(rdata[0])
		if ip == nil || ip.To4() != nil {
			return dnsmsg.ResourceRecord{}, fmt.Errorf("invalid IPv6 address %q", rdata[0])
		}
		return dnsmsg.BuildAAAA(owner, ttl, ip)
	case dnsmsg.TypeNS:
		if len(rdata) != 1 {
			return dnsmsg.ResourceRecord{}, fmt.Errorf("NS requires 1 field, got %d", len(rdata))
		}
		target, err := resolveName(rdata[0], origin)
		if err != nil {
			return dnsmsg.ResourceRecord{}, err
		}
		return dnsmsg.BuildNS(owner, ttl, target), nil
	case dnsmsg.TypeCNAME:
		if len(rdata) != 1 {
			return dnsmsg.ResourceRecord{}, fmt.Errorf("CNAME requires 1 field, got %d", len(rdata))
		}
		target, err := resolveName(rdata[0], origin)
		if err != nil {
			return dnsmsg.ResourceRecord{}, err
		}
		return dnsmsg.BuildCNAME(owner, ttl, target), nil
	case dnsmsg.TypePTR:
		if len(rdata) != 1 {
			return dnsmsg.ResourceRecord{}, fmt.Errorf("PTR requires 1 field, got %d", len(rdata))
		}
		target, err := resolveName(rdata[0], origin)
		if err != nil {
			return dnsmsg.ResourceRecord{}, err
		}
		return dnsmsg.BuildPTR(owner, ttl, target), nil
	case dnsmsg.TypeMX:
		if len(rdata) != 2 {
			return dnsmsg.ResourceRecord{}, fmt.Errorf("MX requires 2 fields, got %d", len(rdata))
		}
		pref, err := strconv.ParseUint(rdata[0], 10, 16)
		if err != nil {
			return dnsmsg.ResourceRecord{}, fmt.Errorf("invalid MX preference %q", rdata[0])
		}
		exchange, err := resolveName(rdata[1], origin)
		if err != nil {
			return dnsmsg.ResourceRecord{}, err
		}
		return dnsmsg.BuildMX(owner, ttl, uint16(pref), exchange), nil
	case dnsmsg.TypeTXT:
		if len(rdata) == 0 {
			return dnsmsg.ResourceRecord{}, fmt.Errorf("TXT requires at least 1 field")
		}
		return dnsmsg.BuildTXT(owner, ttl, rdata...)
	case dnsmsg.TypeSRV:
		if len(rdata) != 4 {
			return dnsmsg.ResourceRecord{}, fmt.Errorf("SRV requires 4 fields, got %d", len(rdata))
		}
		prio, err := strconv.ParseUint(rdata[0], 10, 16)
		if err != nil {
			return dnsmsg.ResourceRecord{}, fmt.Errorf("invalid SRV priority %q", rdata[0])
		}
		weight, err := strconv.ParseUint(rdata[1], 10, 16)
		if err != nil {
			return dnsmsg.ResourceRecord{}, fmt.Errorf("invalid SRV weight %q", rdata[1])
		}
		port, err := strconv.ParseUint(rdata[2], 10, 16)
		if err != nil {
			return dnsmsg.ResourceRecord{}, fmt.Errorf("invalid SRV port %q", rdata[2])
		}
		target, err := resolveName(rdata[3], origin)
		if err != nil {
			return dnsmsg.ResourceRecord{}, err
		}
		return dnsmsg.BuildSRV(owner, ttl, dnsmsg.SRVData{
			Priority: uint16(prio), Weight: uint16(weight), Port: uint16(port), Target: target,
		}), nil
	case dnsmsg.TypeCAA:
		if len(rdata) != 3 {
			return dnsmsg.ResourceRecord{}, fmt.Errorf("CAA requires 3 fields, got %d", len(rdata))
		}
		flag, err := strconv.ParseUint(rdata[0], 10, 8)
		if err != nil {
			return dnsmsg.ResourceRecord{}, fmt.Errorf("invalid CAA flag %q", rdata[0])
		}
		return dnsmsg.BuildCAA(owner, ttl, dnsmsg.CAAData{Flag: uint8(flag), Tag: rdata[1], Value: rdata[2]}), nil
	case dnsmsg.TypeSOA:
		if len(rdata) != 7 {
			return dnsmsg.ResourceRecord{}, fmt.Errorf("SOA requires 7 fields, got %d", len(rdata))
		}
		mname, err := resolveName(rdata[0], origin)
		if err != nil {
			return dnsmsg.ResourceRecord{}, err
		}
		rname, err := resolveName(rdata[1], origin)
		if err != nil {
			return dnsmsg.ResourceRecord{}, err
		}
		serial, err := strconv.ParseUint(rdata[2], 10, 32)
		if err != nil {
			return dnsmsg.ResourceRecord{}, fmt.Errorf("invalid SOA serial %q", rdata[2])
		}
		refresh, err := parseTTL(rdata[3])
		if err != nil {
			return dnsmsg.ResourceRecord{}, fmt.Errorf("invalid SOA refresh: %w", err)
		}
		retry, err := parseTTL(rdata[4])
		if err != nil {
			return dnsmsg.ResourceRecord{}, fmt.Errorf("invalid SOA retry: %w", err)
		}
		expire, err := parseTTL(rdata[5])
		if err != nil {
			return dnsmsg.ResourceRecord{}, fmt.Errorf("invalid SOA expire: %w", err)
		}
		minimum, err := parseTTL(rdata[6])
		if err != nil {
			return dnsmsg.ResourceRecord{}, fmt.Errorf("invalid SOA minimum: %w", err)
		}
		return dnsmsg.BuildSOA(owner, ttl, dnsmsg.SOAData{
			MName: mname, RName: rname, Serial: uint32(serial),
			Refresh: refresh, Retry: retry, Expire: expire, Minimum: minimum,
		}), nil
	case dnsmsg.TypeDNSKEY, dnsmsg.TypeDS, dnsmsg.TypeRRSIG, dnsmsg.TypeNSEC,
		dnsmsg.TypeNSEC3, dnsmsg.TypeNSEC3PARAM, dnsmsg.TypeOPT:
		return buildOpaqueRecord(owner, ttl, rrtype, rdata), nil
	}
	// Any other recognized-but-unstructured type (including RFC 3597
	// TYPEnnn generic syntax) is carried verbatim per spec: the RDATA is
	// opaque to this parser, not resolved or reserialized.
	return buildOpaqueRecord(owner, ttl, rrtype, rdata), nil
}

// buildOpaqueRecord stores rdata verbatim as the record's RDATA, used for
// the DNSSEC record types (carried opaquely by design) and any type this
// parser has no structural decoder for.
func buildOpaqueRecord(owner dnsmsg.Name, ttl uint32, rrtype dnsmsg.RRType, rdata []string) dnsmsg.ResourceRecord {
	return dnsmsg.ResourceRecord{
		Name:  owner,
		Type:  rrtype,
		Class: dnsmsg.ClassIN,
		TTL:   ttl,
		RData: []byte(strings.Join(rdata, " ")),
	}
}
