package dnsmsg

// Header is the 12-byte DNS message header (RFC 1035 §4.1.1).
type Header struct {
	ID      uint16
	QR      bool // query (false) or response (true)
	Opcode  Opcode
	AA      bool // authoritative answer
	TC      bool // truncated
	RD      bool // recursion desired
	RA      bool // recursion available
	Z       bool // reserved, must be zero on transmit
	AD      bool // authentic data
	CD      bool // checking disabled
	Rcode   RCode
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// Question is a single question-section entry.
type Question struct {
	Name  Name
	Type  RRType
	Class Class
}

// ResourceRecord is (name, type, class, ttl, rdata). RData is stored in
// canonical wire form: embedded names are uncompressed, never containing
// pointers, regardless of how the record was received.
type ResourceRecord struct {
	Name  Name
	Type  RRType
	Class Class
	TTL   uint32
	RData []byte
}

// Message is a full parsed/to-be-built DNS message.
type Message struct {
	Header     Header
	Question   []Question
	Answer     []ResourceRecord
	Authority  []ResourceRecord
	Additional []ResourceRecord
}

// Reset clears a Message for reuse from a pool, keeping slice capacity.
func (m *Message) Reset() {
	m.Header = Header{}
	m.Question = m.Question[:0]
	m.Answer = m.Answer[:0]
	m.Authority = m.Authority[:0]
	m.Additional = m.Additional[:0]
}

// OPTRecord describes the fields carried by an EDNS0 OPT pseudo-record
// (RFC 6891), decoded from/encoded into a ResourceRecord with Type TypeOPT.
type OPTRecord struct {
	UDPSize      uint16 // requestor's (or server's) advertised UDP payload size
	ExtendedRcode uint8  // upper 8 bits of the 12-bit extended RCODE
	Version      uint8
	DO           bool // DNSSEC OK bit
	Cookie       []byte
}

// BuildOPT encodes an OPTRecord into a ResourceRecord suitable for the
// additional section. The owner name of an OPT record is always root.
func BuildOPT(o OPTRecord) ResourceRecord {
	ttl := uint32(o.ExtendedRcode)<<24 | uint32(o.Version)<<16
	if o.DO {
		ttl |= 1 << 15
	}
	var rdata []byte
	if len(o.Cookie) > 0 {
		rdata = make([]byte, 4+len(o.Cookie))
		rdata[0] = 0x00
		rdata[1] = 0x0a // EDNS0 option code 10: COOKIE
		optLen := len(o.Cookie)
		rdata[2] = byte(optLen >> 8)
		rdata[3] = byte(optLen)
		copy(rdata[4:], o.Cookie)
	}
	return ResourceRecord{
		Name:  Root,
		Type:  TypeOPT,
		Class: Class(o.UDPSize),
		TTL:   ttl,
		RData: rdata,
	}
}

// ParseOPT decodes an OPT ResourceRecord's fields, including a COOKIE
// option if present in its options list.
func ParseOPT(rr ResourceRecord) OPTRecord {
	o := OPTRecord{
		UDPSize:       uint16(rr.Class),
		ExtendedRcode: uint8(rr.TTL >> 24),
		Version:       uint8(rr.TTL >> 16),
		DO:            rr.TTL&(1<<15) != 0,
	}
	data := rr.RData
	for len(data) >= 4 {
		code := uint16(data[0])<<8 | uint16(data[1])
		length := int(uint16(data[2])<<8 | uint16(data[3]))
		if 4+length > len(data) {
			break
		}
		if code == 10 { // COOKIE
			o.Cookie = append([]byte(nil), data[4:4+length]...)
		}
		data = data[4+length:]
	}
	return o
}

// FindOPT returns the OPT record in a section, if any.
func FindOPT(additional []ResourceRecord) (ResourceRecord, bool) {
	for _, rr := range additional {
		if rr.Type == TypeOPT {
			return rr, true
		}
	}
	return ResourceRecord{}, false
}
