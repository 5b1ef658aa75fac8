package dnsmsg

import (
	"encoding/binary"
	"errors"
	"strings"
)

// maxPointerOffset is the largest offset a 14-bit compression pointer can
// address; names first emitted beyond this are never pointer-eligible
// targets for later names.
const maxPointerOffset = 0x3FFF

// ErrBufferTooSmall is returned when Build is given a fixed buffer smaller
// than the minimum header size.
var ErrBufferTooSmall = errors.New("dnsmsg: buffer smaller than header")

// Builder serializes a Message into wire format, compressing domain names
// by reusing the earliest occurrence of any name suffix already written to
// the buffer.
type Builder struct {
	buf    []byte
	names  map[string]int // lowercased dotted name -> offset of its first occurrence
	maxLen int
}

// NewBuilder creates a Builder. maxLen is the hard ceiling on the produced
// message (the UDP payload size for UDP responses, or 65535 for TCP/TLS/
// HTTPS framing); Build truncates the answer before exceeding it.
func NewBuilder(maxLen int) *Builder {
	return &Builder{
		buf:    make([]byte, headerSize, 512),
		names:  make(map[string]int),
		maxLen: maxLen,
	}
}

// Build serializes m into wire bytes, applying the standard truncation
// cascade when the message would exceed the builder's maxLen: first the
// additional section is dropped, then the authority section (except that
// an SOA record is kept for negative responses), and finally — if the
// question plus answer section alone still doesn't fit — the TC bit is set
// and the answer section is emptied. TC is never set for a Builder whose
// maxLen is large enough to hold the whole message (i.e. non-UDP use).
func (b *Builder) Build(m *Message) ([]byte, error) {
	full, err := b.render(m.Header, m.Question, m.Answer, m.Authority, m.Additional)
	if err == nil && len(full) <= b.maxLen {
		return full, nil
	}

	b.reset()
	noAdditional, err := b.render(m.Header, m.Question, m.Answer, m.Authority, nil)
	if err == nil && len(noAdditional) <= b.maxLen {
		return noAdditional, nil
	}

	soaOnly := keepSOA(m.Authority)
	b.reset()
	noAuthority, err := b.render(m.Header, m.Question, m.Answer, soaOnly, nil)
	if err == nil && len(noAuthority) <= b.maxLen {
		return noAuthority, nil
	}

	hdr := m.Header
	hdr.TC = true
	hdr.ANCount = 0
	hdr.NSCount = uint16(len(soaOnly))
	hdr.ARCount = 0
	b.reset()
	truncated, err := b.render(hdr, m.Question, nil, soaOnly, nil)
	if err != nil || len(truncated) > b.maxLen {
		// Even the question (with any kept SOA) doesn't fit: give up and
		// return a header-only, TC-set message with no question section.
		hdr.QDCount = 0
		hdr.NSCount = 0
		b.reset()
		truncated, err = b.render(hdr, nil, nil, nil, nil)
		if err != nil {
			return nil, err
		}
	}
	return truncated, nil
}

func keepSOA(authority []ResourceRecord) []ResourceRecord {
	for _, rr := range authority {
		if rr.Type == TypeSOA {
			return []ResourceRecord{rr}
		}
	}
	return nil
}

func (b *Builder) reset() {
	b.buf = b.buf[:headerSize]
	for k := range b.names {
		delete(b.names, k)
	}
}

func (b *Builder) render(h Header, questions []Question, answer, authority, additional []ResourceRecord) ([]byte, error) {
	if cap(b.buf) < headerSize {
		return nil, ErrBufferTooSmall
	}

	h.QDCount = uint16(len(questions))
	h.ANCount = uint16(len(answer))
	h.NSCount = uint16(len(authority))
	h.ARCount = uint16(len(additional))
	b.writeHeader(h)

	for _, q := range questions {
		b.writeName(q.Name)
		b.writeUint16(uint16(q.Type))
		b.writeUint16(uint16(q.Class))
	}
	for _, rr := range answer {
		b.writeRR(rr)
	}
	for _, rr := range authority {
		b.writeRR(rr)
	}
	for _, rr := range additional {
		b.writeRR(rr)
	}

	return b.buf, nil
}

func (b *Builder) writeHeader(h Header) {
	binary.BigEndian.PutUint16(b.buf[0:2], h.ID)

	var flags uint16
	if h.QR {
		flags |= 0x8000
	}
	flags |= uint16(h.Opcode&0x0F) << 11
	if h.AA {
		flags |= 0x0400
	}
	if h.TC {
		flags |= 0x0200
	}
	if h.RD {
		flags |= 0x0100
	}
	if h.RA {
		flags |= 0x0080
	}
	if h.Z {
		flags |= 0x0040
	}
	if h.AD {
		flags |= 0x0020
	}
	if h.CD {
		flags |= 0x0010
	}
	flags |= uint16(h.Rcode & 0x0F)
	binary.BigEndian.PutUint16(b.buf[2:4], flags)

	binary.BigEndian.PutUint16(b.buf[4:6], h.QDCount)
	binary.BigEndian.PutUint16(b.buf[6:8], h.ANCount)
	binary.BigEndian.PutUint16(b.buf[8:10], h.NSCount)
	binary.BigEndian.PutUint16(b.buf[10:12], h.ARCount)
}

func (b *Builder) writeUint16(v uint16) {
	b.buf = append(b.buf, byte(v>>8), byte(v))
}

func (b *Builder) writeUint32(v uint32) {
	b.buf = append(b.buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func (b *Builder) writeRR(rr ResourceRecord) {
	b.writeName(rr.Name)
	b.writeUint16(uint16(rr.Type))
	b.writeUint16(uint16(rr.Class))
	b.writeUint32(rr.TTL)

	rdlenOffset := len(b.buf)
	b.buf = append(b.buf, 0, 0) // placeholder, patched below
	rdataStart := len(b.buf)

	b.writeRData(rr)

	rdlen := len(b.buf) - rdataStart
	b.buf[rdlenOffset] = byte(rdlen >> 8)
	b.buf[rdlenOffset+1] = byte(rdlen)
}

// writeRData emits RDATA, applying name compression to the embedded names
// of record types known to carry one (NS/CNAME/PTR/MX/SOA/SRV); every other
// type's RDATA, including OPT, is copied verbatim since it was already
// assembled in final wire form by the caller (e.g. BuildOPT).
func (b *Builder) writeRData(rr ResourceRecord) {
	switch rr.Type {
	case TypeNS, TypeCNAME, TypePTR:
		if name, err := nameFromWire(rr.RData); err == nil {
			b.writeName(name)
			return
		}
	case TypeMX:
		if len(rr.RData) >= 2 {
			if name, err := nameFromWire(rr.RData[2:]); err == nil {
				b.buf = append(b.buf, rr.RData[0:2]...)
				b.writeName(name)
				return
			}
		}
	case TypeSOA:
		if mname, rest, err := consumeName(rr.RData); err == nil {
			if rname, tail, err := consumeName(rest); err == nil && len(tail) == 20 {
				b.writeName(mname)
				b.writeName(rname)
				b.buf = append(b.buf, tail...)
				return
			}
		}
	case TypeSRV:
		if len(rr.RData) >= 6 {
			if name, err := nameFromWire(rr.RData[6:]); err == nil {
				b.buf = append(b.buf, rr.RData[0:6]...)
				b.writeName(name)
				return
			}
		}
	}
	b.buf = append(b.buf, rr.RData...)
}

// writeName emits a name, compressing against any previously written name
// (or name suffix) whose offset is still within pointer range. Matching is
// case-insensitive per the comparison rule used throughout this package.
func (b *Builder) writeName(n Name) {
	if n.n <= 1 {
		b.buf = append(b.buf, 0)
		return
	}

	labels := n.labels()
	suffixKey := func(from int) string {
		var sb strings.Builder
		for i := from; i < len(labels); i++ {
			sb.WriteString(strings.ToLower(string(labels[i])))
			sb.WriteByte('.')
		}
		return sb.String()
	}

	for i := 0; i < len(labels); i++ {
		key := suffixKey(i)
		if off, ok := b.names[key]; ok {
			for j := 0; j < i; j++ {
				b.recordOffset(suffixKey(j), labels[j:])
				b.buf = append(b.buf, byte(len(labels[j])))
				b.buf = append(b.buf, labels[j]...)
			}
			b.buf = append(b.buf, byte(0xC0|(off>>8)), byte(off))
			return
		}
	}

	// No suffix matched anywhere in the message: write all labels literally,
	// recording each suffix's starting offset for future compression.
	for i := 0; i < len(labels); i++ {
		b.recordOffset(suffixKey(i), labels[i:])
		b.buf = append(b.buf, byte(len(labels[i])))
		b.buf = append(b.buf, labels[i]...)
	}
	b.buf = append(b.buf, 0)
}

func (b *Builder) recordOffset(key string, _ [][]byte) {
	if _, exists := b.names[key]; exists {
		return
	}
	off := len(b.buf)
	if off > maxPointerOffset {
		return
	}
	b.names[key] = off
}
