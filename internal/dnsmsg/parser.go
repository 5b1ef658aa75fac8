package dnsmsg

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	headerSize = 12

	// maxPointerChases bounds the number of compression-pointer hops
	// followed while decoding a single name, independent of the
	// visited-offset loop guard below — belt and suspenders against
	// CVE-2024-8508-style decompression bombs.
	maxPointerChases = 128

	maxRRsPerSection = 4096
)

var (
	ErrMessageTooShort    = errors.New("dnsmsg: message shorter than header")
	ErrInvalidPointer     = errors.New("dnsmsg: compression pointer out of range or non-backward")
	ErrCompressionLoop    = errors.New("dnsmsg: compression pointer loop or chain too long")
	ErrTruncatedName      = errors.New("dnsmsg: name runs past end of message")
	ErrTooManyRecords     = errors.New("dnsmsg: section record count exceeds limit")
	ErrTruncatedRR        = errors.New("dnsmsg: resource record runs past end of message")
)

// Parser decodes a single DNS message from a byte buffer, following
// compression pointers and reparsing RDATA of name-bearing record types so
// that Name values returned to the caller never retain pointer bytes.
type Parser struct {
	msg    []byte
	offset int
}

// NewParser creates a Parser over msg. msg is retained (not copied) for the
// duration of parsing, though ResourceRecord.RData is always copied out.
func NewParser(msg []byte) *Parser {
	return &Parser{msg: msg}
}

// Parse decodes the full message: header, question, and the three RR
// sections, in order.
func (p *Parser) Parse() (*Message, error) {
	m := &Message{}
	if err := p.ParseInto(m); err != nil {
		return nil, err
	}
	return m, nil
}

// ParseInto decodes into an existing Message, the same way Parse does,
// but without allocating the Message itself — callers on a hot path (a
// pooled Message from msgpool) can reuse one across many parses instead
// of allocating a fresh *Message per query.
func (p *Parser) ParseInto(m *Message) error {
	if len(p.msg) < headerSize {
		return ErrMessageTooShort
	}

	if err := p.parseHeader(&m.Header); err != nil {
		return err
	}

	m.Question = make([]Question, 0, m.Header.QDCount)
	for i := 0; i < int(m.Header.QDCount); i++ {
		q, err := p.parseQuestion()
		if err != nil {
			return fmt.Errorf("question %d: %w", i, err)
		}
		m.Question = append(m.Question, q)
	}

	var err error
	if m.Answer, err = p.parseSection(int(m.Header.ANCount)); err != nil {
		return fmt.Errorf("answer section: %w", err)
	}
	if m.Authority, err = p.parseSection(int(m.Header.NSCount)); err != nil {
		return fmt.Errorf("authority section: %w", err)
	}
	if m.Additional, err = p.parseSection(int(m.Header.ARCount)); err != nil {
		return fmt.Errorf("additional section: %w", err)
	}

	return nil
}

func (p *Parser) parseHeader(h *Header) error {
	msg := p.msg
	h.ID = binary.BigEndian.Uint16(msg[0:2])

	flags := binary.BigEndian.Uint16(msg[2:4])
	h.QR = flags&0x8000 != 0
	h.Opcode = Opcode((flags >> 11) & 0x0F)
	h.AA = flags&0x0400 != 0
	h.TC = flags&0x0200 != 0
	h.RD = flags&0x0100 != 0
	h.RA = flags&0x0080 != 0
	h.Z = flags&0x0040 != 0
	h.AD = flags&0x0020 != 0
	h.CD = flags&0x0010 != 0
	h.Rcode = RCode(flags & 0x0F)

	h.QDCount = binary.BigEndian.Uint16(msg[4:6])
	h.ANCount = binary.BigEndian.Uint16(msg[6:8])
	h.NSCount = binary.BigEndian.Uint16(msg[8:10])
	h.ARCount = binary.BigEndian.Uint16(msg[10:12])

	p.offset = headerSize
	return nil
}

func (p *Parser) parseQuestion() (Question, error) {
	var q Question
	name, err := p.parseName()
	if err != nil {
		return q, err
	}
	q.Name = name

	if p.offset+4 > len(p.msg) {
		return q, ErrMessageTooShort
	}
	q.Type = RRType(binary.BigEndian.Uint16(p.msg[p.offset : p.offset+2]))
	q.Class = Class(binary.BigEndian.Uint16(p.msg[p.offset+2 : p.offset+4]))
	p.offset += 4
	return q, nil
}

func (p *Parser) parseSection(count int) ([]ResourceRecord, error) {
	if count > maxRRsPerSection {
		return nil, ErrTooManyRecords
	}
	rrs := make([]ResourceRecord, 0, count)
	for i := 0; i < count; i++ {
		rr, err := p.parseRR()
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		rrs = append(rrs, rr)
	}
	return rrs, nil
}

func (p *Parser) parseRR() (ResourceRecord, error) {
	var rr ResourceRecord
	name, err := p.parseName()
	if err != nil {
		return rr, err
	}
	rr.Name = name

	if p.offset+10 > len(p.msg) {
		return rr, ErrTruncatedRR
	}
	rr.Type = RRType(binary.BigEndian.Uint16(p.msg[p.offset : p.offset+2]))
	rr.Class = Class(binary.BigEndian.Uint16(p.msg[p.offset+2 : p.offset+4]))
	rr.TTL = binary.BigEndian.Uint32(p.msg[p.offset+4 : p.offset+8])
	rdlen := int(binary.BigEndian.Uint16(p.msg[p.offset+8 : p.offset+10]))
	p.offset += 10

	if p.offset+rdlen > len(p.msg) {
		return rr, ErrTruncatedRR
	}
	rdataStart := p.offset
	rawRData := p.msg[rdataStart : rdataStart+rdlen]
	p.offset += rdlen

	// Reparse RDATA of name-bearing types so embedded names are stored
	// uncompressed within the record, per spec: names inside RDATA may
	// themselves use compression pointers back into the message.
	switch rr.Type {
	case TypeNS, TypeCNAME, TypePTR:
		name, _, err := p.parseNameAt(rdataStart)
		if err != nil {
			return rr, fmt.Errorf("rdata name: %w", err)
		}
		rr.RData = append([]byte(nil), name.Wire()...)
	case TypeMX:
		if len(rawRData) < 2 {
			return rr, ErrTruncatedRR
		}
		pref := rawRData[0:2]
		name, _, err := p.parseNameAt(rdataStart + 2)
		if err != nil {
			return rr, fmt.Errorf("rdata name: %w", err)
		}
		out := make([]byte, 2+len(name.Wire()))
		copy(out, pref)
		copy(out[2:], name.Wire())
		rr.RData = out
	case TypeSOA:
		mname, off1, err := p.parseNameAt(rdataStart)
		if err != nil {
			return rr, fmt.Errorf("soa mname: %w", err)
		}
		rname, off2, err := p.parseNameAt(off1)
		if err != nil {
			return rr, fmt.Errorf("soa rname: %w", err)
		}
		tail := rdataStart + rdlen - off2
		if tail != 20 {
			return rr, fmt.Errorf("%w: soa trailing fields", ErrTruncatedRR)
		}
		out := make([]byte, len(mname.Wire())+len(rname.Wire())+20)
		n := copy(out, mname.Wire())
		n += copy(out[n:], rname.Wire())
		copy(out[n:], p.msg[off2:off2+20])
		rr.RData = out
	case TypeSRV:
		if len(rawRData) < 6 {
			return rr, ErrTruncatedRR
		}
		prefix := rawRData[0:6]
		name, _, err := p.parseNameAt(rdataStart + 6)
		if err != nil {
			return rr, fmt.Errorf("srv target: %w", err)
		}
		out := make([]byte, 6+len(name.Wire()))
		copy(out, prefix)
		copy(out[6:], name.Wire())
		rr.RData = out
	default:
		rr.RData = append([]byte(nil), rawRData...)
	}

	return rr, nil
}

// parseName decodes a name starting at the parser's current offset,
// advancing the parser past it (past any inline pointer, not past the
// pointer's target).
func (p *Parser) parseName() (Name, error) {
	name, newOffset, err := p.parseNameAt(p.offset)
	if err != nil {
		return Name{}, err
	}
	p.offset = newOffset
	return name, nil
}

// parseNameAt decodes a name starting at a given buffer offset without
// moving the parser's main cursor; it returns the offset immediately after
// the name as it appears inline at start (i.e. after either the
// terminating zero byte or the 2-byte pointer that stands in for the rest
// of the name) — this is the "resume" offset for whatever the caller was
// reading linearly, not the pointer target.
func (p *Parser) parseNameAt(start int) (Name, int, error) {
	var labels [][]byte
	visited := make(map[int]bool)
	offset := start
	chases := 0
	jumped := false
	resumeOffset := -1

	for {
		if offset >= len(p.msg) {
			return Name{}, 0, ErrTruncatedName
		}
		length := int(p.msg[offset])

		if length&0xC0 == 0xC0 {
			if offset+1 >= len(p.msg) {
				return Name{}, 0, ErrTruncatedName
			}
			ptr := int(binary.BigEndian.Uint16(p.msg[offset:offset+2]) & 0x3FFF)
			if visited[ptr] {
				return Name{}, 0, ErrCompressionLoop
			}
			visited[ptr] = true
			chases++
			if chases > maxPointerChases {
				return Name{}, 0, ErrCompressionLoop
			}
			if ptr >= offset {
				// Forward or self pointer: never valid, since a pointer
				// must reference something already emitted earlier.
				return Name{}, 0, ErrInvalidPointer
			}
			if !jumped {
				resumeOffset = offset + 2
				jumped = true
			}
			offset = ptr
			continue
		}

		if length == 0 {
			if !jumped {
				resumeOffset = offset + 1
			}
			break
		}

		if length > maxLabelLength {
			return Name{}, 0, ErrLabelTooLong
		}
		offset++
		if offset+length > len(p.msg) {
			return Name{}, 0, ErrTruncatedName
		}
		labels = append(labels, p.msg[offset:offset+length])
		offset += length

		if len(labels) > 127 {
			return Name{}, 0, ErrCompressionLoop
		}
	}

	name, err := nameFromLabelBytes(labels)
	if err != nil {
		return Name{}, 0, err
	}
	return name, resumeOffset, nil
}
