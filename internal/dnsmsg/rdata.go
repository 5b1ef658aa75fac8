package dnsmsg

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

var (
	ErrInvalidRData = errors.New("dnsmsg: malformed rdata for record type")
)

// A returns the IPv4 address encoded in an A record's RDATA.
func (rr ResourceRecord) A() (net.IP, error) {
	if rr.Type != TypeA || len(rr.RData) != 4 {
		return nil, fmt.Errorf("%w: A", ErrInvalidRData)
	}
	return net.IP(append([]byte(nil), rr.RData...)), nil
}

// BuildA constructs an A record.
func BuildA(name Name, ttl uint32, ip net.IP) (ResourceRecord, error) {
	ip4 := ip.To4()
	if ip4 == nil {
		return ResourceRecord{}, fmt.Errorf("%w: not an IPv4 address", ErrInvalidRData)
	}
	return ResourceRecord{Name: name, Type: TypeA, Class: ClassIN, TTL: ttl, RData: append([]byte(nil), ip4...)}, nil
}

// AAAA returns the IPv6 address encoded in an AAAA record's RDATA.
func (rr ResourceRecord) AAAA() (net.IP, error) {
	if rr.Type != TypeAAAA || len(rr.RData) != 16 {
		return nil, fmt.Errorf("%w: AAAA", ErrInvalidRData)
	}
	return net.IP(append([]byte(nil), rr.RData...)), nil
}

// BuildAAAA constructs an AAAA record.
func BuildAAAA(name Name, ttl uint32, ip net.IP) (ResourceRecord, error) {
	ip16 := ip.To16()
	if ip16 == nil || ip.To4() != nil {
		return ResourceRecord{}, fmt.Errorf("%w: not an IPv6 address", ErrInvalidRData)
	}
	return ResourceRecord{Name: name, Type: TypeAAAA, Class: ClassIN, TTL: ttl, RData: append([]byte(nil), ip16...)}, nil
}

// Target returns the single name carried in the RDATA of NS, CNAME, or PTR
// records. The parser guarantees these are stored uncompressed, so the
// bytes can be consumed directly by nameFromWire.
func (rr ResourceRecord) Target() (Name, error) {
	switch rr.Type {
	case TypeNS, TypeCNAME, TypePTR:
	default:
		return Name{}, fmt.Errorf("%w: not a name-only record type", ErrInvalidRData)
	}
	return nameFromWire(rr.RData)
}

// BuildNS, BuildCNAME and BuildPTR construct single-name records.
func BuildNS(name Name, ttl uint32, target Name) ResourceRecord {
	return ResourceRecord{Name: name, Type: TypeNS, Class: ClassIN, TTL: ttl, RData: append([]byte(nil), target.Wire()...)}
}

func BuildCNAME(name Name, ttl uint32, target Name) ResourceRecord {
	return ResourceRecord{Name: name, Type: TypeCNAME, Class: ClassIN, TTL: ttl, RData: append([]byte(nil), target.Wire()...)}
}

func BuildPTR(name Name, ttl uint32, target Name) ResourceRecord {
	return ResourceRecord{Name: name, Type: TypePTR, Class: ClassIN, TTL: ttl, RData: append([]byte(nil), target.Wire()...)}
}

// MXData is the decoded RDATA of an MX record.
type MXData struct {
	Preference uint16
	Exchange   Name
}

// MX decodes the RDATA of an MX record.
func (rr ResourceRecord) MX() (MXData, error) {
	if rr.Type != TypeMX || len(rr.RData) < 3 {
		return MXData{}, fmt.Errorf("%w: MX", ErrInvalidRData)
	}
	exchange, err := nameFromWire(rr.RData[2:])
	if err != nil {
		return MXData{}, err
	}
	return MXData{Preference: binary.BigEndian.Uint16(rr.RData[0:2]), Exchange: exchange}, nil
}

// BuildMX constructs an MX record.
func BuildMX(name Name, ttl uint32, pref uint16, exchange Name) ResourceRecord {
	rdata := make([]byte, 2+len(exchange.Wire()))
	binary.BigEndian.PutUint16(rdata[0:2], pref)
	copy(rdata[2:], exchange.Wire())
	return ResourceRecord{Name: name, Type: TypeMX, Class: ClassIN, TTL: ttl, RData: rdata}
}

// SOAData is the decoded RDATA of an SOA record.
type SOAData struct {
	MName   Name
	RName   Name
	Serial  uint32
	Refresh uint32
	Retry   uint32
	Expire  uint32
	Minimum uint32
}

// SOA decodes the RDATA of an SOA record.
func (rr ResourceRecord) SOA() (SOAData, error) {
	if rr.Type != TypeSOA {
		return SOAData{}, fmt.Errorf("%w: SOA", ErrInvalidRData)
	}
	mname, rest, err := consumeName(rr.RData)
	if err != nil {
		return SOAData{}, err
	}
	rname, rest, err := consumeName(rest)
	if err != nil {
		return SOAData{}, err
	}
	if len(rest) != 20 {
		return SOAData{}, fmt.Errorf("%w: SOA trailing fields", ErrInvalidRData)
	}
	return SOAData{
		MName:   mname,
		RName:   rname,
		Serial:  binary.BigEndian.Uint32(rest[0:4]),
		Refresh: binary.BigEndian.Uint32(rest[4:8]),
		Retry:   binary.BigEndian.Uint32(rest[8:12]),
		Expire:  binary.BigEndian.Uint32(rest[12:16]),
		Minimum: binary.BigEndian.Uint32(rest[16:20]),
	}, nil
}

// BuildSOA constructs an SOA record.
func BuildSOA(name Name, ttl uint32, s SOAData) ResourceRecord {
	rdata := make([]byte, len(s.MName.Wire())+len(s.RName.Wire())+20)
	n := copy(rdata, s.MName.Wire())
	n += copy(rdata[n:], s.RName.Wire())
	binary.BigEndian.PutUint32(rdata[n:], s.Serial)
	binary.BigEndian.PutUint32(rdata[n+4:], s.Refresh)
	binary.BigEndian.PutUint32(rdata[n+8:], s.Retry)
	binary.BigEndian.PutUint32(rdata[n+12:], s.Expire)
	binary.BigEndian.PutUint32(rdata[n+16:], s.Minimum)
	return ResourceRecord{Name: name, Type: TypeSOA, Class: ClassIN, TTL: ttl, RData: rdata}
}

// SRVData is the decoded RDATA of an SRV record.
type SRVData struct {
	Priority uint16
	Weight   uint16
	Port     uint16
	Target   Name
}

// SRV decodes the RDATA of an SRV record.
func (rr ResourceRecord) SRV() (SRVData, error) {
	if rr.Type != TypeSRV || len(rr.RData) < 7 {
		return SRVData{}, fmt.Errorf("%w: SRV", ErrInvalidRData)
	}
	target, err := nameFromWire(rr.RData[6:])
	if err != nil {
		return SRVData{}, err
	}
	return SRVData{
		Priority: binary.BigEndian.Uint16(rr.RData[0:2]),
		Weight:   binary.BigEndian.Uint16(rr.RData[2:4]),
		Port:     binary.BigEndian.Uint16(rr.RData[4:6]),
		Target:   target,
	}, nil
}

// BuildSRV constructs an SRV record.
func BuildSRV(name Name, ttl uint32, s SRVData) ResourceRecord {
	rdata := make([]byte, 6+len(s.Target.Wire()))
	binary.BigEndian.PutUint16(rdata[0:2], s.Priority)
	binary.BigEndian.PutUint16(rdata[2:4], s.Weight)
	binary.BigEndian.PutUint16(rdata[4:6], s.Port)
	copy(rdata[6:], s.Target.Wire())
	return ResourceRecord{Name: name, Type: TypeSRV, Class: ClassIN, TTL: ttl, RData: rdata}
}

// TXT decodes a TXT record's RDATA into its character-strings.
func (rr ResourceRecord) TXT() ([]string, error) {
	if rr.Type != TypeTXT {
		return nil, fmt.Errorf("%w: TXT", ErrInvalidRData)
	}
	var out []string
	data := rr.RData
	for len(data) > 0 {
		n := int(data[0])
		if 1+n > len(data) {
			return nil, fmt.Errorf("%w: TXT character-string overruns rdata", ErrInvalidRData)
		}
		out = append(out, string(data[1:1+n]))
		data = data[1+n:]
	}
	return out, nil
}

// BuildTXT constructs a TXT record from one or more character-strings, each
// split into <=255-byte chunks as RFC 1035 requires.
func BuildTXT(name Name, ttl uint32, strs ...string) (ResourceRecord, error) {
	var rdata []byte
	for _, s := range strs {
		for len(s) > 255 {
			rdata = append(rdata, 255)
			rdata = append(rdata, s[:255]...)
			s = s[255:]
		}
		rdata = append(rdata, byte(len(s)))
		rdata = append(rdata, s...)
	}
	return ResourceRecord{Name: name, Type: TypeTXT, Class: ClassIN, TTL: ttl, RData: rdata}, nil
}

// CAAData is the decoded RDATA of a CAA record (RFC 6844).
type CAAData struct {
	Flag  uint8
	Tag   string
	Value string
}

// CAA decodes the RDATA of a CAA record.
func (rr ResourceRecord) CAA() (CAAData, error) {
	if rr.Type != TypeCAA || len(rr.RData) < 2 {
		return CAAData{}, fmt.Errorf("%w: CAA", ErrInvalidRData)
	}
	flag := rr.RData[0]
	tagLen := int(rr.RData[1])
	if 2+tagLen > len(rr.RData) {
		return CAAData{}, fmt.Errorf("%w: CAA tag overruns rdata", ErrInvalidRData)
	}
	tag := string(rr.RData[2 : 2+tagLen])
	value := string(rr.RData[2+tagLen:])
	return CAAData{Flag: flag, Tag: tag, Value: value}, nil
}

// BuildCAA constructs a CAA record.
func BuildCAA(name Name, ttl uint32, c CAAData) ResourceRecord {
	rdata := make([]byte, 2+len(c.Tag)+len(c.Value))
	rdata[0] = c.Flag
	rdata[1] = byte(len(c.Tag))
	n := copy(rdata[2:], c.Tag)
	copy(rdata[2+n:], c.Value)
	return ResourceRecord{Name: name, Type: TypeCAA, Class: ClassIN, TTL: ttl, RData: rdata}
}

// nameFromWire decodes a Name from a standalone, pointer-free wire-format
// byte slice (as stored in a parsed, already-decompressed RData field).
func nameFromWire(b []byte) (Name, error) {
	name, rest, err := consumeName(b)
	if err != nil {
		return Name{}, err
	}
	if len(rest) != 0 {
		return Name{}, fmt.Errorf("%w: trailing bytes after name", ErrInvalidRData)
	}
	return name, nil
}

// consumeName decodes a single pointer-free name from the front of b,
// returning the name and the remaining bytes.
func consumeName(b []byte) (Name, []byte, error) {
	var labels [][]byte
	off := 0
	for {
		if off >= len(b) {
			return Name{}, nil, fmt.Errorf("%w: truncated name", ErrInvalidRData)
		}
		length := int(b[off])
		if length&0xC0 != 0 {
			return Name{}, nil, fmt.Errorf("%w: unexpected compression pointer", ErrInvalidRData)
		}
		off++
		if length == 0 {
			break
		}
		if off+length > len(b) {
			return Name{}, nil, fmt.Errorf("%w: truncated label", ErrInvalidRData)
		}
		labels = append(labels, b[off:off+length])
		off += length
	}
	name, err := nameFromLabelBytes(labels)
	if err != nil {
		return Name{}, nil, err
	}
	return name, b[off:], nil
}
