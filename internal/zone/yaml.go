package zone

import (
	"fmt"
	"net"
	"os"

	"github.com/dnsauth/dnsauthd/internal/dnsmsg"
	"gopkg.in/yaml.v3"
)

// yamlRecord is the on-disk shape of one resource record in the
// supplemental YAML zone format: a flatter, more diff-friendly
// alternative to RFC 1035 master-file syntax for zones managed by
// automation rather than hand-edited.
type yamlRecord struct {
	Name  string `yaml:"name"`
	TTL   uint32 `yaml:"ttl"`
	Type  string `yaml:"type"`
	Value string `yaml:"value"`
	// Fields only meaningful for certain types; omitted (zero value) for
	// the rest.
	Preference uint16 `yaml:"preference,omitempty"` // MX
	Priority   uint16 `yaml:"priority,omitempty"`    // SRV
	Weight     uint16 `yaml:"weight,omitempty"`      // SRV
	Port       uint16 `yaml:"port,omitempty"`        // SRV
	Serial     uint32 `yaml:"serial,omitempty"`      // SOA
	Refresh    uint32 `yaml:"refresh,omitempty"`     // SOA
	Retry      uint32 `yaml:"retry,omitempty"`       // SOA
	Expire     uint32 `yaml:"expire,omitempty"`      // SOA
	Minimum    uint32 `yaml:"minimum,omitempty"`     // SOA
	MName      string `yaml:"mname,omitempty"`       // SOA
	RName      string `yaml:"rname,omitempty"`       // SOA
}

type yamlZone struct {
	Origin  string       `yaml:"origin"`
	Records []yamlRecord `yaml:"records"`
}

// ExportYAML serializes z into the supplemental YAML zone format.
func (z *Zone) ExportYAML() ([]byte, error) {
	out := yamlZone{Origin: z.Origin.String()}
	for _, rr := range z.AllRecords() {
		yr, err := toYAMLRecord(rr)
		if err != nil {
			return nil, err
		}
		out.Records = append(out.Records, yr)
	}
	return yaml.Marshal(out)
}

func toYAMLRecord(rr dnsmsg.ResourceRecord) (yamlRecord, error) {
	yr := yamlRecord{Name: rr.Name.String(), TTL: rr.TTL, Type: rr.Type.String()}
	switch rr.Type {
	case dnsmsg.TypeA:
		ip, err := rr.A()
		if err != nil {
			return yr, err
		}
		yr.Value = ip.String()
	case dnsmsg.TypeAAAA:
		ip, err := rr.AAAA()
		if err != nil {
			return yr, err
		}
		yr.Value = ip.String()
	case dnsmsg.TypeNS, dnsmsg.TypeCNAME, dnsmsg.TypePTR:
		target, err := rr.Target()
		if err != nil {
			return yr, err
		}
		yr.Value = target.String()
	case dnsmsg.TypeMX:
		mx, err := rr.MX()
		if err != nil {
			return yr, err
		}
		yr.Preference = mx.Preference
		yr.Value = mx.Exchange.String()
	case dnsmsg.TypeTXT:
		strs, err := rr.TXT()
		if err != nil {
			return yr, err
		}
		if len(strs) > 0 {
			yr.Value = strs[0]
		}
	case dnsmsg.TypeSRV:
		srv, err := rr.SRV()
		if err != nil {
			return yr, err
		}
		yr.Priority, yr.Weight, yr.Port, yr.Value = srv.Priority, srv.Weight, srv.Port, srv.Target.String()
	case dnsmsg.TypeSOA:
		soa, err := rr.SOA()
		if err != nil {
			return yr, err
		}
		yr.MName, yr.RName = soa.MName.String(), soa.RName.String()
		yr.Serial, yr.Refresh, yr.Retry, yr.Expire, yr.Minimum = soa.Serial, soa.Refresh, soa.Retry, soa.Expire, soa.Minimum
	default:
		return yr, fmt.Errorf("zone: YAML export does not support record type %s", rr.Type)
	}
	return yr, nil
}

// ParseYAML parses the supplemental YAML zone format into a Zone.
func ParseYAML(data []byte) (*Zone, error) {
	var doc yamlZone
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("zone: invalid YAML: %w", err)
	}
	origin, err := dnsmsg.ParseName(doc.Origin)
	if err != nil {
		return nil, fmt.Errorf("zone: invalid origin %q: %w", doc.Origin, err)
	}
	z := New(origin)
	for i, yr := range doc.Records {
		rr, err := fromYAMLRecord(yr, origin)
		if err != nil {
			return nil, fmt.Errorf("zone: record %d: %w", i, err)
		}
		z.AddRecord(rr)
	}
	return z, nil
}

// ParseYAMLFile reads and parses a YAML zone file. Record names are
// always qualified against the document's own "origin" field; the origin
// parameter replaces the zone's origin only when the document holds no
// records, and is never used to qualify names.
func ParseYAMLFile(path, origin string) (*Zone, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	z, err := ParseYAML(data)
	if err != nil {
		return nil, err
	}
	if len(z.AllRecords()) == 0 && origin != "" {
		o, pErr := dnsmsg.ParseName(origin)
		if pErr == nil {
			z.Origin = o
		}
	}
	return z, nil
}

func fromYAMLRecord(yr yamlRecord, origin dnsmsg.Name) (dnsmsg.ResourceRecord, error) {
	name, err := dnsmsg.ParseName(qualify(yr.Name, origin))
	if err != nil {
		return dnsmsg.ResourceRecord{}, err
	}
	switch yr.Type {
	case "A":
		ip := net.ParseIP(yr.Value).To4()
		if ip == nil {
			return dnsmsg.ResourceRecord{}, fmt.Errorf("invalid A value %q", yr.Value)
		}
		return dnsmsg.BuildA(name, yr.TTL, ip)
	case "AAAA":
		ip := net.ParseIP(yr.Value)
		if ip == nil || ip.To4() != nil {
			return dnsmsg.ResourceRecord{}, fmt.Errorf("invalid AAAA value %q", yr.Value)
		}
		return dnsmsg.BuildAAAA(name, yr.TTL, ip)
	case "NS":
		target, err := dnsmsg.ParseName(qualify(yr.Value, origin))
		if err != nil {
			return dnsmsg.ResourceRecord{}, err
		}
		return dnsmsg.BuildNS(name, yr.TTL, target), nil
	case "CNAME":
		target, err := dnsmsg.ParseName(qualify(yr.Value, origin))
		if err != nil {
			return dnsmsg.ResourceRecord{}, err
		}
		return dnsmsg.BuildCNAME(name, yr.TTL, target), nil
	case "PTR":
		target, err := dnsmsg.ParseName(qualify(yr.Value, origin))
		if err != nil {
			return dnsmsg.ResourceRecord{}, err
		}
		return dnsmsg.BuildPTR(name, yr.TTL, target), nil
	case "MX":
		exchange, err := dnsmsg.ParseName(qualify(yr.Value, origin))
		if err != nil {
			return dnsmsg.ResourceRecord{}, err
		}
		return dnsmsg.BuildMX(name, yr.TTL, yr.Preference, exchange), nil
	case "TXT":
		return dnsmsg.BuildTXT(name, yr.TTL, yr.Value)
	case "SRV":
		target, err := dnsmsg.ParseName(qualify(yr.Value, origin))
		if err != nil {
			return dnsmsg.ResourceRecord{}, err
		}
		return dnsmsg.BuildSRV(name, yr.TTL, dnsmsg.SRVData{
			Priority: yr.Priority, Weight: yr.Weight, Port: yr.Port, Target: target,
		}), nil
	case "SOA":
		mname, err := dnsmsg.ParseName(qualify(yr.MName, origin))
		if err != nil {
			return dnsmsg.ResourceRecord{}, err
		}
		rname, err := dnsmsg.ParseName(qualify(yr.RName, origin))
		if err != nil {
			return dnsmsg.ResourceRecord{}, err
		}
		return dnsmsg.BuildSOA(name, yr.TTL, dnsmsg.SOAData{
			MName: mname, RName: rname, Serial: yr.Serial,
			Refresh: yr.Refresh, Retry: yr.Retry, Expire: yr.Expire, Minimum: yr.Minimum,
		}), nil
	}
	return dnsmsg.ResourceRecord{}, fmt.Errorf("unsupported YAML record type %q", yr.Type)
}

// qualify appends origin to a relative name; absolute names (trailing dot
// or "@") pass through resolveName-equivalent handling.
func qualify(name string, origin dnsmsg.Name) string {
	if name == "" || name == "@" {
		return origin.String()
	}
	if name[len(name)-1] == '.' {
		return name
	}
	return name + "." + origin.String()
}
