// Package zone holds the in-memory representation of a single DNS zone:
// its resource record sets, SOA, and the lookups the resolver needs
// (exact match, wildcard synthesis, nameserver enumeration).
package zone

import (
	"fmt"
	"strings"
	"time"

	"github.com/dnsauth/dnsauthd/internal/dnsmsg"
)

// Zone is one authoritative zone, keyed by owner name then record type.
// Zone has no lock of its own; ZoneStore is responsible for swapping a
// Zone wholesale on reload rather than mutating one in place under read
// traffic.
type Zone struct {
	Origin  dnsmsg.Name
	Class   dnsmsg.Class
	records map[string]map[dnsmsg.RRType][]dnsmsg.ResourceRecord
	// insertion order of owner names, for deterministic AXFR-style dumps
	// and YAML export.
	order []string
}

// New creates an empty zone for origin.
func New(origin dnsmsg.Name) *Zone {
	return &Zone{
		Origin:  origin,
		Class:   dnsmsg.ClassIN,
		records: make(map[string]map[dnsmsg.RRType][]dnsmsg.ResourceRecord),
	}
}

func ownerKey(n dnsmsg.Name) string {
	return strings.ToLower(n.String())
}

// AddRecord inserts rr into the zone under its owner name and type.
func (z *Zone) AddRecord(rr dnsmsg.ResourceRecord) {
	key := ownerKey(rr.Name)
	byType, ok := z.records[key]
	if !ok {
		byType = make(map[dnsmsg.RRType][]dnsmsg.ResourceRecord)
		z.records[key] = byType
		z.order = append(z.order, key)
	}
	byType[rr.Type] = append(byType[rr.Type], rr)
}

// lookup returns the RRset of the given type (TypeANY for all types) at
// the exact owner name, and whether that owner name exists in the zone at
// all (even if it has no records of the requested type — this
// distinguishes NODATA from NXDOMAIN).
func (z *Zone) lookup(name dnsmsg.Name, qtype dnsmsg.RRType) (rrs []dnsmsg.ResourceRecord, nameExists bool) {
	byType, ok := z.records[ownerKey(name)]
	if !ok {
		return nil, false
	}
	if qtype == dnsmsg.TypeANY {
		for _, set := range byType {
			rrs = append(rrs, set...)
		}
		return rrs, true
	}
	return byType[qtype], true
}

// Lookup performs an exact-match lookup of qtype at name, with no wildcard
// synthesis or CNAME chasing — those are the resolver's job, layered on
// top of this primitive.
func (z *Zone) Lookup(name dnsmsg.Name, qtype dnsmsg.RRType) (rrs []dnsmsg.ResourceRecord, nameExists bool) {
	return z.lookup(name, qtype)
}

// LookupWildcard finds the best wildcard match covering name, per RFC 1034
// §4.3.2: the closest ancestor that owns a "*.<ancestor>" record set,
// searching from name's immediate parent up toward (but not including)
// the zone apex being treated as a wildcard target of itself.
//
// Per RFC 1034 §4.3.2 / RFC 4592, a wildcard must not synthesize an answer
// for name if name is an empty non-terminal — i.e. name owns no records
// itself but some longer name below it does exist in the zone. Such a
// name is known to the zone (it has descendants); treating it as if it
// matched a wildcard would hide that it is a real, populated branch of
// the tree, not an absent one.
func (z *Zone) LookupWildcard(name dnsmsg.Name, qtype dnsmsg.RRType) (rrs []dnsmsg.ResourceRecord, synthesizedFrom dnsmsg.Name, found bool) {
	if z.hasDescendant(name) {
		return nil, dnsmsg.Name{}, false
	}

	labels := name.LabelCount()
	originLabels := z.Origin.LabelCount()

	// Walk ancestors from name's parent up to (but not past) the origin.
	current := name
	for labels > originLabels {
		parent, ok := dropLeftLabel(current)
		if !ok {
			break
		}
		current = parent
		labels--

		wildcard, err := dnsmsg.ParseName("*." + strings.TrimSuffix(current.String(), "."))
		if err != nil {
			continue
		}
		if rrs, exists := z.lookup(wildcard, qtype); exists {
			return rrs, current, len(rrs) > 0
		}
	}
	return nil, dnsmsg.Name{}, false
}

// Exists reports whether any record (of any type) is owned by name.
func (z *Zone) Exists(name dnsmsg.Name) bool {
	_, ok := z.records[ownerKey(name)]
	return ok
}

// hasDescendant reports whether any owner name in the zone is a proper
// subdomain of name, i.e. whether name is an empty non-terminal.
func (z *Zone) hasDescendant(name dnsmsg.Name) bool {
	for key := range z.records {
		owner, err := dnsmsg.ParseName(key)
		if err != nil {
			continue
		}
		if owner.IsSubdomainOf(name) && !owner.Equal(name) {
			return true
		}
	}
	return false
}

// dropLeftLabel returns name with its leftmost label removed.
func dropLeftLabel(name dnsmsg.Name) (dnsmsg.Name, bool) {
	s := strings.TrimSuffix(name.String(), ".")
	idx := strings.IndexByte(s, '.')
	if idx < 0 {
		return dnsmsg.Name{}, false
	}
	parent, err := dnsmsg.ParseName(s[idx+1:])
	if err != nil {
		return dnsmsg.Name{}, false
	}
	return parent, true
}

// SOA returns the zone's apex SOA record, if loaded.
func (z *Zone) SOA() (dnsmsg.ResourceRecord, bool) {
	rrs, _ := z.lookup(z.Origin, dnsmsg.TypeSOA)
	if len(rrs) == 0 {
		return dnsmsg.ResourceRecord{}, false
	}
	return rrs[0], true
}

// Nameservers returns the zone apex's NS RRset.
func (z *Zone) Nameservers() []dnsmsg.ResourceRecord {
	rrs, _ := z.lookup(z.Origin, dnsmsg.TypeNS)
	return rrs
}

// FindDelegation returns the NS RRset of the closest enclosing
// sub-delegation strictly below the apex that is an ancestor-or-self of
// name, for referral responses. It never returns the apex's own NS set
// (that is authoritative, not a delegation).
func (z *Zone) FindDelegation(name dnsmsg.Name) (cut dnsmsg.Name, ns []dnsmsg.ResourceRecord, found bool) {
	current := name
	for {
		if current.Equal(z.Origin) {
			return dnsmsg.Name{}, nil, false
		}
		if rrs, _ := z.lookup(current, dnsmsg.TypeNS); len(rrs) > 0 {
			return current, rrs, true
		}
		parent, ok := dropLeftLabel(current)
		if !ok || !parent.IsSubdomainOf(z.Origin) {
			return dnsmsg.Name{}, nil, false
		}
		current = parent
	}
}

// Glue returns address records (A/AAAA) for name found anywhere in the
// zone, used to attach in-bailiwick glue to a delegation's additional
// section.
func (z *Zone) Glue(name dnsmsg.Name) []dnsmsg.ResourceRecord {
	a, _ := z.lookup(name, dnsmsg.TypeA)
	aaaa, _ := z.lookup(name, dnsmsg.TypeAAAA)
	return append(append([]dnsmsg.ResourceRecord(nil), a...), aaaa...)
}

// AllRecords returns every record in the zone, owner names in insertion
// order; the order of record types within one owner name is not defined.
// Used for AXFR-style dumps and YAML export.
func (z *Zone) AllRecords() []dnsmsg.ResourceRecord {
	var out []dnsmsg.ResourceRecord
	for _, key := range z.order {
		byType, ok := z.records[key]
		if !ok {
			continue
		}
		for _, rrs := range byType {
			out = append(out, rrs...)
		}
	}
	return out
}

// Validate checks the invariants a loaded zone must satisfy: an apex SOA,
// an apex NS set, and no owner name mixing CNAME with any other type.
func (z *Zone) Validate() error {
	if _, ok := z.SOA(); !ok {
		return fmt.Errorf("zone %s: missing apex SOA", z.Origin)
	}
	if len(z.Nameservers()) == 0 {
		return fmt.Errorf("zone %s: missing apex NS records", z.Origin)
	}
	for key, byType := range z.records {
		if cname, ok := byType[dnsmsg.TypeCNAME]; ok && len(cname) > 0 {
			if len(byType) > 1 {
				return fmt.Errorf("zone %s: owner %s mixes CNAME with other record types", z.Origin, key)
			}
			if len(cname) > 1 {
				return fmt.Errorf("zone %s: owner %s has more than one CNAME", z.Origin, key)
			}
		}
	}
	return nil
}

// Serial returns the apex SOA serial, or 0 if none is loaded.
func (z *Zone) Serial() uint32 {
	soa, ok := z.SOA()
	if !ok {
		return 0
	}
	data, err := soa.SOA()
	if err != nil {
		return 0
	}
	return data.Serial
}

// LoadedAt pairs a zone file path with its modification time. ZoneStore
// tracks reload freshness in its own entries and does not use this type.
type LoadedAt struct {
	Path    string
	ModTime time.Time
}
