// Package resolve implements the authoritative query-resolution algorithm
// of RFC 1034 §4.3.2 as a pure function over a zone.Zone: given a
// question, it produces the answer/authority/additional sections and
// response code, performing CNAME chasing and wildcard synthesis but never
// recursion, caching, or upstream forwarding.
package resolve

import (
	"github.com/dnsauth/dnsauthd/internal/dnsmsg"
	"github.com/dnsauth/dnsauthd/internal/zone"
	"github.com/dnsauth/dnsauthd/internal/zonestore"
)

// maxCNAMEChain bounds CNAME chasing within a single zone to guard against
// pathological (if not outright cyclic) CNAME chains.
const maxCNAMEChain = 16

// Result is the outcome of resolving a single question.
type Result struct {
	Rcode          dnsmsg.RCode
	Authoritative  bool
	Answer         []dnsmsg.ResourceRecord
	Authority      []dnsmsg.ResourceRecord
	Additional     []dnsmsg.ResourceRecord
}

// Resolve answers a single question against store, implementing:
//   - REFUSED for AXFR/IXFR (no zone transfer support) and for queries
//     that hit no configured zone at all.
//   - Exact match, including ANY.
//   - NODATA (NOERROR, empty answer, SOA in authority) when the name
//     exists but not with the requested type.
//   - CNAME chasing, following a chain of up to maxCNAMEChain before
//     giving up with whatever partial chain was resolved.
//   - Wildcard synthesis per RFC 1034 §4.3.2, skipped when an exact
//     non-wildcard match for the name already exists at a less specific
//     level (handled implicitly: wildcard lookup only runs after an exact
//     match fails).
//   - Delegation with in-bailiwick glue when the query falls under a
//     sub-zone cut this zone doesn't itself own answers for.
//   - NXDOMAIN with the zone's SOA in authority when no name, wildcard,
//     or delegation covers the query.
func Resolve(store *zonestore.Store, q dnsmsg.Question) Result {
	if q.Type == dnsmsg.TypeAXFR || q.Type == dnsmsg.TypeIXFR {
		return Result{Rcode: dnsmsg.RCodeRefused}
	}

	z, ok := store.FindZone(q.Name)
	if !ok {
		return Result{Rcode: dnsmsg.RCodeRefused}
	}

	return resolveInZone(z, q.Name, q.Type, 0)
}

func resolveInZone(z *zone.Zone, name dnsmsg.Name, qtype dnsmsg.RRType, depth int) Result {
	if cut, ns, found := z.FindDelegation(name); found && !name.Equal(z.Origin) {
		return Result{
			Rcode:         dnsmsg.RCodeSuccess,
			Authoritative: false,
			Authority:     ns,
			Additional:    glueFor(z, ns, cut),
		}
	}

	rrs, nameExists := z.Lookup(name, qtype)
	if len(rrs) > 0 {
		return Result{Rcode: dnsmsg.RCodeSuccess, Authoritative: true, Answer: rrs}
	}

	if nameExists {
		if qtype != dnsmsg.TypeCNAME {
			if cname, _ := z.Lookup(name, dnsmsg.TypeCNAME); len(cname) > 0 {
				return chaseCNAME(z, cname[0], qtype, depth)
			}
		}
		return nodata(z)
	}

	if wrrs, _, found := z.LookupWildcard(name, qtype); found {
		synthesized := synthesizeOwner(wrrs, name)
		if qtype != dnsmsg.TypeCNAME {
			for _, rr := range synthesized {
				if rr.Type == dnsmsg.TypeCNAME {
					return chaseCNAME(z, rr, qtype, depth)
				}
			}
		}
		return Result{Rcode: dnsmsg.RCodeSuccess, Authoritative: true, Answer: synthesized}
	}
	if wrrs, _, found := z.LookupWildcard(name, dnsmsg.TypeCNAME); found && qtype != dnsmsg.TypeCNAME {
		synthesized := synthesizeOwner(wrrs, name)
		if len(synthesized) > 0 {
			return chaseCNAME(z, synthesized[0], qtype, depth)
		}
	}

	return nxdomain(z)
}

// chaseCNAME follows a CNAME record to its target and resolves qtype
// there, prepending the CNAME itself to the eventual answer. If the
// target is outside this zone, resolution stops with just the CNAME (the
// client is expected to restart resolution itself, since recursion is out
// of scope).
func chaseCNAME(z *zone.Zone, cname dnsmsg.ResourceRecord, qtype dnsmsg.RRType, depth int) Result {
	if depth >= maxCNAMEChain {
		return Result{Rcode: dnsmsg.RCodeSuccess, Authoritative: true, Answer: []dnsmsg.ResourceRecord{cname}}
	}
	target, err := cname.Target()
	if err != nil {
		return Result{Rcode: dnsmsg.RCodeServerFailure}
	}
	if !target.IsSubdomainOf(z.Origin) {
		return Result{Rcode: dnsmsg.RCodeSuccess, Authoritative: true, Answer: []dnsmsg.ResourceRecord{cname}}
	}

	rest := resolveInZone(z, target, qtype, depth+1)
	rest.Answer = append([]dnsmsg.ResourceRecord{cname}, rest.Answer...)
	return rest
}

// synthesizeOwner renames wildcard-matched RRs to the queried owner name,
// per RFC 1034 §4.3.2 rule 4: the synthesized RRs carry the original
// wildcard's data but the name actually queried.
func synthesizeOwner(rrs []dnsmsg.ResourceRecord, owner dnsmsg.Name) []dnsmsg.ResourceRecord {
	out := make([]dnsmsg.ResourceRecord, len(rrs))
	for i, rr := range rrs {
		out[i] = rr
		out[i].Name = owner
	}
	return out
}

func nodata(z *zone.Zone) Result {
	soa, ok := z.SOA()
	var authority []dnsmsg.ResourceRecord
	if ok {
		authority = []dnsmsg.ResourceRecord{soa}
	}
	return Result{Rcode: dnsmsg.RCodeSuccess, Authoritative: true, Authority: authority}
}

func nxdomain(z *zone.Zone) Result {
	soa, ok := z.SOA()
	var authority []dnsmsg.ResourceRecord
	if ok {
		authority = []dnsmsg.ResourceRecord{soa}
	}
	return Result{Rcode: dnsmsg.RCodeNameError, Authoritative: true, Authority: authority}
}

// glueFor returns in-bailiwick address records for a delegation's
// nameservers, suitable for the additional section of a referral.
func glueFor(z *zone.Zone, ns []dnsmsg.ResourceRecord, cut dnsmsg.Name) []dnsmsg.ResourceRecord {
	var out []dnsmsg.ResourceRecord
	seen := make(map[string]bool)
	for _, rr := range ns {
		target, err := rr.Target()
		if err != nil || !target.IsSubdomainOf(cut) {
			continue
		}
		key := target.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, z.Glue(target)...)
	}
	return out
}
