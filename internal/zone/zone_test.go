package zone

import (
	"net"
	"testing"

	"github.com/dnsauth/dnsauthd/internal/dnsmsg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustName(t *testing.T, s string) dnsmsg.Name {
	t.Helper()
	n, err := dnsmsg.ParseName(s)
	require.NoError(t, err)
	return n
}

func buildTestZone(t *testing.T) *Zone {
	t.Helper()
	origin := mustName(t, "example.org.")
	z := New(origin)

	z.AddRecord(dnsmsg.BuildSOA(origin, 3600, dnsmsg.SOAData{
		MName: mustName(t, "ns1.example.org."), RName: mustName(t, "hostmaster.example.org."),
		Serial: 1, Refresh: 3600, Retry: 900, Expire: 1209600, Minimum: 300,
	}))

	z.AddRecord(dnsmsg.BuildNS(origin, 3600, mustName(t, "ns1.example.org.")))

	aRR, err := dnsmsg.BuildA(mustName(t, "www.example.org."), 300, net.ParseIP("192.0.2.1"))
	require.NoError(t, err)
	z.AddRecord(aRR)

	wcRR, err := dnsmsg.BuildA(mustName(t, "*.wild.example.org."), 300, net.ParseIP("192.0.2.99"))
	require.NoError(t, err)
	z.AddRecord(wcRR)

	return z
}

func TestZoneLookupExact(t *testing.T) {
	z := buildTestZone(t)
	rrs, exists := z.Lookup(mustName(t, "www.example.org."), dnsmsg.TypeA)
	assert.True(t, exists)
	require.Len(t, rrs, 1)
}

func TestZoneLookupNodata(t *testing.T) {
	z := buildTestZone(t)
	rrs, exists := z.Lookup(mustName(t, "www.example.org."), dnsmsg.TypeAAAA)
	assert.True(t, exists)
	assert.Empty(t, rrs)
}

func TestZoneLookupMissingName(t *testing.T) {
	z := buildTestZone(t)
	_, exists := z.Lookup(mustName(t, "nope.example.org."), dnsmsg.TypeA)
	assert.False(t, exists)
}

func TestZoneLookupWildcard(t *testing.T) {
	z := buildTestZone(t)
	rrs, from, found := z.LookupWildcard(mustName(t, "anything.wild.example.org."), dnsmsg.TypeA)
	require.True(t, found)
	assert.Len(t, rrs, 1)
	assert.Equal(t, "wild.example.org.", from.String())
}

func TestZoneLookupWildcardExcludesEmptyNonTerminal(t *testing.T) {
	origin := mustName(t, "example.org.")
	z := New(origin)
	z.AddRecord(dnsmsg.BuildSOA(origin, 3600, dnsmsg.SOAData{
		MName: mustName(t, "ns1.example.org."), RName: mustName(t, "hostmaster.example.org."),
		Serial: 1, Refresh: 3600, Retry: 900, Expire: 1209600, Minimum: 300,
	}))
	z.AddRecord(dnsmsg.BuildNS(origin, 3600, mustName(t, "ns1.example.org.")))

	deepRR, err := dnsmsg.BuildA(mustName(t, "a.b.example.org."), 300, net.ParseIP("192.0.2.5"))
	require.NoError(t, err)
	z.AddRecord(deepRR)

	wcRR, err := dnsmsg.BuildA(mustName(t, "*.example.org."), 300, net.ParseIP("192.0.2.99"))
	require.NoError(t, err)
	z.AddRecord(wcRR)

	// b.example.org. owns no records of its own but a.b.example.org. does:
	// it is an empty non-terminal and must not be synthesized from the
	// *.example.org. wildcard.
	_, _, found := z.LookupWildcard(mustName(t, "b.example.org."), dnsmsg.TypeA)
	assert.False(t, found)

	// A genuinely absent sibling still gets the wildcard.
	rrs, from, found := z.LookupWildcard(mustName(t, "c.example.org."), dnsmsg.TypeA)
	require.True(t, found)
	assert.Len(t, rrs, 1)
	assert.Equal(t, "example.org.", from.String())
}

func TestZoneValidateRequiresSOAAndNS(t *testing.T) {
	z := New(mustName(t, "broken.org."))
	assert.Error(t, z.Validate())
}

func TestZoneValidateRejectsCNAMEMixing(t *testing.T) {
	z := buildTestZone(t)
	z.AddRecord(dnsmsg.BuildCNAME(mustName(t, "www.example.org."), 300, mustName(t, "target.example.org.")))
	assert.Error(t, z.Validate())
}

func TestZoneSerial(t *testing.T) {
	z := buildTestZone(t)
	assert.Equal(t, uint32(1), z.Serial())
}

func TestZoneYAMLRoundTrip(t *testing.T) {
	z := buildTestZone(t)
	out, err := z.ExportYAML()
	require.NoError(t, err)

	reimported, err := ParseYAML(out)
	require.NoError(t, err)

	rrs, exists := reimported.Lookup(mustName(t, "www.example.org."), dnsmsg.TypeA)
	require.True(t, exists)
	require.Len(t, rrs, 1)
	a, err := rrs[0].A()
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1", a.String())

	assert.Equal(t, uint32(1), reimported.Serial())
}
