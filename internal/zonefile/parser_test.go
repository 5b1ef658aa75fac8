package zonefile

import (
	"testing"

	"github.com/dnsauth/dnsauthd/internal/dnsmsg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFileExampleOrg(t *testing.T) {
	z, err := ParseFile("testdata/example.org.bind", "example.org.", DefaultConfig())
	require.NoError(t, err)

	soa, ok := z.SOA()
	require.True(t, ok)
	soaData, err := soa.SOA()
	require.NoError(t, err)
	assert.Equal(t, uint32(2024010100), soaData.Serial)
	assert.Equal(t, uint32(3600), soaData.Refresh)
	assert.Equal(t, uint32(900), soaData.Retry)
	assert.Equal(t, uint32(1209600), soaData.Expire)
	assert.Equal(t, uint32(300), soaData.Minimum)
	assert.Equal(t, "ns1.example.org.", soaData.MName.String())

	ns := z.Nameservers()
	require.Len(t, ns, 2)

	apex, err := dnsmsg.ParseName("example.org.")
	require.NoError(t, err)
	apexA, exists := z.Lookup(apex, dnsmsg.TypeA)
	require.True(t, exists)
	require.Len(t, apexA, 1)
	ip, err := apexA[0].A()
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1", ip.String())

	www, err := dnsmsg.ParseName("www.example.org.")
	require.NoError(t, err)
	wwwA, _ := z.Lookup(www, dnsmsg.TypeA)
	require.Len(t, wwwA, 1)
	wwwAAAA, _ := z.Lookup(www, dnsmsg.TypeAAAA)
	require.Len(t, wwwAAAA, 1)

	ftp, err := dnsmsg.ParseName("ftp.example.org.")
	require.NoError(t, err)
	ftpCNAME, _ := z.Lookup(ftp, dnsmsg.TypeCNAME)
	require.Len(t, ftpCNAME, 1)
	target, err := ftpCNAME[0].Target()
	require.NoError(t, err)
	assert.Equal(t, "www.example.org.", target.String())

	sip, err := dnsmsg.ParseName("sip.example.org.")
	require.NoError(t, err)
	sipSRV, _ := z.Lookup(sip, dnsmsg.TypeSRV)
	require.Len(t, sipSRV, 1)
	srvData, err := sipSRV[0].SRV()
	require.NoError(t, err)
	assert.Equal(t, uint16(5060), srvData.Port)

	txt, err := dnsmsg.ParseName("txt.example.org.")
	require.NoError(t, err)
	txtRRs, _ := z.Lookup(txt, dnsmsg.TypeTXT)
	require.Len(t, txtRRs, 1)
	strs, err := txtRRs[0].TXT()
	require.NoError(t, err)
	assert.Equal(t, []string{"v=spf1 mx -all"}, strs)

	wildcard, from, found := z.LookupWildcard(mustParseName(t, "nonexistent.example.org."), dnsmsg.TypeA)
	require.True(t, found)
	assert.Equal(t, "example.org.", from.String())
	require.Len(t, wildcard, 1)
}

func mustParseName(t *testing.T, s string) dnsmsg.Name {
	t.Helper()
	n, err := dnsmsg.ParseName(s)
	require.NoError(t, err)
	return n
}

func TestParseTTLSuffixes(t *testing.T) {
	cases := map[string]uint32{
		"3600": 3600,
		"1h":   3600,
		"1d":   86400,
		"1w":   604800,
		"90m":  5400,
		"1h30m": 5400,
	}
	for in, want := range cases {
		got, err := parseTTL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParseStoresGenericUnknownTypeVerbatim(t *testing.T) {
	st := &state{origin: mustParseName(t, "example.org."), defaultTTL: 3600}
	rr, err := parseRecordLine(`www IN TYPE65280 \# 4 DEADBEEF`, false, st)
	require.NoError(t, err)
	assert.Equal(t, dnsmsg.RRType(65280), rr.Type)
	assert.Equal(t, []byte(`\# 4 DEADBEEF`), rr.RData)
}

func TestParseStoresDNSKEYOpaque(t *testing.T) {
	st := &state{origin: mustParseName(t, "example.org."), defaultTTL: 3600}
	rr, err := parseRecordLine("example.org. IN DNSKEY 257 3 8 AwEAAag=", false, st)
	require.NoError(t, err)
	assert.Equal(t, dnsmsg.TypeDNSKEY, rr.Type)
	assert.Equal(t, []byte("257 3 8 AwEAAag="), rr.RData)
}

func TestParseRejectsGenuinelyUnrecognizedMnemonic(t *testing.T) {
	st := &state{origin: mustParseName(t, "example.org."), defaultTTL: 3600}
	_, err := parseRecordLine("www IN BOGUS foo", false, st)
	assert.Error(t, err)
}
