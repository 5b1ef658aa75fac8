package transport

import (
	"bytes"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dnsauth/dnsauthd/internal/dnsmsg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestQueryWire(t *testing.T) []byte {
	t.Helper()
	name, err := dnsmsg.ParseName("www.example.org.")
	require.NoError(t, err)
	query := &dnsmsg.Message{
		Header:   dnsmsg.Header{ID: 42, RD: true, Opcode: dnsmsg.OpcodeQuery},
		Question: []dnsmsg.Question{{Name: name, Type: dnsmsg.TypeA, Class: dnsmsg.ClassIN}},
	}
	wire, err := dnsmsg.NewBuilder(512).Build(query)
	require.NoError(t, err)
	return wire
}

func TestDoHServerAnswersGETQuery(t *testing.T) {
	d := NewDoHServer(DoHConfig{}, echoAHandler(t))
	ts := httptest.NewServer(http.HandlerFunc(d.handleDoH))
	defer ts.Close()

	wire := buildTestQueryWire(t)
	encoded := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(wire)

	resp, err := http.Get(ts.URL + dohDefaultPath + "?dns=" + encoded)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/dns-message", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	parsed, err := dnsmsg.NewParser(body).Parse()
	require.NoError(t, err)
	assert.Equal(t, uint16(42), parsed.Header.ID)
	require.Len(t, parsed.Answer, 1)
}

func TestDoHServerAnswersPOSTQuery(t *testing.T) {
	d := NewDoHServer(DoHConfig{}, echoAHandler(t))
	ts := httptest.NewServer(http.HandlerFunc(d.handleDoH))
	defer ts.Close()

	wire := buildTestQueryWire(t)
	req, err := http.NewRequest(http.MethodPost, ts.URL+dohDefaultPath, bytes.NewReader(wire))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/dns-message")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	parsed, err := dnsmsg.NewParser(body).Parse()
	require.NoError(t, err)
	require.Len(t, parsed.Answer, 1)
}

func TestDoHServerRejectsMissingDNSParam(t *testing.T) {
	d := NewDoHServer(DoHConfig{}, echoAHandler(t))
	ts := httptest.NewServer(http.HandlerFunc(d.handleDoH))
	defer ts.Close()

	resp, err := http.Get(ts.URL + dohDefaultPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDoHServerRejectsUnsupportedMethod(t *testing.T) {
	d := NewDoHServer(DoHConfig{}, echoAHandler(t))
	ts := httptest.NewServer(http.HandlerFunc(d.handleDoH))
	defer ts.Close()

	req, err := http.NewRequest(http.MethodPut, ts.URL+dohDefaultPath, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestCacheControlForUsesMinimumAnswerTTL(t *testing.T) {
	resp := &dnsmsg.Message{
		Header: dnsmsg.Header{Rcode: dnsmsg.RCodeSuccess},
		Answer: []dnsmsg.ResourceRecord{{TTL: 300}, {TTL: 60}},
	}
	assert.Equal(t, "max-age=60", cacheControlFor(resp))
}

func TestCacheControlForFallsBackOnFailure(t *testing.T) {
	resp := &dnsmsg.Message{Header: dnsmsg.Header{Rcode: dnsmsg.RCodeNameError}}
	assert.Equal(t, "max-age=60", cacheControlFor(resp))
}

