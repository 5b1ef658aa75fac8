package cookie

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateClientOnlyCookie(t *testing.T) {
	m, err := NewManager(Config{Enabled: true})
	require.NoError(t, err)

	clientCookie := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	verdict, serverCookie := m.Validate(clientCookie, net.ParseIP("198.51.100.1"))
	assert.Equal(t, ClientOnly, verdict)
	assert.Len(t, serverCookie, ServerCookieSize)
}

func TestValidateFullCookieRoundTrip(t *testing.T) {
	m, err := NewManager(Config{Enabled: true})
	require.NoError(t, err)

	ip := net.ParseIP("198.51.100.1")
	clientCookie := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	_, serverCookie := m.Validate(clientCookie, ip)
	full := append(append([]byte(nil), clientCookie...), serverCookie...)

	verdict, echoed := m.Validate(full, ip)
	assert.Equal(t, Valid, verdict)
	assert.Equal(t, serverCookie, echoed)
}

func TestValidateFullCookieWrongIPIsInvalid(t *testing.T) {
	m, err := NewManager(Config{Enabled: true})
	require.NoError(t, err)

	clientCookie := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	_, serverCookie := m.Validate(clientCookie, net.ParseIP("198.51.100.1"))
	full := append(append([]byte(nil), clientCookie...), serverCookie...)

	verdict, _ := m.Validate(full, net.ParseIP("198.51.100.2"))
	assert.Equal(t, Invalid, verdict)
}

func TestValidateMalformedLengths(t *testing.T) {
	m, err := NewManager(Config{Enabled: true})
	require.NoError(t, err)

	for _, n := range []int{0, 3, 7, 9, 23, 25} {
		verdict, cookie := m.Validate(make([]byte, n), net.ParseIP("198.51.100.1"))
		assert.Equal(t, Malformed, verdict, "length %d", n)
		assert.Nil(t, cookie)
	}
}

func TestValidateFullCookieFallsBackToPreviousSecret(t *testing.T) {
	m, err := NewManager(Config{Enabled: true})
	require.NoError(t, err)

	ip := net.ParseIP("198.51.100.1")
	clientCookie := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	_, serverCookie := m.Validate(clientCookie, ip)
	full := append(append([]byte(nil), clientCookie...), serverCookie...)

	require.NoError(t, m.rotateSecret())

	verdict, _ := m.Validate(full, ip)
	assert.Equal(t, Valid, verdict)
}

func TestValidateFullCookieExpiresAfterTwoRotations(t *testing.T) {
	m, err := NewManager(Config{Enabled: true})
	require.NoError(t, err)

	ip := net.ParseIP("198.51.100.1")
	clientCookie := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	_, serverCookie := m.Validate(clientCookie, ip)
	full := append(append([]byte(nil), clientCookie...), serverCookie...)

	require.NoError(t, m.rotateSecret())
	require.NoError(t, m.rotateSecret())

	verdict, _ := m.Validate(full, ip)
	assert.Equal(t, Invalid, verdict)
}

func TestManagerEnabledAndRequireValidAccessors(t *testing.T) {
	m, err := NewManager(Config{Enabled: true, RequireValid: true})
	require.NoError(t, err)
	assert.True(t, m.Enabled())
	assert.True(t, m.RequireValid())

	disabled, err := NewManager(Config{Enabled: false})
	require.NoError(t, err)
	assert.False(t, disabled.Enabled())
}
