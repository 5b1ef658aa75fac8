// Package cookie implements DNS Cookies (RFC 7873, RFC 9018): a
// lightweight anti-spoofing mechanism exchanged via an EDNS0 option,
// distinct from and much cheaper than full transaction security.
package cookie

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dchest/siphash"
)

const (
	// ClientCookieSize is the fixed size of the client-generated half.
	ClientCookieSize = 8
	// ServerCookieSize is the size of this server's half (version + ts +
	// 8-byte hash, per RFC 7873 §4).
	ServerCookieSize = 16
	minFullCookie    = ClientCookieSize
	maxFullCookie    = ClientCookieSize + ServerCookieSize

	serverCookieVersion = 1
	secretRotationEvery = 24 * time.Hour
)

// Config controls a Manager's behavior.
type Config struct {
	// Enabled turns cookie processing on at all; when false, Manager
	// treats every query as cookie-less (no COOKIE option is added to
	// responses, and RequireValid has no effect).
	Enabled bool
	// RequireValid rejects queries carrying a full (client+server)
	// cookie that doesn't validate against this server's current or
	// immediately previous secret, responding BADCOOKIE instead of
	// answering.
	RequireValid bool
}

// Manager issues and validates server cookies, rotating its secret
// periodically so a compromised-in-the-past secret stops being honored.
type Manager struct {
	cfg Config

	mu        sync.RWMutex
	secret    [16]byte
	prevSecret [16]byte
	haveSecret bool
}

// NewManager creates a Manager with a freshly generated secret.
func NewManager(cfg Config) (*Manager, error) {
	m := &Manager{cfg: cfg}
	if err := m.rotateSecret(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) rotateSecret() error {
	var next [16]byte
	if _, err := rand.Read(next[:]); err != nil {
		return fmt.Errorf("cookie: generating secret: %w", err)
	}
	m.mu.Lock()
	if m.haveSecret {
		m.prevSecret = m.secret
	}
	m.secret = next
	m.haveSecret = true
	m.mu.Unlock()
	return nil
}

// RotatePeriodically rotates the secret every secretRotationEvery until
// stop is closed. Intended to run as a single background goroutine for
// the server's lifetime.
func (m *Manager) RotatePeriodically(stop <-chan struct{}) {
	ticker := time.NewTicker(secretRotationEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = m.rotateSecret()
		case <-stop:
			return
		}
	}
}

// Enabled reports whether cookie processing is turned on.
func (m *Manager) Enabled() bool { return m.cfg.Enabled }

// RequireValid reports whether an invalid full cookie should be rejected
// with BADCOOKIE rather than answered.
func (m *Manager) RequireValid() bool { return m.cfg.RequireValid }

// Verdict is the outcome of validating a cookie option from a query.
type Verdict int

const (
	// NoCookie means the query carried no COOKIE option.
	NoCookie Verdict = iota
	// ClientOnly means the query carried a valid-length client cookie
	// with no server cookie (a new client establishing one).
	ClientOnly
	// Valid means the full cookie validated against this server's secret.
	Valid
	// Invalid means a full cookie was present but didn't validate.
	Invalid
	// Malformed means the COOKIE option had an invalid length.
	Malformed
)

// Validate checks raw (the COOKIE option's wire value) against clientIP,
// and returns both the verdict and the server cookie this server should
// echo back: a freshly minted one for ClientOnly and Invalid, the
// presented one for Valid, and nil for Malformed (which carries no usable
// client cookie to mint against).
func (m *Manager) Validate(raw []byte, clientIP net.IP) (Verdict, []byte) {
	switch {
	case len(raw) < minFullCookie:
		return Malformed, nil
	case len(raw) == ClientCookieSize:
		clientCookie := raw
		return ClientOnly, m.serverCookie(clientCookie, clientIP, m.currentSecret())
	case len(raw) == maxFullCookie:
		clientCookie := raw[:ClientCookieSize]
		serverCookie := raw[ClientCookieSize:]
		if m.validServerCookie(clientCookie, serverCookie, clientIP) {
			return Valid, serverCookie
		}
		return Invalid, m.serverCookie(clientCookie, clientIP, m.currentSecret())
	default:
		return Malformed, nil
	}
}

func (m *Manager) currentSecret() [16]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.secret
}

func (m *Manager) validServerCookie(clientCookie, serverCookie []byte, clientIP net.IP) bool {
	if len(serverCookie) != ServerCookieSize {
		return false
	}
	timestamp := binary.BigEndian.Uint32(serverCookie[4:8])

	m.mu.RLock()
	secret, prev, havePrev := m.secret, m.prevSecret, m.haveSecret
	m.mu.RUnlock()

	want := m.serverCookieAt(clientCookie, clientIP, secret, timestamp)
	if subtle.ConstantTimeCompare(want, serverCookie) == 1 {
		return true
	}
	if havePrev {
		want = m.serverCookieAt(clientCookie, clientIP, prev, timestamp)
		if subtle.ConstantTimeCompare(want, serverCookie) == 1 {
			return true
		}
	}
	return false
}

// serverCookie computes this server's 16-byte half for a freshly issued
// cookie, stamped with the current time.
func (m *Manager) serverCookie(clientCookie []byte, clientIP net.IP, secret [16]byte) []byte {
	return m.serverCookieAt(clientCookie, clientIP, secret, uint32(time.Now().Unix()))
}

// serverCookieAt computes this server's 16-byte half: a 1-byte version,
// 3 reserved zero bytes, a 4-byte timestamp, and an 8-byte SipHash-2-4
// digest over client cookie + client IP + version + timestamp, keyed by
// secret (RFC 7873 §4.3's example construction). Validation must recompute
// the hash against the timestamp embedded in the cookie being checked, not
// the current time, or every previously issued cookie would fail to
// revalidate.
func (m *Manager) serverCookieAt(clientCookie []byte, clientIP net.IP, secret [16]byte, timestamp uint32) []byte {
	out := make([]byte, ServerCookieSize)
	out[0] = serverCookieVersion
	binary.BigEndian.PutUint32(out[4:8], timestamp)

	var msg []byte
	msg = append(msg, clientCookie...)
	msg = append(msg, clientIP...)
	msg = append(msg, out[0:8]...)

	k0 := binary.LittleEndian.Uint64(secret[0:8])
	k1 := binary.LittleEndian.Uint64(secret[8:16])
	hash := siphash.Hash(k0, k1, msg)
	binary.BigEndian.PutUint64(out[8:16], hash)
	return out
}
