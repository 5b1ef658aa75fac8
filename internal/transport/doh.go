package transport

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/dnsauth/dnsauthd/internal/dnsmsg"
)

const (
	dohDefaultPath    = "/dns-query"
	dohMaxBodyBytes   = 65535
	dohDefaultTimeout = 5 * time.Second
)

// DoHConfig configures a DoHServer.
type DoHConfig struct {
	Address  string
	Path     string
	CertFile string
	KeyFile  string
	Timeout  time.Duration
}

// DoHServer answers queries over DNS-over-HTTPS (RFC 8484): GET requests
// carry the message base64url-encoded in a "dns" query parameter, POST
// requests carry it verbatim as an application/dns-message body.
type DoHServer struct {
	server  *http.Server
	handler Handler
	path    string
}

// NewDoHServer builds (but does not start) a DoHServer.
func NewDoHServer(cfg DoHConfig, handler Handler) *DoHServer {
	path := cfg.Path
	if path == "" {
		path = dohDefaultPath
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = dohDefaultTimeout
	}

	d := &DoHServer{handler: handler, path: path}
	mux := http.NewServeMux()
	mux.HandleFunc(path, d.handleDoH)

	d.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      mux,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	return d
}

// Serve starts the HTTPS listener (TLS is mandatory for DoH per RFC 8484)
// and blocks until ctx is canceled or the server fails.
func (d *DoHServer) Serve(ctx context.Context, certFile, keyFile string) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.server.ListenAndServeTLS(certFile, keyFile)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return d.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (d *DoHServer) handleDoH(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodOptions && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var wire []byte
	var err error
	switch r.Method {
	case http.MethodGet:
		wire, err = parseGET(r)
	case http.MethodPost:
		wire, err = parsePOST(r)
	}
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	query, err := dnsmsg.NewParser(wire).Parse()
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	clientIP := clientIPFromRequest(r)
	resp := d.handler.HandleDNS(r.Context(), query, clientIP)
	if resp == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	out, err := dnsmsg.NewBuilder(maxTCPMessage).Build(resp)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/dns-message")
	w.Header().Set("Cache-Control", cacheControlFor(resp))
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Write(out)
}

func parseGET(r *http.Request) ([]byte, error) {
	encoded := r.URL.Query().Get("dns")
	if encoded == "" {
		return nil, fmt.Errorf("transport: missing dns query parameter")
	}
	if m := len(encoded) % 4; m != 0 {
		encoded += "===="[:4-m]
	}
	return base64.URLEncoding.DecodeString(encoded)
}

func parsePOST(r *http.Request) ([]byte, error) {
	if ct := r.Header.Get("Content-Type"); ct != "application/dns-message" {
		return nil, fmt.Errorf("transport: unsupported content-type %q", ct)
	}
	return io.ReadAll(io.LimitReader(r.Body, dohMaxBodyBytes))
}

// cacheControlFor derives a max-age from the minimum TTL across the
// response's answer section, falling back to a short ceiling for
// non-success responses so resolvers don't cache failures for long.
func cacheControlFor(resp *dnsmsg.Message) string {
	if resp.Header.Rcode != dnsmsg.RCodeSuccess || len(resp.Answer) == 0 {
		return "max-age=60"
	}
	min := resp.Answer[0].TTL
	for _, rr := range resp.Answer[1:] {
		if rr.TTL < min {
			min = rr.TTL
		}
	}
	if min == 0 {
		min = 300
	}
	return "max-age=" + strconv.FormatUint(uint64(min), 10)
}

func clientIPFromRequest(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return net.ParseIP(r.RemoteAddr)
	}
	return net.ParseIP(host)
}
