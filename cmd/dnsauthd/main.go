// Command dnsauthd runs an authoritative-only DNS server over UDP, TCP,
// DNS-over-TLS, and DNS-over-HTTPS.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/dnsauth/dnsauthd/internal/cookie"
	"github.com/dnsauth/dnsauthd/internal/eventbus"
	"github.com/dnsauth/dnsauthd/internal/metrics"
	"github.com/dnsauth/dnsauthd/internal/reload"
	"github.com/dnsauth/dnsauthd/internal/transport"
	"github.com/dnsauth/dnsauthd/internal/zonefile"
	"github.com/dnsauth/dnsauthd/internal/zonestore"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	udpAddr      = flag.String("udp", ":53", "UDP listen address")
	tcpAddr      = flag.String("tcp", ":53", "TCP listen address")
	udpListeners = flag.Int("listeners", runtime.NumCPU(), "Number of UDP listeners (SO_REUSEPORT-style fan-out)")

	zoneFile   = flag.String("zone", "", "Zone file to load")
	zoneOrigin = flag.String("origin", "", "Zone origin (required with -zone)")
	zoneFormat = flag.String("format", "bind", "Zone file format: bind or yaml")

	enableDoT   = flag.Bool("dot", false, "Enable DNS-over-TLS")
	dotAddr     = flag.String("dot-addr", ":853", "DoT listen address")
	enableDoH   = flag.Bool("doh", false, "Enable DNS-over-HTTPS")
	dohAddr     = flag.String("doh-addr", ":443", "DoH listen address")
	tlsCertFile = flag.String("tls-cert", "", "TLS certificate file, shared by DoT and DoH")
	tlsKeyFile  = flag.String("tls-key", "", "TLS key file, shared by DoT and DoH")

	enableCookies = flag.Bool("cookies", true, "Enable DNS Cookie processing")
	requireCookie = flag.Bool("require-valid-cookie", false, "Reject invalid full cookies with BADCOOKIE")

	reloadInterval = flag.Duration("reload-interval", 30*time.Second, "Zone reload poll interval")
	metricsAddr    = flag.String("metrics", "", "Address to serve Prometheus metrics on (empty disables)")

	ednsUDPMax     = flag.Int("edns-udp-max", 4096, "Maximum EDNS0 UDP payload size advertised and accepted")
	maxConnections = flag.Int("max-connections", 256, "Maximum concurrent TCP/DoT connections")
)

func main() {
	flag.Parse()

	fmt.Println("dnsauthd starting")

	store := zonestore.New(zonefile.DefaultConfig())
	if *zoneFile != "" {
		if *zoneOrigin == "" {
			log.Fatal("dnsauthd: -origin is required with -zone")
		}
		if err := store.LoadFile(*zoneFile, *zoneOrigin, *zoneFormat); err != nil {
			log.Fatalf("dnsauthd: loading zone: %v", err)
		}
		fmt.Printf("loaded zone %s from %s\n", *zoneOrigin, *zoneFile)
	}

	cookieMgr, err := cookie.NewManager(cookie.Config{Enabled: *enableCookies, RequireValid: *requireCookie})
	if err != nil {
		log.Fatalf("dnsauthd: initializing cookie manager: %v", err)
	}

	m := metrics.New()

	if *ednsUDPMax < 512 || *ednsUDPMax > 65535 {
		log.Fatalf("dnsauthd: -edns-udp-max must be between 512 and 65535, got %d", *ednsUDPMax)
	}

	srv, err := transport.New(transport.Config{
		UDPAddr: *udpAddr, UDPListeners: *udpListeners, TCPAddr: *tcpAddr,
		EnableDoT: *enableDoT, DoTAddr: *dotAddr, DoTCertFile: *tlsCertFile, DoTKeyFile: *tlsKeyFile,
		EnableDoH: *enableDoH, DoHAddr: *dohAddr, DoHCertFile: *tlsCertFile, DoHKeyFile: *tlsKeyFile,
		Store: store, Cookies: cookieMgr, Metrics: m,
		MaxConnections: *maxConnections, EDNSUDPMax: uint16(*ednsUDPMax),
	})
	if err != nil {
		log.Fatalf("dnsauthd: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv.Start(ctx)

	bus := eventbus.New()
	if *zoneFile != "" {
		watcher := reload.New(store, bus, reload.Config{
			PollInterval: *reloadInterval,
			WatchDirs:    []string{dirOf(*zoneFile)},
			Metrics:      m,
		})
		go func() { _ = watcher.Run(ctx) }()
	}

	stop := make(chan struct{})
	go cookieMgr.RotatePeriodically(stop)
	defer close(stop)

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
			log.Printf("metrics listening on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	fmt.Printf("serving UDP %s (x%d), TCP %s", *udpAddr, *udpListeners, *tcpAddr)
	if *enableDoT {
		fmt.Printf(", DoT %s", *dotAddr)
	}
	if *enableDoH {
		fmt.Printf(", DoH %s", *dohAddr)
	}
	fmt.Println()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("shutting down")
	cancel()
	_ = srv.Close()
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
