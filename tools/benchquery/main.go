// Command benchquery sends a steady stream of UDP queries at a target
// server and reports throughput and error counts, for load-testing
// dnsauthd (or any RFC 1035-speaking server) without needing a full
// client library.
package main

import (
	"flag"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/dnsauth/dnsauthd/internal/dnsmsg"
)

var (
	target     = flag.String("target", "127.0.0.1:53", "Target server address")
	qname      = flag.String("qname", "example.org.", "Query name")
	qtype      = flag.String("qtype", "A", "Query type")
	duration   = flag.Duration("duration", 10*time.Second, "Benchmark duration")
	concurrent = flag.Int("concurrency", 8, "Number of concurrent sender goroutines")
)

func main() {
	flag.Parse()

	name, err := dnsmsg.ParseName(*qname)
	if err != nil {
		fmt.Println("invalid qname:", err)
		return
	}
	rrtype, ok := typeFromString(*qtype)
	if !ok {
		fmt.Println("unsupported qtype:", *qtype)
		return
	}

	var sent, received, errored atomic.Uint64
	stop := make(chan struct{})

	for i := 0; i < *concurrent; i++ {
		go func(id int) {
			conn, err := net.Dial("udp", *target)
			if err != nil {
				return
			}
			defer conn.Close()

			var qid uint16
			buf := make([]byte, 512)
			for {
				select {
				case <-stop:
					return
				default:
				}

				qid++
				msg := &dnsmsg.Message{
					Header:   dnsmsg.Header{ID: qid, RD: true},
					Question: []dnsmsg.Question{{Name: name, Type: rrtype, Class: dnsmsg.ClassIN}},
				}
				wire, err := dnsmsg.NewBuilder(512).Build(msg)
				if err != nil {
					errored.Add(1)
					continue
				}
				if _, err := conn.Write(wire); err != nil {
					errored.Add(1)
					continue
				}
				sent.Add(1)

				_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
				if _, err := conn.Read(buf); err != nil {
					errored.Add(1)
					continue
				}
				received.Add(1)
			}
		}(i)
	}

	time.Sleep(*duration)
	close(stop)
	time.Sleep(100 * time.Millisecond)

	elapsed := duration.Seconds()
	fmt.Printf("sent=%d received=%d errors=%d qps=%.1f\n",
		sent.Load(), received.Load(), errored.Load(), float64(sent.Load())/elapsed)
}

func typeFromString(s string) (dnsmsg.RRType, bool) {
	switch s {
	case "A":
		return dnsmsg.TypeA, true
	case "AAAA":
		return dnsmsg.TypeAAAA, true
	case "NS":
		return dnsmsg.TypeNS, true
	case "MX":
		return dnsmsg.TypeMX, true
	case "TXT":
		return dnsmsg.TypeTXT, true
	case "SOA":
		return dnsmsg.TypeSOA, true
	case "ANY":
		return dnsmsg.TypeANY, true
	}
	return 0, false
}
