package reload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dnsauth/dnsauthd/internal/eventbus"
	"github.com/dnsauth/dnsauthd/internal/metrics"
	"github.com/dnsauth/dnsauthd/internal/zonefile"
	"github.com/dnsauth/dnsauthd/internal/zonestore"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const zoneTmpl = `$ORIGIN example.org.
$TTL 3600
@	IN	SOA	ns1.example.org. hostmaster.example.org. (%d 3600 900 1209600 300)
@	IN	NS	ns1.example.org.
ns1	IN	A	192.0.2.1
`

func TestWatcherPublishesReloadOnPoll(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "example.org.zone")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(zoneTmpl, 1)), 0644))

	store := zonestore.New(zonefile.DefaultConfig())
	require.NoError(t, store.LoadFile(path, "example.org.", "bind"))

	bus := eventbus.New()
	events := make(chan eventbus.Event, 8)
	bus.Subscribe(eventbus.ZoneReload, func(ev eventbus.Event) { events <- ev })

	w := New(store, bus, Config{PollInterval: 30 * time.Millisecond, WatchDirs: []string{dir}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	time.Sleep(15 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(zoneTmpl, 2)), 0644))
	newTime := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(path, newTime, newTime))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if len(ev.Origins) > 0 {
				assert.Contains(t, ev.Origins, "example.org.")
				zones := store.Zones()
				require.Len(t, zones, 1)
				assert.Equal(t, uint32(2), zones[0].Serial())
				return
			}
		case <-deadline:
			t.Fatal("watcher never published a reload event with changed origins")
		}
	}
}

func TestWatcherRecordsZoneReloadsMetric(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "example.org.zone")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(zoneTmpl, 1)), 0644))

	store := zonestore.New(zonefile.DefaultConfig())
	require.NoError(t, store.LoadFile(path, "example.org.", "bind"))

	m := metrics.New()
	w := New(store, nil, Config{PollInterval: 30 * time.Millisecond, WatchDirs: []string{dir}, Metrics: m})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	time.Sleep(15 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(zoneTmpl, 2)), 0644))
	newTime := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(path, newTime, newTime))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.ZoneReloads.WithLabelValues("success")) >= 1
	}, 2*time.Second, 10*time.Millisecond)
}
