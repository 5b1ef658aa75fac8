package eventbus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishDeliversToSubscribersInOrder(t *testing.T) {
	b := New()
	var order []int
	b.Subscribe(ZoneReload, func(ev Event) { order = append(order, 1) })
	b.Subscribe(ZoneReload, func(ev Event) { order = append(order, 2) })

	b.Publish(Event{Topic: ZoneReload, Origins: []string{"example.org."}})

	assert.Equal(t, []int{1, 2}, order)
}

func TestPublishOnlyReachesMatchingTopic(t *testing.T) {
	b := New()
	var got []Event
	b.Subscribe(ZoneReload, func(ev Event) { got = append(got, ev) })

	b.Publish(Event{Topic: Topic("other.topic")})
	assert.Empty(t, got)

	b.Publish(Event{Topic: ZoneReload, Origins: []string{"a."}})
	assert.Len(t, got, 1)
	assert.Equal(t, []string{"a."}, got[0].Origins)
}

func TestPublishCarriesErr(t *testing.T) {
	b := New()
	var received Event
	b.Subscribe(ZoneReload, func(ev Event) { received = ev })

	wantErr := errors.New("reload failed")
	b.Publish(Event{Topic: ZoneReload, Err: wantErr})

	assert.ErrorIs(t, received.Err, wantErr)
}

func TestPublishWithNoSubscribersDoesNotPanic(t *testing.T) {
	b := New()
	assert.NotPanics(t, func() {
		b.Publish(Event{Topic: ZoneReload})
	})
}
