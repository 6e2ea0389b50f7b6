package report

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/commshub/pkg/status"
)

func sample(event, channel string) *Report {
	return (&Report{EventName: event, ChannelID: channel, ProviderID: "twilio", Intent: "otp", Status: status.Dispatched}).Normalize()
}

func TestFilterIsConjunctive(t *testing.T) {
	f := Filter{EventNames: []string{"e1"}, ChannelIDs: []string{"c1"}}

	tests := []struct {
		event, channel string
		want           bool
	}{
		{"e1", "c1", true},
		{"E1", "C1", true},
		{"e1", "c2", false},
		{"e2", "c1", false},
		{"e2", "c2", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, f.Matches(sample(tt.event, tt.channel)), "%s/%s", tt.event, tt.channel)
	}
	assert.True(t, Filter{}.Matches(sample("anything", "any")))
	assert.True(t, Filter{}.IsEmpty())
	assert.False(t, f.Matches(nil))
}

func TestMonitorFilters(t *testing.T) {
	var got []*Report
	m := NewMonitor(Filter{EventNames: []string{"e1"}, ChannelIDs: []string{"c1"}}, func(r *Report) { got = append(got, r) })
	m.OnReport(sample("e1", "c1"))
	m.OnReport(sample("e1", "c2"))
	m.OnReport(sample("e2", "c1"))
	require.Len(t, got, 1)

	all := 0
	unfiltered := NewMonitor(Filter{}, func(*Report) { all++ })
	unfiltered.OnReport(sample("e1", "c1"))
	unfiltered.OnReport(sample("x", "y"))
	assert.Equal(t, 2, all)
}

func TestBusDeliversToMatchingSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	all := NewRecorder()
	sms := NewRecorder()
	bus.Subscribe(all)
	bus.Subscribe(sms, Filter{ChannelIDs: []string{"SMS"}})
	assert.Equal(t, 2, bus.Subscribers())

	bus.Publish(sample(EventDispatched, "sms"))
	bus.Publish(sample(EventDispatched, "email"))
	bus.Publish(nil)

	require.True(t, all.WaitFor(2, time.Second))
	require.True(t, sms.WaitFor(1, time.Second))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, sms.Len())
}

func TestObserverPanicIsIsolated(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	bad := bus.Subscribe(ObserverFunc(func(*Report) { panic("observer failure") }))
	good := NewRecorder()
	bus.Subscribe(good)

	assert.NotPanics(t, func() { bus.Publish(sample(EventError, "email")) })
	require.True(t, good.WaitFor(1, time.Second))
	assert.Eventually(t, func() bool { return bad.Panics() == 1 }, time.Second, 5*time.Millisecond)

	bus.Publish(sample(EventError, "email"))
	require.True(t, good.WaitFor(2, time.Second))
}

func TestSlowSubscriberDropsWithoutBlocking(t *testing.T) {
	bus := NewBus(WithBufferSize(2))
	defer bus.Close()

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	slow := bus.Subscribe(ObserverFunc(func(*Report) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	}))
	bus.Publish(sample(EventDispatched, "a"))
	<-started

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(sample(EventDispatched, "b"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	assert.Equal(t, int64(8), slow.Dropped())
	close(release)
	assert.Eventually(t, func() bool { return slow.Delivered() == 3 }, time.Second, 5*time.Millisecond)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	rec := NewRecorder()
	sub := bus.Subscribe(rec)
	bus.Publish(sample(EventDispatched, "a"))
	require.True(t, rec.WaitFor(1, time.Second))

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, bus.Subscribers())
	bus.Publish(sample(EventDispatched, "a"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, rec.Len())
	assert.Equal(t, int64(1), sub.Delivered())
}

func TestCloseDeliversQueuedReports(t *testing.T) {
	bus := NewBus()
	var (
		mu  sync.Mutex
		got int
	)
	sub := bus.Subscribe(ObserverFunc(func(*Report) {
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		got++
		mu.Unlock()
	}))
	for i := 0; i < 5; i++ {
		bus.Publish(sample(EventDispatched, "a"))
	}

	bus.Close()
	mu.Lock()
	assert.Equal(t, 5, got)
	mu.Unlock()
	assert.Equal(t, int64(5), sub.Delivered())
	assert.Equal(t, 0, bus.Subscribers())

	bus.Publish(sample(EventDispatched, "a"))
	assert.Equal(t, int64(5), sub.Delivered())
	sub.Close()
}

func TestConcurrentSubscribeAndPublish(t *testing.T) {
	bus := NewBus()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s := bus.Subscribe(NewRecorder())
			s.Close()
		}()
		go func() {
			defer wg.Done()
			bus.Publish(sample(EventDispatched, "c"))
		}()
	}
	wg.Wait()
	bus.Close()

	late := bus.Subscribe(NewRecorder())
	assert.Equal(t, 0, bus.Subscribers())
	late.Close()
}

func TestFromResult(t *testing.T) {
	res := &status.DispatchResult{Status: status.DispatcherFailed, ChannelID: "sms", ProviderID: "twilio", Intent: "otp"}
	r := FromResult("d-1", res, nil, nil, errors.New("timeout"))
	assert.Equal(t, EventError, r.EventName)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, "d-1", r.DispatchID)

	r = FromResult("d-1", status.NewResult(status.Dispatched), nil, nil, nil)
	assert.Equal(t, EventDispatched, r.EventName)
}

func TestCloudEventRoundTrip(t *testing.T) {
	r := sample(EventError, "sms")
	r.Err = errors.New("carrier rejected")
	r.ResourceID = "SM123"

	e, err := ToCloudEvent(r)
	require.NoError(t, err)
	assert.Equal(t, "io.commshub.report.error", e.Type())
	assert.Equal(t, "sms", e.Subject())
	assert.Equal(t, "otp", e.Extensions()["intent"])

	back, err := FromCloudEvent(e)
	require.NoError(t, err)
	assert.Equal(t, EventError, back.EventName)
	assert.Equal(t, "SM123", back.ResourceID)
	assert.Equal(t, r.Status, back.Status)
	assert.EqualError(t, back.Err, "carrier rejected")

	data, err := MarshalCloudEvent(r)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"specversion":"1.0"`)
}
