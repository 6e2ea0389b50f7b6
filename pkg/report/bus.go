package report

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kart-io/commshub/pkg/logger"
)

// DefaultBufferSize is the per-subscription queue capacity.
const DefaultBufferSize = 256

// Bus fans reports out to subscriptions. Every subscription owns a bounded
// queue and a goroutine; Publish never blocks. When a queue is full the report
// is dropped for that subscription and counted.
type Bus struct {
	mu     sync.Mutex
	subs   atomic.Pointer[[]*Subscription]
	buffer int
	logger logger.Logger
	closed bool
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBufferSize sets the per-subscription queue capacity.
func WithBufferSize(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithLogger sets the bus logger.
func WithLogger(l logger.Logger) BusOption {
	return func(b *Bus) {
		b.logger = logger.OrDiscard(l)
	}
}

// NewBus creates a bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{buffer: DefaultBufferSize, logger: logger.Discard}
	for _, opt := range opts {
		opt(b)
	}
	empty := []*Subscription{}
	b.subs.Store(&empty)
	return b
}

// Subscribe registers observer. A report is delivered when it matches every
// filter given.
func (b *Bus) Subscribe(observer Observer, filters ...Filter) *Subscription {
	s := &Subscription{
		bus:      b,
		observer: observer,
		filters:  filters,
		queue:    make(chan *Report, b.buffer),
		done:     make(chan struct{}),
		logger:   b.logger,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.once.Do(func() {
			s.closed.Store(true)
			close(s.done)
		})
		return s
	}
	current := *b.subs.Load()
	next := make([]*Subscription, len(current), len(current)+1)
	copy(next, current)
	next = append(next, s)
	b.subs.Store(&next)

	s.wg.Add(1)
	go s.run()
	return s
}

// Publish enqueues r on every matching subscription without blocking.
func (b *Bus) Publish(r *Report) {
	if r == nil {
		return
	}
	for _, s := range *b.subs.Load() {
		s.offer(r)
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Bus) Subscribers() int {
	return len(*b.subs.Load())
}

// Close stops accepting reports and waits until every subscription has
// delivered what it already queued.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	subs := *b.subs.Load()
	b.mu.Unlock()
	for _, s := range subs {
		s.drain()
	}
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	current := *b.subs.Load()
	next := make([]*Subscription, 0, len(current))
	for _, c := range current {
		if c != s {
			next = append(next, c)
		}
	}
	b.subs.Store(&next)
}

// Subscription is one observer's registration on a Bus.
type Subscription struct {
	bus      *Bus
	observer Observer
	filters  []Filter
	queue    chan *Report
	done     chan struct{}
	logger   logger.Logger

	// mu guards closing queue against concurrent offers.
	mu        sync.RWMutex
	closed    atomic.Bool
	once      sync.Once
	wg        sync.WaitGroup
	dropped   atomic.Int64
	delivered atomic.Int64
	panics    atomic.Int64
}

// Close stops further delivery and waits for a report already being
// delivered. Queued reports are discarded. It must not be called from the
// subscription's own observer.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed.Store(true)
		s.mu.Unlock()
		s.bus.remove(s)
		close(s.done)
	})
	s.wg.Wait()
}

// drain stops accepting reports and waits until the queue is empty.
func (s *Subscription) drain() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed.Store(true)
		close(s.queue)
		s.mu.Unlock()
		s.bus.remove(s)
	})
	s.wg.Wait()
}

// Dropped returns how many reports were discarded because the queue was full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Delivered returns how many reports reached the observer.
func (s *Subscription) Delivered() int64 { return s.delivered.Load() }

// Panics returns how many observer calls panicked.
func (s *Subscription) Panics() int64 { return s.panics.Load() }

func (s *Subscription) matches(r *Report) bool {
	for _, f := range s.filters {
		if !f.Matches(r) {
			return false
		}
	}
	return true
}

func (s *Subscription) offer(r *Report) {
	if !s.matches(r) {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return
	}
	select {
	case s.queue <- r:
	default:
		s.dropped.Add(1)
		s.logger.Warn("Report dropped, subscriber queue full", "report_id", r.ID, "event", r.EventName)
	}
}

func (s *Subscription) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case r, ok := <-s.queue:
			if !ok {
				return
			}
			select {
			case <-s.done:
				return
			default:
			}
			s.deliver(r)
		}
	}
}

func (s *Subscription) deliver(r *Report) {
	defer func() {
		if p := recover(); p != nil {
			s.panics.Add(1)
			s.logger.Error("Report observer panicked", "report_id", r.ID, "panic", fmt.Sprint(p))
		}
	}()
	s.observer.OnReport(r)
	s.delivered.Add(1)
}
