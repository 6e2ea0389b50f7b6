package report

import (
	"sync"
	"time"
)

// Monitor is an observer that applies its own filter before handing reports
// to a handler.
type Monitor struct {
	filter  Filter
	handler func(*Report)
}

// NewMonitor creates a monitor. A zero filter passes every report.
func NewMonitor(filter Filter, handler func(*Report)) *Monitor {
	return &Monitor{filter: filter, handler: handler}
}

// OnReport implements Observer.
func (m *Monitor) OnReport(r *Report) {
	if m.filter.Matches(r) && m.handler != nil {
		m.handler(r)
	}
}

// Attach subscribes the monitor to bus.
func (m *Monitor) Attach(bus *Bus) *Subscription {
	return bus.Subscribe(m, m.filter)
}

// Recorder is an observer keeping every report in memory.
type Recorder struct {
	mu      sync.Mutex
	reports []*Report
	notify  chan struct{}
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

// OnReport implements Observer.
func (r *Recorder) OnReport(rep *Report) {
	r.mu.Lock()
	r.reports = append(r.reports, rep)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Reports returns a copy of the recorded reports.
func (r *Recorder) Reports() []*Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Report(nil), r.reports...)
}

// Len returns the number of recorded reports.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reports)
}

// WaitFor blocks until at least n reports were recorded or timeout elapses.
func (r *Recorder) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if r.Len() >= n {
			return true
		}
		select {
		case <-r.notify:
		case <-deadline.C:
			return r.Len() >= n
		}
	}
}
