// Package trace records per-request timing events and writes request/trace
// records to append-only tab-separated log sinks.
package trace

import "time"

// Event 是一次请求内的一个时间点：距请求开始的毫秒数及事件名。
type Event struct {
	ElapsedMS float64 `json:"elapsed_ms"`
	Name      string  `json:"name"`
}

// Tracer 只属于一个请求，不跨请求共享，因此无需加锁。
type Tracer struct {
	start  time.Time
	events []Event
	now    func() time.Time
}

// New starts a tracer at the current time.
func New() *Tracer {
	return newAt(time.Now)
}

func newAt(now func() time.Time) *Tracer {
	return &Tracer{start: now(), now: now}
}

// Start returns when the request began.
func (t *Tracer) Start() time.Time { return t.start }

// Event 记录一个事件。
func (t *Tracer) Event(name string) {
	elapsed := t.now().Sub(t.start)
	t.events = append(t.events, Event{
		ElapsedMS: float64(elapsed) / float64(time.Millisecond),
		Name:      name,
	})
}

// Events returns the recorded events in order.
func (t *Tracer) Events() []Event {
	return append([]Event(nil), t.events...)
}
