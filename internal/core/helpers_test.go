package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"optimus/internal/infra/persistence/memory"
)

// sequenceRandom replays fixed values modulo n.
type sequenceRandom struct {
	mu     sync.Mutex
	values []int
	next   int
}

func (r *sequenceRandom) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.values) == 0 {
		return 0
	}
	v := r.values[r.next%len(r.values)]
	r.next++
	return v % n
}

type notification struct {
	message string
	kind    string
}

type broadcast struct {
	event string
	data  any
}

type captureNotifier struct {
	mu            sync.Mutex
	notifications []notification
	broadcasts    []broadcast
}

func (c *captureNotifier) Notify(_ context.Context, message, kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifications = append(c.notifications, notification{message, kind})
}

func (c *captureNotifier) Broadcast(event string, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broadcasts = append(c.broadcasts, broadcast{event, data})
}

func (c *captureNotifier) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.broadcasts))
	for i, b := range c.broadcasts {
		out[i] = b.event
	}
	return out
}

type metricsCall struct {
	op      string
	success bool
}

type captureMetrics struct {
	mu     sync.Mutex
	calls  []metricsCall
	counts map[string]int
}

func (c *captureMetrics) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, metricsCall{op, success})
}

func (c *captureMetrics) CountEvent(event string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[event] += n
}

func (c *captureMetrics) has(op string, success bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

var testNow = time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC)

func testClock() time.Time { return testNow }

type fixture struct {
	svc      *Service
	store    *memory.Store
	notifier *captureNotifier
	metrics  *captureMetrics
}

func newFixture(t *testing.T, rnd RandomSource) fixture {
	t.Helper()
	if rnd == nil {
		rnd = NewSeededRandom(42)
	}
	store := memory.NewStore(NewDefaultRulesEngine(), memory.WithClock(testClock))
	society := NewSociety(NewPoliticalSystem(rnd), NewJudicialSystem(), NewCitizenPressure(rnd, 0))
	notifier := &captureNotifier{}
	metrics := &captureMetrics{}
	svc, err := NewService(store, society,
		WithClock(testClock),
		WithNotifier(notifier),
		WithMetrics(metrics),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return fixture{svc: svc, store: store, notifier: notifier, metrics: metrics}
}
