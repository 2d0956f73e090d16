// Package notify keeps the user-facing notification log and routes realtime
// events to connected clients, queueing them while nobody is listening.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"optimus/internal/blob"
	"optimus/internal/realtime"
)

const (
	// DefaultLimit bounds the notification log.
	DefaultLimit = 100
	// DefaultPendingLimit bounds the queue of undelivered events.
	DefaultPendingLimit = 100
	// BlobKey is where the log is mirrored.
	BlobKey = "notifications.json"
	// EventNewNotification is broadcast for every added notification.
	EventNewNotification = "new_notification"
	// DefaultType is used when Add is called without a type.
	DefaultType = "info"
)

// Notification is one entry of the log.
type Notification struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// Broadcaster delivers events to clients and mirrors. *realtime.Hub satisfies it.
type Broadcaster interface {
	Send(ev realtime.Event) int
	Mirror(ctx context.Context, ev realtime.Event)
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLimits overrides the log and pending queue bounds. Non-positive values keep the defaults.
func WithLimits(limit, pending int) Option {
	return func(m *Manager) {
		if limit > 0 {
			m.limit = limit
		}
		if pending > 0 {
			m.pendingLimit = pending
		}
	}
}

// WithIDGenerator overrides notification id generation.
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) {
		if gen != nil {
			m.newID = gen
		}
	}
}

// Manager owns the notification log and the pending event queue.
type Manager struct {
	mu    sync.Mutex
	items []Notification

	// queueMu is held across a send and the enqueue that follows it, so a
	// client joining in between flushes only after the event is queued.
	queueMu sync.Mutex
	pending []realtime.Event

	// persistMu serializes blob rewrites so the newest list wins.
	persistMu sync.Mutex

	limit        int
	pendingLimit int
	store        blob.Store
	hub          Broadcaster
	logger       *slog.Logger
	now          func() time.Time
	newID        func() string
}

// New constructs a Manager. Both store and hub are required.
func New(store blob.Store, hub Broadcaster, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("notify: blob store is required")
	}
	if hub == nil {
		return nil, errors.New("notify: broadcaster is required")
	}
	m := &Manager{
		limit:        DefaultLimit,
		pendingLimit: DefaultPendingLimit,
		store:        store,
		hub:          hub,
		logger:       slog.Default(),
		now:          func() time.Time { return time.Now().UTC() },
		newID:        func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Add records a notification, mirrors the log to the blob store and
// broadcasts it. Persistence failures are logged only.
func (m *Manager) Add(ctx context.Context, message, kind string) Notification {
	if kind == "" {
		kind = DefaultType
	}
	n := Notification{ID: m.newID(), Message: message, Type: kind, Timestamp: m.now()}

	m.mu.Lock()
	m.items = append(m.items, n)
	if over := len(m.items) - m.limit; over > 0 {
		m.items = append([]Notification(nil), m.items[over:]...)
	}
	m.mu.Unlock()

	m.persist(ctx)
	m.BroadcastContext(ctx, EventNewNotification, n)
	return n
}

// Notify adds a notification, discarding the result.
func (m *Manager) Notify(ctx context.Context, message, kind string) {
	m.Add(ctx, message, kind)
}

// Broadcast routes an event with a background context.
func (m *Manager) Broadcast(event string, data any) {
	m.BroadcastContext(context.Background(), event, data)
}

// BroadcastContext mirrors the event and sends it to connected clients. When
// no client receives it the event is queued for the next connection; the
// oldest queued event is dropped once the queue is full.
func (m *Manager) BroadcastContext(ctx context.Context, event string, data any) {
	ev := realtime.Event{Name: event, Data: data}
	m.hub.Mirror(ctx, ev)
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	if m.hub.Send(ev) > 0 {
		return
	}
	m.pending = append(m.pending, ev)
	if over := len(m.pending) - m.pendingLimit; over > 0 {
		m.logger.Debug("pending event queue full", "dropped", over)
		m.pending = append([]realtime.Event(nil), m.pending[over:]...)
	}
}

// OnConnect flushes the pending queue to every connected client and clears
// it. Clients connecting together after a gap all receive the same flush.
func (m *Manager) OnConnect() {
	m.queueMu.Lock()
	queued := m.pending
	m.pending = nil
	for _, ev := range queued {
		m.hub.Send(ev)
	}
	m.queueMu.Unlock()
	if len(queued) > 0 {
		m.logger.Info("flushed pending events", "count", len(queued))
	}
}

// PendingCount reports how many events are waiting for a client.
func (m *Manager) PendingCount() int {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	return len(m.pending)
}

// List returns the notifications, oldest first, optionally filtered by type.
func (m *Manager) List(kind string) []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Notification, 0, len(m.items))
	for _, n := range m.items {
		if kind != "" && n.Type != kind {
			continue
		}
		out = append(out, n)
	}
	return out
}

// Reset clears the log and deletes any notification blob left by a previous run.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	m.items = nil
	m.mu.Unlock()
	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	if _, err := m.store.Delete(ctx, BlobKey); err != nil {
		return fmt.Errorf("reset notifications: %w", err)
	}
	return nil
}

// Load replaces the in-memory log with the persisted one. A missing blob is
// not an error.
func (m *Manager) Load(ctx context.Context) error {
	_, rc, err := m.store.Get(ctx, BlobKey)
	if errors.Is(err, blob.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load notifications: %w", err)
	}
	defer rc.Close()
	var items []Notification
	if err := json.NewDecoder(rc).Decode(&items); err != nil {
		return fmt.Errorf("decode notifications: %w", err)
	}
	if over := len(items) - m.limit; over > 0 {
		items = items[over:]
	}
	m.mu.Lock()
	m.items = items
	m.mu.Unlock()
	return nil
}

func (m *Manager) persist(ctx context.Context) {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	data, err := json.Marshal(m.items)
	m.mu.Unlock()
	if err != nil {
		m.logger.ErrorContext(ctx, "encode notifications", "error", err)
		return
	}
	if err := m.write(ctx, data); err != nil {
		m.logger.ErrorContext(ctx, "persist notifications", "key", BlobKey, "error", err)
	}
}

func (m *Manager) write(ctx context.Context, data []byte) error {
	if _, err := m.store.Delete(ctx, BlobKey); err != nil {
		return err
	}
	_, err := m.store.Put(ctx, BlobKey, bytes.NewReader(data), blob.PutOptions{ContentType: "application/json"})
	return err
}
