package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optimus/internal/blob"
	memblob "optimus/internal/infra/blob/memory"
	"optimus/internal/realtime"
)

type fakeHub struct {
	mu       sync.Mutex
	clients  int
	sent     []realtime.Event
	mirrored []string
}

func (h *fakeHub) Send(ev realtime.Event) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients == 0 {
		return 0
	}
	h.sent = append(h.sent, ev)
	return h.clients
}

func (h *fakeHub) Mirror(_ context.Context, ev realtime.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mirrored = append(h.mirrored, ev.Name)
}

func (h *fakeHub) sentNames() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.sent))
	for i, ev := range h.sent {
		out[i] = ev.Name
	}
	return out
}

var fixedNow = time.Date(2024, 2, 2, 8, 0, 0, 0, time.UTC)

func newManager(t *testing.T, store blob.Store, hub Broadcaster, opts ...Option) *Manager {
	t.Helper()
	seq := 0
	opts = append([]Option{
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(func() string { seq++; return fmt.Sprintf("n-%d", seq) }),
	}, opts...)
	m, err := New(store, hub, opts...)
	require.NoError(t, err)
	return m
}

func readBlob(t *testing.T, store blob.Store) []Notification {
	t.Helper()
	info, rc, err := store.Get(context.Background(), BlobKey)
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, "application/json", info.ContentType)
	var out []Notification
	require.NoError(t, json.NewDecoder(rc).Decode(&out))
	return out
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(nil, &fakeHub{})
	require.Error(t, err)
	_, err = New(memblob.New(), nil)
	require.Error(t, err)
}

func TestAddPersistsAndBroadcasts(t *testing.T) {
	store := memblob.New()
	hub := &fakeHub{clients: 1}
	m := newManager(t, store, hub)
	ctx := context.Background()

	n := m.Add(ctx, "New norm created: Law 1", "")
	assert.Equal(t, Notification{ID: "n-1", Message: "New norm created: Law 1", Type: "info", Timestamp: fixedNow}, n)
	m.Add(ctx, "Norm #1 has been marked as unconstitutional.", "warning")

	persisted := readBlob(t, store)
	require.Len(t, persisted, 2)
	assert.Equal(t, "n-2", persisted[1].ID)
	assert.Equal(t, []string{EventNewNotification, EventNewNotification}, hub.sentNames())
	assert.Equal(t, []string{EventNewNotification, EventNewNotification}, hub.mirrored)

	assert.Len(t, m.List(""), 2)
	warnings := m.List("warning")
	require.Len(t, warnings, 1)
	assert.Equal(t, "n-2", warnings[0].ID)
}

func TestAddTrimsToLimit(t *testing.T) {
	store := memblob.New()
	m := newManager(t, store, &fakeHub{}, WithLimits(3, 0))
	for i := 0; i < 5; i++ {
		m.Notify(context.Background(), fmt.Sprintf("msg %d", i), "info")
	}
	items := m.List("")
	require.Len(t, items, 3)
	assert.Equal(t, "msg 2", items[0].Message)
	assert.Len(t, readBlob(t, store), 3)
}

func TestPendingQueueFlushOnConnect(t *testing.T) {
	hub := &fakeHub{}
	m := newManager(t, memblob.New(), hub, WithLimits(0, 2))

	m.Broadcast("norm_created", 1)
	m.Broadcast("case_created", 2)
	m.Broadcast("case_solved", 3)
	assert.Equal(t, 2, m.PendingCount())
	assert.Equal(t, []string{"norm_created", "case_created", "case_solved"}, hub.mirrored)

	hub.clients = 2
	m.OnConnect()
	assert.Equal(t, []string{"case_created", "case_solved"}, hub.sentNames())
	assert.Equal(t, 0, m.PendingCount())

	m.OnConnect()
	assert.Len(t, hub.sent, 2)

	m.Broadcast("day_advanced", nil)
	assert.Equal(t, 0, m.PendingCount())
}

type failingStore struct {
	blob.Store
	deleteErr error
	getErr    error
	body      string
}

func (f failingStore) Put(context.Context, string, io.Reader, blob.PutOptions) (blob.Info, error) {
	return blob.Info{}, errors.New("disk full")
}

func (f failingStore) Delete(context.Context, string) (bool, error) { return false, f.deleteErr }

func (f failingStore) Get(context.Context, string) (blob.Info, io.ReadCloser, error) {
	if f.getErr != nil {
		return blob.Info{}, nil, f.getErr
	}
	return blob.Info{}, io.NopCloser(strings.NewReader(f.body)), nil
}

func TestPersistFailureDoesNotFailAdd(t *testing.T) {
	hub := &fakeHub{clients: 1}
	m := newManager(t, failingStore{}, hub)
	n := m.Add(context.Background(), "still delivered", "success")
	assert.Equal(t, "still delivered", n.Message)
	assert.Len(t, m.List("success"), 1)
	assert.Equal(t, []string{EventNewNotification}, hub.sentNames())
}

func TestResetDeletesBlob(t *testing.T) {
	store := memblob.New()
	m := newManager(t, store, &fakeHub{})
	ctx := context.Background()
	m.Add(ctx, "old run", "info")

	require.NoError(t, m.Reset(ctx))
	assert.Empty(t, m.List(""))
	_, _, err := store.Get(ctx, BlobKey)
	assert.ErrorIs(t, err, blob.ErrNotFound)

	require.NoError(t, m.Reset(ctx))

	bad := newManager(t, failingStore{deleteErr: errors.New("denied")}, &fakeHub{})
	require.ErrorContains(t, bad.Reset(ctx), "denied")
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	store := memblob.New()
	m := newManager(t, store, &fakeHub{})
	require.NoError(t, m.Load(ctx))
	m.Add(ctx, "a", "info")
	m.Add(ctx, "b", "info")

	reloaded := newManager(t, store, &fakeHub{}, WithLimits(1, 0))
	require.NoError(t, reloaded.Load(ctx))
	items := reloaded.List("")
	require.Len(t, items, 1)
	assert.Equal(t, "b", items[0].Message)

	corrupt := newManager(t, failingStore{body: "{"}, &fakeHub{})
	require.Error(t, corrupt.Load(ctx))
	broken := newManager(t, failingStore{getErr: errors.New("timeout")}, &fakeHub{})
	require.Error(t, broken.Load(ctx))
}

// joiningHub reports no receivers for the first send and lets a client join
// right after it, before the caller has queued the event.
type joiningHub struct {
	fakeHub
	first  atomic.Bool
	joined chan struct{}
	m      *Manager
}

func (h *joiningHub) Send(ev realtime.Event) int {
	delivered := h.fakeHub.Send(ev)
	if h.first.CompareAndSwap(false, true) {
		h.fakeHub.mu.Lock()
		h.clients = 1
		h.fakeHub.mu.Unlock()
		go func() {
			h.m.OnConnect()
			close(h.joined)
		}()
		time.Sleep(50 * time.Millisecond)
	}
	return delivered
}

func TestClientJoiningDuringUndeliveredSendGetsEvent(t *testing.T) {
	hub := &joiningHub{joined: make(chan struct{})}
	m := newManager(t, memblob.New(), hub)
	hub.m = m

	m.Broadcast("norm_created", map[string]int{"id": 1})

	select {
	case <-hub.joined:
	case <-time.After(2 * time.Second):
		t.Fatal("connect flush did not finish")
	}
	assert.Equal(t, 0, m.PendingCount())
	assert.Equal(t, []string{"norm_created"}, hub.sentNames())
}
