package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"convsync/pkg/models"
)

type applied struct {
	action string
	id     int64
}

type testApplier struct {
	mu   sync.Mutex
	held map[int64]bool
	ops  []applied
}

func newTestApplier() *testApplier {
	return &testApplier{held: make(map[int64]bool)}
}

func (a *testApplier) ApplyCreate(m models.Message) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.held[m.ID] {
		return false
	}
	a.held[m.ID] = true
	a.ops = append(a.ops, applied{"create", m.ID})
	return true
}

func (a *testApplier) ApplyUpdate(m models.Message) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.held[m.ID] {
		return false
	}
	a.ops = append(a.ops, applied{"update", m.ID})
	return true
}

func (a *testApplier) ApplyDelete(m models.Message) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.held[m.ID] {
		return 0
	}
	delete(a.held, m.ID)
	a.ops = append(a.ops, applied{"delete", m.ID})
	return 1
}

func (a *testApplier) snapshot() []applied {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]applied, len(a.ops))
	copy(out, a.ops)
	return out
}

// wsServer pushes every frame from the channel to each connection and
// keeps connections open until the test ends.
func wsServer(t *testing.T, frames <-chan []byte, conns *int32) *httptest.Server {
	t.Helper()
	done := make(chan struct{})
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(conns, 1)
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			select {
			case f, ok := <-frames:
				if !ok {
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, f); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}))
	t.Cleanup(func() {
		close(done)
		srv.Close()
	})
	return srv
}

func frame(t *testing.T, action Action, m models.Message) []byte {
	t.Helper()
	b, err := json.Marshal(Envelope{Action: action, Post: m})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func post(id, conv int64) models.Message {
	return models.Message{ID: id, ConversationID: conv, CreationDate: time.Now(), Content: "x"}
}

func TestDispatchAppliesEventsInArrivalOrder(t *testing.T) {
	frames := make(chan []byte, 16)
	var conns int32
	srv := wsServer(t, frames, &conns)

	app := newTestApplier()
	r := New(wsURL(srv), "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Subscribe(ctx, "conversation/1", 1, app); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	frames <- frame(t, ActionCreate, post(1, 1))
	frames <- frame(t, ActionCreate, post(1, 1)) // duplicate delivery
	frames <- frame(t, ActionCreate, post(9, 2)) // foreign conversation
	frames <- frame(t, ActionUpdate, post(1, 1))
	frames <- frame(t, ActionUpdate, post(7, 1)) // unknown target, dropped
	frames <- frame(t, ActionDelete, post(1, 1))

	waitFor(t, func() bool { return len(app.snapshot()) == 3 })
	want := []applied{{"create", 1}, {"update", 1}, {"delete", 1}}
	got := app.snapshot()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("op %d: got %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestDuplicateSubscribeIsNoop(t *testing.T) {
	frames := make(chan []byte)
	var conns int32
	srv := wsServer(t, frames, &conns)

	r := New(wsURL(srv), "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	app := newTestApplier()
	if err := r.Subscribe(ctx, "conversation/1", 1, app); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := r.Subscribe(ctx, "conversation/1", 1, app); err != nil {
		t.Fatalf("second subscribe: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt32(&conns); n != 1 {
		t.Fatalf("expected 1 connection, got %d", n)
	}
}

func TestUnsubscribeEndsLoop(t *testing.T) {
	frames := make(chan []byte)
	var conns int32
	srv := wsServer(t, frames, &conns)

	r := New(wsURL(srv), "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Subscribe(ctx, "conversation/1", 1, newTestApplier()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitFor(t, func() bool { return r.Active("conversation/1") })
	r.Unsubscribe("conversation/1")
	waitFor(t, func() bool { return !r.Active("conversation/1") })
}

func TestUnsubscribeThenImmediateResubscribe(t *testing.T) {
	frames := make(chan []byte)
	var conns int32
	srv := wsServer(t, frames, &conns)

	r := New(wsURL(srv), "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Subscribe(ctx, "conversation/1", 1, newTestApplier()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// no grace period: the topic must be free the moment Unsubscribe returns
	r.Unsubscribe("conversation/1")
	if r.Active("conversation/1") {
		t.Fatal("topic still registered after Unsubscribe")
	}
	if err := r.Subscribe(ctx, "conversation/1", 1, newTestApplier()); err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	if !r.Active("conversation/1") {
		t.Fatal("resubscribe did not register the topic")
	}
	waitFor(t, func() bool { return atomic.LoadInt32(&conns) == 2 })

	// the first loop's teardown runs about now; it must not evict the
	// second subscription
	time.Sleep(100 * time.Millisecond)
	if !r.Active("conversation/1") {
		t.Fatal("stale teardown removed the live subscription")
	}
}

func TestContextCancelEndsLoop(t *testing.T) {
	frames := make(chan []byte)
	var conns int32
	srv := wsServer(t, frames, &conns)

	r := New(wsURL(srv), "")
	ctx, cancel := context.WithCancel(context.Background())
	if err := r.Subscribe(ctx, "conversation/1", 1, newTestApplier()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	waitFor(t, func() bool { return !r.Active("conversation/1") })
	// a fresh subscribe works again after teardown
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	if err := r.Subscribe(ctx2, "conversation/1", 1, newTestApplier()); err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
}

func TestDialFailureReturnsError(t *testing.T) {
	frames := make(chan []byte)
	var conns int32
	srv := wsServer(t, frames, &conns)
	srv.Close()

	r := New(wsURL(srv), "")
	err := r.Subscribe(context.Background(), "conversation/1", 1, newTestApplier())
	if err == nil {
		t.Fatal("expected dial error")
	}
	if r.Active("conversation/1") {
		t.Fatal("failed subscribe left topic active")
	}
}
