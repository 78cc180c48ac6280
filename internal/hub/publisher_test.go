package hub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type ingestServer struct {
	srv   *httptest.Server
	token string

	mu    sync.Mutex
	frags []Fragment
}

func newIngestServer(t *testing.T, token string) *ingestServer {
	t.Helper()
	is := &ingestServer{token: token}
	upgrader := websocket.Upgrader{}
	is.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token != "" && r.Header.Get("X-Worker-Token") != token {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frag Fragment
			if err := json.Unmarshal(payload, &frag); err != nil {
				continue
			}
			is.mu.Lock()
			is.frags = append(is.frags, frag)
			is.mu.Unlock()
		}
	}))
	t.Cleanup(is.srv.Close)
	return is
}

func (is *ingestServer) wsURL() string {
	return "ws" + strings.TrimPrefix(is.srv.URL, "http")
}

func (is *ingestServer) wait(t *testing.T, n int) []Fragment {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		is.mu.Lock()
		if len(is.frags) >= n {
			out := make([]Fragment, len(is.frags))
			copy(out, is.frags)
			is.mu.Unlock()
			return out
		}
		is.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	is.mu.Lock()
	defer is.mu.Unlock()
	t.Fatalf("timed out waiting for %d fragments, have %d", n, len(is.frags))
	return nil
}

func TestPublisherDeliversFragmentsInOrder(t *testing.T) {
	server := newIngestServer(t, "secret")
	p := NewPublisher(server.wsURL(), "secret", 16, testLogger())
	defer p.Close()

	p.Publish("dep-1", "clone\n", "")
	p.Publish("dep-1", "install\n", "")
	p.Publish("dep-1", "", "READY")

	frags := server.wait(t, 3)
	if frags[0].Log != "clone\n" || frags[1].Log != "install\n" {
		t.Fatalf("fragments out of order: %+v", frags)
	}
	if frags[2].Status != "READY" {
		t.Fatalf("expected status fragment last, got %+v", frags[2])
	}
}

func TestPublisherBuffersWhileDisconnectedAndFlushesOnConnect(t *testing.T) {
	// Stage fragments against an address nothing listens on, then verify
	// the queue retains them in order.
	p := NewPublisher("ws://127.0.0.1:1/ws/ingest", "", 16, testLogger())

	p.Publish("dep-2", "one\n", "")
	p.Publish("dep-2", "two\n", "")

	p.mu.Lock()
	got := len(p.pending)
	first := ""
	if got > 0 {
		first = p.pending[0].Log
	}
	p.mu.Unlock()
	if got != 2 || first != "one\n" {
		t.Fatalf("pending queue = %d (first %q), want 2 fragments in order", got, first)
	}
	p.Close()
}

func TestPublisherDropsOldestWhenQueueOverflows(t *testing.T) {
	p := NewPublisher("ws://127.0.0.1:1/ws/ingest", "", 2, testLogger())

	p.Publish("dep-3", "one\n", "")
	p.Publish("dep-3", "two\n", "")
	p.Publish("dep-3", "three\n", "")

	p.mu.Lock()
	defer func() { p.mu.Unlock(); p.Close() }()
	if len(p.pending) != 2 {
		t.Fatalf("pending queue = %d, want bounded at 2", len(p.pending))
	}
	if p.pending[0].Log != "two\n" || p.pending[1].Log != "three\n" {
		t.Fatalf("expected oldest fragment evicted, got %+v", p.pending)
	}
	if p.dropped != 1 {
		t.Fatalf("dropped = %d, want 1", p.dropped)
	}
}

func TestPublisherRejectedWithoutToken(t *testing.T) {
	server := newIngestServer(t, "secret")
	p := NewPublisher(server.wsURL(), "wrong", 16, testLogger())
	defer p.Close()

	p.Publish("dep-4", "hello\n", "")

	// The handshake is refused, so the fragment stays queued.
	time.Sleep(200 * time.Millisecond)
	p.mu.Lock()
	pending := len(p.pending)
	p.mu.Unlock()
	if pending != 1 {
		t.Fatalf("pending = %d, want 1 undelivered fragment", pending)
	}
	server.mu.Lock()
	received := len(server.frags)
	server.mu.Unlock()
	if received != 0 {
		t.Fatalf("server received %d fragments despite bad token", received)
	}
}
