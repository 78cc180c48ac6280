package hub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memSubscriber struct {
	mu     sync.Mutex
	msgs   []Envelope
	closed bool
}

func (s *memSubscriber) Send(payload []byte) error {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return err
	}
	s.mu.Lock()
	s.msgs = append(s.msgs, env)
	s.mu.Unlock()
	return nil
}

func (s *memSubscriber) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// wait polls until the subscriber holds at least n envelopes.
func (s *memSubscriber) wait(t *testing.T, n int) []Envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		if len(s.msgs) >= n {
			out := make([]Envelope, len(s.msgs))
			copy(out, s.msgs)
			s.mu.Unlock()
			return out
		}
		s.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t.Fatalf("timed out waiting for %d envelopes, have %d: %+v", n, len(s.msgs), s.msgs)
	return nil
}

type staticLoader struct {
	log    string
	status string
}

func (l staticLoader) LoadSnapshot(context.Context, string) (string, string, error) {
	return l.log, l.status, nil
}

func TestSubscriberReceivesFragmentsInOrderExactlyOnce(t *testing.T) {
	h := New(nil, testLogger(), 16)
	defer h.Stop()

	sub := &memSubscriber{}
	if err := h.Subscribe(context.Background(), "dep-1", sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	for _, frag := range []string{"clone\n", "install\n", "build\n"} {
		h.Publish(Fragment{DeploymentID: "dep-1", Log: frag})
	}
	h.Publish(Fragment{DeploymentID: "dep-1", Status: "READY"})

	msgs := sub.wait(t, 5)
	if msgs[0].Type != TypeSnapshot || msgs[0].Log != "" {
		t.Fatalf("first envelope must be an empty snapshot, got %+v", msgs[0])
	}
	want := []string{"clone\n", "install\n", "build\n"}
	for i, frag := range want {
		if msgs[i+1].Type != TypeLog || msgs[i+1].Log != frag {
			t.Fatalf("envelope %d: got %+v, want log %q", i+1, msgs[i+1], frag)
		}
	}
	if msgs[4].Type != TypeStatus || msgs[4].Status != "READY" {
		t.Fatalf("expected status envelope, got %+v", msgs[4])
	}
	if len(msgs) != 5 {
		t.Fatalf("expected exactly 5 envelopes, got %d", len(msgs))
	}
}

func TestLateJoinerGetsAccumulatedSnapshotWithoutGapsOrDuplicates(t *testing.T) {
	h := New(nil, testLogger(), 16)
	defer h.Stop()

	early := &memSubscriber{}
	if err := h.Subscribe(context.Background(), "dep-2", early); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	h.Publish(Fragment{DeploymentID: "dep-2", Log: "one\n"})
	h.Publish(Fragment{DeploymentID: "dep-2", Log: "two\n"})
	early.wait(t, 3)

	// The early subscriber has seen both fragments, so the room has
	// accumulated them before the late join.
	late := &memSubscriber{}
	if err := h.Subscribe(context.Background(), "dep-2", late); err != nil {
		t.Fatalf("late subscribe: %v", err)
	}
	h.Publish(Fragment{DeploymentID: "dep-2", Log: "three\n"})

	msgs := late.wait(t, 2)
	if msgs[0].Type != TypeSnapshot || msgs[0].Log != "one\ntwo\n" {
		t.Fatalf("late joiner snapshot: got %+v", msgs[0])
	}
	if msgs[1].Type != TypeLog || msgs[1].Log != "three\n" {
		t.Fatalf("late joiner live fragment: got %+v", msgs[1])
	}

	joined := msgs[0].Log
	for _, m := range msgs[1:] {
		joined += m.Log
	}
	if joined != "one\ntwo\nthree\n" {
		t.Fatalf("reassembled log = %q, want %q", joined, "one\ntwo\nthree\n")
	}
}

func TestResubscribeAfterChurnReplaysFullLogOnce(t *testing.T) {
	h := New(nil, testLogger(), 16)
	defer h.Stop()

	first := &memSubscriber{}
	if err := h.Subscribe(context.Background(), "dep-3", first); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	h.Publish(Fragment{DeploymentID: "dep-3", Log: "a"})
	first.wait(t, 2)
	h.Unsubscribe("dep-3", first)

	// Published while the first viewer is away. The watcher confirms the
	// room has absorbed the fragment before the rejoin.
	watcher := &memSubscriber{}
	if err := h.Subscribe(context.Background(), "dep-3", watcher); err != nil {
		t.Fatalf("watcher subscribe: %v", err)
	}
	h.Publish(Fragment{DeploymentID: "dep-3", Log: "b"})
	watcher.wait(t, 2)

	rejoined := &memSubscriber{}
	if err := h.Subscribe(context.Background(), "dep-3", rejoined); err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	msgs := rejoined.wait(t, 1)
	if msgs[0].Log != "ab" {
		t.Fatalf("resubscribe snapshot = %q, want %q", msgs[0].Log, "ab")
	}

	// The first subscriber must not have received anything after leaving.
	first.mu.Lock()
	got := len(first.msgs)
	first.mu.Unlock()
	if got != 2 {
		t.Fatalf("unsubscribed client received %d envelopes, want 2", got)
	}
}

func TestSnapshotSeededFromLoader(t *testing.T) {
	h := New(staticLoader{log: "persisted history\n", status: "BUILDING"}, testLogger(), 16)
	defer h.Stop()

	sub := &memSubscriber{}
	if err := h.Subscribe(context.Background(), "dep-4", sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	msgs := sub.wait(t, 1)
	if msgs[0].Type != TypeSnapshot {
		t.Fatalf("expected snapshot, got %+v", msgs[0])
	}
	if !strings.Contains(msgs[0].Log, "persisted history") || msgs[0].Status != "BUILDING" {
		t.Fatalf("snapshot not seeded from loader: %+v", msgs[0])
	}
}

// memStore mimics the durable log a gateway appends to after every publish.
type memStore struct {
	mu  sync.Mutex
	log string
}

func (s *memStore) LoadSnapshot(context.Context, string) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log, "", nil
}

func (s *memStore) append(fragment string) {
	s.mu.Lock()
	s.log += fragment
	s.mu.Unlock()
}

func TestFragmentPersistedAfterPublishIsNotReplayedBySeed(t *testing.T) {
	store := &memStore{}
	h := New(store, testLogger(), 16)
	defer h.Stop()

	// Publish returns after the room has absorbed the fragment, so the room
	// was seeded from a store that did not contain it. The append lands
	// afterwards, as the ingest path does.
	h.Publish(Fragment{DeploymentID: "dep-6", Log: "line 1\n"})
	store.append("line 1\n")

	sub := &memSubscriber{}
	if err := h.Subscribe(context.Background(), "dep-6", sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	msgs := sub.wait(t, 1)
	if msgs[0].Type != TypeSnapshot || msgs[0].Log != "line 1\n" {
		t.Fatalf("snapshot = %+v, want the fragment exactly once", msgs[0])
	}
}

func TestBroadcastReachesAllViewers(t *testing.T) {
	h := New(nil, testLogger(), 16)
	defer h.Stop()

	a := &memSubscriber{}
	b := &memSubscriber{}
	for _, sub := range []*memSubscriber{a, b} {
		if err := h.Subscribe(context.Background(), "dep-5", sub); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}
	h.Publish(Fragment{DeploymentID: "dep-5", Log: "shared\n"})

	for _, sub := range []*memSubscriber{a, b} {
		msgs := sub.wait(t, 2)
		if msgs[1].Log != "shared\n" {
			t.Fatalf("viewer missed broadcast: %+v", msgs)
		}
	}
}
