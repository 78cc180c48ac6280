package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestAllocateHandsOutUniquePortsUnderConcurrency(t *testing.T) {
	alloc, err := NewRangeAllocator(4001, 4100, nil)
	if err != nil {
		t.Fatalf("new allocator: %v", err)
	}

	const workers = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[int]bool)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			port, err := alloc.Allocate(context.Background())
			if err != nil {
				t.Errorf("allocate: %v", err)
				return
			}
			mu.Lock()
			if seen[port] {
				t.Errorf("port %d handed out twice", port)
			}
			seen[port] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != workers {
		t.Fatalf("expected %d distinct ports, got %d", workers, len(seen))
	}
}

func TestAllocateSkipsPortsBoundByRuntime(t *testing.T) {
	used := func(context.Context) (map[int]bool, error) {
		return map[int]bool{4001: true, 4002: true}, nil
	}
	alloc, err := NewRangeAllocator(4001, 4010, used)
	if err != nil {
		t.Fatalf("new allocator: %v", err)
	}
	port, err := alloc.Allocate(context.Background())
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if port != 4003 {
		t.Fatalf("expected first free port 4003, got %d", port)
	}
}

func TestAllocateExhaustsRange(t *testing.T) {
	alloc, err := NewRangeAllocator(4001, 4002, nil)
	if err != nil {
		t.Fatalf("new allocator: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := alloc.Allocate(context.Background()); err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
	}
	if _, err := alloc.Allocate(context.Background()); !errors.Is(err, ErrPortsExhausted) {
		t.Fatalf("expected ErrPortsExhausted, got %v", err)
	}
}

func TestReleaseReturnsPortToPool(t *testing.T) {
	alloc, err := NewRangeAllocator(4001, 4001, nil)
	if err != nil {
		t.Fatalf("new allocator: %v", err)
	}
	port, err := alloc.Allocate(context.Background())
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	alloc.Release(port)
	again, err := alloc.Allocate(context.Background())
	if err != nil {
		t.Fatalf("allocate after release: %v", err)
	}
	if again != port {
		t.Fatalf("expected released port %d, got %d", port, again)
	}
}

func TestAllocatePicksLowestFreePort(t *testing.T) {
	alloc, err := NewRangeAllocator(4001, 4010, nil)
	if err != nil {
		t.Fatalf("new allocator: %v", err)
	}
	for want := 4001; want <= 4003; want++ {
		port, err := alloc.Allocate(context.Background())
		if err != nil {
			t.Fatalf("allocate: %v", err)
		}
		if port != want {
			t.Fatalf("expected port %d, got %d", want, port)
		}
	}
	alloc.Release(4002)
	port, err := alloc.Allocate(context.Background())
	if err != nil {
		t.Fatalf("allocate after release: %v", err)
	}
	// The freed hole is the lowest free port and must win over 4004.
	if port != 4002 {
		t.Fatalf("expected released port 4002, got %d", port)
	}
}

func TestAllocateFailsWhenRuntimeCheckErrors(t *testing.T) {
	used := func(context.Context) (map[int]bool, error) {
		return nil, errors.New("daemon unreachable")
	}
	alloc, err := NewRangeAllocator(4001, 4010, used)
	if err != nil {
		t.Fatalf("new allocator: %v", err)
	}
	if _, err := alloc.Allocate(context.Background()); err == nil {
		t.Fatal("expected error when the runtime check fails")
	}
}

func TestInvalidRangeRejected(t *testing.T) {
	if _, err := NewRangeAllocator(5000, 4000, nil); err == nil {
		t.Fatal("expected error for inverted range")
	}
	if _, err := NewRangeAllocator(0, 4000, nil); err == nil {
		t.Fatal("expected error for non-positive start")
	}
}
