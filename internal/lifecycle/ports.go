package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrPortsExhausted indicates no free port remains in the configured range.
var ErrPortsExhausted = errors.New("lifecycle: port range exhausted")

// UsedPortsFunc reports host ports currently bound by the container runtime.
type UsedPortsFunc func(ctx context.Context) (map[int]bool, error)

// PortAllocator hands out host ports for new containers. Implementations
// must serialize allocation so concurrent starts never race onto one port.
type PortAllocator interface {
	Allocate(ctx context.Context) (int, error)
	Release(port int)
}

// RangeAllocator allocates ports from a fixed range, tracking its own
// reservations and cross-checking candidates against the live runtime so a
// port bound by a container it never allocated is still skipped.
type RangeAllocator struct {
	start int
	end   int
	used  UsedPortsFunc

	mu    sync.Mutex
	inUse map[int]bool
}

var _ PortAllocator = (*RangeAllocator)(nil)

// NewRangeAllocator builds an allocator over [start, end]. used may be nil
// when no runtime cross-check is available.
func NewRangeAllocator(start, end int, used UsedPortsFunc) (*RangeAllocator, error) {
	if start <= 0 || end < start {
		return nil, fmt.Errorf("invalid port range %d-%d", start, end)
	}
	return &RangeAllocator{
		start: start,
		end:   end,
		used:  used,
		inUse: make(map[int]bool),
	}, nil
}

// Allocate reserves the lowest free port in the range. The runtime check runs
// outside the candidate loop once per call, so the critical section stays
// short.
func (a *RangeAllocator) Allocate(ctx context.Context) (int, error) {
	var runtimeUsed map[int]bool
	if a.used != nil {
		var err error
		runtimeUsed, err = a.used(ctx)
		if err != nil {
			return 0, fmt.Errorf("check runtime ports: %w", err)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for candidate := a.start; candidate <= a.end; candidate++ {
		if !a.inUse[candidate] && !runtimeUsed[candidate] {
			a.inUse[candidate] = true
			return candidate, nil
		}
	}
	return 0, ErrPortsExhausted
}

// Release returns a port to the pool.
func (a *RangeAllocator) Release(port int) {
	a.mu.Lock()
	delete(a.inUse, port)
	a.mu.Unlock()
}
