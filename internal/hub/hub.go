package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/asergenalkan/vercelclone/internal/domain"
)

// ErrHubClosed indicates an operation raced the hub's shutdown.
var ErrHubClosed = errors.New("hub: closed")

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// SnapshotLoader seeds a room with the log and status accumulated before this
// process started observing the deployment.
type SnapshotLoader interface {
	LoadSnapshot(ctx context.Context, deploymentID string) (log string, status string, err error)
}

// Fragment is one unit of build output published by a worker. Status is set
// when the fragment also carries a lifecycle transition.
type Fragment struct {
	DeploymentID string    `json:"deployment_id"`
	Log          string    `json:"log,omitempty"`
	Status       string    `json:"status,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Envelope is the wire format delivered to subscribers. A snapshot envelope
// carries the full accumulated log; log and status envelopes carry deltas.
type Envelope struct {
	Type         string    `json:"type"`
	DeploymentID string    `json:"deployment_id"`
	Log          string    `json:"log,omitempty"`
	Status       string    `json:"status,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Envelope types.
const (
	TypeSnapshot = "snapshot"
	TypeLog      = "log"
	TypeStatus   = "status"
)

type room struct {
	log         string
	status      string
	subscribers map[Subscriber]struct{}
}

type subscription struct {
	deploymentID string
	client       Subscriber
	done         chan error
}

type publishReq struct {
	frag Fragment
	done chan struct{}
}

// Hub fans worker log fragments out to live viewers, one room per
// deployment. All mutations flow through a single goroutine, so a subscriber
// observes the snapshot and every later fragment exactly once, in publish
// order, regardless of how many workers feed the room.
type Hub struct {
	loader    SnapshotLoader
	logger    *slog.Logger
	publish   chan publishReq
	subscribe chan subscription
	unreg     chan subscription
	quit      chan struct{}
}

// New creates a running Hub. loader may be nil when there is no persisted
// history to replay.
func New(loader SnapshotLoader, logger *slog.Logger, buffer int) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		loader:    loader,
		logger:    logger,
		publish:   make(chan publishReq, buffer),
		subscribe: make(chan subscription),
		unreg:     make(chan subscription),
		quit:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	rooms := make(map[string]*room)
	for {
		select {
		case req := <-h.publish:
			r := h.room(rooms, req.frag.DeploymentID)
			h.apply(r, req.frag)
			close(req.done)
		case sub := <-h.subscribe:
			r := h.room(rooms, sub.deploymentID)
			snapshot, err := json.Marshal(Envelope{
				Type:         TypeSnapshot,
				DeploymentID: sub.deploymentID,
				Log:          r.log,
				Status:       r.status,
				Timestamp:    time.Now().UTC(),
			})
			if err == nil {
				err = sub.client.Send(snapshot)
			}
			if err == nil {
				r.subscribers[sub.client] = struct{}{}
			}
			sub.done <- err
		case sub := <-h.unreg:
			if r, ok := rooms[sub.deploymentID]; ok {
				delete(r.subscribers, sub.client)
				if len(r.subscribers) == 0 && terminal(r.status) {
					delete(rooms, sub.deploymentID)
				}
			}
			close(sub.done)
		case <-h.quit:
			for _, r := range rooms {
				for c := range r.subscribers {
					c.Close()
				}
			}
			return
		}
	}
}

// room returns the existing room or creates one seeded from the loader.
func (h *Hub) room(rooms map[string]*room, deploymentID string) *room {
	if r, ok := rooms[deploymentID]; ok {
		return r
	}
	r := &room{subscribers: make(map[Subscriber]struct{})}
	if h.loader != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		log, status, err := h.loader.LoadSnapshot(ctx, deploymentID)
		cancel()
		if err != nil {
			h.logger.Warn("snapshot load failed", "deployment_id", deploymentID, "error", err)
		} else {
			r.log = log
			r.status = status
		}
	}
	rooms[deploymentID] = r
	return r
}

func (h *Hub) apply(r *room, frag Fragment) {
	if frag.Timestamp.IsZero() {
		frag.Timestamp = time.Now().UTC()
	}
	if frag.Log != "" {
		r.log += frag.Log
		h.deliver(r, Envelope{
			Type:         TypeLog,
			DeploymentID: frag.DeploymentID,
			Log:          frag.Log,
			Timestamp:    frag.Timestamp,
		})
	}
	if frag.Status != "" && frag.Status != r.status {
		r.status = frag.Status
		h.deliver(r, Envelope{
			Type:         TypeStatus,
			DeploymentID: frag.DeploymentID,
			Status:       frag.Status,
			Timestamp:    frag.Timestamp,
		})
	}
}

func (h *Hub) deliver(r *room, env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("marshal envelope", "error", err)
		return
	}
	for c := range r.subscribers {
		if err := c.Send(payload); err != nil {
			c.Close()
			delete(r.subscribers, c)
		}
	}
}

// Publish hands a fragment to the hub and returns once the run loop has
// applied it. A caller that persists the fragment afterwards is therefore
// guaranteed the room existed first, so a room seeded from the store can
// never replay the same fragment on top of its live delivery.
func (h *Hub) Publish(frag Fragment) {
	req := publishReq{frag: frag, done: make(chan struct{})}
	select {
	case h.publish <- req:
	case <-h.quit:
		return
	}
	select {
	case <-req.done:
	case <-h.quit:
	}
}

// Subscribe atomically delivers the current snapshot to client and registers
// it for every subsequent fragment.
func (h *Hub) Subscribe(ctx context.Context, deploymentID string, client Subscriber) error {
	sub := subscription{deploymentID: deploymentID, client: client, done: make(chan error, 1)}
	select {
	case h.subscribe <- sub:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.quit:
		return ErrHubClosed
	}
	select {
	case err := <-sub.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unsubscribe removes a client. It does not close the client.
func (h *Hub) Unsubscribe(deploymentID string, client Subscriber) {
	sub := subscription{deploymentID: deploymentID, client: client, done: make(chan error, 1)}
	select {
	case h.unreg <- sub:
		<-sub.done
	case <-h.quit:
	}
}

// Stop shuts the hub down and closes every subscriber.
func (h *Hub) Stop() {
	close(h.quit)
}

func terminal(status string) bool {
	return domain.Status(status).Terminal()
}
