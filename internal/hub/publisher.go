package hub

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Publisher ships log fragments from a worker process to the gateway hub
// over a websocket. Fragments are staged in a bounded in-memory queue and
// flushed in order, so a transient gateway disconnect loses nothing until
// the queue itself overflows, at which point the oldest fragments are
// dropped with a warning.
type Publisher struct {
	url    string
	token  string
	logger *slog.Logger
	limit  int

	mu      sync.Mutex
	pending []Fragment
	dropped int

	notify chan struct{}
	quit   chan struct{}
	done   chan struct{}
}

const (
	reconnectMin = time.Second
	reconnectMax = 30 * time.Second
	writeTimeout = 5 * time.Second
)

// NewPublisher starts a publisher that dials url and authenticates with the
// shared worker token.
func NewPublisher(url, token string, limit int, logger *slog.Logger) *Publisher {
	if limit <= 0 {
		limit = 4096
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		url:    url,
		token:  token,
		logger: logger,
		limit:  limit,
		notify: make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish stages a fragment for delivery. It never blocks the build.
func (p *Publisher) Publish(deploymentID, log, status string) {
	frag := Fragment{
		DeploymentID: deploymentID,
		Log:          log,
		Status:       status,
		Timestamp:    time.Now().UTC(),
	}
	p.mu.Lock()
	if len(p.pending) >= p.limit {
		p.pending = p.pending[1:]
		p.dropped++
	}
	p.pending = append(p.pending, frag)
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Close flushes what it can and stops the delivery loop.
func (p *Publisher) Close() {
	close(p.quit)
	<-p.done
}

func (p *Publisher) run() {
	defer close(p.done)
	backoff := reconnectMin
	for {
		conn, err := p.dial()
		if err != nil {
			p.logger.Warn("hub dial failed", "url", p.url, "error", err)
			select {
			case <-time.After(backoff):
			case <-p.quit:
				return
			}
			if backoff *= 2; backoff > reconnectMax {
				backoff = reconnectMax
			}
			continue
		}
		backoff = reconnectMin
		p.logger.Info("connected to hub", "url", p.url)
		p.mu.Lock()
		dropped := p.dropped
		p.dropped = 0
		p.mu.Unlock()
		if dropped > 0 {
			p.logger.Warn("fragments dropped while disconnected", "count", dropped)
		}

		if closing := p.deliver(conn); closing {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
			return
		}
		conn.Close()
	}
}

func (p *Publisher) dial() (*websocket.Conn, error) {
	header := http.Header{}
	if p.token != "" {
		header.Set("X-Worker-Token", p.token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial(p.url, header)
	return conn, err
}

// deliver drains the pending queue over conn until a write fails or the
// publisher is closed. It reports whether the publisher should stop.
func (p *Publisher) deliver(conn *websocket.Conn) bool {
	for {
		frag, ok := p.head()
		if !ok {
			select {
			case <-p.notify:
				continue
			case <-p.quit:
				// Final drain so a fast build's tail is not lost.
				for {
					frag, ok := p.head()
					if !ok {
						return true
					}
					if p.write(conn, frag) != nil {
						return true
					}
					p.pop()
				}
			}
		}
		if err := p.write(conn, frag); err != nil {
			p.logger.Warn("hub write failed, reconnecting", "error", err)
			return false
		}
		// Removed only after the write succeeds, so a failed write is
		// retried on the next connection in original order.
		p.pop()
	}
}

func (p *Publisher) write(conn *websocket.Conn, frag Fragment) error {
	payload, err := json.Marshal(frag)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (p *Publisher) head() (Fragment, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return Fragment{}, false
	}
	return p.pending[0], true
}

func (p *Publisher) pop() {
	p.mu.Lock()
	if len(p.pending) > 0 {
		p.pending = p.pending[1:]
	}
	p.mu.Unlock()
}
