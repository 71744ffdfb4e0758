// Package relay maintains a persistent websocket connection to the remote
// log collector. Pipeline stages enqueue entries at any time; the relay's
// own loop is the only writer on the socket. Entries are buffered in order
// while disconnected and flushed on reconnect, so a flaky collector loses
// nothing short of a process crash.
package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hangar/rivet/pkg/logger"
)

const writeWait = 10 * time.Second

// Entry is one log message sent to the collector.
type Entry struct {
	Log   string `json:"log"`
	JobID string `json:"jobId,omitempty"`
}

// Relay owns the outbound log queue and the collector connection.
type Relay struct {
	url            string
	reconnectDelay time.Duration
	dialer         *websocket.Dialer
	log            *logger.Logger

	mu     sync.Mutex
	queue  []Entry
	notify chan struct{}
}

// New creates a relay targeting the given ws:// or wss:// collector URL.
func New(url string, reconnectDelay time.Duration, log *logger.Logger) *Relay {
	return &Relay{
		url:            url,
		reconnectDelay: reconnectDelay,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		log:    log.WithComponent("relay"),
		notify: make(chan struct{}, 1),
	}
}

// Log enqueues a message for the collector and mirrors it locally. Safe to
// call from any goroutine, connected or not.
func (r *Relay) Log(jobID, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)

	if jobID != "" {
		r.log.Info(msg, "job_id", jobID)
	} else {
		r.log.Info(msg)
	}

	r.mu.Lock()
	r.queue = append(r.queue, Entry{Log: msg, JobID: jobID})
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Pending returns the number of entries waiting to be flushed.
func (r *Relay) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Run connects to the collector and flushes the queue until ctx is
// cancelled. Any dial or write error closes the socket and retries after
// the reconnect delay; unflushed entries stay queued.
func (r *Relay) Run(ctx context.Context) {
	for {
		if err := r.connectAndFlush(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Warn("collector connection lost", "error", err.Error())
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.reconnectDelay):
		}
	}
}

func (r *Relay) connectAndFlush(ctx context.Context) error {
	conn, _, err := r.dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return fmt.Errorf("dial collector: %w", err)
	}
	defer conn.Close()

	r.log.Info("connected to log collector", "url", r.url)

	// Drain control frames and detect server-side close.
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		entry, ok := r.peek()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case err := <-readErr:
				return err
			case <-r.notify:
				continue
			}
		}

		// A server-side close observed by the reader means any further
		// write would vanish into a dead socket; reconnect first.
		select {
		case err := <-readErr:
			return err
		default:
		}

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(entry); err != nil {
			// The head entry stays queued for the next connection.
			return fmt.Errorf("write log entry: %w", err)
		}
		r.pop()
	}
}

func (r *Relay) peek() (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return Entry{}, false
	}
	return r.queue[0], true
}

func (r *Relay) pop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) > 0 {
		r.queue = r.queue[1:]
	}
}
