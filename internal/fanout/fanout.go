// Package fanout is the cross-process publish/subscribe channel: one redis
// topic per quiz session, one reference-counted listener goroutine per
// (session, process) that rebroadcasts inbound messages to every locally
// registered connection. Publishing to the topic instead of writing straight
// to sockets is what lets a scoring event on one process reach sockets held
// open on another.
package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/hauvo5999/real-time-quiz/internal/registry"
)

type Config struct {
	Redis    redis.UniversalClient
	Prefix   string
	Registry *registry.Registry
}

type Channel struct {
	rc     redis.UniversalClient
	prefix string
	reg    *registry.Registry

	mu        sync.Mutex
	listeners map[string]*listener
}

type listener struct {
	refs int
	sub  *redis.PubSub
	done chan struct{}
}

func New(c Config) *Channel {
	return &Channel{
		rc:        c.Redis,
		prefix:    c.Prefix,
		reg:       c.Registry,
		listeners: make(map[string]*listener),
	}
}

func (c *Channel) topic(quizID string) string {
	t := fmt.Sprintf("session:%s:leaderboard", quizID)
	if c.prefix == "" {
		return t
	}
	return c.prefix + ":" + t
}

// Publish sends a serialized message to the session's topic. Delivery to
// subscribed processes is at least once; messages from one publisher on one
// topic arrive in order.
func (c *Channel) Publish(ctx context.Context, quizID string, payload []byte) error {
	if err := c.rc.Publish(ctx, c.topic(quizID), payload).Err(); err != nil {
		return fmt.Errorf("fanout: publish: %w", err)
	}

	return nil
}

// Acquire ensures a listener exists for the session on this process,
// starting one lazily on the first call. Every Acquire must be paired with
// exactly one Release.
func (c *Channel) Acquire(ctx context.Context, quizID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if l, ok := c.listeners[quizID]; ok {
		l.refs++
		return
	}

	l := &listener{
		refs: 1,
		sub:  c.rc.Subscribe(ctx, c.topic(quizID)),
		done: make(chan struct{}),
	}
	c.listeners[quizID] = l

	go c.listen(quizID, l)
}

// Release decrements the listener's reference count, tearing it down once
// no local connections remain for the session.
func (c *Channel) Release(quizID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.listeners[quizID]
	if !ok {
		return
	}

	l.refs--
	if l.refs > 0 {
		return
	}

	delete(c.listeners, quizID)
	// Closing the subscription closes its message channel and ends the
	// listen goroutine.
	if err := l.sub.Close(); err != nil {
		slog.Error("fanout: close subscription failed", "quiz_id", quizID, "error", err)
	}
}

// Close tears down every listener, regardless of reference counts. For
// process shutdown.
func (c *Channel) Close() {
	c.mu.Lock()
	listeners := c.listeners
	c.listeners = make(map[string]*listener)
	c.mu.Unlock()

	for quizID, l := range listeners {
		if err := l.sub.Close(); err != nil {
			slog.Error("fanout: close subscription failed", "quiz_id", quizID, "error", err)
		}
		<-l.done
	}
}

func (c *Channel) listen(quizID string, l *listener) {
	defer close(l.done)

	for msg := range l.sub.Channel() {
		payload := []byte(msg.Payload)

		// A failed or slow connection must not stall delivery to the
		// rest: log and keep going.
		for _, conn := range c.reg.Conns(quizID) {
			if err := conn.Send(payload); err != nil {
				slog.Error("fanout: deliver to connection failed",
					"quiz_id", quizID,
					"error", err,
				)
			}
		}
	}
}
