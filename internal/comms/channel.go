// Package comms implements named message channels with websocket
// subscribers. Channels are backed by channel entities in storage; the
// in-memory distribution table is refreshed (never cleared) during a code
// reload so channels stay reachable throughout.
package comms

import (
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/zot/world/internal/config"
)

// Channel is a named message sink with live websocket subscribers.
type Channel struct {
	name        string
	cfg         *config.Config
	subscribers map[string]*subscriber // subscriberID -> conn
	mu          sync.RWMutex
}

// subscriber pairs a connection with a write lock. The websocket library
// forbids concurrent writes on one connection, and channel messages come
// from multiple goroutines (reload triggers, the background reset sweep).
type subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// send writes one text message, serialized against other senders.
func (s *subscriber) send(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// NewChannel creates a channel with the given name.
func NewChannel(cfg *config.Config, name string) *Channel {
	return &Channel{
		name:        name,
		cfg:         cfg,
		subscribers: make(map[string]*subscriber),
	}
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return c.name
}

// Subscribe attaches a websocket connection and returns its subscriber ID.
func (c *Channel) Subscribe(conn *websocket.Conn) string {
	id := generateSubscriberID()
	c.mu.Lock()
	c.subscribers[id] = &subscriber{conn: conn}
	c.mu.Unlock()
	c.cfg.Log(1, "Channel %s: subscriber %s connected", c.name, id)
	return id
}

// Unsubscribe detaches a subscriber.
func (c *Channel) Unsubscribe(id string) {
	c.mu.Lock()
	_, ok := c.subscribers[id]
	delete(c.subscribers, id)
	c.mu.Unlock()
	if ok {
		c.cfg.Log(1, "Channel %s: subscriber %s disconnected", c.name, id)
	}
}

// SubscriberCount returns the number of live subscribers.
func (c *Channel) SubscriberCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscribers)
}

// Msg delivers a text message to every subscriber. Write failures on
// individual connections are logged and do not fail the send.
func (c *Channel) Msg(text string) error {
	c.mu.RLock()
	subs := make(map[string]*subscriber, len(c.subscribers))
	for id, sub := range c.subscribers {
		subs[id] = sub
	}
	c.mu.RUnlock()

	for id, sub := range subs {
		if err := sub.send(text); err != nil {
			c.cfg.Log(1, "Channel %s: write to %s failed: %v", c.name, id, err)
		}
	}
	return nil
}

func generateSubscriberID() string {
	bytes := make([]byte, 16)
	rand.Read(bytes)
	return "sub-" + hex.EncodeToString(bytes)
}
