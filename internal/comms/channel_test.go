package comms

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zot/world/internal/config"
)

// === Channel Tests ===

// TestSubscribeUnsubscribe verifies subscriber bookkeeping.
func TestSubscribeUnsubscribe(t *testing.T) {
	ch := NewChannel(config.DefaultConfig(), "mudinfo")
	if ch.Name() != "mudinfo" {
		t.Errorf("Bad name: %q", ch.Name())
	}

	a := ch.Subscribe(nil)
	b := ch.Subscribe(nil)
	if a == b {
		t.Error("Expected distinct subscriber IDs")
	}
	if ch.SubscriberCount() != 2 {
		t.Errorf("Expected 2 subscribers, got %d", ch.SubscriberCount())
	}

	ch.Unsubscribe(a)
	if ch.SubscriberCount() != 1 {
		t.Errorf("Expected 1 subscriber, got %d", ch.SubscriberCount())
	}

	// Unknown IDs are ignored.
	ch.Unsubscribe("sub-bogus")
	if ch.SubscriberCount() != 1 {
		t.Errorf("Expected 1 subscriber, got %d", ch.SubscriberCount())
	}
}

// TestMsgConcurrentSenders verifies delivery stays safe when multiple
// goroutines report through the same channel at once, as a reload trigger
// and the background reset sweep do. Writes on one websocket connection
// must be serialized or the connection panics.
func TestMsgConcurrentSenders(t *testing.T) {
	ch := NewChannel(config.DefaultConfig(), "mudinfo")

	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade: %v", err)
			return
		}
		ch.Subscribe(conn)
	}))
	defer ts.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	deadline := time.Now().Add(5 * time.Second)
	for ch.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for subscription")
		}
		time.Sleep(5 * time.Millisecond)
	}

	const senders, perSender = 4, 25
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				if err := ch.Msg("[mudinfo]: sweep line"); err != nil {
					t.Errorf("Msg: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	for i := 0; i < senders*perSender; i++ {
		if _, _, err := client.ReadMessage(); err != nil {
			t.Fatalf("ReadMessage %d: %v", i, err)
		}
	}
}
