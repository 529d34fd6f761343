package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zot/world/internal/comms"
	"github.com/zot/world/internal/config"
	"github.com/zot/world/internal/entity"
)

// fakeTriggers records admin calls for endpoint tests.
type fakeTriggers struct {
	modules  int
	commands int
	scripts  []entity.ScriptSelector
	initMode bool
	status   Status
}

func (f *fakeTriggers) ReloadModules() { f.modules++ }
func (f *fakeTriggers) ReloadScripts(sel entity.ScriptSelector, initMode bool) {
	f.scripts = append(f.scripts, sel)
	f.initMode = initMode
}
func (f *fakeTriggers) ReloadCommands() { f.commands++ }
func (f *fakeTriggers) Status() Status  { return f.status }

func testEndpoint(t *testing.T, names ...string) (*HTTPEndpoint, *fakeTriggers) {
	t.Helper()
	cfg := config.DefaultConfig()
	channels := comms.NewRegistry(cfg, func() ([]string, error) {
		return names, nil
	})
	if err := channels.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	triggers := &fakeTriggers{}
	return NewHTTPEndpoint(cfg, channels, triggers), triggers
}

// === Admin Endpoint Tests ===

// TestReloadEndpoint verifies POST /admin/reload fires a module reload.
func TestReloadEndpoint(t *testing.T) {
	h, triggers := testEndpoint(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/admin/reload", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
	if triggers.modules != 1 {
		t.Errorf("Expected 1 reload, got %d", triggers.modules)
	}
}

// TestReloadRequiresPost verifies admin endpoints reject other methods.
func TestReloadRequiresPost(t *testing.T) {
	h, triggers := testEndpoint(t)

	for _, path := range []string{"/admin/reload", "/admin/reload/scripts", "/admin/reload/commands"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: expected 405, got %d", path, rec.Code)
		}
	}
	if triggers.modules != 0 || triggers.commands != 0 || len(triggers.scripts) != 0 {
		t.Error("Expected no triggers fired")
	}
}

// TestReloadScriptsQuery verifies selector parsing from query parameters.
func TestReloadScriptsQuery(t *testing.T) {
	h, triggers := testEndpoint(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/admin/reload/scripts?obj=7&key=tick&init=true", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if len(triggers.scripts) != 1 {
		t.Fatalf("Expected 1 validation, got %d", len(triggers.scripts))
	}
	sel := triggers.scripts[0]
	if sel.ObjID != 7 || sel.Key != "tick" || sel.DBRef != 0 {
		t.Errorf("Bad selector: %+v", sel)
	}
	if !triggers.initMode {
		t.Error("Expected init mode")
	}
}

// TestReloadScriptsBadQuery verifies malformed IDs are rejected.
func TestReloadScriptsBadQuery(t *testing.T) {
	h, triggers := testEndpoint(t)

	for _, query := range []string{"?obj=seven", "?dbref=x"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("POST", "/admin/reload/scripts"+query, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", query, rec.Code)
		}
	}
	if len(triggers.scripts) != 0 {
		t.Error("Expected no validation on bad input")
	}
}

// TestCommandsEndpoint verifies POST /admin/reload/commands.
func TestCommandsEndpoint(t *testing.T) {
	h, triggers := testEndpoint(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/admin/reload/commands", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
	if triggers.commands != 1 {
		t.Errorf("Expected 1 cmdset reset, got %d", triggers.commands)
	}
}

// === Status Endpoint Tests ===

// TestStatusEndpoint verifies the JSON snapshot.
func TestStatusEndpoint(t *testing.T) {
	h, triggers := testEndpoint(t)
	triggers.status = Status{
		Modules:        12,
		PendingChanges: []string{"game.objects.monster"},
		Channels:       2,
		RunningTimers:  3,
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var got Status
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Modules != 12 || got.Channels != 2 || got.RunningTimers != 3 {
		t.Errorf("Bad snapshot: %+v", got)
	}
	if len(got.PendingChanges) != 1 || got.PendingChanges[0] != "game.objects.monster" {
		t.Errorf("Bad pending changes: %v", got.PendingChanges)
	}
}

// === WebSocket Tests ===

// TestChannelWebSocket verifies subscribe, message delivery, and cleanup.
func TestChannelWebSocket(t *testing.T) {
	h, _ := testEndpoint(t, "mudinfo")
	ts := httptest.NewServer(h)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/channel/mudinfo"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	channel, err := h.channels.Get("mudinfo")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for channel.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for subscription")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := channel.Msg("[mudinfo]: reload starting"); err != nil {
		t.Fatalf("Msg: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if string(payload) != "[mudinfo]: reload starting" {
		t.Errorf("Bad payload: %q", payload)
	}

	conn.Close()
	for channel.SubscriberCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for unsubscribe")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestChannelWebSocketUnknown verifies subscribing to a missing channel fails.
func TestChannelWebSocketUnknown(t *testing.T) {
	h, _ := testEndpoint(t, "mudinfo")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/ws/channel/nowhere", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}
