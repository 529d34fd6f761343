package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/zot/world/internal/comms"
	"github.com/zot/world/internal/config"
	"github.com/zot/world/internal/entity"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// Triggers is the admin surface the HTTP endpoint exposes. The server
// implements it.
type Triggers interface {
	ReloadModules()
	ReloadScripts(sel entity.ScriptSelector, initMode bool)
	ReloadCommands()
	Status() Status
}

// Status is a snapshot of server state for the status endpoint.
type Status struct {
	Modules        int      `json:"modules"`
	PendingChanges []string `json:"pendingChanges,omitempty"`
	Channels       int      `json:"channels"`
	Classes        int      `json:"classes"`
	Prototypes     int      `json:"prototypes"`
	Exits          int      `json:"exits"`
	Cmdsets        int      `json:"cmdsets"`
	RunningTimers  int      `json:"runningTimers"`
}

// HTTPEndpoint handles HTTP requests: channel websocket subscriptions,
// admin reload triggers, and the status snapshot.
type HTTPEndpoint struct {
	cfg      *config.Config
	channels *comms.Registry
	triggers Triggers
	mux      *http.ServeMux
}

// NewHTTPEndpoint creates a new HTTP endpoint.
func NewHTTPEndpoint(cfg *config.Config, channels *comms.Registry, triggers Triggers) *HTTPEndpoint {
	h := &HTTPEndpoint{
		cfg:      cfg,
		channels: channels,
		triggers: triggers,
		mux:      http.NewServeMux(),
	}
	h.setupRoutes()
	return h
}

// setupRoutes configures HTTP routes.
func (h *HTTPEndpoint) setupRoutes() {
	h.mux.HandleFunc("/ws/channel/", h.handleChannelWebSocket)
	h.mux.HandleFunc("/admin/reload", h.handleReload)
	h.mux.HandleFunc("/admin/reload/scripts", h.handleReloadScripts)
	h.mux.HandleFunc("/admin/reload/commands", h.handleReloadCommands)
	h.mux.HandleFunc("/status", h.handleStatus)
}

// ServeHTTP implements http.Handler.
func (h *HTTPEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// handleChannelWebSocket upgrades a connection and subscribes it to a
// channel: /ws/channel/NAME. The handler blocks for the connection's
// lifetime and unsubscribes on disconnect.
func (h *HTTPEndpoint) handleChannelWebSocket(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/ws/channel/")
	name = strings.Split(name, "/")[0]
	if name == "" {
		http.Error(w, "Channel name required", http.StatusBadRequest)
		return
	}

	channel, err := h.channels.Get(name)
	if err != nil {
		http.Error(w, "Channel not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.cfg.Log(1, "HTTP: websocket upgrade failed: %v", err)
		return
	}

	id := channel.Subscribe(conn)
	defer func() {
		channel.Unsubscribe(id)
		conn.Close()
	}()

	// Channels are distribution-only over websocket; drain incoming
	// frames until the peer disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// handleReload triggers a full module reload cycle.
func (h *HTTPEndpoint) handleReload(w http.ResponseWriter, r *http.Request) {
	if !h.requirePost(w, r) {
		return
	}
	h.triggers.ReloadModules()
	h.writeOK(w, "module reload complete")
}

// handleReloadScripts triggers script validation. Query parameters obj,
// key, and dbref narrow the selection; init=true runs the cold-start pass.
func (h *HTTPEndpoint) handleReloadScripts(w http.ResponseWriter, r *http.Request) {
	if !h.requirePost(w, r) {
		return
	}

	q := r.URL.Query()
	var sel entity.ScriptSelector
	if v := q.Get("obj"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			h.writeError(w, "invalid obj parameter", http.StatusBadRequest)
			return
		}
		sel.ObjID = id
	}
	if v := q.Get("dbref"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			h.writeError(w, "invalid dbref parameter", http.StatusBadRequest)
			return
		}
		sel.DBRef = id
	}
	sel.Key = q.Get("key")
	initMode := q.Get("init") == "true"

	h.triggers.ReloadScripts(sel, initMode)
	h.writeOK(w, "script validation complete")
}

// handleReloadCommands clears the command set cache.
func (h *HTTPEndpoint) handleReloadCommands(w http.ResponseWriter, r *http.Request) {
	if !h.requirePost(w, r) {
		return
	}
	h.triggers.ReloadCommands()
	h.writeOK(w, "cmdset cache cleaned")
}

// handleStatus returns a server state snapshot.
func (h *HTTPEndpoint) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.triggers.Status())
}

// requirePost rejects non-POST requests.
func (h *HTTPEndpoint) requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// writeOK writes a success response.
func (h *HTTPEndpoint) writeOK(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "message": message})
}

// writeError writes an error response.
func (h *HTTPEndpoint) writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
