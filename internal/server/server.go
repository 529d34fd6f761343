// Package server assembles and runs the world server: storage, the code
// registry, the Lua module loader, entities, channels, the reload core,
// and the HTTP and MCP admin surfaces.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"

	"github.com/zot/world/internal/comms"
	"github.com/zot/world/internal/config"
	"github.com/zot/world/internal/entity"
	"github.com/zot/world/internal/lua"
	"github.com/zot/world/internal/mcp"
	"github.com/zot/world/internal/registry"
	"github.com/zot/world/internal/reload"
	"github.com/zot/world/internal/storage"
)

// Server is the main world server.
type Server struct {
	cfg          *config.Config
	backend      storage.Backend
	reg          *registry.Registry
	loader       *lua.Loader
	watcher      *lua.Watcher
	repo         *entity.Repository
	channels     *comms.Registry
	reloader     *reload.Reloader
	mcpServer    *mcp.Server
	httpServer   *http.Server
	httpEndpoint *HTTPEndpoint
	adminSocket  net.Listener

	pendingMu sync.Mutex
	pending   map[string]bool // modules changed on disk since last reload
}

// New creates a new server with the given configuration.
func New(cfg *config.Config) (*Server, error) {
	backend, err := storage.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	s := &Server{
		cfg:     cfg,
		backend: backend,
		reg:     registry.New(cfg),
		pending: make(map[string]bool),
	}

	s.channels = comms.NewRegistry(cfg, s.listChannelNames)
	s.reg.SetChannelRefresher(s.channels.Update)
	s.reg.SetExitResolver(s.resolveExit)

	if cfg.Lua.Enabled {
		s.loader = lua.NewLoader(cfg, cfg.Lua.Path)
		s.reg.SetResolver(s.loader.Typeclass)
	}

	repo, err := entity.NewRepository(cfg, backend, s.reg)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("opening entity repository: %w", err)
	}
	s.repo = repo

	s.reloader = reload.New(cfg, s.source(), repo, s.reg, s.lookupChannel)
	s.setupMCP()

	return s, nil
}

// Start brings the server up: loads all modules, builds the channel
// distribution table, runs the cold-start script pass, starts the module
// watcher, the admin socket, and the HTTP server.
func (s *Server) Start() error {
	if s.loader != nil {
		if err := s.loader.LoadAll(); err != nil {
			return fmt.Errorf("loading modules: %w", err)
		}
	}

	if err := s.channels.Update(); err != nil {
		s.cfg.Log(0, "Warning: channel distribution table not built: %v", err)
	}

	// Cold-start pass: run state did not survive the restart.
	s.reloader.ReloadScripts(entity.ScriptSelector{}, true)

	if s.loader != nil {
		watcher, err := lua.NewWatcher(s.cfg, s.loader, s.noteModified)
		if err != nil {
			return fmt.Errorf("creating module watcher: %w", err)
		}
		if err := watcher.Start(); err != nil {
			return fmt.Errorf("starting module watcher: %w", err)
		}
		s.watcher = watcher
	}

	if s.cfg.Server.Socket != "" {
		if err := s.listenAdminSocket(); err != nil {
			return err
		}
	}

	return s.startHTTP()
}

// ServeMCP serves the MCP admin interface on stdio. It blocks until EOF.
func (s *Server) ServeMCP() error {
	s.cfg.Log(0, "Serving MCP admin interface on stdio")
	return s.mcpServer.Serve(os.Stdin, os.Stdout)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.watcher != nil {
		s.watcher.Stop()
	}
	s.repo.Runner().StopAll()
	s.mcpServer.Shutdown()
	if s.adminSocket != nil {
		s.adminSocket.Close()
	}
	if s.loader != nil {
		s.loader.Close()
	}
	if err := s.backend.Close(); err != nil {
		s.cfg.Log(0, "Warning: closing storage: %v", err)
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Repository returns the entity repository.
func (s *Server) Repository() *entity.Repository {
	return s.repo
}

// Registry returns the code registry.
func (s *Server) Registry() *registry.Registry {
	return s.reg
}

// Channels returns the channel registry.
func (s *Server) Channels() *comms.Registry {
	return s.channels
}

// ReloadModules runs a full reload cycle and clears the pending change set.
func (s *Server) ReloadModules() {
	s.reloader.ReloadModules()
	s.pendingMu.Lock()
	s.pending = make(map[string]bool)
	s.pendingMu.Unlock()
}

// ReloadScripts runs a script validation pass.
func (s *Server) ReloadScripts(sel entity.ScriptSelector, initMode bool) {
	s.reloader.ReloadScripts(sel, initMode)
}

// ReloadCommands clears the command set cache.
func (s *Server) ReloadCommands() {
	s.reloader.ReloadCommands()
}

// Status returns a snapshot of server state.
func (s *Server) Status() Status {
	classes, prototypes, exits, cmdsets := s.reg.Counts()

	var modules int
	if s.loader != nil {
		modules = len(s.loader.Loaded())
	}

	s.pendingMu.Lock()
	pending := make([]string, 0, len(s.pending))
	for path := range s.pending {
		pending = append(pending, path)
	}
	s.pendingMu.Unlock()
	sort.Strings(pending)

	return Status{
		Modules:        modules,
		PendingChanges: pending,
		Channels:       s.channels.Count(),
		Classes:        classes,
		Prototypes:     prototypes,
		Exits:          exits,
		Cmdsets:        cmdsets,
		RunningTimers:  s.repo.Runner().Count(),
	}
}

// startHTTP starts the HTTP server.
func (s *Server) startHTTP() error {
	s.httpEndpoint = NewHTTPEndpoint(s.cfg, s.channels, s)

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	// Capture the actual port if 0 was passed
	if s.cfg.Server.Port == 0 {
		addr = listener.Addr().String()
		_, portStr, _ := net.SplitHostPort(addr)
		s.cfg.Server.Port, _ = strconv.Atoi(portStr)
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.httpEndpoint,
	}

	go func() {
		s.cfg.Log(0, "HTTP server listening on %s", addr)
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.cfg.Log(0, "HTTP server error: %v", err)
		}
	}()
	return nil
}

// listenAdminSocket serves the MCP admin interface on the configured
// unix socket, one JSON-RPC stream per connection.
func (s *Server) listenAdminSocket() error {
	os.Remove(s.cfg.Server.Socket)
	listener, err := net.Listen("unix", s.cfg.Server.Socket)
	if err != nil {
		return fmt.Errorf("failed to listen on admin socket %s: %w", s.cfg.Server.Socket, err)
	}
	s.adminSocket = listener
	s.cfg.Log(0, "Admin socket listening on %s", s.cfg.Server.Socket)

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				if err := s.mcpServer.Serve(conn, conn); err != nil {
					s.cfg.Log(1, "Admin socket connection error: %v", err)
				}
			}()
		}
	}()
	return nil
}

// setupMCP registers the admin tools and resources.
func (s *Server) setupMCP() {
	s.mcpServer = mcp.NewServer(s.cfg)

	s.mcpServer.RegisterTool(mcp.ReloadModulesTool().WithHandler(
		func(args map[string]interface{}) (interface{}, error) {
			s.ReloadModules()
			return map[string]string{"status": "ok"}, nil
		}))

	s.mcpServer.RegisterTool(mcp.ReloadScriptsTool().WithHandler(
		func(args map[string]interface{}) (interface{}, error) {
			var sel entity.ScriptSelector
			if v, ok := args["obj"].(float64); ok {
				sel.ObjID = int64(v)
			}
			if v, ok := args["key"].(string); ok {
				sel.Key = v
			}
			if v, ok := args["dbref"].(float64); ok {
				sel.DBRef = int64(v)
			}
			s.ReloadScripts(sel, false)
			return map[string]string{"status": "ok"}, nil
		}))

	s.mcpServer.RegisterTool(mcp.ReloadCommandsTool().WithHandler(
		func(args map[string]interface{}) (interface{}, error) {
			s.ReloadCommands()
			return map[string]string{"status": "ok"}, nil
		}))

	s.mcpServer.RegisterTool(mcp.WorldStatusTool().WithHandler(
		func(args map[string]interface{}) (interface{}, error) {
			return s.Status(), nil
		}))

	s.mcpServer.RegisterResource(mcp.WorldStatusResource().WithHandler(
		func() (interface{}, error) {
			return s.Status(), nil
		}))

	s.mcpServer.RegisterResource(mcp.LoadedModulesResource().WithHandler(
		func() (interface{}, error) {
			if s.loader == nil {
				return []string{}, nil
			}
			return s.loader.Loaded(), nil
		}))
}

// source returns the code source for the reload core. With Lua disabled
// there is nothing to reload and an empty source stands in.
func (s *Server) source() reload.Source {
	if s.loader != nil {
		return s.loader
	}
	return emptySource{}
}

// noteModified records a module changed on disk. Reloading stays
// operator-triggered; the watcher only surfaces what changed.
func (s *Server) noteModified(path string) {
	s.pendingMu.Lock()
	s.pending[path] = true
	n := len(s.pending)
	s.pendingMu.Unlock()
	s.cfg.Log(1, "Server: %s changed on disk (%d pending); trigger a reload to apply", path, n)
}

// listChannelNames returns the keys of every channel entity in storage.
func (s *Server) listChannelNames() ([]string, error) {
	rows, err := s.backend.ListCategory(storage.CategoryChannel)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rows))
	for _, data := range rows {
		if data.Key != "" {
			names = append(names, data.Key)
		}
	}
	return names, nil
}

// lookupChannel resolves the reload info channel.
func (s *Server) lookupChannel(name string) (reload.MessageSink, error) {
	ch, err := s.channels.Get(name)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// resolveExit resolves an exit entity to its destination. Exits store
// their destination in the attached-object field.
func (s *Server) resolveExit(exitID int64) (int64, error) {
	data, err := s.backend.Load(exitID)
	if err != nil {
		return 0, err
	}
	if data.ObjID == 0 {
		return 0, fmt.Errorf("exit #%d has no destination", exitID)
	}
	return data.ObjID, nil
}

// emptySource is the code source used when Lua is disabled.
type emptySource struct{}

func (emptySource) Modified() ([]string, error)     { return nil, nil }
func (emptySource) Load(path string) error          { return fmt.Errorf("module %s is not loaded", path) }
func (emptySource) Dependencies(path string) []string { return nil }
func (emptySource) Loaded() []string                { return nil }
