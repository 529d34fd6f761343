// Package cli provides the command-line interface for the world server.
// It exports Run() and RunWithHooks() to allow extension by wrapper projects.
package cli

import (
	"fmt"
	"os"
)

// Hooks allows extending the CLI with additional commands.
type Hooks struct {
	// BeforeDispatch is called before command dispatch.
	// Return (handled=true, exitCode) to skip normal dispatch.
	BeforeDispatch func(command string, args []string) (handled bool, exitCode int)

	// CustomHelp returns additional help text to append.
	CustomHelp func() string

	// CustomVersion returns version info to append (optional).
	CustomVersion func() string
}

// Run executes the CLI with the given arguments.
// Returns exit code (0 = success, non-zero = error).
func Run(args []string) int {
	return RunWithHooks(args, nil)
}

// RunWithHooks executes CLI with extension hooks.
func RunWithHooks(args []string, hooks *Hooks) int {
	if len(args) < 1 {
		return runServe(args)
	}

	command := args[0]
	cmdArgs := args[1:]

	// Let hooks intercept first
	if hooks != nil && hooks.BeforeDispatch != nil {
		if handled, code := hooks.BeforeDispatch(command, cmdArgs); handled {
			return code
		}
	}

	switch command {
	case "serve":
		return runServe(cmdArgs)
	case "mcp":
		return runMCP(cmdArgs)
	case "reload":
		return runAdminCommand("reload_modules", cmdArgs)
	case "reload-scripts":
		return runAdminCommand("reload_scripts", cmdArgs)
	case "reload-commands":
		return runAdminCommand("reload_commands", cmdArgs)
	case "status":
		return runAdminCommand("world_status", cmdArgs)
	case "help", "-h", "--help":
		printHelp(hooks)
		return 0
	case "version", "--version":
		printVersion(hooks)
		return 0
	default:
		// Check if it's a flag (starts with -)
		if len(command) > 0 && command[0] == '-' {
			return runServe(args)
		}
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printHelp(hooks)
		return 1
	}
}

func printHelp(hooks *Hooks) {
	fmt.Println(`World Server

Usage: world-engine [command] [options]

Server Commands:
  serve           Start the world server (default)
  mcp             Start the server with the MCP admin interface on stdio

Admin Commands (sent to a running server's admin socket):
  reload          Reload changed modules and reset code-derived caches
  reload-scripts  Validate scripts against the loaded code
  reload-commands Clear the command set cache
  status          Show loaded modules, channels, caches, and timers

Server Options:
  --host              Listen address (default: 0.0.0.0)
  --port              Listen port (default: 4001)
  --socket            Admin socket path
  --storage           Storage type: memory, sqlite, postgresql
  --storage-path      SQLite database path
  --storage-url       PostgreSQL connection URL
  --lua               Enable Lua typeclass modules (default: true)
  --lua-path          Lua modules directory
  --info-channel      Channel receiving reload progress (default: mudinfo)
  --protected-prefixes  Comma-separated protected module prefixes
  --except-prefixes     Comma-separated reload exception prefixes
  --log-level         Log level: debug, info, warn, error
  --log-file          Durable log file path
  -v, -vv, -vvv       Verbosity level

Admin Options:
  --socket        Admin socket of the running server
  --obj           Restrict script validation to scripts on this object
  --key           Restrict script validation to scripts with this key
  --dbref         Restrict script validation to one script by durable ID

Examples:
  world-engine serve --port 4001 --storage sqlite --storage-path world.db
  world-engine reload
  world-engine reload-scripts --key tick
  world-engine status`)

	if hooks != nil && hooks.CustomHelp != nil {
		fmt.Println(hooks.CustomHelp())
	}
}

func printVersion(hooks *Hooks) {
	fmt.Println("World Server v0.1.0")
	if hooks != nil && hooks.CustomVersion != nil {
		fmt.Println(hooks.CustomVersion())
	}
}
