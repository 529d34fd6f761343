package cli

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/zot/world/internal/config"
	"github.com/zot/world/internal/mcp"
)

// runAdminCommand sends one tool call to a running server's admin socket
// and prints the result.
func runAdminCommand(tool string, args []string) int {
	fs := flag.NewFlagSet(tool, flag.ContinueOnError)
	socket := fs.String("socket", "", "Admin socket of the running server")
	obj := fs.Int64("obj", 0, "Restrict to scripts attached to this object")
	key := fs.String("key", "", "Restrict to scripts with this key")
	dbref := fs.Int64("dbref", 0, "Restrict to one script by durable ID")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	path := *socket
	if path == "" {
		path = config.DefaultConfig().Server.Socket
	}

	arguments := map[string]interface{}{}
	if *obj != 0 {
		arguments["obj"] = *obj
	}
	if *key != "" {
		arguments["key"] = *key
	}
	if *dbref != 0 {
		arguments["dbref"] = *dbref
	}

	result, err := callTool(path, tool, arguments)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println(result)
	return 0
}

// callTool dials the admin socket and performs one tools/call exchange.
func callTool(socketPath, tool string, arguments map[string]interface{}) (string, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return "", fmt.Errorf("connecting to %s (is the server running?): %w", socketPath, err)
	}
	defer conn.Close()

	params, err := json.Marshal(mcp.ToolCallParams{Name: tool, Arguments: arguments})
	if err != nil {
		return "", err
	}
	request := mcp.Message{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "tools/call",
		Params:  params,
	}

	data, err := json.Marshal(&request)
	if err != nil {
		return "", err
	}
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return "", err
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 1024*1024), 10*1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("connection closed before a response arrived")
	}

	var response mcp.Message
	if err := json.Unmarshal(scanner.Bytes(), &response); err != nil {
		return "", fmt.Errorf("malformed response: %w", err)
	}
	if response.Error != nil {
		return "", fmt.Errorf("%s", response.Error.Message)
	}

	var result mcp.ToolCallResult
	if err := json.Unmarshal(response.Result, &result); err != nil {
		return "", fmt.Errorf("malformed result: %w", err)
	}

	var text string
	for _, content := range result.Content {
		if content.Type == "text" {
			text += content.Text
		}
	}
	if result.IsError {
		return "", fmt.Errorf("%s", text)
	}
	return text, nil
}
