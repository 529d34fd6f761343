// Package mcp implements the MCP admin interface: a line-delimited
// JSON-RPC server exposing reload triggers and status as tools and
// resources. The same server instance can serve stdio and any number of
// admin socket connections.
package mcp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/zot/world/internal/config"
)

// Server implements an MCP server for admin integration.
type Server struct {
	cfg       *config.Config
	resources map[string]*Resource
	tools     map[string]*Tool
	mu        sync.RWMutex
	shutdown  chan struct{}
}

// NewServer creates a new MCP server.
func NewServer(cfg *config.Config) *Server {
	return &Server{
		cfg:       cfg,
		resources: make(map[string]*Resource),
		tools:     make(map[string]*Tool),
		shutdown:  make(chan struct{}),
	}
}

// RegisterResource adds a resource to the server.
func (s *Server) RegisterResource(r *Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[r.URI] = r
}

// RegisterTool adds a tool to the server.
func (s *Server) RegisterTool(t *Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[t.Name] = t
}

// Serve processes MCP messages from input until EOF or shutdown.
func (s *Server) Serve(input io.Reader, output io.Writer) error {
	scanner := bufio.NewScanner(input)
	// Handle large messages
	scanner.Buffer(make([]byte, 1024*1024), 10*1024*1024)

	for scanner.Scan() {
		select {
		case <-s.shutdown:
			return nil
		default:
		}

		line := scanner.Text()
		if line == "" {
			continue
		}

		var msg Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			s.cfg.Log(1, "MCP: failed to parse message: %v", err)
			continue
		}

		response := s.handleMessage(&msg)
		if response != nil {
			if err := sendMessage(output, response); err != nil {
				return err
			}
		}
	}

	return scanner.Err()
}

// Shutdown stops the server.
func (s *Server) Shutdown() {
	close(s.shutdown)
}

// handleMessage processes an incoming MCP message.
func (s *Server) handleMessage(msg *Message) *Message {
	switch msg.Method {
	case "initialize":
		return s.handleInitialize(msg)
	case "resources/list":
		return s.handleListResources(msg)
	case "resources/read":
		return s.handleReadResource(msg)
	case "tools/list":
		return s.handleListTools(msg)
	case "tools/call":
		return s.handleToolCall(msg)
	case "notifications/initialized":
		// Client acknowledgment, no response needed
		return nil
	default:
		return errorResponse(msg.ID, -32601, "Method not found")
	}
}

// handleInitialize responds to the initialize request.
func (s *Server) handleInitialize(msg *Message) *Message {
	result := InitializeResult{
		ProtocolVersion: "2024-11-05",
		Capabilities: ServerCapabilities{
			Resources: &ResourceCapabilities{},
			Tools:     &ToolCapabilities{},
		},
		ServerInfo: ServerInfo{
			Name:    "world-server",
			Version: "0.1.0",
		},
	}
	return successResponse(msg.ID, result)
}

// handleListResources returns available resources.
func (s *Server) handleListResources(msg *Message) *Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resources := make([]ResourceInfo, 0, len(s.resources))
	for _, r := range s.resources {
		resources = append(resources, ResourceInfo{
			URI:         r.URI,
			Name:        r.Name,
			Description: r.Description,
			MimeType:    r.MimeType,
		})
	}

	return successResponse(msg.ID, ListResourcesResult{Resources: resources})
}

// handleReadResource reads a specific resource.
func (s *Server) handleReadResource(msg *Message) *Message {
	var params ReadResourceParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return errorResponse(msg.ID, -32602, "Invalid params")
	}

	s.mu.RLock()
	resource, ok := s.resources[params.URI]
	s.mu.RUnlock()

	if !ok {
		return errorResponse(msg.ID, -32602, "Resource not found")
	}
	if resource.Handler == nil {
		return errorResponse(msg.ID, -32603, "No resource handler")
	}

	content, err := resource.Handler()
	if err != nil {
		return errorResponse(msg.ID, -32603, err.Error())
	}

	contentJSON, _ := json.Marshal(content)
	return successResponse(msg.ID, ReadResourceResult{
		Contents: []ResourceContent{
			{
				URI:      params.URI,
				MimeType: resource.MimeType,
				Text:     string(contentJSON),
			},
		},
	})
}

// handleListTools returns available tools.
func (s *Server) handleListTools(msg *Message) *Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tools := make([]ToolInfo, 0, len(s.tools))
	for _, t := range s.tools {
		tools = append(tools, ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}

	return successResponse(msg.ID, ListToolsResult{Tools: tools})
}

// handleToolCall executes a tool.
func (s *Server) handleToolCall(msg *Message) *Message {
	var params ToolCallParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return errorResponse(msg.ID, -32602, "Invalid params")
	}

	s.mu.RLock()
	tool, ok := s.tools[params.Name]
	s.mu.RUnlock()

	if !ok {
		return errorResponse(msg.ID, -32602, "Tool not found")
	}
	if tool.Handler == nil {
		return errorResponse(msg.ID, -32603, "No tool handler")
	}

	result, err := tool.Handler(params.Arguments)
	if err != nil {
		return successResponse(msg.ID, ToolCallResult{
			Content: []ToolContent{
				{Type: "text", Text: fmt.Sprintf("Error: %v", err)},
			},
			IsError: true,
		})
	}

	resultJSON, _ := json.Marshal(result)
	return successResponse(msg.ID, ToolCallResult{
		Content: []ToolContent{
			{Type: "text", Text: string(resultJSON)},
		},
	})
}

// successResponse creates a success response.
func successResponse(id interface{}, result interface{}) *Message {
	resultJSON, _ := json.Marshal(result)
	return &Message{
		JSONRPC: "2.0",
		ID:      id,
		Result:  resultJSON,
	}
}

// errorResponse creates an error response.
func errorResponse(id interface{}, code int, message string) *Message {
	return &Message{
		JSONRPC: "2.0",
		ID:      id,
		Error: &ErrorObject{
			Code:    code,
			Message: message,
		},
	}
}

// sendMessage writes a message to the output.
func sendMessage(output io.Writer, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(output, "%s\n", data)
	return err
}
