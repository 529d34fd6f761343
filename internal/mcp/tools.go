package mcp

// Tool represents an MCP tool.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
	Handler     func(args map[string]interface{}) (interface{}, error)
}

// NewTool creates a new tool definition.
func NewTool(name, description string, schema map[string]interface{}) *Tool {
	return &Tool{
		Name:        name,
		Description: description,
		InputSchema: schema,
	}
}

// WithHandler sets the tool handler.
func (t *Tool) WithHandler(handler func(args map[string]interface{}) (interface{}, error)) *Tool {
	t.Handler = handler
	return t
}

// Schema helper for building JSON schemas.
type Schema map[string]interface{}

// ObjectSchema creates an object schema.
func ObjectSchema(properties Schema, required []string) Schema {
	return Schema{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// StringProp creates a string property.
func StringProp(description string) Schema {
	return Schema{
		"type":        "string",
		"description": description,
	}
}

// IntProp creates an integer property.
func IntProp(description string) Schema {
	return Schema{
		"type":        "integer",
		"description": description,
	}
}

// BoolProp creates a boolean property.
func BoolProp(description string) Schema {
	return Schema{
		"type":        "boolean",
		"description": description,
	}
}

// ReloadModulesTool triggers a full reload cycle.
func ReloadModulesTool() *Tool {
	return NewTool(
		"reload_modules",
		"Reload all safely-reloadable changed modules, invalidate code-derived caches, and start the entity reset sweep",
		ObjectSchema(Schema{}, []string{}),
	)
}

// ReloadScriptsTool validates scripts against the loaded code.
func ReloadScriptsTool() *Tool {
	return NewTool(
		"reload_scripts",
		"Validate scripts, starting valid stopped ones and stopping invalid running ones",
		ObjectSchema(Schema{
			"obj":   IntProp("Restrict to scripts attached to this object ID"),
			"key":   StringProp("Restrict to scripts with this key"),
			"dbref": IntProp("Restrict to one script by durable ID"),
		}, []string{}),
	)
}

// ReloadCommandsTool clears the command set cache.
func ReloadCommandsTool() *Tool {
	return NewTool(
		"reload_commands",
		"Clear the command set cache; command sets rebuild lazily",
		ObjectSchema(Schema{}, []string{}),
	)
}

// WorldStatusTool reports server state.
func WorldStatusTool() *Tool {
	return NewTool(
		"world_status",
		"Report loaded modules, live channels, cache sizes, and running script timers",
		ObjectSchema(Schema{}, []string{}),
	)
}
