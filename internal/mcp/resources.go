package mcp

// Resource represents an MCP resource.
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
	Handler     func() (interface{}, error)
}

// NewResource creates a new resource definition.
func NewResource(uri, name, description, mimeType string) *Resource {
	return &Resource{
		URI:         uri,
		Name:        name,
		Description: description,
		MimeType:    mimeType,
	}
}

// WithHandler sets the resource handler.
func (r *Resource) WithHandler(handler func() (interface{}, error)) *Resource {
	r.Handler = handler
	return r
}

// WorldStatusResource exposes server state as a readable resource.
func WorldStatusResource() *Resource {
	return NewResource(
		"world://status",
		"World status",
		"Loaded modules, live channels, cache sizes, and running script timers",
		"application/json",
	)
}

// LoadedModulesResource exposes the loaded module list.
func LoadedModulesResource() *Resource {
	return NewResource(
		"world://modules",
		"Loaded modules",
		"Dotted paths of all loaded code modules",
		"application/json",
	)
}
