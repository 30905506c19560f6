package permissions

import (
	"net/http"
	"strings"
)

// Definition describes one admin route and who may call it.
type Definition struct {
	Key    string `json:"key"`
	Method string `json:"method"`
	Path   string `json:"path"`
	Label  string `json:"label"`
	Module string `json:"module"`
	// Session reports whether an admin session token is enough; otherwise a master key is required.
	Session bool `json:"session"`
}

// Key builds a permission key from method and path.
func Key(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

// Lookup returns the definition of a route.
func Lookup(method, path string) (Definition, bool) {
	def, ok := definitionMap[Key(method, path)]
	return def, ok
}

// SessionAllowed reports whether a session token may call the route.
// Unknown routes are master-key only.
func SessionAllowed(method, path string) bool {
	def, ok := Lookup(method, path)
	return ok && def.Session
}

// Definitions returns a copy of all permission definitions.
func Definitions() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	return out
}

// newDefinition builds a Definition with a normalized key. Reads are open to sessions.
func newDefinition(method, path, label, module string) Definition {
	upperMethod := strings.ToUpper(method)
	return Definition{
		Key:     Key(upperMethod, path),
		Method:  upperMethod,
		Path:    path,
		Label:   label,
		Module:  module,
		Session: upperMethod == http.MethodGet,
	}
}

// definitions is the ordered list of permission definitions.
var definitions = []Definition{
	newDefinition("POST", "/admin/user", "Create User", "Users"),
	newDefinition("GET", "/admin/user/me", "Get Current User", "Users"),
	newDefinition("GET", "/admin/user/:id", "Get User", "Users"),
	newDefinition("DELETE", "/admin/user/:id", "Delete User", "Users"),

	newDefinition("DELETE", "/admin/session-token/:id", "Revoke Session", "Sessions"),

	newDefinition("POST", "/admin/project", "Create Project", "Projects"),
	newDefinition("GET", "/admin/project", "List Projects", "Projects"),
	newDefinition("GET", "/admin/project/:id", "Get Project", "Projects"),
	newDefinition("DELETE", "/admin/project/:id", "Delete Project", "Projects"),

	newDefinition("POST", "/admin/connection", "Create Connection", "Connections"),
	newDefinition("GET", "/admin/connection", "List Connections", "Connections"),
	newDefinition("GET", "/admin/connection/:id", "Get Connection", "Connections"),
	newDefinition("DELETE", "/admin/connection/:id", "Delete Connection", "Connections"),

	newDefinition("POST", "/admin/deployment", "Create Deployment", "Deployments"),
	newDefinition("GET", "/admin/deployment", "List Deployments", "Deployments"),
	newDefinition("GET", "/admin/deployment/:id", "Get Deployment", "Deployments"),
	newDefinition("DELETE", "/admin/deployment/:id", "Delete Deployment", "Deployments"),

	newDefinition("POST", "/admin/virtual-key", "Create Virtual Key", "Virtual Keys"),
	newDefinition("GET", "/admin/virtual-key", "List Virtual Keys", "Virtual Keys"),
	newDefinition("GET", "/admin/virtual-key/:id", "Get Virtual Key", "Virtual Keys"),
	newDefinition("DELETE", "/admin/virtual-key/:id", "Delete Virtual Key", "Virtual Keys"),

	newDefinition("POST", "/admin/connection-deployment", "Bind Connection", "Routing"),
	newDefinition("GET", "/admin/connection-deployment", "List Connection Bindings", "Routing"),
	newDefinition("GET", "/admin/connection-deployment/:id", "Get Connection Binding", "Routing"),
	newDefinition("DELETE", "/admin/connection-deployment/:id", "Unbind Connection", "Routing"),

	newDefinition("POST", "/admin/virtual-key-deployment", "Grant Deployment", "Routing"),
	newDefinition("GET", "/admin/virtual-key-deployment", "List Deployment Grants", "Routing"),
	newDefinition("GET", "/admin/virtual-key-deployment/:id", "Get Deployment Grant", "Routing"),
	newDefinition("DELETE", "/admin/virtual-key-deployment/:id", "Revoke Deployment Grant", "Routing"),

	newDefinition("GET", "/admin/graph/:key/:deployment", "Inspect Request Graph", "Debug"),
	newDefinition("GET", "/admin/permissions", "List Permissions", "Debug"),
}

var definitionMap = func() map[string]Definition {
	out := make(map[string]Definition, len(definitions))
	for _, def := range definitions {
		out[def.Key] = def
	}
	return out
}()
