package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/yndnr/hamesh-go/internal/core/domain"
)

// Multiplex is the policy for requests carrying a node selector.
type Multiplex int

const (
	// MultiplexNever runs the handler on the receiving node only. Used
	// by handlers whose output is filtered by the caller's grants.
	MultiplexNever Multiplex = iota

	// MultiplexOptional forwards to the selected nodes when the request
	// carries a node selector.
	MultiplexOptional

	// MultiplexAlways forwards to every live node when the request has
	// no selector.
	MultiplexAlways
)

// Route is a (method, path) pair. An empty method declares an internal
// action, reachable only by name through POST /.
type Route struct {
	Method string
	Path   string
}

// Namespace scopes of an Access policy.
const (
	NamespacesAny  = "ANY"
	namespacesFrom = "FROM:"
)

// FromParam returns the namespace scope derived from the object path
// in the named parameter.
func FromParam(name string) string {
	return namespacesFrom + name
}

// Access is the access policy of a handler.
type Access struct {
	// Roles lists the accepted roles; any one is enough. Empty means
	// every caller, anonymous included.
	Roles []domain.Role

	// Namespaces scopes the scoped roles: NamespacesAny, FromParam(p)
	// or a comma separated namespace list. Ignored for global roles.
	Namespaces string

	// SecretRole, when set, replaces Roles for requests whose path
	// parameter designates a secret kind (sec, usr).
	SecretRole domain.Role
}

// ParamFrom returns the parameter name of a FROM:<param> scope.
func (a Access) ParamFrom() (string, bool) {
	return strings.CutPrefix(a.Namespaces, namespacesFrom)
}

// Spec describes a handler to the listener.
type Spec struct {
	Name      string
	Routes    []Route
	Prototype []Param
	Access    Access
	Multiplex Multiplex

	// Mutating requests are audited with their parameters.
	Mutating bool
}

// Request is a validated request handed to Action.
type Request struct {
	ID         string
	Caller     domain.Identity
	ClientAddr string
	Params     Params
}

// Handler executes one cluster operation.
type Handler interface {
	Spec() Spec
	Action(ctx context.Context, req *Request) (any, error)
}

// Streamer is implemented by handlers pushing a stream of records. The
// listener calls Stream instead of Action; emit writes one record and
// fails once the client is gone.
type Streamer interface {
	Stream(ctx context.Context, req *Request, emit func(any) error) error
}

// Info is a successful result carrying an informational message
// instead of data.
type Info struct {
	Message string
	Data    any
}

func get(path string) []Route  { return []Route{{Method: http.MethodGet, Path: path}} }
func post(path string) []Route { return []Route{{Method: http.MethodPost, Path: path}} }
func internal() []Route        { return nil }
