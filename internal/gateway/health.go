package gateway

import (
	"net/http"

	"github.com/brandon/imap-gateway/pkg/types"
)

// HealthRoute reports liveness and the number of open sessions
type HealthRoute struct {
	deps *Deps
}

// NewHealthRoute creates a new health route
func NewHealthRoute(deps *Deps) *HealthRoute {
	return &HealthRoute{deps: deps}
}

// Name returns the route name
func (h *HealthRoute) Name() string {
	return "health"
}

// Method returns the HTTP method
func (h *HealthRoute) Method() string {
	return http.MethodGet
}

// Paths returns the URL paths served
func (h *HealthRoute) Paths() []string {
	return []string{"/health"}
}

// Handle reports the session count
func (h *HealthRoute) Handle(r *http.Request) (interface{}, error) {
	return types.HealthResponse{Success: true, Sessions: h.deps.Registry.Len()}, nil
}
