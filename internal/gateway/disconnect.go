package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/brandon/imap-gateway/pkg/types"
)

// DisconnectRoute closes an identity's session
type DisconnectRoute struct {
	deps *Deps
}

// NewDisconnectRoute creates a new disconnect route
func NewDisconnectRoute(deps *Deps) *DisconnectRoute {
	return &DisconnectRoute{deps: deps}
}

// Name returns the route name
func (d *DisconnectRoute) Name() string {
	return "disconnect"
}

// Method returns the HTTP method
func (d *DisconnectRoute) Method() string {
	return http.MethodPost
}

// Paths returns the URL paths served
func (d *DisconnectRoute) Paths() []string {
	return []string{"/disconnect"}
}

// Handle closes the session if there is one. It succeeds either way; a
// failed logout still forgets the session.
func (d *DisconnectRoute) Handle(r *http.Request) (interface{}, error) {
	var req types.DisconnectRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		return nil, badRequest(msgEmailRequired)
	}

	log := requestLogger(r).WithField("identity", req.Email)

	ctx, cancel := d.deps.commandContext(r, d.deps.Config.ConnectTimeout)
	defer cancel()

	_, lookupErr := d.deps.Registry.Lookup(req.Email)
	if err := d.deps.Registry.Disconnect(ctx, req.Email); err != nil {
		log.WithError(err).Warn("Logout failed, session dropped")
	}

	if lookupErr == nil {
		d.deps.audit(r, "disconnect", func(ctx context.Context, s AuditStore) error {
			return s.RecordDisconnect(ctx, req.Email)
		})
		log.Info("Session disconnected")
	}

	return types.StatusResponse{Success: true}, nil
}
