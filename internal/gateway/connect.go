package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/brandon/imap-gateway/internal/email"
	"github.com/brandon/imap-gateway/internal/store"
	"github.com/brandon/imap-gateway/pkg/types"
)

// ConnectRoute logs an identity in and registers its session
type ConnectRoute struct {
	deps *Deps
}

// NewConnectRoute creates a new connect route
func NewConnectRoute(deps *Deps) *ConnectRoute {
	return &ConnectRoute{deps: deps}
}

// Name returns the route name
func (c *ConnectRoute) Name() string {
	return "connect"
}

// Method returns the HTTP method
func (c *ConnectRoute) Method() string {
	return http.MethodPost
}

// Paths returns the URL paths served
func (c *ConnectRoute) Paths() []string {
	return []string{"/connect"}
}

// Handle opens a session, superseding any the identity already had
func (c *ConnectRoute) Handle(r *http.Request) (interface{}, error) {
	var req types.ConnectRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		return nil, badRequest(msgCredentials)
	}

	log := requestLogger(r).WithField("identity", req.Email)

	host := c.deps.Hosts.Resolve(context.WithoutCancel(r.Context()), req.Email, req.Server)
	if host == "" {
		return nil, badRequest(msgServerRequired)
	}

	if !c.deps.Limiter.Allow(req.Email) {
		c.deps.audit(r, "failure", func(ctx context.Context, s AuditStore) error {
			return s.RecordFailure(ctx, req.Email, host, email.KindRateLimited.String())
		})
		return nil, connectError(&email.Error{Kind: email.KindRateLimited, Op: "connect", Identity: req.Email})
	}

	if c.lockedOut(r, req.Email) {
		c.deps.audit(r, "failure", func(ctx context.Context, s AuditStore) error {
			return s.RecordFailure(ctx, req.Email, host, email.KindRateLimited.String())
		})
		log.Warn("Too many failed logins, connect refused")
		return nil, connectError(&email.Error{Kind: email.KindRateLimited, Op: "connect", Identity: req.Email})
	}

	ctx, cancel := c.deps.commandContext(r, c.deps.Config.ConnectTimeout)
	defer cancel()

	_, err := c.deps.Registry.Connect(ctx, email.Account{
		Identity: req.Email,
		Host:     host,
		Password: req.Password,
	})
	if err != nil {
		c.deps.audit(r, "failure", func(ctx context.Context, s AuditStore) error {
			return s.RecordFailure(ctx, req.Email, host, email.KindOf(err).String())
		})
		return nil, connectError(err)
	}

	c.deps.audit(r, "connect", func(ctx context.Context, s AuditStore) error {
		return s.RecordConnect(ctx, req.Email, host)
	})
	log.WithField("host", host).Info("Session connected")

	return types.ConnectResponse{Success: true, Message: msgConnected, Host: host}, nil
}

// lockedOut reports whether identity has reached the authentication failure
// limit since its last successful connect within the failure window. A store
// that cannot be read locks nobody out.
func (c *ConnectRoute) lockedOut(r *http.Request, identity string) bool {
	limit := c.deps.Config.AuthFailureLimit
	if c.deps.Store == nil || limit <= 0 {
		return false
	}

	since := time.Now().Add(-c.deps.Config.AuthFailureWindow)
	events, err := c.deps.Store.Events(context.WithoutCancel(r.Context()), store.EventQuery{
		Identity: &identity,
		Since:    &since,
		Limit:    1000,
	})
	if err != nil {
		requestLogger(r).WithError(err).Warn("Failed to read connect history")
		return false
	}

	failures := 0
	for _, ev := range events {
		if ev.Event == store.EventConnect {
			break
		}
		if ev.Event == store.EventFailure && ev.Detail == email.KindAuthentication.String() {
			failures++
		}
	}
	return failures >= limit
}
