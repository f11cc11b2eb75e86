package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/brandon/imap-gateway/internal/config"
	"github.com/brandon/imap-gateway/internal/email"
	"github.com/brandon/imap-gateway/internal/store"
	"github.com/brandon/imap-gateway/pkg/types"
)

const (
	shutdownTimeout = 10 * time.Second
	maxBodyBytes    = 1 << 20
)

// AuditStore records connection outcomes and reads them back. *store.Store
// implements it.
type AuditStore interface {
	HostHistory
	RecordConnect(ctx context.Context, identity, host string) error
	RecordFailure(ctx context.Context, identity, host, kind string) error
	RecordDisconnect(ctx context.Context, identity string) error
	Events(ctx context.Context, opts store.EventQuery) ([]store.Event, error)
}

// Deps are the collaborators shared by every route
type Deps struct {
	Config   *config.Config
	Registry *email.Registry
	Store    AuditStore
	Hosts    *HostResolver
	Limiter  *Limiter
	Logger   *logrus.Logger
}

// audit runs a store write, logging instead of failing the request.
func (d *Deps) audit(r *http.Request, what string, fn func(ctx context.Context, s AuditStore) error) {
	if d.Store == nil {
		return
	}
	if err := fn(context.WithoutCancel(r.Context()), d.Store); err != nil {
		requestLogger(r).WithError(err).WithField("record", what).Warn("Failed to write audit record")
	}
}

// evictFailed forgets a session whose connection failed.
func (d *Deps) evictFailed(session *email.Session) {
	if session.State() == email.StateFailed {
		d.Registry.Evict(session.Identity(), session)
	}
}

// commandContext bounds an IMAP exchange. A client hanging up does not
// abort a command already on the wire.
func (d *Deps) commandContext(r *http.Request, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), timeout)
}

// Server is the HTTP face of the gateway
type Server struct {
	config  *config.Config
	logger  *logrus.Logger
	routes  *Routes
	deps    *Deps
	handler http.Handler
}

// NewServer creates a new gateway server. auditStore may be nil.
func NewServer(cfg *config.Config, registry *email.Registry, auditStore AuditStore, logger *logrus.Logger) (*Server, error) {
	if cfg == nil || registry == nil {
		return nil, fmt.Errorf("config and session registry are required")
	}

	deps := &Deps{
		Config:   cfg,
		Registry: registry,
		Store:    auditStore,
		Limiter:  NewLimiter(cfg.ConnectRatePerMinute, cfg.ConnectBurst),
		Logger:   logger,
	}
	var history HostHistory
	if auditStore != nil {
		history = auditStore
	}
	deps.Hosts = NewHostResolver(cfg.Hosts, history, logger)

	s := &Server{
		config: cfg,
		logger: logger,
		routes: NewRoutes(deps, logger),
		deps:   deps,
	}

	mux := http.NewServeMux()
	for _, route := range s.routes.List() {
		for _, path := range route.Paths() {
			mux.Handle(route.Method()+" "+path, s.serve(route))
		}
	}
	s.handler = withRequestID(logger, accessLog(mux))

	return s, nil
}

// Handler returns the gateway's HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves HTTP on the configured address until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.WithField("addr", srv.Addr).Info("Starting HTTP gateway")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down: %w", err)
		}
		s.logger.Info("HTTP gateway stopped")
		return nil
	})
	return g.Wait()
}

// serve adapts a route to net/http, rendering its result or error as JSON
func (s *Server) serve(route Route) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result, err := route.Handle(r)
		if err == nil {
			writeJSON(w, http.StatusOK, result)
			return
		}

		var apiErr *apiError
		if !errors.As(err, &apiErr) {
			apiErr = &apiError{Status: http.StatusInternalServerError, Message: "Internal error", Err: err}
		}

		entry := requestLogger(r).WithFields(logrus.Fields{
			"route":  route.Name(),
			"status": apiErr.Status,
		})
		if apiErr.Err != nil {
			entry = entry.WithError(apiErr.Err).WithField("kind", email.KindOf(apiErr.Err).String())
		}
		entry.Warn(apiErr.Message)

		writeJSON(w, apiErr.Status, types.StatusResponse{Success: false, Message: apiErr.Message})
	})
}

// decodeJSON reads a JSON request body into v. An empty body leaves v
// untouched.
func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return &apiError{Status: http.StatusBadRequest, Message: msgInvalidBody, Err: err}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
