package gateway

import (
	"net/http"

	"github.com/sirupsen/logrus"
)

// Route is one endpoint of the gateway API
type Route interface {
	Name() string
	Method() string
	Paths() []string
	Handle(r *http.Request) (interface{}, error)
}

// Routes holds the registered endpoints
type Routes struct {
	logger *logrus.Logger
	routes []Route
}

// NewRoutes registers every endpoint backed by deps
func NewRoutes(deps *Deps, logger *logrus.Logger) *Routes {
	r := &Routes{logger: logger}

	for _, route := range []Route{
		NewConnectRoute(deps),
		NewMailboxesRoute(deps),
		NewMessagesRoute(deps),
		NewDisconnectRoute(deps),
		NewHealthRoute(deps),
	} {
		r.routes = append(r.routes, route)
		r.logger.WithFields(logrus.Fields{
			"route":  route.Name(),
			"method": route.Method(),
			"paths":  route.Paths(),
		}).Debug("Registered route")
	}

	r.logger.WithField("count", len(r.routes)).Info("Registered routes")
	return r
}

// List returns all registered routes
func (r *Routes) List() []Route {
	return append([]Route(nil), r.routes...)
}
