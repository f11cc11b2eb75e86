package gateway

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
)

// HostHistory remembers the host an identity last connected to.
type HostHistory interface {
	LastHost(ctx context.Context, identity string) (string, bool, error)
}

// HostResolver picks the IMAP host for a connect request.
type HostResolver struct {
	hosts   map[string]string
	history HostHistory
	logger  *logrus.Logger
}

// NewHostResolver creates a resolver over a domain to host table. history
// may be nil.
func NewHostResolver(hosts map[string]string, history HostHistory, logger *logrus.Logger) *HostResolver {
	return &HostResolver{
		hosts:   hosts,
		history: history,
		logger:  logger,
	}
}

// Resolve returns, in order of preference: the explicit host, the host
// identity last connected to, the well-known host for its domain, or
// imap.<domain>. It returns "" when identity has no domain and nothing
// else applies.
func (h *HostResolver) Resolve(ctx context.Context, identity, explicit string) string {
	if host := strings.TrimSpace(explicit); host != "" {
		return host
	}

	if h.history != nil {
		host, ok, err := h.history.LastHost(ctx, identity)
		switch {
		case err != nil:
			h.logger.WithError(err).WithField("identity", identity).Warn("Failed to look up last host")
		case ok && host != "":
			return host
		}
	}

	domain := domainOf(identity)
	if domain == "" {
		return ""
	}
	if host, ok := h.hosts[domain]; ok {
		return host
	}
	return "imap." + domain
}

func domainOf(identity string) string {
	at := strings.LastIndex(identity, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(identity[at+1:]))
}
