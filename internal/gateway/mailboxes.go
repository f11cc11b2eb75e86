package gateway

import (
	"net/http"
	"strings"

	"github.com/brandon/imap-gateway/pkg/types"
)

// MailboxesRoute lists the selectable mailboxes of a connected identity
type MailboxesRoute struct {
	deps *Deps
}

// NewMailboxesRoute creates a new mailboxes route
func NewMailboxesRoute(deps *Deps) *MailboxesRoute {
	return &MailboxesRoute{deps: deps}
}

// Name returns the route name
func (m *MailboxesRoute) Name() string {
	return "mailboxes"
}

// Method returns the HTTP method
func (m *MailboxesRoute) Method() string {
	return http.MethodGet
}

// Paths returns the URL paths served
func (m *MailboxesRoute) Paths() []string {
	return []string{"/mailboxes"}
}

// Handle lists mailboxes over the identity's session
func (m *MailboxesRoute) Handle(r *http.Request) (interface{}, error) {
	identity := strings.TrimSpace(r.URL.Query().Get("email"))
	if identity == "" {
		return nil, badRequest(msgEmailRequired)
	}

	session, err := m.deps.Registry.Lookup(identity)
	if err != nil {
		return nil, commandError(err, msgMailboxesFailed)
	}

	ctx, cancel := m.deps.commandContext(r, m.deps.Config.CommandTimeout)
	defer cancel()

	mailboxes, err := session.ListMailboxes(ctx)
	if err != nil {
		m.deps.evictFailed(session)
		return nil, commandError(err, msgMailboxesFailed)
	}

	return types.MailboxesResponse{Success: true, Mailboxes: mailboxes}, nil
}
