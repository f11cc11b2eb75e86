package gateway

import (
	"net/http"
	"strings"

	"github.com/brandon/imap-gateway/internal/email"
	"github.com/brandon/imap-gateway/pkg/types"
)

// MessagesRoute summarizes the most recent messages of a mailbox
type MessagesRoute struct {
	deps *Deps
}

// NewMessagesRoute creates a new messages route
func NewMessagesRoute(deps *Deps) *MessagesRoute {
	return &MessagesRoute{deps: deps}
}

// Name returns the route name
func (m *MessagesRoute) Name() string {
	return "messages"
}

// Method returns the HTTP method
func (m *MessagesRoute) Method() string {
	return http.MethodPost
}

// Paths returns the URL paths served
func (m *MessagesRoute) Paths() []string {
	return []string{"/emails", "/messages"}
}

// Handle fetches message summaries over the identity's session
func (m *MessagesRoute) Handle(r *http.Request) (interface{}, error) {
	var req types.MessagesRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Mailbox == "" {
		return nil, badRequest(msgMailboxRequired)
	}

	session, err := m.deps.Registry.Lookup(req.Email)
	if err != nil {
		return nil, commandError(err, msgFetchFailed)
	}

	ctx, cancel := m.deps.commandContext(r, m.deps.Config.CommandTimeout)
	defer cancel()

	messages, err := session.FetchSummaries(ctx, req.Mailbox, m.deps.Config.FetchLimit)
	if err != nil {
		m.deps.evictFailed(session)
		if email.IsKind(err, email.KindMailbox) {
			return nil, &apiError{Status: http.StatusInternalServerError, Message: msgMailboxFailed, Err: err}
		}
		return nil, commandError(err, msgFetchFailed)
	}

	resp := types.MessagesResponse{Success: true, Messages: messages}
	if r.URL.Path == "/emails" {
		return types.EmailsResponse{MessagesResponse: resp, Emails: messages}, nil
	}
	return resp, nil
}
