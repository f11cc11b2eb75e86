package types

// ConnectRequest is the body of POST /connect. Server is optional.
type ConnectRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Server   string `json:"server"`
}

// ConnectResponse reports a successful login and the host it went to.
type ConnectResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Host    string `json:"host"`
}

// MailboxesResponse is the reply to GET /mailboxes.
type MailboxesResponse struct {
	Success   bool      `json:"success"`
	Mailboxes []Mailbox `json:"mailboxes"`
}

// MessagesRequest is the body of POST /emails.
type MessagesRequest struct {
	Email   string `json:"email"`
	Mailbox string `json:"mailbox"`
}

// MessagesResponse is the reply to POST /emails.
type MessagesResponse struct {
	Success  bool             `json:"success"`
	Messages []MessageSummary `json:"messages"`
}

// EmailsResponse is the reply on the /emails path. It repeats the summaries
// under "emails" for browser clients that read that field.
type EmailsResponse struct {
	MessagesResponse
	Emails []MessageSummary `json:"emails"`
}

// DisconnectRequest is the body of POST /disconnect.
type DisconnectRequest struct {
	Email string `json:"email"`
}

// StatusResponse carries the outcome of a request without a payload. Every
// failure is reported this way.
type StatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the reply to GET /health.
type HealthResponse struct {
	Success  bool `json:"success"`
	Sessions int  `json:"sessions"`
}
