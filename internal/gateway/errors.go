package gateway

import (
	"net/http"

	"github.com/brandon/imap-gateway/internal/email"
)

// apiError is a failure reported to the client as {success:false, message}.
type apiError struct {
	Status  int
	Message string
	Err     error
}

func (e *apiError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *apiError) Unwrap() error {
	return e.Err
}

func badRequest(message string) *apiError {
	return &apiError{Status: http.StatusBadRequest, Message: message}
}

const (
	msgInvalidBody     = "Invalid request body"
	msgNotConnected    = "Not connected"
	msgEmailRequired   = "Email is required"
	msgCredentials     = "Email and password are required"
	msgMailboxRequired = "Email and mailbox are required"
	msgServerRequired  = "Server is required"
	msgConnected       = "Connected successfully"
	msgTimedOut        = "Mail server did not respond in time"
	msgConnectFailed   = "Connection failed"
	msgMailboxesFailed = "Failed to load mailboxes"
	msgMailboxFailed   = "Error loading emails"
	msgFetchFailed     = "Error fetching emails"
	msgAuthFailed      = "Authentication failed: Invalid email or password"
	msgReset           = "Connection reset by server"
	msgTLSFailed       = "Secure connection to mail server failed"
	msgUnreachable     = "Mail server unreachable"
	msgTooManyAttempts = "Too many connection attempts, try again later"
)

// connectError maps a failed connect onto a status and message.
func connectError(err error) *apiError {
	e := &apiError{Status: http.StatusInternalServerError, Message: msgConnectFailed, Err: err}
	switch email.KindOf(err) {
	case email.KindAuthentication:
		e.Status, e.Message = http.StatusUnauthorized, msgAuthFailed
	case email.KindRateLimited:
		e.Status, e.Message = http.StatusTooManyRequests, msgTooManyAttempts
	case email.KindTimeout:
		e.Status, e.Message = http.StatusGatewayTimeout, msgTimedOut
	case email.KindNetwork:
		e.Status = http.StatusBadGateway
		switch email.ReasonOf(err) {
		case email.ReasonReset:
			e.Message = msgReset
		case email.ReasonTLS:
			e.Message = msgTLSFailed
		case email.ReasonUnreachable:
			e.Message = msgUnreachable
		}
	}
	return e
}

// commandError maps a failed command on an existing session. fallback is
// the message for failures without a more specific one.
func commandError(err error, fallback string) *apiError {
	e := &apiError{Status: http.StatusInternalServerError, Message: fallback, Err: err}
	switch email.KindOf(err) {
	case email.KindNotConnected:
		e.Status, e.Message = http.StatusBadRequest, msgNotConnected
	case email.KindTimeout:
		e.Status, e.Message = http.StatusGatewayTimeout, msgTimedOut
	case email.KindNetwork:
		if email.ReasonOf(err) == email.ReasonReset {
			e.Message = msgReset
		}
	}
	return e
}
