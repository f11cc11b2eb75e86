package email

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Kind classifies a gateway failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthentication
	KindNetwork
	KindNotConnected
	KindMailbox
	KindFetch
	KindParse
	KindTimeout
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindNetwork:
		return "network"
	case KindNotConnected:
		return "not_connected"
	case KindMailbox:
		return "mailbox"
	case KindFetch:
		return "fetch"
	case KindParse:
		return "parse"
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// Network failure reasons.
const (
	ReasonTLS         = "tls"
	ReasonReset       = "reset"
	ReasonUnreachable = "unreachable"
)

// Error is the tagged error returned by sessions and the registry.
type Error struct {
	Kind     Kind
	Reason   string
	Op       string
	Identity string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.String()
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Identity != "" {
		msg += " for " + e.Identity
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ReasonOf returns the network reason of the first *Error in err's chain.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func newError(kind Kind, op, identity string, err error) *Error {
	return &Error{Kind: kind, Op: op, Identity: identity, Err: err}
}

func notConnected(op, identity string) *Error {
	return newError(KindNotConnected, op, identity, nil)
}

// classifyDialErr tags failures from TCP dial, TLS handshake and greeting.
func classifyDialErr(op, identity string, err error) *Error {
	if tagged, ok := asTagged(err); ok {
		return tagged
	}
	if isTimeout(err) {
		return newError(KindTimeout, op, identity, err)
	}
	e := newError(KindNetwork, op, identity, err)
	e.Reason = networkReason(err)
	return e
}

// classifyLoginErr tags failures of LOGIN/AUTHENTICATE. A rejection from
// the server means the credentials were refused; anything else is
// transport trouble.
func classifyLoginErr(op, identity string, err error) *Error {
	if tagged, ok := asTagged(err); ok {
		return tagged
	}
	var rej *rejection
	if errors.As(err, &rej) || errors.Is(err, errLoginUnsupported) {
		return newError(KindAuthentication, op, identity, err)
	}
	return classifyDialErr(op, identity, err)
}

// classifyCommandErr tags failures of a command on a Ready session. kind
// is used when the server rejected the command.
func classifyCommandErr(op, identity string, kind Kind, err error) *Error {
	if tagged, ok := asTagged(err); ok {
		return tagged
	}
	if isTimeout(err) {
		return newError(KindTimeout, op, identity, err)
	}
	var rej *rejection
	if errors.As(err, &rej) {
		return newError(kind, op, identity, err)
	}
	e := newError(KindNetwork, op, identity, err)
	e.Reason = networkReason(err)
	return e
}

// classifyStreamErr tags a failed FETCH. Whatever broke the stream, the
// request fails as a fetch error.
func classifyStreamErr(op, identity string, err error) *Error {
	if tagged, ok := asTagged(err); ok {
		return tagged
	}
	if isTimeout(err) {
		return newError(KindTimeout, op, identity, err)
	}
	e := newError(KindFetch, op, identity, err)
	e.Reason = networkReason(err)
	return e
}

func asTagged(err error) (*Error, bool) {
	var tagged *Error
	ok := errors.As(err, &tagged)
	return tagged, ok
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func networkReason(err error) string {
	var (
		recordErr  tls.RecordHeaderError
		alertErr   tls.AlertError
		verifyErr  *tls.CertificateVerificationError
		hostErr    x509.HostnameError
		authErr    x509.UnknownAuthorityError
		invalidErr x509.CertificateInvalidError
		certErr    *certificateError
		dnsErr     *net.DNSError
		opErr      *net.OpError
	)
	switch {
	case errors.As(err, &certErr), errors.As(err, &recordErr), errors.As(err, &alertErr),
		errors.As(err, &verifyErr), errors.As(err, &hostErr), errors.As(err, &authErr),
		errors.As(err, &invalidErr):
		return ReasonTLS
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		return ReasonReset
	case errors.As(err, &dnsErr), errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return ReasonUnreachable
	case errors.As(err, &opErr) && opErr.Op == "dial":
		return ReasonUnreachable
	}
	return ""
}

// certificateError reports a leaf certificate that does not match the host
// during relaxed verification.
type certificateError struct {
	host string
	err  error
}

func (e *certificateError) Error() string {
	return fmt.Sprintf("certificate not valid for %s: %v", e.host, e.err)
}

func (e *certificateError) Unwrap() error {
	return e.err
}

// rejection wraps an error the server answered with NO or BAD while the
// connection stayed up.
type rejection struct {
	err error
}

func (r *rejection) Error() string {
	return "server rejected command: " + r.err.Error()
}

func (r *rejection) Unwrap() error {
	return r.err
}
