package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
)

// Conn is the subset of the go-imap client a Session drives.
// *client.Client satisfies it.
type Conn interface {
	Login(username, password string) error
	Authenticate(auth sasl.Client) error
	Support(capability string) (bool, error)
	SupportAuth(mech string) (bool, error)
	List(ref, name string, ch chan *imap.MailboxInfo) error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	Fetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	Logout() error
	Terminate() error
	LoggedOut() <-chan struct{}
}

// tlsConfig builds the client TLS configuration for host. With insecure set,
// the chain is not verified against trusted roots but the leaf certificate
// must still be issued for host.
func tlsConfig(host string, insecure bool) *tls.Config {
	cfg := &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}
	if !insecure {
		return cfg
	}
	cfg.InsecureSkipVerify = true
	cfg.VerifyConnection = func(cs tls.ConnectionState) error {
		if len(cs.PeerCertificates) == 0 {
			return &certificateError{host: host, err: fmt.Errorf("no peer certificate")}
		}
		if err := cs.PeerCertificates[0].VerifyHostname(host); err != nil {
			return &certificateError{host: host, err: err}
		}
		return nil
	}
	return cfg
}

// dialTLS connects to host:port, completes the TLS handshake and reads the
// IMAP greeting. The returned client has its socket deadline set to the
// context deadline; the caller clears it once logged in.
func dialTLS(ctx context.Context, host string, port int, insecure bool) (*client.Client, net.Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	dialer := &net.Dialer{}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, err
	}

	conn := tls.Client(raw, tlsConfig(host, insecure))
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			raw.Close()
			return nil, nil, err
		}
	}
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, nil, err
	}

	c, err := client.New(conn)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to read server greeting: %w", err)
	}
	return c, conn, nil
}
