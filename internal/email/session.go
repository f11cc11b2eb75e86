package email

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-sasl"
	"github.com/sirupsen/logrus"

	"github.com/brandon/imap-gateway/pkg/types"
)

// DefaultPort is the IMAPS port. Plain IMAP and STARTTLS are not supported.
const DefaultPort = 993

// DefaultLogoutTimeout bounds how long Close waits for the server to answer
// LOGOUT before dropping the socket.
const DefaultLogoutTimeout = 5 * time.Second

var errLoginUnsupported = errors.New("server offers no usable login mechanism")

// State is the lifecycle state of a Session.
type State int

const (
	StateConnecting State = iota
	StateReady
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Account identifies the mailbox owner and where to reach the server.
// Identity doubles as the login principal.
type Account struct {
	Identity string
	Host     string
	Password string
}

// Options tune how sessions are opened and how results are rendered.
type Options struct {
	Port               int
	InsecureSkipVerify bool
	DecodeHeaders      bool
	LogoutTimeout      time.Duration
}

func (o Options) port() int {
	if o.Port == 0 {
		return DefaultPort
	}
	return o.Port
}

func (o Options) logoutTimeout() time.Duration {
	if o.LogoutTimeout <= 0 {
		return DefaultLogoutTimeout
	}
	return o.LogoutTimeout
}

// Session is one authenticated IMAP connection for one identity. Commands
// are serialized: at most one is in flight on the wire at a time.
type Session struct {
	account Account
	opts    Options
	conn    Conn
	logger  *logrus.Logger
	now     func() time.Time

	// slot holds a token while a command owns the connection.
	slot chan struct{}

	mu    sync.Mutex
	state State
}

// Open dials the server over TLS and logs in. ctx bounds the whole
// handshake.
func Open(ctx context.Context, acct Account, opts Options, logger *logrus.Logger) (*Session, error) {
	log := logger.WithFields(logrus.Fields{
		"identity": acct.Identity,
		"host":     acct.Host,
	})

	c, netConn, err := dialTLS(ctx, acct.Host, opts.port(), opts.InsecureSkipVerify)
	if err != nil {
		tagged := classifyDialErr("connect", acct.Identity, err)
		log.WithError(err).WithField("reason", tagged.Reason).Warn("Failed to connect to IMAP server")
		return nil, tagged
	}

	s, err := Attach(ctx, c, acct, opts, logger)
	if err != nil {
		netConn.Close()
		return nil, err
	}

	// Commands after login are bounded per call, not by the dial deadline.
	if err := netConn.SetDeadline(time.Time{}); err != nil {
		s.Close() //nolint:errcheck
		return nil, classifyDialErr("connect", acct.Identity, err)
	}
	return s, nil
}

// Attach logs in over an established connection and returns a Ready
// session. On failure the connection is terminated.
func Attach(ctx context.Context, conn Conn, acct Account, opts Options, logger *logrus.Logger) (*Session, error) {
	s := &Session{
		account: acct,
		opts:    opts,
		conn:    conn,
		logger:  logger,
		now:     time.Now,
		slot:    make(chan struct{}, 1),
		state:   StateConnecting,
	}

	if err := s.exec(ctx, "login", StateConnecting, s.login); err != nil {
		s.fail()
		tagged := classifyLoginErr("login", acct.Identity, err)
		logger.WithError(err).WithFields(logrus.Fields{
			"identity": acct.Identity,
			"host":     acct.Host,
			"kind":     tagged.Kind.String(),
		}).Warn("Failed to login to IMAP server")
		return nil, tagged
	}

	s.setState(StateReady)
	logger.WithFields(logrus.Fields{
		"identity": acct.Identity,
		"host":     acct.Host,
	}).Info("Connected to IMAP server")
	return s, nil
}

// Identity returns the identity the session is logged in as.
func (s *Session) Identity() string {
	return s.account.Identity
}

// Host returns the mail server host.
func (s *Session) Host() string {
	return s.account.Host
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close logs out and releases the socket. Closing a closed or failed
// session is a no-op. If a command is in flight the socket is dropped
// underneath it instead of waiting for it to finish. A server that does not
// answer LOGOUT within the logout timeout is cut off the same way.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed || s.state == StateFailed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.mu.Unlock()

	log := s.logger.WithField("identity", s.account.Identity)

	select {
	case s.slot <- struct{}{}:
		defer func() { <-s.slot }()
	default:
		log.Debug("Command in flight, terminating IMAP connection")
		s.conn.Terminate() //nolint:errcheck
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- s.conn.Logout()
	}()

	timer := time.NewTimer(s.opts.logoutTimeout())
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			s.conn.Terminate() //nolint:errcheck
			log.WithError(err).Debug("Logout failed, connection terminated")
			return classifyCommandErr("logout", s.account.Identity, KindNetwork, s.checked(err))
		}
	case <-timer.C:
		// The pending Logout returns once the socket is gone.
		s.conn.Terminate() //nolint:errcheck
		log.Warn("Server did not answer logout, connection terminated")
		return newError(KindTimeout, "logout", s.account.Identity, context.DeadlineExceeded)
	}
	log.Info("Disconnected from IMAP server")
	return nil
}

// ListMailboxes lists every mailbox on the server and returns the
// selectable ones flattened in hierarchy order.
func (s *Session) ListMailboxes(ctx context.Context) ([]types.Mailbox, error) {
	var infos []*imap.MailboxInfo

	err := s.exec(ctx, "list", StateReady, func() error {
		mailboxes := make(chan *imap.MailboxInfo, 10)
		done := make(chan error, 1)
		go func() {
			done <- s.conn.List("", "*", mailboxes)
		}()

		for m := range mailboxes {
			infos = append(infos, m)
		}
		return s.checked(<-done)
	})
	if err != nil {
		return nil, s.commandFailed("list", classifyCommandErr("list", s.account.Identity, KindMailbox, err))
	}

	return Flatten(BuildTree(infos)), nil
}

func (s *Session) login() error {
	disabled, err := s.conn.Support("LOGINDISABLED")
	if err != nil {
		return s.checked(err)
	}
	if !disabled {
		return s.checked(s.conn.Login(s.account.Identity, s.account.Password))
	}

	ok, err := s.conn.SupportAuth(sasl.Plain)
	if err != nil {
		return s.checked(err)
	}
	if !ok {
		return errLoginUnsupported
	}
	return s.checked(s.conn.Authenticate(sasl.NewPlainClient("", s.account.Identity, s.account.Password)))
}

// checked marks err as a server rejection when the connection outlived
// it. Errors after the connection went away are left as they are.
func (s *Session) checked(err error) error {
	if err == nil {
		return nil
	}
	if s.connLost() || isTimeout(err) || networkReason(err) != "" {
		return err
	}
	return &rejection{err: err}
}

func (s *Session) connLost() bool {
	select {
	case <-s.conn.LoggedOut():
		return true
	default:
		return false
	}
}

// exec runs fn while holding the command slot. The session must be in
// state want once the slot is acquired. If ctx ends first the connection
// is terminated, which unblocks fn, and the session fails.
func (s *Session) exec(ctx context.Context, op string, want State, fn func() error) error {
	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return newError(KindTimeout, op, s.account.Identity, ctx.Err())
	}
	defer func() { <-s.slot }()

	if state := s.State(); state != want {
		return notConnected(op, s.account.Identity)
	}

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		s.fail()
		<-done
		return newError(KindTimeout, op, s.account.Identity, ctx.Err())
	}
}

// commandFailed logs a tagged command failure and fails the session when
// the connection can no longer be trusted.
func (s *Session) commandFailed(op string, tagged *Error) error {
	if tagged.Kind == KindNetwork || s.connLost() {
		s.fail()
	}
	s.logger.WithError(tagged.Err).WithFields(logrus.Fields{
		"identity": s.account.Identity,
		"op":       op,
		"kind":     tagged.Kind.String(),
	}).Warn("IMAP command failed")
	return tagged
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// fail marks a live session as failed and drops its socket.
func (s *Session) fail() {
	s.mu.Lock()
	if s.state == StateClosed || s.state == StateFailed {
		s.mu.Unlock()
		return
	}
	s.state = StateFailed
	s.mu.Unlock()
	s.conn.Terminate() //nolint:errcheck
}
