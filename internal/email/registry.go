package email

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// OpenFunc opens an authenticated session for an account.
type OpenFunc func(ctx context.Context, acct Account) (*Session, error)

// Dialer returns an OpenFunc that dials real IMAP servers with opts.
func Dialer(opts Options, logger *logrus.Logger) OpenFunc {
	return func(ctx context.Context, acct Account) (*Session, error) {
		return Open(ctx, acct, opts, logger)
	}
}

// identityLock serializes connect and disconnect for one identity. A token
// in slot means the lock is held.
type identityLock struct {
	slot chan struct{}
	refs int
}

// Registry maps identities to their live session. There is at most one
// session per identity.
type Registry struct {
	open   OpenFunc
	logger *logrus.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	locks    map[string]*identityLock
}

// NewRegistry creates an empty registry that opens sessions with open.
func NewRegistry(open OpenFunc, logger *logrus.Logger) *Registry {
	return &Registry{
		open:     open,
		logger:   logger,
		sessions: make(map[string]*Session),
		locks:    make(map[string]*identityLock),
	}
}

// Connect opens a new session for acct and registers it, superseding any
// session the identity already had. If opening fails the registry is left
// as it was. The superseded session is closed after the identity lock is
// released.
func (r *Registry) Connect(ctx context.Context, acct Account) (*Session, error) {
	unlock, err := r.lock(ctx, "connect", acct.Identity)
	if err != nil {
		return nil, err
	}

	session, err := r.open(ctx, acct)
	if err != nil {
		unlock()
		return nil, err
	}

	r.mu.Lock()
	previous := r.sessions[acct.Identity]
	r.sessions[acct.Identity] = session
	r.mu.Unlock()
	unlock()

	if previous != nil {
		if err := previous.Close(); err != nil {
			r.logger.WithError(err).WithField("identity", acct.Identity).Warn("Failed to close superseded session")
		} else {
			r.logger.WithField("identity", acct.Identity).Info("Superseded previous session")
		}
	}
	return session, nil
}

// Lookup returns the live session for identity.
func (r *Registry) Lookup(identity string) (*Session, error) {
	r.mu.Lock()
	session, ok := r.sessions[identity]
	r.mu.Unlock()
	if !ok {
		return nil, notConnected("lookup", identity)
	}
	return session, nil
}

// Disconnect forgets the session for identity and closes it. An identity
// without a session is already disconnected. ctx bounds the wait for a
// connect of the same identity that is still running.
func (r *Registry) Disconnect(ctx context.Context, identity string) error {
	unlock, err := r.lock(ctx, "disconnect", identity)
	if err != nil {
		return err
	}

	r.mu.Lock()
	session, ok := r.sessions[identity]
	delete(r.sessions, identity)
	r.mu.Unlock()
	unlock()

	if !ok {
		return nil
	}
	return session.Close()
}

// Evict forgets session if it is still the one registered for identity.
// It is used once a session has failed.
func (r *Registry) Evict(identity string, session *Session) {
	r.mu.Lock()
	current, ok := r.sessions[identity]
	if ok && current == session {
		delete(r.sessions, identity)
	}
	r.mu.Unlock()

	if ok && current == session {
		session.Close() //nolint:errcheck
		r.logger.WithFields(logrus.Fields{
			"identity": identity,
			"state":    session.State().String(),
		}).Info("Evicted failed session")
	}
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close closes every registered session concurrently.
func (r *Registry) Close() error {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var g errgroup.Group
	for identity, session := range sessions {
		identity, session := identity, session
		g.Go(func() error {
			if err := session.Close(); err != nil {
				r.logger.WithError(err).WithField("identity", identity).Warn("Failed to close session")
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// lock acquires the per-identity lock and returns its release function.
// It gives up with a Timeout error when ctx ends first. Locks are dropped
// from the map once nobody holds or waits for them.
func (r *Registry) lock(ctx context.Context, op, identity string) (func(), error) {
	r.mu.Lock()
	l, ok := r.locks[identity]
	if !ok {
		l = &identityLock{slot: make(chan struct{}, 1)}
		r.locks[identity] = l
	}
	l.refs++
	r.mu.Unlock()

	release := func() {
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, identity)
		}
		r.mu.Unlock()
	}

	select {
	case l.slot <- struct{}{}:
	case <-ctx.Done():
		release()
		return nil, newError(KindTimeout, op, identity, ctx.Err())
	}

	return func() {
		<-l.slot
		release()
	}, nil
}
