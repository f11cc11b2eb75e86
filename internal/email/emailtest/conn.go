// Package emailtest provides an in-memory stand-in for a go-imap client
// connection.
package emailtest

import (
	"bytes"
	"errors"
	"sync"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-sasl"
)

// ErrTerminated is returned by commands interrupted by Terminate.
var ErrTerminated = errors.New("imap: connection closed")

// Mailbox is a mailbox held by a fake Conn.
type Mailbox struct {
	Info     *imap.MailboxInfo
	Messages uint32
}

// Conn is a scripted IMAP connection. Zero values accept any login and
// hold no mailboxes. Errors returned while the connection is up behave
// like NO responses from a server.
type Conn struct {
	Password     string
	Capabilities map[string]bool
	Mailboxes    []Mailbox

	// Stream, if set, produces the FETCH responses for a sequence set.
	// Several responses may carry parts of the same message.
	Stream func(seqset *imap.SeqSet) []*imap.Message

	ListErr   error
	SelectErr error
	FetchErr  error
	LogoutErr error

	// Block, if set, holds List and Fetch until it is closed or the
	// connection is terminated.
	Block chan struct{}

	// HoldLogout, if set, keeps Logout from answering until it is closed
	// or the connection is terminated.
	HoldLogout chan struct{}

	mu          sync.Mutex
	loggedOut   chan struct{}
	closed      bool
	inflight    int
	maxInflight int
	stats       Stats
}

// Message builds a FETCH response carrying the given header and text
// sections for seq. An empty string leaves that section out.
func Message(seq uint32, header, text string) *imap.Message {
	msg := &imap.Message{
		SeqNum: seq,
		Body:   make(map[*imap.BodySectionName]imap.Literal),
	}
	if header != "" {
		msg.Body[HeaderSection()] = bytes.NewBufferString(header)
	}
	if text != "" {
		msg.Body[TextSection()] = bytes.NewBufferString(text)
	}
	return msg
}

// HeaderSection is the response section name for the header subset.
func HeaderSection() *imap.BodySectionName {
	return &imap.BodySectionName{BodyPartName: imap.BodyPartName{
		Specifier: imap.HeaderSpecifier,
		Fields:    []string{"FROM", "SUBJECT", "DATE"},
	}}
}

// TextSection is the response section name for the text part.
func TextSection() *imap.BodySectionName {
	return &imap.BodySectionName{BodyPartName: imap.BodyPartName{Specifier: imap.TextSpecifier}}
}

func (c *Conn) done() chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loggedOut == nil {
		c.loggedOut = make(chan struct{})
	}
	return c.loggedOut
}

func (c *Conn) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrTerminated
	}
	c.stats.Commands++
	c.inflight++
	if c.inflight > c.maxInflight {
		c.maxInflight = c.inflight
	}
	return nil
}

func (c *Conn) end() {
	c.mu.Lock()
	c.inflight--
	c.mu.Unlock()
}

func (c *Conn) shut() {
	done := c.done()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(done)
	}
}

// wait blocks on Block, returning ErrTerminated if the connection closes
// first.
func (c *Conn) wait() error {
	if c.Block == nil {
		return nil
	}
	select {
	case <-c.Block:
		return nil
	case <-c.done():
		return ErrTerminated
	}
}

func (c *Conn) Login(username, password string) error {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()

	c.mu.Lock()
	c.stats.Logins++
	c.mu.Unlock()
	if c.Password != "" && password != c.Password {
		return errors.New("LOGIN failed: invalid credentials")
	}
	return nil
}

func (c *Conn) Authenticate(auth sasl.Client) error {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()

	mech, ir, err := auth.Start()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.stats.Authentications++
	c.mu.Unlock()
	if mech != sasl.Plain {
		return errors.New("AUTHENTICATE failed: unsupported mechanism")
	}
	// PLAIN initial response: authzid NUL authcid NUL passwd
	parts := bytes.Split(ir, []byte{0})
	if len(parts) != 3 || (c.Password != "" && string(parts[2]) != c.Password) {
		return errors.New("AUTHENTICATE failed: invalid credentials")
	}
	return nil
}

func (c *Conn) Support(capability string) (bool, error) {
	if err := c.begin(); err != nil {
		return false, err
	}
	defer c.end()
	return c.Capabilities[capability], nil
}

func (c *Conn) SupportAuth(mech string) (bool, error) {
	return c.Support("AUTH=" + mech)
}

func (c *Conn) List(ref, name string, ch chan *imap.MailboxInfo) error {
	defer close(ch)
	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()

	if err := c.wait(); err != nil {
		return err
	}
	if c.ListErr != nil {
		return c.ListErr
	}
	for _, mbox := range c.Mailboxes {
		ch <- mbox.Info
	}
	return nil
}

func (c *Conn) Select(name string, readOnly bool) (*imap.MailboxStatus, error) {
	if err := c.begin(); err != nil {
		return nil, err
	}
	defer c.end()

	if c.SelectErr != nil {
		return nil, c.SelectErr
	}
	for _, mbox := range c.Mailboxes {
		if mbox.Info.Name != name {
			continue
		}
		c.mu.Lock()
		c.stats.Selected = name
		c.stats.ReadOnly = readOnly
		c.mu.Unlock()

		status := imap.NewMailboxStatus(name, []imap.StatusItem{imap.StatusMessages})
		status.Messages = mbox.Messages
		status.ReadOnly = readOnly
		return status, nil
	}
	return nil, errors.New("SELECT failed: no such mailbox")
}

func (c *Conn) Fetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error {
	defer close(ch)
	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()

	c.mu.Lock()
	c.stats.LastSeqSet = seqset
	c.stats.LastItems = items
	c.mu.Unlock()

	if c.Stream != nil {
		for _, msg := range c.Stream(seqset) {
			ch <- msg
		}
	}
	if err := c.wait(); err != nil {
		return err
	}
	return c.FetchErr
}

func (c *Conn) Logout() error {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()

	c.mu.Lock()
	c.stats.Logouts++
	c.mu.Unlock()
	if c.HoldLogout != nil {
		select {
		case <-c.HoldLogout:
		case <-c.done():
			return ErrTerminated
		}
	}
	c.shut()
	return c.LogoutErr
}

func (c *Conn) Terminate() error {
	c.mu.Lock()
	c.stats.Terminations++
	c.mu.Unlock()
	c.shut()
	return nil
}

func (c *Conn) LoggedOut() <-chan struct{} {
	return c.done()
}

// Closed reports whether the connection was logged out or terminated.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// MaxInflight returns the highest number of commands seen running at once.
func (c *Conn) MaxInflight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxInflight
}

// Snapshot returns a copy of the recorded counters and selection.
func (c *Conn) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Stats is a point-in-time copy of what a Conn recorded.
type Stats struct {
	Logins          int
	Authentications int
	Logouts         int
	Terminations    int
	Commands        int
	Selected        string
	ReadOnly        bool
	LastSeqSet      *imap.SeqSet
	LastItems       []imap.FetchItem
}
