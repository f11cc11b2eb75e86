package email

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/imap-gateway/internal/email/emailtest"
	"github.com/brandon/imap-gateway/pkg/types"
)

func header(seq uint32) string {
	return fmt.Sprintf("From: sender%d@example.org\r\nSubject: Message %d\r\nDate: Mon, 1 Jan 2024 00:00:%02d +0000\r\n\r\n", seq, seq, seq)
}

func body(seq uint32) string {
	return fmt.Sprintf("Body of message %d", seq)
}

// whole streams one complete response per message in the set.
func whole(total uint32) func(*imap.SeqSet) []*imap.Message {
	return func(seqset *imap.SeqSet) []*imap.Message {
		var out []*imap.Message
		for seq := uint32(1); seq <= total; seq++ {
			if seqset.Contains(seq) {
				out = append(out, emailtest.Message(seq, header(seq), body(seq)))
			}
		}
		return out
	}
}

func inbox(messages uint32) []emailtest.Mailbox {
	return []emailtest.Mailbox{{
		Info:     &imap.MailboxInfo{Name: "INBOX", Delimiter: "/"},
		Messages: messages,
	}}
}

func subjects(summaries []types.MessageSummary) []string {
	out := make([]string, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, s.Subject)
	}
	return out
}

func TestRecentRange(t *testing.T) {
	assert.Equal(t, "8:12", recentRange(12, 5).String())
	assert.Equal(t, "1:5", recentRange(5, 5).String())
	assert.Equal(t, "1:3", recentRange(3, 5).String())
	assert.Equal(t, "1", recentRange(1, 5).String())
}

func TestPartOf(t *testing.T) {
	p, ok := partOf(emailtest.HeaderSection())
	assert.True(t, ok)
	assert.Equal(t, partHeader, p)

	p, ok = partOf(emailtest.TextSection())
	assert.True(t, ok)
	assert.Equal(t, partText, p)

	_, ok = partOf(&imap.BodySectionName{BodyPartName: imap.BodyPartName{Specifier: imap.TextSpecifier, Path: []int{1}}})
	assert.False(t, ok)

	_, ok = partOf(&imap.BodySectionName{BodyPartName: imap.BodyPartName{Specifier: imap.TextSpecifier}, Partial: []int{0, 10}})
	assert.False(t, ok)

	_, ok = partOf(&imap.BodySectionName{BodyPartName: imap.BodyPartName{Specifier: imap.MIMESpecifier}})
	assert.False(t, ok)

	_, ok = partOf(nil)
	assert.False(t, ok)
}

func newTestAssembler() (*assembler, *test.Hook) {
	logger, hook := test.NewNullLogger()
	return newAssembler(func() time.Time { return fixedNow }, false, logrus.NewEntry(logger)), hook
}

func TestAssemblerWaitsForAllParts(t *testing.T) {
	a, _ := newTestAssembler()

	_, ok := a.add(emailtest.Message(1, header(1), ""))
	assert.False(t, ok)

	got, ok := a.add(emailtest.Message(1, "", body(1)))
	require.True(t, ok)
	assert.Equal(t, types.MessageSummary{
		From:    "sender1@example.org",
		Subject: "Message 1",
		Date:    "Mon, 1 Jan 2024 00:00:01 +0000",
		Preview: "Body of message 1...",
	}, got)
	assert.Empty(t, a.pending)
}

func TestAssemblerEmptyLiteral(t *testing.T) {
	a, _ := newTestAssembler()
	msg := emailtest.Message(4, header(4), "")
	msg.Body[emailtest.TextSection()] = nil

	got, ok := a.add(msg)
	require.True(t, ok)
	assert.Equal(t, "...", got.Preview)
}

func TestAssemblerIgnoresOtherItems(t *testing.T) {
	a, _ := newTestAssembler()

	_, ok := a.add(&imap.Message{SeqNum: 2, Flags: []string{imap.SeenFlag}})
	assert.False(t, ok)
	assert.Empty(t, a.pending)
}

type failingLiteral struct{}

func (failingLiteral) Read([]byte) (int, error) { return 0, errors.New("short read") }
func (failingLiteral) Len() int                 { return 10 }

func TestAssemblerDropsUnreadableMessage(t *testing.T) {
	a, hook := newTestAssembler()

	msg := emailtest.Message(3, header(3), "")
	msg.Body[emailtest.TextSection()] = failingLiteral{}
	_, ok := a.add(msg)
	assert.False(t, ok)

	// Later fragments of a dropped message are ignored.
	_, ok = a.add(emailtest.Message(3, header(3), body(3)))
	assert.False(t, ok)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "parse", hook.LastEntry().Data["kind"])
}

func TestAssemblerRunEmitsInCompletionOrder(t *testing.T) {
	a, hook := newTestAssembler()

	in := make(chan *imap.Message, 8)
	in <- emailtest.Message(1, header(1), "")
	in <- emailtest.Message(2, header(2), "")
	in <- emailtest.Message(2, "", body(2))
	in <- emailtest.Message(3, header(3), body(3))
	in <- emailtest.Message(1, "", body(1))
	in <- emailtest.Message(5, header(5), "")
	close(in)

	out := make(chan types.MessageSummary, 8)
	a.run(in, out)

	var got []types.MessageSummary
	for s := range out {
		got = append(got, s)
	}
	assert.Equal(t, []string{"Message 2", "Message 3", "Message 1"}, subjects(got))

	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, "Dropping message from summary list", hook.LastEntry().Message)
	assert.EqualValues(t, 5, hook.LastEntry().Data["seq"])
}

func TestFetchSummariesRecent(t *testing.T) {
	conn := &emailtest.Conn{Mailboxes: inbox(12), Stream: whole(12)}
	s := attach(t, conn)

	got, err := s.FetchSummaries(context.Background(), "INBOX", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"Message 8", "Message 9", "Message 10", "Message 11", "Message 12"}, subjects(got))

	stats := conn.Snapshot()
	assert.Equal(t, "INBOX", stats.Selected)
	assert.True(t, stats.ReadOnly)
	assert.Equal(t, "8:12", stats.LastSeqSet.String())
	assert.Equal(t, fetchItems(), stats.LastItems)
	assert.Equal(t, StateReady, s.State())
}

func TestFetchSummariesFewMessages(t *testing.T) {
	conn := &emailtest.Conn{Mailboxes: inbox(3), Stream: whole(3)}
	s := attach(t, conn)

	got, err := s.FetchSummaries(context.Background(), "INBOX", 0)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, "1:3", conn.Snapshot().LastSeqSet.String())
}

func TestFetchSummariesFragmented(t *testing.T) {
	conn := &emailtest.Conn{
		Mailboxes: inbox(2),
		Stream: func(*imap.SeqSet) []*imap.Message {
			return []*imap.Message{
				emailtest.Message(1, header(1), ""),
				emailtest.Message(2, "", body(2)),
				emailtest.Message(2, header(2), ""),
				emailtest.Message(1, "", body(1)),
			}
		},
	}
	s := attach(t, conn)

	got, err := s.FetchSummaries(context.Background(), "INBOX", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"Message 2", "Message 1"}, subjects(got))
}

func TestFetchSummariesEmptyMailbox(t *testing.T) {
	conn := &emailtest.Conn{Mailboxes: inbox(0)}
	s := attach(t, conn)

	got, err := s.FetchSummaries(context.Background(), "INBOX", 5)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Nil(t, conn.Snapshot().LastSeqSet)
}

func TestFetchSummariesUnknownMailbox(t *testing.T) {
	conn := &emailtest.Conn{Mailboxes: inbox(3)}
	s := attach(t, conn)

	_, err := s.FetchSummaries(context.Background(), "Nope", 5)
	require.Error(t, err)
	assert.Equal(t, KindMailbox, KindOf(err))
	assert.Equal(t, StateReady, s.State())
}

func TestFetchSummariesStreamFailure(t *testing.T) {
	conn := &emailtest.Conn{
		Mailboxes: inbox(4),
		Stream:    whole(4),
		FetchErr:  errors.New("FETCH failed"),
	}
	s := attach(t, conn)

	got, err := s.FetchSummaries(context.Background(), "INBOX", 5)
	require.Error(t, err)
	assert.Nil(t, got)
	assert.Equal(t, KindFetch, KindOf(err))
	assert.Equal(t, StateReady, s.State())
}

func TestFetchSummariesTimeout(t *testing.T) {
	conn := &emailtest.Conn{
		Mailboxes: inbox(4),
		Stream:    whole(4),
		Block:     make(chan struct{}),
	}
	s := attach(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	got, err := s.FetchSummaries(ctx, "INBOX", 5)
	require.Error(t, err)
	assert.Nil(t, got)
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.Equal(t, StateFailed, s.State())
	assert.True(t, conn.Closed())
}

func TestFetchSummariesNotConnected(t *testing.T) {
	s := attach(t, &emailtest.Conn{Mailboxes: inbox(1)})
	require.NoError(t, s.Close())

	_, err := s.FetchSummaries(context.Background(), "INBOX", 5)
	assert.Equal(t, KindNotConnected, KindOf(err))
}
