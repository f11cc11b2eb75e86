package email

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"

	"github.com/brandon/imap-gateway/pkg/types"
)

// DefaultFetchLimit is how many of the most recent messages are summarized
// per request.
const DefaultFetchLimit = 5

type part int

const (
	partHeader part = iota
	partText
	partCount
)

var (
	headerSection = &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{
			Specifier: imap.HeaderSpecifier,
			Fields:    []string{"FROM", "SUBJECT", "DATE"},
		},
		Peek: true,
	}
	textSection = &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{Specifier: imap.TextSpecifier},
		Peek:         true,
	}
)

func fetchItems() []imap.FetchItem {
	return []imap.FetchItem{headerSection.FetchItem(), textSection.FetchItem()}
}

// partOf maps a body section from a FETCH response onto the part it
// answers.
func partOf(section *imap.BodySectionName) (part, bool) {
	if section == nil || len(section.Path) > 0 || section.Partial != nil {
		return 0, false
	}
	switch section.Specifier {
	case imap.HeaderSpecifier:
		return partHeader, true
	case imap.TextSpecifier:
		return partText, true
	}
	return 0, false
}

// recentRange returns the sequence range of the last limit messages in a
// mailbox holding total messages.
func recentRange(total, limit uint32) *imap.SeqSet {
	from := uint32(1)
	if total > limit {
		from = total - limit + 1
	}
	seqset := new(imap.SeqSet)
	seqset.AddRange(from, total)
	return seqset
}

// accumulator buffers the parts of one message until all have arrived.
type accumulator struct {
	seq   uint32
	parts [partCount]*bytes.Buffer
}

func (a *accumulator) write(p part, literal imap.Literal) error {
	if a.parts[p] == nil {
		a.parts[p] = new(bytes.Buffer)
	}
	if literal == nil {
		return nil
	}
	if _, err := io.Copy(a.parts[p], literal); err != nil {
		return fmt.Errorf("failed to read section of message %d: %w", a.seq, err)
	}
	return nil
}

func (a *accumulator) complete() bool {
	for _, buf := range a.parts {
		if buf == nil {
			return false
		}
	}
	return true
}

func (a *accumulator) received() bool {
	for _, buf := range a.parts {
		if buf != nil {
			return true
		}
	}
	return false
}

// assembler demultiplexes a FETCH stream into per-message accumulators and
// emits a summary each time a message completes.
type assembler struct {
	pending map[uint32]*accumulator
	dropped map[uint32]bool
	now     func() time.Time
	decode  bool
	logger  *logrus.Entry
}

func newAssembler(now func() time.Time, decode bool, logger *logrus.Entry) *assembler {
	return &assembler{
		pending: make(map[uint32]*accumulator),
		dropped: make(map[uint32]bool),
		now:     now,
		decode:  decode,
		logger:  logger,
	}
}

// run consumes in until it is closed, sending summaries to out in the
// order messages complete. out is closed on return.
func (a *assembler) run(in <-chan *imap.Message, out chan<- types.MessageSummary) {
	defer close(out)
	for msg := range in {
		if summary, ok := a.add(msg); ok {
			out <- summary
		}
	}
	a.flush()
}

// add buffers the sections carried by msg. It returns a summary once the
// message has every requested part.
func (a *assembler) add(msg *imap.Message) (types.MessageSummary, bool) {
	if msg == nil || a.dropped[msg.SeqNum] {
		return types.MessageSummary{}, false
	}

	acc := a.pending[msg.SeqNum]
	for section, literal := range msg.Body {
		p, ok := partOf(section)
		if !ok {
			continue
		}
		if acc == nil {
			acc = &accumulator{seq: msg.SeqNum}
			a.pending[msg.SeqNum] = acc
		}
		if err := acc.write(p, literal); err != nil {
			a.drop(acc, err)
			return types.MessageSummary{}, false
		}
	}

	if acc == nil || !acc.complete() {
		return types.MessageSummary{}, false
	}
	delete(a.pending, msg.SeqNum)
	return buildSummary(acc.parts[partHeader].String(), acc.parts[partText].String(), a.now(), a.decode), true
}

// flush drops messages whose parts never all arrived.
func (a *assembler) flush() {
	for _, acc := range a.pending {
		if acc.received() {
			a.drop(acc, fmt.Errorf("message %d incomplete at end of fetch", acc.seq))
		}
	}
	a.pending = make(map[uint32]*accumulator)
}

func (a *assembler) drop(acc *accumulator, err error) {
	delete(a.pending, acc.seq)
	a.dropped[acc.seq] = true
	a.logger.WithError(err).WithFields(logrus.Fields{
		"seq":  acc.seq,
		"kind": KindParse.String(),
	}).Warn("Dropping message from summary list")
}

// FetchSummaries opens mailbox read-only and summarizes its most recent
// limit messages. Summaries come back in the order the server completed
// them. A failed stream discards everything assembled so far.
func (s *Session) FetchSummaries(ctx context.Context, mailbox string, limit int) ([]types.MessageSummary, error) {
	if limit <= 0 {
		limit = DefaultFetchLimit
	}

	log := s.logger.WithFields(logrus.Fields{
		"identity": s.account.Identity,
		"mailbox":  mailbox,
	})

	var (
		summaries []types.MessageSummary
		selectErr error
	)
	err := s.exec(ctx, "fetch", StateReady, func() error {
		// EXAMINE: the gateway never changes mailbox state.
		status, err := s.conn.Select(mailbox, true)
		if err != nil {
			selectErr = s.checked(err)
			return selectErr
		}
		if status.Messages == 0 {
			return nil
		}

		seqset := recentRange(status.Messages, uint32(limit))
		messages := make(chan *imap.Message, limit)
		out := make(chan types.MessageSummary, limit)
		done := make(chan error, 1)

		go func() {
			done <- s.conn.Fetch(seqset, fetchItems(), messages)
		}()
		go newAssembler(s.now, s.opts.DecodeHeaders, log).run(messages, out)

		var collected []types.MessageSummary
		for summary := range out {
			collected = append(collected, summary)
		}
		if err := <-done; err != nil {
			return s.checked(err)
		}
		summaries = collected
		return nil
	})
	if err != nil {
		if selectErr != nil {
			return nil, s.commandFailed("select", classifyCommandErr("select", s.account.Identity, KindMailbox, err))
		}
		return nil, s.commandFailed("fetch", classifyStreamErr("fetch", s.account.Identity, err))
	}

	if summaries == nil {
		summaries = []types.MessageSummary{}
	}
	log.WithField("count", len(summaries)).Debug("Fetched message summaries")
	return summaries, nil
}
