package store

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	db, err := NewDB(filepath.Join(t.TempDir(), "nested", "gateway.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := NewStore(db, logger)
	clock := time.Date(2024, time.March, 9, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func TestRecordConnect(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordConnect(ctx, "alice@example.org", "imap.example.org"))
	require.NoError(t, s.RecordConnect(ctx, "alice@example.org", "mail.example.org"))

	rec, err := s.GetIdentity(ctx, "alice@example.org")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "mail.example.org", rec.Host)
	assert.Equal(t, 2, rec.ConnectCount)
	require.NotNil(t, rec.LastConnectedAt)
	assert.Equal(t, time.Date(2024, time.March, 9, 12, 0, 2, 0, time.UTC), rec.LastConnectedAt.UTC())
	assert.Nil(t, rec.LastDisconnectedAt)
}

func TestLastHost(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.LastHost(ctx, "bob@example.org")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.RecordFailure(ctx, "bob@example.org", "imap.wrong.org", "network"))
	_, ok, err = s.LastHost(ctx, "bob@example.org")
	require.NoError(t, err)
	assert.False(t, ok, "failed attempts do not set a host")

	require.NoError(t, s.RecordConnect(ctx, "bob@example.org", "imap.example.org"))
	host, ok, err := s.LastHost(ctx, "bob@example.org")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "imap.example.org", host)
}

func TestRecordDisconnect(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordConnect(ctx, "alice@example.org", "imap.example.org"))
	require.NoError(t, s.RecordDisconnect(ctx, "alice@example.org"))

	rec, err := s.GetIdentity(ctx, "alice@example.org")
	require.NoError(t, err)
	require.NotNil(t, rec.LastDisconnectedAt)
	assert.True(t, rec.LastDisconnectedAt.After(*rec.LastConnectedAt))

	// Unknown identities still get an event.
	require.NoError(t, s.RecordDisconnect(ctx, "ghost@example.org"))
	ghost := "ghost@example.org"
	events, err := s.Events(ctx, EventQuery{Identity: &ghost})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventDisconnect, events[0].Event)
	assert.Empty(t, events[0].Host)
}

func TestEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordFailure(ctx, "alice@example.org", "imap.example.org", "authentication"))
	require.NoError(t, s.RecordConnect(ctx, "alice@example.org", "imap.example.org"))
	require.NoError(t, s.RecordConnect(ctx, "bob@example.org", "imap.example.net"))
	require.NoError(t, s.RecordDisconnect(ctx, "alice@example.org"))

	alice := "alice@example.org"
	events, err := s.Events(ctx, EventQuery{Identity: &alice})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, []string{EventDisconnect, EventConnect, EventFailure},
		[]string{events[0].Event, events[1].Event, events[2].Event})
	assert.Equal(t, "authentication", events[2].Detail)
	assert.Equal(t, "imap.example.org", events[0].Host)
	assert.Equal(t, time.Date(2024, time.March, 9, 12, 0, 1, 0, time.UTC), events[2].CreatedAt.UTC())

	connect := EventConnect
	events, err = s.Events(ctx, EventQuery{Event: &connect})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	since := time.Date(2024, time.March, 9, 12, 0, 3, 0, time.UTC)
	events, err = s.Events(ctx, EventQuery{Since: &since})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, err = s.Events(ctx, EventQuery{Limit: 1})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventDisconnect, events[0].Event)
}

func TestReopenKeepsHistory(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	path := filepath.Join(t.TempDir(), "gateway.db")

	db, err := NewDB(path, logger)
	require.NoError(t, err)
	require.NoError(t, NewStore(db, logger).RecordConnect(context.Background(), "alice@example.org", "imap.example.org"))
	require.NoError(t, db.Close())

	db, err = NewDB(path, logger)
	require.NoError(t, err)
	defer db.Close()

	host, ok, err := NewStore(db, logger).LastHost(context.Background(), "alice@example.org")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "imap.example.org", host)
}
