package email

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"log"
	"math/big"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// selfSigned issues a throwaway certificate for hosts, which may be names
// or IP addresses.
func selfSigned(t *testing.T, hosts ...string) tls.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{Organization: []string{"IMAP Gateway Test"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

// startServer runs an in-memory IMAPS server and returns its port. The
// memory backend knows one user, "username" with password "password",
// whose INBOX holds a single message.
func startServer(t *testing.T, cert tls.Certificate) int {
	t.Helper()

	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	require.NoError(t, err)

	s := server.New(memory.New())
	s.AllowInsecureAuth = true
	s.ErrorLog = log.New(io.Discard, "", 0)
	go s.Serve(ln) //nolint:errcheck
	t.Cleanup(func() { s.Close() })

	return ln.Addr().(*net.TCPAddr).Port
}

func memoryAccount(password string) Account {
	return Account{Identity: "username", Host: "127.0.0.1", Password: password}
}

func openCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestOpenListFetch(t *testing.T) {
	port := startServer(t, selfSigned(t, "127.0.0.1"))
	opts := Options{Port: port, InsecureSkipVerify: true}

	s, err := Open(openCtx(t), memoryAccount("password"), opts, quietLogger())
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, StateReady, s.State())

	mailboxes, err := s.ListMailboxes(openCtx(t))
	require.NoError(t, err)
	assert.Contains(t, paths(mailboxes), "INBOX")

	summaries, err := s.FetchSummaries(openCtx(t), "INBOX", DefaultFetchLimit)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "A little message, just for you", summaries[0].Subject)
	assert.Equal(t, "contact@example.org", summaries[0].From)
	assert.True(t, strings.HasPrefix(summaries[0].Preview, "Hi there :)"), summaries[0].Preview)
	assert.True(t, strings.HasSuffix(summaries[0].Preview, "..."))

	_, err = s.FetchSummaries(openCtx(t), "Missing", DefaultFetchLimit)
	assert.Equal(t, KindMailbox, KindOf(err))
	assert.Equal(t, StateReady, s.State())

	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())
}

func TestOpenBadPassword(t *testing.T) {
	port := startServer(t, selfSigned(t, "127.0.0.1"))

	_, err := Open(openCtx(t), memoryAccount("nope"), Options{Port: port, InsecureSkipVerify: true}, quietLogger())
	require.Error(t, err)
	assert.Equal(t, KindAuthentication, KindOf(err))
}

func TestOpenHostnameMismatch(t *testing.T) {
	port := startServer(t, selfSigned(t, "mail.example.com"))

	_, err := Open(openCtx(t), memoryAccount("password"), Options{Port: port, InsecureSkipVerify: true}, quietLogger())
	require.Error(t, err)
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.Equal(t, ReasonTLS, ReasonOf(err))
}

func TestOpenUntrustedCertificate(t *testing.T) {
	port := startServer(t, selfSigned(t, "127.0.0.1"))

	_, err := Open(openCtx(t), memoryAccount("password"), Options{Port: port}, quietLogger())
	require.Error(t, err)
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.Equal(t, ReasonTLS, ReasonOf(err))
}

func TestOpenUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	_, err = Open(openCtx(t), memoryAccount("password"), Options{Port: port, InsecureSkipVerify: true}, quietLogger())
	require.Error(t, err)
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.Equal(t, ReasonUnreachable, ReasonOf(err))
}
