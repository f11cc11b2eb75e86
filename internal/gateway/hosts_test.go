package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/brandon/imap-gateway/internal/config"
)

type staticHistory struct {
	hosts map[string]string
	err   error
}

func (s staticHistory) LastHost(_ context.Context, identity string) (string, bool, error) {
	if s.err != nil {
		return "", false, s.err
	}
	host, ok := s.hosts[identity]
	return host, ok, nil
}

func TestHostResolver(t *testing.T) {
	history := staticHistory{hosts: map[string]string{"known@example.org": "mail.example.org"}}
	r := NewHostResolver(config.DefaultHosts(), history, quietLogger())
	ctx := context.Background()

	tests := []struct {
		name     string
		identity string
		explicit string
		want     string
	}{
		{"explicit wins", "known@example.org", " imap.other.org ", "imap.other.org"},
		{"last host", "known@example.org", "", "mail.example.org"},
		{"well known", "someone@hotmail.com", "", "outlook.office365.com"},
		{"well known any case", "someone@T-Online.DE", "", "imap.t-online.de"},
		{"guessed", "someone@example.net", "", "imap.example.net"},
		{"last at sign", "odd@name@example.io", "", "imap.example.io"},
		{"no domain", "someone", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Resolve(ctx, tt.identity, tt.explicit))
		})
	}
}

func TestHostResolverHistoryFailure(t *testing.T) {
	r := NewHostResolver(config.DefaultHosts(), staticHistory{err: errors.New("disk I/O error")}, quietLogger())
	assert.Equal(t, "imap.gmail.com", r.Resolve(context.Background(), "a@gmail.com", ""))
}

func TestHostResolverWithoutHistory(t *testing.T) {
	r := NewHostResolver(map[string]string{"example.org": "mx.example.org"}, nil, quietLogger())
	assert.Equal(t, "mx.example.org", r.Resolve(context.Background(), "a@example.org", ""))
}
