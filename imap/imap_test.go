package imap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFetcher_Validation(t *testing.T) {
	_, err := NewFetcher(Options{Port: 993}, nil)
	assert.ErrorIs(t, err, ErrNoHost)

	_, err = NewFetcher(Options{Host: "mail.example.com"}, nil)
	assert.Error(t, err)

	_, err = NewFetcher(Options{Host: "mail.example.com", Port: 993, Limit: -1}, nil)
	assert.Error(t, err)

	f, err := NewFetcher(Options{Host: "mail.example.com", Port: 993}, nil)
	require.NoError(t, err)
	assert.Equal(t, "INBOX", f.folder())
}

func TestFetchRange(t *testing.T) {
	tests := []struct {
		total       uint32
		limit       int
		first, last uint32
	}{
		{total: 10, limit: 0, first: 1, last: 10},
		{total: 10, limit: 3, first: 8, last: 10},
		{total: 10, limit: 10, first: 1, last: 10},
		{total: 2, limit: 50, first: 1, last: 2},
	}
	for _, tt := range tests {
		first, last := fetchRange(tt.total, tt.limit)
		assert.Equal(t, tt.first, first, "total=%d limit=%d", tt.total, tt.limit)
		assert.Equal(t, tt.last, last, "total=%d limit=%d", tt.total, tt.limit)
	}
}
