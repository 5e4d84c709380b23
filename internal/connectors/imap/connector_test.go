package imap

import (
	"errors"
	"testing"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/stretchr/testify/assert"

	"receipts/internal/connectors"
)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		state imap.ConnState
		conn  bool
	}{
		{"nil", nil, imap.SelectedState, false},
		{"server rejects command", errors.New("BAD invalid search"), imap.SelectedState, false},
		{"logged out", imapclient.ErrNotLoggedIn, imap.SelectedState, true},
		{"mailbox gone", imapclient.ErrNoMailboxSelected, imap.AuthenticatedState, true},
		{"session closed", errors.New("use of closed connection"), imap.LogoutState, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyError(tc.err, tc.state)
			assert.Equal(t, tc.conn, connectors.IsConnectionError(err))
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
			}
		})
	}
}
