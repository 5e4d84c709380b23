package connectors

import (
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildQuery(t *testing.T) {
	assert.Equal(t, `SINCE 1-Jan-2019 FROM "onlineshop@bvg.de"`, BuildQuery("SINCE 1-Jan-2019", "  ", `FROM "onlineshop@bvg.de"`))
	assert.Equal(t, "", BuildQuery("", " "))
}

func TestParseFields(t *testing.T) {
	fields, err := ParseFields(`FROM "Uber Receipts" SUBJECT "trip receipt"`)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"FROM", "Uber Receipts", "SUBJECT", "trip receipt"}, fields)

	fields, err = ParseFields("  ")
	require.NoError(t, err)
	assert.Empty(t, fields)
}

func TestParseFilter(t *testing.T) {
	criteria, err := ParseFilter(`SINCE 1-Jan-2019 FROM "onlineshop@bvg.de"`)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2019, time.January, 1, 0, 0, 0, 0, time.UTC), criteria.Since.UTC())
	assert.Equal(t, "onlineshop@bvg.de", criteria.Header.Get("From"))
}

func TestIsConnectionError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("message 7 has no body"), false},
		{fmt.Errorf("invalid uid %q: %w", "x", errors.New("bad")), false},
		{fmt.Errorf("%w: not logged in", ErrConnection), true},
		{&net.OpError{Op: "read", Net: "tcp", Err: net.ErrClosed}, true},
		{fmt.Errorf("fetch: %w", net.ErrClosed), true},
		{fmt.Errorf("read response: %w", io.EOF), true},
		{io.ErrUnexpectedEOF, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsConnectionError(tc.err), "%v", tc.err)
	}
}
