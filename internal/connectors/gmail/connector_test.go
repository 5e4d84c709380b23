package gmail

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"receipts/internal/connectors"
)

func TestTranslateFilter(t *testing.T) {
	cases := []struct {
		name   string
		filter string
		want   string
	}{
		{name: "sender", filter: `FROM "onlineshop@bvg.de"`, want: "from:onlineshop@bvg.de"},
		{name: "sender and subject", filter: `FROM "Uber Receipts" SUBJECT "trip receipt"`, want: `from:"Uber Receipts" subject:"trip receipt"`},
		{name: "since prefix", filter: `SINCE 1-Jan-2019 SUBJECT "emmy Rechnung"`, want: `after:2019/01/01 subject:"emmy Rechnung"`},
		{name: "before", filter: `BEFORE 15-Mar-2019`, want: "before:2019/03/15"},
		{name: "empty", filter: "", want: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := TranslateFilter(tc.filter)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTranslateFilterRejectsUnknownKeys(t *testing.T) {
	_, err := TranslateFilter(`LARGER 1000`)
	assert.Error(t, err)

	_, err = TranslateFilter(`FROM`)
	assert.Error(t, err)

	_, err = TranslateFilter(`SINCE yesterday`)
	assert.Error(t, err)
}

func TestDecodeBase64URL(t *testing.T) {
	raw := []byte("Subject: hi\r\n\r\nbody?>")
	got, err := decodeBase64URL(base64.RawURLEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = decodeBase64URL(base64.URLEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func TestClassifyError(t *testing.T) {
	revoked := fmt.Errorf("list: %w", &googleapi.Error{Code: http.StatusUnauthorized, Message: "invalid credentials"})
	assert.True(t, connectors.IsConnectionError(classifyError(revoked)))
	assert.ErrorIs(t, classifyError(revoked), connectors.ErrConnection)

	missing := &googleapi.Error{Code: http.StatusNotFound, Message: "not found"}
	assert.False(t, connectors.IsConnectionError(classifyError(missing)))
	assert.Same(t, missing, classifyError(missing))
}
