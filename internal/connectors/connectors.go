package connectors

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/emersion/go-imap"
)

// ErrConnection marks a failure of the link to the mail service itself. No
// further request on the same source can succeed.
var ErrConnection = errors.New("mail connection lost")

// IsConnectionError reports whether err means the mail service can no longer
// be reached, as opposed to a problem with one message.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnection) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// MailSource is a searchable mailbox. Identifiers are opaque to callers.
type MailSource interface {
	Search(filter string) ([]string, error)
	Fetch(id string) ([]byte, error)
	Close() error
}

// BuildQuery joins the non-empty filter fragments with single spaces.
func BuildQuery(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

// ParseFields tokenizes an IMAP search expression into atoms, quoted strings
// and lists using the go-imap wire reader.
func ParseFields(filter string) ([]interface{}, error) {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return nil, nil
	}
	r := imap.NewReader(bufio.NewReader(strings.NewReader(filter + "\r\n")))
	fields, err := r.ReadFields()
	if err != nil {
		return nil, fmt.Errorf("parse imap filter %q: %w", filter, err)
	}
	out := fields[:0]
	for _, f := range fields {
		if s, ok := f.(string); ok && s == "" {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func ParseFilter(filter string) (*imap.SearchCriteria, error) {
	fields, err := ParseFields(filter)
	if err != nil {
		return nil, err
	}
	criteria := imap.NewSearchCriteria()
	if len(fields) == 0 {
		return criteria, nil
	}
	if err := criteria.ParseWithCharset(fields, nil); err != nil {
		return nil, fmt.Errorf("parse imap filter %q: %w", filter, err)
	}
	return criteria, nil
}
