package imap

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"

	"receipts/internal/config"
	"receipts/internal/connectors"
)

type Connector struct {
	client  *imapclient.Client
	mailbox string
}

// NewConnector dials, logs in and selects the configured mailbox read-only.
func NewConnector(srv config.Server) (*Connector, error) {
	if strings.TrimSpace(srv.Host) == "" || strings.TrimSpace(srv.Username) == "" {
		return nil, fmt.Errorf("server %s: host and username are required", srv.Name)
	}

	addr := fmt.Sprintf("%s:%d", srv.Host, srv.Port)
	var client *imapclient.Client
	var err error
	if srv.SSL {
		client, err = imapclient.DialTLS(addr, &tls.Config{ServerName: srv.Host})
	} else {
		client, err = imapclient.Dial(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	if err := client.Login(srv.Username, srv.Password); err != nil {
		_ = client.Logout()
		return nil, fmt.Errorf("login %s@%s: %w", srv.Username, srv.Host, err)
	}

	mailbox := srv.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := client.Select(mailbox, true); err != nil {
		_ = client.Logout()
		return nil, fmt.Errorf("select %s: %w", mailbox, err)
	}

	return &Connector{client: client, mailbox: mailbox}, nil
}

func (c *Connector) Search(filter string) ([]string, error) {
	criteria, err := connectors.ParseFilter(filter)
	if err != nil {
		return nil, err
	}
	uids, err := c.client.UidSearch(criteria)
	if err != nil {
		return nil, classifyError(err, c.client.State())
	}
	out := make([]string, 0, len(uids))
	for _, uid := range uids {
		out = append(out, strconv.FormatUint(uint64(uid), 10))
	}
	return out, nil
}

// Fetch returns the full RFC822 body without setting the \Seen flag.
func (c *Connector) Fetch(id string) ([]byte, error) {
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid uid %q: %w", id, err)
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uint32(uid))

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}
	messages := make(chan *imap.Message, 1)
	fetchDone := make(chan error, 1)
	go func() { fetchDone <- c.client.UidFetch(seqset, items, messages) }()

	var raw []byte
	for msg := range messages {
		if msg == nil || raw != nil {
			continue
		}
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		raw, err = io.ReadAll(body)
		if err != nil {
			return nil, err
		}
	}

	if err := <-fetchDone; err != nil {
		return nil, classifyError(err, c.client.State())
	}
	if raw == nil {
		return nil, errors.New("message " + id + " has no body")
	}
	return raw, nil
}

// classifyError marks failures that leave the session unusable so callers can
// stop sending requests on it.
func classifyError(err error, state imap.ConnState) error {
	if err == nil || connectors.IsConnectionError(err) {
		return err
	}
	if errors.Is(err, imapclient.ErrNotLoggedIn) || errors.Is(err, imapclient.ErrNoMailboxSelected) ||
		errors.Is(err, imapclient.ErrAlreadyLoggedOut) || state == imap.LogoutState {
		return fmt.Errorf("%w: %w", connectors.ErrConnection, err)
	}
	return err
}

func (c *Connector) Close() error {
	return c.client.Logout()
}
