package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"receipts/internal/config"
	"receipts/internal/connectors"
)

type Connector struct {
	service *gmail.Service
	ctx     context.Context
}

func NewConnector(ctx context.Context, srv config.Server) (*Connector, error) {
	for key, value := range map[string]string{
		"client_id":     srv.ClientID,
		"client_secret": srv.ClientSecret,
		"refresh_token": srv.RefreshToken,
	} {
		if strings.TrimSpace(value) == "" {
			return nil, fmt.Errorf("server %s: missing %s", srv.Name, key)
		}
	}

	redirect := srv.RedirectURI
	if redirect == "" {
		redirect = "https://developers.google.com/oauthplayground"
	}
	oauthCfg := &oauth2.Config{
		ClientID:     srv.ClientID,
		ClientSecret: srv.ClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  redirect,
		Scopes:       []string{gmail.GmailReadonlyScope},
	}

	tokenSource := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: srv.RefreshToken})
	svc, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, err
	}

	return &Connector{service: svc, ctx: ctx}, nil
}

func (c *Connector) Search(filter string) ([]string, error) {
	query, err := TranslateFilter(filter)
	if err != nil {
		return nil, err
	}

	var ids []string
	pageToken := ""
	for {
		call := c.service.Users.Messages.List("me").Q(query).Context(c.ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, classifyError(err)
		}
		for _, m := range resp.Messages {
			if m.Id != "" {
				ids = append(ids, m.Id)
			}
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	return ids, nil
}

func (c *Connector) Fetch(id string) ([]byte, error) {
	resp, err := c.service.Users.Messages.Get("me", id).Format("raw").Context(c.ctx).Do()
	if err != nil {
		return nil, classifyError(err)
	}
	if resp.Raw == "" {
		return nil, fmt.Errorf("gmail message %s has no raw payload", id)
	}
	return decodeBase64URL(resp.Raw)
}

func (c *Connector) Close() error { return nil }

// classifyError marks rejected credentials as a connection failure: every
// later call on the same token would fail the same way.
func classifyError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden) {
		return fmt.Errorf("%w: %w", connectors.ErrConnection, err)
	}
	return err
}

var headerKeys = map[string]string{
	"FROM":    "from",
	"TO":      "to",
	"CC":      "cc",
	"BCC":     "bcc",
	"SUBJECT": "subject",
}

var dateKeys = map[string]string{
	"SINCE":      "after",
	"SENTSINCE":  "after",
	"BEFORE":     "before",
	"SENTBEFORE": "before",
}

// TranslateFilter rewrites the IMAP search subset used by the handler table
// into Gmail's search syntax.
func TranslateFilter(filter string) (string, error) {
	fields, err := connectors.ParseFields(filter)
	if err != nil {
		return "", err
	}

	terms := make([]string, 0, len(fields))
	for i := 0; i < len(fields); i++ {
		key, ok := fields[i].(string)
		if !ok {
			return "", fmt.Errorf("unsupported filter element %v", fields[i])
		}
		key = strings.ToUpper(key)

		switch key {
		case "ALL":
			continue
		case "UNSEEN":
			terms = append(terms, "is:unread")
			continue
		case "SEEN":
			terms = append(terms, "is:read")
			continue
		}

		if i+1 >= len(fields) {
			return "", fmt.Errorf("filter key %s needs a value", key)
		}
		value, ok := fields[i+1].(string)
		if !ok {
			return "", fmt.Errorf("filter key %s has a non-string value", key)
		}
		i++

		switch {
		case headerKeys[key] != "":
			terms = append(terms, fmt.Sprintf("%s:%s", headerKeys[key], quote(value)))
		case dateKeys[key] != "":
			d, err := time.Parse("2-Jan-2006", value)
			if err != nil {
				return "", fmt.Errorf("filter %s: %w", key, err)
			}
			terms = append(terms, dateKeys[key]+":"+d.Format("2006/01/02"))
		case key == "BODY" || key == "TEXT":
			terms = append(terms, quote(value))
		default:
			return "", fmt.Errorf("unsupported filter key %s", key)
		}
	}
	return strings.Join(terms, " "), nil
}

func quote(v string) string {
	if strings.ContainsAny(v, " \t") {
		return `"` + strings.ReplaceAll(v, `"`, "") + `"`
	}
	return v
}

func decodeBase64URL(input string) ([]byte, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(input)
	if err == nil {
		return decoded, nil
	}
	decoded, err = base64.URLEncoding.DecodeString(input)
	if err == nil {
		return decoded, nil
	}
	return nil, fmt.Errorf("decode gmail raw payload: %w", err)
}
