package pipeline

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html"
	"html/template"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"receipts/internal"
	"receipts/internal/util"
)

const documentStyle = `<style type="text/css">
html, body { font-size: 14px; font-family: Helvetica, Arial, sans-serif; }
hr { color: #dddddd; width: 100%; }
.mail-header th, td { font-size: 14px; }
.mail-header th { text-align: right; color: #888888; }
.mail-body { margin: 20px 20px; }
</style>`

var headerTmpl = template.Must(template.New("header").Parse(`<div class="mail-header"><table border="0" width="100%">
<tr><th>From:</th> <td width="100%">{{.From}}</td></tr>
<tr><th>Subject:</th> <td>{{.Subject}}<br></td></tr>
<tr><th>Date:</th> <td>{{.Date}}<br></td></tr>
<tr><th>To:</th> <td>{{.To}}</td></tr>
</table></div>
<hr noshade="noshade">
`))

func headerHTML(msg internal.Message) (string, error) {
	var buf bytes.Buffer
	err := headerTmpl.Execute(&buf, struct {
		From, Subject, Date, To string
	}{
		From:    msg.From,
		Subject: msg.Subject,
		Date:    msg.Date.Format("2006-01-02 15:04"),
		To:      msg.To,
	})
	if err != nil {
		return "", fmt.Errorf("render mail header: %w", err)
	}
	return buf.String(), nil
}

// BuildTextDocument wraps the plain text body, with blank lines as paragraph
// breaks and single newlines as line breaks.
func BuildTextDocument(msg internal.Message) (string, error) {
	header, err := headerHTML(msg)
	if err != nil {
		return "", err
	}
	text := strings.ReplaceAll(msg.Text, "\r\n", "\n")
	paras := strings.Split(text, "\n\n")
	for i, p := range paras {
		lines := strings.Split(p, "\n")
		for j, l := range lines {
			lines[j] = html.EscapeString(l)
		}
		paras[i] = strings.Join(lines, "<br>")
	}

	var b strings.Builder
	b.WriteString("<html>\n<head>\n")
	b.WriteString(documentStyle)
	b.WriteString("\n</head>\n<body>\n")
	b.WriteString(header)
	b.WriteString(`<div class="mail-body"><p>`)
	b.WriteString(strings.Join(paras, "</p><p>"))
	b.WriteString("</p></div>\n</body></html>\n")
	return b.String(), nil
}

// BuildHTMLDocument takes the HTML part, inlines every cid: reference as a
// data URI and adds the mail header above the body.
func BuildHTMLDocument(msg internal.Message) (string, error) {
	header, err := headerHTML(msg)
	if err != nil {
		return "", err
	}
	uris := inlineDataURIs(msg.Inlines)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(msg.HTML))
	if err != nil {
		return "", err
	}
	for _, attr := range []string{"src", "background"} {
		doc.Find("[" + attr + "]").Each(func(_ int, s *goquery.Selection) {
			v, _ := s.Attr(attr)
			v = strings.TrimSpace(v)
			if !strings.HasPrefix(strings.ToLower(v), "cid:") {
				return
			}
			if uri, ok := uris[trimAngles(v[len("cid:"):])]; ok {
				s.SetAttr(attr, uri)
			}
		})
	}
	doc.Find("head").AppendHtml(documentStyle)
	doc.Find("body").PrependHtml(header)

	out, err := doc.Html()
	if err != nil {
		return "", err
	}
	return replaceCIDs(out, uris), nil
}

// replaceCIDs handles references outside attributes, such as CSS url(cid:...).
func replaceCIDs(body string, uris map[string]string) string {
	if !strings.Contains(body, "cid:") {
		return body
	}
	ids := make([]string, 0, len(uris))
	for id := range uris {
		ids = append(ids, id)
	}
	// longest first so "cid:logo" never eats the prefix of "cid:logo2"
	sort.Slice(ids, func(i, j int) bool {
		if len(ids[i]) != len(ids[j]) {
			return len(ids[i]) > len(ids[j])
		}
		return ids[i] < ids[j]
	})
	pairs := make([]string, 0, 2*len(ids))
	for _, id := range ids {
		pairs = append(pairs, "cid:"+id, uris[id])
	}
	return strings.NewReplacer(pairs...).Replace(body)
}

func inlineDataURIs(parts []internal.Attachment) map[string]string {
	uris := make(map[string]string, len(parts))
	for _, p := range parts {
		if p.ContentID == "" {
			continue
		}
		ct := p.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		uris[p.ContentID] = "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(p.Content)
	}
	return uris
}

// ExtractAttachments returns the message attachments, optionally only PDFs.
func ExtractAttachments(msg internal.Message, pdfOnly bool) []internal.Attachment {
	out := make([]internal.Attachment, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		if pdfOnly && !isPDF(a.ContentType) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// DocumentName is the deterministic output file name for a message, or for
// one of its attachments when attachment is non-empty. Messages without a
// Message-ID are told apart by their content digest.
func DocumentName(msg internal.Message, attachment string) string {
	id, _, _ := strings.Cut(msg.MessageID, "@")
	if id == "" {
		id = msg.Digest
	}
	parts := []string{
		msg.Date.UTC().Format("20060102T150405"),
		util.SanitizeFilePart(msg.From),
		util.SanitizeFilePart(id),
	}
	if attachment != "" {
		parts = append(parts, util.SanitizeFilePart(util.TrimExt(attachment)))
	}
	return strings.Join(parts, "__") + ".pdf"
}
