package pipeline

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"net/mail"
	"strings"

	"github.com/jhillyerd/enmime"

	"receipts/internal"
)

// ParseMessage decodes a raw RFC 822 message into the read-only view the
// dispatcher and the rendering strategies work on.
func ParseMessage(raw []byte) (internal.Message, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return internal.Message{}, err
	}

	msg := internal.Message{
		From:      env.GetHeader("From"),
		To:        env.GetHeader("To"),
		Subject:   env.GetHeader("Subject"),
		MessageID: trimAngles(env.GetHeader("Message-Id")),
		Digest:    digest(raw),
		Text:      env.Text,
		HTML:      env.HTML,
	}
	if d, err := mail.ParseDate(env.GetHeader("Date")); err == nil {
		msg.Date = d
	}

	for _, p := range env.Attachments {
		msg.Attachments = append(msg.Attachments, toAttachment(p))
	}
	// PDFs are sometimes sent with an inline disposition.
	for _, p := range env.Inlines {
		if isPDF(p.ContentType) && p.FileName != "" {
			msg.Attachments = append(msg.Attachments, toAttachment(p))
			continue
		}
		if p.ContentID != "" {
			msg.Inlines = append(msg.Inlines, toAttachment(p))
		}
	}
	for _, p := range env.OtherParts {
		if p.ContentID != "" {
			msg.Inlines = append(msg.Inlines, toAttachment(p))
		}
	}
	return msg, nil
}

func toAttachment(p *enmime.Part) internal.Attachment {
	return internal.Attachment{
		FileName:    strings.TrimSpace(p.FileName),
		ContentType: p.ContentType,
		ContentID:   trimAngles(p.ContentID),
		Content:     p.Content,
	}
}

func digest(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:6])
}

func trimAngles(v string) string {
	return strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(v), "<"), ">")
}

func isPDF(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(contentType), "application/pdf")
}
