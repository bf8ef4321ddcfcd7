package mailsource

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net/mail"
	"strings"

	"google.golang.org/api/gmail/v1"
)

// parseFromHeader splits a "Name <email@host>" From header into parts.
// Gmail always supplies one, but malformed mail happens.
func parseFromHeader(raw string) (name, email string) {
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return "", raw
	}
	return addr.Name, addr.Address
}

// extractBodies walks a message payload's MIME tree looking for the
// first text/plain and text/html parts, the same depth-first search
// Gmail's own API docs recommend since multipart/alternative nesting
// is unbounded in principle.
func extractBodies(part *gmail.MessagePart) (text, html string) {
	if part == nil {
		return "", ""
	}
	if part.Body != nil && part.Body.Data != "" {
		decoded, err := decodeGmailBody(part.Body.Data)
		if err == nil {
			switch part.MimeType {
			case "text/plain":
				text = decoded
			case "text/html":
				html = decoded
			}
		}
	}
	for _, child := range part.Parts {
		t, h := extractBodies(child)
		if text == "" {
			text = t
		}
		if html == "" {
			html = h
		}
	}
	return text, html
}

func decodeGmailBody(data string) (string, error) {
	b, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// collectAttachments walks the payload tree for parts carrying an
// attachmentId — the signal Gmail uses to mark a part as a real
// attachment rather than an inline body.
func collectAttachments(part *gmail.MessagePart, out *[]Attachment) {
	if part == nil {
		return
	}
	if part.Body != nil && part.Body.AttachmentId != "" && part.Filename != "" {
		*out = append(*out, Attachment{
			Filename:  part.Filename,
			MimeType:  part.MimeType,
			SizeBytes: int64(part.Body.Size),
		})
	}
	for _, child := range part.Parts {
		collectAttachments(child, out)
	}
}

// buildForwardMIME assembles a minimal RFC 5322 forward message. It
// carries the original subject prefixed with "Fwd:" and the original
// body, not a full multipart reconstruction of the source message —
// attachments are not re-sent on forward.
func buildForwardMIME(msg *MailMessage, recipients []string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(recipients, ", "))
	subject := msg.Subject
	if !strings.HasPrefix(strings.ToLower(subject), "fwd:") {
		subject = "Fwd: " + subject
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
	if msg.BodyText != "" {
		buf.WriteString(msg.BodyText)
	} else {
		buf.WriteString(msg.Snippet)
	}
	return buf.Bytes()
}
