// Package mailsource defines the MailSource protocol the discovery
// engine depends on, plus a concrete Gmail adapter. The OAuth bootstrap
// flow that first produces a refresh token is out of core scope — this
// package only consumes one that's already been issued.
package mailsource

import (
	"context"
	"time"
)

// MailMessage is the engine-facing shape of one fetched message.
type MailMessage struct {
	ID        string
	Subject   string
	FromName  string
	FromEmail string
	Snippet   string
	BodyText  string
	BodyHTML  string
	Date      time.Time
}

// Attachment is one message attachment's metadata; the engine does not
// persist attachment bytes, only that they exist.
type Attachment struct {
	Filename string
	MimeType string
	SizeBytes int64
}

// ForwardOptions controls a Forward call's guest-notification behavior.
type ForwardOptions struct {
	SendUpdates string // "none" by default; see config.InviteConfig
}

// MailSource is the capability surface DiscoveryEngine depends on.
// Implementations must surface transient/permanent failures as
// *MailSourceError so the engine can apply the right recovery policy.
type MailSource interface {
	// ListMessageIds runs a Gmail-style search query (from:, after:,
	// OR groups, -term) and returns up to limit matching message ids.
	ListMessageIds(ctx context.Context, query string, limit int) ([]string, error)
	// GetMessage fetches one message's headers and bodies.
	GetMessage(ctx context.Context, id string) (*MailMessage, error)
	// GetAttachments fetches attachment metadata for an already-fetched message.
	GetAttachments(ctx context.Context, msg *MailMessage) ([]Attachment, error)
	// Forward resends a message to recipients under options.
	Forward(ctx context.Context, msgID string, recipients []string, options ForwardOptions) error
	// SendEmail sends a fully-formed multipart MIME message.
	SendEmail(ctx context.Context, multipartMIME []byte) error
	// ApplyLabel tags a message with a label (e.g. "concierge/processed").
	ApplyLabel(ctx context.Context, msgID, label string) error
}

// Kind distinguishes a transient (retry-eligible at the next scheduled
// run) failure from a permanent (pack-level abort) one.
type Kind int

const (
	KindTransient Kind = iota
	KindPermanent
)

// Reason is the typed SKIPPED reason a transient failure carries.
type Reason string

const (
	ReasonTimeout    Reason = "timeout"
	ReasonRateLimit  Reason = "rate_limit"
	ReasonUpstream5xx Reason = "upstream_5xx"
)

// MailSourceError wraps a mail-source failure with the information the
// engine needs to choose a recovery path without string matching.
type MailSourceError struct {
	Kind   Kind
	Reason Reason
	Op     string
	Err    error
}

func (e *MailSourceError) Error() string {
	if e.Err != nil {
		return "mailsource: " + e.Op + ": " + e.Err.Error()
	}
	return "mailsource: " + e.Op + ": " + string(e.Reason)
}

func (e *MailSourceError) Unwrap() error { return e.Err }
