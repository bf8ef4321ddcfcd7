package mailsource

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"google.golang.org/api/googleapi"
)

// classifyGmailError maps a raw Gmail API error into the typed
// MailSourceError the engine's recovery policy switches on, so
// discovery never has to string-match an error message.
func classifyGmailError(op string, err error) *MailSourceError {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &MailSourceError{Kind: KindTransient, Reason: ReasonTimeout, Op: op, Err: err}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return &MailSourceError{Kind: KindTransient, Reason: ReasonTimeout, Op: op, Err: err}
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return &MailSourceError{Kind: KindTransient, Reason: ReasonRateLimit, Op: op, Err: err}
		case apiErr.Code >= 500:
			return &MailSourceError{Kind: KindTransient, Reason: ReasonUpstream5xx, Op: op, Err: err}
		default:
			return &MailSourceError{Kind: KindPermanent, Op: op, Err: err}
		}
	}

	return &MailSourceError{Kind: KindPermanent, Op: op, Err: err}
}
