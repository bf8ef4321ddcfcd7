package mailsource

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/aliedrevenue/concierge/internal/pkg/httpretry"
)

// gmailScopes is the minimal scope set the core needs: read, send,
// and label-modify. Nothing here requests account-management scopes.
var gmailScopes = []string{
	gmail.GmailReadonlyScope,
	gmail.GmailSendScope,
	gmail.GmailModifyScope,
}

// GmailSource adapts the Gmail API to the MailSource protocol.
type GmailSource struct {
	svc    *gmail.Service
	userID string // "me"
}

// GmailCredentials is the OAuth client identity plus an already-issued
// refresh token; see config.GmailConfig.
type GmailCredentials struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	RefreshToken string
}

// NewGmailSource builds a token-refreshing Gmail client. The client's
// outbound transport goes through httpretry.RetryClient so a
// transient network blip on a single API call doesn't immediately
// surface as a MailSourceError the pipeline has to reason about.
func NewGmailSource(ctx context.Context, creds GmailCredentials) (*GmailSource, error) {
	oauthConfig := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  creds.RedirectURI,
		Scopes:       gmailScopes,
		Endpoint:     google.Endpoint,
	}

	tokenSource := oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})
	httpClient := oauth2.NewClient(ctx, tokenSource)
	authed := &http.Client{Transport: httpClient.Transport}
	httpClient.Transport = &retryingTransport{
		retry: httpretry.NewRetryClient(authed, 3),
	}

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("mailsource: new gmail service: %w", err)
	}

	return &GmailSource{svc: svc, userID: "me"}, nil
}

// retryingTransport adapts httpretry.RetryClient (an HTTPDoer) to
// http.RoundTripper so it can sit underneath the oauth2 client.
type retryingTransport struct {
	retry *httpretry.RetryClient
}

func (t *retryingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.retry.Do(req)
}

// ListMessageIds runs query against Gmail's users.messages.list.
func (g *GmailSource) ListMessageIds(ctx context.Context, query string, limit int) ([]string, error) {
	call := g.svc.Users.Messages.List(g.userID).Q(query).Context(ctx)
	if limit > 0 {
		call = call.MaxResults(int64(limit))
	}

	var ids []string
	resp, err := call.Do()
	if err != nil {
		return nil, classifyGmailError("listMessageIds", err)
	}
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
		if limit > 0 && len(ids) >= limit {
			break
		}
	}
	return ids, nil
}

// GetMessage fetches one message's metadata and both body variants.
func (g *GmailSource) GetMessage(ctx context.Context, id string) (*MailMessage, error) {
	msg, err := g.svc.Users.Messages.Get(g.userID, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, classifyGmailError("getMessage", err)
	}

	out := &MailMessage{ID: id, Snippet: msg.Snippet}
	for _, h := range msg.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "subject":
			out.Subject = h.Value
		case "from":
			out.FromName, out.FromEmail = parseFromHeader(h.Value)
		case "date":
			if t, err := time.Parse(time.RFC1123Z, h.Value); err == nil {
				out.Date = t
			}
		}
	}
	out.BodyText, out.BodyHTML = extractBodies(msg.Payload)
	return out, nil
}

// GetAttachments fetches msg again in full format and returns the
// attachment metadata found on its payload parts.
func (g *GmailSource) GetAttachments(ctx context.Context, msg *MailMessage) ([]Attachment, error) {
	m, err := g.svc.Users.Messages.Get(g.userID, msg.ID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, classifyGmailError("getAttachments", err)
	}
	var attachments []Attachment
	collectAttachments(m.Payload, &attachments)
	return attachments, nil
}

// Forward resends msgID to recipients. sendUpdates semantics are the
// caller's responsibility (the core never notifies guests by default).
func (g *GmailSource) Forward(ctx context.Context, msgID string, recipients []string, options ForwardOptions) error {
	msg, err := g.GetMessage(ctx, msgID)
	if err != nil {
		return err
	}
	mime := buildForwardMIME(msg, recipients)
	return g.SendEmail(ctx, mime)
}

// SendEmail sends a pre-built multipart MIME message.
func (g *GmailSource) SendEmail(ctx context.Context, multipartMIME []byte) error {
	raw := base64.URLEncoding.EncodeToString(multipartMIME)
	_, err := g.svc.Users.Messages.Send(g.userID, &gmail.Message{Raw: raw}).Context(ctx).Do()
	if err != nil {
		return classifyGmailError("sendEmail", err)
	}
	return nil
}

// ApplyLabel tags msgID with label, creating it if absent.
func (g *GmailSource) ApplyLabel(ctx context.Context, msgID, label string) error {
	labelID, err := g.resolveLabelID(ctx, label)
	if err != nil {
		return err
	}
	_, err = g.svc.Users.Messages.Modify(g.userID, msgID, &gmail.ModifyMessageRequest{
		AddLabelIds: []string{labelID},
	}).Context(ctx).Do()
	if err != nil {
		return classifyGmailError("applyLabel", err)
	}
	return nil
}

func (g *GmailSource) resolveLabelID(ctx context.Context, name string) (string, error) {
	list, err := g.svc.Users.Labels.List(g.userID).Context(ctx).Do()
	if err != nil {
		return "", classifyGmailError("resolveLabelID", err)
	}
	for _, l := range list.Labels {
		if l.Name == name {
			return l.Id, nil
		}
	}
	created, err := g.svc.Users.Labels.Create(g.userID, &gmail.Label{Name: name}).Context(ctx).Do()
	if err != nil {
		return "", classifyGmailError("createLabel", err)
	}
	return created.Id, nil
}
