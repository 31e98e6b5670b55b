package mail

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"
)

// Notice kinds.
const (
	KindRegistrationToken = "registration_token"
	KindAlreadyRegistered = "already_registered"
	KindResetCode         = "reset_code"
)

var templates = template.Must(template.New("").Parse(`
{{define "registration_token"}}Welcome to Inkwell!

Use the following details to finish creating your account:

  Token ID: {{.TokenID}}
  Token:    {{.Token}}

They expire in {{.TTL}}. If you did not ask to register, ignore this email.
{{end}}
{{define "already_registered"}}Someone asked to register a new Inkwell account for this address,
but an account already exists for it.

If this was you, log in or reset your password instead. Otherwise you can
ignore this email; nothing has changed.
{{end}}
{{define "reset_code"}}Your Inkwell password reset code is:

  {{.Code}}

It expires in {{.TTL}}. If you did not ask to reset your password, ignore
this email.
{{end}}`))

// Notices renders account notices and hands them to a Sender.
type Notices struct {
	sender Sender
	from   string
}

// NewNotices returns a Notices that sends through sender.
func NewNotices(sender Sender, from string) *Notices {
	return &Notices{sender: sender, from: from}
}

func (n *Notices) send(ctx context.Context, kind, to, subject string, data any) error {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, kind, data); err != nil {
		return fmt.Errorf("rendering %s notice: %w", kind, err)
	}
	return n.sender.Send(ctx, Message{
		From:    n.from,
		To:      to,
		Subject: subject,
		Text:    buf.String(),
		Kind:    kind,
	})
}

// RegistrationToken sends the token needed to complete registration.
func (n *Notices) RegistrationToken(ctx context.Context, to, tokenID, token string, ttl time.Duration) error {
	return n.send(ctx, KindRegistrationToken, to, "Finish creating your Inkwell account", map[string]any{
		"TokenID": tokenID,
		"Token":   token,
		"TTL":     ttl,
	})
}

// AlreadyRegistered tells the owner of to that a duplicate registration
// was attempted.
func (n *Notices) AlreadyRegistered(ctx context.Context, to string) error {
	return n.send(ctx, KindAlreadyRegistered, to, "You already have an Inkwell account", nil)
}

// ResetCode sends a password reset code.
func (n *Notices) ResetCode(ctx context.Context, to, code string, ttl time.Duration) error {
	return n.send(ctx, KindResetCode, to, "Your Inkwell password reset code", map[string]any{
		"Code": code,
		"TTL":  ttl,
	})
}
