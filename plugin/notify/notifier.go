// Package notify routes nudge deliveries to the configured push and email
// providers, resolving each user's addresses from their nudge profile.
package notify

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hrygo/nudger/store"
)

// Pusher sends a push notification to a provider-specific target.
type Pusher interface {
	Push(ctx context.Context, target, title, body string, metadata map[string]string) error
}

// Mailer sends a single email.
type Mailer interface {
	Mail(ctx context.Context, to, subject, body string) error
}

// RecipientResolver loads the profile carrying a user's channel addresses.
// It returns nil without error for unknown users.
type RecipientResolver interface {
	GetNudgeProfile(ctx context.Context, userID string) (*store.NudgeProfile, error)
}

// Notifier implements the engine's notification channel on top of a Pusher
// and a Mailer. Either may be nil, in which case that channel always fails
// with ErrNotConfigured.
type Notifier struct {
	recipients RecipientResolver
	pusher     Pusher
	mailer     Mailer
}

func NewNotifier(recipients RecipientResolver, pusher Pusher, mailer Mailer) *Notifier {
	return &Notifier{recipients: recipients, pusher: pusher, mailer: mailer}
}

func (n *Notifier) SendPush(ctx context.Context, userID, title, body string, metadata map[string]string) error {
	if n.pusher == nil {
		return ErrNotConfigured
	}
	p, err := n.resolve(ctx, userID)
	if err != nil {
		return err
	}
	if p.PushTarget == "" {
		return ErrNoRecipient
	}
	return n.pusher.Push(ctx, p.PushTarget, title, body, metadata)
}

func (n *Notifier) SendEmail(ctx context.Context, userID, title, body string) error {
	if n.mailer == nil {
		return ErrNotConfigured
	}
	p, err := n.resolve(ctx, userID)
	if err != nil {
		return err
	}
	if p.Email == "" {
		return ErrNoRecipient
	}
	return n.mailer.Mail(ctx, p.Email, title, body)
}

func (n *Notifier) resolve(ctx context.Context, userID string) (*store.NudgeProfile, error) {
	p, err := n.recipients.GetNudgeProfile(ctx, userID)
	if err != nil {
		return nil, &ChannelError{Code: CodeTransport, Message: "failed to load recipient", Err: errors.Wrap(err, userID)}
	}
	if p == nil {
		return nil, ErrUnknownProfile
	}
	return p, nil
}
