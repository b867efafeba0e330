// Package messaging delivers questions and assumption summaries to session
// participants.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/BTreeMap/ElicitPipe/internal/store"
)

// Channel defines a pluggable message delivery abstraction.
type Channel interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// Send delivers body to a recipient.
	Send(ctx context.Context, to string, body string) error
}

// Error variables for recipient validation.
var (
	ErrEmptyRecipient   = errors.New("recipient cannot be empty")
	ErrInvalidRecipient = errors.New("invalid phone number")
	ErrEmptyBody        = errors.New("message body cannot be empty")
	ErrNoChannel        = errors.New("no delivery channel configured")
)

// minPhoneDigits is the shortest canonical phone number accepted.
const minPhoneDigits = 6

var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// CanonicalizePhone strips everything but digits and checks the result is a
// plausible phone number.
func CanonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", ErrEmptyRecipient
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("%w: no digits found in recipient %q", ErrInvalidRecipient, recipient)
	}
	if len(canonical) < minPhoneDigits {
		return "", fmt.Errorf("%w: %q is too short (minimum %d digits required)", ErrInvalidRecipient, canonical, minPhoneDigits)
	}
	if canonical != recipient {
		slog.Debug("messaging.CanonicalizePhone: canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// SendFunc adapts ch to the outbox sender's callback.
func SendFunc(ch Channel) store.OutboxSendFunc {
	return func(ctx context.Context, msg store.OutboxMessage) error {
		if msg.Body == "" {
			return ErrEmptyBody
		}
		to, err := ch.ValidateAndCanonicalizeRecipient(msg.Recipient)
		if err != nil {
			slog.Error("messaging.SendFunc: invalid recipient", "outboxID", msg.ID, "sessionID", msg.SessionID, "error", err)
			return err
		}
		if err := ch.Send(ctx, to, msg.Body); err != nil {
			return err
		}
		slog.Debug("messaging.SendFunc: delivered", "outboxID", msg.ID, "sessionID", msg.SessionID, "kind", msg.Kind)
		return nil
	}
}
