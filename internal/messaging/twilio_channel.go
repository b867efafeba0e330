package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// messageCreator is the slice of the Twilio REST API the channel uses.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioOpts holds configuration options for the Twilio channel.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	WhatsApp   bool // send through the WhatsApp sender instead of SMS
}

// TwilioOption defines a configuration option for the Twilio channel.
type TwilioOption func(*TwilioOpts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) TwilioOption {
	return func(o *TwilioOpts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) TwilioOption {
	return func(o *TwilioOpts) { o.AuthToken = token }
}

// WithFromNumber sets the sending number.
func WithFromNumber(from string) TwilioOption {
	return func(o *TwilioOpts) { o.FromNumber = from }
}

// WithWhatsApp routes messages through Twilio's WhatsApp sender.
func WithWhatsApp(enabled bool) TwilioOption {
	return func(o *TwilioOpts) { o.WhatsApp = enabled }
}

// TwilioChannel delivers messages through the Twilio REST API.
type TwilioChannel struct {
	api      messageCreator
	from     string
	whatsApp bool
}

// NewTwilioChannel creates a TwilioChannel. Unset options fall back to
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER.
func NewTwilioChannel(opts ...TwilioOption) (*TwilioChannel, error) {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromNumber == "" {
		cfg.FromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio channel config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromNumber_set", cfg.FromNumber != "",
		"whatsApp", cfg.WhatsApp)

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("from number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newTwilioChannel(client.Api, cfg.FromNumber, cfg.WhatsApp), nil
}

func newTwilioChannel(api messageCreator, from string, whatsApp bool) *TwilioChannel {
	return &TwilioChannel{api: api, from: from, whatsApp: whatsApp}
}

// ValidateAndCanonicalizeRecipient returns the digits of a phone number.
func (c *TwilioChannel) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(strings.TrimPrefix(recipient, "whatsapp:"))
}

// address formats a canonical number for the Twilio API.
func (c *TwilioChannel) address(number string) string {
	n := strings.TrimPrefix(number, "whatsapp:")
	if !strings.HasPrefix(n, "+") {
		n = "+" + n
	}
	if c.whatsApp {
		return "whatsapp:" + n
	}
	return n
}

// Send delivers body to a canonical recipient.
func (c *TwilioChannel) Send(ctx context.Context, to string, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if body == "" {
		return ErrEmptyBody
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(c.address(to))
	params.SetFrom(c.address(c.from))
	params.SetBody(body)

	resp, err := c.api.CreateMessage(params)
	if err != nil {
		slog.Error("TwilioChannel.Send failed", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Debug("TwilioChannel.Send: message sent", "to", to, "sid", sid)
	return nil
}
