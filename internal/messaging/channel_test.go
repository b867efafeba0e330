package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/BTreeMap/ElicitPipe/internal/store"
)

type mockCreator struct {
	params []*twilioApi.CreateMessageParams
	err    error
}

func (m *mockCreator) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	m.params = append(m.params, params)
	if m.err != nil {
		return nil, m.err
	}
	sid := "SM123"
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

func TestCanonicalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr error
	}{
		{"+1 (555) 123-4567", "15551234567", nil},
		{"15551234567", "15551234567", nil},
		{"", "", ErrEmptyRecipient},
		{"abc", "", ErrInvalidRecipient},
		{"+12345", "", ErrInvalidRecipient},
	}
	for _, tt := range tests {
		got, err := CanonicalizePhone(tt.in)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CanonicalizePhone(%q) error = %v, want %v", tt.in, err, tt.wantErr)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("CanonicalizePhone(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestTwilioChannelSend(t *testing.T) {
	tests := []struct {
		name     string
		whatsApp bool
		wantTo   string
		wantFrom string
	}{
		{"sms", false, "+15551234567", "+15550000000"},
		{"whatsapp", true, "whatsapp:+15551234567", "whatsapp:+15550000000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockCreator{}
			ch := newTwilioChannel(api, "+15550000000", tt.whatsApp)

			to, err := ch.ValidateAndCanonicalizeRecipient("whatsapp:+1 555 123 4567")
			if err != nil {
				t.Fatalf("ValidateAndCanonicalizeRecipient: %v", err)
			}
			if err := ch.Send(context.Background(), to, "What problem are you solving?"); err != nil {
				t.Fatalf("Send: %v", err)
			}
			if len(api.params) != 1 {
				t.Fatalf("expected one API call, got %d", len(api.params))
			}
			p := api.params[0]
			if *p.To != tt.wantTo || *p.From != tt.wantFrom || *p.Body != "What problem are you solving?" {
				t.Errorf("unexpected params to=%s from=%s body=%s", *p.To, *p.From, *p.Body)
			}
		})
	}
}

func TestTwilioChannelSendErrors(t *testing.T) {
	api := &mockCreator{err: errors.New("21211 invalid To")}
	ch := newTwilioChannel(api, "+15550000000", false)
	if err := ch.Send(context.Background(), "15551234567", "hi"); err == nil {
		t.Error("expected API error to surface")
	}
	if err := ch.Send(context.Background(), "15551234567", ""); !errors.Is(err, ErrEmptyBody) {
		t.Errorf("expected ErrEmptyBody, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ch.Send(ctx, "15551234567", "hi"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestNewTwilioChannelRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")
	if _, err := NewTwilioChannel(); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewTwilioChannel(WithAccountSID("AC1"), WithAuthToken("tok")); err == nil {
		t.Error("expected error without from number")
	}
	ch, err := NewTwilioChannel(WithAccountSID("AC1"), WithAuthToken("tok"), WithFromNumber("+15550000000"), WithWhatsApp(true))
	if err != nil {
		t.Fatalf("NewTwilioChannel: %v", err)
	}
	if !ch.whatsApp || ch.from != "+15550000000" {
		t.Errorf("options not applied: %+v", ch)
	}
}

func TestLogChannel(t *testing.T) {
	ch := NewLogChannel()
	if _, err := ch.ValidateAndCanonicalizeRecipient(""); !errors.Is(err, ErrEmptyRecipient) {
		t.Errorf("expected ErrEmptyRecipient, got %v", err)
	}
	if err := ch.Send(context.Background(), "alice", "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	sent := ch.Sent()
	if len(sent) != 1 || sent[0].To != "alice" || sent[0].Body != "hello" {
		t.Errorf("unexpected sent messages %+v", sent)
	}
}

func TestSendFuncDeliversOutbox(t *testing.T) {
	st := store.NewInMemoryStore()
	if _, err := st.EnqueueOutboxMessage(store.OutboxMessage{SessionID: "s1", Recipient: "+1 555 123 4567", Kind: "question", Body: "Who are your users?"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := st.EnqueueOutboxMessage(store.OutboxMessage{SessionID: "s2", Recipient: "nope", Kind: "question", Body: "Who?"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	api := &mockCreator{}
	sender := store.NewOutboxSender(st, SendFunc(newTwilioChannel(api, "+15550000000", false)), time.Second)
	sender.Poll(context.Background())

	if len(api.params) != 1 || *api.params[0].To != "+15551234567" {
		t.Fatalf("expected one delivery to the canonical number, got %d", len(api.params))
	}
	statuses := map[string]store.OutboxStatus{}
	for _, m := range st.OutboxMessages() {
		statuses[m.SessionID] = m.Status
	}
	if statuses["s1"] != store.OutboxStatusSent {
		t.Errorf("s1 should be sent, got %s", statuses["s1"])
	}
	if statuses["s2"] != store.OutboxStatusQueued {
		t.Errorf("s2 should be requeued for retry, got %s", statuses["s2"])
	}
}
