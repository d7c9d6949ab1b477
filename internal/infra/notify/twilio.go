// Package notify reaches a business outside the call: escalation texts to
// the business and payment links to the caller.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	"github.com/boddenberg/receptionist-core/internal/domain"
	"github.com/boddenberg/receptionist-core/internal/port"
)

var (
	_ port.Notifier = (*Twilio)(nil)
	_ port.Notifier = (*Log)(nil)
)

// messageAPI is the slice of the Twilio REST API this package uses.
type messageAPI interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Twilio sends SMS through the Twilio REST API.
type Twilio struct {
	api    messageAPI
	from   string
	logger *zap.Logger
}

// NewTwilio creates an SMS notifier.
func NewTwilio(accountSID, authToken, from string, logger *zap.Logger) *Twilio {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &Twilio{api: client.Api, from: from, logger: logger}
}

// Escalate texts the business's escalation number.
func (t *Twilio) Escalate(ctx context.Context, e port.Escalation) error {
	if e.To == "" {
		return &domain.ErrValidation{Field: "escalation_number", Message: "business has no escalation number"}
	}
	return t.SendText(ctx, e.To, escalationBody(e))
}

// SendText sends one SMS.
func (t *Twilio) SendText(ctx context.Context, to, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(t.from)
	params.SetBody(body)

	msg, err := t.api.CreateMessage(params)
	if err != nil {
		t.logger.Error("twilio send failed", zap.String("to", to), zap.Error(err))
		return &domain.ErrUpstream{Service: "twilio", Err: fmt.Errorf("send message to %s: %w", to, err)}
	}
	if msg != nil && msg.Sid != nil {
		t.logger.Debug("twilio message sent", zap.String("to", to), zap.String("sid", *msg.Sid))
	}
	return nil
}

// Log records notifications instead of sending them. It is used when no SMS
// provider is configured.
type Log struct {
	logger *zap.Logger
}

// NewLog creates a logging notifier.
func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Escalate(_ context.Context, e port.Escalation) error {
	l.logger.Warn("escalation requested",
		zap.String("call_id", e.CallID),
		zap.String("to", e.To),
		zap.String("reason", e.Reason),
	)
	return nil
}

func (l *Log) SendText(_ context.Context, to, body string) error {
	l.logger.Info("text message", zap.String("to", to), zap.Int("length", len(body)))
	return nil
}

func escalationBody(e port.Escalation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] A caller needs a human.", e.BusinessName)
	if e.Reason != "" {
		fmt.Fprintf(&b, " Reason: %s.", e.Reason)
	}
	if e.CallerPhone != "" {
		fmt.Fprintf(&b, " Call back: %s.", e.CallerPhone)
	}
	fmt.Fprintf(&b, " Ref: %s", e.CallID)
	return b.String()
}
