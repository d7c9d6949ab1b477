package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	"github.com/boddenberg/receptionist-core/internal/domain"
	"github.com/boddenberg/receptionist-core/internal/port"
)

type fakeMessages struct {
	sent []*twilioApi.CreateMessageParams
	err  error
}

func (f *fakeMessages) CreateMessage(p *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.sent = append(f.sent, p)
	if f.err != nil {
		return nil, f.err
	}
	sid := "SM123"
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

func TestEscalate_SendsSMS(t *testing.T) {
	api := &fakeMessages{}
	n := &Twilio{api: api, from: "+61200000000", logger: zap.NewNop()}

	err := n.Escalate(context.Background(), port.Escalation{
		CallID:       "c1",
		BusinessName: "Richmond Plumbing",
		To:           "+61400000001",
		CallerPhone:  "+61400000002",
		Reason:       "burst pipe",
	})
	require.NoError(t, err)
	require.Len(t, api.sent, 1)
	assert.Equal(t, "+61400000001", *api.sent[0].To)
	assert.Equal(t, "+61200000000", *api.sent[0].From)
	assert.Contains(t, *api.sent[0].Body, "burst pipe")
	assert.Contains(t, *api.sent[0].Body, "+61400000002")
}

func TestEscalate_RequiresNumber(t *testing.T) {
	n := &Twilio{api: &fakeMessages{}, logger: zap.NewNop()}
	err := n.Escalate(context.Background(), port.Escalation{CallID: "c1"})
	var ve *domain.ErrValidation
	assert.ErrorAs(t, err, &ve)
}

func TestSendText_UpstreamError(t *testing.T) {
	n := &Twilio{api: &fakeMessages{err: errors.New("21211 invalid number")}, logger: zap.NewNop()}
	err := n.SendText(context.Background(), "+1", "hi")
	var up *domain.ErrUpstream
	assert.ErrorAs(t, err, &up)
}
