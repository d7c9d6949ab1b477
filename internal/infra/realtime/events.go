package realtime

import (
	"github.com/google/uuid"

	"github.com/boddenberg/receptionist-core/internal/domain"
)

type acceptBody struct {
	Type         string                  `json:"type"`
	Model        string                  `json:"model,omitempty"`
	Instructions string                  `json:"instructions,omitempty"`
	Tools        []domain.ToolDescriptor `json:"tools,omitempty"`
	Audio        *audioConfig            `json:"audio,omitempty"`
}

type audioConfig struct {
	Output audioOutput `json:"output"`
}

type audioOutput struct {
	Voice string `json:"voice"`
}

// newEvent builds a client event with a fresh event id.
func newEvent(eventType string, fields map[string]any) map[string]any {
	ev := map[string]any{
		"type":     eventType,
		"event_id": "evt_" + uuid.NewString(),
	}
	for k, v := range fields {
		ev[k] = v
	}
	return ev
}
