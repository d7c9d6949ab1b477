// Package realtime is the upstream real-time AI transport. Calls are
// answered and hung up over the REST control plane; tool results and
// session updates are sent as events over a short-lived sideband websocket
// bound to the call.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/boddenberg/receptionist-core/internal/domain"
	"github.com/boddenberg/receptionist-core/internal/infra/resilience"
	"github.com/boddenberg/receptionist-core/internal/port"
)

var _ port.UpstreamTransport = (*Transport)(nil)

var tracer = otel.Tracer("realtime")

const (
	serviceName        = "realtime"
	defaultBaseURL     = "https://api.openai.com/v1/"
	defaultDialTimeout = 10 * time.Second
	writeTimeout       = 5 * time.Second
)

// Config configures the transport.
type Config struct {
	BaseURL string
	// SidebandURL overrides the websocket endpoint derived from BaseURL.
	SidebandURL string
	Model       string
	Voice       string
	HTTPClient  *http.Client
}

// Transport talks to the realtime API with the credential assigned to each
// call.
type Transport struct {
	client   openai.Client
	sideband string
	model    string
	voice    string
	cb       *gobreaker.CircuitBreaker
	retry    resilience.Config
	dialer   *websocket.Dialer
}

// New creates a Transport. The client carries no API key of its own; every
// request is authorized with the pool credential passed by the caller.
func New(cfg Config, cb *gobreaker.CircuitBreaker, retry resilience.Config) (*Transport, error) {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	sideband := cfg.SidebandURL
	if sideband == "" {
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parse realtime base url: %w", err)
		}
		switch u.Scheme {
		case "https":
			u.Scheme = "wss"
		case "http":
			u.Scheme = "ws"
		}
		u.Path = strings.TrimSuffix(u.Path, "/") + "/realtime"
		sideband = u.String()
	}

	opts := []option.RequestOption{
		option.WithBaseURL(base),
		option.WithMaxRetries(0),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Transport{
		client:   openai.NewClient(opts...),
		sideband: sideband,
		model:    cfg.Model,
		voice:    cfg.Voice,
		cb:       cb,
		retry:    retry,
		dialer:   &websocket.Dialer{HandshakeTimeout: defaultDialTimeout},
	}, nil
}

// Accept answers the call. The upstream call handle is the call id itself.
func (t *Transport) Accept(ctx context.Context, req port.AcceptRequest) (string, error) {
	ctx, span := tracer.Start(ctx, "Transport.Accept")
	defer span.End()
	span.SetAttributes(attribute.String("call_id", req.CallID))

	body := acceptBody{
		Type:         "realtime",
		Model:        t.model,
		Instructions: req.Instructions,
		Tools:        req.Tools,
	}
	if t.voice != "" {
		body.Audio = &audioConfig{Output: audioOutput{Voice: t.voice}}
	}

	path := fmt.Sprintf("realtime/calls/%s/accept", url.PathEscape(req.CallID))
	if err := t.post(ctx, path, body, req.Credential); err != nil {
		return "", err
	}
	return req.CallID, nil
}

// Hangup ends the call upstream.
func (t *Transport) Hangup(ctx context.Context, callRef, credential string) error {
	ctx, span := tracer.Start(ctx, "Transport.Hangup")
	defer span.End()
	span.SetAttributes(attribute.String("call_id", callRef))

	path := fmt.Sprintf("realtime/calls/%s/hangup", url.PathEscape(callRef))
	return t.post(ctx, path, struct{}{}, credential)
}

// SendToolResult delivers a function_call_output item and requests the
// model's next response.
func (t *Transport) SendToolResult(ctx context.Context, callRef, credential string, result domain.ToolResult) error {
	ctx, span := tracer.Start(ctx, "Transport.SendToolResult")
	defer span.End()
	span.SetAttributes(
		attribute.String("call_id", callRef),
		attribute.String("tool", string(result.Tool)),
	)

	return t.send(ctx, callRef, credential,
		newEvent("conversation.item.create", map[string]any{
			"item": map[string]any{
				"type":    "function_call_output",
				"call_id": result.ToolCallID,
				"output":  result.JSON(),
			},
		}),
		newEvent("response.create", nil),
	)
}

// UpdateSession replaces instructions and tools on a live call.
func (t *Transport) UpdateSession(ctx context.Context, callRef, credential, instructions string, tools []domain.ToolDescriptor) error {
	ctx, span := tracer.Start(ctx, "Transport.UpdateSession")
	defer span.End()
	span.SetAttributes(attribute.String("call_id", callRef))

	return t.send(ctx, callRef, credential,
		newEvent("session.update", map[string]any{
			"session": map[string]any{
				"type":         "realtime",
				"instructions": instructions,
				"tools":        tools,
			},
		}),
	)
}

func (t *Transport) post(ctx context.Context, path string, body any, credential string) error {
	return t.execute(ctx, func() error {
		err := t.client.Post(ctx, path, body, nil, option.WithAPIKey(credential))
		return classify(err)
	})
}

// send dials the sideband for one burst of events. Handlers are stateless,
// so no connection outlives the request that opened it.
func (t *Transport) send(ctx context.Context, callRef, credential string, events ...map[string]any) error {
	return t.execute(ctx, func() error {
		u := t.sideband + "?call_id=" + url.QueryEscape(callRef)
		headers := make(http.Header)
		headers.Set("Authorization", "Bearer "+credential)

		conn, resp, err := t.dialer.DialContext(ctx, u, headers)
		if err != nil {
			if resp != nil {
				return classifyStatus(resp.StatusCode, fmt.Errorf("sideband dial failed (status %d): %w", resp.StatusCode, err))
			}
			return fmt.Errorf("sideband dial: %w", err)
		}
		defer conn.Close()

		for _, ev := range events {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return fmt.Errorf("sideband write %s: %w", ev["type"], err)
			}
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return nil
	})
}

func (t *Transport) execute(ctx context.Context, fn func() error) error {
	_, err := t.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, t.retry, fn)
	})
	if err == nil {
		return nil
	}
	if resilience.IsBreakerOpen(err) {
		return &domain.ErrCircuitOpen{Service: serviceName}
	}
	return &domain.ErrUpstream{Service: serviceName, Err: err}
}

// ErrCredentialRejected marks a pool credential the upstream refused.
var ErrCredentialRejected = errors.New("credential rejected by upstream")

// classify marks client errors as permanent so they are neither retried nor
// counted against the breaker.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.StatusCode, err)
	}
	return err
}

func classifyStatus(status int, err error) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return resilience.Permanent(fmt.Errorf("%w: %w", ErrCredentialRejected, err))
	case status == http.StatusTooManyRequests:
		return err
	case status >= 400 && status < 500:
		return resilience.Permanent(err)
	default:
		return err
	}
}
