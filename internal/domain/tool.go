package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ToolName identifies a tool variant the dialogue may invoke.
type ToolName string

const (
	ToolStartQuote          ToolName = "start_quote"
	ToolAnswerQuoteQuestion ToolName = "answer_quote_question"
	ToolCheckAvailability   ToolName = "check_availability"
	ToolBookSlot            ToolName = "book_slot"
	ToolCreatePaymentLink   ToolName = "create_payment_link"
	ToolEscalateToHuman     ToolName = "escalate_to_human"
	ToolAnswerFAQ           ToolName = "answer_faq"
)

// ToolDescriptor is what the upstream transport sees: a name plus the JSON
// schema of its arguments.
type ToolDescriptor struct {
	Type        string         `json:"type"`
	Name        ToolName       `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

func objectSchema(required []string, props map[string]any) map[string]any {
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

var toolCatalog = map[ToolName]ToolDescriptor{
	ToolStartQuote: {
		Description: "Start a price quote. Call with no service_ids to list the services the caller can choose from.",
		Parameters: objectSchema(nil, map[string]any{
			"service_ids": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		}),
	},
	ToolAnswerQuoteQuestion: {
		Description: "Pass the caller's answer to the current quote question.",
		Parameters: objectSchema([]string{"answer"}, map[string]any{
			"answer": map[string]any{"type": "string"},
		}),
	},
	ToolCheckAvailability: {
		Description: "List open appointment slots for a date (YYYY-MM-DD, business local time).",
		Parameters: objectSchema([]string{"date"}, map[string]any{
			"date": map[string]any{"type": "string", "description": "YYYY-MM-DD"},
		}),
	},
	ToolBookSlot: {
		Description: "Reserve an open appointment slot for the caller.",
		Parameters: objectSchema([]string{"slot_id", "customer_name"}, map[string]any{
			"slot_id":        map[string]any{"type": "string"},
			"customer_name":  map[string]any{"type": "string"},
			"customer_phone": map[string]any{"type": "string"},
		}),
	},
	ToolCreatePaymentLink: {
		Description: "Create a payment link for the completed quote and text it to the caller.",
		Parameters:  objectSchema(nil, map[string]any{}),
	},
	ToolEscalateToHuman: {
		Description: "Escalate the call to a human at the business.",
		Parameters: objectSchema([]string{"reason"}, map[string]any{
			"reason":       map[string]any{"type": "string"},
			"caller_phone": map[string]any{"type": "string"},
		}),
	},
	ToolAnswerFAQ: {
		Description: "Look up the business's answer to a common question.",
		Parameters: objectSchema([]string{"question"}, map[string]any{
			"question": map[string]any{"type": "string"},
		}),
	},
}

// DescriptorFor returns the descriptor for a known tool.
func DescriptorFor(name ToolName) (ToolDescriptor, bool) {
	d, ok := toolCatalog[name]
	if !ok {
		return ToolDescriptor{}, false
	}
	d.Type = "function"
	d.Name = name
	return d, true
}

// ToolArgs is implemented by every tool's argument variant.
type ToolArgs interface {
	Tool() ToolName
	Validate() error
}

type StartQuoteArgs struct {
	ServiceIDs []string `json:"service_ids"`
}

func (StartQuoteArgs) Tool() ToolName { return ToolStartQuote }
func (StartQuoteArgs) Validate() error { return nil }

type AnswerQuoteArgs struct {
	Answer string `json:"answer"`
}

func (AnswerQuoteArgs) Tool() ToolName { return ToolAnswerQuoteQuestion }

func (a AnswerQuoteArgs) Validate() error {
	if strings.TrimSpace(a.Answer) == "" {
		return &ErrValidation{Field: "answer", Message: "is required"}
	}
	return nil
}

type CheckAvailabilityArgs struct {
	Date string `json:"date"`
}

func (CheckAvailabilityArgs) Tool() ToolName { return ToolCheckAvailability }

func (a CheckAvailabilityArgs) Validate() error {
	if _, err := time.Parse(time.DateOnly, a.Date); err != nil {
		return &ErrValidation{Field: "date", Message: "must be YYYY-MM-DD"}
	}
	return nil
}

type BookSlotArgs struct {
	SlotID        string `json:"slot_id"`
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone,omitempty"`
}

func (BookSlotArgs) Tool() ToolName { return ToolBookSlot }

func (a BookSlotArgs) Validate() error {
	if strings.TrimSpace(a.SlotID) == "" {
		return &ErrValidation{Field: "slot_id", Message: "is required"}
	}
	if strings.TrimSpace(a.CustomerName) == "" {
		return &ErrValidation{Field: "customer_name", Message: "is required"}
	}
	return nil
}

type PaymentLinkArgs struct{}

func (PaymentLinkArgs) Tool() ToolName { return ToolCreatePaymentLink }
func (PaymentLinkArgs) Validate() error { return nil }

type EscalateArgs struct {
	Reason      string `json:"reason"`
	CallerPhone string `json:"caller_phone,omitempty"`
}

func (EscalateArgs) Tool() ToolName { return ToolEscalateToHuman }

func (a EscalateArgs) Validate() error {
	if strings.TrimSpace(a.Reason) == "" {
		return &ErrValidation{Field: "reason", Message: "is required"}
	}
	return nil
}

type AnswerFAQArgs struct {
	Question string `json:"question"`
}

func (AnswerFAQArgs) Tool() ToolName { return ToolAnswerFAQ }

func (a AnswerFAQArgs) Validate() error {
	if strings.TrimSpace(a.Question) == "" {
		return &ErrValidation{Field: "question", Message: "is required"}
	}
	return nil
}

// DecodeToolArgs parses and validates raw arguments into the variant for
// the named tool. Unknown fields are rejected.
func DecodeToolArgs(name ToolName, raw json.RawMessage) (ToolArgs, error) {
	var args ToolArgs
	switch name {
	case ToolStartQuote:
		args = &StartQuoteArgs{}
	case ToolAnswerQuoteQuestion:
		args = &AnswerQuoteArgs{}
	case ToolCheckAvailability:
		args = &CheckAvailabilityArgs{}
	case ToolBookSlot:
		args = &BookSlotArgs{}
	case ToolCreatePaymentLink:
		args = &PaymentLinkArgs{}
	case ToolEscalateToHuman:
		args = &EscalateArgs{}
	case ToolAnswerFAQ:
		args = &AnswerFAQArgs{}
	default:
		return nil, &ErrValidation{Field: "name", Message: fmt.Sprintf("unknown tool %q", name)}
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(args); err != nil {
		return nil, &ErrValidation{Field: "arguments", Message: err.Error()}
	}
	if err := args.Validate(); err != nil {
		return nil, err
	}
	return args, nil
}

// ToolResult is the output sent back to the dialogue for one invocation.
type ToolResult struct {
	ToolCallID string   `json:"tool_call_id"`
	Tool       ToolName `json:"tool"`
	Output     any      `json:"output,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// JSON renders the result body the way the upstream expects function
// call output: a JSON string.
func (r ToolResult) JSON() string {
	body := map[string]any{}
	if r.Output != nil {
		body["result"] = r.Output
	}
	if r.Error != "" {
		body["error"] = r.Error
	}
	b, err := json.Marshal(body)
	if err != nil {
		return `{"error":"unencodable tool output"}`
	}
	return string(b)
}
