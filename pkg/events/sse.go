package events

import (
	"encoding/json"
	"fmt"
	"io"
)

// WriteSSE frames ev per spec.md §6: "event: <type>\ndata: <json>\n\n".
// Whichever typed payload field is non-nil on ev is what gets marshaled
// as data; callers pick the field via ev.Type before calling this, or
// just pass the Event through — Data picks the right one.
func WriteSSE(w io.Writer, ev Event) error {
	payload := ev.Data()
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("events: marshal %s payload: %w", ev.Type, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, body)
	return err
}

// Data returns the event's populated payload, whichever one that is.
func (e Event) Data() any {
	switch e.Type {
	case TypeWorkflowStatus:
		return e.Status
	case TypeAgentMessage:
		return e.Message
	case TypeWorkflowResult:
		return e.Result
	case TypeClarificationQuestion:
		return e.Question
	default:
		return nil
	}
}
