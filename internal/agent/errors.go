package agent

import "fmt"

// BackendError wraps a failure from the model backend. The turn is
// over; the conversation history is left as it was before the call.
type BackendError struct {
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("error talking to model backend: %v", e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// MalformedResponseError reports a backend reply the loop cannot act
// on, such as a tool invocation with no tool name.
type MalformedResponseError struct {
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return "malformed model response: " + e.Reason
}

// StructuredOutputError reports that a structured-output turn ended
// with text that is not valid JSON.
type StructuredOutputError struct {
	Raw string
	Err error
}

func (e *StructuredOutputError) Error() string {
	return fmt.Sprintf("model output is not valid JSON: %v", e.Err)
}

func (e *StructuredOutputError) Unwrap() error { return e.Err }
