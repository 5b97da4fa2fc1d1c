package tools

import "fmt"

// ErrorKind classifies expected tool failures. These are data, not faults:
// the coordinator turns them into error results and the interaction keeps
// going.
type ErrorKind string

const (
	ErrorKindUnknownTool       ErrorKind = "unknown_tool"
	ErrorKindInvalidArguments  ErrorKind = "invalid_arguments"
	ErrorKindNeedsConfirmation ErrorKind = "needs_confirmation"
	ErrorKindDenied            ErrorKind = "denied"
	ErrorKindNotFound          ErrorKind = "not_found"
	ErrorKindExecution         ErrorKind = "execution_error"
	ErrorKindPanic             ErrorKind = "panic"
	ErrorKindCanceled          ErrorKind = "canceled"
)

// Machine codes paired with the kinds above, in the JSON-RPC error range
// so protocol front ends can forward them unchanged.
const (
	CodeExecutionError    = -32000
	CodeNeedsConfirmation = -32001
	CodeCanceled          = -32002
	CodeInternalPanic     = -32003
	CodeNotFound          = -32004
	CodeDenied            = -32005
	CodeUnknownTool       = -32601
	CodeInvalidArguments  = -32602
)

// ToolError is a structured tool failure: a kind for dispatch, a machine
// code for protocol layers, and a human message for the model and UI.
type ToolError struct {
	Kind    ErrorKind `json:"kind"`
	Code    int       `json:"code"`
	Message string    `json:"message"`
}

var _ error = (*ToolError)(nil)

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Errorf builds a ToolError with a formatted message.
func Errorf(kind ErrorKind, code int, format string, args ...any) *ToolError {
	return &ToolError{
		Kind:    kind,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}
