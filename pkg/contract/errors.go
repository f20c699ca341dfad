package contract

import "fmt"

// KnownErrorTitle prefixes operator-facing known errors
const KnownErrorTitle = "Node Known Error"

// KnownError is an error with a stable code the control plane understands
type KnownError struct {
	Code             string `json:"code"`
	Message          string `json:"message"`
	DocumentationURL string `json:"documentationUrl,omitempty"`
}

func (e *KnownError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

var (
	// ErrInternal is reported for failures the node did not anticipate
	ErrInternal = &KnownError{
		Code:    "A001",
		Message: "Server error",
	}

	// ErrEngineFailedToStart is the known signature of a supervisor
	// spawn failure
	ErrEngineFailedToStart = &KnownError{
		Code:             "RN-001",
		Message:          "Xray core failed to start",
		DocumentationURL: "https://docs.rw/docs/guides/common-errors#xml-rpc-fault-spawn-error-xray",
	}
)
