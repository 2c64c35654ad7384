package lucid

import (
	"errors"
	"fmt"
)

// PipelineError is a failure of the observation pipeline. It is always
// absorbed at the pipeline boundary and never reaches the wrapped call.
type PipelineError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Error codes
const (
	ErrCodeDiscovery          = "discovery_error"
	ErrCodeExtraction         = "extraction_error"
	ErrCodeEncryption         = "encryption_error"
	ErrCodeRelayTimeout       = "relay_timeout"
	ErrCodeRelay              = "relay_error"
	ErrCodeContextInvalidated = "context_invalidated"
)

// NewPipelineError creates a new pipeline error
func NewPipelineError(code, message string, err error) *PipelineError {
	return &PipelineError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewExtractionError reports an unsupported or malformed payload
func NewExtractionError(message string, err error) *PipelineError {
	return NewPipelineError(ErrCodeExtraction, message, err)
}

// NewEncryptionError reports a missing or invalid key record
func NewEncryptionError(message string, err error) *PipelineError {
	return NewPipelineError(ErrCodeEncryption, message, err)
}

// ErrorCode returns the pipeline error code carried by err, or "" if none
func ErrorCode(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

var (
	// ErrAlreadyInjected is returned by Start when the page already hosts a monitor
	ErrAlreadyInjected = errors.New("lucid: monitor already injected into this page")

	// ErrNotSigningMethod is returned when registering an extractor for a
	// method outside the signing method set
	ErrNotSigningMethod = errors.New("lucid: method is not a signing method")
)
