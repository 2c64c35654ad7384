package relay

import (
	"encoding/json"
	"errors"
	"fmt"

	lucid "github.com/lucid-sec/lucid/go"
)

// ContextInvalidatedMessage is returned to the page once the isolated side
// has lost its runtime
const ContextInvalidatedMessage = "Extension context invalid - please refresh the page"

var (
	// ErrRelayTimeout is returned when no response arrives within the bound
	ErrRelayTimeout = errors.New("relay: timed out waiting for response")

	// ErrContextInvalidated is returned when the runtime behind the bridge
	// is gone. Retrying cannot succeed until the page reloads.
	ErrContextInvalidated = errors.New("relay: context invalidated")

	// ErrClosed is returned by calls on a closed client
	ErrClosed = errors.New("relay: client closed")
)

// RelayError is an error response from the other side
type RelayError struct {
	Type    MessageType     `json:"type"`
	Message string          `json:"message"`
	Status  int             `json:"status,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RelayError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Type, e.Message, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func timeoutError(t MessageType, err error) error {
	return lucid.NewPipelineError(lucid.ErrCodeRelayTimeout, fmt.Sprintf("no %s received in time", t), err)
}

// responseError turns an error response into a coded pipeline error
func responseError(resp Message) error {
	if resp.Code == lucid.ErrCodeContextInvalidated {
		return lucid.NewPipelineError(lucid.ErrCodeContextInvalidated, resp.Error, ErrContextInvalidated)
	}
	code := resp.Code
	if code == "" {
		code = lucid.ErrCodeRelay
	}
	return lucid.NewPipelineError(code, resp.Error, &RelayError{
		Type:    resp.Type,
		Message: resp.Error,
		Status:  resp.Status,
		Data:    resp.Data,
	})
}
