// Package relay carries requests from the page, which can observe wallet
// calls but holds no credentials, to the background, which holds them and
// may reach the network.
//
// The page side (Client) and the isolated side (Bridge) share a broadcast
// Bus. The Bridge forwards requests over a Runtime to the background
// (Broker). Every request carries a correlation id and every response
// echoes it.
package relay

import (
	"encoding/json"

	"github.com/lucid-sec/lucid/go/codec"
)

// MessageType tags a relay message
type MessageType string

// Message types
const (
	TypeGetAuthToken          MessageType = "GET_AUTH_TOKEN"
	TypeAuthTokenResponse     MessageType = "AUTH_TOKEN_RESPONSE"
	TypeGetEncryptionKey      MessageType = "GET_ENCRYPTION_KEY"
	TypeEncryptionKeyResponse MessageType = "ENCRYPTION_KEY_RESPONSE"
	TypeMakeAPIRequest        MessageType = "MAKE_API_REQUEST"
	TypeAPIRequestResponse    MessageType = "API_REQUEST_RESPONSE"
)

var responseTypes = map[MessageType]MessageType{
	TypeGetAuthToken:     TypeAuthTokenResponse,
	TypeGetEncryptionKey: TypeEncryptionKeyResponse,
	TypeMakeAPIRequest:   TypeAPIRequestResponse,
}

// ResponseType returns the response type answering a request type
func (t MessageType) ResponseType() (MessageType, bool) {
	r, ok := responseTypes[t]
	return r, ok
}

// IsRequest reports whether t is one of the request types
func (t MessageType) IsRequest() bool {
	_, ok := responseTypes[t]
	return ok
}

// IsResponse reports whether t is one of the response types
func (t MessageType) IsResponse() bool {
	for _, r := range responseTypes {
		if r == t {
			return true
		}
	}
	return false
}

// Message is the envelope exchanged on buses and runtimes. Only the fields
// relevant to its type are set.
type Message struct {
	Type MessageType `json:"type"`
	ID   string      `json:"id,omitempty"`

	// AUTH_TOKEN_RESPONSE
	Token string `json:"token,omitempty"`

	// ENCRYPTION_KEY_RESPONSE
	JWK *codec.Key `json:"jwk,omitempty"`

	// MAKE_API_REQUEST
	URL     string            `json:"url,omitempty"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`

	// API_REQUEST_RESPONSE
	Data   json.RawMessage `json:"data,omitempty"`
	Status int             `json:"status,omitempty"`

	// Any response
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

// Reply builds an empty response to m
func (m Message) Reply() Message {
	t, _ := m.Type.ResponseType()
	return Message{Type: t, ID: m.ID}
}

// Fail builds an error response to m
func (m Message) Fail(code, text string) Message {
	resp := m.Reply()
	resp.Code = code
	resp.Error = text
	return resp
}
