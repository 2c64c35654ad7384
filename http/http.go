// Package http talks to the Lucid relay server: device registration,
// session refresh, link tokens and transaction submission.
package http

import (
	"encoding/json"
	"fmt"
)

// Relay server endpoints
const (
	PathRegisterDevice = "/register_device"
	PathRefreshSession = "/refresh_session"
	PathLinkToken      = "/link_token"
	PathRequest        = "/request"
)

// DeviceTypeInitiator identifies a browser that originates transactions
const DeviceTypeInitiator = "initiator"

// Notification is the push notification text the relay forwards to the
// paired phone
type Notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// DefaultNotification is sent with every submission
var DefaultNotification = Notification{
	Title:   "Trying to sign a transaction?",
	Message: "A new transaction was detected from your laptop, verify it on Lucid !",
}

// SubmitRequest is the body of POST /request
type SubmitRequest struct {
	RequestType  string       `json:"request_type"`
	Content      string       `json:"content"`
	Notification Notification `json:"notification"`
}

// RegisterDeviceRequest is the body of POST /register_device
type RegisterDeviceRequest struct {
	DeviceName string `json:"device_name"`
	DeviceType string `json:"device_type"`
}

// DeviceSession is the data member of an auth response
type DeviceSession struct {
	DeviceID   string `json:"device_id"`
	DeviceType string `json:"device_type"`
	JWT        string `json:"jwt"`
}

// AuthResponse is returned by register_device and refresh_session
type AuthResponse struct {
	Status string        `json:"status"`
	Data   DeviceSession `json:"data"`
}

// LinkTokenResponse is returned by link_token
type LinkTokenResponse struct {
	Status string `json:"status"`
	Data   string `json:"data"`
}

// ServerError is a non-2xx answer from the relay server. Data holds the
// parsed JSON body, or the raw text as a JSON string.
type ServerError struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("Server error: %d", e.Status)
}
