// Package protocol defines the WebSocket messages exchanged with status clients.
package protocol

import (
	"encoding/json"
	"time"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// TypeStatus is pushed by the server after every lifecycle transition
	TypeStatus MessageType = "status"

	// TypeStatusRequest is sent by a client to get the current status
	TypeStatusRequest MessageType = "status_req"

	// TypeCommand is sent by a client to run a lifecycle operation
	TypeCommand MessageType = "command"

	// TypeError reports a failed command back to the client
	TypeError MessageType = "error"

	// TypePing can be used for application-level heartbeats if needed
	TypePing MessageType = "ping"
)

// Commands accepted in a CommandPayload
const (
	CommandStart     = "start"
	CommandStop      = "stop"
	CommandPause     = "pause"
	CommandResume    = "resume"
	CommandStopAll   = "stop_all"
	CommandPauseAll  = "pause_all"
	CommandResumeAll = "resume_all"
)

// Message is the generic container for all WebSocket messages
type Message struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// ProfileState is the run state of one started profile
type ProfileState struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at"`
}

// StatusPayload is the payload for TypeStatus
type StatusPayload struct {
	State     string         `json:"state"`
	Running   int            `json:"running"`
	Profiles  []ProfileState `json:"profiles"`
	Timestamp int64          `json:"timestamp"`
}

// CommandPayload is the payload for TypeCommand
type CommandPayload struct {
	Action    string `json:"action"`
	ProfileID string `json:"profile_id,omitempty"`
}

// ErrorPayload is the payload for TypeError
type ErrorPayload struct {
	Message string `json:"message"`
}

// DecodePayload re-decodes a generic payload into out
func DecodePayload(payload interface{}, out interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
