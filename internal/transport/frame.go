// Package transport carries bridge traffic between the dapp host and the
// privileged wallet daemon over a websocket, correlating requests to
// responses by frame id.
package transport

import "encoding/json"

// FrameType tags the direction and kind of a frame.
type FrameType string

const (
	// TypeRegister is the first frame on a connection and identifies the
	// dapp host to the daemon.
	TypeRegister FrameType = "register"
	// TypeRequest carries a named bridge call with positional arguments.
	TypeRequest FrameType = "request"
	// TypeResponse answers a request with the same id.
	TypeResponse FrameType = "response"
	// TypeEvent is a wallet-initiated push (e.g. disconnect); it has no id.
	TypeEvent FrameType = "event"
	// TypePing is a liveness probe; receivers may ignore it.
	TypePing FrameType = "ping"
)

// Frame is the wire unit exchanged on the bridge websocket.
type Frame struct {
	Type    FrameType         `json:"type"`
	ID      string            `json:"id,omitempty"`
	Name    string            `json:"name,omitempty"`
	Args    []json.RawMessage `json:"args,omitempty"`
	Payload json.RawMessage   `json:"payload,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// Register is the payload of a TypeRegister frame.
type Register struct {
	ClientID   string `json:"client_id,omitempty"`
	ClientName string `json:"client_name,omitempty"`
}
