// Package proto defines the TonConnect wire contract shared by the
// page-facing bridge and the privileged wallet side: events, requests,
// responses and the protocol error code enumeration.
package proto

import "encoding/json"

// Version is the highest protocol version this implementation speaks.
const Version = 2

// Bridge-originated call names carried over the transport.
const (
	MethodConnect    = "connect"
	MethodReconnect  = "reconnect"
	MethodDisconnect = "disconnect"
	MethodDeactivate = "deactivate"
)

// Wallet method names a dapp may invoke through Send.
const (
	MethodSendTransaction = "sendTransaction"
	MethodSignData        = "signData"
)

// Event names observed by bridge listeners.
const (
	EventConnect      = "connect"
	EventConnectError = "connect_error"
	EventDisconnect   = "disconnect"
)

// ErrorCode enumerates TonConnect protocol error codes. The numeric values
// are part of the wire contract and must not change.
type ErrorCode int

const (
	CodeUnknown              ErrorCode = 0
	CodeBadRequest           ErrorCode = 1
	CodeManifestNotFound     ErrorCode = 2
	CodeManifestContentError ErrorCode = 3
	CodeUnknownApp           ErrorCode = 100
	CodeUserDeclined         ErrorCode = 300
	CodeMethodNotSupported   ErrorCode = 400
)

// Error is the structured error payload used by connect_error events and
// wallet responses.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Event is the tagged union delivered to bridge listeners and returned by
// connect/reconnect. Payload shape depends on Event:
//   - "connect": ConnectPayload
//   - "connect_error": Error
//   - "disconnect": empty object
type Event struct {
	Event   string          `json:"event"`
	ID      int64           `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// NewConnectError builds a locally synthesized connect_error event.
func NewConnectError(id int64, code ErrorCode, message string) Event {
	b, _ := json.Marshal(Error{Code: code, Message: message})
	return Event{Event: EventConnectError, ID: id, Payload: b}
}

// NewDisconnect builds a disconnect event with an empty payload.
func NewDisconnect(id int64) Event {
	return Event{Event: EventDisconnect, ID: id, Payload: json.RawMessage(`{}`)}
}

// ConnectRequest is the application-supplied connection request. It is sent
// once per connection attempt and never mutated after send.
type ConnectRequest struct {
	ManifestURL string        `json:"manifestUrl"`
	Items       []ConnectItem `json:"items"`
}

// Connect item names.
const (
	ItemTonAddr  = "ton_addr"
	ItemTonProof = "ton_proof"
)

// ConnectItem is a capability requested by the dapp.
type ConnectItem struct {
	Name    string `json:"name"`
	Payload string `json:"payload,omitempty"`
}

// ConnectItemReply answers one requested item. Exactly one of the value
// fields or Error is populated depending on the item name.
type ConnectItemReply struct {
	Name            string    `json:"name"`
	Address         string    `json:"address,omitempty"`
	Network         string    `json:"network,omitempty"`
	WalletStateInit string    `json:"walletStateInit,omitempty"`
	PublicKey       string    `json:"publicKey,omitempty"`
	Proof           *TonProof `json:"proof,omitempty"`
	Error           *Error    `json:"error,omitempty"`
}

// TonProof carries the wallet's signature over the dapp's challenge.
type TonProof struct {
	Timestamp int64  `json:"timestamp"`
	Domain    string `json:"domain"`
	Signature string `json:"signature"`
	Payload   string `json:"payload"`
}

// ConnectPayload is the payload of a successful connect event. Device is
// always overwritten by the bridge with a freshly computed descriptor.
type ConnectPayload struct {
	Items  []ConnectItemReply `json:"items"`
	Device DeviceInfo         `json:"device"`
}

// AppRequest is an arbitrary wallet method invocation forwarded by Send.
type AppRequest struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params,omitempty"`
	ID     int64             `json:"id"`
}

// WalletResponse is the reply to an AppRequest: either Result or Error is
// set, and ID always echoes the request id.
type WalletResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
	ID     int64           `json:"id"`
}

// NewUnknownResponse builds the fallback response for a request the
// transport produced no reply for. It carries the original request id.
func NewUnknownResponse(id int64) WalletResponse {
	return WalletResponse{Error: &Error{Code: CodeUnknown, Message: "Unknown error"}, ID: id}
}
