package ws

import "encoding/json"

// Server-to-client message types.
const (
	MsgHello     = "hello"     // sent once on connect, carries device identity
	MsgPushState = "pushState" // full system state, both snapshot and delta
	MsgNotify    = "notify"    // side-channel pass-through, not part of state
	MsgError     = "error"     // command rejection for the issuing client
)

// Client-to-server command types.
const (
	CmdSetSource        = "setSource"
	CmdDisconnectSource = "disconnectSource"
	CmdSetVolume        = "setVolume"
	CmdSetOutputMode    = "setOutputMode"
	CmdSetEqualizer     = "setEqualizer"
	CmdGetState         = "getState"
)

// ServerMessage is the envelope for everything the hub sends.
type ServerMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Command is the envelope for client requests. Unused fields are omitted
// per command type; acknowledgement arrives as the next pushState, errors
// as an error message to the issuing client only.
type Command struct {
	Type    string `json:"type"`
	Source  string `json:"source,omitempty"`
	Volume  *int   `json:"volume,omitempty"`
	Mode    string `json:"mode,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// NotifyPayload is the shape of side-channel notifications multiplexed on
// the state transport. The hub forwards these verbatim.
type NotifyPayload struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}
