package ws

// Frame types sent by clients.
const (
	TypeChat   = "chat"
	TypeCancel = "cancel"
	TypePing   = "ping"
)

// Frame types sent by the server.
const (
	TypeFragment = "fragment"
	TypeDone     = "done"
	TypeError    = "error"
	TypePong     = "pong"
)

// Inbound is a client frame. Image is base64 without a data: prefix.
type Inbound struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Model     string `json:"model,omitempty"`
	Content   string `json:"content,omitempty"`
	Image     string `json:"image,omitempty"`
}

// Outbound is a server frame.
type Outbound struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Code    string `json:"code,omitempty"`
}
