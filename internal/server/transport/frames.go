// Package transport implements the websocket session layer: one session per
// connected peer, a hub keyed by peer id, and the JSON frame protocol used
// for presence signaling, live file pushes and queue notifications.
package transport

// Frame types exchanged over a peer session.
const (
	// FrameHello registers the peer's identity and flips it online.
	FrameHello = "hello"
	// FrameHeartbeat refreshes liveness; it never creates identity.
	FrameHeartbeat = "heartbeat"
	// FrameBye is a clean goodbye before disconnecting.
	FrameBye = "bye"
	// FrameFile carries a live file payload. Client to server it is a send
	// request; server to client it is the delivery push.
	FrameFile = "file"
	// FrameFileAck acknowledges a FrameFile with the same id.
	FrameFileAck = "file_ack"
	// FrameTransferReady notifies a receiver about a queued transfer.
	FrameTransferReady = "transfer_ready"
	// FrameError reports a per-frame failure back to the client.
	FrameError = "error"
)

// Frame is the single wire envelope; unused fields are omitted per type.
// []byte payloads travel base64-encoded by encoding/json.
type Frame struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	// hello
	PeerID      string `json:"peer_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Contact     string `json:"contact,omitempty"`

	// file
	SenderID   string `json:"sender_id,omitempty"`
	SenderName string `json:"sender_name,omitempty"`
	ReceiverID string `json:"receiver_id,omitempty"`
	FileName   string `json:"file_name,omitempty"`
	FileSize   int64  `json:"file_size,omitempty"`
	Data       []byte `json:"data,omitempty"`

	// file_ack and error reporting
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`

	// transfer_ready
	TransferID string `json:"transfer_id,omitempty"`
	BlobKey    string `json:"blob_key,omitempty"`
	BlobURL    string `json:"blob_url,omitempty"`
}
