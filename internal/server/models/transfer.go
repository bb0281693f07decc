package models

import "time"

// Transfer statuses. Transitions are monotonic: ready → delivered.
const (
	TransferStatusReady     = "ready"
	TransferStatusDelivered = "delivered"
)

// Transfer is a durable description of a file staged in the blob store for
// asynchronous pickup by its receiver. A record is only created after the
// blob upload has completed, so BlobKey always resolves.
type Transfer struct {
	// ID is the generated transfer identifier.
	ID string
	// SenderID and SenderName identify the staging peer.
	SenderID   string
	SenderName string
	// ReceiverID is the only peer allowed to mark the transfer delivered.
	ReceiverID string
	// BlobKey is the object-storage key of the staged payload.
	BlobKey string
	// FileName and FileSize describe the original file.
	FileName string
	FileSize int64
	// Status is "ready" or "delivered".
	Status string

	CreatedAt time.Time
	ReadyAt   time.Time
	// DeliveredAt is set exactly once, by the receiver's acknowledgment.
	DeliveredAt *time.Time
	// NotifiedAt marks completion of the reconciler's ready-notification
	// side effect. It is not part of the status machine.
	NotifiedAt *time.Time
}
