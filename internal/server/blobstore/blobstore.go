// Package blobstore wraps the external S3-compatible object store used to
// stage transfer payloads for offline receivers.
package blobstore

import "context"

// Store uploads payloads and hands out time-limited download URLs. It keeps
// no internal state; a storage key returned by Upload is stable and must be
// durably written before any transfer record references it.
type Store interface {
	// Upload writes data under key. The call blocks until the object is
	// durably stored or ctx expires.
	Upload(ctx context.Context, key string, data []byte) error

	// PresignGetURL returns a temporary URL a receiver can GET to fetch the
	// payload behind key.
	PresignGetURL(ctx context.Context, key string) (string, error)
}
