// Package models defines server-side data models persisted in the database.
package models

import "time"

// Peer presence statuses as stored. Note that the stored status alone does
// not imply reachability: a reader must also check that LastHeartbeat is
// within the configured staleness window.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// PeerPresence describes the last known liveness state of a peer.
type PeerPresence struct {
	// PeerID is the stable peer identifier (unique key).
	PeerID string
	// DisplayName is the human-readable name announced by the peer.
	DisplayName string
	// Contact is the peer's contact address.
	Contact string
	// Status is the stored status, "online" or "offline".
	Status string
	// LastHeartbeat is refreshed on every heartbeat and status change.
	LastHeartbeat time.Time
}

// ReachableAt reports whether the record counts as reachable at the given
// instant: stored status online and a heartbeat younger than window.
func (p *PeerPresence) ReachableAt(now time.Time, window time.Duration) bool {
	return p.Status == StatusOnline && now.Sub(p.LastHeartbeat) < window
}
