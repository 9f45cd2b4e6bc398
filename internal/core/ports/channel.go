package ports

import "telecare/internal/core/domain"

// Connection is one live endpoint of the bidirectional event channel. Deliver
// serializes writes internally; it is safe to call from concurrent handlers.
type Connection interface {
	ID() domain.ConnectionID
	Deliver(event string, payload interface{}) error
}

// PresenceRegistry maps logical identities to their live connections so
// events can be routed without broadcasting.
//
// Join is idempotent. Send fans out to every connection currently associated
// with the identity and is a silent no-op when there is none: an offline
// recipient is not an error, persistence is the delivery fallback. Leave
// removes every association of a connection and is called exactly once, on
// transport teardown.
type PresenceRegistry interface {
	Join(conn Connection, identity domain.Identity)
	Send(identity domain.Identity, event string, payload interface{}) int
	Leave(id domain.ConnectionID)
	Connections(identity domain.Identity) int
}
