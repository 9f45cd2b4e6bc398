package signal

import (
	"sync"

	"telecare/internal/core/domain"
	"telecare/internal/core/ports"

	"go.uber.org/zap"
)

// PresenceRegistry is the process-wide Identity -> live connections map.
// It owns no I/O: every operation is a pure map mutation or a fan-out of
// Deliver calls, so a single RWMutex is enough.
type PresenceRegistry struct {
	mu         sync.RWMutex
	byIdentity map[domain.Identity]map[domain.ConnectionID]ports.Connection
	byConn     map[domain.ConnectionID]map[domain.Identity]struct{}

	logger *zap.SugaredLogger
}

func NewPresenceRegistry(logger *zap.SugaredLogger) *PresenceRegistry {
	return &PresenceRegistry{
		byIdentity: make(map[domain.Identity]map[domain.ConnectionID]ports.Connection),
		byConn:     make(map[domain.ConnectionID]map[domain.Identity]struct{}),
		logger:     logger,
	}
}

// Join associates the connection with the identity. Joining the same pair
// twice is a no-op.
func (r *PresenceRegistry) Join(conn ports.Connection, identity domain.Identity) {
	if identity == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.byIdentity[identity]
	if !ok {
		conns = make(map[domain.ConnectionID]ports.Connection)
		r.byIdentity[identity] = conns
	}
	if _, joined := conns[conn.ID()]; joined {
		return
	}
	conns[conn.ID()] = conn

	identities, ok := r.byConn[conn.ID()]
	if !ok {
		identities = make(map[domain.Identity]struct{})
		r.byConn[conn.ID()] = identities
	}
	identities[identity] = struct{}{}

	r.logger.Infow("identity joined", "identity", identity, "connection_id", conn.ID())
}

// Send delivers the payload to every connection associated with the identity
// and returns how many connections it reached. Zero is not an error: an
// offline recipient falls back to persisted history.
func (r *PresenceRegistry) Send(identity domain.Identity, event string, payload interface{}) int {
	r.mu.RLock()
	conns := make([]ports.Connection, 0, len(r.byIdentity[identity]))
	for _, c := range r.byIdentity[identity] {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, c := range conns {
		if err := c.Deliver(event, payload); err != nil {
			r.logger.Warnw("event delivery failed",
				"event", event,
				"identity", identity,
				"connection_id", c.ID(),
				"error", err,
			)
			continue
		}
		delivered++
	}
	return delivered
}

// Leave removes every association of the connection. Called once, on
// transport teardown.
func (r *PresenceRegistry) Leave(id domain.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identities, ok := r.byConn[id]
	if !ok {
		return
	}
	delete(r.byConn, id)

	for identity := range identities {
		conns := r.byIdentity[identity]
		delete(conns, id)
		if len(conns) == 0 {
			delete(r.byIdentity, identity)
		}
	}

	r.logger.Infow("connection left", "connection_id", id, "identities", len(identities))
}

// Connections reports how many live connections the identity has.
func (r *PresenceRegistry) Connections(identity domain.Identity) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity[identity])
}

// Stats returns the number of live connections and distinct identities.
func (r *PresenceRegistry) Stats() (connections, identities int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn), len(r.byIdentity)
}
