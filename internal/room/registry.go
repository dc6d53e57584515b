// Package room holds the in-memory membership state of the signaling relay:
// which connection speaks for which participant, and which connections are
// currently in which room.
//
// None of the types in this package are safe for concurrent use. The
// signaling hub serializes every mutation behind its own lock so that the
// registry and the directory are always updated together.
package room

import "github.com/google/uuid"

// ConnID identifies a live transport connection. It is assigned when the
// connection is accepted and never reused.
type ConnID uuid.UUID

func NewConnID() ConnID { return ConnID(uuid.New()) }

func (c ConnID) String() string { return uuid.UUID(c).String() }

// Identity is what a connection claimed when it joined.
type Identity struct {
	ParticipantID string
	RoomID        string
}

// Registry maps connections to the identity they joined with.
type Registry struct {
	byConn map[ConnID]Identity
}

func NewRegistry() *Registry {
	return &Registry{byConn: make(map[ConnID]Identity)}
}

// Register inserts or overwrites the identity for conn.
func (r *Registry) Register(conn ConnID, id Identity) {
	r.byConn[conn] = id
}

func (r *Registry) Lookup(conn ConnID) (Identity, bool) {
	id, ok := r.byConn[conn]
	return id, ok
}

// Remove deletes conn and returns the identity it held. ok is false when conn
// was not registered, which lets callers treat repeated cleanup as a no-op.
func (r *Registry) Remove(conn ConnID) (Identity, bool) {
	id, ok := r.byConn[conn]
	if !ok {
		return Identity{}, false
	}
	delete(r.byConn, conn)
	return id, true
}

func (r *Registry) Len() int { return len(r.byConn) }
