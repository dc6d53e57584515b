package room

import (
	"sort"

	"github.com/samber/lo"
)

// Directory maps room IDs to their members in join order. A room exists only
// while it has at least one member.
type Directory struct {
	rooms map[string][]ConnID
}

func NewDirectory() *Directory {
	return &Directory{rooms: make(map[string][]ConnID)}
}

// Join adds conn to roomID, creating the room on first use. Joining a room
// the connection is already in does nothing.
func (d *Directory) Join(roomID string, conn ConnID) {
	members := d.rooms[roomID]
	if lo.Contains(members, conn) {
		return
	}
	d.rooms[roomID] = append(members, conn)
}

// Leave removes conn from roomID and deletes the room once it is empty.
func (d *Directory) Leave(roomID string, conn ConnID) {
	members, ok := d.rooms[roomID]
	if !ok {
		return
	}
	remaining := lo.Without(members, conn)
	if len(remaining) == 0 {
		delete(d.rooms, roomID)
		return
	}
	d.rooms[roomID] = remaining
}

// MembersExcept returns every member of roomID other than conn, in join
// order. The result is a fresh slice owned by the caller.
func (d *Directory) MembersExcept(roomID string, conn ConnID) []ConnID {
	return lo.Without(d.rooms[roomID], conn)
}

// Resolve finds the member of roomID whose registered identity carries
// participantID. When several members share the ID, the earliest joined wins.
func (d *Directory) Resolve(reg *Registry, roomID, participantID string) (ConnID, bool) {
	for _, conn := range d.rooms[roomID] {
		id, ok := reg.Lookup(conn)
		if ok && id.RoomID == roomID && id.ParticipantID == participantID {
			return conn, true
		}
	}
	return ConnID{}, false
}

func (d *Directory) Has(roomID string) bool {
	_, ok := d.rooms[roomID]
	return ok
}

// Size returns the number of members in roomID (0 when the room is absent).
func (d *Directory) Size(roomID string) int { return len(d.rooms[roomID]) }

// Len returns the number of live rooms.
func (d *Directory) Len() int { return len(d.rooms) }

// Rooms returns the live room IDs sorted lexically.
func (d *Directory) Rooms() []string {
	ids := lo.Keys(d.rooms)
	sort.Strings(ids)
	return ids
}
