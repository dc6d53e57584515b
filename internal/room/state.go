package room

import (
	"errors"
	"fmt"

	"github.com/samber/lo"
)

var ErrInconsistent = errors.New("room: registry and directory disagree")

// State pairs the registry with the directory. Every membership change goes
// through both so that they never disagree.
type State struct {
	Registry  *Registry
	Directory *Directory
}

func NewState() *State {
	return &State{Registry: NewRegistry(), Directory: NewDirectory()}
}

// ParticipantIDs maps conns to their registered participant IDs, keeping
// order. Unregistered conns are skipped.
func (s *State) ParticipantIDs(conns []ConnID) []string {
	return lo.FilterMap(conns, func(c ConnID, _ int) (string, bool) {
		id, ok := s.Registry.Lookup(c)
		return id.ParticipantID, ok
	})
}

// Check verifies that every registered connection is a member of exactly the
// room it registered for, and that every room member is registered for that
// room.
func (s *State) Check() error {
	members := 0
	for roomID, conns := range s.Directory.rooms {
		if len(conns) == 0 {
			return fmt.Errorf("%w: room %q is empty but still listed", ErrInconsistent, roomID)
		}
		if len(lo.Uniq(conns)) != len(conns) {
			return fmt.Errorf("%w: room %q lists a connection twice", ErrInconsistent, roomID)
		}
		for _, conn := range conns {
			id, ok := s.Registry.Lookup(conn)
			if !ok {
				return fmt.Errorf("%w: %s is in room %q but not registered", ErrInconsistent, conn, roomID)
			}
			if id.RoomID != roomID {
				return fmt.Errorf("%w: %s is in room %q but registered for %q", ErrInconsistent, conn, roomID, id.RoomID)
			}
		}
		members += len(conns)
	}
	if members != s.Registry.Len() {
		return fmt.Errorf("%w: %d registered connections, %d room members", ErrInconsistent, s.Registry.Len(), members)
	}
	return nil
}
