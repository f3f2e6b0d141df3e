package relay

// remoteMember is one controller's membership in a room.
type remoteMember struct {
	connID string
	slot   int
}

// room pairs at most one screen with up to two remotes. Rooms are created
// lazily on the first join that names them and destroyed when empty (or
// immediately when the screen departs). All access goes through the
// registry's lock.
type room struct {
	id      string
	screen  string // connection id, "" when absent
	remotes []remoteMember
}

const maxRemotes = 2

func (r *room) empty() bool {
	return r.screen == "" && len(r.remotes) == 0
}

// freeSlot returns the lowest slot in {1, 2} not held by a current remote,
// or 0 when the room is full. Slots are stable while held; a departed
// remote's slot becomes assignable again immediately.
func (r *room) freeSlot() int {
	for slot := 1; slot <= maxRemotes; slot++ {
		taken := false
		for _, m := range r.remotes {
			if m.slot == slot {
				taken = true
				break
			}
		}
		if !taken {
			return slot
		}
	}
	return 0
}

// slotOf returns the slot held by connID, or 0 if it is not a remote here.
func (r *room) slotOf(connID string) int {
	for _, m := range r.remotes {
		if m.connID == connID {
			return m.slot
		}
	}
	return 0
}

// slots lists the held player slots in join order.
func (r *room) slots() []int {
	out := make([]int, 0, len(r.remotes))
	for _, m := range r.remotes {
		out = append(out, m.slot)
	}
	return out
}

// members lists every connection in the room, screen first.
func (r *room) members() []string {
	out := make([]string, 0, len(r.remotes)+1)
	if r.screen != "" {
		out = append(out, r.screen)
	}
	for _, m := range r.remotes {
		out = append(out, m.connID)
	}
	return out
}

// removeRemote drops connID from the remote list, returning the vacated
// slot or 0 if connID was not a member.
func (r *room) removeRemote(connID string) int {
	for i, m := range r.remotes {
		if m.connID == connID {
			r.remotes = append(r.remotes[:i], r.remotes[i+1:]...)
			return m.slot
		}
	}
	return 0
}
