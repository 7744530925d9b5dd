package realtime

// presenceSet tracks the distinct identities currently connected to a room.
// It is a per-identity socket refcount rather than a plain counter: a second
// tab from the same identity neither raises the distinct count nor, on
// close, drops presence while the first tab remains. Owned by the room
// worker; not safe for concurrent use.
type presenceSet struct {
	sockets map[string]int
}

func newPresenceSet() *presenceSet {
	return &presenceSet{sockets: make(map[string]int)}
}

// Join records one more socket for identity and returns the distinct count.
func (p *presenceSet) Join(userID string) int {
	p.sockets[userID]++
	return len(p.sockets)
}

// Leave releases one socket for identity and returns the distinct count.
func (p *presenceSet) Leave(userID string) int {
	if n, ok := p.sockets[userID]; ok {
		if n <= 1 {
			delete(p.sockets, userID)
		} else {
			p.sockets[userID] = n - 1
		}
	}
	return len(p.sockets)
}

// Count returns the number of distinct connected identities.
func (p *presenceSet) Count() int { return len(p.sockets) }

// Present reports whether identity has at least one open socket.
func (p *presenceSet) Present(userID string) bool {
	return p.sockets[userID] > 0
}
