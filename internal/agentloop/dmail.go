package agentloop

import (
	"fmt"
	"sync"
)

// DMail is a pending checkpoint-rewind request: the next step reverts the
// context to CheckpointID and injects Message as a fresh system note.
type DMail struct {
	CheckpointID int
	Message      string
}

// DMailBox holds at most one pending D-Mail per turn. The SendDMail tool
// (in the toollib package) writes to it via Send after validating
// CheckpointID against the live context's checkpoint range; the agent
// loop drains it at the end of each step via Take.
type DMailBox struct {
	mu      sync.Mutex
	pending *DMail
}

// NewDMailBox creates an empty box.
func NewDMailBox() *DMailBox {
	return &DMailBox{}
}

// Send enqueues d, failing if one is already pending — only one D-Mail
// may be pending at a time.
func (b *DMailBox) Send(d DMail) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending != nil {
		return fmt.Errorf("agentloop: a D-Mail is already pending for this turn")
	}
	cp := d
	b.pending = &cp
	return nil
}

// Take returns the pending D-Mail, if any, and clears it.
func (b *DMailBox) Take() (DMail, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == nil {
		return DMail{}, false
	}
	d := *b.pending
	b.pending = nil
	return d, true
}

// Clear discards any pending D-Mail without returning it — used when a
// step ends in tool rejection (a rejection discards any pending D-Mail)
// and at the start of every new turn.
func (b *DMailBox) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = nil
}
