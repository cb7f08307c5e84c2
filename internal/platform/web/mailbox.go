package web

import (
	"sync"

	"github.com/timeprofiler/pkg/models"
)

// DefaultMailboxSize bounds how many undelivered responses a user keeps.
const DefaultMailboxSize = 50

// Mailbox buffers responses for web clients that poll for them. Each user's
// queue is bounded; the oldest response is dropped when it overflows.
type Mailbox struct {
	mu    sync.Mutex
	size  int
	boxes map[string][]models.Response
}

func NewMailbox(size int) *Mailbox {
	if size <= 0 {
		size = DefaultMailboxSize
	}
	return &Mailbox{size: size, boxes: make(map[string][]models.Response)}
}

// Push appends resp to userID's queue and reports whether an older response
// had to be dropped.
func (m *Mailbox) Push(userID string, resp models.Response) (dropped bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	box := append(m.boxes[userID], resp)
	if len(box) > m.size {
		box = box[len(box)-m.size:]
		dropped = true
	}
	m.boxes[userID] = box
	return dropped
}

// Drain returns and clears userID's queued responses, oldest first.
func (m *Mailbox) Drain(userID string) []models.Response {
	m.mu.Lock()
	defer m.mu.Unlock()
	box := m.boxes[userID]
	delete(m.boxes, userID)
	if box == nil {
		return []models.Response{}
	}
	return box
}

// Pending returns the number of queued responses for userID.
func (m *Mailbox) Pending(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.boxes[userID])
}
