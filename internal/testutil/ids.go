package testutil

import (
	"fmt"
	"sync"
	"time"
)

// FixedTime is the instant every test repository is created at.
var FixedTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// StubClock is an okm.Clock that always returns the same instant.
type StubClock struct {
	now time.Time
}

// FixedClock returns a StubClock stopped at FixedTime.
func FixedClock() *StubClock {
	return &StubClock{now: FixedTime}
}

func (c *StubClock) Now() time.Time { return c.now }

// SeqIDs is an okm.IDGenerator handing out UUID-shaped sequential IDs, so
// node UUIDs in test output are predictable.
type SeqIDs struct {
	mu sync.Mutex
	n  int
}

func NewSeqIDs() *SeqIDs {
	return &SeqIDs{}
}

func (g *SeqIDs) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("00000000-0000-4000-8000-%012d", g.n)
}
