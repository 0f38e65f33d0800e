package policy

import (
	"math/rand/v2"

	"github.com/drpcorg/roomsync/api"
)

// Event is one event emitted during a call. To is empty for broadcasts.
type Event struct {
	Name string
	To   api.UserID
}

func (e Event) Broadcast() bool {
	return e.To == ""
}

// CallContext is the Context of a single call. It records emitted events
// for the caller to route after the call returns.
type CallContext struct {
	rnd    *rand.Rand
	now    int64
	events []Event
}

// NewContext seeds a PCG source with (seed, stream).
func NewContext(seed, stream uint64, now int64) *CallContext {
	return &CallContext{
		rnd: rand.New(rand.NewPCG(seed, stream)),
		now: now,
	}
}

func (c *CallContext) Rand() *rand.Rand {
	return c.rnd
}

func (c *CallContext) Time() int64 {
	return c.now
}

func (c *CallContext) SendEvent(event string, to api.UserID) {
	if to == "" {
		return
	}
	c.events = append(c.events, Event{Name: event, To: to})
}

func (c *CallContext) BroadcastEvent(event string) {
	c.events = append(c.events, Event{Name: event})
}

func (c *CallContext) Events() []Event {
	return c.events
}
