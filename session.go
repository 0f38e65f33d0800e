package roomsync

import (
	"sync"

	"github.com/cespare/xxhash"
	"github.com/drpcorg/roomsync/api"
	"github.com/drpcorg/roomsync/policy"
	"github.com/drpcorg/roomsync/schema"
)

// subscription is what one user was last sent.
type subscription struct {
	state     api.PlayerState
	changedAt int64
	messages  []api.Message
}

// Session is one room: the policy state, the number of calls it accepted
// and its subscribers. All access goes through mu; the policy runs under it.
type Session[S any] struct {
	mu    sync.Mutex
	id    uint64
	seed  uint64
	calls uint64
	state S

	// stamped by every handled call, cleared by ChangedAt
	changedAt int64
	// last stamp, kept as the baseline for new subscribers
	stampedAt int64

	subs map[api.UserID]*subscription
}

// SessionSeed derives the random seed of a session from its external name.
func SessionSeed(sessionID uint64) uint64 {
	return xxhash.Sum64String(api.FormatSessionID(sessionID))
}

func newSession[S any](id uint64, state S, now int64) *Session[S] {
	return &Session[S]{
		id:        id,
		seed:      SessionSeed(id),
		state:     state,
		stampedAt: now,
		subs:      make(map[api.UserID]*subscription),
	}
}

func (s *Session[S]) ID() uint64 {
	return s.id
}

// ChangedAt returns the time of the latest call since the previous
// ChangedAt and clears it. Zero means nothing happened.
func (s *Session[S]) ChangedAt() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.takeChangedAt()
}

func (s *Session[S]) takeChangedAt() int64 {
	at := s.changedAt
	s.changedAt = 0
	return at
}

func (s *Session[S]) stamp(now int64) {
	s.changedAt = now
	s.stampedAt = now
}

func (s *Session[S]) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// subscribe (re)registers userID and returns its snapshot frame. The user
// state is returned too, for reporting a failed encoding.
func (s *Session[S]) subscribe(p policy.Policy[S], userID api.UserID) ([]byte, api.PlayerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	us := p.UserState(s.state, userID).Clone()
	frame, err := api.EncodeStateSnapshot(us)
	if err != nil {
		return nil, us, err
	}
	s.subs[userID] = &subscription{state: us, changedAt: s.stampedAt}
	return frame, us, nil
}

// unsubscribe reports how many subscribers remain.
func (s *Session[S]) unsubscribe(userID api.UserID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, userID)
	return len(s.subs)
}

type callResult struct {
	seq      uint64
	response api.Response
	err      error
}

// handle runs one call. A call that reaches the policy consumes the next
// sequence number and stamps the session; record persists it before the
// response is queued.
func (s *Session[S]) handle(p policy.Policy[S], userID api.UserID, method api.Method, msgID uint32, args []byte, now int64, record func(seq uint64) error) callResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.calls + 1
	ctx := policy.NewContext(s.seed, seq, now)
	resp, err := policy.Handle(p, &s.state, userID, ctx, method, args)
	if err != nil {
		s.queue(userID, api.ResponseMessage(msgID, api.ErrorResponse("Invalid request")))
		return callResult{err: err}
	}
	s.calls = seq
	s.stamp(now)
	res := callResult{seq: seq, response: resp}
	if record != nil {
		res.err = record(seq)
	}

	s.queue(userID, api.ResponseMessage(msgID, resp))
	for _, ev := range ctx.Events() {
		if ev.Broadcast() {
			for uid := range s.subs {
				s.queue(uid, api.EventMessage(ev.Name))
			}
		} else {
			s.queue(ev.To, api.EventMessage(ev.Name))
		}
	}
	return res
}

// replay re-runs a journaled call. Responses and events have no audience.
func (s *Session[S]) replay(p policy.Policy[S], userID api.UserID, method api.Method, args []byte, at int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.calls + 1
	ctx := policy.NewContext(s.seed, seq, at)
	if _, err := policy.Handle(p, &s.state, userID, ctx, method, args); err != nil {
		return err
	}
	s.calls = seq
	s.stampedAt = at
	return nil
}

func (s *Session[S]) queue(userID api.UserID, msg api.Message) {
	if sub, ok := s.subs[userID]; ok {
		sub.messages = append(sub.messages, msg)
	}
}

type update struct {
	userID api.UserID
	frame  []byte
}

type encodeFailure struct {
	userID api.UserID
	state  api.PlayerState
	err    error
}

// collect builds the update frames of one broadcast round. A subscriber
// gets a frame when its view changed or messages are pending.
func (s *Session[S]) collect(p policy.Policy[S]) (updates []update, failures []encodeFailure) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changedAt := s.takeChangedAt()
	for uid, sub := range s.subs {
		var us api.PlayerState
		d := schema.Unchanged[api.PlayerStateDiff]()
		if changedAt != 0 {
			us = p.UserState(s.state, uid).Clone()
			d = api.ComputeDiff(us, sub.state)
		}
		if !d.IsChanged() && len(sub.messages) == 0 {
			continue
		}

		var inc uint64
		if d.IsChanged() && changedAt > sub.changedAt {
			inc = uint64(changedAt - sub.changedAt)
		}
		frame, err := api.EncodeStateUpdate(d, inc, sub.messages)
		sub.messages = nil
		if err != nil {
			failures = append(failures, encodeFailure{userID: uid, state: us, err: err})
			continue
		}
		if d.IsChanged() {
			sub.state = us
			sub.changedAt = changedAt
		}
		updates = append(updates, update{userID: uid, frame: frame})
	}
	return
}
