// Package roomsync keeps authoritative room state on a server process and
// streams it to subscribed users as snapshots and minimal diffs.
//
// A Store holds sessions created and driven by the dispatcher commands
// (new state, subscribe, unsubscribe, handle update). Every call runs the
// policy under the session lock and stamps the session; every broadcast
// interval the Store diffs each subscriber's view against what that
// subscriber was last sent and pushes the update frame back through the
// dispatcher.
package roomsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/drpcorg/roomsync/api"
	"github.com/drpcorg/roomsync/bin"
	"github.com/drpcorg/roomsync/journal"
	"github.com/drpcorg/roomsync/policy"
	"github.com/drpcorg/roomsync/roomsync_errors"
	"github.com/drpcorg/roomsync/utils"
	lru "github.com/hashicorp/golang-lru/v2"
	pkgerrors "github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	DefaultBroadcastInterval = 50 * time.Millisecond
	DefaultIdleSessions      = 1024

	// upper bound of the journal expiry period
	EXPIRE_INTERVAL = time.Hour
)

// Pusher delivers server to dispatcher frames.
type Pusher interface {
	StateUpdate(sessionID uint64, userID api.UserID, data []byte)
	StateNotFound(sessionID uint64, userID api.UserID)
}

type nopPusher struct{}

func (nopPusher) StateUpdate(uint64, api.UserID, []byte) {}
func (nopPusher) StateNotFound(uint64, api.UserID)       {}

type Options struct {
	BroadcastInterval time.Duration
	// IdleSessions bounds the sessions without subscribers kept in memory.
	IdleSessions int
	// Journal persists sessions; without it an evicted session is gone.
	Journal *journal.Journal
	// Retention expires journaled sessions untouched for this long. Zero
	// keeps them forever.
	Retention time.Duration
	Clock     func() time.Time
}

type Store[S any] struct {
	log      utils.Logger
	policy   policy.Provider[S]
	journal   *journal.Journal
	retention time.Duration
	clock     func() time.Time
	interval  time.Duration

	pushMu sync.RWMutex
	pusher Pusher

	// guards moving sessions between active and idle
	mu       sync.Mutex
	sessions *xsync.MapOf[uint64, *Session[S]]
	idle     *lru.Cache[uint64, *Session[S]]
}

func NewStore[S any](log utils.Logger, p policy.Provider[S], opts Options) (*Store[S], error) {
	s := &Store[S]{
		log:       log,
		policy:    p,
		journal:   opts.Journal,
		retention: opts.Retention,
		clock:     opts.Clock,
		interval:  opts.BroadcastInterval,
		pusher:    nopPusher{},
		sessions:  xsync.NewMapOf[uint64, *Session[S]](),
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.interval <= 0 {
		s.interval = DefaultBroadcastInterval
	}
	size := opts.IdleSessions
	if size <= 0 {
		size = DefaultIdleSessions
	}
	idle, err := lru.NewWithEvict[uint64, *Session[S]](size, s.onEvict)
	if err != nil {
		return nil, err
	}
	s.idle = idle

	if s.journal != nil {
		ids, err := s.journal.Sessions()
		if err != nil {
			return nil, pkgerrors.Wrap(err, "list journaled sessions")
		}
		SessionsStored.Set(float64(len(ids)))
		log.Info("store: journal opened", "sessions", len(ids))
	}
	return s, nil
}

func (s *Store[S]) onEvict(id uint64, _ *Session[S]) {
	if s.journal == nil {
		s.log.Warn("store: idle session evicted and lost", "session", api.FormatSessionID(id))
		return
	}
	s.log.Debug("store: idle session evicted", "session", api.FormatSessionID(id))
}

func (s *Store[S]) SetPusher(p Pusher) {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()
	s.pusher = p
}

func (s *Store[S]) getPusher() Pusher {
	s.pushMu.RLock()
	defer s.pushMu.RUnlock()
	return s.pusher
}

func (s *Store[S]) now() int64 {
	return s.clock().UnixMilli()
}

func (s *Store[S]) logCtx(sessionID uint64, userID api.UserID) context.Context {
	return utils.WithDefaultArgs(context.Background(), "session", api.FormatSessionID(sessionID), "user", userID)
}

// NewState creates a session on behalf of userID from encoded initialize
// arguments.
func (s *Store[S]) NewState(sessionID uint64, userID api.UserID, args []byte) error {
	ctx := s.logCtx(sessionID, userID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions.Load(sessionID); ok || s.idle.Contains(sessionID) {
		s.log.WarnCtx(ctx, "store: session already exists")
		return roomsync_errors.ErrSessionExists
	}

	now := s.now()
	state, err := policy.Initialize(s.policy.Current(), policy.NewContext(SessionSeed(sessionID), 0, now), userID, args)
	if err != nil {
		s.log.WarnCtx(ctx, "store: bad initialize arguments", "err", err)
		return err
	}
	if s.journal != nil {
		if err := s.journal.Create(sessionID, journal.Entry{UserID: userID, Args: args, Time: now}); err != nil {
			s.log.ErrorCtx(ctx, "store: couldn't journal session", "err", err)
			return err
		}
	}
	if s.journal != nil {
		SessionsStored.Inc()
	}
	s.idle.Add(sessionID, newSession(sessionID, state, now))
	SessionsLoaded.WithLabelValues("created").Inc()
	s.log.InfoCtx(ctx, "store: session created")
	return nil
}

// acquire finds a session in memory or rebuilds it from the journal. With
// active set it is moved out of the idle cache.
func (s *Store[S]) acquire(sessionID uint64, active bool) (*Session[S], error) {
	if sess, ok := s.sessions.Load(sessionID); ok {
		return sess, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions.Load(sessionID); ok {
		return sess, nil
	}
	sess, ok := s.idle.Get(sessionID)
	if !ok {
		var err error
		if sess, err = s.replay(sessionID); err != nil {
			return nil, err
		}
		s.idle.Add(sessionID, sess)
	}
	if active {
		s.idle.Remove(sessionID)
		s.sessions.Store(sessionID, sess)
		SessionsActive.Set(float64(s.sessions.Size()))
	}
	return sess, nil
}

func (s *Store[S]) replay(sessionID uint64) (*Session[S], error) {
	if s.journal == nil {
		return nil, roomsync_errors.ErrSessionNotFound
	}
	create, calls, err := s.journal.Load(sessionID)
	if err != nil {
		return nil, err
	}

	p := s.policy.Current()
	state, err := policy.Initialize(p, policy.NewContext(SessionSeed(sessionID), 0, create.Time), create.UserID, create.Args)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "replay session %s", api.FormatSessionID(sessionID))
	}
	sess := newSession(sessionID, state, create.Time)
	for i, c := range calls {
		if err := sess.replay(p, c.UserID, api.Method(c.Method), c.Args, c.Time); err != nil {
			return nil, pkgerrors.Wrapf(err, "replay session %s call %d", api.FormatSessionID(sessionID), i+1)
		}
	}
	SessionsLoaded.WithLabelValues("journal").Inc()
	s.log.Info("store: session restored", "session", api.FormatSessionID(sessionID), "calls", len(calls))
	return sess, nil
}

// SubscribeUser starts streaming a session to userID with a snapshot. An
// unknown session is answered with a state not found push.
func (s *Store[S]) SubscribeUser(sessionID uint64, userID api.UserID) error {
	ctx := s.logCtx(sessionID, userID)
	sess, err := s.acquire(sessionID, true)
	if err != nil {
		if errors.Is(err, roomsync_errors.ErrSessionNotFound) {
			s.log.InfoCtx(ctx, "store: subscribe to unknown session")
		} else {
			s.log.ErrorCtx(ctx, "store: couldn't load session", "err", err)
		}
		s.getPusher().StateNotFound(sessionID, userID)
		return err
	}

	s.policy.Reload()
	frame, us, err := sess.subscribe(s.policy.Current(), userID)
	if err != nil {
		s.log.ErrorCtx(ctx, "store: invalid user state", "state", us, "err", err)
		return err
	}
	s.log.InfoCtx(ctx, "store: subscribed")
	s.getPusher().StateUpdate(sessionID, userID, frame)
	return nil
}

// UnsubscribeUser drops the subscription. A session left without
// subscribers moves to the idle cache.
func (s *Store[S]) UnsubscribeUser(sessionID uint64, userID api.UserID) {
	sess, ok := s.sessions.Load(sessionID)
	if !ok {
		return
	}
	if sess.unsubscribe(userID) > 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	moved := false
	s.sessions.Compute(sessionID, func(old *Session[S], loaded bool) (*Session[S], bool) {
		if loaded && old == sess && sess.Subscribers() == 0 {
			moved = true
			return old, true
		}
		return old, !loaded
	})
	if moved {
		s.idle.Add(sessionID, sess)
		SessionsActive.Set(float64(s.sessions.Size()))
	}
	s.log.InfoCtx(s.logCtx(sessionID, userID), "store: unsubscribed")
}

// HandleUpdate runs a method call encoded as method(u8) | msgId(u32 BE) | args.
func (s *Store[S]) HandleUpdate(sessionID uint64, userID api.UserID, data []byte) error {
	ctx := s.logCtx(sessionID, userID)

	r := bin.NewReader(data)
	method := api.Method(r.ReadUInt8())
	msgID := r.ReadUInt32()
	if err := r.Err(); err != nil {
		s.log.WarnCtx(ctx, "store: truncated method call", "err", err)
		return pkgerrors.Wrap(roomsync_errors.ErrBadRequest, err.Error())
	}
	args := data[len(data)-r.Remaining():]

	sess, err := s.acquire(sessionID, false)
	if err != nil {
		s.log.WarnCtx(ctx, "store: call to unknown session", "err", err)
		s.getPusher().StateNotFound(sessionID, userID)
		return err
	}

	s.policy.Reload()
	now := s.now()
	var record func(uint64) error
	if s.journal != nil {
		record = func(seq uint64) error {
			return s.journal.Append(sessionID, seq, journal.Entry{UserID: userID, Method: uint8(method), Args: args, Time: now})
		}
	}
	res := sess.handle(s.policy.Current(), userID, method, msgID, args, now, record)
	switch {
	case res.seq == 0:
		MethodCalls.WithLabelValues(method.String(), "invalid").Inc()
		s.log.WarnCtx(ctx, "store: invalid method call", "method", method, "err", res.err)
		return res.err
	case res.err != nil:
		s.log.ErrorCtx(ctx, "store: couldn't journal call", "seq", res.seq, "err", res.err)
	}
	if res.response.IsOk() {
		MethodCalls.WithLabelValues(method.String(), "ok").Inc()
	} else {
		MethodCalls.WithLabelValues(method.String(), "error").Inc()
		s.log.DebugCtx(ctx, "store: call refused", "method", method, "error", res.response.Error)
	}
	return res.err
}

// Tick runs one broadcast round over the active sessions.
func (s *Store[S]) Tick() {
	start := time.Now()
	s.policy.Reload()
	p := s.policy.Current()
	pusher := s.getPusher()

	s.sessions.Range(func(id uint64, sess *Session[S]) bool {
		updates, failures := sess.collect(p)
		for _, f := range failures {
			s.log.ErrorCtx(s.logCtx(id, f.userID), "store: invalid user state", "state", f.state, "err", f.err)
		}
		for _, u := range updates {
			UpdateSize.Observe(float64(len(u.frame)))
			pusher.StateUpdate(id, u.userID, u.frame)
		}
		return true
	})
	BroadcastDuration.Observe(time.Since(start).Seconds())
}

// Expire deletes the journaled sessions whose latest entry is older than
// maxAge and reports how many went. Sessions held in memory are kept.
func (s *Store[S]) Expire(maxAge time.Duration) (int, error) {
	if s.journal == nil || maxAge <= 0 {
		return 0, nil
	}
	ids, err := s.journal.Sessions()
	if err != nil {
		return 0, err
	}
	cutoff := s.clock().Add(-maxAge).UnixMilli()
	expired := 0
	for _, id := range ids {
		ok, err := s.expire(id, cutoff)
		if err != nil {
			return expired, pkgerrors.Wrapf(err, "expire session %s", api.FormatSessionID(id))
		}
		if ok {
			expired++
			s.log.Debug("store: session expired", "session", api.FormatSessionID(id))
		}
	}
	SessionsStored.Set(float64(len(ids) - expired))
	SessionsExpired.Add(float64(expired))
	if expired > 0 {
		s.log.Info("store: journal expired", "sessions", expired, "kept", len(ids)-expired)
	}
	return expired, nil
}

func (s *Store[S]) expire(sessionID uint64, cutoff int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions.Load(sessionID); ok || s.idle.Contains(sessionID) {
		return false, nil
	}
	last, err := s.journal.LastTime(sessionID)
	if err != nil || last >= cutoff {
		return false, err
	}
	return true, s.journal.Delete(sessionID)
}

// Run broadcasts every interval until ctx is done. With a retention set it
// also expires the journal, once at start and then periodically.
func (s *Store[S]) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var expiry <-chan time.Time
	if s.journal != nil && s.retention > 0 {
		s.runExpire()
		t := time.NewTicker(min(s.retention, EXPIRE_INTERVAL))
		defer t.Stop()
		expiry = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		case <-expiry:
			s.runExpire()
		}
	}
}

func (s *Store[S]) runExpire() {
	if _, err := s.Expire(s.retention); err != nil {
		s.log.Error("store: couldn't expire journal", "err", err)
	}
}

// Session returns an in-memory session, active or idle.
func (s *Store[S]) Session(sessionID uint64) (*Session[S], bool) {
	if sess, ok := s.sessions.Load(sessionID); ok {
		return sess, true
	}
	return s.idle.Peek(sessionID)
}
