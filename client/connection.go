package client

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drpcorg/roomsync/api"
	"github.com/drpcorg/roomsync/bin"
	"github.com/drpcorg/roomsync/roomsync_errors"
	"github.com/drpcorg/roomsync/utils"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"
)

const WRITE_TIMEOUT = 10 * time.Second

type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	}
	return "closed"
}

// UpdateArgs is passed to onUpdate after every state frame. State is a
// copy the callee may keep.
type UpdateArgs struct {
	SessionID string
	State     api.PlayerState
	UpdatedAt uint64
	Events    []string
}

// Connection is one client session. Frames are applied by a single reader
// goroutine in arrival order.
type Connection struct {
	log       utils.Logger
	sessionID string
	onUpdate  func(UpdateArgs)
	onFailure atomic.Pointer[func(ConnectionFailure)]

	state     atomic.Int32
	opened    chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	err       error

	conn    *websocket.Conn
	writeMu sync.Mutex

	pending *xsync.MapOf[uint32, chan api.Response]

	mu        sync.Mutex
	replica   api.PlayerState
	changedAt uint64
}

func newConnection(log utils.Logger, sessionID string, onUpdate func(UpdateArgs), onFailure func(ConnectionFailure)) *Connection {
	c := &Connection{
		log:       log,
		sessionID: sessionID,
		onUpdate:  onUpdate,
		opened:    make(chan struct{}),
		closed:    make(chan struct{}),
		pending:   xsync.NewMapOf[uint32, chan api.Response](),
	}
	if onFailure != nil {
		c.onFailure.Store(&onFailure)
	}
	return c
}

func (c *Connection) SessionID() string {
	return c.sessionID
}

func (c *Connection) State() State {
	return State(c.state.Load())
}

// Replica returns a copy of the latest known state and its logical clock.
func (c *Connection) Replica() (api.PlayerState, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replica.Clone(), c.changedAt
}

func (c *Connection) open(ctx context.Context, dialer *websocket.Dialer, url, token string) {
	id, err := api.ParseSessionID(c.sessionID)
	if err != nil {
		c.shutdown(ConnectionFailure{Type: FailureGeneric, Message: err.Error()}, true)
		return
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		c.shutdown(ConnectionFailure{Type: FailureGeneric, Message: err.Error()}, true)
		return
	}

	w := bin.NewWriter()
	w.WriteUInt8(api.HandshakeTag)
	w.WriteString(token)
	w.WriteUInt64(id)

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()
	if err := c.write(w.Bytes()); err != nil {
		c.shutdown(classify(err), true)
		return
	}
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		// disconnected while dialing
		conn.Close()
		return
	}
	close(c.opened)
	c.log.Debug("client: connected", "session", c.sessionID)
	c.readLoop(conn)
}

func (c *Connection) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return roomsync_errors.ErrConnectionClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(WRITE_TIMEOUT))
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *Connection) readLoop(conn *websocket.Conn) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			c.shutdown(classify(err), true)
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		c.handle(data)
	}
}

func (c *Connection) handle(data []byte) {
	r := bin.NewReader(data)
	tag := r.ReadUInt8()
	if r.Err() != nil {
		c.log.Warn("client: empty frame", "session", c.sessionID)
		return
	}
	switch tag {
	case api.SnapshotTag:
		s, err := api.DecodeStateSnapshot(r)
		if err != nil {
			c.log.Error("client: bad snapshot, dropped", "session", c.sessionID, "err", err)
			return
		}
		c.mu.Lock()
		c.replica = s
		c.changedAt = 0
		args := c.updateArgs(nil)
		c.mu.Unlock()
		c.notify(args)

	case api.UpdateTag:
		u, err := api.DecodeStateUpdate(r)
		if err != nil {
			c.log.Error("client: bad update, dropped", "session", c.sessionID, "err", err)
			return
		}
		events := make([]string, 0, len(u.Events))
		for _, ev := range u.Events {
			events = append(events, ev.Event)
		}
		c.mu.Lock()
		if d, ok := u.StateDiff.Get(); ok {
			c.replica = api.ComputePatch(c.replica, d)
		}
		c.changedAt += u.ChangedAtDiff
		args := c.updateArgs(events)
		c.mu.Unlock()
		c.notify(args)

		for _, msg := range u.Responses {
			if ch, ok := c.pending.LoadAndDelete(msg.MsgID); ok {
				ch <- msg.Response
			}
		}

	default:
		c.log.Error("client: unknown message type", "session", c.sessionID, "type", tag)
	}
}

func (c *Connection) updateArgs(events []string) UpdateArgs {
	if events == nil {
		events = []string{}
	}
	return UpdateArgs{SessionID: c.sessionID, State: c.replica.Clone(), UpdatedAt: c.changedAt, Events: events}
}

func (c *Connection) notify(args UpdateArgs) {
	if c.onUpdate != nil {
		c.onUpdate(args)
	}
}

// shutdown moves to Closed once. Pending and waiting calls complete with err.
func (c *Connection) shutdown(err error, report bool) {
	c.closeOnce.Do(func() {
		c.err = err
		c.state.Store(int32(StateClosed))
		close(c.closed)

		c.writeMu.Lock()
		if c.conn != nil {
			if errors.Is(err, roomsync_errors.ErrDisconnected) {
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
			}
			c.conn.Close()
		}
		c.writeMu.Unlock()

		if f, ok := err.(ConnectionFailure); ok && report {
			c.log.Warn("client: connection closed", "session", c.sessionID, "failure", f.Type, "message", f.Message)
			if cb := c.onFailure.Swap(nil); cb != nil {
				(*cb)(f)
			}
		}
	})
}

// Disconnect closes the socket without reporting a failure. Calls still
// waiting fail with ErrDisconnected. The connection is Closed before the
// close frame goes out, so an echoed close cannot change the outcome.
func (c *Connection) Disconnect() {
	c.onFailure.Store(nil)
	c.shutdown(roomsync_errors.ErrDisconnected, false)
}

// Done is closed when the connection reaches Closed.
func (c *Connection) Done() <-chan struct{} {
	return c.closed
}

// Err is why the connection closed: a ConnectionFailure or ErrDisconnected.
func (c *Connection) Err() error {
	select {
	case <-c.closed:
		return c.err
	default:
		return nil
	}
}

func newMsgID() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return binary.BigEndian.Uint32(b[:])
}

// Call sends method with the encoded request and waits for its response.
// While connecting the call waits for the socket to open. On a closed
// connection it fails with ErrConnectionClosed.
func (c *Connection) Call(ctx context.Context, method api.Method, request []byte) (api.Response, error) {
	if c.State() == StateClosed {
		return api.Response{}, roomsync_errors.ErrConnectionClosed
	}
	select {
	case <-c.opened:
	case <-c.closed:
		return api.Response{}, roomsync_errors.ErrConnectionClosed
	case <-ctx.Done():
		return api.Response{}, ctx.Err()
	}

	ch := make(chan api.Response, 1)
	var msgID uint32
	for {
		msgID = newMsgID()
		if _, loaded := c.pending.LoadOrStore(msgID, ch); !loaded {
			break
		}
	}
	defer c.pending.Delete(msgID)

	w := bin.NewWriterSize(5 + len(request))
	w.WriteUInt8(uint8(method))
	w.WriteUInt32(msgID)
	w.WriteBytes(request)
	if err := c.write(w.Bytes()); err != nil {
		c.shutdown(classify(err), true)
		return api.Response{}, c.Err()
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-c.closed:
		return api.Response{}, c.err
	case <-ctx.Done():
		return api.Response{}, ctx.Err()
	}
}

func call[R any](ctx context.Context, c *Connection, method api.Method, enc func(*bin.Writer, R), req R) (api.Response, error) {
	data, err := api.Marshal(enc, req)
	if err != nil {
		return api.Response{}, err
	}
	return c.Call(ctx, method, data)
}

func (c *Connection) JoinGame(ctx context.Context, req api.JoinGameRequest) (api.Response, error) {
	return call(ctx, c, api.MethodJoinGame, api.EncodeJoinGameRequest, req)
}

func (c *Connection) StartGame(ctx context.Context, req api.StartGameRequest) (api.Response, error) {
	return call(ctx, c, api.MethodStartGame, api.EncodeStartGameRequest, req)
}

func (c *Connection) PlayCard(ctx context.Context, req api.PlayCardRequest) (api.Response, error) {
	return call(ctx, c, api.MethodPlayCard, api.EncodePlayCardRequest, req)
}

func (c *Connection) DrawCard(ctx context.Context, req api.DrawCardRequest) (api.Response, error) {
	return call(ctx, c, api.MethodDrawCard, api.EncodeDrawCardRequest, req)
}
