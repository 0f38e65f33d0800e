// Package coordinator is a development dispatcher. State server processes
// register over a framed TCP link; clients log in, create sessions and hold
// websocket sessions that the coordinator multiplexes onto the process
// link of their application.
package coordinator

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"sync"
	"time"

	"github.com/drpcorg/roomsync/api"
	"github.com/drpcorg/roomsync/client"
	"github.com/drpcorg/roomsync/network"
	"github.com/drpcorg/roomsync/protocol"
	"github.com/drpcorg/roomsync/utils"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	PROCESS_QUEUE_LIMIT      = 1 << 24
	PROCESS_QUEUE_TIME_LIMIT = time.Second
	CLIENT_WRITE_TIMEOUT     = 10 * time.Second
)

// AppID names the application a process registers with appSecret.
func AppID(appSecret string) string {
	sum := sha256.Sum256([]byte(appSecret))
	return hex.EncodeToString(sum[:])
}

type Coordinator struct {
	log      utils.Logger
	net      *network.Net
	upgrader websocket.Upgrader

	// app id -> registered process
	apps *xsync.MapOf[string, *process]
	// token -> anonymous user
	users *xsync.MapOf[string, api.UserID]
}

func New(log utils.Logger, opts ...network.NetOpt) *Coordinator {
	c := &Coordinator{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		apps:  xsync.NewMapOf[string, *process](),
		users: xsync.NewMapOf[string, api.UserID](),
	}
	c.net = network.NewNet(log, c.install, c.destroy, opts...)
	return c
}

// Listen accepts state server processes on addr.
func (c *Coordinator) Listen(addr string) error {
	return c.net.Listen(addr)
}

func (c *Coordinator) ListenAddr(addr string) net.Addr {
	return c.net.ListenAddr(addr)
}

// Connected reports whether a process serves appID.
func (c *Coordinator) Connected(appID string) bool {
	_, ok := c.apps.Load(appID)
	return ok
}

// GetStats reports the process links.
func (c *Coordinator) GetStats() network.NetStats {
	return c.net.GetStats()
}

func (c *Coordinator) Close() error {
	return c.net.Close()
}

type clientKey struct {
	sessionID uint64
	userID    api.UserID
}

// process is the coordinator end of one server link.
type process struct {
	*utils.FDQueue[protocol.Records]
	c       *Coordinator
	name    string
	traceID string

	// written by Split before any push is drained
	appID      string
	registered bool

	clients *xsync.MapOf[clientKey, *clientConn]
}

func (c *Coordinator) install(name string) protocol.FeedDrainCloserTraced {
	return &process{
		FDQueue: utils.NewFDQueue[protocol.Records](PROCESS_QUEUE_LIMIT, PROCESS_QUEUE_TIME_LIMIT, 1),
		c:       c,
		name:    name,
		traceID: uuid.Must(uuid.NewV7()).String(),
		clients: xsync.NewMapOf[clientKey, *clientConn](),
	}
}

func (c *Coordinator) destroy(name string, t protocol.Traced) {
	p, ok := t.(*process)
	if !ok {
		return
	}
	c.log.Warn("coordinator: process disconnected", "name", name, "app", p.appID, "trace_id", p.traceID)
	if p.appID != "" {
		c.apps.Compute(p.appID, func(old *process, loaded bool) (*process, bool) {
			return old, !loaded || old == p
		})
	}
	p.clients.Range(func(_ clientKey, cc *clientConn) bool {
		cc.close(client.CloseNoAvailableStores, "store disconnected")
		return true
	})
}

func (c *Coordinator) register(p *process, reg protocol.Registration) {
	p.appID = AppID(reg.AppSecret)
	p.registered = true
	if old, loaded := c.apps.LoadAndStore(p.appID, p); loaded && old != p {
		c.log.Warn("coordinator: process replaced", "app", p.appID, "old", old.name, "new", p.name)
	}
	c.log.Info("coordinator: process registered", "app", p.appID, "name", p.name, "trace_id", p.traceID)
}

func (p *process) GetTraceId() string {
	return p.traceID
}

// Split reads the registration object first, then frames.
func (p *process) Split(buf *bytes.Buffer) (protocol.Records, error) {
	if !p.registered {
		reg, ok, err := protocol.SplitRegistration(buf)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, protocol.ErrIncomplete
		}
		p.c.register(p, reg)
	}
	return protocol.Split(buf)
}

// Drain routes pushes to client sockets.
func (p *process) Drain(ctx context.Context, recs protocol.Records) error {
	for _, rec := range recs {
		push, err := protocol.ParsePush(rec)
		if err != nil {
			p.c.log.Error("coordinator: bad push, dropping process", "name", p.name, "err", err)
			return err
		}
		key := clientKey{sessionID: push.SessionID, userID: push.UserID}
		cc, ok := p.clients.Load(key)
		if !ok {
			continue
		}
		switch push.Type {
		case protocol.PushStateUpdate:
			if err := cc.write(push.Data); err != nil {
				p.c.log.Warn("coordinator: client write failed", "session", api.FormatSessionID(push.SessionID), "user", push.UserID, "err", err)
				cc.close(websocket.CloseInternalServerErr, "write failed")
			}
		case protocol.PushStateNotFound:
			cc.close(client.CloseStateNotFound, "state not found")
		}
	}
	return nil
}

func (p *process) send(cmd protocol.Command) error {
	return p.FDQueue.Drain(context.Background(), protocol.Records{cmd.Encode()})
}

type clientConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (cc *clientConn) write(data []byte) error {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.ws.SetWriteDeadline(time.Now().Add(CLIENT_WRITE_TIMEOUT))
	return cc.ws.WriteMessage(websocket.BinaryMessage, data)
}

func (cc *clientConn) close(code int, text string) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
	cc.ws.Close()
}
