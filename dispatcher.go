package roomsync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drpcorg/roomsync/api"
	"github.com/drpcorg/roomsync/network"
	"github.com/drpcorg/roomsync/protocol"
	"github.com/drpcorg/roomsync/utils"
	"github.com/google/uuid"
)

const (
	OUT_QUEUE_LIMIT      = 1 << 24
	OUT_QUEUE_TIME_LIMIT = time.Second
)

// CommandHandler is driven by dispatcher commands, in arrival order.
type CommandHandler interface {
	NewState(sessionID uint64, userID api.UserID, args []byte) error
	SubscribeUser(sessionID uint64, userID api.UserID) error
	UnsubscribeUser(sessionID uint64, userID api.UserID)
	HandleUpdate(sessionID uint64, userID api.UserID, data []byte) error
	SetPusher(p Pusher)
}

// Dispatcher is the server side of the dispatcher link. It keeps the link
// up, applies inbound commands to its handler and implements Pusher. An
// unknown command is a protocol violation: the Dispatcher shuts down and
// reports it through Done and Err.
type Dispatcher struct {
	log     utils.Logger
	handler CommandHandler
	reg     protocol.Registration
	net     *network.Net
	link    atomic.Pointer[link]
	links   atomic.Int64

	done     chan struct{}
	failOnce sync.Once
	err      error
}

type link struct {
	*utils.FDQueue[protocol.Records]
	d       *Dispatcher
	traceID string
}

func (l *link) GetTraceId() string {
	return l.traceID
}

// Drain applies inbound commands.
func (l *link) Drain(ctx context.Context, recs protocol.Records) error {
	for _, rec := range recs {
		cmd, err := protocol.ParseCommand(rec)
		if err != nil {
			l.d.fail(err)
			return err
		}
		CommandsReceived.WithLabelValues(cmd.Type.String()).Inc()
		l.d.apply(cmd)
	}
	return nil
}

// Register connects to the dispatcher at addr and starts serving handler.
// It fails if the first connection attempt fails; later drops are
// reconnected until Close.
func Register(ctx context.Context, log utils.Logger, addr, appSecret string, handler CommandHandler, opts ...network.NetOpt) (*Dispatcher, error) {
	d := &Dispatcher{
		log:     log,
		handler: handler,
		reg:     protocol.NewRegistration(appSecret),
		done:    make(chan struct{}),
	}
	d.net = network.NewNet(log, d.install, d.destroy, opts...)
	handler.SetPusher(d)

	if err := d.net.ConnectWait(ctx, addr); err != nil {
		d.net.Close()
		return nil, err
	}
	log.Info("dispatcher: connected", "addr", addr)
	return d, nil
}

func (d *Dispatcher) install(name string) protocol.FeedDrainCloserTraced {
	l := &link{
		FDQueue: utils.NewFDQueue[protocol.Records](OUT_QUEUE_LIMIT, OUT_QUEUE_TIME_LIMIT, 1),
		d:       d,
		traceID: uuid.Must(uuid.NewV7()).String(),
	}
	// the registration goes out first, unframed
	l.FDQueue.Drain(context.Background(), protocol.Records{d.reg.Encode()})
	if d.links.Add(1) > 1 {
		Reconnects.Inc()
	}
	d.link.Store(l)
	return l
}

func (d *Dispatcher) destroy(name string, t protocol.Traced) {
	d.log.Warn("dispatcher: link closed", "name", name, "trace_id", t.GetTraceId())
	d.link.Store(nil)
}

func (d *Dispatcher) apply(cmd protocol.Command) {
	switch cmd.Type {
	case protocol.CommandNewState:
		d.handler.NewState(cmd.SessionID, cmd.UserID, cmd.Data)
	case protocol.CommandSubscribeUser:
		d.handler.SubscribeUser(cmd.SessionID, cmd.UserID)
	case protocol.CommandUnsubscribeUser:
		d.handler.UnsubscribeUser(cmd.SessionID, cmd.UserID)
	case protocol.CommandHandleUpdate:
		d.handler.HandleUpdate(cmd.SessionID, cmd.UserID, cmd.Data)
	}
}

func (d *Dispatcher) push(p protocol.Push) {
	l := d.link.Load()
	if l == nil {
		PushesDropped.Inc()
		d.log.Warn("dispatcher: no link, push dropped", "session", api.FormatSessionID(p.SessionID), "user", p.UserID)
		return
	}
	if err := l.FDQueue.Drain(context.Background(), protocol.Records{p.Encode()}); err != nil {
		PushesDropped.Inc()
		d.log.Error("dispatcher: couldn't queue push", "session", api.FormatSessionID(p.SessionID), "user", p.UserID, "err", err)
		return
	}
	PushesSent.WithLabelValues(pushLabel(p.Type)).Inc()
}

func pushLabel(t protocol.PushType) string {
	if t == protocol.PushStateNotFound {
		return "state_not_found"
	}
	return "state_update"
}

func (d *Dispatcher) StateUpdate(sessionID uint64, userID api.UserID, data []byte) {
	d.push(protocol.StateUpdate(sessionID, userID, data))
}

func (d *Dispatcher) StateNotFound(sessionID uint64, userID api.UserID) {
	d.push(protocol.StateNotFound(sessionID, userID))
}

func (d *Dispatcher) fail(err error) {
	d.failOnce.Do(func() {
		d.log.Error("dispatcher: protocol violation, giving up", "err", err)
		d.err = err
		close(d.done)
		go d.net.Close()
	})
}

// GetStats reports the dispatcher link, absent while it reconnects.
func (d *Dispatcher) GetStats() network.NetStats {
	return d.net.GetStats()
}

// Done is closed once the Dispatcher stops for good.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Err is the reason the Dispatcher stopped, nil after Close.
func (d *Dispatcher) Err() error {
	select {
	case <-d.done:
		return d.err
	default:
		return nil
	}
}

func (d *Dispatcher) Close() error {
	d.failOnce.Do(func() {
		close(d.done)
	})
	return d.net.Close()
}
