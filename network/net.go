// Package network carries framed links between a state server process and
// its dispatcher.
//
// Net owns the sockets: it dials with KeepConnecting (reconnecting after a
// randomized delay whenever the link drops) and accepts with KeepListening.
// Addresses are "tcp://host:port" or "tls://host:port"; TLS uses the config
// given with NetTlsConfigOpt on both ends.
// Each live socket is a Peer that pumps bytes between the connection and a
// protocol handler obtained from the install callback:
//   - Drain() receives complete inbound payloads, in arrival order
//   - Feed() yields outbound bytes, written as is
//
// Inbound bytes are cut into payloads with protocol.Split unless the
// handler implements Splitter, which lets it consume a raw preamble (the
// registration JSON) before regular frames.
//
// Usage:
//
//	n := NewNet(logger, installCallback, destroyCallback,
//		&NetWriteTimeoutOpt{Timeout: 30 * time.Second},
//	)
//	err := n.Listen("tls://:7147")
//	err = n.ConnectWait(ctx, "tls://dispatcher:7147")
//	defer n.Close()
package network

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/drpcorg/roomsync/protocol"
	"github.com/drpcorg/roomsync/utils"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

type ConnType = uint

var (
	ErrAddressInvalid    = errors.New("the address invalid")
	ErrAddressDuplicated = errors.New("the address already used")
)

const (
	TCP ConnType = iota + 1
	TLS
)

const (
	TYPICAL_MTU = 1500

	// a dropped link is redialed after MIN_RETRY_PERIOD plus up to
	// RETRY_JITTER
	MIN_RETRY_PERIOD = time.Second
	RETRY_JITTER     = time.Second

	KEEP_ALIVE_PERIOD = 10 * time.Second

	TLS_HANDSHAKE_TIMEOUT = 10 * time.Second

	DEFAULT_BUFFER_MAX_SIZE = 1 << 24

	// bounds the delay of a partially filled read batch
	READ_ACCUM_TIME_LIMIT = 20 * time.Millisecond

	// weight of the latest write in the write batch average
	WRITE_BATCH_ALPHA = 0.1
)

type InstallCallback func(name string) protocol.FeedDrainCloserTraced
type DestroyCallback func(name string, p protocol.Traced)

// Splitter is implemented by handlers that parse their own inbound stream.
type Splitter interface {
	Split(buf *bytes.Buffer) (protocol.Records, error)
}

// Net is a set of dialed and accepted framed links.
type Net struct {
	wg        sync.WaitGroup
	log       utils.Logger
	onInstall InstallCallback
	onDestroy DestroyCallback

	conns     *xsync.MapOf[string, *Peer]
	listens   *xsync.MapOf[string, net.Listener]
	ctx       context.Context
	cancelCtx context.CancelFunc

	tlsConfig          *tls.Config
	readAccumTimeLimit time.Duration
	writeTimeout       time.Duration
	bufferMaxSize      int
	bufferMinToProcess int
	retryPeriod        func() time.Duration
}

type NetOpt interface {
	Apply(*Net)
}

type NetWriteTimeoutOpt struct {
	Timeout time.Duration
}

func (opt *NetWriteTimeoutOpt) Apply(n *Net) {
	n.writeTimeout = opt.Timeout
}

type NetTlsConfigOpt struct {
	Config *tls.Config
}

func (opt *NetTlsConfigOpt) Apply(n *Net) {
	n.tlsConfig = opt.Config
}

type NetReadBatchOpt struct {
	ReadAccumTimeLimit time.Duration
	BufferMaxSize      int
	BufferMinToProcess int
}

// Apply sets the non-zero fields only.
func (opt *NetReadBatchOpt) Apply(n *Net) {
	if opt.ReadAccumTimeLimit > 0 {
		n.readAccumTimeLimit = opt.ReadAccumTimeLimit
	}
	if opt.BufferMaxSize > 0 {
		n.bufferMaxSize = opt.BufferMaxSize
	}
	if opt.BufferMinToProcess > 0 {
		n.bufferMinToProcess = opt.BufferMinToProcess
	}
}

// NetRetryOpt replaces the reconnect delay.
type NetRetryOpt struct {
	Period func() time.Duration
}

func (opt *NetRetryOpt) Apply(n *Net) {
	n.retryPeriod = opt.Period
}

// RetryPeriod is the default reconnect delay: one to two seconds.
func RetryPeriod() time.Duration {
	return MIN_RETRY_PERIOD + rand.N(RETRY_JITTER)
}

func NewNet(log utils.Logger, install InstallCallback, destroy DestroyCallback, opts ...NetOpt) *Net {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Net{
		log:           log,
		cancelCtx:     cancel,
		ctx:           ctx,
		conns:         xsync.NewMapOf[string, *Peer](),
		listens:       xsync.NewMapOf[string, net.Listener](),
		onInstall:     install,
		onDestroy:     destroy,
		bufferMaxSize: DEFAULT_BUFFER_MAX_SIZE,
		retryPeriod:   RetryPeriod,
	}
	for _, o := range opts {
		o.Apply(n)
	}
	return n
}

// PeerStats is a point-in-time view of one live connection.
type PeerStats struct {
	// bytes read but not yet cut into payloads
	ReadBuffer int32
	// moving average of the bytes per vectored write
	WriteBatch float64
	Writes     uint64
}

// NetStats maps connection names to their stats. Dialed names that are
// waiting to reconnect are absent.
type NetStats map[string]PeerStats

func (n *Net) GetStats() NetStats {
	stats := NetStats{}
	n.conns.Range(func(name string, peer *Peer) bool {
		if peer != nil {
			stats[name] = PeerStats{
				ReadBuffer: peer.GetIncomingPacketBufferSize(),
				WriteBatch: peer.writeBatchSize.Val(),
				Writes:     peer.writeBatchSize.Count(),
			}
		}
		return true
	})
	return stats
}

func (n *Net) Close() error {
	n.cancelCtx()

	n.listens.Range(func(_ string, v net.Listener) bool {
		if v != nil {
			v.Close()
		}
		return true
	})
	n.listens.Clear()

	n.conns.Range(func(_ string, p *Peer) bool {
		// nil while still dialing
		if p != nil {
			p.Close()
		}
		return true
	})
	n.conns.Clear()

	n.wg.Wait()
	return nil
}

// ConnectWait keeps a link to addr, reconnecting forever until Close, and
// reports the outcome of the first dial. A failed first dial stops the
// connection instead of retrying it.
func (n *Net) ConnectWait(ctx context.Context, addr string) error {
	if _, ok := n.conns.LoadOrStore(addr, nil); ok {
		return ErrAddressDuplicated
	}

	first := make(chan error, 1)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.KeepConnecting(addr, first)
	}()

	select {
	case err := <-first:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Listen accepts connections on addr, "tcp://host:port" or "tls://host:port".
func (n *Net) Listen(addr string) error {
	if _, ok := n.listens.LoadOrStore(addr, nil); ok {
		return ErrAddressDuplicated
	}

	listener, err := n.createListener(addr)
	if err != nil {
		n.listens.Delete(addr)
		return err
	}
	n.listens.Store(addr, listener)

	n.log.Info("net: listening", "addr", addr)

	n.wg.Add(1)
	go func() {
		n.KeepListening(addr)
		n.wg.Done()
	}()

	return nil
}

// ListenAddr is the bound address of a listener, useful with port 0.
func (n *Net) ListenAddr(addr string) net.Addr {
	if l, ok := n.listens.Load(addr); ok && l != nil {
		return l.Addr()
	}
	return nil
}

// KeepConnecting keeps a link to addr alive until the Net is closed. When
// first is not nil it receives the result of the first dial; a failed
// first dial ends the loop.
func (n *Net) KeepConnecting(addr string, first chan<- error) {
	name := addr
	defer n.conns.Compute(name, func(p *Peer, loaded bool) (*Peer, bool) {
		return p, p == nil
	})
	for n.ctx.Err() == nil {
		conn, err := n.createConn(addr)

		if first != nil {
			first <- err
			first = nil
			if err != nil {
				n.log.Error("net: couldn't connect", "name", name, "err", err)
				return
			}
		}

		if err != nil {
			n.log.Error("net: couldn't connect", "name", name, "err", err)
		} else {
			n.log.Info("net: connected", "name", name)
			n.keepPeer(name, conn)
			if _, ok := n.conns.Load(name); !ok {
				// the Net is closed
				return
			}
			n.log.Warn("net: connection closed, retrying", "name", name)
		}

		select {
		case <-time.After(n.retryPeriod()):
		case <-n.ctx.Done():
		}
	}
}

// KeepListening accepts connections on addr until the listener is closed.
func (n *Net) KeepListening(addr string) {
	for n.ctx.Err() == nil {
		listener, ok := n.listens.Load(addr)
		if !ok {
			break
		}

		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}

			// reconnects are the client's problem, just continue
			n.log.Error("net: couldn't accept request", "addr", addr, "err", err)
			continue
		}

		remoteAddr := conn.RemoteAddr().String()
		n.log.Info("net: accept connection", "addr", addr, "remoteAddr", remoteAddr)
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.handshake(conn); err != nil {
				n.log.Warn("net: tls handshake failed", "addr", addr, "remoteAddr", remoteAddr, "err", err)
				conn.Close()
				return
			}
			n.keepPeer(fmt.Sprintf("listen:%s:%s", uuid.Must(uuid.NewV7()).String(), remoteAddr), conn)
		}()
	}

	if l, ok := n.listens.LoadAndDelete(addr); ok && l != nil {
		if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			n.log.Error("net: couldn't correct close listener", "addr", addr, "err", err)
		}
	}

	n.log.Info("net: listener closed", "addr", addr)
}

// handshake completes a server side TLS handshake up front, so the read
// deadlines of the peer loop never cut it short.
func (n *Net) handshake(conn net.Conn) error {
	tc, ok := conn.(*tls.Conn)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(n.ctx, TLS_HANDSHAKE_TIMEOUT)
	defer cancel()
	return tc.HandshakeContext(ctx)
}

// keepPeer runs one connection until either side drops it.
func (n *Net) keepPeer(name string, conn net.Conn) {
	peer := &Peer{
		inout:               n.onInstall(name),
		conn:                conn,
		writeTimeout:        n.writeTimeout,
		readAccumtTimeLimit: n.readAccumTimeLimit,
		bufferMaxSize:       n.bufferMaxSize,
		bufferMinToProcess:  n.bufferMinToProcess,
		writeBatchSize:      utils.NewMovingAvg(WRITE_BATCH_ALPHA),
	}
	n.conns.Store(name, peer)

	readErr, writeErr, closeErr := peer.Keep(n.ctx)
	if readErr != nil {
		n.log.Error("net: couldn't read from peer", "name", name, "err", readErr, "trace_id", peer.GetTraceId())
	}
	if writeErr != nil {
		n.log.Error("net: couldn't write to peer", "name", name, "err", writeErr, "trace_id", peer.GetTraceId())
	}
	if closeErr != nil {
		n.log.Error("net: couldn't correct close peer", "name", name, "err", closeErr, "trace_id", peer.GetTraceId())
	}

	// a dialed name stays registered (as nil) while it reconnects
	n.conns.Compute(name, func(old *Peer, loaded bool) (*Peer, bool) {
		if !loaded || old != peer {
			return old, !loaded
		}
		return nil, strings.HasPrefix(name, "listen:")
	})
	peer.Close()
	n.onDestroy(name, peer)
}

func (n *Net) createListener(addr string) (net.Listener, error) {
	connType, address, err := parseAddr(addr)
	if err != nil {
		return nil, err
	}

	config := net.ListenConfig{KeepAlive: KEEP_ALIVE_PERIOD}
	listener, err := config.Listen(n.ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	if connType == TLS {
		listener = tls.NewListener(listener, n.tlsConfig)
	}
	return listener, nil
}

func (n *Net) createConn(addr string) (net.Conn, error) {
	connType, address, err := parseAddr(addr)
	if err != nil {
		return nil, err
	}

	d := net.Dialer{Timeout: time.Minute, KeepAlive: KEEP_ALIVE_PERIOD}
	if connType == TLS {
		td := tls.Dialer{NetDialer: &d, Config: n.tlsConfig}
		return td.DialContext(n.ctx, "tcp", address)
	}
	return d.DialContext(n.ctx, "tcp", address)
}

// parseAddr splits a scheme off the address:
//   - "tcp://localhost:7147" -> TCP, "localhost:7147"
//   - "tls://example.com:443" -> TLS, "example.com:443"
//   - "localhost:7147" -> TCP, "localhost:7147"
func parseAddr(addr string) (ConnType, string, error) {
	if !strings.Contains(addr, "://") {
		return TCP, addr, nil
	}
	u, err := url.Parse(addr)
	if err != nil {
		return TCP, "", err
	}

	var conn ConnType
	switch u.Scheme {
	case "tcp", "tcp4", "tcp6":
		conn = TCP
	case "tls":
		conn = TLS
	default:
		return conn, addr, ErrAddressInvalid
	}

	return conn, u.Host, nil
}
