package network

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"log/slog"
	"math/big"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/drpcorg/roomsync/protocol"
	"github.com/drpcorg/roomsync/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testLink struct {
	*utils.FDQueue[protocol.Records]
	in chan []byte
}

func newTestLink() *testLink {
	return &testLink{
		FDQueue: utils.NewFDQueue[protocol.Records](1<<16, time.Second, 1),
		in:      make(chan []byte, 16),
	}
}

func (l *testLink) Drain(ctx context.Context, recs protocol.Records) error {
	for _, rec := range recs {
		l.in <- rec
	}
	return nil
}

func (l *testLink) GetTraceId() string {
	return ""
}

func (l *testLink) send(t *testing.T, payload string) {
	require.NoError(t, l.FDQueue.Drain(context.Background(), protocol.Records{protocol.Frame([]byte(payload))}))
}

func (l *testLink) recv(t *testing.T) string {
	select {
	case rec := <-l.in:
		return string(rec)
	case <-time.After(5 * time.Second):
		t.Fatal("no payload received")
		return ""
	}
}

type linkSet struct {
	mu    sync.Mutex
	links map[string]*testLink
	order []string
	ready chan string
}

func newLinkSet() *linkSet {
	return &linkSet{links: map[string]*testLink{}, ready: make(chan string, 16)}
}

func (s *linkSet) install(name string) protocol.FeedDrainCloserTraced {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := newTestLink()
	s.links[name] = l
	s.order = append(s.order, name)
	s.ready <- name
	return l
}

func (s *linkSet) destroy(name string, _ protocol.Traced) {}

func (s *linkSet) next(t *testing.T) (string, *testLink) {
	select {
	case name := <-s.ready:
		s.mu.Lock()
		defer s.mu.Unlock()
		return name, s.links[name]
	case <-time.After(5 * time.Second):
		t.Fatal("no connection installed")
		return "", nil
	}
}

func fastRetry() NetOpt {
	return &NetRetryOpt{Period: func() time.Duration { return 10 * time.Millisecond }}
}

func TestNetEcho(t *testing.T) {
	var logs bytes.Buffer
	log := utils.NewLogger(&logs, slog.LevelDebug, "text")

	server := newLinkSet()
	l := NewNet(log, server.install, server.destroy)
	require.NoError(t, l.Listen("tcp://127.0.0.1:0"))
	addr := "tcp://" + l.ListenAddr("tcp://127.0.0.1:0").String()

	client := newLinkSet()
	c := NewNet(log, client.install, client.destroy, fastRetry())
	require.NoError(t, c.ConnectWait(context.Background(), addr))
	assert.ErrorIs(t, c.ConnectWait(context.Background(), addr), ErrAddressDuplicated)

	_, cl := client.next(t)
	_, sl := server.next(t)

	cl.send(t, "Hi there")
	assert.Equal(t, "Hi there", sl.recv(t))

	sl.send(t, "Re: Hi there")
	sl.send(t, "")
	assert.Equal(t, "Re: Hi there", cl.recv(t))
	assert.Equal(t, "", cl.recv(t))

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewCollector("client", c)))
	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	// peers plus three series for the one link
	assert.Equal(t, 4, n)
	for _, st := range c.GetStats() {
		assert.Equal(t, uint64(1), st.Writes)
		assert.Equal(t, float64(len("Hi there")+protocol.HeaderLen), st.WriteBatch)
	}

	assert.NoError(t, c.Close())
	assert.NoError(t, l.Close())
	assert.Empty(t, c.GetStats())
	// closing our own side is not an error
	assert.NotContains(t, logs.String(), "couldn't correct close peer")
}

func TestNetReconnect(t *testing.T) {
	log := utils.NewDefaultLogger(slog.LevelDebug)

	server := newLinkSet()
	l := NewNet(log, server.install, server.destroy)
	require.NoError(t, l.Listen("tcp://127.0.0.1:0"))
	addr := "tcp://" + l.ListenAddr("tcp://127.0.0.1:0").String()

	client := newLinkSet()
	c := NewNet(log, client.install, client.destroy, fastRetry())
	require.NoError(t, c.ConnectWait(context.Background(), addr))
	client.next(t)
	server.next(t)

	// restart the server on the same port, the client dials again
	require.NoError(t, l.Close())
	server = newLinkSet()
	l = NewNet(log, server.install, server.destroy)
	require.NoError(t, l.Listen(addr))

	_, cl := client.next(t)
	_, sl := server.next(t)
	cl.send(t, "again")
	assert.Equal(t, "again", sl.recv(t))

	assert.NoError(t, c.Close())
	assert.NoError(t, l.Close())
}

// selfSigned returns a config that serves a certificate for 127.0.0.1 and
// trusts it.
func selfSigned(t *testing.T) *tls.Config {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "roomsync test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(cert)
	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
	}
}

func TestNetTLS(t *testing.T) {
	log := utils.NewDefaultLogger(slog.LevelDebug)
	cfg := selfSigned(t)

	server := newLinkSet()
	l := NewNet(log, server.install, server.destroy,
		&NetTlsConfigOpt{Config: cfg},
		&NetReadBatchOpt{BufferMaxSize: 1 << 20},
	)
	require.NoError(t, l.Listen("tls://127.0.0.1:0"))
	addr := "tls://" + l.ListenAddr("tls://127.0.0.1:0").String()

	client := newLinkSet()
	c := NewNet(log, client.install, client.destroy,
		&NetTlsConfigOpt{Config: cfg},
		&NetWriteTimeoutOpt{Timeout: time.Second},
		fastRetry(),
	)
	require.NoError(t, c.ConnectWait(context.Background(), addr))

	_, cl := client.next(t)
	_, sl := server.next(t)
	cl.send(t, "sealed")
	assert.Equal(t, "sealed", sl.recv(t))
	sl.send(t, "opened")
	assert.Equal(t, "opened", cl.recv(t))

	assert.NoError(t, c.Close())
	assert.NoError(t, l.Close())
}

func TestNetTLSUntrusted(t *testing.T) {
	log := utils.NewDefaultLogger(slog.LevelDebug)

	server := newLinkSet()
	l := NewNet(log, server.install, server.destroy, &NetTlsConfigOpt{Config: selfSigned(t)})
	require.NoError(t, l.Listen("tls://127.0.0.1:0"))
	addr := "tls://" + l.ListenAddr("tls://127.0.0.1:0").String()

	// trusts a different certificate
	client := newLinkSet()
	c := NewNet(log, client.install, client.destroy, &NetTlsConfigOpt{Config: selfSigned(t)})
	assert.Error(t, c.ConnectWait(context.Background(), addr))

	assert.NoError(t, c.Close())
	assert.NoError(t, l.Close())
}

func TestReadBatchOptKeepsDefaults(t *testing.T) {
	n := NewNet(utils.NewDefaultLogger(slog.LevelInfo), nil, nil, &NetReadBatchOpt{BufferMinToProcess: 64})
	assert.Equal(t, DEFAULT_BUFFER_MAX_SIZE, n.bufferMaxSize)
	assert.Equal(t, 64, n.bufferMinToProcess)
	assert.Zero(t, n.readAccumTimeLimit)
	assert.NoError(t, n.Close())
}

func TestConnectWaitFails(t *testing.T) {
	log := utils.NewDefaultLogger(slog.LevelDebug)

	// grab a free port and release it
	server := newLinkSet()
	l := NewNet(log, server.install, server.destroy)
	require.NoError(t, l.Listen("tcp://127.0.0.1:0"))
	addr := "tcp://" + l.ListenAddr("tcp://127.0.0.1:0").String()
	require.NoError(t, l.Close())

	client := newLinkSet()
	c := NewNet(log, client.install, client.destroy, fastRetry())
	assert.Error(t, c.ConnectWait(context.Background(), addr))
	assert.NoError(t, c.Close())
}

func TestParseAddr(t *testing.T) {
	cases := []struct {
		in   string
		typ  ConnType
		addr string
		err  error
	}{
		{"tcp://localhost:7147", TCP, "localhost:7147", nil},
		{"tls://example.com:443", TLS, "example.com:443", nil},
		{"localhost:7147", TCP, "localhost:7147", nil},
		{"quic://localhost:1", 0, "", ErrAddressInvalid},
	}
	for _, c := range cases {
		typ, addr, err := parseAddr(c.in)
		if c.err != nil {
			assert.ErrorIs(t, err, c.err)
			continue
		}
		assert.NoError(t, err)
		assert.Equal(t, c.typ, typ)
		assert.Equal(t, c.addr, addr)
	}
}
