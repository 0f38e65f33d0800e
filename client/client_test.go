package client

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/drpcorg/roomsync/api"
	"github.com/drpcorg/roomsync/bin"
	"github.com/drpcorg/roomsync/roomsync_errors"
	"github.com/drpcorg/roomsync/schema"
	"github.com/drpcorg/roomsync/utils"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCoordinator accepts one socket per test and hands it over.
type fakeCoordinator struct {
	srv   *httptest.Server
	socks chan *websocket.Conn
}

func newFakeCoordinator(t *testing.T) *fakeCoordinator {
	f := &fakeCoordinator{socks: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/app", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.socks <- ws
	})
	mux.HandleFunc("/app/login/anonymous", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token":"t1","userId":"u1"}`))
	})
	mux.HandleFunc("/app/create", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "t1" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"stateId":"a1"}`))
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeCoordinator) client(t *testing.T) *Client {
	c, err := New(utils.NewDefaultLogger(slog.LevelDebug), f.srv.URL, "app")
	require.NoError(t, err)
	return c
}

func (f *fakeCoordinator) accept(t *testing.T) *websocket.Conn {
	select {
	case ws := <-f.socks:
		t.Cleanup(func() { ws.Close() })
		return ws
	case <-time.After(5 * time.Second):
		t.Fatal("no socket")
		return nil
	}
}

func readCall(t *testing.T, ws *websocket.Conn) (api.Method, uint32, []byte) {
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	r := bin.NewReader(data)
	method := api.Method(r.ReadUInt8())
	msgID := r.ReadUInt32()
	require.NoError(t, r.Err())
	return method, msgID, data[5:]
}

func send(t *testing.T, ws *websocket.Conn, data []byte) {
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, data))
}

func collect(updates chan UpdateArgs) func(UpdateArgs) {
	return func(u UpdateArgs) { updates <- u }
}

func next(t *testing.T, updates chan UpdateArgs) UpdateArgs {
	select {
	case u := <-updates:
		return u
	case <-time.After(5 * time.Second):
		t.Fatal("no update")
		return UpdateArgs{}
	}
}

func TestLoginAndCreate(t *testing.T) {
	f := newFakeCoordinator(t)
	c := f.client(t)
	ctx := context.Background()

	l, err := c.LoginAnonymous(ctx)
	require.NoError(t, err)
	assert.Equal(t, Login{Token: "t1", UserID: "u1"}, l)

	id, err := c.Create(ctx, l.Token, api.InitializeRequest{})
	require.NoError(t, err)
	assert.Equal(t, "a1", id)

	_, err = c.Create(ctx, "nope", api.InitializeRequest{})
	assert.ErrorContains(t, err, "401")

	_, err = New(nil, "ftp://x", "app")
	assert.Error(t, err)
}

func TestSessionFlow(t *testing.T) {
	f := newFakeCoordinator(t)
	updates := make(chan UpdateArgs, 16)
	conn := f.client(t).Connect(context.Background(), "t1", "a1", collect(updates), func(f ConnectionFailure) {
		t.Errorf("unexpected failure %v", f)
	})
	defer conn.Disconnect()

	// queued until the socket opens
	type result struct {
		resp api.Response
		err  error
	}
	results := make(chan result, 1)
	go func() {
		resp, err := conn.PlayCard(context.Background(), api.PlayCardRequest{Card: api.Card{Value: 3, Color: api.ColorBlue}})
		results <- result{resp, err}
	}()

	ws := f.accept(t)
	_, hs, err := ws.ReadMessage()
	require.NoError(t, err)
	r := bin.NewReader(hs)
	assert.Equal(t, api.HandshakeTag, r.ReadUInt8())
	assert.Equal(t, "t1", r.ReadString())
	assert.Equal(t, uint64(10*36+1), r.ReadUInt64())
	require.NoError(t, r.Err())

	method, msgID, args := readCall(t, ws)
	assert.Equal(t, api.MethodPlayCard, method)
	req, err := api.Unmarshal(api.DecodePlayCardRequest, args)
	require.NoError(t, err)
	assert.Equal(t, api.Card{Value: 3, Color: api.ColorBlue}, req.Card)

	server := api.PlayerState{Hand: []api.Card{{Value: 3, Color: api.ColorBlue}}, Players: []api.UserID{"u1"}, Turn: "u1"}
	snapshot, err := api.EncodeStateSnapshot(server)
	require.NoError(t, err)
	send(t, ws, snapshot)
	u := next(t, updates)
	assert.Equal(t, "a1", u.SessionID)
	assert.Equal(t, uint64(0), u.UpdatedAt)
	assert.Equal(t, []string{}, u.Events)
	assert.Equal(t, server.Hand, u.State.Hand)

	// the copy handed out is not the replica
	u.State.Hand[0].Value = 100

	played := server.Clone()
	played.Hand = nil
	played.Pile = &api.Card{Value: 3, Color: api.ColorBlue}
	update, err := api.EncodeStateUpdate(api.ComputeDiff(played, server), 25, []api.Message{
		api.ResponseMessage(msgID^1, api.ErrorResponse("stale")),
		api.ResponseMessage(msgID, api.Ok()),
		api.EventMessage("u1 played"),
	})
	require.NoError(t, err)
	send(t, ws, update)

	u = next(t, updates)
	assert.Equal(t, uint64(25), u.UpdatedAt)
	assert.Equal(t, []string{"u1 played"}, u.Events)
	assert.Empty(t, u.State.Hand)
	assert.Equal(t, played.Pile, u.State.Pile)

	select {
	case res := <-results:
		require.NoError(t, res.err)
		assert.Equal(t, api.Ok(), res.resp)
	case <-time.After(5 * time.Second):
		t.Fatal("call never completed")
	}

	// unknown tags are dropped, the stream goes on
	send(t, ws, []byte{7, 1, 2})
	update, err = api.EncodeStateUpdate(schema.Unchanged[api.PlayerStateDiff](), 5, nil)
	require.NoError(t, err)
	send(t, ws, update)
	u = next(t, updates)
	assert.Equal(t, uint64(30), u.UpdatedAt)

	state, clock := conn.Replica()
	assert.Equal(t, u.State, state)
	assert.Equal(t, uint64(30), clock)
	assert.Equal(t, StateOpen, conn.State())
}

func TestFailureClassification(t *testing.T) {
	tests := []struct {
		code int
		want FailureType
	}{
		{CloseStateNotFound, FailureStateNotFound},
		{CloseNoAvailableStores, FailureNoAvailableStores},
		{CloseUnauthorized, FailureUnauthorized},
		{websocket.CloseGoingAway, FailureGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			f := newFakeCoordinator(t)
			failures := make(chan ConnectionFailure, 2)
			conn := f.client(t).Connect(context.Background(), "t1", "a1", nil, func(f ConnectionFailure) {
				failures <- f
			})

			ws := f.accept(t)
			_, _, err := ws.ReadMessage()
			require.NoError(t, err)

			pending := make(chan error, 1)
			go func() {
				_, err := conn.DrawCard(context.Background(), api.DrawCardRequest{})
				pending <- err
			}()
			readCall(t, ws)

			ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(tt.code, "bye"), time.Now().Add(time.Second))

			var got ConnectionFailure
			select {
			case got = <-failures:
			case <-time.After(5 * time.Second):
				t.Fatal("no failure")
			}
			assert.Equal(t, tt.want, got.Type)

			err = <-pending
			var failure ConnectionFailure
			require.True(t, errors.As(err, &failure))
			assert.Equal(t, tt.want, failure.Type)

			_, err = conn.DrawCard(context.Background(), api.DrawCardRequest{})
			assert.ErrorIs(t, err, roomsync_errors.ErrConnectionClosed)
			assert.Len(t, failures, 0, "reported once")
		})
	}
}

func TestDialFailure(t *testing.T) {
	f := newFakeCoordinator(t)
	c := f.client(t)
	f.srv.Close()

	failures := make(chan ConnectionFailure, 1)
	conn := c.Connect(context.Background(), "t1", "a1", nil, func(f ConnectionFailure) { failures <- f })
	select {
	case got := <-failures:
		assert.Equal(t, FailureGeneric, got.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("no failure")
	}
	_, err := conn.JoinGame(context.Background(), api.JoinGameRequest{})
	assert.ErrorIs(t, err, roomsync_errors.ErrConnectionClosed)

	bad := c.Connect(context.Background(), "t1", "not base36!", nil, func(f ConnectionFailure) { failures <- f })
	<-bad.Done()
	assert.Equal(t, FailureGeneric, (<-failures).Type)
}

func TestDisconnectFailsPendingCalls(t *testing.T) {
	f := newFakeCoordinator(t)
	conn := f.client(t).Connect(context.Background(), "t1", "a1", nil, func(f ConnectionFailure) {
		t.Errorf("failure after disconnect: %v", f)
	})
	ws := f.accept(t)
	_, _, err := ws.ReadMessage()
	require.NoError(t, err)

	pending := make(chan error, 1)
	go func() {
		_, err := conn.StartGame(context.Background(), api.StartGameRequest{})
		pending <- err
	}()
	readCall(t, ws)

	conn.Disconnect()
	assert.ErrorIs(t, <-pending, roomsync_errors.ErrDisconnected)
	assert.Equal(t, StateClosed, conn.State())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = conn.StartGame(ctx, api.StartGameRequest{})
	assert.ErrorIs(t, err, roomsync_errors.ErrConnectionClosed)
}

func TestRepeatedResponseIgnored(t *testing.T) {
	f := newFakeCoordinator(t)
	updates := make(chan UpdateArgs, 16)
	conn := f.client(t).Connect(context.Background(), "t1", "a1", collect(updates), nil)
	defer conn.Disconnect()
	ws := f.accept(t)
	_, _, err := ws.ReadMessage()
	require.NoError(t, err)

	snapshot, err := api.EncodeStateSnapshot(api.PlayerState{Turn: "u1"})
	require.NoError(t, err)
	send(t, ws, snapshot)
	next(t, updates)

	first := make(chan api.Response, 2)
	go func() {
		res, err := conn.JoinGame(context.Background(), api.JoinGameRequest{})
		assert.NoError(t, err)
		first <- res
	}()
	_, msgID, _ := readCall(t, ws)

	update, err := api.EncodeStateUpdate(schema.Unchanged[api.PlayerStateDiff](), 0,
		[]api.Message{api.ResponseMessage(msgID, api.Ok())})
	require.NoError(t, err)
	send(t, ws, update)
	next(t, updates)
	assert.True(t, (<-first).IsOk())

	// the same id again, with a state change
	update, err = api.EncodeStateUpdate(schema.Changed(api.PlayerStateDiff{Turn: schema.Changed("u2")}), 5,
		[]api.Message{api.ResponseMessage(msgID, api.ErrorResponse("late"))})
	require.NoError(t, err)
	send(t, ws, update)
	u := next(t, updates)
	assert.Equal(t, "u2", u.State.Turn)
	assert.Equal(t, uint64(5), u.UpdatedAt)
	assert.Empty(t, first)

	second := make(chan api.Response, 1)
	go func() {
		res, err := conn.DrawCard(context.Background(), api.DrawCardRequest{})
		assert.NoError(t, err)
		second <- res
	}()
	_, drawID, _ := readCall(t, ws)
	update, err = api.EncodeStateUpdate(schema.Unchanged[api.PlayerStateDiff](), 1,
		[]api.Message{api.ResponseMessage(drawID, api.ErrorResponse("Not your turn"))})
	require.NoError(t, err)
	send(t, ws, update)
	assert.Equal(t, api.ErrorResponse("Not your turn"), <-second)

	replica, clock := conn.Replica()
	assert.Equal(t, "u2", replica.Turn)
	assert.Equal(t, uint64(6), clock)
	assert.Empty(t, first)
}

func TestDisconnectOutcomeWithEchoedClose(t *testing.T) {
	f := newFakeCoordinator(t)
	c := f.client(t)
	for i := 0; i < 10; i++ {
		conn := c.Connect(context.Background(), "t1", "a1", nil, func(f ConnectionFailure) {
			t.Errorf("failure after disconnect: %v", f)
		})
		ws := f.accept(t)
		_, _, err := ws.ReadMessage()
		require.NoError(t, err)
		require.Eventually(t, func() bool { return conn.State() == StateOpen }, 5*time.Second, time.Millisecond)

		// the default close handler echoes the close frame right away
		go func() {
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()
		conn.Disconnect()
		<-conn.Done()
		assert.ErrorIs(t, conn.Err(), roomsync_errors.ErrDisconnected)
	}
}
