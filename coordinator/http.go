package coordinator

import (
	"encoding/json"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/drpcorg/roomsync/api"
	"github.com/drpcorg/roomsync/bin"
	"github.com/drpcorg/roomsync/client"
	"github.com/drpcorg/roomsync/protocol"
	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	HANDSHAKE_TIMEOUT = 10 * time.Second
	MAX_CREATE_BODY   = 1 << 16
)

// Handler serves the client front:
//
//	POST /{app}/login/anonymous  issue a token
//	POST /{app}/create           create a session, Authorization: token
//	GET  /{app}                  websocket session
func (c *Coordinator) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			c.log.Info("coordinator: handled", "method", request.Method, "url", request.URL.Path, "duration", m.Duration, "status", m.Code)
		})
	})

	r.Methods(http.MethodPost).Path("/{app}/login/anonymous").HandlerFunc(c.loginAnonymous)
	r.Methods(http.MethodPost).Path("/{app}/create").HandlerFunc(c.create)
	r.Methods(http.MethodGet).Path("/{app}").HandlerFunc(c.connect)
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (c *Coordinator) loginAnonymous(w http.ResponseWriter, r *http.Request) {
	login := client.Login{Token: uuid.NewString(), UserID: uuid.NewString()}
	c.users.Store(login.Token, login.UserID)
	writeJSON(w, login)
}

func (c *Coordinator) create(w http.ResponseWriter, r *http.Request) {
	userID, ok := c.users.Load(r.Header.Get("Authorization"))
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	p, ok := c.apps.Load(mux.Vars(r)["app"])
	if !ok {
		http.Error(w, "no available stores", http.StatusServiceUnavailable)
		return
	}
	args, err := io.ReadAll(io.LimitReader(r.Body, MAX_CREATE_BODY))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sessionID := rand.Uint64()
	if err := p.send(protocol.Command{Type: protocol.CommandNewState, SessionID: sessionID, UserID: userID, Data: args}); err != nil {
		c.log.Error("coordinator: couldn't queue new state", "app", p.appID, "err", err)
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]string{"stateId": api.FormatSessionID(sessionID)})
}

func closeWith(ws *websocket.Conn, code int, text string) {
	ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
	ws.Close()
}

func (c *Coordinator) connect(w http.ResponseWriter, r *http.Request) {
	ws, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.log.Warn("coordinator: upgrade failed", "err", err)
		return
	}

	ws.SetReadDeadline(time.Now().Add(HANDSHAKE_TIMEOUT))
	_, data, err := ws.ReadMessage()
	if err != nil {
		ws.Close()
		return
	}
	hs := bin.NewReader(data)
	tag := hs.ReadUInt8()
	token := hs.ReadString()
	sessionID := hs.ReadUInt64()
	if hs.Err() != nil || tag != api.HandshakeTag {
		closeWith(ws, websocket.ClosePolicyViolation, "bad handshake")
		return
	}
	userID, ok := c.users.Load(token)
	if !ok {
		closeWith(ws, client.CloseUnauthorized, "unauthorized")
		return
	}
	p, ok := c.apps.Load(mux.Vars(r)["app"])
	if !ok {
		closeWith(ws, client.CloseNoAvailableStores, "no available stores")
		return
	}
	ws.SetReadDeadline(time.Time{})

	key := clientKey{sessionID: sessionID, userID: userID}
	cc := &clientConn{ws: ws}
	if old, loaded := p.clients.LoadAndStore(key, cc); loaded {
		old.close(websocket.CloseNormalClosure, "replaced by a newer connection")
	}
	defer func() {
		removed := false
		p.clients.Compute(key, func(cur *clientConn, loaded bool) (*clientConn, bool) {
			removed = loaded && cur == cc
			return cur, removed || !loaded
		})
		if removed {
			p.send(protocol.Command{Type: protocol.CommandUnsubscribeUser, SessionID: sessionID, UserID: userID})
		}
		ws.Close()
	}()

	if err := p.send(protocol.Command{Type: protocol.CommandSubscribeUser, SessionID: sessionID, UserID: userID}); err != nil {
		cc.close(client.CloseNoAvailableStores, "store unavailable")
		return
	}
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		if err := p.send(protocol.Command{Type: protocol.CommandHandleUpdate, SessionID: sessionID, UserID: userID, Data: data}); err != nil {
			cc.close(client.CloseNoAvailableStores, "store unavailable")
			return
		}
	}
}
