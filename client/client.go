// Package client connects to a roomsync coordinator: anonymous login,
// session creation over HTTP and the duplex websocket session that keeps a
// replica of the user's state.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/drpcorg/roomsync/api"
	"github.com/drpcorg/roomsync/utils"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

type Client struct {
	log    utils.Logger
	base   *url.URL
	appID  string
	http   *http.Client
	dialer *websocket.Dialer
}

// Login is an anonymous identity issued by the coordinator.
type Login struct {
	Token  string     `json:"token"`
	UserID api.UserID `json:"userId"`
}

type createResponse struct {
	StateID string `json:"stateId"`
}

// New returns a Client for the application appID served at baseURL
// (http or https).
func New(log utils.Logger, baseURL, appID string) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "bad coordinator url %q", baseURL)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("bad coordinator url %q: scheme must be http or https", baseURL)
	}
	return &Client{
		log:    log,
		base:   base,
		appID:  appID,
		http:   http.DefaultClient,
		dialer: websocket.DefaultDialer,
	}, nil
}

func (c *Client) endpoint(parts ...string) *url.URL {
	return c.base.JoinPath(append([]string{c.appID}, parts...)...)
}

func (c *Client) post(ctx context.Context, u *url.URL, token string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "post %s", u.Path)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("post %s: unexpected status %d: %s", u.Path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) LoginAnonymous(ctx context.Context) (Login, error) {
	var l Login
	err := c.post(ctx, c.endpoint("login", "anonymous"), "", nil, &l)
	return l, err
}

// Create starts a new session and returns its base-36 id.
func (c *Client) Create(ctx context.Context, token string, req api.InitializeRequest) (string, error) {
	body, err := api.Marshal(api.EncodeInitializeRequest, req)
	if err != nil {
		return "", err
	}
	var resp createResponse
	if err := c.post(ctx, c.endpoint("create"), token, body, &resp); err != nil {
		return "", err
	}
	return resp.StateID, nil
}

func (c *Client) socketURL() string {
	u := c.endpoint()
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	return u.String()
}

// Connect opens a session in the background and returns at once in the
// Connecting state. Calls made before the socket opens wait for it.
// onFailure is called once when the connection closes for any reason
// other than Disconnect.
func (c *Client) Connect(ctx context.Context, token, sessionID string, onUpdate func(UpdateArgs), onFailure func(ConnectionFailure)) *Connection {
	conn := newConnection(c.log, sessionID, onUpdate, onFailure)
	go conn.open(ctx, c.dialer, c.socketURL(), token)
	return conn
}
