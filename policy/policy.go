// Package policy is the boundary between the state store and the rules of
// a concrete application. A Policy mutates its internal state S in place
// and projects it into the user-facing api.PlayerState. Everything
// non-deterministic it needs (randomness, time, event fan-out) comes from
// the Context passed to each call.
package policy

import (
	"math/rand/v2"

	"github.com/drpcorg/roomsync/api"
	"github.com/drpcorg/roomsync/roomsync_errors"
	"github.com/drpcorg/roomsync/schema"
	"github.com/pkg/errors"
)

type Context interface {
	// Rand is seeded per session and call, so replaying the same calls
	// yields the same draws.
	Rand() *rand.Rand
	// Time is the call time in unix milliseconds.
	Time() int64
	SendEvent(event string, to api.UserID)
	BroadcastEvent(event string)
}

type Policy[S any] interface {
	Initialize(ctx Context, userID api.UserID, req api.InitializeRequest) S
	JoinGame(state *S, userID api.UserID, ctx Context, req api.JoinGameRequest) api.Response
	StartGame(state *S, userID api.UserID, ctx Context, req api.StartGameRequest) api.Response
	PlayCard(state *S, userID api.UserID, ctx Context, req api.PlayCardRequest) api.Response
	DrawCard(state *S, userID api.UserID, ctx Context, req api.DrawCardRequest) api.Response
	UserState(state S, userID api.UserID) api.PlayerState
}

// Handle decodes args for method and runs it. Malformed arguments and
// unknown methods return ErrBadRequest and never reach the policy.
func Handle[S any](p Policy[S], state *S, userID api.UserID, ctx Context, method api.Method, args []byte) (api.Response, error) {
	switch method {
	case api.MethodJoinGame:
		return call(args, api.DecodeJoinGameRequest, func(req api.JoinGameRequest) api.Response {
			return p.JoinGame(state, userID, ctx, req)
		})
	case api.MethodStartGame:
		return call(args, api.DecodeStartGameRequest, func(req api.StartGameRequest) api.Response {
			return p.StartGame(state, userID, ctx, req)
		})
	case api.MethodPlayCard:
		return call(args, api.DecodePlayCardRequest, func(req api.PlayCardRequest) api.Response {
			return p.PlayCard(state, userID, ctx, req)
		})
	case api.MethodDrawCard:
		return call(args, api.DecodeDrawCardRequest, func(req api.DrawCardRequest) api.Response {
			return p.DrawCard(state, userID, ctx, req)
		})
	}
	return api.Response{}, errors.Wrapf(roomsync_errors.ErrBadRequest, "unknown method %d", uint8(method))
}

func call[R any](args []byte, dec schema.ReadFunc[R], fn func(R) api.Response) (api.Response, error) {
	req, err := api.Unmarshal(dec, args)
	if err != nil {
		return api.Response{}, errors.Wrap(roomsync_errors.ErrBadRequest, err.Error())
	}
	return fn(req), nil
}

// Initialize decodes the initialize arguments and creates the state.
func Initialize[S any](p Policy[S], ctx Context, userID api.UserID, args []byte) (S, error) {
	req, err := api.Unmarshal(api.DecodeInitializeRequest, args)
	if err != nil {
		var zero S
		return zero, errors.Wrap(roomsync_errors.ErrBadRequest, err.Error())
	}
	return p.Initialize(ctx, userID, req), nil
}
