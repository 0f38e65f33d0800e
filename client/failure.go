package client

import (
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
)

type FailureType uint8

const (
	FailureGeneric FailureType = iota
	FailureStateNotFound
	FailureNoAvailableStores
	FailureUnauthorized
)

// Close codes the coordinator uses to end a client session.
const (
	CloseStateNotFound     = 4000
	CloseNoAvailableStores = 4001
	CloseUnauthorized      = 4002
)

func (t FailureType) String() string {
	switch t {
	case FailureStateNotFound:
		return "STATE_NOT_FOUND"
	case FailureNoAvailableStores:
		return "NO_AVAILABLE_STORES"
	case FailureUnauthorized:
		return "UNAUTHORIZED"
	}
	return "GENERIC"
}

// ConnectionFailure tells why a Connection closed. It is also the error
// pending calls complete with.
type ConnectionFailure struct {
	Type    FailureType
	Message string
}

func (f ConnectionFailure) Error() string {
	if f.Message == "" {
		return fmt.Sprintf("connection failure: %s", f.Type)
	}
	return fmt.Sprintf("connection failure: %s: %s", f.Type, f.Message)
}

func classify(err error) ConnectionFailure {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return ConnectionFailure{Type: FailureGeneric, Message: err.Error()}
	}
	switch ce.Code {
	case CloseStateNotFound:
		return ConnectionFailure{Type: FailureStateNotFound, Message: ce.Text}
	case CloseNoAvailableStores:
		return ConnectionFailure{Type: FailureNoAvailableStores, Message: ce.Text}
	case CloseUnauthorized:
		return ConnectionFailure{Type: FailureUnauthorized, Message: ce.Text}
	}
	return ConnectionFailure{Type: FailureGeneric, Message: ce.Error()}
}
