package api

import "fmt"

type Method uint8

const (
	MethodJoinGame Method = iota
	MethodStartGame
	MethodPlayCard
	MethodDrawCard
)

func (m Method) String() string {
	switch m {
	case MethodJoinGame:
		return "joinGame"
	case MethodStartGame:
		return "startGame"
	case MethodPlayCard:
		return "playCard"
	case MethodDrawCard:
		return "drawCard"
	}
	return fmt.Sprintf("Method(%d)", uint8(m))
}

type ResponseType uint8

const (
	ResponseOk ResponseType = iota
	ResponseError
)

// Response is the outcome of one method call. Error is set only for
// ResponseError.
type Response struct {
	Type  ResponseType
	Error string
}

func Ok() Response {
	return Response{Type: ResponseOk}
}

func ErrorResponse(msg string) Response {
	return Response{Type: ResponseError, Error: msg}
}

func (r Response) IsOk() bool {
	return r.Type == ResponseOk
}

type MessageType uint8

const (
	MessageResponse MessageType = iota
	MessageEvent
)

// Message is a pending response or event queued for one subscriber.
type Message struct {
	Type     MessageType
	MsgID    uint32
	Response Response
	Event    string
}

func ResponseMessage(msgID uint32, response Response) Message {
	return Message{Type: MessageResponse, MsgID: msgID, Response: response}
}

func EventMessage(event string) Message {
	return Message{Type: MessageEvent, Event: event}
}
