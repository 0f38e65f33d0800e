package protocol

import (
	"errors"
	"fmt"

	"github.com/drpcorg/roomsync/bin"
	pkgerrors "github.com/pkg/errors"
)

type CommandType uint8

const (
	CommandNewState CommandType = iota
	CommandSubscribeUser
	CommandUnsubscribeUser
	CommandHandleUpdate
)

func (t CommandType) String() string {
	switch t {
	case CommandNewState:
		return "new_state"
	case CommandSubscribeUser:
		return "subscribe_user"
	case CommandUnsubscribeUser:
		return "unsubscribe_user"
	case CommandHandleUpdate:
		return "handle_update"
	}
	return fmt.Sprintf("command(%d)", uint8(t))
}

type PushType uint8

const (
	PushStateUpdate PushType = iota
	PushStateNotFound
)

var ErrUnknownCommand = errors.New("unknown command type")

// Command is one dispatcher to server frame. Data is set for new state
// (initialize args) and handle update (method call) only.
type Command struct {
	Type      CommandType
	SessionID uint64
	UserID    string
	Data      []byte
}

// ParseCommand decodes a frame payload. The returned Data aliases payload.
func ParseCommand(payload []byte) (Command, error) {
	r := bin.NewReader(payload)
	cmd := Command{Type: CommandType(r.ReadUInt8())}
	if r.Err() == nil && cmd.Type > CommandHandleUpdate {
		return cmd, fmt.Errorf("%w: %d", ErrUnknownCommand, uint8(cmd.Type))
	}
	cmd.SessionID = r.ReadUInt64()
	cmd.UserID = r.ReadString()
	if cmd.Type == CommandNewState || cmd.Type == CommandHandleUpdate {
		cmd.Data = payload[len(payload)-r.Remaining():]
	}
	if err := r.Err(); err != nil {
		return Command{}, pkgerrors.Wrapf(err, "bad %s command", cmd.Type)
	}
	return cmd, nil
}

// Encode returns the command as a complete frame.
func (c Command) Encode() []byte {
	w := bin.NewWriterSize(HeaderLen + 9 + len(c.UserID) + len(c.Data) + 2)
	w.WriteUInt8(uint8(c.Type))
	w.WriteUInt64(c.SessionID)
	w.WriteString(c.UserID)
	w.WriteBytes(c.Data)
	return Frame(w.Bytes())
}

// Push is one server to dispatcher frame.
type Push struct {
	Type      PushType
	SessionID uint64
	UserID    string
	Data      []byte
}

// Encode returns the push as a complete frame. The header length is
// 9 + len(encoded user id) + len(data).
func (p Push) Encode() []byte {
	uid := bin.NewWriter()
	uid.WriteString(p.UserID)
	userIDBytes := uid.Bytes()

	w := bin.NewWriterSize(HeaderLen + 9 + len(userIDBytes) + len(p.Data))
	w.WriteUInt32(uint32(9 + len(userIDBytes) + len(p.Data)))
	w.WriteUInt8(uint8(p.Type))
	w.WriteUInt64(p.SessionID)
	w.WriteBytes(userIDBytes)
	w.WriteBytes(p.Data)
	return w.Bytes()
}

func StateUpdate(sessionID uint64, userID string, data []byte) Push {
	return Push{Type: PushStateUpdate, SessionID: sessionID, UserID: userID, Data: data}
}

func StateNotFound(sessionID uint64, userID string) Push {
	return Push{Type: PushStateNotFound, SessionID: sessionID, UserID: userID}
}

func ParsePush(payload []byte) (Push, error) {
	r := bin.NewReader(payload)
	p := Push{Type: PushType(r.ReadUInt8())}
	if r.Err() == nil && p.Type > PushStateNotFound {
		return p, fmt.Errorf("unknown push type %d", uint8(p.Type))
	}
	p.SessionID = r.ReadUInt64()
	p.UserID = r.ReadString()
	if p.Type == PushStateUpdate {
		p.Data = payload[len(payload)-r.Remaining():]
	}
	if err := r.Err(); err != nil {
		return Push{}, pkgerrors.Wrap(err, "bad push")
	}
	return p, nil
}
