package api

import (
	"github.com/drpcorg/roomsync/bin"
	"github.com/drpcorg/roomsync/schema"
	"github.com/pkg/errors"
)

// Server to client frame tags.
const (
	SnapshotTag uint8 = 0
	UpdateTag   uint8 = 1
)

// HandshakeTag opens a client connection.
const HandshakeTag uint8 = 0

// StateUpdate is a decoded update frame, tag excluded.
type StateUpdate struct {
	StateDiff     schema.Partial[PlayerStateDiff]
	ChangedAtDiff uint64
	Responses     []Message
	Events        []Message
}

func EncodeStateSnapshot(s PlayerState) ([]byte, error) {
	w := bin.NewWriter()
	w.WriteUInt8(SnapshotTag)
	EncodePlayerState(w, s)
	if err := w.Err(); err != nil {
		return nil, errors.Wrap(err, "invalid user state")
	}
	return w.Bytes(), nil
}

// EncodeStateUpdate writes the diff bytes only when d changed, so an
// unchanged state costs nothing past the message lists.
func EncodeStateUpdate(d schema.Partial[PlayerStateDiff], changedAtDiff uint64, messages []Message) ([]byte, error) {
	w := bin.NewWriter()
	w.WriteUInt8(UpdateTag)
	w.WriteUVarint(changedAtDiff)

	var responses, events []Message
	for _, msg := range messages {
		switch msg.Type {
		case MessageResponse:
			responses = append(responses, msg)
		case MessageEvent:
			events = append(events, msg)
		}
	}
	w.WriteUVarint(uint64(len(responses)))
	for _, msg := range responses {
		w.WriteUInt32(msg.MsgID)
		var errText *string
		if !msg.Response.IsOk() {
			errText = &msg.Response.Error
		}
		schema.WriteOptional(w, errText, schema.WriteString)
	}
	w.WriteUVarint(uint64(len(events)))
	for _, msg := range events {
		w.WriteString(msg.Event)
	}
	if diff, ok := d.Get(); ok {
		EncodePlayerStateDiff(w, diff)
	}
	if err := w.Err(); err != nil {
		return nil, errors.Wrap(err, "invalid user state")
	}
	return w.Bytes(), nil
}

func DecodeStateSnapshot(r *bin.Reader) (PlayerState, error) {
	s := DecodePlayerState(r)
	if err := r.Err(); err != nil {
		return PlayerState{}, errors.Wrap(err, "bad snapshot")
	}
	return s, nil
}

func DecodeStateUpdate(r *bin.Reader) (StateUpdate, error) {
	var u StateUpdate
	u.ChangedAtDiff = r.ReadUVarint()
	n := r.ReadUVarint()
	for i := uint64(0); i < n && r.Err() == nil; i++ {
		msgID := r.ReadUInt32()
		resp := Ok()
		if errText := schema.ReadOptional(r, schema.ReadString); errText != nil {
			resp = ErrorResponse(*errText)
		}
		u.Responses = append(u.Responses, ResponseMessage(msgID, resp))
	}
	n = r.ReadUVarint()
	for i := uint64(0); i < n && r.Err() == nil; i++ {
		u.Events = append(u.Events, EventMessage(r.ReadString()))
	}
	if r.Err() == nil && r.Remaining() > 0 {
		u.StateDiff = schema.Changed(DecodePlayerStateDiff(r))
	}
	if err := r.Err(); err != nil {
		return StateUpdate{}, errors.Wrap(err, "bad state update")
	}
	return u, nil
}
