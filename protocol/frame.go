/*
Package protocol implements the wire format spoken between a state server
process and the dispatcher that fronts it.

# Framing

Every frame on the dispatcher link is a big-endian length followed by the
payload:

	[len uint32 BE][payload len bytes]

Split consumes all complete frames from a read buffer and leaves a partial
tail (even a partial length header) in place until more bytes arrive.

# Registration

The server opens the link by writing a raw JSON registration object with no
length prefix. Everything after it is framed.

# Commands and pushes

Dispatcher to server frames are Commands (new state, subscribe, unsubscribe,
handle update). Server to dispatcher frames are Pushes (state update, state
not found).
*/
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const HeaderLen = 4

// MaxFrameLen bounds a single payload. Larger length headers mean the
// stream is out of sync.
const MaxFrameLen = 1 << 26

var (
	ErrIncomplete = errors.New("incomplete data")
	ErrBadFrame   = errors.New("bad frame length")
)

// Split parses every complete frame in data and returns their payloads.
// Consumed bytes are removed from the buffer. A trailing partial frame is
// left buffered and reported with ErrIncomplete alongside the complete ones.
func Split(data *bytes.Buffer) (recs Records, err error) {
	for data.Len() >= HeaderLen {
		blen := binary.BigEndian.Uint32(data.Bytes())
		if blen > MaxFrameLen {
			return recs, fmt.Errorf("%w: %d", ErrBadFrame, blen)
		}
		if HeaderLen+int(blen) > data.Len() {
			return recs, errors.Join(ErrIncomplete, fmt.Errorf("frame size %d, len %d", HeaderLen+int(blen), data.Len()))
		}
		data.Next(HeaderLen)
		payload := make([]byte, blen)
		copy(payload, data.Next(int(blen)))
		recs = append(recs, payload)
	}
	if data.Len() > 0 {
		err = ErrIncomplete
	}
	return
}

// AppendFrame appends the length header and the concatenated body parts.
func AppendFrame(into []byte, body ...[]byte) []byte {
	total := 0
	for _, b := range body {
		total += len(b)
	}
	into = binary.BigEndian.AppendUint32(into, uint32(total))
	for _, b := range body {
		into = append(into, b...)
	}
	return into
}

func Frame(body ...[]byte) []byte {
	total := HeaderLen
	for _, b := range body {
		total += len(b)
	}
	return AppendFrame(make([]byte, 0, total), body...)
}
