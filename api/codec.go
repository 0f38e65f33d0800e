package api

import (
	"github.com/drpcorg/roomsync/bin"
	"github.com/drpcorg/roomsync/schema"
)

func EncodeCard(w *bin.Writer, c Card) {
	schema.WriteInt(w, c.Value)
	EncodeColor(w, c.Color)
}

func DecodeCard(r *bin.Reader) Card {
	return Card{
		Value: schema.ReadInt[int](r),
		Color: DecodeColor(r),
	}
}

func EncodeCardDiff(w *bin.Writer, d CardDiff) {
	w.WriteBits(schema.Bits(d.Value, d.Color))
	schema.WriteIf(w, d.Value, schema.WriteInt[int])
	schema.WriteIf(w, d.Color, EncodeColor)
}

func DecodeCardDiff(r *bin.Reader) CardDiff {
	bits := r.ReadBits(2)
	return CardDiff{
		Value: schema.ReadIf(r, bits[0], schema.ReadInt[int]),
		Color: schema.ReadIf(r, bits[1], DecodeColor),
	}
}

func EncodePlayerState(w *bin.Writer, s PlayerState) {
	schema.WriteArray(w, s.Hand, EncodeCard)
	schema.WriteArray(w, s.Players, schema.WriteString)
	schema.WriteString(w, s.Turn)
	schema.WriteOptional(w, s.Pile, EncodeCard)
	schema.WriteOptional(w, s.Winner, schema.WriteString)
}

func DecodePlayerState(r *bin.Reader) PlayerState {
	return PlayerState{
		Hand:    schema.ReadArray(r, DecodeCard),
		Players: schema.ReadArray(r, schema.ReadString),
		Turn:    schema.ReadString(r),
		Pile:    schema.ReadOptional(r, DecodeCard),
		Winner:  schema.ReadOptional(r, schema.ReadString),
	}
}

func EncodePlayerStateDiff(w *bin.Writer, d PlayerStateDiff) {
	w.WriteBits(schema.Bits(d.Hand, d.Players, d.Turn, d.Pile, d.Winner))
	if hand, ok := d.Hand.Get(); ok {
		schema.WriteArrayDiff(w, hand, EncodeCardDiff)
	}
	if players, ok := d.Players.Get(); ok {
		schema.WriteArrayDiff(w, players, schema.WriteString)
	}
	schema.WriteIf(w, d.Turn, schema.WriteString)
	if pile, ok := d.Pile.Get(); ok {
		schema.WriteOptional(w, pile, EncodeCardDiff)
	}
	if winner, ok := d.Winner.Get(); ok {
		schema.WriteOptional(w, winner, schema.WriteString)
	}
}

func DecodePlayerStateDiff(r *bin.Reader) PlayerStateDiff {
	bits := r.ReadBits(5)
	var d PlayerStateDiff
	if bits[0] {
		d.Hand = schema.Changed(schema.ReadArrayDiff(r, DecodeCardDiff))
	}
	if bits[1] {
		d.Players = schema.Changed(schema.ReadArrayDiff(r, schema.ReadString))
	}
	d.Turn = schema.ReadIf(r, bits[2], schema.ReadString)
	if bits[3] {
		d.Pile = schema.Changed(schema.ReadOptional(r, DecodeCardDiff))
	}
	if bits[4] {
		d.Winner = schema.Changed(schema.ReadOptional(r, schema.ReadString))
	}
	return d
}

func EncodeInitializeRequest(*bin.Writer, InitializeRequest) {}

func DecodeInitializeRequest(*bin.Reader) InitializeRequest {
	return InitializeRequest{}
}

func EncodeJoinGameRequest(*bin.Writer, JoinGameRequest) {}

func DecodeJoinGameRequest(*bin.Reader) JoinGameRequest {
	return JoinGameRequest{}
}

func EncodeStartGameRequest(*bin.Writer, StartGameRequest) {}

func DecodeStartGameRequest(*bin.Reader) StartGameRequest {
	return StartGameRequest{}
}

func EncodePlayCardRequest(w *bin.Writer, req PlayCardRequest) {
	EncodeCard(w, req.Card)
}

func DecodePlayCardRequest(r *bin.Reader) PlayCardRequest {
	return PlayCardRequest{Card: DecodeCard(r)}
}

func EncodeDrawCardRequest(*bin.Writer, DrawCardRequest) {}

func DecodeDrawCardRequest(*bin.Reader) DrawCardRequest {
	return DrawCardRequest{}
}

// Marshal encodes v with enc into a fresh buffer.
func Marshal[T any](enc schema.WriteFunc[T], v T) ([]byte, error) {
	w := bin.NewWriter()
	enc(w, v)
	if err := w.Err(); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// Unmarshal decodes data with dec. Trailing bytes are ignored.
func Unmarshal[T any](dec schema.ReadFunc[T], data []byte) (T, error) {
	r := bin.NewReader(data)
	v := dec(r)
	return v, r.Err()
}
