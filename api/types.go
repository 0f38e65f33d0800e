// Package api holds the card-game schema replicated by roomsync: its types,
// their full and diff encodings, the differ and patcher for the user-facing
// state, and the snapshot/update frames sent to clients.
package api

import (
	"github.com/drpcorg/roomsync/bin"
	"github.com/drpcorg/roomsync/schema"
)

type UserID = string

type Color uint8

const (
	ColorRed Color = iota
	ColorBlue
	ColorGreen
	ColorYellow

	colorCount = 4
)

var colorNames = [colorCount]string{"RED", "BLUE", "GREEN", "YELLOW"}

func (c Color) String() string {
	if int(c) < colorCount {
		return colorNames[c]
	}
	return "Color(?)"
}

// ParseColor accepts the upper case label.
func ParseColor(s string) (Color, bool) {
	for i, name := range colorNames {
		if name == s {
			return Color(i), true
		}
	}
	return 0, false
}

func EncodeColor(w *bin.Writer, c Color) {
	schema.WriteEnum(w, c, colorCount, "Color")
}

func DecodeColor(r *bin.Reader) Color {
	return schema.ReadEnum[Color](r, colorCount, "Color")
}

type Card struct {
	Value int
	Color Color
}

type CardDiff struct {
	Value schema.Partial[int]
	Color schema.Partial[Color]
}

type PlayerState struct {
	Hand    []Card
	Players []UserID
	Turn    UserID
	Pile    *Card
	Winner  *UserID
}

type PlayerStateDiff struct {
	Hand    schema.Partial[[]schema.Partial[CardDiff]]
	Players schema.Partial[[]schema.Partial[UserID]]
	Turn    schema.Partial[UserID]
	Pile    schema.Partial[*CardDiff]
	Winner  schema.Partial[*UserID]
}

// Clone returns a deep copy.
func (s PlayerState) Clone() PlayerState {
	c := PlayerState{Turn: s.Turn}
	if s.Hand != nil {
		c.Hand = append(make([]Card, 0, len(s.Hand)), s.Hand...)
	}
	if s.Players != nil {
		c.Players = append(make([]UserID, 0, len(s.Players)), s.Players...)
	}
	if s.Pile != nil {
		pile := *s.Pile
		c.Pile = &pile
	}
	if s.Winner != nil {
		winner := *s.Winner
		c.Winner = &winner
	}
	return c
}

type InitializeRequest struct{}

type JoinGameRequest struct{}

type StartGameRequest struct{}

type PlayCardRequest struct {
	Card Card
}

type DrawCardRequest struct{}
