package api

import (
	"github.com/drpcorg/roomsync/schema"
)

func DiffCard(next, prev Card) schema.Partial[CardDiff] {
	d := CardDiff{
		Value: schema.DiffPrimitive(next.Value, prev.Value),
		Color: schema.DiffPrimitive(next.Color, prev.Color),
	}
	return schema.Record(d, d.Value, d.Color)
}

func FullCard(c Card) CardDiff {
	return CardDiff{
		Value: schema.Changed(c.Value),
		Color: schema.Changed(c.Color),
	}
}

func PatchCard(prev Card, d CardDiff) Card {
	return Card{
		Value: schema.Patch(prev.Value, d.Value),
		Color: schema.Patch(prev.Color, d.Color),
	}
}

func diffPlayerState(next, prev PlayerState) schema.Partial[PlayerStateDiff] {
	d := PlayerStateDiff{
		Hand:    schema.DiffArray[Card, CardDiff](next.Hand, prev.Hand, DiffCard, FullCard),
		Players: schema.DiffArray[UserID, UserID](next.Players, prev.Players, schema.DiffPrimitive[UserID], schema.Identity[UserID]),
		Turn:    schema.DiffPrimitive(next.Turn, prev.Turn),
		Pile:    schema.DiffOptional[Card, CardDiff](next.Pile, prev.Pile, DiffCard, FullCard),
		Winner:  schema.DiffOptional[UserID, UserID](next.Winner, prev.Winner, schema.DiffPrimitive[UserID], schema.Identity[UserID]),
	}
	return schema.Record(d, d.Hand, d.Players, d.Turn, d.Pile, d.Winner)
}

// ComputeDiff is the minimal diff taking prev to next. Equal states give
// an Unchanged diff. The computation is pure.
func ComputeDiff(next, prev PlayerState) schema.Partial[PlayerStateDiff] {
	return diffPlayerState(next, prev)
}

// FullPlayerState is the diff reproducing s from any baseline.
func FullPlayerState(s PlayerState) PlayerStateDiff {
	return PlayerStateDiff{
		Hand:    schema.Changed(schema.FullArray(s.Hand, FullCard)),
		Players: schema.Changed(schema.FullArray(s.Players, schema.Identity[UserID])),
		Turn:    schema.Changed(s.Turn),
		Pile:    schema.Changed(schema.FullOptional(s.Pile, FullCard)),
		Winner:  schema.Changed(schema.FullOptional(s.Winner, schema.Identity[UserID])),
	}
}

// ComputePatch folds d into prev. It never mutates prev.
func ComputePatch(prev PlayerState, d PlayerStateDiff) PlayerState {
	return PlayerState{
		Hand: schema.PatchWith(prev.Hand, d.Hand, func(p []Card, d []schema.Partial[CardDiff]) []Card {
			return schema.PatchArray(p, d, PatchCard)
		}),
		Players: schema.PatchWith(prev.Players, d.Players, func(p []UserID, d []schema.Partial[UserID]) []UserID {
			return schema.PatchArray(p, d, schema.Replace[UserID])
		}),
		Turn: schema.Patch(prev.Turn, d.Turn),
		Pile: schema.PatchWith(prev.Pile, d.Pile, func(p *Card, d *CardDiff) *Card {
			return schema.PatchOptional(p, d, PatchCard)
		}),
		Winner: schema.PatchWith(prev.Winner, d.Winner, func(p *UserID, d *UserID) *UserID {
			return schema.PatchOptional(p, d, schema.Replace[UserID])
		}),
	}
}
