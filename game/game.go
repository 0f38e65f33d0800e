// Package game is a small shedding card game played on top of roomsync:
// players join, someone starts the game, everyone is dealt a hand and
// takes turns playing a card that matches the pile by color or value, or
// drawing one. The first empty hand wins.
package game

import (
	"slices"

	"github.com/drpcorg/roomsync/api"
	"github.com/drpcorg/roomsync/policy"
)

type Player struct {
	ID   api.UserID
	Hand []api.Card
}

// State is the full table, deck included. Clients only ever see the
// PlayerState projection.
type State struct {
	Creator api.UserID
	Players []Player
	Deck    []api.Card
	Turn    api.UserID
	Pile    *api.Card
	Winner  *api.UserID
	Started bool
}

func (s *State) player(id api.UserID) *Player {
	for i := range s.Players {
		if s.Players[i].ID == id {
			return &s.Players[i]
		}
	}
	return nil
}

func (s *State) advanceTurn() {
	for i, p := range s.Players {
		if p.ID == s.Turn {
			s.Turn = s.Players[(i+1)%len(s.Players)].ID
			return
		}
	}
}

type Game struct {
	rules Rules
}

var _ policy.Policy[State] = (*Game)(nil)

func New(rules Rules) *Game {
	return &Game{rules: rules}
}

func (g *Game) Rules() Rules {
	return g.rules
}

func (g *Game) Initialize(ctx policy.Context, userID api.UserID, req api.InitializeRequest) State {
	return State{Creator: userID, Turn: userID}
}

func (g *Game) JoinGame(s *State, userID api.UserID, ctx policy.Context, req api.JoinGameRequest) api.Response {
	switch {
	case s.Started:
		return api.ErrorResponse("Game already started")
	case s.player(userID) != nil:
		return api.ErrorResponse("Already joined")
	case len(s.Players) >= g.rules.MaxPlayers:
		return api.ErrorResponse("Game is full")
	}
	s.Players = append(s.Players, Player{ID: userID, Hand: []api.Card{}})
	ctx.BroadcastEvent(userID + " joined")
	return api.Ok()
}

func (g *Game) StartGame(s *State, userID api.UserID, ctx policy.Context, req api.StartGameRequest) api.Response {
	switch {
	case s.Started:
		return api.ErrorResponse("Game already started")
	case s.player(userID) == nil:
		return api.ErrorResponse("Not a player")
	case len(s.Players) < g.rules.MinPlayers:
		return api.ErrorResponse("Not enough players")
	}

	deck := make([]api.Card, 0, 4*g.rules.MaxValue)
	for _, color := range []api.Color{api.ColorRed, api.ColorBlue, api.ColorGreen, api.ColorYellow} {
		for v := 1; v <= g.rules.MaxValue; v++ {
			deck = append(deck, api.Card{Value: v, Color: color})
		}
	}
	ctx.Rand().Shuffle(len(deck), func(i, j int) {
		deck[i], deck[j] = deck[j], deck[i]
	})

	for i := range s.Players {
		s.Players[i].Hand = slices.Clone(deck[:g.rules.HandSize])
		deck = deck[g.rules.HandSize:]
	}
	pile := deck[0]
	s.Pile = &pile
	s.Deck = slices.Clone(deck[1:])
	s.Turn = s.Players[0].ID
	s.Started = true
	ctx.BroadcastEvent("started")
	return api.Ok()
}

func (g *Game) checkTurn(s *State, userID api.UserID) (api.Response, bool) {
	switch {
	case !s.Started:
		return api.ErrorResponse("Game not started"), false
	case s.Winner != nil:
		return api.ErrorResponse("Game is over"), false
	case s.Turn != userID:
		return api.ErrorResponse("Not your turn"), false
	}
	return api.Ok(), true
}

func (g *Game) PlayCard(s *State, userID api.UserID, ctx policy.Context, req api.PlayCardRequest) api.Response {
	if resp, ok := g.checkTurn(s, userID); !ok {
		return resp
	}
	p := s.player(userID)
	idx := slices.Index(p.Hand, req.Card)
	if idx < 0 {
		return api.ErrorResponse("Card not in hand")
	}
	if s.Pile != nil && s.Pile.Color != req.Card.Color && s.Pile.Value != req.Card.Value {
		return api.ErrorResponse("Card does not match the pile")
	}

	p.Hand = slices.Delete(p.Hand, idx, idx+1)
	card := req.Card
	s.Pile = &card
	if len(p.Hand) == 0 {
		winner := userID
		s.Winner = &winner
		ctx.BroadcastEvent(userID + " won")
		return api.Ok()
	}
	s.advanceTurn()
	return api.Ok()
}

func (g *Game) DrawCard(s *State, userID api.UserID, ctx policy.Context, req api.DrawCardRequest) api.Response {
	if resp, ok := g.checkTurn(s, userID); !ok {
		return resp
	}
	if len(s.Deck) == 0 {
		return api.ErrorResponse("Deck is empty")
	}
	p := s.player(userID)
	card := s.Deck[len(s.Deck)-1]
	s.Deck = s.Deck[:len(s.Deck)-1]
	p.Hand = append(p.Hand, card)
	ctx.SendEvent("drew "+card.Color.String(), userID)
	s.advanceTurn()
	return api.Ok()
}

// UserState shows a player their own hand only. Spectators see an empty hand.
func (g *Game) UserState(s State, userID api.UserID) api.PlayerState {
	us := api.PlayerState{
		Hand:    []api.Card{},
		Players: make([]api.UserID, 0, len(s.Players)),
		Turn:    s.Turn,
	}
	for _, p := range s.Players {
		us.Players = append(us.Players, p.ID)
		if p.ID == userID {
			us.Hand = slices.Clone(p.Hand)
			if us.Hand == nil {
				us.Hand = []api.Card{}
			}
		}
	}
	if s.Pile != nil {
		pile := *s.Pile
		us.Pile = &pile
	}
	if s.Winner != nil {
		winner := *s.Winner
		us.Winner = &winner
	}
	return us
}
