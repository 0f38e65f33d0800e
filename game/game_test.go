package game

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/drpcorg/roomsync/api"
	"github.com/drpcorg/roomsync/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func started(t *testing.T, seed uint64) (*Game, State) {
	g := New(DefaultRules())
	s := g.Initialize(policy.NewContext(seed, 0, 1), "alice", api.InitializeRequest{})
	for _, u := range []api.UserID{"alice", "bob"} {
		require.True(t, g.JoinGame(&s, u, policy.NewContext(seed, 1, 2), api.JoinGameRequest{}).IsOk())
	}
	require.True(t, g.StartGame(&s, "alice", policy.NewContext(seed, 2, 3), api.StartGameRequest{}).IsOk())
	return g, s
}

func TestJoinAndStart(t *testing.T) {
	g := New(DefaultRules())
	ctx := policy.NewContext(1, 0, 0)
	s := g.Initialize(ctx, "alice", api.InitializeRequest{})
	assert.Equal(t, "alice", s.Turn)

	assert.True(t, g.JoinGame(&s, "alice", ctx, api.JoinGameRequest{}).IsOk())
	assert.Equal(t, api.ErrorResponse("Already joined"), g.JoinGame(&s, "alice", ctx, api.JoinGameRequest{}))
	assert.Equal(t, api.ErrorResponse("Not enough players"), g.StartGame(&s, "alice", ctx, api.StartGameRequest{}))
	assert.True(t, g.JoinGame(&s, "bob", ctx, api.JoinGameRequest{}).IsOk())
	assert.Equal(t, api.ErrorResponse("Not a player"), g.StartGame(&s, "carol", ctx, api.StartGameRequest{}))
	assert.True(t, g.StartGame(&s, "bob", ctx, api.StartGameRequest{}).IsOk())
	assert.Equal(t, api.ErrorResponse("Game already started"), g.JoinGame(&s, "carol", ctx, api.JoinGameRequest{}))

	assert.Equal(t, []policy.Event{{Name: "alice joined"}, {Name: "bob joined"}, {Name: "started"}}, ctx.Events())

	for _, p := range s.Players {
		assert.Len(t, p.Hand, 7)
	}
	assert.NotNil(t, s.Pile)
	assert.Len(t, s.Deck, 4*9-2*7-1)
	assert.Equal(t, "alice", s.Turn)
}

func TestShuffleIsSeeded(t *testing.T) {
	_, a := started(t, 7)
	_, b := started(t, 7)
	_, c := started(t, 8)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a.Deck, c.Deck)
}

func TestPlayAndDraw(t *testing.T) {
	g, s := started(t, 3)
	ctx := policy.NewContext(3, 9, 10)

	assert.Equal(t, api.ErrorResponse("Not your turn"), g.DrawCard(&s, "bob", ctx, api.DrawCardRequest{}))
	assert.Equal(t, api.ErrorResponse("Card not in hand"), g.PlayCard(&s, "alice", ctx, api.PlayCardRequest{Card: api.Card{Value: 100}}))

	// a card that matches neither color nor value
	pile := *s.Pile
	var mismatch *api.Card
	for _, c := range s.player("alice").Hand {
		if c.Color != pile.Color && c.Value != pile.Value {
			mismatch = &c
			break
		}
	}
	if mismatch != nil {
		assert.Equal(t, api.ErrorResponse("Card does not match the pile"), g.PlayCard(&s, "alice", ctx, api.PlayCardRequest{Card: *mismatch}))
	}

	deck := len(s.Deck)
	require.True(t, g.DrawCard(&s, "alice", ctx, api.DrawCardRequest{}).IsOk())
	assert.Len(t, s.player("alice").Hand, 8)
	assert.Len(t, s.Deck, deck-1)
	assert.Equal(t, "bob", s.Turn)
	require.Len(t, ctx.Events(), 1)
	assert.Equal(t, "alice", ctx.Events()[0].To)

	// force a playable card into bob's hand
	bob := s.player("bob")
	bob.Hand[0] = api.Card{Value: s.Pile.Value, Color: s.Pile.Color}
	require.True(t, g.PlayCard(&s, "bob", ctx, api.PlayCardRequest{Card: bob.Hand[0]}).IsOk())
	assert.Len(t, bob.Hand, 6)
	assert.Equal(t, "alice", s.Turn)
}

func TestWinner(t *testing.T) {
	g, s := started(t, 5)
	ctx := policy.NewContext(5, 9, 10)
	alice := s.player("alice")
	card := api.Card{Value: s.Pile.Value, Color: api.Color((int(s.Pile.Color) + 1) % 4)}
	alice.Hand = []api.Card{card}

	require.True(t, g.PlayCard(&s, "alice", ctx, api.PlayCardRequest{Card: card}).IsOk())
	require.NotNil(t, s.Winner)
	assert.Equal(t, "alice", *s.Winner)
	assert.Equal(t, api.ErrorResponse("Game is over"), g.DrawCard(&s, "alice", ctx, api.DrawCardRequest{}))
	assert.Contains(t, ctx.Events(), policy.Event{Name: "alice won"})
}

func TestUserStateHidesOtherHands(t *testing.T) {
	g, s := started(t, 11)

	us := g.UserState(s, "bob")
	assert.Equal(t, s.player("bob").Hand, us.Hand)
	assert.Equal(t, []api.UserID{"alice", "bob"}, us.Players)
	assert.Equal(t, *s.Pile, *us.Pile)

	// the projection is a copy
	us.Hand[0].Value = -1
	us.Pile.Value = -1
	assert.NotEqual(t, -1, s.player("bob").Hand[0].Value)
	assert.NotEqual(t, -1, s.Pile.Value)

	spectator := g.UserState(s, "carol")
	assert.Empty(t, spectator.Hand)
	assert.NotNil(t, spectator.Hand)
}

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hand_size: 5\nmax_players: 4\n"), 0o644))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, Rules{HandSize: 5, MinPlayers: 2, MaxPlayers: 4, MaxValue: 9}, rules)

	require.NoError(t, os.WriteFile(path, []byte("hand_size: 20\n"), 0o644))
	_, err = LoadRules(path)
	assert.Error(t, err)

	_, err = LoadRules(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
