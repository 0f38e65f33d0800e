package api

import (
	"math/rand/v2"
	"testing"

	"github.com/drpcorg/roomsync/bin"
	"github.com/drpcorg/roomsync/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T {
	return &v
}

func randomState(rnd *rand.Rand) PlayerState {
	var s PlayerState
	for i := rnd.IntN(4); i > 0; i-- {
		s.Hand = append(s.Hand, Card{Value: rnd.IntN(20) - 5, Color: Color(rnd.IntN(colorCount))})
	}
	for i := rnd.IntN(4); i > 0; i-- {
		s.Players = append(s.Players, []string{"u1", "u2", "u3"}[rnd.IntN(3)])
	}
	s.Turn = []string{"", "u1", "u2"}[rnd.IntN(3)]
	if rnd.IntN(2) == 0 {
		s.Pile = &Card{Value: rnd.IntN(10), Color: Color(rnd.IntN(colorCount))}
	}
	if rnd.IntN(3) == 0 {
		s.Winner = ptr([]string{"u1", "u2"}[rnd.IntN(2)])
	}
	return s
}

// normalize maps empty slices to nil so decoded and generated values compare equal.
func normalize(s PlayerState) PlayerState {
	if len(s.Hand) == 0 {
		s.Hand = nil
	}
	if len(s.Players) == 0 {
		s.Players = nil
	}
	return s
}

func TestPlayerStateRoundTrip(t *testing.T) {
	rnd := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 200; i++ {
		s := randomState(rnd)
		data, err := Marshal(EncodePlayerState, s)
		require.NoError(t, err)
		got, err := Unmarshal(DecodePlayerState, data)
		require.NoError(t, err)
		assert.Equal(t, normalize(s), normalize(got))
	}
}

func TestDiffPatchIdentity(t *testing.T) {
	rnd := rand.New(rand.NewPCG(3, 4))
	for i := 0; i < 500; i++ {
		prev, next := randomState(rnd), randomState(rnd)
		d := ComputeDiff(next, prev)

		patched := prev
		if diff, ok := d.Get(); ok {
			// through the wire
			w := bin.NewWriter()
			EncodePlayerStateDiff(w, diff)
			require.NoError(t, w.Err())
			r := bin.NewReader(w.Bytes())
			decoded := DecodePlayerStateDiff(r)
			require.NoError(t, r.Err())
			assert.Equal(t, 0, r.Remaining())

			patched = ComputePatch(prev, decoded)
		}
		assert.Equal(t, normalize(next), normalize(patched))
	}
}

func TestDiffOfEqualIsUnchanged(t *testing.T) {
	rnd := rand.New(rand.NewPCG(5, 6))
	for i := 0; i < 100; i++ {
		s := randomState(rnd)
		assert.False(t, ComputeDiff(s, s.Clone()).IsChanged())
	}
}

func TestDiffIsDeterministic(t *testing.T) {
	rnd := rand.New(rand.NewPCG(7, 8))
	prev, next := randomState(rnd), randomState(rnd)
	assert.Equal(t, ComputeDiff(next, prev), ComputeDiff(next, prev))
}

func TestFullDiffFromAnyBaseline(t *testing.T) {
	rnd := rand.New(rand.NewPCG(9, 10))
	for i := 0; i < 100; i++ {
		prev, next := randomState(rnd), randomState(rnd)
		assert.Equal(t, normalize(next), normalize(ComputePatch(prev, FullPlayerState(next))))
	}
}

func TestSnapshotThenUpdate(t *testing.T) {
	server := PlayerState{Hand: []Card{}, Players: []UserID{}, Turn: "u1"}

	snapshot, err := EncodeStateSnapshot(server)
	require.NoError(t, err)
	r := bin.NewReader(snapshot)
	require.Equal(t, SnapshotTag, r.ReadUInt8())
	replica, err := DecodeStateSnapshot(r)
	require.NoError(t, err)
	assert.Equal(t, normalize(server), normalize(replica))

	next := server.Clone()
	next.Turn = "u2"
	d := ComputeDiff(next, server)
	assert.Equal(t, schema.Changed(PlayerStateDiff{Turn: schema.Changed("u2")}), d)

	update, err := EncodeStateUpdate(d, 12, nil)
	require.NoError(t, err)
	r = bin.NewReader(update)
	require.Equal(t, UpdateTag, r.ReadUInt8())
	u, err := DecodeStateUpdate(r)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), u.ChangedAtDiff)
	diff, ok := u.StateDiff.Get()
	require.True(t, ok)

	patched := ComputePatch(replica, diff)
	assert.Equal(t, "u2", patched.Turn)
	assert.Equal(t, replica.Hand, patched.Hand)
	assert.Equal(t, replica.Players, patched.Players)
	assert.Nil(t, patched.Pile)
	assert.Nil(t, patched.Winner)
}

func TestListGrowth(t *testing.T) {
	prev := PlayerState{Turn: "u1"}
	next := PlayerState{Turn: "u1", Hand: []Card{{Value: 5, Color: ColorRed}}}

	d, ok := ComputeDiff(next, prev).Get()
	require.True(t, ok)
	hand, ok := d.Hand.Get()
	require.True(t, ok)
	assert.Equal(t, []schema.Partial[CardDiff]{schema.Changed(FullCard(Card{Value: 5, Color: ColorRed}))}, hand)
	assert.Equal(t, next.Hand, ComputePatch(prev, d).Hand)
}

func TestListShrinkAndOptionalRemoval(t *testing.T) {
	prev := PlayerState{
		Hand:   []Card{{1, ColorRed}, {2, ColorBlue}, {3, ColorGreen}},
		Pile:   &Card{7, ColorYellow},
		Winner: ptr("u1"),
	}
	next := PlayerState{Hand: []Card{{1, ColorRed}}}

	d, ok := ComputeDiff(next, prev).Get()
	require.True(t, ok)
	got := ComputePatch(prev, d)
	assert.Equal(t, next.Hand, got.Hand)
	assert.Nil(t, got.Pile)
	assert.Nil(t, got.Winner)
	assert.Len(t, prev.Hand, 3, "prev is untouched")
}

func TestDiffIsSmallerThanFull(t *testing.T) {
	prev := PlayerState{
		Hand:    []Card{{1, ColorRed}, {2, ColorBlue}, {3, ColorGreen}},
		Players: []UserID{"alice", "bob"},
		Turn:    "alice",
		Pile:    &Card{4, ColorRed},
	}
	next := prev.Clone()
	next.Turn = "bob"

	full, err := Marshal(EncodePlayerState, next)
	require.NoError(t, err)
	d, ok := ComputeDiff(next, prev).Get()
	require.True(t, ok)
	diff, err := Marshal(EncodePlayerStateDiff, d)
	require.NoError(t, err)
	assert.Less(t, len(diff), len(full))

	cd, ok := DiffCard(Card{1, ColorRed}, Card{2, ColorRed}).Get()
	require.True(t, ok)
	cardDiff, _ := Marshal(EncodeCardDiff, cd)
	cardFull, _ := Marshal(EncodeCard, Card{1, ColorRed})
	assert.LessOrEqual(t, len(cardDiff), len(cardFull))
}

func TestUpdateMessages(t *testing.T) {
	messages := []Message{
		ResponseMessage(7, Ok()),
		EventMessage("started"),
		ResponseMessage(0xffffffff, ErrorResponse("Not your turn")),
	}
	data, err := EncodeStateUpdate(schema.Unchanged[PlayerStateDiff](), 0, messages)
	require.NoError(t, err)

	r := bin.NewReader(data)
	require.Equal(t, UpdateTag, r.ReadUInt8())
	u, err := DecodeStateUpdate(r)
	require.NoError(t, err)
	assert.False(t, u.StateDiff.IsChanged())
	assert.Equal(t, []Message{messages[0], messages[2]}, u.Responses)
	assert.Equal(t, []Message{messages[1]}, u.Events)
}

func TestInvalidEnumFailsEncoding(t *testing.T) {
	_, err := EncodeStateSnapshot(PlayerState{Hand: []Card{{Value: 1, Color: Color(9)}}})
	assert.ErrorIs(t, err, schema.ErrInvalidValue)

	_, err = EncodeStateUpdate(schema.Changed(FullPlayerState(PlayerState{Pile: &Card{Color: Color(4)}})), 0, nil)
	assert.ErrorIs(t, err, schema.ErrInvalidValue)
}

func TestTruncatedUpdate(t *testing.T) {
	data, err := EncodeStateUpdate(schema.Unchanged[PlayerStateDiff](), 3, []Message{EventMessage("hello")})
	require.NoError(t, err)
	_, err = DecodeStateUpdate(bin.NewReader(data[1 : len(data)-2]))
	assert.ErrorIs(t, err, bin.ErrOutOfRange)
}

func TestRequests(t *testing.T) {
	data, err := Marshal(EncodePlayCardRequest, PlayCardRequest{Card: Card{Value: 9, Color: ColorGreen}})
	require.NoError(t, err)
	req, err := Unmarshal(DecodePlayCardRequest, data)
	require.NoError(t, err)
	assert.Equal(t, Card{Value: 9, Color: ColorGreen}, req.Card)

	data, err = Marshal(EncodeJoinGameRequest, JoinGameRequest{})
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestSessionID(t *testing.T) {
	id, err := ParseSessionID("z1")
	require.NoError(t, err)
	assert.Equal(t, uint64(35*36+1), id)
	assert.Equal(t, "z1", FormatSessionID(id))

	_, err = ParseSessionID("not-base36")
	assert.Error(t, err)

	c, ok := ParseColor("GREEN")
	assert.True(t, ok)
	assert.Equal(t, ColorGreen, c)
	assert.Equal(t, "GREEN", c.String())
}
