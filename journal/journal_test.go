package journal

import (
	"testing"

	"github.com/drpcorg/roomsync/roomsync_errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func open(t *testing.T) *Journal {
	j, err := Open("journal", Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestCreateAppendLoad(t *testing.T) {
	j := open(t)

	require.NoError(t, j.Create(42, Entry{UserID: "alice", Args: []byte{1}, Time: 1000}))
	assert.ErrorIs(t, j.Create(42, Entry{UserID: "bob"}), roomsync_errors.ErrSessionExists)

	for seq := uint64(1); seq <= 300; seq++ {
		require.NoError(t, j.Append(42, seq, Entry{UserID: "bob", Method: uint8(seq % 4), Time: 1000 + int64(seq)}))
	}
	require.NoError(t, j.Create(43, Entry{UserID: "carol", Time: 5}))

	create, calls, err := j.Load(42)
	require.NoError(t, err)
	assert.Equal(t, Entry{Kind: KindCreate, UserID: "alice", Args: []byte{1}, Time: 1000}, create)
	require.Len(t, calls, 300)
	for i, c := range calls {
		seq := uint64(i + 1)
		assert.Equal(t, Entry{Kind: KindCall, UserID: "bob", Method: uint8(seq % 4), Time: 1000 + int64(seq)}, c)
	}

	last, err := j.LastTime(42)
	require.NoError(t, err)
	assert.Equal(t, int64(1300), last)
	_, err = j.LastTime(44)
	assert.ErrorIs(t, err, roomsync_errors.ErrSessionNotFound)

	_, calls, err = j.Load(43)
	require.NoError(t, err)
	assert.Empty(t, calls)

	_, _, err = j.Load(44)
	assert.ErrorIs(t, err, roomsync_errors.ErrSessionNotFound)

	ids, err := j.Sessions()
	require.NoError(t, err)
	assert.Equal(t, []uint64{42, 43}, ids)
}

func TestDelete(t *testing.T) {
	j := open(t)
	require.NoError(t, j.Create(1, Entry{UserID: "alice", Time: 1}))
	require.NoError(t, j.Append(1, 1, Entry{UserID: "alice", Time: 2}))
	require.NoError(t, j.Create(^uint64(0), Entry{UserID: "max", Time: 3}))

	require.NoError(t, j.Delete(1))
	_, _, err := j.Load(1)
	assert.ErrorIs(t, err, roomsync_errors.ErrSessionNotFound)

	create, _, err := j.Load(^uint64(0))
	require.NoError(t, err)
	assert.Equal(t, "max", create.UserID)
}

func TestCallsWithoutCreation(t *testing.T) {
	j := open(t)
	require.NoError(t, j.Append(7, 1, Entry{UserID: "alice"}))
	_, _, err := j.Load(7)
	assert.ErrorIs(t, err, roomsync_errors.ErrSessionNotFound)
}

func TestCollector(t *testing.T) {
	j := open(t)
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewCollector(j)))
	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 9, n)
}
