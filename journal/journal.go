// Package journal persists sessions as an append-only log: one creation
// entry followed by every call the session accepted, each with the time it
// ran at. Replaying the log through the same policy rebuilds the state.
//
// Keys are 'S' + session id (8 bytes BE) + sequence number (8 bytes BE),
// values are msgpack-encoded Entries. Sequence 0 is the creation entry.
package journal

import (
	"encoding/binary"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/drpcorg/roomsync/roomsync_errors"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

const prefix = 'S'

type Kind uint8

const (
	KindCreate Kind = iota
	KindCall
)

type Entry struct {
	Kind   Kind   `msgpack:"k"`
	UserID string `msgpack:"u"`
	Method uint8  `msgpack:"m,omitempty"`
	Args   []byte `msgpack:"a,omitempty"`
	Time   int64  `msgpack:"t"`
}

type Journal struct {
	db    *pebble.DB
	write *pebble.WriteOptions
}

type Options struct {
	// InMemory keeps everything in memory, for tests and throwaway runs.
	InMemory bool
	// Sync fsyncs every append.
	Sync bool
}

func Open(path string, o Options) (*Journal, error) {
	opts := pebble.Options{}
	if o.InMemory {
		opts.FS = vfs.NewMem()
	}
	db, err := pebble.Open(path, &opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open journal %s", path)
	}
	j := &Journal{db: db, write: pebble.NoSync}
	if o.Sync {
		j.write = pebble.Sync
	}
	return j, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) DB() *pebble.DB {
	return j.db
}

func key(sessionID, seq uint64) []byte {
	k := make([]byte, 0, 17)
	k = append(k, prefix)
	k = binary.BigEndian.AppendUint64(k, sessionID)
	return binary.BigEndian.AppendUint64(k, seq)
}

func sessionBounds(sessionID uint64) (lower, upper []byte) {
	lower = key(sessionID, 0)
	if sessionID == ^uint64(0) {
		return lower, []byte{prefix + 1}
	}
	return lower, key(sessionID+1, 0)
}

// Create writes the creation entry of a new session.
func (j *Journal) Create(sessionID uint64, e Entry) error {
	e.Kind = KindCreate
	k := key(sessionID, 0)
	if _, closer, err := j.db.Get(k); err == nil {
		closer.Close()
		return roomsync_errors.ErrSessionExists
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return err
	}
	return j.put(k, e)
}

// Append writes call number seq (1-based) of a session.
func (j *Journal) Append(sessionID, seq uint64, e Entry) error {
	e.Kind = KindCall
	return j.put(key(sessionID, seq), e)
}

func (j *Journal) put(k []byte, e Entry) error {
	v, err := msgpack.Marshal(&e)
	if err != nil {
		return err
	}
	return j.db.Set(k, v, j.write)
}

// Load returns the creation entry and the calls of a session in order.
func (j *Journal) Load(sessionID uint64) (create Entry, calls []Entry, err error) {
	lower, upper := sessionBounds(sessionID)
	it, err := j.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return create, nil, err
	}
	defer it.Close()

	if !it.First() {
		return create, nil, roomsync_errors.ErrSessionNotFound
	}
	created := false
	for ; it.Valid(); it.Next() {
		var e Entry
		if err := msgpack.Unmarshal(it.Value(), &e); err != nil {
			return create, nil, errors.Wrapf(err, "session %d entry %x", sessionID, it.Key())
		}
		if binary.BigEndian.Uint64(it.Key()[9:]) == 0 {
			create, created = e, true
			continue
		}
		calls = append(calls, e)
	}
	if !created {
		return create, nil, errors.Wrapf(roomsync_errors.ErrSessionNotFound, "session %d has no creation entry", sessionID)
	}
	return create, calls, it.Error()
}

// LastTime is the time of the latest entry of a session.
func (j *Journal) LastTime(sessionID uint64) (int64, error) {
	lower, upper := sessionBounds(sessionID)
	it, err := j.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return 0, err
	}
	defer it.Close()

	if !it.Last() {
		return 0, roomsync_errors.ErrSessionNotFound
	}
	var e Entry
	if err := msgpack.Unmarshal(it.Value(), &e); err != nil {
		return 0, errors.Wrapf(err, "session %d entry %x", sessionID, it.Key())
	}
	return e.Time, it.Error()
}

// Delete drops a session and all its calls.
func (j *Journal) Delete(sessionID uint64) error {
	lower, upper := sessionBounds(sessionID)
	return j.db.DeleteRange(lower, upper, j.write)
}

// Sessions lists the ids of all journaled sessions.
func (j *Journal) Sessions() ([]uint64, error) {
	it, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{prefix},
		UpperBound: []byte{prefix + 1},
	})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var ids []uint64
	for valid := it.First(); valid; {
		k := it.Key()
		if len(k) != 17 {
			valid = it.Next()
			continue
		}
		id := binary.BigEndian.Uint64(k[1:9])
		ids = append(ids, id)
		if id == ^uint64(0) {
			break
		}
		valid = it.SeekGE(key(id+1, 0))
	}
	return ids, it.Error()
}
