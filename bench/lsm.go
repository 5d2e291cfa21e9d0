package bench

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble"

	"BTreeDB/types"
)

// LSM wraps Pebble (CockroachDB's LSM storage engine) behind the common
// Index interface so it can be benchmarked alongside the B+-tree.
type LSM struct {
	db *pebble.DB
}

// OpenLSM opens (or creates) a Pebble database at the given directory.
func OpenLSM(dir string) (*LSM, error) {
	opts := &pebble.Options{
		MemTableSize:                16 << 20,
		MemTableStopWritesThreshold: 4,
		L0CompactionThreshold:       4,
		L0StopWritesThreshold:       12,
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("lsm: open: %w", err)
	}
	return &LSM{db: db}, nil
}

func (l *LSM) Close() error { return l.db.Close() }

func (l *LSM) Insert(key int64, rid types.RID) error {
	return l.db.Set(encodeKey(key), encodeRid(rid), pebble.NoSync)
}

func (l *LSM) Lookup(key int64) (types.RID, bool, error) {
	val, closer, err := l.db.Get(encodeKey(key))
	if err == pebble.ErrNotFound {
		return types.RID{}, false, nil
	}
	if err != nil {
		return types.RID{}, false, fmt.Errorf("lsm: get: %w", err)
	}
	rid := decodeRid(val)
	closer.Close()
	return rid, true, nil
}

func (l *LSM) Delete(key int64, rid types.RID) (bool, error) {
	if err := l.db.Delete(encodeKey(key), pebble.NoSync); err != nil {
		return false, fmt.Errorf("lsm: delete: %w", err)
	}
	return true, nil
}

// Scan returns an iterator over all keys in [start, end] inclusive.
func (l *LSM) Scan(start, end int64) (Iterator, error) {
	iterOpts := &pebble.IterOptions{
		LowerBound: encodeKey(start),
		UpperBound: encodeKey(end + 1), // Pebble's upper bound is exclusive
	}
	iter, err := l.db.NewIter(iterOpts)
	if err != nil {
		return nil, fmt.Errorf("lsm: scan: %w", err)
	}
	iter.First()
	return &lsmIterator{iter: iter, first: true}, nil
}

// encodeKey encodes an int64 as a big-endian 8-byte slice; big-endian
// preserves sort order, which an LSM relies on.
func encodeKey(k int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(k))
	return b
}

func encodeRid(rid types.RID) []byte {
	b := make([]byte, 6)
	binary.BigEndian.PutUint32(b, uint32(rid.PageNo))
	binary.BigEndian.PutUint16(b[4:], uint16(rid.SlotNo))
	return b
}

func decodeRid(b []byte) types.RID {
	if len(b) < 6 {
		return types.RID{PageNo: types.InvalidPage}
	}
	return types.RID{
		PageNo: types.PageId(int32(binary.BigEndian.Uint32(b))),
		SlotNo: int16(binary.BigEndian.Uint16(b[4:])),
	}
}

type lsmIterator struct {
	iter  *pebble.Iterator
	first bool
	key   int64
	rid   types.RID
	err   error
}

func (it *lsmIterator) Next() bool {
	var valid bool
	if it.first {
		it.first = false
		valid = it.iter.Valid()
	} else {
		valid = it.iter.Next()
	}
	if !valid {
		return false
	}
	k := it.iter.Key()
	if len(k) != 8 {
		it.err = fmt.Errorf("lsm: unexpected key length %d", len(k))
		return false
	}
	it.key = int64(binary.BigEndian.Uint64(k))
	it.rid = decodeRid(it.iter.Value())
	return true
}

func (it *lsmIterator) Key() int64     { return it.key }
func (it *lsmIterator) Rid() types.RID { return it.rid }
func (it *lsmIterator) Error() error   { return it.err }
func (it *lsmIterator) Close() error   { return it.iter.Close() }
