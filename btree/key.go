package btree

import (
	"encoding/binary"
	"fmt"

	"BTreeDB/types"
)

// KeyType selects the key variant a tree is declared with. All keys in
// one tree share a single type.
type KeyType int16

const (
	IntKeyType KeyType = iota + 1
	StrKeyType
)

// Key is one of the closed set of typed key variants.
type Key interface {
	keyType() KeyType
	encodedLen() int
	String() string
}

// IntKey is a signed 32-bit integer key.
type IntKey int32

// StrKey is a variable-length string key.
type StrKey string

func (IntKey) keyType() KeyType { return IntKeyType }
func (StrKey) keyType() KeyType { return StrKeyType }

func (IntKey) encodedLen() int   { return 4 }
func (k StrKey) encodedLen() int { return 2 + len(k) }

func (k IntKey) String() string { return fmt.Sprintf("%d", int32(k)) }
func (k StrKey) String() string { return string(k) }

// keyCompare orders two keys of the same variant. Returns <0, 0, >0 in
// the usual manner.
func keyCompare(a, b Key) (int, error) {
	if a.keyType() != b.keyType() {
		return 0, ErrKeyTypeMismatch
	}
	switch ka := a.(type) {
	case IntKey:
		kb := b.(IntKey)
		switch {
		case ka < kb:
			return -1, nil
		case ka > kb:
			return 1, nil
		}
		return 0, nil
	case StrKey:
		kb := b.(StrKey)
		switch {
		case ka < kb:
			return -1, nil
		case ka > kb:
			return 1, nil
		}
		return 0, nil
	}
	return 0, ErrKeyTypeMismatch
}

// mustCompare is keyCompare for keys already validated against the
// tree's key type.
func mustCompare(a, b Key) int {
	c, err := keyCompare(a, b)
	if err != nil {
		panic(err)
	}
	return c
}

// Entry is a (key, payload) pair stored on a page: the payload is a RID
// on a leaf page and a child page id on an index page.
type Entry struct {
	Key   Key
	Rid   types.RID    // leaf pages
	Child types.PageId // index pages
}

const (
	leafDataLen  = 6 // RID: pageNo(4) + slotNo(2)
	indexDataLen = 4 // child page id
)

// entryLen returns the on-page record length of an entry with the given
// key in the given node kind.
func entryLen(key Key, nodeType types.PageType) int {
	if nodeType == types.PageTypeBTreeLeaf {
		return key.encodedLen() + leafDataLen
	}
	return key.encodedLen() + indexDataLen
}

func encodeKey(dst []byte, key Key) int {
	switch k := key.(type) {
	case IntKey:
		binary.LittleEndian.PutUint32(dst, uint32(int32(k)))
		return 4
	case StrKey:
		binary.LittleEndian.PutUint16(dst, uint16(len(k)))
		copy(dst[2:], k)
		return 2 + len(k)
	}
	panic(ErrKeyTypeMismatch)
}

func decodeKey(src []byte, keyType KeyType) (Key, int, error) {
	switch keyType {
	case IntKeyType:
		if len(src) < 4 {
			return nil, 0, fmt.Errorf("btree: short int key record")
		}
		return IntKey(int32(binary.LittleEndian.Uint32(src))), 4, nil
	case StrKeyType:
		if len(src) < 2 {
			return nil, 0, fmt.Errorf("btree: short string key record")
		}
		n := int(binary.LittleEndian.Uint16(src))
		if len(src) < 2+n {
			return nil, 0, fmt.Errorf("btree: truncated string key record")
		}
		return StrKey(src[2 : 2+n]), 2 + n, nil
	}
	return nil, 0, ErrKeyTypeMismatch
}

// encodeEntry packs an entry into a record for the given node kind.
func encodeEntry(e Entry, nodeType types.PageType) []byte {
	rec := make([]byte, entryLen(e.Key, nodeType))
	n := encodeKey(rec, e.Key)
	if nodeType == types.PageTypeBTreeLeaf {
		binary.LittleEndian.PutUint32(rec[n:], uint32(e.Rid.PageNo))
		binary.LittleEndian.PutUint16(rec[n+4:], uint16(e.Rid.SlotNo))
	} else {
		binary.LittleEndian.PutUint32(rec[n:], uint32(e.Child))
	}
	return rec
}

// decodeEntry unpacks a record written by encodeEntry.
func decodeEntry(rec []byte, keyType KeyType, nodeType types.PageType) (Entry, error) {
	key, n, err := decodeKey(rec, keyType)
	if err != nil {
		return Entry{}, err
	}
	e := Entry{Key: key}
	if nodeType == types.PageTypeBTreeLeaf {
		if len(rec) < n+leafDataLen {
			return Entry{}, fmt.Errorf("btree: short leaf record")
		}
		e.Rid = types.RID{
			PageNo: types.PageId(int32(binary.LittleEndian.Uint32(rec[n:]))),
			SlotNo: int16(binary.LittleEndian.Uint16(rec[n+4:])),
		}
	} else {
		if len(rec) < n+indexDataLen {
			return Entry{}, fmt.Errorf("btree: short index record")
		}
		e.Child = types.PageId(int32(binary.LittleEndian.Uint32(rec[n:])))
	}
	return e, nil
}
