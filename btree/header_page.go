package btree

import (
	"encoding/binary"

	"BTreeDB/types"
)

// DeletePolicy selects how Delete maintains the tree.
type DeletePolicy int16

const (
	// DeleteNaive removes entries without merging or redistribution;
	// pages may stay under-full.
	DeleteNaive DeletePolicy = iota + 1
	// DeleteFull restores the half-capacity floor after every delete by
	// redistributing from or merging with a sibling.
	DeleteFull
)

// headerMagic identifies a btree header page.
const headerMagic = 1989

// Header page layout: the common page header (so the node type is
// readable at the shared offset), then the tree metadata:
//
//	[20-23]  int32  magic
//	[24-27]  int32  rootId
//	[28-29]  int16  keyType
//	[30-33]  int32  maxKeySize
//	[34-35]  int16  deletePolicy
const (
	offMagic        = pageHeaderSize
	offRootId       = pageHeaderSize + 4
	offKeyType      = pageHeaderSize + 8
	offMaxKeySize   = pageHeaderSize + 10
	offDeletePolicy = pageHeaderSize + 14
)

// headerPage views the pinned metadata page of a tree file.
type headerPage struct {
	buf *types.Page
}

func asHeaderPage(buf *types.Page) *headerPage { return &headerPage{buf: buf} }

// formatHeaderPage initializes a blank pinned page as the header of a
// fresh, empty tree.
func formatHeaderPage(buf *types.Page, id types.PageId, keyType KeyType, maxKeySize int, policy DeletePolicy) *headerPage {
	h := asHeaderPage(buf)
	sp := newSortedPage(buf, keyType)
	sp.initPage(id, types.PageTypeBTreeHeader)
	binary.LittleEndian.PutUint32(buf[offMagic:], headerMagic)
	h.SetRootId(types.InvalidPage)
	binary.LittleEndian.PutUint16(buf[offKeyType:], uint16(keyType))
	binary.LittleEndian.PutUint32(buf[offMaxKeySize:], uint32(maxKeySize))
	binary.LittleEndian.PutUint16(buf[offDeletePolicy:], uint16(policy))
	return h
}

func (h *headerPage) Magic() int32 {
	return int32(binary.LittleEndian.Uint32(h.buf[offMagic:]))
}

func (h *headerPage) RootId() types.PageId {
	return types.PageId(int32(binary.LittleEndian.Uint32(h.buf[offRootId:])))
}

func (h *headerPage) SetRootId(id types.PageId) {
	binary.LittleEndian.PutUint32(h.buf[offRootId:], uint32(id))
}

func (h *headerPage) KeyType() KeyType {
	return KeyType(int16(binary.LittleEndian.Uint16(h.buf[offKeyType:])))
}

func (h *headerPage) MaxKeySize() int {
	return int(int32(binary.LittleEndian.Uint32(h.buf[offMaxKeySize:])))
}

func (h *headerPage) DeletePolicy() DeletePolicy {
	return DeletePolicy(int16(binary.LittleEndian.Uint16(h.buf[offDeletePolicy:])))
}
