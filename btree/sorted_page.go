package btree

import (
	"encoding/binary"
	"fmt"

	"BTreeDB/types"
)

// Slotted sorted page layout, shared by index and leaf nodes:
//
//	[0-1]    int16  slotCnt
//	[2-3]    int16  usedPtr     (start of the record area, grows down)
//	[4-5]    int16  freeSpace
//	[6-7]    int16  nodeType
//	[8-11]   int32  prevPage    (left-link on index pages)
//	[12-15]  int32  nextPage
//	[16-19]  int32  curPage
//	[20+]    slot directory — (offset int16, length int16) per slot
//	         ...free space...
//	         record area, grows up from the bottom of the page
//
// Slots are kept in ascending key order; a slot index doubles as the
// iteration cursor.
const (
	offSlotCnt   = 0
	offUsedPtr   = 2
	offFreeSpace = 4
	offNodeType  = 6
	offPrevPage  = 8
	offNextPage  = 12
	offCurPage   = 16

	pageHeaderSize = 20
)

// Fullness caps derived from page size and entry size. A page is full
// when either the byte space or the slot cap would be exceeded; a
// non-root page underflows below half its cap.
const (
	MaxIndexPageCapacity = 82
	MaxLeafPageCapacity  = 62
)

// sortedPage is a typed view over a pinned raw page. It never owns the
// buffer; the pin that produced it does.
type sortedPage struct {
	buf     *types.Page
	keyType KeyType
}

func newSortedPage(buf *types.Page, keyType KeyType) *sortedPage {
	return &sortedPage{buf: buf, keyType: keyType}
}

// initPage formats a pinned blank page as an empty node of the given
// kind with no siblings.
func (p *sortedPage) initPage(id types.PageId, pt types.PageType) {
	for i := 0; i < pageHeaderSize; i++ {
		p.buf[i] = 0
	}
	p.setSlotCnt(0)
	p.setUsedPtr(types.PageSize)
	p.setFreeSpace(types.PageSize - pageHeaderSize)
	p.setType(pt)
	p.SetPrevPage(types.InvalidPage)
	p.SetNextPage(types.InvalidPage)
	binary.LittleEndian.PutUint32(p.buf[offCurPage:], uint32(id))
}

func (p *sortedPage) Type() types.PageType {
	return types.PageType(binary.LittleEndian.Uint16(p.buf[offNodeType:]))
}

func (p *sortedPage) setType(pt types.PageType) {
	binary.LittleEndian.PutUint16(p.buf[offNodeType:], uint16(pt))
}

func (p *sortedPage) SlotCnt() int {
	return int(int16(binary.LittleEndian.Uint16(p.buf[offSlotCnt:])))
}

func (p *sortedPage) setSlotCnt(n int) {
	binary.LittleEndian.PutUint16(p.buf[offSlotCnt:], uint16(n))
}

func (p *sortedPage) usedPtr() int {
	return int(int16(binary.LittleEndian.Uint16(p.buf[offUsedPtr:])))
}

func (p *sortedPage) setUsedPtr(n int) {
	binary.LittleEndian.PutUint16(p.buf[offUsedPtr:], uint16(n))
}

func (p *sortedPage) AvailableSpace() int {
	return int(int16(binary.LittleEndian.Uint16(p.buf[offFreeSpace:])))
}

func (p *sortedPage) setFreeSpace(n int) {
	binary.LittleEndian.PutUint16(p.buf[offFreeSpace:], uint16(n))
}

func (p *sortedPage) Empty() bool { return p.SlotCnt() == 0 }

func (p *sortedPage) CurPage() types.PageId {
	return types.PageId(int32(binary.LittleEndian.Uint32(p.buf[offCurPage:])))
}

func (p *sortedPage) PrevPage() types.PageId {
	return types.PageId(int32(binary.LittleEndian.Uint32(p.buf[offPrevPage:])))
}

func (p *sortedPage) SetPrevPage(id types.PageId) {
	binary.LittleEndian.PutUint32(p.buf[offPrevPage:], uint32(id))
}

func (p *sortedPage) NextPage() types.PageId {
	return types.PageId(int32(binary.LittleEndian.Uint32(p.buf[offNextPage:])))
}

func (p *sortedPage) SetNextPage(id types.PageId) {
	binary.LittleEndian.PutUint32(p.buf[offNextPage:], uint32(id))
}

// capacity returns the slot cap for this node kind.
func (p *sortedPage) capacity() int {
	if p.Type() == types.PageTypeBTreeLeaf {
		return MaxLeafPageCapacity
	}
	return MaxIndexPageCapacity
}

// HasSpaceFor reports whether an entry with the given key still fits.
func (p *sortedPage) HasSpaceFor(key Key) bool {
	if p.SlotCnt() >= p.capacity() {
		return false
	}
	return p.AvailableSpace() >= entryLen(key, p.Type())+types.SlotSize
}

// --- slot directory ---

func (p *sortedPage) slotOff(i int) int { return pageHeaderSize + i*types.SlotSize }

func (p *sortedPage) slotOffset(i int) int {
	return int(int16(binary.LittleEndian.Uint16(p.buf[p.slotOff(i):])))
}

func (p *sortedPage) slotLength(i int) int {
	return int(int16(binary.LittleEndian.Uint16(p.buf[p.slotOff(i)+2:])))
}

func (p *sortedPage) setSlot(i, offset, length int) {
	binary.LittleEndian.PutUint16(p.buf[p.slotOff(i):], uint16(offset))
	binary.LittleEndian.PutUint16(p.buf[p.slotOff(i)+2:], uint16(length))
}

func (p *sortedPage) recordAt(i int) []byte {
	off := p.slotOffset(i)
	return p.buf[off : off+p.slotLength(i)]
}

// EntryAt decodes the entry stored in slot i.
func (p *sortedPage) EntryAt(i int) (Entry, error) {
	if i < 0 || i >= p.SlotCnt() {
		return Entry{}, fmt.Errorf("btree: slot %d out of range on page %d", i, p.CurPage())
	}
	return decodeEntry(p.recordAt(i), p.keyType, p.Type())
}

// keyAt decodes only the key in slot i.
func (p *sortedPage) keyAt(i int) (Key, error) {
	key, _, err := decodeKey(p.recordAt(i), p.keyType)
	return key, err
}

// insertEntry places the entry in key order. Among equal keys the new
// entry lands after the existing ones, preserving insertion order.
func (p *sortedPage) insertEntry(e Entry) (int, error) {
	rec := encodeEntry(e, p.Type())
	need := len(rec) + types.SlotSize
	n := p.SlotCnt()
	if n >= p.capacity() || p.AvailableSpace() < need {
		return 0, fmt.Errorf("btree: insert on page %d: %w", p.CurPage(), ErrPageFull)
	}

	// Upper bound: the first slot whose key is strictly greater.
	pos := n
	for i := 0; i < n; i++ {
		k, err := p.keyAt(i)
		if err != nil {
			return 0, err
		}
		c, err := keyCompare(k, e.Key)
		if err != nil {
			return 0, err
		}
		if c > 0 {
			pos = i
			break
		}
	}

	// Shift the slot directory right and drop the record into the area top.
	for i := n; i > pos; i-- {
		p.setSlot(i, p.slotOffset(i-1), p.slotLength(i-1))
	}
	top := p.usedPtr() - len(rec)
	copy(p.buf[top:], rec)
	p.setSlot(pos, top, len(rec))
	p.setUsedPtr(top)
	p.setSlotCnt(n + 1)
	p.setFreeSpace(p.AvailableSpace() - need)
	return pos, nil
}

// deleteSlot removes slot i and compacts the record area so free space
// stays contiguous.
func (p *sortedPage) deleteSlot(i int) error {
	n := p.SlotCnt()
	if i < 0 || i >= n {
		return fmt.Errorf("btree: delete slot %d out of range on page %d", i, p.CurPage())
	}
	delOff := p.slotOffset(i)
	delLen := p.slotLength(i)

	// Slide the record area below the hole up over it.
	used := p.usedPtr()
	copy(p.buf[used+delLen:delOff+delLen], p.buf[used:delOff])

	// Remove the slot and fix the offsets of records that moved.
	for j := i; j < n-1; j++ {
		p.setSlot(j, p.slotOffset(j+1), p.slotLength(j+1))
	}
	for j := 0; j < n-1; j++ {
		if p.slotOffset(j) < delOff {
			p.setSlot(j, p.slotOffset(j)+delLen, p.slotLength(j))
		}
	}
	p.setUsedPtr(used + delLen)
	p.setSlotCnt(n - 1)
	p.setFreeSpace(p.AvailableSpace() + delLen + types.SlotSize)
	return nil
}

// entries decodes the whole page in slot order.
func (p *sortedPage) entries() ([]Entry, error) {
	n := p.SlotCnt()
	out := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		e, err := p.EntryAt(i)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// truncate empties the page without touching its identity or sibling
// links.
func (p *sortedPage) truncate() {
	p.setSlotCnt(0)
	p.setUsedPtr(types.PageSize)
	p.setFreeSpace(types.PageSize - pageHeaderSize)
}

// setEntries replaces the page content with the given already-sorted
// entries.
func (p *sortedPage) setEntries(ents []Entry) error {
	p.truncate()
	for _, e := range ents {
		if _, err := p.insertEntry(e); err != nil {
			return err
		}
	}
	return nil
}
