package btree

import (
	"BTreeDB/types"
)

// leafPage views a pinned page as a leaf node: (key, RID) entries plus
// the doubly-linked prev/next sibling pointers.
type leafPage struct {
	*sortedPage
}

func asLeafPage(buf *types.Page, keyType KeyType) *leafPage {
	return &leafPage{newSortedPage(buf, keyType)}
}

// formatLeafPage initializes a blank pinned page as an empty leaf.
func formatLeafPage(buf *types.Page, id types.PageId, keyType KeyType) *leafPage {
	lp := asLeafPage(buf, keyType)
	lp.initPage(id, types.PageTypeBTreeLeaf)
	return lp
}

// InsertRecord places (key, rid) keeping the page sorted.
func (p *leafPage) InsertRecord(key Key, rid types.RID) error {
	_, err := p.insertEntry(Entry{Key: key, Rid: rid})
	return err
}

// GetFirst returns the first entry and its cursor.
func (p *leafPage) GetFirst() (Entry, int, bool) {
	if p.Empty() {
		return Entry{}, 0, false
	}
	e, err := p.EntryAt(0)
	if err != nil {
		return Entry{}, 0, false
	}
	return e, 0, true
}

// GetCurrent returns the entry at the cursor, if any.
func (p *leafPage) GetCurrent(cur int) (Entry, bool) {
	if cur < 0 || cur >= p.SlotCnt() {
		return Entry{}, false
	}
	e, err := p.EntryAt(cur)
	if err != nil {
		return Entry{}, false
	}
	return e, true
}

// GetNext advances the cursor and returns the entry there.
func (p *leafPage) GetNext(cur int) (Entry, int, bool) {
	e, ok := p.GetCurrent(cur + 1)
	return e, cur + 1, ok
}

// DelEntry removes the first entry whose (key, rid) matches exactly.
func (p *leafPage) DelEntry(key Key, rid types.RID) (bool, error) {
	n := p.SlotCnt()
	for i := 0; i < n; i++ {
		e, err := p.EntryAt(i)
		if err != nil {
			return false, err
		}
		c, err := keyCompare(e.Key, key)
		if err != nil {
			return false, err
		}
		if c > 0 {
			return false, nil
		}
		if c == 0 && e.Rid.Equal(rid) {
			return true, p.deleteSlot(i)
		}
	}
	return false, nil
}

// firstKey returns the key of the first entry.
func (p *leafPage) firstKey() (Key, error) {
	return p.keyAt(0)
}
