package btree

import (
	"BTreeDB/types"
)

// indexPage views a pinned page as an index node: (key, child) entries
// plus the left-link to the subtree holding keys below the smallest
// separator. The left-link reuses the prev-page header field.
type indexPage struct {
	*sortedPage
}

func asIndexPage(buf *types.Page, keyType KeyType) *indexPage {
	return &indexPage{newSortedPage(buf, keyType)}
}

// formatIndexPage initializes a blank pinned page as an empty index node.
func formatIndexPage(buf *types.Page, id types.PageId, keyType KeyType) *indexPage {
	ip := asIndexPage(buf, keyType)
	ip.initPage(id, types.PageTypeBTreeIndex)
	return ip
}

func (p *indexPage) LeftLink() types.PageId     { return p.PrevPage() }
func (p *indexPage) SetLeftLink(id types.PageId) { p.SetPrevPage(id) }

// InsertKey places (key, child) keeping the page sorted.
func (p *indexPage) InsertKey(key Key, child types.PageId) error {
	_, err := p.insertEntry(Entry{Key: key, Child: child})
	return err
}

// GetPageNoByKey returns the child to descend into for key: the
// rightmost child whose separator is <= key, else the left-link.
func (p *indexPage) GetPageNoByKey(key Key) (types.PageId, error) {
	for i := p.SlotCnt() - 1; i >= 0; i-- {
		k, err := p.keyAt(i)
		if err != nil {
			return types.InvalidPage, err
		}
		c, err := keyCompare(k, key)
		if err != nil {
			return types.InvalidPage, err
		}
		if c <= 0 {
			e, err := p.EntryAt(i)
			if err != nil {
				return types.InvalidPage, err
			}
			return e.Child, nil
		}
	}
	return p.LeftLink(), nil
}

// childAt returns the i-th child in tree order: position 0 is the
// left-link, position i+1 is the child of entry i.
func (p *indexPage) childAt(pos int) (types.PageId, error) {
	if pos == 0 {
		return p.LeftLink(), nil
	}
	e, err := p.EntryAt(pos - 1)
	if err != nil {
		return types.InvalidPage, err
	}
	return e.Child, nil
}

// childCount returns the number of children, the left-link included.
func (p *indexPage) childCount() int { return p.SlotCnt() + 1 }

// childPos locates a child page among this node's children. Returns -1
// when the page is not a child of this node; this is the kinship check
// the sibling operations rely on.
func (p *indexPage) childPos(id types.PageId) (int, error) {
	if p.LeftLink() == id {
		return 0, nil
	}
	for i := 0; i < p.SlotCnt(); i++ {
		e, err := p.EntryAt(i)
		if err != nil {
			return -1, err
		}
		if e.Child == id {
			return i + 1, nil
		}
	}
	return -1, nil
}

// setKeyAt replaces the separator key in slot i, keeping its child and
// the sort order. Used to propagate separator changes after
// redistribution.
func (p *indexPage) setKeyAt(i int, newKey Key) error {
	e, err := p.EntryAt(i)
	if err != nil {
		return err
	}
	if err := p.deleteSlot(i); err != nil {
		return err
	}
	return p.InsertKey(newKey, e.Child)
}

// AdjustKey replaces the key of the rightmost entry whose key is
// <= oldKey with newKey. Reports whether an entry was adjusted.
func (p *indexPage) AdjustKey(newKey, oldKey Key) (bool, error) {
	for i := p.SlotCnt() - 1; i >= 0; i-- {
		k, err := p.keyAt(i)
		if err != nil {
			return false, err
		}
		c, err := keyCompare(k, oldKey)
		if err != nil {
			return false, err
		}
		if c <= 0 {
			return true, p.setKeyAt(i, newKey)
		}
	}
	return false, nil
}

// DeleteChildEntry removes the separator pointing at the given child,
// scanning from the right. Reports whether one was found.
func (p *indexPage) DeleteChildEntry(child types.PageId) (bool, error) {
	for i := p.SlotCnt() - 1; i >= 0; i-- {
		e, err := p.EntryAt(i)
		if err != nil {
			return false, err
		}
		if e.Child == child {
			return true, p.deleteSlot(i)
		}
	}
	return false, nil
}

// firstEntry returns the first (smallest) separator entry.
func (p *indexPage) firstEntry() (Entry, error) {
	return p.EntryAt(0)
}
