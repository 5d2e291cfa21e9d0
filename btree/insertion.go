package btree

import (
	"fmt"

	"BTreeDB/types"
)

// Insert adds (key, rid) to the tree. The first insert into an empty
// tree creates the root leaf; a split propagating out of the old root
// grows the tree by one level.
func (bt *BTreeFile) Insert(key Key, rid types.RID) error {
	if err := bt.checkKey(key); err != nil {
		return err
	}

	if !bt.header.RootId().IsValid() {
		id, buf, err := bt.pool.NewPage()
		if err != nil {
			return err
		}
		leaf := formatLeafPage(buf, id, bt.keyType())
		if err := leaf.InsertRecord(key, rid); err != nil {
			bt.pool.UnpinPage(id, false)
			return err
		}
		if err := bt.pool.UnpinPage(id, true); err != nil {
			return err
		}
		return bt.updateHeader(id)
	}

	up, err := bt.insertRec(key, rid, bt.header.RootId())
	if err != nil {
		return err
	}
	if up == nil {
		return nil
	}

	// The root split: the promotion entry seeds a new root index page
	// whose left-link is the old root.
	oldRoot := bt.header.RootId()
	id, buf, err := bt.pool.NewPage()
	if err != nil {
		return err
	}
	root := formatIndexPage(buf, id, bt.keyType())
	root.SetLeftLink(oldRoot)
	if err := root.InsertKey(up.Key, up.Child); err != nil {
		bt.pool.UnpinPage(id, false)
		return err
	}
	if err := bt.pool.UnpinPage(id, true); err != nil {
		return err
	}
	return bt.updateHeader(id)
}

// insertRec descends to the leaf for key and inserts there, splitting
// full pages on the way back up. A non-nil return is the promotion
// entry (separator key, new right sibling) the caller must absorb.
//
// The current page is unpinned before the recursive call and re-pinned
// only when a promotion has to be placed, keeping the pin depth
// constant.
func (bt *BTreeFile) insertRec(key Key, rid types.RID, curId types.PageId) (*Entry, error) {
	buf, err := bt.pool.PinPage(curId)
	if err != nil {
		return nil, err
	}
	sp := newSortedPage(buf, bt.keyType())

	switch sp.Type() {
	case types.PageTypeBTreeIndex:
		ip := asIndexPage(buf, bt.keyType())
		childId, err := ip.GetPageNoByKey(key)
		if err != nil {
			bt.pool.UnpinPage(curId, false)
			return nil, err
		}
		if err := bt.pool.UnpinPage(curId, false); err != nil {
			return nil, err
		}

		up, err := bt.insertRec(key, rid, childId)
		if err != nil || up == nil {
			return nil, err
		}

		buf, err = bt.pool.PinPage(curId)
		if err != nil {
			return nil, err
		}
		ip = asIndexPage(buf, bt.keyType())

		if ip.HasSpaceFor(up.Key) {
			if err := ip.InsertKey(up.Key, up.Child); err != nil {
				bt.pool.UnpinPage(curId, false)
				return nil, err
			}
			return nil, bt.pool.UnpinPage(curId, true)
		}
		return bt.splitIndex(ip, curId, up)

	case types.PageTypeBTreeLeaf:
		lp := asLeafPage(buf, bt.keyType())

		if lp.HasSpaceFor(key) {
			if err := lp.InsertRecord(key, rid); err != nil {
				bt.pool.UnpinPage(curId, false)
				return nil, err
			}
			return nil, bt.pool.UnpinPage(curId, true)
		}
		return bt.splitLeaf(lp, curId, key, rid)

	default:
		bt.pool.UnpinPage(curId, false)
		return nil, fmt.Errorf("btree: insert into page %d: %w", curId, ErrNodeType)
	}
}

// splitIndex fans the full index page out over itself and a new right
// sibling, then places the incoming promotion entry. The separator
// pushed up is the first entry of the new page: its child becomes the
// new page's left-link and the entry itself moves up to the parent.
// The left page keeps the smaller half when the count is odd.
func (bt *BTreeFile) splitIndex(cur *indexPage, curId types.PageId, up *Entry) (*Entry, error) {
	ents, err := cur.entries()
	if err != nil {
		bt.pool.UnpinPage(curId, false)
		return nil, err
	}

	newId, newBuf, err := bt.pool.NewPage()
	if err != nil {
		bt.pool.UnpinPage(curId, false)
		return nil, err
	}
	right := formatIndexPage(newBuf, newId, bt.keyType())

	k := (len(ents) - 1) / 2
	sep := ents[k]
	right.SetLeftLink(sep.Child)

	if err := cur.setEntries(ents[:k]); err == nil {
		err = right.setEntries(ents[k+1:])
	}
	if err != nil {
		bt.pool.UnpinPage(curId, true)
		bt.pool.UnpinPage(newId, true)
		return nil, err
	}

	// The incoming entry goes right only when strictly greater than the
	// separator.
	c, err := keyCompare(up.Key, sep.Key)
	if err == nil {
		if c > 0 {
			err = right.InsertKey(up.Key, up.Child)
		} else {
			err = cur.InsertKey(up.Key, up.Child)
		}
	}
	uerr1 := bt.pool.UnpinPage(curId, true)
	uerr2 := bt.pool.UnpinPage(newId, true)
	if err != nil {
		return nil, err
	}
	if uerr1 != nil {
		return nil, uerr1
	}
	if uerr2 != nil {
		return nil, uerr2
	}

	bt.tracef("SPLIT index %d -> %d sep %s", curId, newId, sep.Key)
	return &Entry{Key: sep.Key, Child: newId}, nil
}

// splitLeaf fans the full leaf out over itself and a new right sibling,
// balancing by free space to accommodate variable-length keys, rewires
// the sibling chain, places the incoming record, and promotes a copy of
// the new page's first key.
func (bt *BTreeFile) splitLeaf(cur *leafPage, curId types.PageId, key Key, rid types.RID) (*Entry, error) {
	ents, err := cur.entries()
	if err != nil {
		bt.pool.UnpinPage(curId, false)
		return nil, err
	}

	newId, newBuf, err := bt.pool.NewPage()
	if err != nil {
		bt.pool.UnpinPage(curId, false)
		return nil, err
	}
	right := formatLeafPage(newBuf, newId, bt.keyType())

	// Move entries back to the left page while it has strictly more free
	// space than the right one; afterwards cur.free <= right.free.
	curUsed, rightUsed := 0, 0
	for _, e := range ents {
		rightUsed += entryLen(e.Key, types.PageTypeBTreeLeaf) + types.SlotSize
	}
	k := 0
	for k < len(ents)-1 && curUsed < rightUsed {
		cost := entryLen(ents[k].Key, types.PageTypeBTreeLeaf) + types.SlotSize
		curUsed += cost
		rightUsed -= cost
		k++
	}

	if err := cur.setEntries(ents[:k]); err == nil {
		err = right.setEntries(ents[k:])
	}
	if err != nil {
		bt.pool.UnpinPage(curId, true)
		bt.pool.UnpinPage(newId, true)
		return nil, err
	}

	// Rewire the sibling chain around the new page.
	oldNext := cur.NextPage()
	right.SetNextPage(oldNext)
	right.SetPrevPage(curId)
	cur.SetNextPage(newId)
	if oldNext.IsValid() {
		nbuf, err := bt.pool.PinPage(oldNext)
		if err != nil {
			bt.pool.UnpinPage(curId, true)
			bt.pool.UnpinPage(newId, true)
			return nil, err
		}
		newSortedPage(nbuf, bt.keyType()).SetPrevPage(newId)
		if err := bt.pool.UnpinPage(oldNext, true); err != nil {
			bt.pool.UnpinPage(curId, true)
			bt.pool.UnpinPage(newId, true)
			return nil, err
		}
	}

	// Place the incoming record: strictly greater than the right page's
	// first key goes right, equal or less stays left.
	sepKey := ents[k].Key
	c, err := keyCompare(key, sepKey)
	if err == nil {
		if c > 0 {
			err = right.InsertRecord(key, rid)
		} else {
			err = cur.InsertRecord(key, rid)
		}
	}
	var promo *Entry
	if err == nil {
		var first Key
		first, err = right.firstKey()
		if err == nil {
			promo = &Entry{Key: first, Child: newId}
		}
	}
	uerr1 := bt.pool.UnpinPage(curId, true)
	uerr2 := bt.pool.UnpinPage(newId, true)
	if err != nil {
		return nil, err
	}
	if uerr1 != nil {
		return nil, uerr1
	}
	if uerr2 != nil {
		return nil, uerr2
	}

	bt.tracef("SPLIT leaf %d -> %d sep %s", curId, newId, promo.Key)
	return promo, nil
}
