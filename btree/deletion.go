package btree

import (
	"fmt"

	"BTreeDB/types"
)

// Underflow thresholds: a non-root node must keep at least half its
// slot cap after a full delete.
const (
	halfLeaf  = MaxLeafPageCapacity / 2
	halfIndex = MaxIndexPageCapacity / 2
)

// deleteNotice travels up the recursion when a merge freed a page: the
// parent drops the separator pointing at child. key records the
// separator's old locator; the parent matches on child alone.
type deleteNotice struct {
	key   Key
	child types.PageId
}

// Delete removes the entry with the exact (key, rid) pair. Returns true
// iff an entry was removed; absence is not an error. The tree's delete
// policy decides whether under-full pages are rebalanced.
func (bt *BTreeFile) Delete(key Key, rid types.RID) (bool, error) {
	if err := bt.checkKey(key); err != nil {
		return false, err
	}
	if !bt.header.RootId().IsValid() {
		return false, nil
	}

	switch bt.header.DeletePolicy() {
	case DeleteNaive:
		return bt.naiveDelete(key, rid)
	case DeleteFull:
		deleted := false
		_, err := bt.fullDelete(key, rid, bt.header.RootId(), types.InvalidPage, &deleted)
		return deleted, err
	}
	return false, fmt.Errorf("btree: %s: %w", bt.name, ErrDeletePolicy)
}

// naiveDelete removes the entry without any rebalancing: locate the run
// start, then walk right through the leaves while keys stay <= key until
// the exact (key, rid) shows up.
func (bt *BTreeFile) naiveDelete(key Key, rid types.RID) (bool, error) {
	leaf, slot, err := bt.findRunStart(key)
	if err != nil || leaf == nil {
		return false, err
	}
	leafId := leaf.CurPage()

	for {
		for slot >= leaf.SlotCnt() {
			next := leaf.NextPage()
			if err := bt.pool.UnpinPage(leafId, false); err != nil {
				return false, err
			}
			if !next.IsValid() {
				return false, nil
			}
			buf, err := bt.pool.PinPage(next)
			if err != nil {
				return false, err
			}
			leaf = asLeafPage(buf, bt.keyType())
			leafId = next
			slot = 0
		}

		e, err := leaf.EntryAt(slot)
		if err != nil {
			bt.pool.UnpinPage(leafId, false)
			return false, err
		}
		c, err := keyCompare(e.Key, key)
		if err != nil {
			bt.pool.UnpinPage(leafId, false)
			return false, err
		}
		if c > 0 {
			return false, bt.pool.UnpinPage(leafId, false)
		}
		if c == 0 && e.Rid.Equal(rid) {
			if err := leaf.deleteSlot(slot); err != nil {
				bt.pool.UnpinPage(leafId, false)
				return false, err
			}
			return true, bt.pool.UnpinPage(leafId, true)
		}
		slot++
	}
}

// removeFromLeaves deletes the exact (key, rid) pair, walking right from
// the run start across duplicate runs. It returns the id of the leaf the
// entry was removed from (InvalidPage when no such entry exists) and
// that leaf's first key before the removal. The leaf is unpinned on
// return.
func (bt *BTreeFile) removeFromLeaves(key Key, rid types.RID) (types.PageId, Key, error) {
	leaf, slot, err := bt.findRunStart(key)
	if err != nil || leaf == nil {
		return types.InvalidPage, nil, err
	}
	leafId := leaf.CurPage()

	for {
		for slot >= leaf.SlotCnt() {
			next := leaf.NextPage()
			if err := bt.pool.UnpinPage(leafId, false); err != nil {
				return types.InvalidPage, nil, err
			}
			if !next.IsValid() {
				return types.InvalidPage, nil, nil
			}
			buf, err := bt.pool.PinPage(next)
			if err != nil {
				return types.InvalidPage, nil, err
			}
			leaf = asLeafPage(buf, bt.keyType())
			leafId = next
			slot = 0
		}

		e, err := leaf.EntryAt(slot)
		if err != nil {
			bt.pool.UnpinPage(leafId, false)
			return types.InvalidPage, nil, err
		}
		c, err := keyCompare(e.Key, key)
		if err != nil {
			bt.pool.UnpinPage(leafId, false)
			return types.InvalidPage, nil, err
		}
		if c > 0 {
			if err := bt.pool.UnpinPage(leafId, false); err != nil {
				return types.InvalidPage, nil, err
			}
			return types.InvalidPage, nil, nil
		}
		if c == 0 && e.Rid.Equal(rid) {
			firstBefore, err := leaf.firstKey()
			if err != nil {
				bt.pool.UnpinPage(leafId, false)
				return types.InvalidPage, nil, err
			}
			if err := leaf.deleteSlot(slot); err != nil {
				bt.pool.UnpinPage(leafId, false)
				return types.InvalidPage, nil, err
			}
			return leafId, firstBefore, bt.pool.UnpinPage(leafId, true)
		}
		slot++
	}
}

// fullDelete is the recursive full-rebalancing delete. It descends along
// the routing path, removes the entry at the leaf level, and restores
// the occupancy floor on the way back up: redistribute from a sibling
// when one can spare entries, merge otherwise. A non-nil notice tells
// the caller to drop the separator of the freed page.
//
// The current page is unpinned before the recursive call and re-pinned
// only when a notice has to be absorbed, keeping the pin depth constant.
func (bt *BTreeFile) fullDelete(key Key, rid types.RID, curId, parentId types.PageId, deleted *bool) (*deleteNotice, error) {
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

		notice, err := bt.fullDelete(key, rid, childId, curId, deleted)
		if err != nil || notice == nil {
			return nil, err
		}

		// A child merged away: drop its separator here.
		buf, err = bt.pool.PinPage(curId)
		if err != nil {
			return nil, err
		}
		ip = asIndexPage(buf, bt.keyType())
		if _, err := ip.DeleteChildEntry(notice.child); err != nil {
			bt.pool.UnpinPage(curId, true)
			return nil, err
		}
		bt.tracef("DROP sep for %d from %d", notice.child, curId)

		if ip.SlotCnt() >= halfIndex {
			return nil, bt.pool.UnpinPage(curId, true)
		}

		if !parentId.IsValid() {
			// The root may shrink below half freely; it collapses only
			// once it runs out of separators entirely.
			if ip.Empty() {
				return nil, bt.collapseRoot(ip, curId)
			}
			return nil, bt.pool.UnpinPage(curId, true)
		}
		return bt.rebalanceIndex(ip, curId, parentId)

	case types.PageTypeBTreeLeaf:
		if err := bt.pool.UnpinPage(curId, false); err != nil {
			return nil, err
		}

		leafId, firstBefore, err := bt.removeFromLeaves(key, rid)
		if err != nil {
			return nil, err
		}
		if !leafId.IsValid() {
			return nil, nil // no such entry
		}
		*deleted = true

		if !parentId.IsValid() {
			// The root is a leaf: the tree empties when it does.
			lbuf, err := bt.pool.PinPage(leafId)
			if err != nil {
				return nil, err
			}
			empty := asLeafPage(lbuf, bt.keyType()).Empty()
			if err := bt.pool.UnpinPage(leafId, false); err != nil {
				return nil, err
			}
			if empty {
				if err := bt.pool.FreePage(leafId); err != nil {
					return nil, err
				}
				return nil, bt.updateHeader(types.InvalidPage)
			}
			return nil, nil
		}
		return bt.rebalanceLeaf(leafId, parentId, firstBefore)

	default:
		bt.pool.UnpinPage(curId, false)
		return nil, fmt.Errorf("btree: delete in page %d: %w", curId, ErrNodeType)
	}
}

// collapseRoot replaces an empty index root with its left-link child; a
// child that is itself an empty leaf empties the tree. cur is pinned on
// entry and released here.
func (bt *BTreeFile) collapseRoot(cur *indexPage, curId types.PageId) error {
	newRoot := cur.LeftLink()
	if err := bt.pool.UnpinPage(curId, true); err != nil {
		return err
	}
	if err := bt.pool.FreePage(curId); err != nil {
		return err
	}

	rbuf, err := bt.pool.PinPage(newRoot)
	if err != nil {
		return err
	}
	rp := newSortedPage(rbuf, bt.keyType())
	emptyLeaf := rp.Type() == types.PageTypeBTreeLeaf && rp.Empty()
	if err := bt.pool.UnpinPage(newRoot, false); err != nil {
		return err
	}

	if emptyLeaf {
		if err := bt.pool.FreePage(newRoot); err != nil {
			return err
		}
		bt.tracef("COLLAPSE root %d -> empty", curId)
		return bt.updateHeader(types.InvalidPage)
	}
	bt.tracef("COLLAPSE root %d -> %d", curId, newRoot)
	return bt.updateHeader(newRoot)
}

// rebalanceLeaf restores the occupancy floor of an under-full leaf.
// Sibling consultation order: redistribute from the left, redistribute
// from the right, merge into the left, merge into the right. Kinship is
// derived by locating the leaf among the parent's children.
func (bt *BTreeFile) rebalanceLeaf(leafId, parentId types.PageId, firstBefore Key) (*deleteNotice, error) {
	lbuf, err := bt.pool.PinPage(leafId)
	if err != nil {
		return nil, err
	}
	leaf := asLeafPage(lbuf, bt.keyType())
	if leaf.SlotCnt() >= halfLeaf {
		return nil, bt.pool.UnpinPage(leafId, false)
	}

	pbuf, err := bt.pool.PinPage(parentId)
	if err != nil {
		bt.pool.UnpinPage(leafId, false)
		return nil, err
	}
	parent := asIndexPage(pbuf, bt.keyType())

	release := func(dirtyLeaf, dirtyParent bool) error {
		err1 := bt.pool.UnpinPage(leafId, dirtyLeaf)
		err2 := bt.pool.UnpinPage(parentId, dirtyParent)
		if err1 != nil {
			return err1
		}
		return err2
	}

	pos, err := parent.childPos(leafId)
	if err != nil {
		release(false, false)
		return nil, err
	}
	if pos < 0 {
		// The duplicate run carried the removal under another parent;
		// this call cannot rebalance it.
		return nil, release(false, false)
	}

	var leftId, rightId types.PageId = types.InvalidPage, types.InvalidPage
	if pos > 0 {
		if leftId, err = parent.childAt(pos - 1); err != nil {
			release(false, false)
			return nil, err
		}
	}
	if pos+1 < parent.childCount() {
		if rightId, err = parent.childAt(pos + 1); err != nil {
			release(false, false)
			return nil, err
		}
	}

	curEnts, err := leaf.entries()
	if err != nil {
		release(false, false)
		return nil, err
	}

	// Redistribute from the left sibling when it can spare entries: the
	// two leaves end up holding floor(total/2) / the rest, the left with
	// the smaller keys, and the parent's separator follows the current
	// leaf's new first key.
	if leftId.IsValid() {
		lb, err := bt.pool.PinPage(leftId)
		if err != nil {
			release(false, false)
			return nil, err
		}
		left := asLeafPage(lb, bt.keyType())
		if left.SlotCnt() > halfLeaf {
			leftEnts, err := left.entries()
			if err == nil {
				all := append(leftEnts, curEnts...)
				median := len(all) / 2
				if err = left.setEntries(all[:median]); err == nil {
					if err = leaf.setEntries(all[median:]); err == nil {
						err = parent.setKeyAt(pos-1, all[median].Key)
					}
				}
			}
			uerr := bt.pool.UnpinPage(leftId, true)
			rerr := release(true, true)
			if err != nil {
				return nil, err
			}
			if uerr != nil {
				return nil, uerr
			}
			bt.tracef("REDIST left %d <- %d", leftId, leafId)
			return nil, rerr
		}
		if err := bt.pool.UnpinPage(leftId, false); err != nil {
			release(false, false)
			return nil, err
		}
	}

	// Redistribute from the right sibling: the donor keeps floor(total/2)
	// entries and the parent's separator follows its new first key.
	if rightId.IsValid() {
		rb, err := bt.pool.PinPage(rightId)
		if err != nil {
			release(false, false)
			return nil, err
		}
		right := asLeafPage(rb, bt.keyType())
		if right.SlotCnt() > halfLeaf {
			rightEnts, err := right.entries()
			if err == nil {
				all := append(curEnts, rightEnts...)
				split := len(all) - len(all)/2
				if err = leaf.setEntries(all[:split]); err == nil {
					if err = right.setEntries(all[split:]); err == nil {
						err = parent.setKeyAt(pos, all[split].Key)
					}
				}
			}
			uerr := bt.pool.UnpinPage(rightId, true)
			rerr := release(true, true)
			if err != nil {
				return nil, err
			}
			if uerr != nil {
				return nil, uerr
			}
			bt.tracef("REDIST right %d -> %d", rightId, leafId)
			return nil, rerr
		}
		if err := bt.pool.UnpinPage(rightId, false); err != nil {
			release(false, false)
			return nil, err
		}
	}

	// Merge into the left sibling: the current leaf drains into it, the
	// chain routes around the emptied page, and the notice tells the
	// parent to drop its separator.
	if leftId.IsValid() {
		lb, err := bt.pool.PinPage(leftId)
		if err != nil {
			release(false, false)
			return nil, err
		}
		left := asLeafPage(lb, bt.keyType())
		if left.SlotCnt() <= halfLeaf {
			for _, e := range curEnts {
				if err = left.InsertRecord(e.Key, e.Rid); err != nil {
					break
				}
			}
			next := leaf.NextPage()
			if err == nil {
				left.SetNextPage(next)
				if next.IsValid() {
					var nb *types.Page
					if nb, err = bt.pool.PinPage(next); err == nil {
						newSortedPage(nb, bt.keyType()).SetPrevPage(leftId)
						err = bt.pool.UnpinPage(next, true)
					}
				}
			}
			uerr := bt.pool.UnpinPage(leftId, true)
			rerr := release(false, false)
			if err != nil {
				return nil, err
			}
			if uerr != nil {
				return nil, uerr
			}
			if rerr != nil {
				return nil, rerr
			}
			if err := bt.pool.FreePage(leafId); err != nil {
				return nil, err
			}
			bt.tracef("MERGE leaf %d <- %d", leftId, leafId)
			return &deleteNotice{key: firstBefore, child: leafId}, nil
		}
		if err := bt.pool.UnpinPage(leftId, false); err != nil {
			release(false, false)
			return nil, err
		}
	}

	// Merge into the right sibling. When the current leaf was the
	// parent's left-link the right sibling takes its place and the
	// parent drops the now-redundant first separator; otherwise the
	// right sibling's separator widens to cover the merged range.
	if rightId.IsValid() {
		rb, err := bt.pool.PinPage(rightId)
		if err != nil {
			release(false, false)
			return nil, err
		}
		right := asLeafPage(rb, bt.keyType())
		if right.SlotCnt() <= halfLeaf {
			for _, e := range curEnts {
				if err = right.InsertRecord(e.Key, e.Rid); err != nil {
					break
				}
			}
			prev := leaf.PrevPage()
			if err == nil {
				right.SetPrevPage(prev)
				if prev.IsValid() {
					var pb *types.Page
					if pb, err = bt.pool.PinPage(prev); err == nil {
						newSortedPage(pb, bt.keyType()).SetNextPage(rightId)
						err = bt.pool.UnpinPage(prev, true)
					}
				}
			}

			var notice *deleteNotice
			if err == nil {
				if pos == 0 {
					parent.SetLeftLink(rightId)
					var pFirst Entry
					if pFirst, err = parent.firstEntry(); err == nil {
						notice = &deleteNotice{key: pFirst.Key, child: rightId}
					}
				} else {
					if len(curEnts) > 0 {
						err = parent.setKeyAt(pos, curEnts[0].Key)
					}
					notice = &deleteNotice{key: firstBefore, child: leafId}
				}
			}
			uerr := bt.pool.UnpinPage(rightId, true)
			rerr := release(false, true)
			if err != nil {
				return nil, err
			}
			if uerr != nil {
				return nil, uerr
			}
			if rerr != nil {
				return nil, rerr
			}
			if err := bt.pool.FreePage(leafId); err != nil {
				return nil, err
			}
			bt.tracef("MERGE leaf %d -> %d", leafId, rightId)
			return notice, nil
		}
		if err := bt.pool.UnpinPage(rightId, false); err != nil {
			release(false, false)
			return nil, err
		}
	}

	// No sibling can serve; the page stays under-full.
	return nil, release(false, false)
}

// rebalanceIndex restores the occupancy floor of an under-full index
// node. The left-link of a donor page represents a subtree keyed between
// the parent's separator and the donor's first entry; moving it requires
// materializing it as an explicit (first-key-of-subtree, left-link)
// entry before entries change hands. cur is pinned on entry and released
// here.
func (bt *BTreeFile) rebalanceIndex(cur *indexPage, curId, parentId types.PageId) (*deleteNotice, error) {
	pbuf, err := bt.pool.PinPage(parentId)
	if err != nil {
		bt.pool.UnpinPage(curId, true)
		return nil, err
	}
	parent := asIndexPage(pbuf, bt.keyType())

	release := func(dirtyParent bool) error {
		err1 := bt.pool.UnpinPage(curId, true)
		err2 := bt.pool.UnpinPage(parentId, dirtyParent)
		if err1 != nil {
			return err1
		}
		return err2
	}

	pos, err := parent.childPos(curId)
	if err != nil {
		release(false)
		return nil, err
	}
	if pos < 0 {
		return nil, release(false)
	}

	var leftId, rightId types.PageId = types.InvalidPage, types.InvalidPage
	if pos > 0 {
		if leftId, err = parent.childAt(pos - 1); err != nil {
			release(false)
			return nil, err
		}
	}
	if pos+1 < parent.childCount() {
		if rightId, err = parent.childAt(pos + 1); err != nil {
			release(false)
			return nil, err
		}
	}

	curEnts, err := cur.entries()
	if err != nil {
		release(false)
		return nil, err
	}

	// Redistribute from the left sibling.
	if leftId.IsValid() {
		lb, err := bt.pool.PinPage(leftId)
		if err != nil {
			release(false)
			return nil, err
		}
		left := asIndexPage(lb, bt.keyType())
		if left.SlotCnt() > halfIndex {
			var all []Entry
			bridgeKey, err := bt.firstKeyOfSubtree(cur.LeftLink())
			if err == nil {
				var leftEnts []Entry
				if leftEnts, err = left.entries(); err == nil {
					all = append(leftEnts, Entry{Key: bridgeKey, Child: cur.LeftLink()})
					all = append(all, curEnts...)
				}
			}
			if err == nil {
				// One moved item becomes the current page's new left-link,
				// so the donor keeps floor((left+cur)/2) of the remaining
				// entries.
				median := (len(all) - 1) / 2
				if err = left.setEntries(all[:median]); err == nil {
					rest := all[median:]
					cur.SetLeftLink(rest[0].Child)
					if err = cur.setEntries(rest[1:]); err == nil {
						err = parent.setKeyAt(pos-1, rest[0].Key)
					}
				}
			}
			uerr := bt.pool.UnpinPage(leftId, true)
			rerr := release(true)
			if err != nil {
				return nil, err
			}
			if uerr != nil {
				return nil, uerr
			}
			bt.tracef("REDIST index left %d <- %d", leftId, curId)
			return nil, rerr
		}
		if err := bt.pool.UnpinPage(leftId, false); err != nil {
			release(false)
			return nil, err
		}
	}

	// Redistribute from the right sibling.
	if rightId.IsValid() {
		rb, err := bt.pool.PinPage(rightId)
		if err != nil {
			release(false)
			return nil, err
		}
		right := asIndexPage(rb, bt.keyType())
		if right.SlotCnt() > halfIndex {
			var all []Entry
			bridgeKey, err := bt.firstKeyOfSubtree(right.LeftLink())
			if err == nil {
				var rightEnts []Entry
				if rightEnts, err = right.entries(); err == nil {
					all = append(append(curEnts, Entry{Key: bridgeKey, Child: right.LeftLink()}), rightEnts...)
				}
			}
			if err == nil {
				// The donor ends with floor((cur+right)/2) entries after its
				// new left-link is carved off the front of its share.
				rightFinal := (len(all) - 1) / 2
				split := len(all) - rightFinal - 1
				if err = cur.setEntries(all[:split]); err == nil {
					newRight := all[split:]
					right.SetLeftLink(newRight[0].Child)
					if err = right.setEntries(newRight[1:]); err == nil {
						err = parent.setKeyAt(pos, newRight[0].Key)
					}
				}
			}
			uerr := bt.pool.UnpinPage(rightId, true)
			rerr := release(true)
			if err != nil {
				return nil, err
			}
			if uerr != nil {
				return nil, uerr
			}
			bt.tracef("REDIST index right %d -> %d", rightId, curId)
			return nil, rerr
		}
		if err := bt.pool.UnpinPage(rightId, false); err != nil {
			release(false)
			return nil, err
		}
	}

	// Merge into the left sibling.
	if leftId.IsValid() {
		lb, err := bt.pool.PinPage(leftId)
		if err != nil {
			release(false)
			return nil, err
		}
		left := asIndexPage(lb, bt.keyType())
		if left.SlotCnt() <= halfIndex {
			bridgeKey, err := bt.firstKeyOfSubtree(cur.LeftLink())
			if err == nil {
				if err = left.InsertKey(bridgeKey, cur.LeftLink()); err == nil {
					for _, e := range curEnts {
						if err = left.InsertKey(e.Key, e.Child); err != nil {
							break
						}
					}
				}
			}
			uerr := bt.pool.UnpinPage(leftId, true)
			rerr := release(false)
			if err != nil {
				return nil, err
			}
			if uerr != nil {
				return nil, uerr
			}
			if rerr != nil {
				return nil, rerr
			}
			if err := bt.pool.FreePage(curId); err != nil {
				return nil, err
			}
			bt.tracef("MERGE index %d <- %d", leftId, curId)
			return &deleteNotice{key: bridgeKey, child: curId}, nil
		}
		if err := bt.pool.UnpinPage(leftId, false); err != nil {
			release(false)
			return nil, err
		}
	}

	// Merge the right sibling into the current page.
	if rightId.IsValid() {
		rb, err := bt.pool.PinPage(rightId)
		if err != nil {
			release(false)
			return nil, err
		}
		right := asIndexPage(rb, bt.keyType())
		if right.SlotCnt() <= halfIndex {
			bridgeKey, err := bt.firstKeyOfSubtree(right.LeftLink())
			if err == nil {
				var rightEnts []Entry
				if rightEnts, err = right.entries(); err == nil {
					if err = cur.InsertKey(bridgeKey, right.LeftLink()); err == nil {
						for _, e := range rightEnts {
							if err = cur.InsertKey(e.Key, e.Child); err != nil {
								break
							}
						}
					}
				}
			}
			uerr := bt.pool.UnpinPage(rightId, false)
			rerr := release(false)
			if err != nil {
				return nil, err
			}
			if uerr != nil {
				return nil, uerr
			}
			if rerr != nil {
				return nil, rerr
			}
			if err := bt.pool.FreePage(rightId); err != nil {
				return nil, err
			}
			bt.tracef("MERGE index %d -> %d", rightId, curId)
			return &deleteNotice{key: bridgeKey, child: rightId}, nil
		}
		if err := bt.pool.UnpinPage(rightId, false); err != nil {
			release(false)
			return nil, err
		}
	}

	return nil, release(false)
}
