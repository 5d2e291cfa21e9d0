package btree

import (
	"fmt"

	"BTreeDB/types"
)

// findRunStart locates the leftmost leaf and slot holding the first
// record with key >= lo, going left on duplicates. lo == nil means the
// leftmost record in the tree. On success the returned leaf is pinned
// and releasing it is the caller's responsibility; a nil leaf means no
// qualifying record exists (nothing left pinned).
//
// The walk holds one pin at a time, transferring it from parent to
// child on descent.
func (bt *BTreeFile) findRunStart(lo Key) (*leafPage, int, error) {
	pageno := bt.header.RootId()
	if !pageno.IsValid() {
		return nil, 0, nil
	}

	buf, err := bt.pool.PinPage(pageno)
	if err != nil {
		return nil, 0, err
	}
	sp := newSortedPage(buf, bt.keyType())
	bt.tracef("VISIT node %d", pageno)

	for sp.Type() == types.PageTypeBTreeIndex {
		ip := asIndexPage(buf, bt.keyType())

		// Follow the last child whose separator is < lo; when every
		// separator is >= lo (or lo is nil) take the left-link, so equal
		// keys are approached from the left.
		next := ip.LeftLink()
		for i := 0; i < ip.SlotCnt(); i++ {
			if lo == nil {
				break
			}
			k, err := ip.keyAt(i)
			if err != nil {
				bt.pool.UnpinPage(pageno, false)
				return nil, 0, err
			}
			c, err := keyCompare(k, lo)
			if err != nil {
				bt.pool.UnpinPage(pageno, false)
				return nil, 0, err
			}
			if c >= 0 {
				break
			}
			e, err := ip.EntryAt(i)
			if err != nil {
				bt.pool.UnpinPage(pageno, false)
				return nil, 0, err
			}
			next = e.Child
		}

		if err := bt.pool.UnpinPage(pageno, false); err != nil {
			return nil, 0, err
		}
		pageno = next
		if buf, err = bt.pool.PinPage(pageno); err != nil {
			return nil, 0, err
		}
		sp = newSortedPage(buf, bt.keyType())
		bt.tracef("VISIT node %d", pageno)
	}

	if sp.Type() != types.PageTypeBTreeLeaf {
		bt.pool.UnpinPage(pageno, false)
		return nil, 0, fmt.Errorf("btree: findRunStart reached page %d: %w", pageno, ErrNodeType)
	}
	leaf := asLeafPage(buf, bt.keyType())

	// Skip empty leaves off to the right.
	for leaf.Empty() {
		next := leaf.NextPage()
		if err := bt.pool.UnpinPage(pageno, false); err != nil {
			return nil, 0, err
		}
		if !next.IsValid() {
			return nil, 0, nil
		}
		pageno = next
		if buf, err = bt.pool.PinPage(pageno); err != nil {
			return nil, 0, err
		}
		leaf = asLeafPage(buf, bt.keyType())
	}

	if lo == nil {
		return leaf, 0, nil
	}

	// Advance within (and across) leaves to the first key >= lo.
	slot := 0
	for {
		for slot < leaf.SlotCnt() {
			k, err := leaf.keyAt(slot)
			if err != nil {
				bt.pool.UnpinPage(pageno, false)
				return nil, 0, err
			}
			c, err := keyCompare(k, lo)
			if err != nil {
				bt.pool.UnpinPage(pageno, false)
				return nil, 0, err
			}
			if c >= 0 {
				return leaf, slot, nil
			}
			slot++
		}
		next := leaf.NextPage()
		if err := bt.pool.UnpinPage(pageno, false); err != nil {
			return nil, 0, err
		}
		if !next.IsValid() {
			return nil, 0, nil
		}
		pageno = next
		if buf, err = bt.pool.PinPage(pageno); err != nil {
			return nil, 0, err
		}
		leaf = asLeafPage(buf, bt.keyType())
		slot = 0
	}
}

// Scan iterates the records with lo <= key <= hi in ascending order.
// A nil bound is open on that side. The scan holds its current leaf
// pinned; Close releases it.
type Scan struct {
	bt      *BTreeFile
	leaf    *leafPage
	leafId  types.PageId
	slot    int
	hi      Key
	started bool
	done    bool
	key     Key
	rid     types.RID
	err     error
}

// NewScan positions a scan at the first record with key >= lo.
func (bt *BTreeFile) NewScan(lo, hi Key) (*Scan, error) {
	if bt.header == nil {
		return nil, ErrTreeClosed
	}
	if lo != nil {
		if err := bt.checkKey(lo); err != nil {
			return nil, err
		}
	}
	if hi != nil {
		if err := bt.checkKey(hi); err != nil {
			return nil, err
		}
	}

	leaf, slot, err := bt.findRunStart(lo)
	if err != nil {
		return nil, err
	}
	s := &Scan{bt: bt, hi: hi}
	if leaf == nil {
		s.done = true
		return s, nil
	}
	s.leaf = leaf
	s.leafId = leaf.CurPage()
	s.slot = slot
	return s, nil
}

// Next advances to the next record. It returns false at the end of the
// range or on error; check Err afterwards.
func (s *Scan) Next() bool {
	if s.done {
		return false
	}
	if s.started {
		s.slot++
	}
	s.started = true

	for s.slot >= s.leaf.SlotCnt() {
		next := s.leaf.NextPage()
		if err := s.bt.pool.UnpinPage(s.leafId, false); err != nil {
			s.fail(err)
			return false
		}
		s.leaf = nil
		if !next.IsValid() {
			s.done = true
			return false
		}
		buf, err := s.bt.pool.PinPage(next)
		if err != nil {
			s.fail(err)
			return false
		}
		s.leaf = asLeafPage(buf, s.bt.keyType())
		s.leafId = next
		s.slot = 0
	}

	e, err := s.leaf.EntryAt(s.slot)
	if err != nil {
		s.stop()
		s.fail(err)
		return false
	}
	if s.hi != nil {
		c, err := keyCompare(e.Key, s.hi)
		if err != nil {
			s.stop()
			s.fail(err)
			return false
		}
		if c > 0 {
			s.stop()
			return false
		}
	}
	s.key = e.Key
	s.rid = e.Rid
	return true
}

// Key returns the key of the current record.
func (s *Scan) Key() Key { return s.key }

// Rid returns the record id of the current record.
func (s *Scan) Rid() types.RID { return s.rid }

// Err returns the first error the scan hit, if any.
func (s *Scan) Err() error { return s.err }

// Close releases the pinned leaf. Safe to call more than once.
func (s *Scan) Close() error {
	if s.done || s.leaf == nil {
		s.done = true
		return nil
	}
	return s.stop()
}

func (s *Scan) stop() error {
	s.done = true
	if s.leaf == nil {
		return nil
	}
	s.leaf = nil
	return s.bt.pool.UnpinPage(s.leafId, false)
}

func (s *Scan) fail(err error) {
	s.done = true
	s.err = err
}
