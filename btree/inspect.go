package btree

import (
	"fmt"
	"io"

	"BTreeDB/types"
)

// DumpTo writes a human-readable dump of the tree to w: the header
// metadata, then each node level by level with its separators or
// records. Intended for debugging and the shell's dump command.
func (bt *BTreeFile) DumpTo(w io.Writer) error {
	if bt.header == nil {
		return ErrTreeClosed
	}
	fmt.Fprintf(w, "btree %s: keyType=%d maxKeySize=%d policy=%d root=%d\n",
		bt.name, bt.keyType(), bt.header.MaxKeySize(), bt.header.DeletePolicy(), bt.header.RootId())

	root := bt.header.RootId()
	if !root.IsValid() {
		fmt.Fprintln(w, "  (empty tree)")
		return nil
	}

	queue := []types.PageId{root}
	level := 0
	for len(queue) > 0 {
		fmt.Fprintf(w, "  Level %d:\n", level)
		var next []types.PageId
		for _, id := range queue {
			children, err := bt.dumpNode(w, id)
			if err != nil {
				return err
			}
			next = append(next, children...)
		}
		queue = next
		level++
	}
	return nil
}

// dumpNode prints one node and returns its children, if any.
func (bt *BTreeFile) dumpNode(w io.Writer, id types.PageId) ([]types.PageId, error) {
	buf, err := bt.pool.PinPage(id)
	if err != nil {
		return nil, err
	}
	defer bt.pool.UnpinPage(id, false)

	sp := newSortedPage(buf, bt.keyType())
	switch sp.Type() {
	case types.PageTypeBTreeIndex:
		ip := asIndexPage(buf, bt.keyType())
		fmt.Fprintf(w, "    [index %d] leftLink=%d", id, ip.LeftLink())
		children := []types.PageId{ip.LeftLink()}
		for i := 0; i < ip.SlotCnt(); i++ {
			e, err := ip.EntryAt(i)
			if err != nil {
				return nil, err
			}
			fmt.Fprintf(w, " %s->%d", e.Key, e.Child)
			children = append(children, e.Child)
		}
		fmt.Fprintln(w)
		return children, nil

	case types.PageTypeBTreeLeaf:
		lp := asLeafPage(buf, bt.keyType())
		fmt.Fprintf(w, "    [leaf %d] prev=%d next=%d:", id, lp.PrevPage(), lp.NextPage())
		for i := 0; i < lp.SlotCnt(); i++ {
			e, err := lp.EntryAt(i)
			if err != nil {
				return nil, err
			}
			fmt.Fprintf(w, " %s(%d,%d)", e.Key, e.Rid.PageNo, e.Rid.SlotNo)
		}
		fmt.Fprintln(w)
		return nil, nil
	}
	return nil, fmt.Errorf("btree: dump page %d: %w", id, ErrNodeType)
}

// TraceChildren writes the children of one node to the trace writer, in
// the manner the visualization tooling expects.
func (bt *BTreeFile) TraceChildren(id types.PageId) error {
	if bt.trace == nil {
		return nil
	}
	buf, err := bt.pool.PinPage(id)
	if err != nil {
		return err
	}
	defer bt.pool.UnpinPage(id, false)

	sp := newSortedPage(buf, bt.keyType())
	switch sp.Type() {
	case types.PageTypeBTreeIndex:
		ip := asIndexPage(buf, bt.keyType())
		bt.tracef("INDEX CHILDREN %d nodes", id)
		bt.tracef(" %d", ip.LeftLink())
		for i := 0; i < ip.SlotCnt(); i++ {
			e, err := ip.EntryAt(i)
			if err != nil {
				return err
			}
			bt.tracef("   %d", e.Child)
		}
	case types.PageTypeBTreeLeaf:
		lp := asLeafPage(buf, bt.keyType())
		bt.tracef("LEAF CHILDREN %d nodes", id)
		for i := 0; i < lp.SlotCnt(); i++ {
			e, err := lp.EntryAt(i)
			if err != nil {
				return err
			}
			bt.tracef("   %s (%d,%d)", e.Key, e.Rid.PageNo, e.Rid.SlotNo)
		}
	}
	return nil
}
