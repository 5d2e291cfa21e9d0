package bench

import (
	"BTreeDB/btree"
	"BTreeDB/types"
)

// BTreeIndex adapts a btree.BTreeFile to the benchmark Index interface.
type BTreeIndex struct {
	tree *btree.BTreeFile
}

// NewBTreeIndex wraps an open tree with integer keys.
func NewBTreeIndex(tree *btree.BTreeFile) *BTreeIndex {
	return &BTreeIndex{tree: tree}
}

func (b *BTreeIndex) Insert(key int64, rid types.RID) error {
	return b.tree.Insert(btree.IntKey(key), rid)
}

func (b *BTreeIndex) Lookup(key int64) (types.RID, bool, error) {
	scan, err := b.tree.NewScan(btree.IntKey(key), btree.IntKey(key))
	if err != nil {
		return types.RID{}, false, err
	}
	defer scan.Close()
	if !scan.Next() {
		return types.RID{}, false, scan.Err()
	}
	return scan.Rid(), true, nil
}

func (b *BTreeIndex) Delete(key int64, rid types.RID) (bool, error) {
	return b.tree.Delete(btree.IntKey(key), rid)
}

func (b *BTreeIndex) Scan(start, end int64) (Iterator, error) {
	scan, err := b.tree.NewScan(btree.IntKey(start), btree.IntKey(end))
	if err != nil {
		return nil, err
	}
	return &btreeIterator{scan: scan}, nil
}

func (b *BTreeIndex) Close() error {
	return b.tree.Close()
}

type btreeIterator struct {
	scan *btree.Scan
}

func (it *btreeIterator) Next() bool { return it.scan.Next() }

func (it *btreeIterator) Key() int64 {
	return int64(it.scan.Key().(btree.IntKey))
}

func (it *btreeIterator) Rid() types.RID { return it.scan.Rid() }
func (it *btreeIterator) Error() error   { return it.scan.Err() }
func (it *btreeIterator) Close() error   { return it.scan.Close() }
