package btree

import (
	"math/rand"
	"testing"

	"BTreeDB/types"
)

// TestNaiveDelete removes entries without rebalancing and verifies the
// survivors.
func TestNaiveDelete(t *testing.T) {
	tree, _, _ := newTestTree(t, DeleteNaive)

	const n = 200
	for k := 0; k < n; k++ {
		if err := tree.Insert(IntKey(k), ridOf(k)); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}

	for k := 0; k < n; k += 2 {
		ok, err := tree.Delete(IntKey(k), ridOf(k))
		if err != nil || !ok {
			t.Fatalf("Delete(%d): ok=%v err=%v", k, ok, err)
		}
	}
	// Deleting again reports absence, not an error.
	if ok, err := tree.Delete(IntKey(0), ridOf(0)); err != nil || ok {
		t.Fatalf("re-delete: ok=%v err=%v", ok, err)
	}
	// Wrong rid does not match.
	if ok, err := tree.Delete(IntKey(1), ridOf(999)); err != nil || ok {
		t.Fatalf("wrong-rid delete: ok=%v err=%v", ok, err)
	}

	keys, _ := collectScan(t, tree, nil, nil)
	if len(keys) != n/2 {
		t.Fatalf("survivors: got %d, want %d", len(keys), n/2)
	}
	for i, k := range keys {
		if int(k.(IntKey)) != 2*i+1 {
			t.Fatalf("survivor %d: got %s, want %d", i, k, 2*i+1)
		}
	}
}

// TestFullDeleteRedistributeFromLeft drives an underflow whose left
// sibling can spare entries: afterwards both leaves hold half of the
// total and the parent separator tracks the right leaf's new first key.
func TestFullDeleteRedistributeFromLeft(t *testing.T) {
	tree, _, _ := newTestTree(t, DeleteFull)

	// 1..63 splits into a 31-entry left leaf and a 32-entry right leaf.
	for k := 1; k <= MaxLeafPageCapacity+1; k++ {
		if err := tree.Insert(IntKey(k), ridOf(k)); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}
	// Fill the left leaf to capacity with duplicates of its largest key.
	for i := 0; i < MaxLeafPageCapacity-31; i++ {
		if err := tree.Insert(IntKey(31), ridOf(1000+i)); err != nil {
			t.Fatalf("Insert(dup %d): %v", i, err)
		}
	}

	// Two deletes push the right leaf below half capacity.
	for _, k := range []int{63, 62} {
		ok, err := tree.Delete(IntKey(k), ridOf(k))
		if err != nil || !ok {
			t.Fatalf("Delete(%d): ok=%v err=%v", k, ok, err)
		}
	}
	validateTree(t, tree)

	// 62 + 30 entries rebalance to 46 each.
	root := tree.header.RootId()
	buf, err := tree.pool.PinPage(root)
	if err != nil {
		t.Fatalf("pin root: %v", err)
	}
	ip := asIndexPage(buf, tree.keyType())
	sep, _ := ip.firstEntry()
	leftId := ip.LeftLink()
	rightId := sep.Child
	tree.pool.UnpinPage(root, false)

	for _, c := range []struct {
		id   types.PageId
		want int
	}{{leftId, 46}, {rightId, 46}} {
		b, err := tree.pool.PinPage(c.id)
		if err != nil {
			t.Fatalf("pin leaf %d: %v", c.id, err)
		}
		lp := asLeafPage(b, tree.keyType())
		if lp.SlotCnt() != c.want {
			t.Errorf("leaf %d: got %d entries, want %d", c.id, lp.SlotCnt(), c.want)
		}
		if c.id == rightId {
			first, _ := lp.firstKey()
			if mustCompare(sep.Key, first) != 0 {
				t.Errorf("separator %s != right leaf first %s", sep.Key, first)
			}
		}
		tree.pool.UnpinPage(c.id, false)
	}
}

// TestFullDeleteMergeAndRootCollapse drives the two-leaf tree down to a
// merge: the root index page empties and the surviving leaf becomes the
// root.
func TestFullDeleteMergeAndRootCollapse(t *testing.T) {
	tree, _, _ := newTestTree(t, DeleteFull)

	for k := 1; k <= MaxLeafPageCapacity+1; k++ {
		if err := tree.Insert(IntKey(k), ridOf(k)); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}
	// Right leaf 32 -> 31 (exactly half), no underflow yet.
	if ok, err := tree.Delete(IntKey(63), ridOf(63)); err != nil || !ok {
		t.Fatalf("Delete(63): ok=%v err=%v", ok, err)
	}
	// Left leaf 31 -> 30: merges into the right sibling, root collapses.
	if ok, err := tree.Delete(IntKey(1), ridOf(1)); err != nil || !ok {
		t.Fatalf("Delete(1): ok=%v err=%v", ok, err)
	}

	root := tree.header.RootId()
	buf, err := tree.pool.PinPage(root)
	if err != nil {
		t.Fatalf("pin root: %v", err)
	}
	sp := newSortedPage(buf, tree.keyType())
	if sp.Type() != types.PageTypeBTreeLeaf {
		t.Fatalf("root after collapse: type=%d, want leaf", sp.Type())
	}
	if sp.SlotCnt() != 61 {
		t.Errorf("merged leaf entries: got %d, want 61", sp.SlotCnt())
	}
	if sp.PrevPage().IsValid() || sp.NextPage().IsValid() {
		t.Errorf("merged root leaf has siblings: prev=%d next=%d", sp.PrevPage(), sp.NextPage())
	}
	tree.pool.UnpinPage(root, false)

	keys, _ := collectScan(t, tree, nil, nil)
	if len(keys) != 61 {
		t.Fatalf("scan count: got %d, want 61", len(keys))
	}
	validateTree(t, tree)
}

// TestInsertDeleteDuality inserts a multiset, deletes it all again, and
// checks the tree is empty with every allocated page back on the free
// list (the header and directory pages excepted).
func TestInsertDeleteDuality(t *testing.T) {
	tree, _, disk := newTestTree(t, DeleteFull)

	const n = 1000
	for k := 0; k < n; k++ {
		if err := tree.Insert(IntKey(k), ridOf(k)); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}
	validateTree(t, tree)

	for k := 0; k < n; k++ {
		ok, err := tree.Delete(IntKey(k), ridOf(k))
		if err != nil || !ok {
			t.Fatalf("Delete(%d): ok=%v err=%v", k, ok, err)
		}
	}

	if tree.header.RootId().IsValid() {
		t.Fatalf("root should be invalid after deleting everything, got %d", tree.header.RootId())
	}
	keys, _ := collectScan(t, tree, nil, nil)
	if len(keys) != 0 {
		t.Fatalf("scan of empty tree returned %d entries", len(keys))
	}

	free, err := disk.FreePageCount()
	if err != nil {
		t.Fatalf("FreePageCount: %v", err)
	}
	// Everything but the directory page and the pinned header page must
	// be back on the free list.
	if want := int(disk.PageCount()) - 2; free != want {
		t.Errorf("free pages: got %d, want %d", free, want)
	}
}

// TestFullDeleteRandomized mixes inserts and deletes against a shadow
// model, validating the structure as it goes.
func TestFullDeleteRandomized(t *testing.T) {
	tree, _, _ := newTestTree(t, DeleteFull)

	rng := rand.New(rand.NewSource(7))
	shadow := make(map[int]bool)

	for round := 0; round < 4000; round++ {
		k := rng.Intn(600)
		if shadow[k] {
			ok, err := tree.Delete(IntKey(k), ridOf(k))
			if err != nil || !ok {
				t.Fatalf("round %d: Delete(%d): ok=%v err=%v", round, k, ok, err)
			}
			delete(shadow, k)
		} else {
			if err := tree.Insert(IntKey(k), ridOf(k)); err != nil {
				t.Fatalf("round %d: Insert(%d): %v", round, k, err)
			}
			shadow[k] = true
		}
		if round%500 == 0 {
			validateTree(t, tree)
		}
	}
	validateTree(t, tree)

	keys, _ := collectScan(t, tree, nil, nil)
	if len(keys) != len(shadow) {
		t.Fatalf("scan count: got %d, want %d", len(keys), len(shadow))
	}
	for _, k := range keys {
		if !shadow[int(k.(IntKey))] {
			t.Fatalf("scan yielded key %s not in shadow", k)
		}
	}
}

// TestFullDeleteDeepTree drains most of a three-level tree so the
// index-level redistribute, merge and multi-level root collapse paths
// all run.
func TestFullDeleteDeepTree(t *testing.T) {
	tree, _, _ := newTestTree(t, DeleteFull)

	const n = 6000
	for k := 0; k < n; k++ {
		if err := tree.Insert(IntKey(k), ridOf(k)); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}
	validateTree(t, tree)

	// Drain from both ends toward the middle.
	lo, hi := 0, n-1
	for lo < hi-100 {
		for _, k := range []int{lo, hi} {
			ok, err := tree.Delete(IntKey(k), ridOf(k))
			if err != nil || !ok {
				t.Fatalf("Delete(%d): ok=%v err=%v", k, ok, err)
			}
		}
		lo++
		hi--
		if lo%400 == 0 {
			validateTree(t, tree)
		}
	}
	validateTree(t, tree)

	keys, _ := collectScan(t, tree, nil, nil)
	if len(keys) != hi-lo+1 {
		t.Fatalf("survivors: got %d, want %d", len(keys), hi-lo+1)
	}
	for i, k := range keys {
		if int(k.(IntKey)) != lo+i {
			t.Fatalf("survivor %d: got %s, want %d", i, k, lo+i)
		}
	}

	// Finish the drain; the tree must collapse to empty.
	for k := lo; k <= hi; k++ {
		ok, err := tree.Delete(IntKey(k), ridOf(k))
		if err != nil || !ok {
			t.Fatalf("Delete(%d): ok=%v err=%v", k, ok, err)
		}
	}
	if tree.header.RootId().IsValid() {
		t.Fatalf("root should be invalid after full drain, got %d", tree.header.RootId())
	}
}

// TestDestroyFreesEverything builds a multi-level tree and destroys it;
// only the directory page stays allocated.
func TestDestroyFreesEverything(t *testing.T) {
	tree, _, disk := newTestTree(t, DeleteNaive)

	for k := 0; k < 2000; k++ {
		if err := tree.Insert(IntKey(k), ridOf(k)); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}
	if err := tree.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	free, err := disk.FreePageCount()
	if err != nil {
		t.Fatalf("FreePageCount: %v", err)
	}
	if want := int(disk.PageCount()) - 1; free != want {
		t.Errorf("free pages after destroy: got %d, want %d", free, want)
	}
	if _, err := disk.GetFileEntry("test_tree"); err == nil {
		t.Error("catalog entry should be gone after destroy")
	}
}
