// Package btree implements a disk-resident B+-tree index over fixed-size
// pages supplied by an external buffer manager. The tree keeps a
// key-ordered, balanced, multi-way search structure supporting point
// insertion, deletion (naive or full-rebalancing) and bounded range
// scans. All node state lives in pinned pages; every page access follows
// the pin/unpin protocol of the buffer layer.
package btree

import (
	"errors"
	"fmt"
	"io"

	"BTreeDB/types"
)

// Catalog is the disk-manager facility mapping index file names to their
// header pages.
type Catalog interface {
	GetFileEntry(name string) (types.PageId, error)
	AddFileEntry(name string, id types.PageId) error
	DeleteFileEntry(name string) error
}

// BufferPool is the page residency contract. PinPage guarantees the
// returned buffer stays valid until the matching UnpinPage; the dirty
// flag on unpin records whether the caller modified the page. NewPage
// returns a freshly allocated page already pinned.
type BufferPool interface {
	PinPage(id types.PageId) (*types.Page, error)
	UnpinPage(id types.PageId, dirty bool) error
	NewPage() (types.PageId, *types.Page, error)
	FreePage(id types.PageId) error
}

// BTreeFile is an open B+-tree index. Callers are assumed sequential;
// the tree performs no locking of its own.
type BTreeFile struct {
	name     string
	pool     BufferPool
	catalog  Catalog
	headerId types.PageId
	header   *headerPage // pinned for the lifetime of the open tree
	trace    io.Writer
}

// Option configures an open tree.
type Option func(*BTreeFile)

// WithTrace directs structural trace events (node visits, children
// dumps) to w. The default discards them.
func WithTrace(w io.Writer) Option {
	return func(bt *BTreeFile) { bt.trace = w }
}

// Open opens an existing tree file. Fails with ErrMissingFile when the
// catalog has no entry for the name.
func Open(name string, pool BufferPool, catalog Catalog, opts ...Option) (*BTreeFile, error) {
	headerId, err := catalog.GetFileEntry(name)
	if err != nil {
		return nil, fmt.Errorf("btree: open %s: %w: %w", name, ErrMissingFile, err)
	}

	buf, err := pool.PinPage(headerId)
	if err != nil {
		return nil, fmt.Errorf("btree: open %s: %w", name, err)
	}
	header := asHeaderPage(buf)
	if header.Magic() != headerMagic {
		pool.UnpinPage(headerId, false)
		return nil, fmt.Errorf("btree: open %s: %w", name, ErrBadMagic)
	}

	bt := &BTreeFile{
		name:     name,
		pool:     pool,
		catalog:  catalog,
		headerId: headerId,
		header:   header,
	}
	for _, opt := range opts {
		opt(bt)
	}
	return bt, nil
}

// Create opens the tree file with the given name, creating it with the
// given parameters when it does not exist yet.
func Create(name string, keyType KeyType, maxKeySize int, policy DeletePolicy, pool BufferPool, catalog Catalog, opts ...Option) (*BTreeFile, error) {
	if _, err := catalog.GetFileEntry(name); err == nil {
		return Open(name, pool, catalog, opts...)
	}

	headerId, buf, err := pool.NewPage()
	if err != nil {
		return nil, fmt.Errorf("btree: create %s: %w", name, err)
	}
	header := formatHeaderPage(buf, headerId, keyType, maxKeySize, policy)
	if err := catalog.AddFileEntry(name, headerId); err != nil {
		pool.UnpinPage(headerId, false)
		pool.FreePage(headerId)
		return nil, fmt.Errorf("btree: create %s: %w", name, err)
	}

	bt := &BTreeFile{
		name:     name,
		pool:     pool,
		catalog:  catalog,
		headerId: headerId,
		header:   header,
	}
	for _, opt := range opts {
		opt(bt)
	}
	return bt, nil
}

// Close unpins the header page dirty and invalidates the handle.
func (bt *BTreeFile) Close() error {
	if bt.header == nil {
		return nil
	}
	bt.header = nil
	return bt.pool.UnpinPage(bt.headerId, true)
}

// Destroy frees every page reachable from the root, the header page,
// and the catalog entry. The handle is unusable afterwards.
func (bt *BTreeFile) Destroy() error {
	if bt.header == nil {
		return ErrTreeClosed
	}
	root := bt.header.RootId()
	if root.IsValid() {
		if err := bt.destroyRec(root); err != nil {
			return err
		}
	}
	bt.header = nil
	if err := bt.pool.UnpinPage(bt.headerId, false); err != nil {
		return err
	}
	if err := bt.pool.FreePage(bt.headerId); err != nil {
		return err
	}
	return bt.catalog.DeleteFileEntry(bt.name)
}

// destroyRec frees the subtree rooted at id, children first.
func (bt *BTreeFile) destroyRec(id types.PageId) error {
	buf, err := bt.pool.PinPage(id)
	if err != nil {
		return err
	}
	sp := newSortedPage(buf, bt.keyType())

	if sp.Type() == types.PageTypeBTreeIndex {
		ip := asIndexPage(buf, bt.keyType())
		children := make([]types.PageId, 0, ip.childCount())
		for pos := 0; pos < ip.childCount(); pos++ {
			child, err := ip.childAt(pos)
			if err != nil {
				bt.pool.UnpinPage(id, false)
				return err
			}
			children = append(children, child)
		}
		if err := bt.pool.UnpinPage(id, false); err != nil {
			return err
		}
		for _, child := range children {
			if err := bt.destroyRec(child); err != nil {
				return err
			}
		}
		return bt.pool.FreePage(id)
	}

	if err := bt.pool.UnpinPage(id, false); err != nil {
		return err
	}
	return bt.pool.FreePage(id)
}

// Name returns the catalog name of the tree file.
func (bt *BTreeFile) Name() string { return bt.name }

// KeyType returns the key variant the tree was created with.
func (bt *BTreeFile) KeyType() KeyType { return bt.keyType() }

func (bt *BTreeFile) keyType() KeyType { return bt.header.KeyType() }

// updateHeader records a root change. The header stays pinned for the
// life of the handle; the extra pin/unpin clocks the dirty bit into the
// buffer manager.
func (bt *BTreeFile) updateHeader(newRoot types.PageId) error {
	if _, err := bt.pool.PinPage(bt.headerId); err != nil {
		return err
	}
	bt.header.SetRootId(newRoot)
	return bt.pool.UnpinPage(bt.headerId, true)
}

// checkKey validates a key against the tree's declared type and size.
func (bt *BTreeFile) checkKey(key Key) error {
	if bt.header == nil {
		return ErrTreeClosed
	}
	if key.keyType() != bt.keyType() {
		return fmt.Errorf("btree: %s: %w", bt.name, ErrKeyTypeMismatch)
	}
	if k, ok := key.(StrKey); ok && len(k) > bt.header.MaxKeySize() {
		return fmt.Errorf("btree: %s: %w", bt.name, ErrKeyTooLong)
	}
	return nil
}

// tracef emits one structural trace line when tracing is enabled.
func (bt *BTreeFile) tracef(format string, args ...interface{}) {
	if bt.trace != nil {
		fmt.Fprintf(bt.trace, format+"\n", args...)
	}
}

// firstKeyOfSubtree descends left-links to the leftmost leaf under id
// and returns its first key, skipping empty leaves to the right.
func (bt *BTreeFile) firstKeyOfSubtree(id types.PageId) (Key, error) {
	cur := id
	for {
		buf, err := bt.pool.PinPage(cur)
		if err != nil {
			return nil, err
		}
		sp := newSortedPage(buf, bt.keyType())
		switch sp.Type() {
		case types.PageTypeBTreeIndex:
			next := asIndexPage(buf, bt.keyType()).LeftLink()
			if err := bt.pool.UnpinPage(cur, false); err != nil {
				return nil, err
			}
			cur = next
		case types.PageTypeBTreeLeaf:
			lp := asLeafPage(buf, bt.keyType())
			if lp.Empty() {
				next := lp.NextPage()
				if err := bt.pool.UnpinPage(cur, false); err != nil {
					return nil, err
				}
				if !next.IsValid() {
					return nil, errors.New("btree: subtree has no entries")
				}
				cur = next
				continue
			}
			key, err := lp.firstKey()
			uerr := bt.pool.UnpinPage(cur, false)
			if err != nil {
				return nil, err
			}
			return key, uerr
		default:
			bt.pool.UnpinPage(cur, false)
			return nil, fmt.Errorf("btree: page %d: %w", cur, ErrNodeType)
		}
	}
}
