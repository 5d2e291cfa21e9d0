package bufmgr

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/ristretto/v2"

	"BTreeDB/diskmgr"
	"BTreeDB/types"
)

var (
	ErrBufferFull    = errors.New("all buffer frames are pinned")
	ErrPageNotPinned = errors.New("page is not pinned")
	ErrPagePinned    = errors.New("page is still pinned")
)

// frame is a resident page with its pin count and dirty bit.
type frame struct {
	page     *types.Page
	pinCount int
	dirty    bool
}

// BufferManager mediates all page access between the tree and the disk
// manager. Pinned pages live in the frame table and are never evicted.
// Clean unpinned pages are handed to a ristretto cache so a re-pin of a
// hot page skips the disk read; a cache miss only costs that read, so
// correctness never depends on admission.
type BufferManager struct {
	disk     *diskmgr.DiskManager
	capacity int

	mu     sync.Mutex
	frames map[types.PageId]*frame
	hot    *ristretto.Cache[int64, *types.Page]
}

// New creates a buffer manager over the given disk manager. capacity
// bounds the number of simultaneously pinned pages.
func New(disk *diskmgr.DiskManager, capacity int) (*BufferManager, error) {
	hot, err := ristretto.NewCache(&ristretto.Config[int64, *types.Page]{
		NumCounters: int64(capacity) * 10,
		MaxCost:     int64(capacity),
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("bufmgr: hot cache: %w", err)
	}
	return &BufferManager{
		disk:     disk,
		capacity: capacity,
		frames:   make(map[types.PageId]*frame, capacity),
		hot:      hot,
	}, nil
}

// PinPage makes the page resident and guarantees it stays so until the
// matching UnpinPage. The returned buffer is shared: every pinner of the
// same page sees the same bytes.
func (bm *BufferManager) PinPage(id types.PageId) (*types.Page, error) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	if f, ok := bm.frames[id]; ok {
		f.pinCount++
		return f.page, nil
	}
	if len(bm.frames) >= bm.capacity {
		return nil, fmt.Errorf("bufmgr: pin page %d: %w", id, ErrBufferFull)
	}

	if pg, ok := bm.hot.Get(int64(id)); ok {
		// Promote from the hot cache back into the frame table. The cached
		// copy is always clean, so no write-back bookkeeping carries over.
		bm.hot.Del(int64(id))
		bm.frames[id] = &frame{page: pg, pinCount: 1}
		return pg, nil
	}

	pg := new(types.Page)
	if err := bm.disk.ReadPage(id, pg); err != nil {
		return nil, err
	}
	bm.frames[id] = &frame{page: pg, pinCount: 1}
	return pg, nil
}

// UnpinPage releases one pin. dirty records whether the caller modified
// the page; once the last pin drops, a dirty page is written back to
// disk and the clean copy is offered to the hot cache.
func (bm *BufferManager) UnpinPage(id types.PageId, dirty bool) error {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	f, ok := bm.frames[id]
	if !ok || f.pinCount <= 0 {
		return fmt.Errorf("bufmgr: unpin page %d: %w", id, ErrPageNotPinned)
	}
	f.dirty = f.dirty || dirty
	f.pinCount--
	if f.pinCount > 0 {
		return nil
	}

	if f.dirty {
		if err := bm.disk.WritePage(id, f.page); err != nil {
			return err
		}
	}
	delete(bm.frames, id)
	bm.hot.Set(int64(id), f.page, 1)
	// Set is buffered; apply it now so a later Get cannot admit or return
	// an older copy of the page.
	bm.hot.Wait()
	return nil
}

// NewPage allocates a fresh page on disk and returns it pinned. The
// buffer starts zeroed; the caller is expected to unpin it dirty after
// formatting it.
func (bm *BufferManager) NewPage() (types.PageId, *types.Page, error) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	if len(bm.frames) >= bm.capacity {
		return types.InvalidPage, nil, fmt.Errorf("bufmgr: new page: %w", ErrBufferFull)
	}
	id, err := bm.disk.AllocatePage()
	if err != nil {
		return types.InvalidPage, nil, err
	}
	pg := new(types.Page)
	bm.frames[id] = &frame{page: pg, pinCount: 1}
	return id, pg, nil
}

// FreePage returns an unpinned page to the disk manager's free list and
// drops any cached copy.
func (bm *BufferManager) FreePage(id types.PageId) error {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	if f, ok := bm.frames[id]; ok {
		if f.pinCount > 0 {
			return fmt.Errorf("bufmgr: free page %d: %w", id, ErrPagePinned)
		}
		delete(bm.frames, id)
	}
	bm.hot.Del(int64(id))
	return bm.disk.DeallocatePage(id)
}

// FlushAll writes every dirty resident page to disk without releasing
// any pins.
func (bm *BufferManager) FlushAll() error {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	for id, f := range bm.frames {
		if !f.dirty {
			continue
		}
		if err := bm.disk.WritePage(id, f.page); err != nil {
			return err
		}
		f.dirty = false
	}
	return nil
}

// PinCount reports the current pin count of a page; zero when the page
// is not resident. Used by tests to verify the pin discipline.
func (bm *BufferManager) PinCount(id types.PageId) int {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	if f, ok := bm.frames[id]; ok {
		return f.pinCount
	}
	return 0
}

// PinnedPages reports how many pages are currently pinned.
func (bm *BufferManager) PinnedPages() int {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return len(bm.frames)
}

// Close flushes dirty frames and shuts down the hot cache. The disk
// manager stays open; its owner closes it.
func (bm *BufferManager) Close() error {
	if err := bm.FlushAll(); err != nil {
		return err
	}
	bm.hot.Close()
	return nil
}
