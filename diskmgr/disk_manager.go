package diskmgr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"BTreeDB/types"
)

// Database file layout:
//   - Page 0: directory page — magic, page count, free-list head, and the
//     file-entry catalog (name -> header page id)
//   - Pages 1..n: data pages handed out by AllocatePage
//
// Freed pages are chained into a free list: the first 4 bytes of a free
// page hold the id of the next free page, the head lives in the directory.
const (
	dirMagic = 0x42544442 // "BTDB"

	offMagic        = 0
	offPageCount    = 4
	offFreeListHead = 8
	offCatalog      = 16

	catalogEntrySize = 64 // nameLen(2) + name(58) + pageId(4)
	maxCatalogName   = 58
	maxCatalogSlots  = (types.PageSize - offCatalog) / catalogEntrySize
)

var (
	ErrFileEntryNotFound = errors.New("file entry not found")
	ErrFileEntryExists   = errors.New("file entry already exists")
	ErrCatalogFull       = errors.New("catalog directory is full")
	ErrNameTooLong       = errors.New("file entry name too long")
	ErrClosed            = errors.New("disk manager is closed")
)

// DiskManager owns the database file: fixed-size page allocation with
// free-list reuse, raw page IO, and the file-entry catalog.
type DiskManager struct {
	file     *os.File
	filePath string
	dir      types.Page // in-memory copy of page 0
	mu       sync.Mutex
}

// Open opens (or creates) the database file at the given path.
func Open(path string) (*DiskManager, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("diskmgr: open %s: %w", path, err)
	}

	d := &DiskManager{file: file, filePath: path}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("diskmgr: stat %s: %w", path, err)
	}

	if stat.Size() == 0 {
		// Fresh file: write the directory page.
		binary.LittleEndian.PutUint32(d.dir[offMagic:], dirMagic)
		binary.LittleEndian.PutUint32(d.dir[offPageCount:], 1)
		invalidPage := types.InvalidPage
		binary.LittleEndian.PutUint32(d.dir[offFreeListHead:], uint32(invalidPage))
		if err := d.writeRaw(0, &d.dir); err != nil {
			file.Close()
			return nil, err
		}
		return d, nil
	}

	if err := d.readRaw(0, &d.dir); err != nil {
		file.Close()
		return nil, err
	}
	if binary.LittleEndian.Uint32(d.dir[offMagic:]) != dirMagic {
		file.Close()
		return nil, fmt.Errorf("diskmgr: %s is not a database file", path)
	}
	return d, nil
}

// AllocatePage hands out a page id, reusing a freed page when one is
// available and extending the file otherwise. The page content is zeroed.
func (d *DiskManager) AllocatePage() (types.PageId, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return types.InvalidPage, ErrClosed
	}

	var blank types.Page

	head := d.freeListHead()
	if head.IsValid() {
		// Pop the free list: the next pointer sits at the front of the page.
		var pg types.Page
		if err := d.readRaw(head, &pg); err != nil {
			return types.InvalidPage, err
		}
		next := types.PageId(int32(binary.LittleEndian.Uint32(pg[:4])))
		d.setFreeListHead(next)
		if err := d.writeRaw(head, &blank); err != nil {
			return types.InvalidPage, err
		}
		if err := d.writeRaw(0, &d.dir); err != nil {
			return types.InvalidPage, err
		}
		return head, nil
	}

	id := types.PageId(d.pageCount())
	if err := d.writeRaw(id, &blank); err != nil {
		return types.InvalidPage, err
	}
	d.setPageCount(int32(id) + 1)
	if err := d.writeRaw(0, &d.dir); err != nil {
		return types.InvalidPage, err
	}
	return id, nil
}

// DeallocatePage returns a page to the free list.
func (d *DiskManager) DeallocatePage(id types.PageId) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return ErrClosed
	}
	if !id.IsValid() || id == 0 {
		return fmt.Errorf("diskmgr: cannot deallocate page %d", id)
	}

	var pg types.Page
	binary.LittleEndian.PutUint32(pg[:4], uint32(d.freeListHead()))
	if err := d.writeRaw(id, &pg); err != nil {
		return err
	}
	d.setFreeListHead(id)
	return d.writeRaw(0, &d.dir)
}

// ReadPage reads the page with the given id into dst.
func (d *DiskManager) ReadPage(id types.PageId, dst *types.Page) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return ErrClosed
	}
	return d.readRaw(id, dst)
}

// WritePage writes src to the page with the given id.
func (d *DiskManager) WritePage(id types.PageId, src *types.Page) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return ErrClosed
	}
	return d.writeRaw(id, src)
}

// PageCount returns the number of pages ever allocated, the directory
// page included.
func (d *DiskManager) PageCount() int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pageCount()
}

// FreePageCount walks the free list and returns its length.
func (d *DiskManager) FreePageCount() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return 0, ErrClosed
	}
	n := 0
	var pg types.Page
	for id := d.freeListHead(); id.IsValid(); {
		if err := d.readRaw(id, &pg); err != nil {
			return 0, err
		}
		id = types.PageId(int32(binary.LittleEndian.Uint32(pg[:4])))
		n++
	}
	return n, nil
}

// Sync flushes pending writes to stable storage.
func (d *DiskManager) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return ErrClosed
	}
	return d.file.Sync()
}

// Close flushes and closes the database file.
func (d *DiskManager) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return nil
	}
	if err := d.file.Sync(); err != nil {
		d.file.Close()
		d.file = nil
		return fmt.Errorf("diskmgr: sync before close: %w", err)
	}
	err := d.file.Close()
	d.file = nil
	return err
}

// --- catalog ---

// GetFileEntry looks up the page id registered under name.
func (d *DiskManager) GetFileEntry(name string) (types.PageId, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return types.InvalidPage, ErrClosed
	}
	if slot := d.findEntry(name); slot >= 0 {
		return d.entryPageId(slot), nil
	}
	return types.InvalidPage, fmt.Errorf("diskmgr: %s: %w", name, ErrFileEntryNotFound)
}

// AddFileEntry registers name -> id in the catalog.
func (d *DiskManager) AddFileEntry(name string, id types.PageId) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return ErrClosed
	}
	if len(name) == 0 || len(name) > maxCatalogName {
		return fmt.Errorf("diskmgr: %q: %w", name, ErrNameTooLong)
	}
	if d.findEntry(name) >= 0 {
		return fmt.Errorf("diskmgr: %s: %w", name, ErrFileEntryExists)
	}

	for slot := 0; slot < maxCatalogSlots; slot++ {
		if d.entryNameLen(slot) == 0 {
			d.setEntry(slot, name, id)
			return d.writeRaw(0, &d.dir)
		}
	}
	return ErrCatalogFull
}

// DeleteFileEntry removes name from the catalog.
func (d *DiskManager) DeleteFileEntry(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return ErrClosed
	}
	slot := d.findEntry(name)
	if slot < 0 {
		return fmt.Errorf("diskmgr: %s: %w", name, ErrFileEntryNotFound)
	}
	d.clearEntry(slot)
	return d.writeRaw(0, &d.dir)
}

// --- internal helpers ---

func (d *DiskManager) readRaw(id types.PageId, dst *types.Page) error {
	_, err := d.file.ReadAt(dst[:], int64(id)*types.PageSize)
	if err != nil {
		return fmt.Errorf("diskmgr: read page %d: %w", id, err)
	}
	return nil
}

func (d *DiskManager) writeRaw(id types.PageId, src *types.Page) error {
	_, err := d.file.WriteAt(src[:], int64(id)*types.PageSize)
	if err != nil {
		return fmt.Errorf("diskmgr: write page %d: %w", id, err)
	}
	return nil
}

func (d *DiskManager) pageCount() int32 {
	return int32(binary.LittleEndian.Uint32(d.dir[offPageCount:]))
}

func (d *DiskManager) setPageCount(n int32) {
	binary.LittleEndian.PutUint32(d.dir[offPageCount:], uint32(n))
}

func (d *DiskManager) freeListHead() types.PageId {
	return types.PageId(int32(binary.LittleEndian.Uint32(d.dir[offFreeListHead:])))
}

func (d *DiskManager) setFreeListHead(id types.PageId) {
	binary.LittleEndian.PutUint32(d.dir[offFreeListHead:], uint32(id))
}

func (d *DiskManager) entryOff(slot int) int {
	return offCatalog + slot*catalogEntrySize
}

func (d *DiskManager) entryNameLen(slot int) int {
	return int(binary.LittleEndian.Uint16(d.dir[d.entryOff(slot):]))
}

func (d *DiskManager) entryName(slot int) string {
	off := d.entryOff(slot)
	n := d.entryNameLen(slot)
	return string(d.dir[off+2 : off+2+n])
}

func (d *DiskManager) entryPageId(slot int) types.PageId {
	off := d.entryOff(slot)
	return types.PageId(int32(binary.LittleEndian.Uint32(d.dir[off+2+maxCatalogName:])))
}

func (d *DiskManager) findEntry(name string) int {
	for slot := 0; slot < maxCatalogSlots; slot++ {
		if d.entryNameLen(slot) != 0 && d.entryName(slot) == name {
			return slot
		}
	}
	return -1
}

func (d *DiskManager) setEntry(slot int, name string, id types.PageId) {
	off := d.entryOff(slot)
	binary.LittleEndian.PutUint16(d.dir[off:], uint16(len(name)))
	copy(d.dir[off+2:off+2+maxCatalogName], name)
	binary.LittleEndian.PutUint32(d.dir[off+2+maxCatalogName:], uint32(id))
}

func (d *DiskManager) clearEntry(slot int) {
	off := d.entryOff(slot)
	for i := 0; i < catalogEntrySize; i++ {
		d.dir[off+i] = 0
	}
}
