package storage

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Config configures a Manager. Mirrors the teacher's pager.Options, with
// CachePageCount standing in for CacheSize.
type Config struct {
	PageSize       int
	CachePageCount int
}

type sourceEntry struct {
	id   SourceId
	impl source
}

// Manager is the Buffer Manager's public contract (spec.md §4.D): it
// owns zero or more loaded sources, a process-wide cached-page counter,
// and the pointer-encoding convention shared by every caller.
type Manager struct {
	mu             sync.Mutex
	cfg            Config
	logger         *zap.Logger
	sources        []*sourceEntry
	nextSourceID   uint64
	cachedPages    atomic.Int64
	offsetBitWidth uint
}

// NewManager validates cfg and returns a ready Manager.
func NewManager(cfg Config, logger *zap.Logger) (*Manager, error) {
	if !isPowerOfTwo(cfg.PageSize) {
		return nil, ErrInvalidPageSize
	}
	if cfg.CachePageCount <= 0 {
		return nil, ErrInvalidCacheSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:            cfg,
		logger:         logger,
		offsetBitWidth: offsetBits(cfg.PageSize),
	}, nil
}

func (m *Manager) GetPageSize() int { return m.cfg.PageSize }

func (m *Manager) GetCachePageCount() int { return m.cfg.CachePageCount }

func (m *Manager) GetCurrentlyCachedPageCount() int { return int(m.cachedPages.Load()) }

func (m *Manager) findSource(id SourceId) *sourceEntry {
	for _, e := range m.sources {
		if e.id == id {
			return e
		}
	}
	return nil
}

// LoadMemorySource creates a fresh in-memory backing store.
func (m *Manager) LoadMemorySource() SourceId {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := SourceId{index: m.nextSourceID}
	m.nextSourceID++
	e := &sourceEntry{id: id, impl: newMemorySource(m.cfg.PageSize)}
	m.sources = append(m.sources, e)
	m.cachedPages.Add(int64(firstAllocatablePage))
	m.logger.Debug("loaded memory source", zap.Uint64("source", id.index))
	return id
}

// LoadFileSource opens or creates a file-backed source at path.
func (m *Manager) LoadFileSource(path string) (SourceId, error) {
	fs, err := openFileSource(path, m.cfg.PageSize)
	if err != nil {
		return InvalidSourceId, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := SourceId{index: m.nextSourceID}
	m.nextSourceID++
	e := &sourceEntry{id: id, impl: fs}
	m.sources = append(m.sources, e)
	m.logger.Debug("loaded file source", zap.Uint64("source", id.index), zap.String("path", path))
	return id, nil
}

// UnloadSource flushes and releases all mappings for id, then removes it.
func (m *Manager) UnloadSource(id SourceId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.findSource(id)
	if e == nil {
		return ErrSourceNotFound
	}
	mapped := e.impl.mappedPageCount()
	e.impl.unmapAllPages()
	if err := e.impl.close(); err != nil {
		return err
	}
	m.cachedPages.Add(-int64(mapped))
	for i, se := range m.sources {
		if se.id == id {
			m.sources = append(m.sources[:i], m.sources[i+1:]...)
			break
		}
	}
	m.logger.Debug("unloaded source", zap.Uint64("source", id.index))
	return nil
}

// GetIndexPage returns the reserved index/root page id for a source.
func (m *Manager) GetIndexPage(id SourceId) PageId {
	return PageId{index: indexRootPage}
}

// AllocatePage obtains a free page (from the free-list or by growing the
// source) and runs an eviction pass if the cache is now over budget.
func (m *Manager) AllocatePage(id SourceId) (PageId, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.findSource(id)
	if e == nil {
		return InvalidPageId, false
	}
	page, ok := e.impl.allocatePage()
	if !ok {
		return InvalidPageId, false
	}
	n := m.cachedPages.Add(1)
	if int(n) > m.cfg.CachePageCount {
		remaining := runEvictionPass(m.sources, int(n), m.cfg.CachePageCount)
		m.cachedPages.Store(int64(remaining))
		m.logger.Info("eviction pass completed", zap.Int("currentlyCached", remaining))
	}
	m.logger.Debug("allocated page", zap.Uint64("source", id.index), zap.Uint64("page", page.index))
	return page, true
}

// FreePage returns page to the allocator, rejecting reserved or
// still-locked pages.
func (m *Manager) FreePage(id SourceId, page PageId) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.findSource(id)
	if e == nil {
		return false
	}
	wasMapped := false
	if _, ok := e.impl.mappedPageDesc(page); ok {
		wasMapped = true
	}
	ok := e.impl.freePage(page)
	if ok && wasMapped {
		m.cachedPages.Add(-1)
	}
	m.logger.Debug("freed page", zap.Uint64("source", id.index), zap.Uint64("page", page.index), zap.Bool("ok", ok))
	return ok
}

// LockPage maps and pins page, returning its backing bytes. Fails if the
// page is not in use or already locked.
func (m *Manager) LockPage(id SourceId, page PageId) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.findSource(id)
	if e == nil {
		return nil, false
	}
	if fs, isFile := e.impl.(*fileSource); isFile {
		if page.index >= fs.totalPageCount() || !fs.getUseMaskBitRaw(page.index) {
			return nil, false
		}
	}
	wasMapped := false
	if _, ok := e.impl.mappedPageDesc(page); ok {
		wasMapped = true
	}
	d, ok := e.impl.mapPage(page)
	if !ok {
		return nil, false
	}
	if d.locked {
		return nil, false
	}
	d.locked = true
	if !wasMapped {
		n := m.cachedPages.Add(1)
		if int(n) > m.cfg.CachePageCount {
			remaining := runEvictionPass(m.sources, int(n), m.cfg.CachePageCount)
			m.cachedPages.Store(int64(remaining))
		}
	}
	return d.data, true
}

// UnlockPage releases a page locked via LockPage, applying mode to the
// page's dirty/persisted state. addr must be the exact slice returned by
// LockPage.
func (m *Manager) UnlockPage(id SourceId, page PageId, addr []byte, mode PersistMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.findSource(id)
	if e == nil {
		return ErrSourceNotFound
	}
	d, ok := e.impl.mappedPageDesc(page)
	if !ok {
		return ErrPageNotLocked
	}
	if !d.locked {
		return ErrPageNotLocked
	}
	if len(d.data) != len(addr) || &d.data[0] != &addr[0] {
		return ErrAddressMismatch
	}
	switch mode {
	case Changed:
		d.dirty = true
	case ChangedAndPersist:
		if err := msyncPage(d.data); err != nil {
			return err
		}
		d.dirty = false
	}
	d.locked = false
	return nil
}

// EncodePointer packs (page, offset) into a Pointer. offset must be
// strictly less than the manager's page size.
func (m *Manager) EncodePointer(page PageId, offset int) (Pointer, error) {
	if offset < 0 || offset >= m.cfg.PageSize {
		return InvalidPointer, ErrOffsetOutOfRange
	}
	v := (page.index << m.offsetBitWidth) | uint64(offset)
	return Pointer{value: v}, nil
}

// DecodePointer unpacks p back into its (page, offset) pair.
func (m *Manager) DecodePointer(p Pointer) (PageId, int, bool) {
	if !p.IsValid() {
		return InvalidPageId, 0, false
	}
	mask := uint64(1)<<m.offsetBitWidth - 1
	offset := int(p.value & mask)
	page := p.value >> m.offsetBitWidth
	return PageId{index: page}, offset, true
}
