package storage

// source is the capability set every backing-store implementation
// provides, per spec.md §9 "Polymorphism": mapPage/appendPage/unmapPage/
// unmapAllPages/getMappedPageCount/getMappedPage/getMappedPageDesc/
// getTotalPageCount, plus allocate/free (each source owns its own
// allocator state) and a per-source lock. MemorySource and FileSource are
// the two implementations (mirroring the original C++'s IBufferSource and
// teacher's interfaces.ParentBufMgr-style capability interfaces).
type source interface {
	// mapPage returns the descriptor for page, mapping it if not already
	// resident. Returns (nil, false) if the page is out of range.
	mapPage(page PageId) (*pageDesc, bool)
	// appendPage grows the source by exactly one page and maps it.
	appendPage() (PageId, bool)
	// unmapPage releases the mapping for page, flushing first if dirty.
	// Fails if the page is locked.
	unmapPage(page PageId) bool
	// unmapAllPages releases every current mapping, flushing dirty pages.
	unmapAllPages()

	mappedPageCount() int
	mappedPageAt(i int) PageId
	mappedPageDesc(page PageId) (*pageDesc, bool)

	totalPageCount() uint64

	// allocatePage reuses a freed page if one exists, otherwise appends a
	// new page; either way it marks the page in-use in the allocator.
	allocatePage() (PageId, bool)
	// freePage rejects reserved/unmapped-but-locked pages, then returns
	// the page to the allocator's free-list and clears its use-mask bit.
	freePage(page PageId) bool

	// fillUnmapCandidates appends up to expectCount unlocked mapped pages
	// to out, for the cache's eviction pass.
	fillUnmapCandidates(out []BufferPageTimeTuple, expectCount int) []BufferPageTimeTuple

	// close releases all resources held by the source (file handles,
	// anonymous buffers).
	close() error
}
