package storage

import "time"

// memorySource is the anonymous-memory backing store from spec.md §4.A: an
// appendable vector of page-sized byte buffers plus a stack of freed
// PageIds. Pages never leave memory once allocated, so (unlike a
// fileSource) they are never eviction candidates -- there is nowhere else
// to keep the bytes. Grounded on original_source's InMemoryBufferSource.
type memorySource struct {
	pageSize  int
	pages     []*pageDesc // index == PageId; a freed slot holds nil until allocatePage reuses it with a fresh buffer
	live      []bool      // use-mask equivalent: live[i] true iff page i is allocated
	freeStack []uint64    // LIFO of freed PageIds, mirrors fileSource's free-item chain
}

func newMemorySource(pageSize int) *memorySource {
	s := &memorySource{pageSize: pageSize}
	// Reserve pages 0..2 exactly as a file source would, so PageId 2 is
	// always a valid GetIndexPage() target regardless of source kind.
	for i := uint64(0); i < firstAllocatablePage; i++ {
		s.pages = append(s.pages, &pageDesc{data: make([]byte, pageSize)})
		s.live = append(s.live, true)
	}
	return s
}

func (s *memorySource) mapPage(page PageId) (*pageDesc, bool) {
	if page.index >= uint64(len(s.pages)) {
		return nil, false
	}
	if !s.live[page.index] {
		return nil, false
	}
	d := s.pages[page.index]
	d.lastAccessTime = time.Now().Unix()
	return d, true
}

func (s *memorySource) appendPage() (PageId, bool) {
	id := PageId{index: uint64(len(s.pages))}
	s.pages = append(s.pages, &pageDesc{data: make([]byte, s.pageSize)})
	s.live = append(s.live, true)
	return id, true
}

func (s *memorySource) unmapPage(page PageId) bool {
	// Memory pages have no secondary store, so nothing is released: the
	// page stays in place, and this reports failure only for an
	// out-of-range or locked page. fillUnmapCandidates never offers memory
	// pages, so the eviction pass does not call this.
	if page.index >= uint64(len(s.pages)) {
		return false
	}
	d := s.pages[page.index]
	return !d.locked
}

func (s *memorySource) unmapAllPages() {
	// No-op: memory pages have no mapping to release.
}

func (s *memorySource) mappedPageCount() int {
	n := 0
	for _, live := range s.live {
		if live {
			n++
		}
	}
	return n
}

func (s *memorySource) mappedPageAt(i int) PageId {
	count := 0
	for idx, live := range s.live {
		if live {
			if count == i {
				return PageId{index: uint64(idx)}
			}
			count++
		}
	}
	return InvalidPageId
}

func (s *memorySource) mappedPageDesc(page PageId) (*pageDesc, bool) {
	if page.index >= uint64(len(s.live)) || !s.live[page.index] {
		return nil, false
	}
	return s.pages[page.index], true
}

func (s *memorySource) totalPageCount() uint64 {
	return uint64(len(s.pages))
}

func (s *memorySource) allocatePage() (PageId, bool) {
	if n := len(s.freeStack); n > 0 {
		id := s.freeStack[n-1]
		s.freeStack = s.freeStack[:n-1]
		s.live[id] = true
		s.pages[id] = &pageDesc{data: make([]byte, s.pageSize)}
		return PageId{index: id}, true
	}
	return s.appendPage()
}

func (s *memorySource) freePage(page PageId) bool {
	if isReservedPage(page.index) {
		return false
	}
	if page.index >= uint64(len(s.live)) || !s.live[page.index] {
		return false
	}
	if s.pages[page.index].locked {
		return false
	}
	s.live[page.index] = false
	s.pages[page.index] = nil
	s.freeStack = append(s.freeStack, page.index)
	return true
}

func (s *memorySource) fillUnmapCandidates(out []BufferPageTimeTuple, expectCount int) []BufferPageTimeTuple {
	// Pages backed only by anonymous memory are never evicted.
	return out
}

func (s *memorySource) close() error {
	return nil
}
