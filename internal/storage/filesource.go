package storage

import (
	"os"
	"sort"
	"time"
)

// fileSource is the file-backed implementation of source: pages are
// mapped individually via mmapPage/munmapPage, the on-disk use-mask
// bitmap tracks liveness, and a free-item trunk-page chain supplies
// reusable page indices. Grounded on original_source's FileBuffer.cpp
// (FileMapping/FileUseMasks/FileFreePages/FileBufferSource) and the
// teacher's pkg/pager/mmap_unix.go for the mmap plumbing.
type fileSource struct {
	file     *os.File
	pageSize int
	total    uint64
	mapped   map[uint64]*pageDesc
	order    []uint64 // insertion order of currently-mapped pages
}

func openFileSource(path string, pageSize int) (*fileSource, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	s := &fileSource{file: f, pageSize: pageSize, mapped: make(map[uint64]*pageDesc)}
	if info.Size() == 0 {
		if err := f.Truncate(int64(firstAllocatablePage) * int64(pageSize)); err != nil {
			f.Close()
			return nil, err
		}
		s.total = firstAllocatablePage
		// A truncated file reads as zeros; terminate both chains with the
		// invalid sentinel so word 0 is never taken for a link to page 0.
		useMaskRoot := s.mapInternal(useMaskRootPage)
		setUseMaskNextPage(useMaskRoot.data, invalid)
		useMaskRoot.dirty = true
		freeRoot := s.mapInternal(freeItemRootPage)
		writeWord(freeRoot.data, 0, invalid)
		freeRoot.dirty = true
		for i := uint64(0); i < firstAllocatablePage; i++ {
			s.setUseMaskBitRaw(i, true)
		}
	} else {
		s.total = uint64(info.Size()) / uint64(pageSize)
	}
	return s, nil
}

func (s *fileSource) mapInternal(idx uint64) *pageDesc {
	d, _ := s.mapPage(PageId{index: idx})
	return d
}

func (s *fileSource) mapPage(page PageId) (*pageDesc, bool) {
	if page.index >= s.total {
		return nil, false
	}
	if d, ok := s.mapped[page.index]; ok {
		d.lastAccessTime = time.Now().Unix()
		return d, true
	}
	data, err := mmapPage(s.file, int64(page.index)*int64(s.pageSize), s.pageSize)
	if err != nil {
		return nil, false
	}
	d := &pageDesc{data: data, lastAccessTime: time.Now().Unix()}
	s.mapped[page.index] = d
	s.order = append(s.order, page.index)
	return d, true
}

func (s *fileSource) appendPage() (PageId, bool) {
	newTotal := s.total + 1
	if err := s.file.Truncate(int64(newTotal) * int64(s.pageSize)); err != nil {
		return InvalidPageId, false
	}
	idx := s.total
	s.total = newTotal
	if _, ok := s.mapPage(PageId{index: idx}); !ok {
		return InvalidPageId, false
	}
	return PageId{index: idx}, true
}

func (s *fileSource) unmapPage(page PageId) bool {
	d, ok := s.mapped[page.index]
	if !ok {
		return true
	}
	if d.locked {
		return false
	}
	if d.dirty {
		if err := msyncPage(d.data); err != nil {
			return false
		}
		d.dirty = false
	}
	munmapPage(d.data)
	s.removeMapped(page.index)
	return true
}

func (s *fileSource) removeMapped(idx uint64) {
	delete(s.mapped, idx)
	for i, v := range s.order {
		if v == idx {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *fileSource) unmapAllPages() {
	for _, idx := range append([]uint64(nil), s.order...) {
		s.unmapPage(PageId{index: idx})
	}
}

func (s *fileSource) mappedPageCount() int { return len(s.order) }

func (s *fileSource) mappedPageAt(i int) PageId {
	if i < 0 || i >= len(s.order) {
		return InvalidPageId
	}
	return PageId{index: s.order[i]}
}

func (s *fileSource) mappedPageDesc(page PageId) (*pageDesc, bool) {
	d, ok := s.mapped[page.index]
	return d, ok
}

func (s *fileSource) totalPageCount() uint64 { return s.total }

// getUseMaskBitRaw and setUseMaskBitRaw walk (and, on write, extend) the
// use-mask page chain rooted at useMaskRootPage.
func (s *fileSource) useMaskPageIndexForChainPos(chainPos uint64) uint64 {
	idx := useMaskRootPage
	for i := uint64(0); i < chainPos; i++ {
		d := s.mapInternal(idx)
		next := useMaskNextPage(d.data)
		if next == invalid {
			newIdx, ok := s.appendPage()
			if !ok {
				return invalid
			}
			setUseMaskNextPage(d.data, newIdx.index)
			d.dirty = true
			s.setUseMaskBitRaw(newIdx.index, true)
			next = newIdx.index
		}
		idx = next
	}
	return idx
}

func (s *fileSource) getUseMaskBitRaw(pageIndex uint64) bool {
	chainPos, wordIndex, bitShift := useMaskLocate(pageIndex, s.pageSize)
	pageIdx := s.useMaskPageIndexForChainPos(chainPos)
	if pageIdx == invalid {
		return false
	}
	d := s.mapInternal(pageIdx)
	return getUseMaskBit(d.data, wordIndex, bitShift)
}

func (s *fileSource) setUseMaskBitRaw(pageIndex uint64, set bool) {
	chainPos, wordIndex, bitShift := useMaskLocate(pageIndex, s.pageSize)
	pageIdx := s.useMaskPageIndexForChainPos(chainPos)
	if pageIdx == invalid {
		return
	}
	d := s.mapInternal(pageIdx)
	setUseMaskBit(d.data, wordIndex, bitShift, set)
	d.dirty = true
}

// pushFreeItem and popFreeItem implement the free-item trunk-page stack
// rooted at freeItemRootPage, which holds only a pointer to the current
// head trunk page.
func (s *fileSource) pushFreeItem(leafIdx uint64) {
	root := s.mapInternal(freeItemRootPage)
	headIdx := readWord(root.data, 0)
	if headIdx != invalid {
		head := s.mapInternal(headIdx)
		n := trunkLeafCount(head.data)
		if n < maxLeavesPerTrunk(s.pageSize) {
			setTrunkLeaf(head.data, n, leafIdx)
			setTrunkLeafCount(head.data, n+1)
			head.dirty = true
			return
		}
	}
	newTrunk, ok := s.appendPage()
	if !ok {
		return
	}
	s.setUseMaskBitRaw(newTrunk.index, true)
	nd := s.mapInternal(newTrunk.index)
	setTrunkNextPage(nd.data, headIdx)
	setTrunkLeafCount(nd.data, 1)
	setTrunkLeaf(nd.data, 0, leafIdx)
	nd.dirty = true
	writeWord(root.data, 0, newTrunk.index)
	root.dirty = true
}

func (s *fileSource) popFreeItem() (uint64, bool) {
	root := s.mapInternal(freeItemRootPage)
	headIdx := readWord(root.data, 0)
	if headIdx == invalid {
		return 0, false
	}
	head := s.mapInternal(headIdx)
	n := trunkLeafCount(head.data)
	if n == 0 {
		next := trunkNextPage(head.data)
		writeWord(root.data, 0, next)
		root.dirty = true
		return headIdx, true
	}
	n--
	leaf := trunkLeaf(head.data, n)
	setTrunkLeafCount(head.data, n)
	head.dirty = true
	return leaf, true
}

func (s *fileSource) allocatePage() (PageId, bool) {
	if idx, ok := s.popFreeItem(); ok {
		s.setUseMaskBitRaw(idx, true)
		if _, ok := s.mapPage(PageId{index: idx}); !ok {
			return InvalidPageId, false
		}
		return PageId{index: idx}, true
	}
	idx, ok := s.appendPage()
	if !ok {
		return InvalidPageId, false
	}
	s.setUseMaskBitRaw(idx.index, true)
	return idx, true
}

func (s *fileSource) freePage(page PageId) bool {
	if isReservedPage(page.index) {
		return false
	}
	if !s.getUseMaskBitRaw(page.index) {
		return false
	}
	if _, mapped := s.mapped[page.index]; mapped {
		if !s.unmapPage(page) {
			return false
		}
	}
	s.pushFreeItem(page.index)
	s.setUseMaskBitRaw(page.index, false)
	return true
}

func (s *fileSource) fillUnmapCandidates(out []BufferPageTimeTuple, expectCount int) []BufferPageTimeTuple {
	candidates := make([]BufferPageTimeTuple, 0, len(s.order))
	for _, idx := range s.order {
		d := s.mapped[idx]
		if d.locked {
			continue
		}
		candidates = append(candidates, BufferPageTimeTuple{Page: PageId{index: idx}, LastAccessTime: d.lastAccessTime})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].LastAccessTime < candidates[j].LastAccessTime
	})
	if len(candidates) > expectCount {
		candidates = candidates[:expectCount]
	}
	return append(out, candidates...)
}

func (s *fileSource) close() error {
	s.unmapAllPages()
	return s.file.Close()
}
