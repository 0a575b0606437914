package storage

import "encoding/binary"

// This file implements the on-disk allocator formats from spec.md §4.C:
// a use-mask bitmap chain (one bit per page, chained across use-mask
// pages rooted at useMaskRootPage) and a free-item trunk-page stack
// (rooted at freeItemRootPage). Ported from original_source's
// FileBuffer.cpp FileUseMasks/FileFreePages, generalized from its fixed
// word layout to an arbitrary page size.
//
// Use-mask page layout (all words little-endian uint64):
//
//	word 0            next use-mask page (PageId.index, or invalid)
//	word 1..N          bitmap words, 64 pages per word
//
// Free-item trunk page layout:
//
//	word 0            next trunk page (PageId.index, or invalid)
//	word 1            number of leaf entries in this trunk
//	word 2..N          leaf PageId.index values
const (
	useMaskHeaderWords = 1
)

func wordsPerPage(pageSize int) int {
	return pageSize / 8
}

func bitsPerUseMaskPage(pageSize int) uint64 {
	return uint64(wordsPerPage(pageSize)-useMaskHeaderWords) * 64
}

func maxLeavesPerTrunk(pageSize int) int {
	return wordsPerPage(pageSize) - 2
}

func readWord(page []byte, wordIndex int) uint64 {
	off := wordIndex * 8
	return binary.LittleEndian.Uint64(page[off : off+8])
}

func writeWord(page []byte, wordIndex int, v uint64) {
	off := wordIndex * 8
	binary.LittleEndian.PutUint64(page[off:off+8], v)
}

// useMaskLocate computes which use-mask page (by chain position, 0-based)
// and bit within it corresponds to a given absolute page index.
func useMaskLocate(pageIndex uint64, pageSize int) (chainPos uint64, wordIndex int, bitShift uint) {
	bitsPerPage := bitsPerUseMaskPage(pageSize)
	chainPos = pageIndex / bitsPerPage
	bitInPage := pageIndex % bitsPerPage
	wordIndex = useMaskHeaderWords + int(bitInPage/64)
	bitShift = uint(bitInPage % 64)
	return
}

func getUseMaskBit(page []byte, wordIndex int, bitShift uint) bool {
	return readWord(page, wordIndex)&(uint64(1)<<bitShift) != 0
}

func setUseMaskBit(page []byte, wordIndex int, bitShift uint, set bool) {
	w := readWord(page, wordIndex)
	if set {
		w |= uint64(1) << bitShift
	} else {
		w &^= uint64(1) << bitShift
	}
	writeWord(page, wordIndex, w)
}

func useMaskNextPage(page []byte) uint64       { return readWord(page, 0) }
func setUseMaskNextPage(page []byte, v uint64) { writeWord(page, 0, v) }

func trunkNextPage(page []byte) uint64          { return readWord(page, 0) }
func setTrunkNextPage(page []byte, v uint64)    { writeWord(page, 0, v) }
func trunkLeafCount(page []byte) int            { return int(readWord(page, 1)) }
func setTrunkLeafCount(page []byte, n int)      { writeWord(page, 1, uint64(n)) }
func trunkLeaf(page []byte, i int) uint64       { return readWord(page, 2+i) }
func setTrunkLeaf(page []byte, i int, v uint64) { writeWord(page, 2+i, v) }
