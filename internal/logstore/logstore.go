// Package logstore implements the Log Manager: a per-transaction,
// append-only item log built on top of the Buffer Manager's page
// abstraction. Items are written as chains of blocks; a transaction's
// items are linked in write order, and an address index (rooted at the
// Buffer Manager's reserved index page) maps each transaction to the
// first block of its first item.
//
// Grounded on original_source's Log.cpp (index-page layout, block
// allocation) and the teacher's pkg/wal (binary little-endian framing,
// sentinel-error and lifecycle style).
package logstore

import (
	"encoding/binary"

	"dbkernel/internal/storage"
)

const wordSize = 8

func readWord(data []byte, offset int) uint64 {
	return binary.LittleEndian.Uint64(data[offset : offset+wordSize])
}

func writeWord(data []byte, offset int, v uint64) {
	binary.LittleEndian.PutUint64(data[offset:offset+wordSize], v)
}

func alignUp(n int) int {
	if r := n % wordSize; r != 0 {
		return n + (wordSize - r)
	}
	return n
}

// addressItemsPerIndexPage returns how many transaction address slots fit
// on one index page, after its 2-word header (usedCount, nextIndexPage).
func addressItemsPerIndexPage(pageSize int) int {
	return pageSize/wordSize - 2
}

const (
	idxUsedCount    = 0
	idxNextPage     = 1
	idxAddressBegin = 2
)

// LogTransDesc is the in-memory descriptor for an active transaction.
type LogTransDesc struct {
	FirstItem  storage.Pointer
	LastItem   storage.Pointer
	WriterOpen bool

	// lastBlockNextAddrPage/Offset locate the nextAddress word of the
	// most recently written block in this transaction's chain, still
	// holding the invalid placeholder, so the next item's first block
	// can be linked in when it is written.
	lastBlockNextAddrPage   storage.PageId
	lastBlockNextAddrOffset int
}
