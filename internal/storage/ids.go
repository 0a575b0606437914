// Package storage implements the Buffer Manager: a paged, content-addressable
// store over interchangeable backing media (anonymous memory or a file),
// with a bounded LRU-style page cache, a use-mask/free-list allocator, and
// encoded (page, offset) pointers.
package storage

import "math/bits"

// invalid is the sentinel value (all-ones) shared by every opaque handle
// in this package.
const invalid = ^uint64(0)

// SourceId identifies a backing store loaded into a Manager.
type SourceId struct {
	index uint64
}

// InvalidSourceId is the sentinel "no source" value.
var InvalidSourceId = SourceId{index: invalid}

// IsValid reports whether id refers to a real source.
func (id SourceId) IsValid() bool { return id.index != invalid }

// PageId identifies a page within a source. Page 0 is the use-mask root,
// page 1 the free-item root, page 2 the index/root page.
type PageId struct {
	index uint64
}

// InvalidPageId is the sentinel "no page" value.
var InvalidPageId = PageId{index: invalid}

// IsValid reports whether id refers to a real page.
func (id PageId) IsValid() bool { return id.index != invalid }

const (
	useMaskRootPage = uint64(0)
	freeItemRootPage = uint64(1)
	indexRootPage = uint64(2)
	firstAllocatablePage = uint64(3)
)

func isReservedPage(p uint64) bool {
	return p == useMaskRootPage || p == freeItemRootPage || p == indexRootPage
}

// Pointer is a 64-bit encoding of (PageId, offset): the low log2(pageSize)
// bits are the in-page offset, the remaining high bits are the PageId.
type Pointer struct {
	value uint64
}

// InvalidPointer is the sentinel "no pointer" value.
var InvalidPointer = Pointer{value: invalid}

// IsValid reports whether p refers to a real (page, offset) pair.
func (p Pointer) IsValid() bool { return p.value != invalid }

// Raw returns the underlying 64-bit encoding, e.g. for persisting a
// pointer as a log or index-page field.
func (p Pointer) Raw() uint64 { return p.value }

// PointerFromRaw reconstructs a Pointer previously obtained from Raw.
func PointerFromRaw(v uint64) Pointer { return Pointer{value: v} }

// TableId is a caller-chosen opaque identifier registered with the Lock
// Manager.
type TableId struct {
	index uint64
}

// InvalidTableId is the sentinel "no table" value.
var InvalidTableId = TableId{index: invalid}

// IsValid reports whether id refers to a real table.
func (id TableId) IsValid() bool { return id.index != invalid }

// NewTableId wraps a caller-chosen table identifier.
func NewTableId(index uint64) TableId { return TableId{index: index} }

// Index returns the raw identifier.
func (id TableId) Index() uint64 { return id.index }

// TransactionId is a caller-chosen opaque identifier registered with the
// Lock Manager and/or Log Manager.
type TransactionId struct {
	index uint64
}

// InvalidTransactionId is the sentinel "no transaction" value.
var InvalidTransactionId = TransactionId{index: invalid}

// IsValid reports whether id refers to a real transaction.
func (id TransactionId) IsValid() bool { return id.index != invalid }

// NewTransactionId wraps a caller-chosen transaction identifier.
func NewTransactionId(index uint64) TransactionId { return TransactionId{index: index} }

// Index returns the raw identifier.
func (id TransactionId) Index() uint64 { return id.index }

// NewPageId wraps a raw page index. Exposed for callers (e.g. the Log
// Manager) that persist page numbers themselves.
func NewPageId(index uint64) PageId { return PageId{index: index} }

// Index returns the raw page index.
func (id PageId) Index() uint64 { return id.index }

// offsetBits returns log2(pageSize); pageSize must already be validated as
// a power of two.
func offsetBits(pageSize int) uint {
	return uint(bits.TrailingZeros(uint(pageSize)))
}

// isPowerOfTwo reports whether n is a positive power of two.
func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
