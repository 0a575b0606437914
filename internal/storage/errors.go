package storage

import "errors"

var (
	// ErrInvalidPageSize is returned when Config.PageSize is not a power of two.
	ErrInvalidPageSize = errors.New("storage: page size must be a power of two")
	// ErrInvalidCacheSize is returned when Config.CachePageCount is not positive.
	ErrInvalidCacheSize = errors.New("storage: cache page count must be positive")
	// ErrSourceNotFound is returned for operations against an unloaded or unknown source.
	ErrSourceNotFound = errors.New("storage: source not found")
	// ErrReservedPage is returned when the caller tries to free or reuse a reserved page.
	ErrReservedPage = errors.New("storage: page is reserved")
	// ErrPageNotInUse is returned when freeing or locking a page the allocator does not consider live.
	ErrPageNotInUse = errors.New("storage: page is not in use")
	// ErrPageLocked is returned when a page is already locked by another caller.
	ErrPageLocked = errors.New("storage: page is already locked")
	// ErrPageNotLocked is returned by UnlockPage when the page was not locked.
	ErrPageNotLocked = errors.New("storage: page is not locked")
	// ErrAddressMismatch is returned by UnlockPage when addr does not match the mapped address.
	ErrAddressMismatch = errors.New("storage: unlock address does not match mapped page")
	// ErrPageStillLocked is returned when freeing or unmapping a locked page.
	ErrPageStillLocked = errors.New("storage: page is locked and cannot be unmapped")
	// ErrOffsetOutOfRange is returned by EncodePointer when offset >= pageSize.
	ErrOffsetOutOfRange = errors.New("storage: offset out of range for page size")
)
