package storage

// PersistMode directs what UnlockPage should do with a page's dirty state
// and backing bytes.
type PersistMode int

const (
	// NoChanging leaves the dirty flag untouched.
	NoChanging PersistMode = iota
	// Changed marks the page dirty; it will be flushed on a future eviction
	// or ChangedAndPersist unlock.
	Changed
	// ChangedAndPersist synchronously flushes the page and clears dirty.
	ChangedAndPersist
)

// pageDesc is the Buffer Manager's metadata for one mapped page: the
// backing bytes plus the lastAccessTime/locked/dirty triple from spec.md
// §3.
type pageDesc struct {
	data           []byte
	lastAccessTime int64
	locked         bool
	dirty          bool
}

// BufferPageTimeTuple is an eviction candidate: a page tagged with its
// source, id, and last access time, used to order candidates for LRU
// eviction across heterogeneous sources.
type BufferPageTimeTuple struct {
	Source         SourceId
	Page           PageId
	LastAccessTime int64
}
