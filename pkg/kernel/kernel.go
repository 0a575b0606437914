// Package kernel wires the Buffer Manager, Log Manager, and Lock Manager
// into one handle for callers that want all three, mirroring teacher's
// pkg/turdb.DB (which wires pager + mvcc + btree + schema into one
// handle). This is purely a convenience constructor: every capability
// remains independently usable through the three packages it wires.
package kernel

import (
	"errors"
	"os"
	"sync"

	"go.uber.org/zap"

	"dbkernel/internal/lockmgr"
	"dbkernel/internal/logstore"
	"dbkernel/internal/storage"
)

// ErrDatabaseClosed is returned when operating on a closed Database.
var ErrDatabaseClosed = errors.New("kernel: database is closed")

// Options configures Open. A zero value selects PageSize=4096,
// CachePageCount=1024.
type Options struct {
	PageSize       int
	CachePageCount int
	Logger         *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.PageSize == 0 {
		o.PageSize = 4096
	}
	if o.CachePageCount == 0 {
		o.CachePageCount = 1024
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Database is the top-level handle: one Buffer Manager hosting both the
// data source and the log source, a Log Manager over the log source, and
// a Lock Manager sharing the same transaction identifiers.
type Database struct {
	mu     sync.RWMutex
	closed bool
	logger *zap.Logger

	Buffers *storage.Manager
	Log     *logstore.Manager
	Locks   *lockmgr.Manager

	DataSource storage.SourceId
	logSource  storage.SourceId
}

// Open opens (or creates) the database file at path and its companion log
// file at path+".log".
func Open(path string, opts Options) (*Database, error) {
	opts = opts.withDefaults()

	bm, err := storage.NewManager(storage.Config{
		PageSize:       opts.PageSize,
		CachePageCount: opts.CachePageCount,
	}, opts.Logger)
	if err != nil {
		return nil, err
	}

	dataSource, err := bm.LoadFileSource(path)
	if err != nil {
		return nil, err
	}

	logPath := path + ".log"
	_, statErr := os.Stat(logPath)
	logIsNew := os.IsNotExist(statErr)

	logSource, err := bm.LoadFileSource(logPath)
	if err != nil {
		bm.UnloadSource(dataSource)
		return nil, err
	}

	logMgr, err := logstore.NewManager(bm, logSource, logIsNew, opts.Logger)
	if err != nil {
		bm.UnloadSource(logSource)
		bm.UnloadSource(dataSource)
		return nil, err
	}

	return &Database{
		logger:     opts.Logger,
		Buffers:    bm,
		Log:        logMgr,
		Locks:      lockmgr.NewManager(bm, opts.Logger),
		DataSource: dataSource,
		logSource:  logSource,
	}, nil
}

// OpenMemory opens an in-memory database: no file backing for either the
// data source or the log source. Useful for tests and scratch databases.
func OpenMemory(opts Options) (*Database, error) {
	opts = opts.withDefaults()

	bm, err := storage.NewManager(storage.Config{
		PageSize:       opts.PageSize,
		CachePageCount: opts.CachePageCount,
	}, opts.Logger)
	if err != nil {
		return nil, err
	}

	dataSource := bm.LoadMemorySource()
	logSource := bm.LoadMemorySource()

	logMgr, err := logstore.NewManager(bm, logSource, true, opts.Logger)
	if err != nil {
		return nil, err
	}

	return &Database{
		logger:     opts.Logger,
		Buffers:    bm,
		Log:        logMgr,
		Locks:      lockmgr.NewManager(bm, opts.Logger),
		DataSource: dataSource,
		logSource:  logSource,
	}, nil
}

// IsClosed reports whether Close has already been called.
func (db *Database) IsClosed() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.closed
}

// Close unloads both sources. It is an error to call Close more than once.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrDatabaseClosed
	}
	db.closed = true

	logErr := db.Buffers.UnloadSource(db.logSource)
	dataErr := db.Buffers.UnloadSource(db.DataSource)
	if dataErr != nil {
		return dataErr
	}
	return logErr
}
