package logstore

import "errors"

var (
	// ErrTransactionNotActive is returned by any operation addressing a
	// transaction that was never opened or has already been closed, and by
	// EnumInactiveLogItem for a transaction that is still active.
	ErrTransactionNotActive = errors.New("logstore: transaction is not active")
	// ErrWriterAlreadyOpen is returned by OpenLogItem when a writer is
	// already open for the transaction.
	ErrWriterAlreadyOpen = errors.New("logstore: an item writer is already open for this transaction")
	// ErrWriterStillOpen is returned by CloseTransaction when an item
	// writer has not yet been closed.
	ErrWriterStillOpen = errors.New("logstore: cannot close a transaction with an open item writer")
	// ErrWriterAlreadyClosed is returned by Writer.Close/Write after the
	// writer has already been closed.
	ErrWriterAlreadyClosed = errors.New("logstore: item writer already closed")
	// ErrAllocationFailed is returned when the backing Buffer Manager
	// cannot supply a new page for the index chain or the log body.
	ErrAllocationFailed = errors.New("logstore: failed to allocate a page from the buffer manager")
	// ErrPageAccessFailed is returned when a lock/unlock against the
	// backing source unexpectedly fails mid-operation.
	ErrPageAccessFailed = errors.New("logstore: failed to access a buffer manager page")
)
