package lockmgr

import "errors"

var (
	// ErrInvalidTransaction is returned when a transaction id is invalid
	// or not registered.
	ErrInvalidTransaction = errors.New("lockmgr: invalid or unregistered transaction")
	// ErrInvalidTable is returned when a table id is invalid or not
	// registered.
	ErrInvalidTable = errors.New("lockmgr: invalid or unregistered table")
	// ErrInvalidTarget is returned when a LockTarget's page or row
	// identifier is invalid.
	ErrInvalidTarget = errors.New("lockmgr: invalid lock target")
	// ErrAlreadyRegistered is returned by RegisterTable/RegisterTransaction
	// when the id is already registered.
	ErrAlreadyRegistered = errors.New("lockmgr: already registered")
	// ErrHasAcquiredLocks is returned by UnregisterTransaction when the
	// transaction still holds locks or has a pending request.
	ErrHasAcquiredLocks = errors.New("lockmgr: transaction still holds locks or has a pending request")
	// ErrAlreadyPending is returned by AcquireLock when the caller already
	// has a different pending request outstanding.
	ErrAlreadyPending = errors.New("lockmgr: transaction already has a pending lock request")
)
