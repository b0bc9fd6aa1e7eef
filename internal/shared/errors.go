package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Sync failure taxonomy. Synchronizers map these onto queue-item
	// status transitions; they never escape a synchronizer's loop.
	ErrNetwork      = fmt.Errorf("network error")         // transient, always retried
	ErrUnauthorized = fmt.Errorf("unauthorized")          // retried, credentials may refresh out-of-band
	ErrNotFound     = fmt.Errorf("not found")             // structural
	ErrEventsPruned = fmt.Errorf("event history pruned")  // structural, forces a full sync
	ErrClient       = fmt.Errorf("client error")          // terminal per-item failure
	ErrGapDetected  = fmt.Errorf("sequence gap detected") // catch-up saw a hole in the event log
	ErrNoCursor     = fmt.Errorf("no cursor")             // no successful sync has happened yet

	// Store errors
	ErrRecordNotFound = fmt.Errorf("record not found")

	// Transport errors
	ErrAlreadyConnected = fmt.Errorf("already connected")
	ErrNotConnected     = fmt.Errorf("not connected")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
)
