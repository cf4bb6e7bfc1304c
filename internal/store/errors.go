/**
 * @description
 * Error taxonomy surfaced by the record and staff stores. Callers branch on
 * these with errors.Is / errors.As.
 */
package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a keyed lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a unique key (email, username) is already taken.
	ErrConflict = errors.New("record already exists")
	// ErrSchemaInconsistency marks a malformed table header. The migrator repairs
	// it on the next write; it is reported, never returned as fatal.
	ErrSchemaInconsistency = errors.New("schema inconsistency")
	// ErrInvalidTransition is returned when an update would move a decided
	// signup to a different status, or set processedBy on an undecided one.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrReferralImmutable is returned when an update tries to replace a referrer.
	ErrReferralImmutable = fmt.Errorf("%w: referredBy cannot be changed once set", ErrConflict)
)

// IOError wraps a failure of the persisted medium. After an IOError the caller
// must not assume the in-memory and on-disk states agree.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func ioErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var existing *IOError
	if errors.As(err, &existing) {
		return err
	}
	return &IOError{Op: op, Path: path, Err: err}
}

// IsIOError reports whether err came from the persisted medium.
func IsIOError(err error) bool {
	var target *IOError
	return errors.As(err, &target)
}
