package coupon

import "fmt"

// NotFoundError reports a missing coupon, product, buyer, seller, cart or
// cart item. Err holds the repository sentinel.
type NotFoundError struct {
	Resource string
	ID       string
	Err      error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// PersistenceError wraps a storage failure during create, update or delete.
// The message names only the operation; the cause is kept for logging.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return "failed to " + e.Op + " coupon"
}

func (e *PersistenceError) Unwrap() error { return e.Err }
