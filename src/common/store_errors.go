package common

import "fmt"

// StoreErrType enumerates the causes of store lookup failures.
type StoreErrType uint32

const (
	// KeyNotFound is returned when a key is not in the store.
	KeyNotFound StoreErrType = iota
	// TooLate is returned when an item has already been expired.
	TooLate
	// KeyAlreadyExists is returned on conflicting inserts.
	KeyAlreadyExists
	// UnknownCreator is returned when an event references a creator that is
	// not in the peer-set.
	UnknownCreator
	// Empty is returned when a query matches nothing.
	Empty
)

// StoreErr is a typed error returned by event stores and indexes.
type StoreErr struct {
	dataType string
	errType  StoreErrType
	key      string
}

// NewStoreErr creates a StoreErr for a given data type, cause, and key.
func NewStoreErr(dataType string, errType StoreErrType, key string) StoreErr {
	return StoreErr{
		dataType: dataType,
		errType:  errType,
		key:      key,
	}
}

// Error implements the error interface.
func (e StoreErr) Error() string {
	m := ""
	switch e.errType {
	case KeyNotFound:
		m = "Not Found"
	case TooLate:
		m = "Too Late"
	case KeyAlreadyExists:
		m = "Key Already Exists"
	case UnknownCreator:
		m = "Unknown Creator"
	case Empty:
		m = "Empty"
	}

	return fmt.Sprintf("%s, %s, %s", e.dataType, e.key, m)
}

// IsStore checks that an error is of type StoreErr and that its code matches
// the provided StoreErrType.
func IsStore(err error, t StoreErrType) bool {
	storeErr, ok := err.(StoreErr)
	return ok && storeErr.errType == t
}
