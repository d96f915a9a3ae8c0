// Package storage provides the durable key-value capability backing the
// credential vault.
package storage

import "errors"

// ErrNotFound is returned by Get when no value exists for the key.
var ErrNotFound = errors.New("key not found")

// Store is the minimal key-value contract the vault persists against.
// Implementations must be safe for concurrent use. Set overwrites any
// existing value; Delete of a missing key is a no-op.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
}
