// Package storage defines what the persistence adapters share. Concrete
// stores live in subpackages; consumers depend on their own interfaces and
// on the sentinel errors re-exported here.
package storage

import "errors"

// ErrNotFound is returned when a requested row does not exist. Domain
// packages re-export it so their callers never import the storage layer.
var ErrNotFound = errors.New("record not found")
