package main

import "errors"

var (
	// ErrSchemaNotFound is returned when selecting a schema, database or keyspace that does not exist.
	ErrSchemaNotFound = errors.New("schema not found")

	// ErrEntityNotFound is returned when describing or fetching an unknown table or collection.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrEmptyCollection is returned when an insert needs at least one record
	// (to infer a table layout, or because the store rejects empty batches).
	ErrEmptyCollection = errors.New("empty collection")

	// ErrReferenceNotFound marks a dangling foreign-key value. The resolver
	// counts it and moves on; it never aborts a pass.
	ErrReferenceNotFound = errors.New("referenced record not found")

	// ErrConnectionFailure wraps transport-level failures from the store clients.
	ErrConnectionFailure = errors.New("connection failure")
)
