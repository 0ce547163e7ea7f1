package storage

import "errors"

var (
	ErrQdrantUnreachable  = errors.New("qdrant server unreachable")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrChunkNotFound      = errors.New("chunk not found")
	ErrEmptyCollection    = errors.New("collection has no chunks")
	ErrDimensionMismatch  = errors.New("embedding dimension mismatch")
	ErrDuplicatePath      = errors.New("duplicate chunk path")
)
