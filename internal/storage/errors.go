package storage

import "agora/pkg/platform/sentinel"

// ErrNotFound keeps storage-specific misses consistent across in-memory and
// relational implementations.
var ErrNotFound = sentinel.ErrNotFound
