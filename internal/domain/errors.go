package domain

import "errors"

// ErrNotFound is returned by repositories when a tenant-scoped lookup
// matches no row.
var ErrNotFound = errors.New("not found")
