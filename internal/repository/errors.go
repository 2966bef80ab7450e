package repository

import "errors"

// ErrNotFound indicates no record exists for the requested task.
var ErrNotFound = errors.New("repository: not found")
