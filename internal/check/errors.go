package check

import "errors"

// ErrRunNotFound is returned by RunStore implementations when no run exists
// for the given ID. The API layer maps it to a 404.
var ErrRunNotFound = errors.New("run not found")
