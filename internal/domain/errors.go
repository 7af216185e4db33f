// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested session does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates malformed or missing client input.
var ErrValidation = errors.New("validation")

// ErrUpstream indicates the agent runtime is unreachable or returned a failure.
var ErrUpstream = errors.New("upstream unavailable")
