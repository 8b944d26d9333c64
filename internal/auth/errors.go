// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateEmail is returned by UserRepository.Create when the email
	// violates the store's uniqueness constraint.
	ErrDuplicateEmail = errors.New("email already in use")

	// ErrNoActiveSession is returned when invalidating a token that has no
	// live session behind it.
	ErrNoActiveSession = errors.New("no session found")
)
