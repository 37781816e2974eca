package storage

import "errors"

var (
	// ErrNotFound is returned when no user has the requested email.
	ErrNotFound = errors.New("user not found")

	// ErrAlreadyExists is returned when creating a user whose email is taken.
	ErrAlreadyExists = errors.New("user already exists")

	// ErrOTPMismatch is returned by ConsumeOTP when the slot no longer holds
	// the presented code, including when another caller consumed it first.
	ErrOTPMismatch = errors.New("otp does not match")
)
