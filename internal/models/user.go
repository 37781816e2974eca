// Package models - User account record and OTP slots.
//
// A user carries two independent one-time-password slots, one for password
// reset and one for account verification. Each slot is a code plus an expiry
// in epoch milliseconds; an empty code with a zero expiry means the slot is
// absent.
package models

import (
	"errors"
	"strings"
	"time"
)

// OTPPurpose selects one of the two OTP slots on a user.
type OTPPurpose string

const (
	PurposeReset  OTPPurpose = "reset"
	PurposeVerify OTPPurpose = "verify"
)

// Valid reports whether p names a known slot.
func (p OTPPurpose) Valid() bool {
	return p == PurposeReset || p == PurposeVerify
}

type User struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Email             string    `json:"email"`
	PasswordHash      string    `json:"password_hash"`
	AccountVerified   bool      `json:"account_verified"`
	ResetOTP          string    `json:"reset_otp"`
	ResetOTPExpireAt  int64     `json:"reset_otp_expire_at"`
	VerifyOTP         string    `json:"verify_otp"`
	VerifyOTPExpireAt int64     `json:"verify_otp_expire_at"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// UserUpdate is the effect applied together with a successful OTP consume.
// Nil fields are left untouched.
type UserUpdate struct {
	PasswordHash    *string
	AccountVerified *bool
}

// Slot returns the code and expiry stored for purpose.
func (u *User) Slot(purpose OTPPurpose) (code string, expiresAt int64) {
	if purpose == PurposeVerify {
		return u.VerifyOTP, u.VerifyOTPExpireAt
	}
	return u.ResetOTP, u.ResetOTPExpireAt
}

// SetSlot overwrites the slot for purpose. An empty code with zero expiry
// clears it.
func (u *User) SetSlot(purpose OTPPurpose, code string, expiresAt int64) {
	if purpose == PurposeVerify {
		u.VerifyOTP, u.VerifyOTPExpireAt = code, expiresAt
		return
	}
	u.ResetOTP, u.ResetOTPExpireAt = code, expiresAt
}

// Apply copies the non-nil fields of upd onto u.
func (u *User) Apply(upd UserUpdate) {
	if upd.PasswordHash != nil {
		u.PasswordHash = *upd.PasswordHash
	}
	if upd.AccountVerified != nil {
		u.AccountVerified = *upd.AccountVerified
	}
}

// Clone returns a copy safe to hand out of a store.
func (u *User) Clone() *User {
	c := *u
	return &c
}

func (u *User) Validate() error {
	if u.ID == "" {
		return errors.New("user ID is required")
	}
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	return nil
}

// NormalizeEmail lowercases and trims an address so lookups are
// case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
