// Package models - API response types and error handling.
// This file defines all outgoing API response structures with consistent formatting.
//
// Response Design Principles:
// - Consistent JSON structure across all endpoints
// - Errors always carry "error": true, a human message and a machine code
// - RFC3339 timestamps for health output
package models

import (
	"time"
)

type RegisterResponse struct {
	UserID  string `json:"userId"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

type AuthResponse struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

type ProfileResponse struct {
	UserID            string `json:"userId"`
	Name              string `json:"name"`
	Email             string `json:"email"`
	IsAccountVerified bool   `json:"isAccountVerified"`
}

func (p *ProfileResponse) FromUser(u *User) {
	p.UserID = u.ID
	p.Name = u.Name
	p.Email = u.Email
	p.IsAccountVerified = u.AccountVerified
}

type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx reply.
//
// Error Handling Design:
// - Error is always true so clients can branch on a single field
// - Code is machine-readable, Message is for humans
// - Details carries per-field validation failures
type ErrorResponse struct {
	Error   bool              `json:"error"`
	Message string            `json:"message"`
	Code    string            `json:"code,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// RateLimitResponse is the 429 body written by the throttling middleware.
type RateLimitResponse struct {
	Error             bool   `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int64  `json:"retryAfterSeconds"`
}

const RateLimitMessage = "Too many requests. Please try again later."

func NewRateLimitResponse(retryAfterSeconds int64) *RateLimitResponse {
	return &RateLimitResponse{
		Error:             true,
		Message:           RateLimitMessage,
		RetryAfterSeconds: retryAfterSeconds,
	}
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

type ComponentHealth struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Health Status Constants
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"
)

// Error codes shared by the API and service layers.
const (
	ErrorCodeUserNotFound       = "USER_NOT_FOUND"      // 404
	ErrorCodeConflict           = "CONFLICT"            // 409
	ErrorCodeInvalidOTP         = "INVALID_OTP"         // 400
	ErrorCodeOTPExpired         = "OTP_EXPIRED"         // 400
	ErrorCodeInvalidCredentials = "INVALID_CREDENTIALS" // 401
	ErrorCodeDispatchFailure    = "DISPATCH_FAILURE"    // 500
	ErrorCodeInternalError      = "INTERNAL_ERROR"      // 500
	ErrorCodeBadRequest         = "BAD_REQUEST"         // 400
	ErrorCodeValidation         = "VALIDATION_ERROR"    // 400
	ErrorCodeUnauthorized       = "UNAUTHORIZED"        // 401
	ErrorCodeRateLimited        = "RATE_LIMITED"        // 429
	ErrorCodeNotFound           = "NOT_FOUND"           // 404
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:   true,
		Message: message,
		Code:    code,
	}
}

func NewValidationErrorResponse(details map[string]string) *ErrorResponse {
	return &ErrorResponse{
		Error:   true,
		Message: "Request validation failed",
		Code:    ErrorCodeValidation,
		Details: details,
	}
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}
