package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"authify/internal/models"
	"authify/internal/storage"
	"authify/internal/version"

	"github.com/go-playground/validator/v10"
)

// AccountService is the account surface the handlers depend on.
type AccountService interface {
	Register(ctx context.Context, name, email, password string) (*models.User, error)
	Login(ctx context.Context, email, password string) (string, error)
	Profile(ctx context.Context, email string) (*models.ProfileResponse, error)
}

// OTPService issues and redeems one-time passwords.
type OTPService interface {
	SendResetOTP(ctx context.Context, email string) error
	SendVerifyOTP(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email, code, newPassword string) error
	VerifyAccount(ctx context.Context, email, code string) error
}

// Handlers contains HTTP handlers for the authify API
type Handlers struct {
	accounts  AccountService
	otps      OTPService
	storage   storage.Storage
	validate  *validator.Validate
	cookie    sessionCookie
	startTime time.Time
}

type sessionCookie struct {
	enabled bool
	ttl     time.Duration
	secure  bool
}

// HandlersOption configures optional handler behavior.
type HandlersOption func(*Handlers)

// WithStorage enables the storage component of the health check.
func WithStorage(store storage.Storage) HandlersOption {
	return func(h *Handlers) {
		h.storage = store
	}
}

// WithSessionCookie makes Login also set the token as an HttpOnly cookie
// that expires after ttl.
func WithSessionCookie(ttl time.Duration, secure bool) HandlersOption {
	return func(h *Handlers) {
		h.cookie = sessionCookie{enabled: true, ttl: ttl, secure: secure}
	}
}

// NewHandlers creates a new handlers instance
func NewHandlers(accounts AccountService, otps OTPService, opts ...HandlersOption) *Handlers {
	h := &Handlers{
		accounts:  accounts,
		otps:      otps,
		validate:  newValidator(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// newValidator reports field errors under their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return strings.ToLower(f.Name)
		}
		return name
	})
	// bcrypt counts bytes where max counts runes.
	_ = v.RegisterValidation("bcryptmax", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= models.MaxPasswordBytes
	})
	return v
}

// Register handles account creation
// POST /api/v1.0/register
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	user, err := h.accounts.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusCreated, &models.RegisterResponse{
		UserID:  user.ID,
		Email:   user.Email,
		Message: "Account created",
	})
}

// Login handles credential checks
// POST /api/v1.0/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	token, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if h.cookie.enabled {
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    token,
			Path:     "/",
			MaxAge:   int(h.cookie.ttl / time.Second),
			HttpOnly: true,
			Secure:   h.cookie.secure,
			SameSite: http.SameSiteStrictMode,
		})
	}

	h.writeJSONResponse(w, http.StatusOK, &models.AuthResponse{Email: req.Email, Token: token})
}

// Logout clears the session cookie. Bearer tokens stay valid until they
// expire.
// POST /api/v1.0/logout
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.secure,
		SameSite: http.SameSiteStrictMode,
	})
	h.writeJSONResponse(w, http.StatusOK, &models.MessageResponse{Message: "Logged out"})
}

// SendResetOTP issues a password reset code
// POST /api/v1.0/send-reset-otp?email=
func (h *Handlers) SendResetOTP(w http.ResponseWriter, r *http.Request) {
	q, ok := h.emailQuery(w, r)
	if !ok {
		return
	}

	if err := h.otps.SendResetOTP(r.Context(), q.Email); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, &models.MessageResponse{Message: "Password reset OTP sent"})
}

// ResetPassword redeems a reset code and sets a new password
// POST /api/v1.0/reset-password
func (h *Handlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req models.ResetPasswordRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	if err := h.otps.ResetPassword(r.Context(), req.Email, req.OTP, req.NewPassword); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, &models.MessageResponse{Message: "Password has been reset"})
}

// SendVerifyOTP issues a verification code to the authenticated user
// POST /api/v1.0/send-otp
func (h *Handlers) SendVerifyOTP(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	if principal == nil {
		h.writeErrorResponse(w, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "Authentication required")
		return
	}

	if err := h.otps.SendVerifyOTP(r.Context(), principal.Email); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, &models.MessageResponse{Message: "Verification OTP sent"})
}

// ResendVerificationOTP issues a verification code by address
// POST /api/v1.0/resend-verification-otp?email=
func (h *Handlers) ResendVerificationOTP(w http.ResponseWriter, r *http.Request) {
	q, ok := h.emailQuery(w, r)
	if !ok {
		return
	}

	if err := h.otps.SendVerifyOTP(r.Context(), q.Email); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, &models.MessageResponse{Message: "Verification OTP sent"})
}

// VerifyAccount redeems a verification code
// POST /api/v1.0/verify-account
func (h *Handlers) VerifyAccount(w http.ResponseWriter, r *http.Request) {
	var req models.VerifyAccountRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	if err := h.otps.VerifyAccount(r.Context(), req.Email, req.OTP); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, &models.MessageResponse{Message: "Account verified"})
}

// Profile returns the authenticated user's profile
// GET /api/v1.0/profile
func (h *Handlers) Profile(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	if principal == nil {
		h.writeErrorResponse(w, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "Authentication required")
		return
	}

	profile, err := h.accounts.Profile(r.Context(), principal.Email)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, profile)
}

// IsAuthenticated reports whether the request carries a valid token
// GET /api/v1.0/is-authenticated
func (h *Handlers) IsAuthenticated(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, PrincipalFromContext(r.Context()) != nil)
}

// HealthCheck handles health check requests
// GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = version.GetInfo().Version
	response.Uptime = time.Since(h.startTime).Round(time.Second).String()
	status := http.StatusOK

	if h.storage != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.storage.Ping(ctx); err != nil {
			slog.Warn("Health check storage ping failed", "error", err)
			response.Status = models.StatusUnhealthy
			response.AddComponent("storage", models.StatusUnhealthy, "Storage is unreachable")
			status = http.StatusServiceUnavailable
		} else {
			response.AddComponent("storage", models.StatusHealthy, "Storage is operational")
		}
	}
	response.AddComponent("api", models.StatusHealthy, "API is operational")

	h.writeJSONResponse(w, status, response)
}

type normalizer interface {
	Normalize()
}

// decodeValid decodes the JSON body into dst, normalizes and validates it.
// On failure it writes the error response and returns false.
func (h *Handlers) decodeValid(w http.ResponseWriter, r *http.Request, dst normalizer) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON in request body")
		return false
	}
	dst.Normalize()
	return h.validStruct(w, dst)
}

func (h *Handlers) emailQuery(w http.ResponseWriter, r *http.Request) (*models.EmailQuery, bool) {
	q := &models.EmailQuery{Email: r.URL.Query().Get("email")}
	q.Normalize()
	if !h.validStruct(w, q) {
		return nil, false
	}
	return q, true
}

func (h *Handlers) validStruct(w http.ResponseWriter, v any) bool {
	err := h.validate.Struct(v)
	if err == nil {
		return true
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, err.Error())
		return false
	}

	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = describeFieldError(fe)
	}
	h.writeJSONResponse(w, http.StatusBadRequest, models.NewValidationErrorResponse(details))
	return false
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "bcryptmax":
		return "must be at most " + strconv.Itoa(models.MaxPasswordBytes) + " bytes"
	case "len":
		return "must be exactly " + fe.Param() + " characters"
	case "numeric":
		return "must contain only digits"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

// writeServiceError maps a service error to its HTTP status and code.
// Anything that is not a ServiceError is reported as an internal error
// without leaking its text.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	se, ok := models.AsServiceError(err)
	if !ok {
		slog.Error("Unhandled error", "path", r.URL.Path, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Internal server error")
		return
	}

	if se.StatusCode >= http.StatusInternalServerError {
		slog.Error("Request failed", "path", r.URL.Path, "code", se.Code, "error", se)
	}
	h.writeErrorResponse(w, se.StatusCode, se.Code, se.Message)
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	writeJSON(w, statusCode, data)
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	writeJSON(w, statusCode, models.NewErrorResponse(message, errorCode))
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written.
		slog.Error("Error encoding JSON response", "error", err)
	}
}
