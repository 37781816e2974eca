package observability

import (
	"context"
	"errors"
	"time"

	"authify/internal/models"
	"authify/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedStorage wraps a storage.Storage implementation with
// OpenTelemetry tracing and metrics instrumentation.
type InstrumentedStorage struct {
	inner    storage.Storage
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewInstrumentedStorage creates a new storage wrapper that records trace spans,
// operation latency histograms, and error counters for every storage method call.
//
// Lookups that end in storage.ErrNotFound and consumes that end in
// storage.ErrOTPMismatch are normal outcomes and are not counted as errors.
func NewInstrumentedStorage(inner storage.Storage) (*InstrumentedStorage, error) {
	tracer := otel.Tracer("authify/storage")
	meter := otel.Meter("authify/storage")

	duration, err := meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of storage operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Number of storage operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStorage{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (s *InstrumentedStorage) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("storage.operation", operation),
		}, attrs...)...),
	)
	return ctx, span
}

func isExpectedOutcome(err error) bool {
	return errors.Is(err, storage.ErrNotFound) ||
		errors.Is(err, storage.ErrAlreadyExists) ||
		errors.Is(err, storage.ErrOTPMismatch)
}

func (s *InstrumentedStorage) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(attribute.String("operation", operation))

	s.duration.Record(ctx, elapsed, attrs)

	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case isExpectedOutcome(err):
		span.SetAttributes(attribute.String("storage.outcome", err.Error()))
	default:
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.End()
}

func (s *InstrumentedStorage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx, span := s.startSpan(ctx, "GetUserByEmail")
	start := time.Now()
	result, err := s.inner.GetUserByEmail(ctx, email)
	s.record(ctx, span, "GetUserByEmail", start, err)
	return result, err
}

func (s *InstrumentedStorage) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	ctx, span := s.startSpan(ctx, "ExistsByEmail")
	start := time.Now()
	result, err := s.inner.ExistsByEmail(ctx, email)
	s.record(ctx, span, "ExistsByEmail", start, err)
	return result, err
}

func (s *InstrumentedStorage) CreateUser(ctx context.Context, user *models.User) error {
	ctx, span := s.startSpan(ctx, "CreateUser", attribute.String("user_id", user.ID))
	start := time.Now()
	err := s.inner.CreateUser(ctx, user)
	s.record(ctx, span, "CreateUser", start, err)
	return err
}

func (s *InstrumentedStorage) SaveUser(ctx context.Context, user *models.User) error {
	ctx, span := s.startSpan(ctx, "SaveUser", attribute.String("user_id", user.ID))
	start := time.Now()
	err := s.inner.SaveUser(ctx, user)
	s.record(ctx, span, "SaveUser", start, err)
	return err
}

func (s *InstrumentedStorage) SetOTP(ctx context.Context, email string, purpose models.OTPPurpose, code string, expiresAt int64) error {
	ctx, span := s.startSpan(ctx, "SetOTP", attribute.String("otp.purpose", string(purpose)))
	start := time.Now()
	err := s.inner.SetOTP(ctx, email, purpose, code, expiresAt)
	s.record(ctx, span, "SetOTP", start, err)
	return err
}

func (s *InstrumentedStorage) ConsumeOTP(ctx context.Context, email string, purpose models.OTPPurpose, code string, update models.UserUpdate) (*models.User, error) {
	ctx, span := s.startSpan(ctx, "ConsumeOTP",
		attribute.String("otp.purpose", string(purpose)),
		attribute.Bool("update.password", update.PasswordHash != nil),
		attribute.Bool("update.verified", update.AccountVerified != nil),
	)
	start := time.Now()
	result, err := s.inner.ConsumeOTP(ctx, email, purpose, code, update)
	s.record(ctx, span, "ConsumeOTP", start, err)
	return result, err
}

func (s *InstrumentedStorage) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}
