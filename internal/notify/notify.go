// Package notify delivers account emails through a pluggable Sender.
//
// The Dispatcher queues messages for a small worker pool so that request
// handlers never wait on a mail provider. A synchronous Deliver path exists
// for callers that must know whether a message went out.
package notify

import (
	"context"
	"fmt"

	"authify/internal/models"
)

// Kind identifies the template a message was built from.
type Kind string

const (
	KindResetOTP          Kind = "reset_otp"
	KindVerifyOTP         Kind = "verify_otp"
	KindResetConfirmation Kind = "reset_confirmation"
	KindWelcome           Kind = "welcome"
)

// Message is a rendered plain-text email.
type Message struct {
	Kind    Kind
	To      string
	ToName  string
	Subject string
	Body    string
}

// Sender hands a message to a mail transport.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Notifier is what the account and OTP services depend on.
type Notifier interface {
	// SendOTP queues the code email and returns without waiting for delivery.
	SendOTP(ctx context.Context, to, code string, purpose models.OTPPurpose) error

	// DeliverOTP sends the code email and waits for the transport's answer.
	DeliverOTP(ctx context.Context, to, code string, purpose models.OTPPurpose) error

	SendResetConfirmation(ctx context.Context, to, name string) error
	SendWelcome(ctx context.Context, to, name string) error
}

// OTPMessage renders the code email for purpose.
func OTPMessage(to, code string, purpose models.OTPPurpose) Message {
	if purpose == models.PurposeVerify {
		return Message{
			Kind:    KindVerifyOTP,
			To:      to,
			ToName:  "User",
			Subject: "Verify Your Email",
			Body: fmt.Sprintf("Dear User,\n\nPlease use the following OTP to verify your email: %s\n\n"+
				"Best regards,\nAuthify Team", code),
		}
	}
	return Message{
		Kind:    KindResetOTP,
		To:      to,
		ToName:  "User",
		Subject: "Reset Password",
		Body: fmt.Sprintf("Dear User,\n\nPlease use the following OTP to reset your password: %s\n\n"+
			"Best regards,\nAuthify Team", code),
	}
}

func ResetConfirmationMessage(to, name string) Message {
	return Message{
		Kind:    KindResetConfirmation,
		To:      to,
		ToName:  name,
		Subject: "Your Password Has Been Reset",
		Body: fmt.Sprintf("Dear %s,\n\nYour password for Authify has been successfully reset.\n\n"+
			"If you did not make this change, please contact our support team immediately.\n\n"+
			"Best regards,\nAuthify Team", name),
	}
}

func WelcomeMessage(to, name string) Message {
	return Message{
		Kind:    KindWelcome,
		To:      to,
		ToName:  name,
		Subject: "Welcome to Authify",
		Body: fmt.Sprintf("Dear %s,\n\nWelcome to Authify. We are excited to have you on board.\n\n"+
			"Best regards,\nAuthify Team", name),
	}
}
