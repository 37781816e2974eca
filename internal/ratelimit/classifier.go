package ratelimit

import "strings"

// otpRoutes are the path fragments of endpoints that issue or redeem codes.
var otpRoutes = []string{
	"send-reset-otp",
	"resend-verification-otp",
	"reset-password",
	"verify-account",
}

// Classify maps a request path to its throttling class. Rules are checked in
// order and the first match wins; a path matching none returns ClassNone.
func Classify(path string) Class {
	if strings.Contains(path, "login") {
		return ClassLogin
	}
	for _, fragment := range otpRoutes {
		if strings.Contains(path, fragment) {
			return ClassOTP
		}
	}
	if strings.Contains(path, "register") {
		return ClassGeneral
	}
	return ClassNone
}
