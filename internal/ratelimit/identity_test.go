package ratelimit

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentityResolver_Resolve(t *testing.T) {
	tests := []struct {
		name       string
		trust      bool
		xff        string
		realIP     string
		remoteAddr string
		want       string
	}{
		{"forwarded-for first entry", true, "203.0.113.7, 10.0.0.1", "198.51.100.2", "192.0.2.1:5555", "203.0.113.7"},
		{"forwarded-for trimmed", true, "  203.0.113.7  ", "", "192.0.2.1:5555", "203.0.113.7"},
		{"empty first forwarded entry falls back", true, " , 10.0.0.1", "198.51.100.2", "192.0.2.1:5555", "198.51.100.2"},
		{"real ip when no forwarded-for", true, "", "198.51.100.2", "192.0.2.1:5555", "198.51.100.2"},
		{"peer address when no headers", true, "", "", "192.0.2.1:5555", "192.0.2.1"},
		{"ipv6 peer", true, "", "", "[2001:db8::1]:443", "2001:db8::1"},
		{"peer without port", true, "", "", "192.0.2.1", "192.0.2.1"},
		{"untrusted ignores forwarded-for", false, "203.0.113.7", "198.51.100.2", "192.0.2.1:5555", "192.0.2.1"},
		{"untrusted strips port", false, "", "", "192.0.2.9:40000", "192.0.2.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/v1.0/login", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}

			assert.Equal(t, tt.want, IdentityResolver{TrustProxyHeaders: tt.trust}.Resolve(req))
		})
	}
}
