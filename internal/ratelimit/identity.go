package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// IdentityResolver derives the client key a bucket is charged against.
//
// With TrustProxyHeaders set, the first X-Forwarded-For entry wins, then
// X-Real-IP, then the peer address. Those headers are client-controlled
// unless a proxy in front of the service overwrites them, so deployments
// exposed directly to clients should turn trust off.
type IdentityResolver struct {
	TrustProxyHeaders bool
}

// Resolve returns the client identity for r. It never returns an empty
// string for a request with a peer address.
func (ir IdentityResolver) Resolve(r *http.Request) string {
	if ir.TrustProxyHeaders {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}

		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}

	return peerHost(r.RemoteAddr)
}

// peerHost strips the port from a RemoteAddr so that every connection from
// one host shares a bucket.
func peerHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
