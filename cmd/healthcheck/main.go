// Package main is a minimal HTTP health check binary for use in distroless
// containers. It exits 0 when the authify /health endpoint returns HTTP 200,
// and 1 otherwise. The target defaults to http://localhost:8080/health and
// follows AUTHIFY_PORT, or AUTHIFY_HEALTHCHECK_URL when set.
// Compile with CGO_ENABLED=0 for a fully static binary.
package main

import (
	"net/http"
	"os"
	"time"
)

func main() {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(target())
	if err != nil {
		os.Exit(1)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}

func target() string {
	if url := os.Getenv("AUTHIFY_HEALTHCHECK_URL"); url != "" {
		return url
	}
	port := os.Getenv("AUTHIFY_PORT")
	if port == "" {
		port = "8080"
	}
	return "http://localhost:" + port + "/health"
}
