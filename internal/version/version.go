// Package version carries build metadata for the authify binaries.
// The package variables are stamped with -ldflags at build time.
package version

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
)

var (
	// Version is the release tag or short commit.
	// Set via: -ldflags "-X authify/internal/version.Version=..."
	Version = "dev"

	// BuildDate is the UTC build timestamp.
	// Set via: -ldflags "-X authify/internal/version.BuildDate=..."
	BuildDate = "unknown"

	// GitCommit is the full source commit SHA.
	// Set via: -ldflags "-X authify/internal/version.GitCommit=..."
	GitCommit = "unknown"
)

// Info holds build metadata plus identifiers of the running process.
type Info struct {
	Version    string `json:"version"`
	GitCommit  string `json:"git_commit"`
	BuildDate  string `json:"build_date"`
	InstanceID string `json:"instance_id"`
	Hostname   string `json:"hostname"`
}

var (
	once sync.Once
	info Info
)

// GetInfo returns the process build info. InstanceID and Hostname are
// resolved on the first call and then cached.
func GetInfo() Info {
	once.Do(func() {
		info = Info{
			Version:    Version,
			GitCommit:  GitCommit,
			BuildDate:  BuildDate,
			InstanceID: uuid.NewString(),
			Hostname:   hostname(),
		}
	})
	return info
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

// String formats version info for CLI display.
func (i Info) String() string {
	return fmt.Sprintf("authify %s (commit: %s, built: %s)", i.Version, i.GitCommit, i.BuildDate)
}

// UserAgent is sent on outbound HTTP calls to mail providers.
func (i Info) UserAgent() string {
	return "authify/" + i.Version
}
