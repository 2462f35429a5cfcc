// Package util collects small cross-cutting helpers shared by cfg,
// logger, and the command tree: path resolution, value stringification,
// MiB/byte conversion, and context isolation.
package util

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// OVFSParentProcessDir names the environment variable that, when set,
// overrides the working directory used to resolve relative paths.
// Nothing in this module sets it; it is read from the environment the
// process was started with.
const OVFSParentProcessDir = "OVFS_PARENT_PROCESS_DIR"

// GetResolvedPath turns path into an absolute path: "~/" is expanded
// against the user's home directory, everything else is made absolute
// relative to OVFSParentProcessDir if set, else the process's current
// working directory. An empty path resolves to "".
func GetResolvedPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	}

	if filepath.IsAbs(path) {
		return path, nil
	}

	base := os.Getenv(OVFSParentProcessDir)
	if base == "" {
		var err error
		base, err = os.Getwd()
		if err != nil {
			return "", err
		}
	}
	return filepath.Join(base, path), nil
}

// Stringify marshals v to JSON for diagnostic logging. On a marshal
// failure it returns "" together with the marshal error.
func Stringify(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// MiBsToBytes converts a count of mebibytes to bytes.
func MiBsToBytes(mib uint64) uint64 {
	return mib << 20
}

// BytesToHigherMiBs converts a byte count to the smallest mebibyte
// count that covers it, rounding up.
func BytesToHigherMiBs(bytes uint64) uint64 {
	mib := bytes >> 20
	if bytes&((1<<20)-1) != 0 {
		mib++
	}
	return mib
}

// IsolateContextFromParentContext returns a context that carries no
// values or cancellation from parent beyond its initial values,
// allowing a long-lived backend call to outlive a caller that is
// cancelled (e.g. a request that the dispatcher abandoned after timeout
// but whose backend write must still complete to keep the writer
// cursor invariant intact).
func IsolateContextFromParentContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithCancel(context.WithoutCancel(parent))
}
