package version

import (
	"fmt"
	"runtime"
)

// Set at build time via -ldflags "-X mixsearch/internal/version.Version=...".
var (
	Version = "0.1.0"
	Commit  = "dev"
)

func String() string {
	return fmt.Sprintf("mixsearch %s (%s) %s/%s", Version, Commit, runtime.GOOS, runtime.GOARCH)
}
