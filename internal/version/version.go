package version

import (
	"fmt"
	"runtime"
)

// Set via -ldflags at build time:
//
//	go build -ldflags "-X github.com/aspect-build/apgate/internal/version.Version=0.1.0
//	  -X github.com/aspect-build/apgate/internal/version.GitCommit=abc1234
//	  -X github.com/aspect-build/apgate/internal/version.Board=ap"
var (
	Version   = "dev"
	GitCommit = "unknown"
	// Board names the hardware target the image was built for.
	Board = "host"
)

// String returns a human-readable version string.
func String(binaryName string) string {
	return fmt.Sprintf("%s %s (commit=%s, board=%s, go=%s, %s/%s)",
		binaryName, Version, GitCommit, Board, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
