package app

// Version and BuildCommit are set at link time with -ldflags -X.
var (
	Version     = "dev"
	BuildCommit = "unknown"
)
