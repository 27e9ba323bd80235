package version

// these values are set via ldflags during build
var (
	Version     = "dev"
	GitCommit   = "unknown"
	BuildDate   = "unknown"
	FullVersion = Version + " (" + GitCommit + ") " + BuildDate
)
