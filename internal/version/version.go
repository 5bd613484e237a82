package version

// Version information set via ldflags during build
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// FullVersion returns a formatted version string
func FullVersion() string {
	if Version == "dev" {
		return "rttdist development build"
	}
	return "rttdist " + Version + " (commit: " + GitCommit + ", built: " + BuildDate + ")"
}

// UserAgent is sent with every geolocation request.
func UserAgent() string {
	return "rttdist/" + Version
}
