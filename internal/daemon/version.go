package daemon

// version is set by the linker via -ldflags "-X ...=...". It is recorded
// in DaemonState.
var version = "dev"

// Version returns the daemon's build version string.
func Version() (v string) { return version }
