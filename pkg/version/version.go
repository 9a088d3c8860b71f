package version

import "runtime"

// Build holds the build identifier, injected via -ldflags. Default "dev".
var Build = "dev"

// String is the version line printed by the CLI.
func String() string {
	return "meshnode " + Build + " (" + runtime.Version() + ")"
}
