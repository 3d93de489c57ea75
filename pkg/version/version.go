// Package version carries the release version string of the relay.
package version

// V is the version of this build.
var V = "v0.3.1"
