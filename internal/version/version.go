// Package version holds the build version, overridden at link time.
package version

// Version is the current application version.
var Version = "dev"
