// Package buildinfo carries version metadata stamped at link time.
package buildinfo

// Version is overridden with -ldflags "-X apsta/internal/buildinfo.Version=...".
var Version = "dev"
