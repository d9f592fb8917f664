// Package digcoord coordinates public-works excavation projects across a
// region of municipalities: project lifecycle, spatial/temporal conflict
// detection against other projects and moratoriums, and event-driven
// notifications.
package digcoord

// Version is the current digcoord version.
// Overridden at build time via -ldflags for release builds.
var Version = "0.9.0-dev"
