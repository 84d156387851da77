//go:build prod

package build

// Deployment specifies a production build.
const Deployment = Production

// LogLevel is unused in production builds, subsystem loggers are always
// generated from the main backend.
const LogLevel = "off"
