//go:build !prod

package build

// Deployment specifies a development build.
const Deployment = Development

// LogLevel is the level the stdout logger of unit tests writes at.
const LogLevel = "info"
