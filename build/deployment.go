package build

// DeploymentType selects between development and production builds with the
// "prod" build tag.
type DeploymentType byte

const (
	// Development builds honor LoggingType, so unit tests can log to
	// stdout with the stdlog tag.
	Development DeploymentType = iota

	// Production builds only log through a configured SubLoggerManager.
	Production
)
