package build

// DeploymentType is the kind of binary selected by the dev build tag.
type DeploymentType byte

const (
	// Development binaries verify the peer manager state after every
	// change, whatever the config asks for.
	Development DeploymentType = iota

	// Production binaries only verify the state when the config enables
	// debug checks.
	Production
)

// String returns a human readable name for a build type.
func (b DeploymentType) String() string {
	switch b {
	case Development:
		return "development"
	case Production:
		return "production"
	default:
		return "unknown"
	}
}

// ForcesDebugChecks returns true if binaries of this deployment always run
// the peer manager consistency checks.
func (b DeploymentType) ForcesDebugChecks() bool {
	return b == Development
}

// DebugChecks returns whether the peer manager of this binary verifies its
// state after every change, given what the user requested.
func DebugChecks(requested bool) bool {
	return requested || Deployment.ForcesDebugChecks()
}
