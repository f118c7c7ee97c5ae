// Package exitcodes defines the standard exit codes used by op-harness.
package exitcodes

// Exit code constants used by op-harness
// These constants define the exit codes that the application uses to indicate
// various states when it exits:
//
// * Success (0): Used when every selected test passed or was skipped
// * TestFailure (1): Used when one or more tests failed or timed out
// * RuntimeErr (2): Used for runtime errors such as invalid configuration or manifests
// * EnvironmentErr (3): Used when a test environment could not be provisioned
const (
	Success        = 0 // All tests pass
	TestFailure    = 1 // Test failures
	RuntimeErr     = 2 // Runtime or configuration errors
	EnvironmentErr = 3 // Environment provisioning errors
)
