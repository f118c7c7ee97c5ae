// Package bodies provides the test bodies that can be declared in a manifest: running a command,
// checking an HTTP endpoint, pinging a redis resource, and running a sequence of steps.
//
// Every body receives the test's provisioned environment. String fields are expanded against the
// environment's variables before use, so "${API_URL}/health" resolves to the address of the
// resource named "api".
package bodies
