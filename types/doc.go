// Package types contains the shared data model of the harness: test cases, environment
// descriptors, attempt outcomes and run reports.
package types
