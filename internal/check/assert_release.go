//go:build !debug

// Package check holds invariant assertions that only fire in debug builds
// (go test -tags debug). Release builds compile them to no-ops.
package check

// Assert is a no-op in release builds.
func Assert(_ bool, _ string) {}

// Assertf is a no-op in release builds.
func Assertf(_ bool, _ string, _ ...any) {}

// Enabled reports whether assertions panic in this build.
const Enabled = false
