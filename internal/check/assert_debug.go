//go:build debug

package check

import "fmt"

// Assert panics if cond is false. Only active in debug builds.
func Assert(cond bool, msg string) {
	if !cond {
		panic("assertion failed: " + msg)
	}
}

// Assertf panics if cond is false with a formatted message. Only active in debug builds.
func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic("assertion failed: " + fmt.Sprintf(format, args...))
	}
}

// Unreachablef marks a branch that a closed set of cases should never reach,
// such as the default arm of an exhaustive type switch.
func Unreachablef(format string, args ...any) {
	panic("unreachable: " + fmt.Sprintf(format, args...))
}
