// Package debug provides cheap, run-time-toggleable invariant checks, mirroring the
// teacher's cmn/debug package. Assertions panic rather than return errors: they guard
// conditions that indicate a bug in this module, not a runtime/config error a caller can act on.
package debug

import "fmt"

// Enabled gates all assertions in this package. The teacher's build flips this off in release
// builds; aisync keeps it on by default since the core has no hot loop sensitive to the check.
var Enabled = true

func Assert(cond bool, args ...any) {
	if !Enabled || cond {
		return
	}
	panic(fmt.Sprint(append([]any{"assertion failed: "}, args...)...))
}

func Assertf(cond bool, format string, args ...any) {
	if !Enabled || cond {
		return
	}
	panic(fmt.Sprintf("assertion failed: "+format, args...))
}

func AssertNoErr(err error) {
	if !Enabled || err == nil {
		return
	}
	panic(fmt.Sprintf("assertion failed: unexpected error: %v", err))
}
