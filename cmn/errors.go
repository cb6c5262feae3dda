package cmn

import "github.com/pkg/errors"

// The five fatal error kinds from spec §7. Each is a sentinel a caller can match with
// errors.Is/errors.Cause; call sites wrap one of these with context via pkg/errors.
var (
	// ErrResourceExhaustion: device allocation failure. Fatal: aborts Coordinator.
	ErrResourceExhaustion = errors.New("resource exhaustion")

	// ErrDeviceMisconfig: missing device (fatal) — peer-access probe failure is handled
	// locally and never surfaces as this error (see collective/p2p.go).
	ErrDeviceMisconfig = errors.New("device misconfiguration")

	// ErrConfigMismatch: batch size not divisible by N, parameter count mismatch, or any
	// other shape/config inconsistency detected at setup time.
	ErrConfigMismatch = errors.New("configuration mismatch")

	// ErrCollective: vendor library error, or in-house ring detected an invalid offset
	// transition.
	ErrCollective = errors.New("collective failure")

	// ErrEnvironment: invoked on a build/host without the required device support.
	ErrEnvironment = errors.New("unsupported environment")
)
