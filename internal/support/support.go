// Package support models the opaque Support Structure a process may
// register so the nucleus's pass-up-or-die path has somewhere to escalate
// unhandled exceptions. The Level-4 handler that actually consumes it is
// explicitly out of scope; this package exists only so pass-up-or-die has
// a concrete, testable target.
package support

import "nucleus/internal/bios"

// Exception-class indices into ExceptState/ExceptContext.
const (
	PageFaultExcept = 0
	GeneralExcept   = 1
	exceptClasses   = 2
)

// Struct is the per-process Support Structure. ASID identifies the
// process's address space for the (out-of-scope) virtual memory handler;
// the nucleus itself never reads it.
type Struct struct {
	ASID          int32
	ExceptState   [exceptClasses]bios.State
	ExceptContext [exceptClasses]bios.Context
}

// New returns a zeroed Support Structure for the given address space id.
func New(asid int32) *Struct {
	return &Struct{ASID: asid}
}
