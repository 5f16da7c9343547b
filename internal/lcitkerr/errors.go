// Package lcitkerr defines the error-kind sentinels from the toolkit's
// error handling design: components wrap one of these with fmt.Errorf's
// %w verb so callers can classify a failure with errors.Is.
package lcitkerr

import "errors"

var (
	// ErrNotFound: image/symbol/process not locatable.
	ErrNotFound = errors.New("lcitk: not found")

	// ErrRemoteIO: memory-file or peek/poke failure.
	ErrRemoteIO = errors.New("lcitk: remote i/o failure")

	// ErrTraceAttach: inability to attach to the target.
	ErrTraceAttach = errors.New("lcitk: trace attach failed")

	// ErrUnrelocatablePrologue: the first bytes of a target contain
	// PC-relative, branching, or looping instructions.
	ErrUnrelocatablePrologue = errors.New("lcitk: unrelocatable prologue")

	// ErrPrologueTooShort: fewer than the minimum straight-line bytes
	// could be found in the disassembled instructions, or relocating
	// them would not fit in the trampoline.
	ErrPrologueTooShort = errors.New("lcitk: prologue too short")

	// ErrTargetCorrupted: a remote call raised a fault the controller
	// cannot recover from. Fatal: callers should terminate rather than
	// continue driving the target.
	ErrTargetCorrupted = errors.New("lcitk: target corrupted")

	// ErrToolFailure: the external disassembler produced no parseable
	// output.
	ErrToolFailure = errors.New("lcitk: tool produced no output")
)
