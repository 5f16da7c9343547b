// Package rcall implements the synchronous remote function call engine:
// attach, snapshot registers and prologue bytes, plant a breakpoint,
// marshal arguments into the System V AMD64 ABI, continue, wait for
// the trap, recover rax, restore everything, detach. Grounded on
// original_source/process.c's call_function_in_target64 and
// call_function_in_target_with_args64.
package rcall

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/xyproto/lcitk/internal/lcitkerr"
	"github.com/xyproto/lcitk/internal/lcitklog"
	"github.com/xyproto/lcitk/internal/rmem"
)

// TrapLen is the length of the planted breakpoint instruction (int3,
// 0xCC), one byte. spec.md §9 warns this must never be assumed equal
// to the prologue length saved by component I; they are different
// lengths for different purposes.
const TrapLen = 1

const trapByte = 0xCC

// redZone is the 128-byte scratch region below rsp the AMD64 ABI
// reserves for the current frame.
const redZone = 128

// Failed is the all-ones 64-bit sentinel spec.md §4.G returns on
// attach failure or other unrecoverable ptrace error.
const Failed = ^uint64(0)

// Call implements call_function_in_target(pid, func, args) -> u64.
//
// Pre: pid is not already being traced by anyone else; the call is
// single-shot and synchronous in the controller (spec.md §4.G).
func Call(pid int, function uint64, args []uint64) (result uint64, err error) {
	if err := unix.PtraceAttach(pid); err != nil {
		return Failed, fmt.Errorf("rcall: %w: attach pid %d: %v", lcitkerr.ErrTraceAttach, pid, err)
	}

	var ws unix.WaitStatus
	if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
		return Failed, fmt.Errorf("rcall: %w: wait4 pid %d: %v", lcitkerr.ErrTraceAttach, pid, err)
	}

	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(pid, &regs); err != nil {
		detach(pid)
		return Failed, fmt.Errorf("rcall: %w: GETREGS pid %d: %v", lcitkerr.ErrRemoteIO, pid, err)
	}

	backup, err := rmem.Read(pid, regs.Rip, TrapLen)
	if err != nil {
		detach(pid)
		return Failed, fmt.Errorf("rcall: save prologue at %#x: %w", regs.Rip, err)
	}

	if err := rmem.Write(pid, regs.Rip, []byte{trapByte}); err != nil {
		detach(pid)
		return Failed, fmt.Errorf("rcall: plant breakpoint at %#x: %w", regs.Rip, err)
	}

	callRegs := regs
	if err := marshalArgs(pid, &callRegs, function, regs.Rip, args); err != nil {
		restoreAndDetach(pid, regs, backup)
		return Failed, err
	}

	if err := unix.PtraceSetRegs(pid, &callRegs); err != nil {
		restoreAndDetach(pid, regs, backup)
		return Failed, fmt.Errorf("rcall: %w: SETREGS pid %d: %v", lcitkerr.ErrRemoteIO, pid, err)
	}
	if err := unix.PtraceCont(pid, 0); err != nil {
		restoreAndDetach(pid, regs, backup)
		return Failed, fmt.Errorf("rcall: %w: CONT pid %d: %v", lcitkerr.ErrRemoteIO, pid, err)
	}

	if err := waitForBreakpoint(pid); err != nil {
		if terr, ok := err.(*targetCorruptedError); ok {
			// spec.md §4.G step 7 / §7: fatal for the controller. Do
			// not attempt to restore state; the remote is
			// unrecoverable and the caller is expected to terminate.
			unix.PtraceDetach(pid)
			return Failed, fmt.Errorf("rcall: %w: %v", lcitkerr.ErrTargetCorrupted, terr)
		}
		restoreAndDetach(pid, regs, backup)
		return Failed, err
	}

	var resultRegs unix.PtraceRegs
	if err := unix.PtraceGetRegs(pid, &resultRegs); err != nil {
		restoreAndDetach(pid, regs, backup)
		return Failed, fmt.Errorf("rcall: %w: GETREGS (result) pid %d: %v", lcitkerr.ErrRemoteIO, pid, err)
	}
	result = resultRegs.Rax

	restoreAndDetach(pid, regs, backup)
	return result, nil
}

// marshalArgs builds call_regs from the snapshot, implementing
// spec.md §4.G step 5 exactly, including the open-question-preserved
// orig_rax sentinel handling (spec.md §9).
func marshalArgs(pid int, callRegs *unix.PtraceRegs, function, returnAddr uint64, args []uint64) error {
	callRegs.Rsp = alignedCallStack(callRegs.Rsp, len(args))

	// Assign register arguments and push stack arguments, iterating in
	// reverse of argument index so stack arguments land at increasing
	// addresses in increasing-index order (spec.md §4.G step 5).
	for i := len(args) - 1; i >= 0; i-- {
		cur := args[i]
		switch i {
		case 0:
			callRegs.Rdi = cur
		case 1:
			callRegs.Rsi = cur
		case 2:
			callRegs.Rdx = cur
		case 3:
			callRegs.Rcx = cur
		case 4:
			callRegs.R8 = cur
		case 5:
			callRegs.R9 = cur
		default:
			callRegs.Rsp -= 8
			if err := rmem.WriteUint64(pid, callRegs.Rsp, cur); err != nil {
				return fmt.Errorf("rcall: push stack arg %d: %w", i, err)
			}
		}
	}

	// AL = 0 variadic float-argument count.
	callRegs.Rax = 0

	// Push the original instruction pointer as the return address.
	callRegs.Rsp -= 8
	if err := rmem.WriteUint64(pid, callRegs.Rsp, returnAddr); err != nil {
		return fmt.Errorf("rcall: push return address: %w", err)
	}

	callRegs.Rip = function

	callRegs.Orig_rax = syscallInterruptSentinel(callRegs.Orig_rax)
	return nil
}

// syscallInterruptSentinel preserves the observed (architecture-
// fragile) sentinel from spec.md §9's Open Question: when the
// snapshot shows orig_rax >= 0, the target was interrupted
// mid-syscall, and the value is forced negative so the kernel does
// not replay the syscall once the original registers are restored.
func syscallInterruptSentinel(origRax uint64) uint64 {
	if int64(origRax) >= 0 {
		return ^uint64(0)
	}
	return origRax
}

// alignedCallStack implements spec.md §4.G step 5's stack preparation
// in isolation: align down to 8, subtract the red zone, then
// conditionally shift down by 8 so the stack is 16-aligned once numArgs'
// worth of stack arguments (and, via the step-5 accounting, the
// return address pushed later) would have been pushed.
func alignedCallStack(rsp uint64, numArgs int) uint64 {
	rsp &^= 7
	rsp -= redZone

	stackArgs := 0
	if numArgs > 6 {
		stackArgs = numArgs - 6
	}
	if (rsp+uint64(stackArgs)*8)&15 != 0 {
		rsp -= 8
	}
	return rsp
}

type targetCorruptedError struct {
	signal unix.Signal
}

func (e *targetCorruptedError) Error() string {
	return fmt.Sprintf("target raised signal %d during remote call", e.signal)
}

// waitForBreakpoint implements spec.md §4.G step 7: loop on stop
// signals, break on SIGTRAP, report+abort on SIGSEGV/SIGILL/SIGFPE,
// forward (continue) any other stop signal.
func waitForBreakpoint(pid int) error {
	for {
		var ws unix.WaitStatus
		if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
			return fmt.Errorf("rcall: %w: wait4 pid %d: %v", lcitkerr.ErrRemoteIO, pid, err)
		}
		if !ws.Stopped() {
			continue
		}
		sig := ws.StopSignal()
		switch sig {
		case unix.SIGTRAP:
			return nil
		case unix.SIGSEGV, unix.SIGILL, unix.SIGFPE:
			lcitklog.Errorf("rcall: signal %d in attempted injection function call\n", sig)
			return &targetCorruptedError{signal: sig}
		default:
			if err := unix.PtraceCont(pid, 0); err != nil {
				return fmt.Errorf("rcall: %w: CONT (forward signal) pid %d: %v", lcitkerr.ErrRemoteIO, pid, err)
			}
		}
	}
}

func restoreAndDetach(pid int, orig unix.PtraceRegs, backup []byte) {
	if err := rmem.Write(pid, orig.Rip, backup); err != nil {
		lcitklog.Errorf("rcall: failed to restore prologue at %#x: %v\n", orig.Rip, err)
	}
	if err := unix.PtraceSetRegs(pid, &orig); err != nil {
		lcitklog.Errorf("rcall: failed to restore registers: %v\n", err)
	}
	detach(pid)
}

func detach(pid int) {
	if err := unix.PtraceDetach(pid); err != nil {
		lcitklog.Errorf("rcall: detach pid %d failed: %v\n", pid, err)
	}
}
