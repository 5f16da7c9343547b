// Package hook implements the trampoline-based inline hook installer
// and its inverse. It operates on the caller's own address space: it
// is meant to run from inside the process being patched (e.g. the
// injected heap profiler of component K, or a replacement function
// loaded via component H), not remotely through component G. Grounded
// on original_source/asm.c's interpose_by_address64, interpose_by_name64
// and uninterpose64.
package hook

import (
	"context"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/xyproto/lcitk/internal/disasm"
	"github.com/xyproto/lcitk/internal/elfimage"
	"github.com/xyproto/lcitk/internal/lcitkerr"
	"github.com/xyproto/lcitk/internal/lcitklog"
	"github.com/xyproto/lcitk/internal/plt"
)

// minPrologueBytes is the minimum number of straight-line prologue
// bytes that must be relocated before the trampoline's own 14-byte
// jump stub is appended (spec.md §4.I steps 2-5).
const minPrologueBytes = plt.StubSize

// Trampoline is the handle returned by InterposeByAddress: an
// executable page holding the relocated prologue plus a trailing
// absolute jump back to the continuation (spec.md §3).
type Trampoline struct {
	Addr   uintptr
	page   []byte
	Target uintptr
	Copied int
}

// InterposeByAddress implements interpose_by_address(replacement,
// target) -> trampoline (spec.md §4.I).
func InterposeByAddress(replacement, target uintptr) (*Trampoline, error) {
	page, err := unix.Mmap(-1, 0, elfimage.PageSize,
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("hook: mmap trampoline page: %w", err)
	}

	prologue := memoryView(target, minPrologueBytes)
	spill := make([]byte, len(prologue))
	copy(spill, prologue)

	instrs, err := disasm.GetInstructionsFromMemory(context.Background(), spill)
	if err != nil {
		unix.Munmap(page)
		return nil, fmt.Errorf("hook: disassemble prologue at %#x: %w", target, err)
	}

	relocated, copied, err := relocatePrologue(instrs, len(page)-plt.StubSize)
	if err != nil {
		unix.Munmap(page)
		return nil, fmt.Errorf("%w (target %#x)", err, target)
	}
	copy(page, relocated)

	stub := plt.EncodeAbsoluteJump(uint64(target) + uint64(copied))
	copy(page[copied:copied+plt.StubSize], stub)

	if err := patchSite(target, replacement); err != nil {
		unix.Munmap(page)
		return nil, err
	}

	t := &Trampoline{
		Addr:   uintptr(unsafe.Pointer(&page[0])),
		page:   page,
		Target: target,
		Copied: copied,
	}
	lcitklog.Printf("hook: installed trampoline at %#x for target %#x (copied %d bytes)\n", t.Addr, target, copied)
	return t, nil
}

// relocatePrologue classifies and copies the leading straight-line
// instructions of instrs into a buffer no larger than limit bytes,
// stopping once at least minPrologueBytes have been copied. It rejects
// any branching, call, loop, or %rip-relative instruction encountered
// before that point, since relocating such an instruction to a
// different address would change its meaning (spec.md §4.I step 3).
// Kept separate from InterposeByAddress so it can be exercised against
// synthetic instruction streams without mapping or executing real
// memory.
func relocatePrologue(instrs []disasm.Instruction, limit int) ([]byte, int, error) {
	buf := make([]byte, limit)
	copied := 0
	for _, ins := range instrs {
		if ins.IsBranching() {
			return nil, 0, fmt.Errorf("hook: instruction %q at offset %d: %w", ins.Mnemonic, copied, lcitkerr.ErrUnrelocatablePrologue)
		}
		if copied+len(ins.Raw) > limit {
			return nil, 0, fmt.Errorf("hook: relocated prologue would overflow trampoline page: %w", lcitkerr.ErrPrologueTooShort)
		}
		copy(buf[copied:], ins.Raw)
		copied += len(ins.Raw)
		if copied >= minPrologueBytes {
			break
		}
	}
	if copied < minPrologueBytes {
		return nil, 0, fmt.Errorf("hook: only %d bytes of straight-line prologue found: %w", copied, lcitkerr.ErrPrologueTooShort)
	}
	return buf[:copied], copied, nil
}

// patchSite marks the two pages covering target's first byte
// read-write-execute, writes the 14-byte absolute jump to replacement,
// then restores read-execute (spec.md §4.I steps 7-9).
func patchSite(target, replacement uintptr) error {
	pageStart := target &^ uintptr(elfimage.PageSize-1)
	span := memoryView(pageStart, 2*elfimage.PageSize)

	if err := unix.Mprotect(span, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("hook: mprotect rwx at %#x: %w", pageStart, err)
	}

	stub := plt.EncodeAbsoluteJump(uint64(replacement))
	copy(memoryView(target, plt.StubSize), stub)

	if err := unix.Mprotect(span, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("hook: mprotect rx at %#x: %w", pageStart, err)
	}
	return nil
}

// Uninterpose implements uninterpose(trampoline) (spec.md §4.I): it
// locates the tail jump by scanning forward from trampoline+14 for
// the six-byte indirect-jump opcode, recovers target from the
// adjacent pointer field, restores the original prefix bytes, and
// unmaps the trampoline page.
func Uninterpose(t *Trampoline) error {
	offset := -1
	for i := minPrologueBytes; i+plt.StubSize <= len(t.page); i++ {
		if plt.IsAbsoluteJumpOpcode(t.page[i : i+6]) {
			offset = i
			break
		}
	}
	if offset < 0 {
		return fmt.Errorf("hook: tail jump not found in trampoline at %#x: %w", t.Addr, lcitkerr.ErrNotFound)
	}
	targetPlusCopied := plt.DecodeAbsoluteJumpTarget(t.page[offset : offset+plt.StubSize])
	target := uintptr(targetPlusCopied) - uintptr(offset)
	if target != t.Target {
		lcitklog.Printf("hook: recovered target %#x does not match recorded target %#x, using recorded value\n", target, t.Target)
		target = t.Target
	}

	pageStart := target &^ uintptr(elfimage.PageSize-1)
	span := memoryView(pageStart, 2*elfimage.PageSize)
	if err := unix.Mprotect(span, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("hook: mprotect rwx at %#x: %w", pageStart, err)
	}
	copy(memoryView(target, offset), t.page[:offset])
	if err := unix.Mprotect(span, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("hook: mprotect rx at %#x: %w", pageStart, err)
	}

	return unix.Munmap(t.page)
}

// memoryView returns a []byte aliasing n bytes of this process's own
// memory starting at addr. This package only ever hooks the caller's
// own address space (see package doc); remote patching goes through
// component F instead.
func memoryView(addr uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}
