// Package plt encodes and recognizes the absolute indirect jump stub
// used throughout this toolkit to redirect execution: "FF 25 00 00 00
// 00" (jmp *(%rip)) followed immediately by the 64-bit little-endian
// target address, the same "jump through an adjacent pointer field"
// idiom xyproto-vibe67/pltgot_x64.go uses to encode its PLT[n] "jmpq
// *GOT[n]" stubs, adapted here from a table-relative jump (relative
// to a GOT/PLT base the assembler is laying out) to a fixed absolute
// jump (there is no GOT/PLT table in this domain; the pointer field is
// simply the next eight bytes of whatever buffer holds the stub).
package plt

import "encoding/binary"

// StubSize is the length in bytes of an absolute indirect jump stub:
// six opcode bytes plus an eight-byte pointer field (spec.md §3,
// Trampoline; spec.md §4.I step 6).
const StubSize = 14

var opcode = [6]byte{0xff, 0x25, 0x00, 0x00, 0x00, 0x00}

// EncodeAbsoluteJump returns the 14-byte stub that jumps to target
// when executed, written to explicit non-overlapping byte ranges
// (spec.md §9 Open Question: the reference implementation writes the
// pointer field before the opcode and relies on both being complete
// before either is read; this implementation keeps the two fields
// disjoint in a single buffer instead).
func EncodeAbsoluteJump(target uint64) []byte {
	buf := make([]byte, StubSize)
	copy(buf[:6], opcode[:])
	binary.LittleEndian.PutUint64(buf[6:], target)
	return buf
}

// IsAbsoluteJumpOpcode reports whether buf begins with the six-byte
// "FF 25 00 00 00 00" opcode this package emits, used by the
// uninterpose tail-jump scan (spec.md §4.I) to locate the trampoline's
// trailing jump.
func IsAbsoluteJumpOpcode(buf []byte) bool {
	if len(buf) < 6 {
		return false
	}
	for i, b := range opcode {
		if buf[i] != b {
			return false
		}
	}
	return true
}

// DecodeAbsoluteJumpTarget reads the 64-bit pointer field of a stub
// previously produced by EncodeAbsoluteJump (or located via
// IsAbsoluteJumpOpcode). It panics if buf is shorter than StubSize,
// matching the precondition callers already enforce by scanning for
// IsAbsoluteJumpOpcode first.
func DecodeAbsoluteJumpTarget(buf []byte) uint64 {
	return binary.LittleEndian.Uint64(buf[6:StubSize])
}
