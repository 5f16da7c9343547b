package hook

import (
	"errors"
	"testing"

	"github.com/xyproto/lcitk/internal/disasm"
	"github.com/xyproto/lcitk/internal/lcitkerr"
	"github.com/xyproto/lcitk/internal/plt"
)

// nop5 is a five-byte straight-line instruction whose operand text does
// not mention %rip, used to build synthetic prologues without needing a
// real objdump run.
func nop5(addr uint64) disasm.Instruction {
	return disasm.Instruction{Address: addr, Raw: []byte{0x0f, 0x1f, 0x44, 0x00, 0x00}, Mnemonic: "nopl", Operand: "0x0(%rax,%rax,1)"}
}

func pushRbp(addr uint64) disasm.Instruction {
	return disasm.Instruction{Address: addr, Raw: []byte{0x55}, Mnemonic: "push", Operand: "%rbp"}
}

func movRspRbp(addr uint64) disasm.Instruction {
	return disasm.Instruction{Address: addr, Raw: []byte{0x48, 0x89, 0xe5}, Mnemonic: "mov", Operand: "%rsp,%rbp"}
}

func shortBackwardJump(addr uint64) disasm.Instruction {
	return disasm.Instruction{Address: addr, Raw: []byte{0xeb, 0xfe}, Mnemonic: "jmp", Operand: "0x0"}
}

func ripRelativeLoad(addr uint64) disasm.Instruction {
	return disasm.Instruction{Address: addr, Raw: []byte{0x48, 0x8b, 0x05, 0x00, 0x00, 0x00, 0x00}, Mnemonic: "mov", Operand: "0x0(%rip),%rax"}
}

func TestRelocatePrologueStraightLineSucceeds(t *testing.T) {
	instrs := []disasm.Instruction{pushRbp(0x1000), movRspRbp(0x1001), nop5(0x1004), nop5(0x1009), nop5(0x100e)}
	buf, copied, err := relocatePrologue(instrs, 64)
	if err != nil {
		t.Fatalf("relocatePrologue: %v", err)
	}
	if copied < plt.StubSize {
		t.Fatalf("copied = %d, want at least %d", copied, plt.StubSize)
	}
	if len(buf) != copied {
		t.Fatalf("len(buf) = %d, want %d", len(buf), copied)
	}
	// The first four bytes of the relocated buffer should match the
	// original push/mov encoding verbatim, since neither is rewritten.
	want := []byte{0x55, 0x48, 0x89, 0xe5}
	for i, b := range want {
		if buf[i] != b {
			t.Fatalf("relocated byte %d = %#x, want %#x", i, buf[i], b)
		}
	}
}

func TestRelocatePrologueRejectsBranch(t *testing.T) {
	instrs := []disasm.Instruction{pushRbp(0x1000), shortBackwardJump(0x1001), nop5(0x1003)}
	_, _, err := relocatePrologue(instrs, 64)
	if !errors.Is(err, lcitkerr.ErrUnrelocatablePrologue) {
		t.Fatalf("err = %v, want ErrUnrelocatablePrologue", err)
	}
}

func TestRelocatePrologueRejectsRipRelative(t *testing.T) {
	instrs := []disasm.Instruction{ripRelativeLoad(0x1000), nop5(0x1007)}
	_, _, err := relocatePrologue(instrs, 64)
	if !errors.Is(err, lcitkerr.ErrUnrelocatablePrologue) {
		t.Fatalf("err = %v, want ErrUnrelocatablePrologue", err)
	}
}

func TestRelocatePrologueTooShort(t *testing.T) {
	instrs := []disasm.Instruction{pushRbp(0x1000)}
	_, _, err := relocatePrologue(instrs, 64)
	if !errors.Is(err, lcitkerr.ErrPrologueTooShort) {
		t.Fatalf("err = %v, want ErrPrologueTooShort", err)
	}
}

func TestRelocatePrologueOverflowsLimit(t *testing.T) {
	instrs := []disasm.Instruction{pushRbp(0x1000), movRspRbp(0x1001), nop5(0x1004)}
	_, _, err := relocatePrologue(instrs, 4)
	if !errors.Is(err, lcitkerr.ErrPrologueTooShort) {
		t.Fatalf("err = %v, want ErrPrologueTooShort", err)
	}
}
