package disasm

import "testing"

func TestParseObjdumpAsm(t *testing.T) {
	sample := `
/tmp/x.bin:     file format binary


Disassembly of section .data:

00000000 <.data>:
   0:	55                   	push   %rbp
   1:	48 89 e5             	mov    %rsp,%rbp
   4:	ff 25 00 00 00 00    	jmp    *0x0(%rip)
`
	instrs := parseObjdumpAsm(sample)
	if len(instrs) != 3 {
		t.Fatalf("got %d instructions, want 3: %+v", len(instrs), instrs)
	}
	if instrs[0].Address != 0 || instrs[0].Mnemonic != "push" || len(instrs[0].Raw) != 1 {
		t.Fatalf("instr0 = %+v", instrs[0])
	}
	if instrs[1].Address != 1 || instrs[1].Mnemonic != "mov" || len(instrs[1].Raw) != 3 {
		t.Fatalf("instr1 = %+v", instrs[1])
	}
	if instrs[2].Mnemonic != "jmp" || !instrs[2].IsBranching() {
		t.Fatalf("instr2 = %+v, want IsBranching", instrs[2])
	}
}

func TestIsBranchingRejectsLoopAndCall(t *testing.T) {
	cases := []struct {
		ins  Instruction
		want bool
	}{
		{Instruction{Mnemonic: "jmp"}, true},
		{Instruction{Mnemonic: "je"}, true},
		{Instruction{Mnemonic: "call"}, true},
		{Instruction{Mnemonic: "loope"}, true},
		{Instruction{Mnemonic: "mov", Operand: "0x10(%rip),%rax"}, true},
		{Instruction{Mnemonic: "mov", Operand: "%rsp,%rbp"}, false},
		{Instruction{Mnemonic: "push", Operand: "%rbp"}, false},
	}
	for _, c := range cases {
		if got := c.ins.IsBranching(); got != c.want {
			t.Errorf("IsBranching(%+v) = %v, want %v", c.ins, got, c.want)
		}
	}
}

func TestParseHexByte(t *testing.T) {
	b, err := parseHexByte("ff")
	if err != nil || b != 0xff {
		t.Fatalf("parseHexByte(ff) = %v, %v", b, err)
	}
	if _, err := parseHexByte("push"); err == nil {
		t.Fatal("expected error for non-hex token")
	}
}
