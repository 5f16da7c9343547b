package plt

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	target := uint64(0x0000555555559ab0)
	stub := EncodeAbsoluteJump(target)
	if len(stub) != StubSize {
		t.Fatalf("stub length = %d, want %d", len(stub), StubSize)
	}
	if !IsAbsoluteJumpOpcode(stub) {
		t.Fatal("expected encoded stub to be recognized as an absolute jump")
	}
	if got := DecodeAbsoluteJumpTarget(stub); got != target {
		t.Fatalf("DecodeAbsoluteJumpTarget = %#x, want %#x", got, target)
	}
}

func TestIsAbsoluteJumpOpcodeRejectsOtherBytes(t *testing.T) {
	if IsAbsoluteJumpOpcode([]byte{0x55, 0x48, 0x89, 0xe5}) {
		t.Fatal("push/mov prologue should not be recognized as the jump opcode")
	}
	if IsAbsoluteJumpOpcode([]byte{0xff, 0x25}) {
		t.Fatal("short buffer should not be recognized")
	}
}

func TestEncodeAbsoluteJumpExactBytes(t *testing.T) {
	stub := EncodeAbsoluteJump(0)
	want := []byte{0xff, 0x25, 0x00, 0x00, 0x00, 0x00, 0, 0, 0, 0, 0, 0, 0, 0}
	for i, b := range want {
		if stub[i] != b {
			t.Fatalf("byte %d = %#x, want %#x", i, stub[i], b)
		}
	}
}
