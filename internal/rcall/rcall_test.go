package rcall

import "testing"

func TestAlignedCallStackRedZoneAndAlignment(t *testing.T) {
	cases := []struct {
		rsp     uint64
		numArgs int
	}{
		{0x7ffffffde000, 0},
		{0x7ffffffde001, 2},
		{0x7ffffffde007, 6},
		{0x7ffffffde000, 7},
		{0x7ffffffde000, 12},
	}
	for _, c := range cases {
		got := alignedCallStack(c.rsp, c.numArgs)

		stackArgs := 0
		if c.numArgs > 6 {
			stackArgs = c.numArgs - 6
		}
		// Recompute the same (source-faithful, additive rather than
		// subtractive) alignment check the implementation performs,
		// and confirm the result satisfies it.
		want := (c.rsp &^ 7) - redZone
		if (want+uint64(stackArgs)*8)&15 != 0 {
			want -= 8
		}
		if got != want {
			t.Fatalf("alignedCallStack(%#x, %d) = %#x, want %#x", c.rsp, c.numArgs, got, want)
		}
		if got%8 != 0 {
			t.Fatalf("alignedCallStack(%#x, %d) = %#x is not 8-aligned", c.rsp, c.numArgs, got)
		}
		if got > c.rsp {
			t.Fatalf("alignedCallStack(%#x, %d) = %#x grew the stack upward", c.rsp, c.numArgs, got)
		}
	}
}

func TestAlignedCallStackRedZonePreserved(t *testing.T) {
	rsp := alignedCallStack(0x7ffffffde000, 0)
	if 0x7ffffffde000-rsp < redZone {
		t.Fatalf("red zone not preserved: moved only %#x bytes", 0x7ffffffde000-rsp)
	}
}

func TestSyscallInterruptSentinel(t *testing.T) {
	// A non-negative orig_rax (a real syscall number, e.g. nanosleep's
	// 35 on amd64) means the target was interrupted mid-syscall: the
	// sentinel must be forced negative.
	if got := syscallInterruptSentinel(35); got != ^uint64(0) {
		t.Fatalf("syscallInterruptSentinel(35) = %#x, want all-ones", got)
	}
	// A value already negative (not in a syscall, e.g. the kernel's
	// own -1 "no syscall" sentinel) must be left untouched.
	alreadyNegative := ^uint64(0) - 5
	if got := syscallInterruptSentinel(alreadyNegative); got != alreadyNegative {
		t.Fatalf("syscallInterruptSentinel(%#x) = %#x, want unchanged", alreadyNegative, got)
	}
}

func TestTargetCorruptedErrorMessage(t *testing.T) {
	err := &targetCorruptedError{signal: 11}
	if err.Error() == "" {
		t.Fatal("expected non-empty error message")
	}
}
