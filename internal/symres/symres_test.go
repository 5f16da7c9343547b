package symres

import "testing"

func TestParseHexAddr(t *testing.T) {
	v, err := parseHexAddr("4013a0")
	if err != nil {
		t.Fatalf("parseHexAddr: %v", err)
	}
	if v != 0x4013a0 {
		t.Fatalf("got %#x, want %#x", v, 0x4013a0)
	}
}

func TestSymbolOffsetViaObjdumpNoSuchName(t *testing.T) {
	// /bin/ls is present on essentially every Linux system this
	// toolkit targets; a symbol name that cannot plausibly exist
	// exercises the not-found path without requiring a crafted binary.
	if _, err := symbolOffsetViaObjdump("/bin/ls", "definitely_not_a_real_symbol_____"); err == nil {
		t.Skip("symbol unexpectedly resolved; skipping")
	}
}
