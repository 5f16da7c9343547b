package inject

import "testing"

func TestHandleRoundTrip(t *testing.T) {
	h := Handle(0x7f1234560000)
	if uint64(h) != 0x7f1234560000 {
		t.Fatalf("Handle round trip failed: %#x", uint64(h))
	}
}
