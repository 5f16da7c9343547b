package btfilter

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/xyproto/lcitk/internal/symcache"
)

func TestFilterPassesNonBacktraceLinesUnchanged(t *testing.T) {
	var out bytes.Buffer
	in := strings.NewReader("------ LOGGING STARTED ------\npeak allocations: 3\n")
	if err := Filter(&out, in, symcache.New(), 1); err != nil {
		t.Fatalf("Filter: %v", err)
	}
	want := "------ LOGGING STARTED ------\npeak allocations: 3\n"
	if out.String() != want {
		t.Fatalf("got %q, want %q", out.String(), want)
	}
}

func TestFilterFallsBackToBarePointerOnUnresolvedAddress(t *testing.T) {
	var out bytes.Buffer
	in := strings.NewReader("age=12 size=8 bt=0x1,0x2\n")
	if err := Filter(&out, in, symcache.New(), os.Getpid()); err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if !strings.HasPrefix(out.String(), "age=12 size=8 bt=") {
		t.Fatalf("unexpected prefix: %q", out.String())
	}
	if !strings.Contains(out.String(), "0x1") || !strings.Contains(out.String(), "0x2") {
		t.Fatalf("expected unresolved addresses to fall back to bare pointers: %q", out.String())
	}
}
