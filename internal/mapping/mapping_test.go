package mapping

import "testing"

func TestParseMapsLine(t *testing.T) {
	cases := []struct {
		line    string
		wantOK  bool
		start   uint64
		end     uint64
		path    string
		deleted bool
	}{
		{
			line:   "00400000-00452000 r-xp 00000000 08:02 173521      /bin/cat",
			wantOK: true, start: 0x400000, end: 0x452000, path: "/bin/cat",
		},
		{
			line:   "7f1234560000-7f1234580000 rw-p 00000000 00:00 0",
			wantOK: true, start: 0x7f1234560000, end: 0x7f1234580000, path: "",
		},
		{
			line:    "00600000-00601000 r-xp 00000000 08:02 173521      /tmp/prog (deleted)",
			wantOK:  true,
			start:   0x600000,
			end:     0x601000,
			path:    "/tmp/prog",
			deleted: true,
		},
		{
			line:   "not a maps line",
			wantOK: false,
		},
	}

	for _, c := range cases {
		e, ok := parseMapsLine(c.line)
		if ok != c.wantOK {
			t.Fatalf("parseMapsLine(%q) ok = %v, want %v", c.line, ok, c.wantOK)
		}
		if !ok {
			continue
		}
		if e.start != c.start || e.end != c.end || e.path != c.path || e.deleted != c.deleted {
			t.Fatalf("parseMapsLine(%q) = %+v, want start=%#x end=%#x path=%q deleted=%v",
				c.line, e, c.start, c.end, c.path, c.deleted)
		}
	}
}

func TestIsReadExec(t *testing.T) {
	if !isReadExec("r-xp") {
		t.Fatal("r-xp should be read+exec")
	}
	if isReadExec("rw-p") {
		t.Fatal("rw-p should not be read+exec")
	}
	if isReadExec("--") {
		t.Fatal("short permission string should not panic or match")
	}
}

func TestFindImageAddressNotFound(t *testing.T) {
	if _, err := FindImageAddress(1, "definitely-not-a-real-image-name"); err == nil {
		t.Fatal("expected error for unmatched image substring")
	}
}
