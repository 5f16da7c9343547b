package escape

import "testing"

func TestUnquoteStripsSurroundingQuotes(t *testing.T) {
	got, err := Unquote(`"hello"`)
	if err != nil {
		t.Fatal(err)
	}
	if got != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestUnquoteResolvesCommonEscapes(t *testing.T) {
	cases := map[string]string{
		`"a\nb"`:   "a\nb",
		`"a\tb"`:   "a\tb",
		`"a\\b"`:   `a\b`,
		`"say \"hi\""`: `say "hi"`,
	}
	for in, want := range cases {
		got, err := Unquote(in)
		if err != nil {
			t.Fatalf("Unquote(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("Unquote(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUnquoteResolvesHexAndOctalEscapes(t *testing.T) {
	got, err := Unquote(`"\x41\x42"`)
	if err != nil {
		t.Fatal(err)
	}
	if got != "AB" {
		t.Fatalf("got %q, want %q", got, "AB")
	}

	got, err = Unquote(`"\101\102"`)
	if err != nil {
		t.Fatal(err)
	}
	if got != "AB" {
		t.Fatalf("got %q, want %q", got, "AB")
	}
}

func TestUnquoteRejectsTrailingBackslash(t *testing.T) {
	if _, err := Unquote(`"bad\`); err == nil {
		t.Fatal("expected error for trailing backslash")
	}
}

func TestUnquoteWithoutSurroundingQuotesStillUnescapes(t *testing.T) {
	got, err := Unquote(`a\tb`)
	if err != nil {
		t.Fatal(err)
	}
	if got != "a\tb" {
		t.Fatalf("got %q, want %q", got, "a\tb")
	}
}
