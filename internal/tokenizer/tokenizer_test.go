package tokenizer

import "testing"

func TestNextSplitsOnWhitespace(t *testing.T) {
	tok := New("malloc 16")
	want := []string{"malloc", "16"}
	for i, w := range want {
		got, ok := tok.Next()
		if !ok || got != w {
			t.Fatalf("token %d: got (%q, %v), want %q", i, got, ok, w)
		}
	}
	if _, ok := tok.Next(); ok {
		t.Fatal("expected exhausted tokenizer to return ok=false")
	}
}

func TestNextKeepsQuotedSpanIntact(t *testing.T) {
	tok := New(`strlen "hello world" 7`)
	got := tok.All()
	want := []string{"strlen", `"hello world"`, "7"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNextCollapsesRepeatedWhitespace(t *testing.T) {
	tok := New("  foo    bar\t\tbaz  ")
	got := tok.All()
	want := []string{"foo", "bar", "baz"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEmptyLineYieldsNoTokens(t *testing.T) {
	tok := New("")
	if _, ok := tok.Next(); ok {
		t.Fatal("expected empty line to yield no tokens")
	}
}

func TestIndependentTokenizersDoNotShareState(t *testing.T) {
	a := New("one two")
	b := New("three four")

	first, _ := a.Next()
	third, _ := b.Next()
	if first != "one" || third != "three" {
		t.Fatalf("tokenizers interfered: a=%q b=%q", first, third)
	}
}
