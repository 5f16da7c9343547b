package toolrun

import (
	"context"
	"strings"
	"testing"
)

func TestRunCapturesStdout(t *testing.T) {
	out, err := Run(context.Background(), "/bin/echo", []string{"hello", "lcitk"}, nil)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got := strings.TrimSpace(string(out)); got != "hello lcitk" {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestRunFeedsStdin(t *testing.T) {
	out, err := Run(context.Background(), "/bin/cat", nil, []byte("piped input"))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got := string(out); got != "piped input" {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestRunMissingBinary(t *testing.T) {
	if _, err := Run(context.Background(), "/nonexistent/tool", nil, nil); err == nil {
		t.Fatal("expected error for missing binary")
	}
}
