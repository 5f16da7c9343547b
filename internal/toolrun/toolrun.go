// Package toolrun spawns an external program, captures its standard
// output, and optionally feeds it standard input. It is the Go
// counterpart of original_source/util.c's get_command_output: a fork,
// a pipe, an exec and a read loop, reduced here to os/exec since Go
// has no need to hand-manage the pipe descriptors.
package toolrun

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/xyproto/lcitk/internal/lcitklog"
)

// Run executes path with args, optionally writing stdin (nil to skip),
// and returns captured stdout. A non-zero exit is not reported as an
// error when stdout was produced; the exit status is then discarded.
// Without stdout, the returned error wraps the *exec.ExitError.
func Run(ctx context.Context, path string, args []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	lcitklog.Printf("toolrun: %s %v\n", path, args)

	err := cmd.Run()
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok && stdout.Len() > 0 {
			// Some tools (objdump on a stripped binary, for instance)
			// exit non-zero but still emit useful partial output.
			return stdout.Bytes(), nil
		}
		return nil, fmt.Errorf("toolrun: %s: %w (stderr: %s)", path, err, stderr.String())
	}
	return stdout.Bytes(), nil
}
