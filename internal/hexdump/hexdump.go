// Package hexdump shells out to "hexdump -C" to render a byte slice
// the same way the CLI console's "#read <addr> <len>" command does,
// one of spec.md §1's explicitly out-of-core collaborators, specified
// only by the contract the console needs: feed bytes in on stdin, get
// back the formatted dump text.
package hexdump

import (
	"context"
	"fmt"

	"github.com/xyproto/lcitk/internal/config"
	"github.com/xyproto/lcitk/internal/lcitkerr"
	"github.com/xyproto/lcitk/internal/toolrun"
)

// Dump renders data via "hexdump -C", mirroring the interactive
// console's "#read" command (spec.md §6).
func Dump(ctx context.Context, data []byte) (string, error) {
	out, err := toolrun.Run(ctx, config.HexdumpPath(), []string{"-C"}, data)
	if err != nil {
		return "", fmt.Errorf("hexdump: %w: %v", lcitkerr.ErrToolFailure, err)
	}
	return string(out), nil
}
