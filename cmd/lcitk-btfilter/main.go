// Command lcitk-btfilter expands bare backtrace addresses in a piped
// text stream into symbol+offset form, one of spec.md §1's explicitly
// out-of-core collaborators (a "backtrace-address filter that rewrites
// a text stream"). Intended use: pipe internal/heapprof's malloc-log
// report through it while the target pid is still alive, the same
// pipeline original_source/instrument/heap_backtrace_filter.c serves.
package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/xyproto/lcitk/internal/btfilter"
	"github.com/xyproto/lcitk/internal/lcitklog"
	"github.com/xyproto/lcitk/internal/procres"
	"github.com/xyproto/lcitk/internal/symcache"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Printf("Usage: %s ([<user>/]exec_name | pid)\n", os.Args[0])
		return
	}

	pid, err := procres.Resolve(os.Args[1])
	if err != nil {
		fmt.Printf("Could not find process: %s\n", os.Args[1])
		return
	}

	cache := symcache.New()
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	if err := btfilter.Filter(out, os.Stdin, cache, pid); err != nil {
		lcitklog.Errorf("lcitk-btfilter: %v\n", err)
		os.Exit(1)
	}
}
