// Package btfilter rewrites a text stream of bare backtrace addresses
// into symbol+offset form, the stream filter spec.md §1 names as a
// thin out-of-core collaborator ("a backtrace-address filter that
// rewrites a text stream") whose contract is still specified where it
// touches the core (component J's symbol cache). Grounded on
// original_source/instrument/heap_backtrace_filter.c.
package btfilter

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xyproto/lcitk/internal/symcache"
)

// Filter reads lines from r and writes them to w, expanding the first
// "0x"-prefixed comma-separated run of addresses on each line (the
// format internal/heapprof's report writer emits for a live
// allocation's captured backtrace) into "name+0xOFFSET" terms via
// cache, resolved against pid. Lines with no "0x" substring pass
// through unchanged, matching the source's fallback fwrite of the
// whole line.
func Filter(w io.Writer, r io.Reader, cache *symcache.Cache, pid int) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.Index(line, "0x")
		if idx < 0 {
			fmt.Fprintln(w, line)
			continue
		}
		io.WriteString(w, line[:idx])
		expandBacktrace(w, line[idx:], cache, pid)
		fmt.Fprintln(w)
	}
	return scanner.Err()
}

// expandBacktrace implements the source's inner strtok(backtrace_start,
// ",") loop: each comma-separated token is parsed as a base-0 integer
// address (decimal/hex/octal, matching strtoll(token, NULL, 0)) and
// resolved to "name+0xOFFSET" when component J's cache can place it
// inside a known symbol, else printed back as a bare pointer.
func expandBacktrace(w io.Writer, rest string, cache *symcache.Cache, pid int) {
	tokens := strings.Split(rest, ",")
	for i, tok := range tokens {
		if i != 0 {
			io.WriteString(w, ", ")
		}
		addr, err := strconv.ParseUint(strings.TrimSpace(tok), 0, 64)
		if err != nil {
			io.WriteString(w, strings.TrimSpace(tok))
			continue
		}
		name, symAddr, err := cache.FindSymbolForAddress(pid, addr)
		if err != nil {
			fmt.Fprintf(w, "%#x", addr)
			continue
		}
		fmt.Fprintf(w, "%s+%#x", name, addr-symAddr)
	}
}
