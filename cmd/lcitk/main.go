// Command lcitk is the interactive console CLI (spec.md §6): attach
// to a process, call arbitrary functions inside it by name, and peek
// at its memory. Grounded on original_source/console.c's tokenizer
// and main, but with the non-reentrant global tokenizer state replaced
// by internal/tokenizer's per-call iterator (spec.md §9) and GNU
// readline replaced by golang.org/x/term's raw-mode line editor
// (DESIGN.md, SPEC_FULL.md §6).
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/xyproto/lcitk/internal/escape"
	"github.com/xyproto/lcitk/internal/hexdump"
	"github.com/xyproto/lcitk/internal/lcitklog"
	"github.com/xyproto/lcitk/internal/procres"
	"github.com/xyproto/lcitk/internal/rcall"
	"github.com/xyproto/lcitk/internal/rmem"
	"github.com/xyproto/lcitk/internal/symres"
	"github.com/xyproto/lcitk/internal/tokenizer"
)

const historyFileName = ".console_history"

// stdIO joins stdin and stdout into the single io.ReadWriter
// term.NewTerminal wants.
type stdIO struct {
	io.Reader
	io.Writer
}

// console holds the state original_source/console.c keeps as globals
// across the command loop: the current target pid and the libc
// malloc/free addresses used to allocate string-literal arguments.
type console struct {
	pid          int
	targetMalloc uint64
	targetFree   uint64
}

func newConsole(spec string) (*console, error) {
	pid, err := procres.Resolve(spec)
	if err != nil {
		return nil, err
	}
	c := &console{pid: pid}
	c.refreshLibcHelpers()
	return c, nil
}

// refreshLibcHelpers re-resolves the libc malloc/free addresses used
// to allocate and free string-literal arguments; called whenever the
// target changes via "#process".
func (c *console) refreshLibcHelpers() {
	if addr, _, err := symres.FindLibcFunction(c.pid, "malloc"); err == nil {
		c.targetMalloc = addr
	} else {
		lcitklog.Errorf("lcitk: could not resolve libc malloc in pid %d: %v\n", c.pid, err)
	}
	if addr, _, err := symres.FindLibcFunction(c.pid, "free"); err == nil {
		c.targetFree = addr
	} else {
		lcitklog.Errorf("lcitk: could not resolve libc free in pid %d: %v\n", c.pid, err)
	}
}

func main() {
	var verbose = flag.Bool("v", false, "verbose mode")
	var verboseLong = flag.Bool("verbose", false, "verbose mode")
	flag.Parse()
	lcitklog.Verbose = *verbose || *verboseLong

	args := flag.Args()
	if len(args) < 1 {
		fmt.Printf("Usage: %s <pid>\n", os.Args[0])
		return
	}

	c, err := newConsole(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "lcitk: %v\n", err)
		os.Exit(1)
	}

	fd := int(os.Stdin.Fd())
	raw := term.IsTerminal(fd)
	var oldState *term.State
	if raw {
		oldState, err = term.MakeRaw(fd)
		if err != nil {
			raw = false
		} else {
			defer term.Restore(fd, oldState)
		}
	}

	t := term.NewTerminal(stdIO{os.Stdin, os.Stdout}, "> ")
	loadHistory(t)

	fmt.Fprintln(os.Stdout, "Type '#quit' to exit this program.")
	fmt.Fprintln(os.Stdout)

	var history []string
	for {
		line, err := t.ReadLine()
		if err != nil {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		history = append(history, line)

		if line == "#quit" {
			break
		}

		c.dispatch(line)
	}

	if raw {
		term.Restore(fd, oldState)
	}
	writeHistory(history)
}

// dispatch implements the body of console.c's command loop: the two
// "#"-prefixed built-ins plus the general "<name> <arg>*" function-call
// grammar (spec.md §6).
func (c *console) dispatch(line string) {
	switch {
	case strings.HasPrefix(line, "#process "):
		spec := strings.TrimSpace(strings.TrimPrefix(line, "#process "))
		pid, err := procres.Resolve(spec)
		if err != nil {
			fmt.Printf("Cannot resolve process %q: %v\n", spec, err)
			return
		}
		c.pid = pid
		c.refreshLibcHelpers()
		fmt.Printf("Now attached to pid %d.\n", pid)

	case strings.HasPrefix(line, "#read "):
		c.handleRead(strings.TrimSpace(strings.TrimPrefix(line, "#read ")))

	default:
		c.handleCall(line)
	}
}

// handleRead implements "#read <addr> <len>": hexdump a span of the
// target's remote memory (spec.md §6).
func (c *console) handleRead(rest string) {
	fields := strings.Fields(rest)
	if len(fields) != 2 {
		fmt.Println("usage: #read <addr> <len>")
		return
	}
	addr, err := strconv.ParseUint(fields[0], 0, 64)
	if err != nil {
		fmt.Printf("bad address %q: %v\n", fields[0], err)
		return
	}
	length, err := strconv.ParseUint(fields[1], 0, 64)
	if err != nil {
		fmt.Printf("bad length %q: %v\n", fields[1], err)
		return
	}

	data, err := rmem.Read(c.pid, addr, int(length))
	if err != nil {
		fmt.Printf("read failed: %v\n", err)
		return
	}
	out, err := hexdump.Dump(context.Background(), data)
	if err != nil {
		fmt.Printf("hexdump failed: %v\n", err)
		return
	}
	fmt.Print(out)
}

// handleCall implements the general "<name> <arg>*" grammar: each arg
// is a quoted C-escaped string literal (allocated in the target via
// libc malloc, passed by pointer, freed once the call returns), a
// numeric literal in base-0 (decimal/hex/octal auto-detect, matching
// strtoll(tok, NULL, 0)), or a bare symbol name resolved to its
// address via component D (spec.md §6).
func (c *console) handleCall(line string) {
	tok := tokenizer.New(line)
	funcName, ok := tok.Next()
	if !ok {
		return
	}

	var args []uint64
	var allocated []uint64

	for {
		arg, ok := tok.Next()
		if !ok {
			break
		}

		if len(arg) >= 2 && arg[0] == '"' {
			str, err := escape.Unquote(arg)
			if err != nil {
				fmt.Printf("bad string literal %q: %v\n", arg, err)
				c.freeAll(allocated)
				return
			}
			addr, err := c.allocString(str)
			if err != nil {
				fmt.Printf("allocating string %q failed: %v\n", str, err)
				c.freeAll(allocated)
				return
			}
			args = append(args, addr)
			allocated = append(allocated, addr)
			continue
		}

		if v, err := strconv.ParseInt(arg, 0, 64); err == nil {
			args = append(args, uint64(v))
			continue
		}

		addr, _, err := symres.FindFunction(c.pid, "", arg)
		if err != nil {
			addr, _, err = symres.FindLibcFunction(c.pid, arg)
		}
		if err != nil {
			fmt.Printf("cannot resolve symbol %q: %v\n", arg, err)
			c.freeAll(allocated)
			return
		}
		args = append(args, addr)
	}

	function, imagePath, err := symres.FindFunction(c.pid, "", funcName)
	if err != nil {
		function, imagePath, err = symres.FindLibcFunction(c.pid, funcName)
	}
	if err != nil {
		fmt.Printf("Cannot find function '%s' to call.\n", funcName)
		c.freeAll(allocated)
		return
	}

	fmt.Printf("Calling '%s' at %#x (%s) with %d arguments (", funcName, function, imagePath, len(args))
	for i, a := range args {
		if i != 0 {
			fmt.Print(", ")
		}
		fmt.Printf("%x", a)
	}
	fmt.Println(")...")

	ret, err := rcall.Call(c.pid, function, args)
	if err != nil {
		fmt.Printf("call failed: %v\n", err)
		c.freeAll(allocated)
		return
	}
	fmt.Printf("Return value (hex/dec/oct): %#x / %d / 0%o\n", ret, ret, ret)

	c.freeAll(allocated)
}

// allocString allocates len(s)+1 bytes in the target via its own libc
// malloc and writes s (plus a trailing NUL) into it, returning the
// remote address.
func (c *console) allocString(s string) (uint64, error) {
	if c.targetMalloc == 0 {
		return 0, fmt.Errorf("no libc malloc resolved for pid %d", c.pid)
	}
	size := uint64(len(s) + 1)
	addr, err := rcall.Call(c.pid, c.targetMalloc, []uint64{size})
	if err != nil {
		return 0, err
	}
	if err := rmem.Write(c.pid, addr, append([]byte(s), 0)); err != nil {
		return 0, err
	}
	fmt.Printf("Allocating string \"%s\" ... %#x\n", s, addr)
	return addr, nil
}

// freeAll releases every string allocated for one call's arguments.
func (c *console) freeAll(addrs []uint64) {
	if c.targetFree == 0 {
		return
	}
	for _, addr := range addrs {
		fmt.Printf("Freeing string at %#x.\n", addr)
		if _, err := rcall.Call(c.pid, c.targetFree, []uint64{addr}); err != nil {
			lcitklog.Errorf("lcitk: freeing %#x failed: %v\n", addr, err)
		}
	}
}

// loadHistory prints the persisted history (read_history equivalent);
// golang.org/x/term's Terminal has no public API to seed its own
// arrow-key recall buffer, so persisted history is surfaced to the
// user as a printed list rather than replayed into the line editor.
func loadHistory(t *term.Terminal) {
	data, err := os.ReadFile(historyFileName)
	if err != nil {
		return
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	for _, l := range lines {
		if l != "" {
			fmt.Fprintln(os.Stdout, l)
		}
	}
}

// writeHistory persists this session's commands to the working
// directory (spec.md §6, "Persisted state"), matching
// write_history(".console_history").
func writeHistory(history []string) {
	if len(history) == 0 {
		return
	}
	path, err := filepath.Abs(historyFileName)
	if err != nil {
		path = historyFileName
	}
	if err := os.WriteFile(path, []byte(strings.Join(history, "\n")+"\n"), 0644); err != nil {
		lcitklog.Errorf("lcitk: failed to write history: %v\n", err)
	}
}
