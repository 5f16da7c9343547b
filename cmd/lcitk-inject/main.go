// Command lcitk-inject loads or unloads a shared object inside a
// running process (spec.md §6, "Shared-object injector CLI").
// Grounded on original_source/inject.c's main/usage.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/xyproto/lcitk/internal/inject"
	"github.com/xyproto/lcitk/internal/lcitklog"
	"github.com/xyproto/lcitk/internal/procres"
)

func usage() {
	fmt.Println("Usage: lcitk-inject ([<user>/]exec_name | pid) <option>")
	fmt.Println(" One of the following options must be given:")
	fmt.Printf("   %-30s%s\n", "-i <.so file>", "Inject a shared library into a process.")
	fmt.Printf("   %-30s%s\n", "-u (<.so file>|<handle>)", "Remove a shared library previously injected into a process.")
	fmt.Println()
}

func main() {
	var injectPath = flag.String("i", "", "path to a .so file to inject")
	var uninjectArg = flag.String("u", "", "path or hex handle of a previously injected .so to remove")
	var verbose = flag.Bool("v", false, "verbose mode")
	var verboseLong = flag.Bool("verbose", false, "verbose mode")
	flag.Parse()

	lcitklog.Verbose = *verbose || *verboseLong

	args := flag.Args()
	if len(args) < 1 || (*injectPath == "" && *uninjectArg == "") {
		usage()
		os.Exit(0)
	}

	pid, err := procres.Resolve(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "lcitk-inject: %v\n", err)
		os.Exit(1)
	}

	switch {
	case *injectPath != "":
		handle, err := inject.Inject(pid, *injectPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "lcitk-inject: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Injection returned handle: %x\n", uint64(handle))

	case *uninjectArg != "":
		if handle, err := strconv.ParseUint(*uninjectArg, 16, 64); err == nil {
			ret, err := inject.Uninject(pid, inject.Handle(handle))
			if err != nil {
				fmt.Fprintf(os.Stderr, "lcitk-inject: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Uninjection returned: %d\n", ret)
			return
		}

		// Not a bare hex handle: treat the argument as a path and use
		// the double-dlclose-by-file semantics (spec.md §4.H).
		if err := inject.UninjectByFile(pid, *uninjectArg); err != nil {
			fmt.Printf("The file %s is not loaded in process %d.\n", *uninjectArg, pid)
			os.Exit(1)
		}
		fmt.Println("Uninjection returned: 0")

	default:
		usage()
	}
}
