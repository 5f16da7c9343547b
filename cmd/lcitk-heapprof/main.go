// Command lcitk-heapprof is the injected heap profiler (spec.md
// §4.K). Built with `go build -buildmode=c-shared`, it produces a
// shared object whose constructor/destructor (shim.c) rewrite the
// host's malloc/calloc/free/realloc relocation slots on load and
// restore them on unload, exactly as original_source/heap.c's
// __attribute__((constructor/destructor)) pair does. Run directly (not
// as a c-shared object) it instead offers a "tail" subcommand that
// follows the profiler's report log, for inspecting a running
// injection without a second objdump/gdb session.
package main

/*
#include "shim.h"
#include <stdlib.h>
*/
import "C"

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	"unsafe"

	"github.com/xyproto/lcitk/internal/config"
	"github.com/xyproto/lcitk/internal/heapprof"
	"github.com/xyproto/lcitk/internal/lcitklog"
	"github.com/xyproto/lcitk/internal/symres"
)

const maxBacktraceFrames = 200

// rotateEvery matches DESIGN.md's enrichment of heap.c's plain
// append-only log: every 20th report triggers a zstd-compressed
// rotation of everything written before it.
const rotateEvery = 20

var (
	realMalloc  unsafe.Pointer
	realCalloc  unsafe.Pointer
	realFree    unsafe.Pointer
	realRealloc unsafe.Pointer

	mallocSlot  uint64
	callocSlot  uint64
	freeSlot    uint64
	reallocSlot uint64

	profiler *heapprof.Profiler
	writer   *heapprof.ReportWriter
)

func readSlot(addr uint64) unsafe.Pointer {
	return *(*unsafe.Pointer)(unsafe.Pointer(uintptr(addr)))
}

func writeSlot(addr uint64, v unsafe.Pointer) {
	*(*unsafe.Pointer)(unsafe.Pointer(uintptr(addr))) = v
}

// hookSlot resolves name's relocation slot in the running process
// (pid = getpid, since this always runs inside the target it was
// injected into), saves its original value, and installs hookAddr in
// its place. Errors are logged, never surfaced, matching spec.md §7's
// "profiler hooks never surface errors" policy; a slot that cannot be
// found is simply left unhooked.
func hookSlot(pid int, name string, hookAddr unsafe.Pointer) (slotAddr uint64, orig unsafe.Pointer, ok bool) {
	addr, err := symres.FindRelocation(pid, "", name)
	if err != nil {
		lcitklog.Errorf("heapprof: could not locate relocation for %s: %v\n", name, err)
		return 0, nil, false
	}
	orig = readSlot(addr)
	writeSlot(addr, hookAddr)
	return addr, orig, true
}

// InterposeInit implements original_source/heap.c's interpose_init,
// called from shim.c's __attribute__((constructor)) function the
// instant this shared object is dlopen'd (spec.md §4.K "On load").
//
//export InterposeInit
func InterposeInit() {
	now := time.Now()
	pid := os.Getpid()

	writer = heapprof.NewReportWriter(config.MallocLogPath(), rotateEvery)
	if err := writer.Write("------ LOGGING STARTED ------\n"); err != nil {
		lcitklog.Errorf("heapprof: init: %v\n", err)
	}

	if addr, orig, ok := hookSlot(pid, "malloc", C.lcitk_malloc_hook_addr()); ok {
		mallocSlot, realMalloc = addr, orig
	}
	if addr, orig, ok := hookSlot(pid, "calloc", C.lcitk_calloc_hook_addr()); ok {
		callocSlot, realCalloc = addr, orig
	}
	if addr, orig, ok := hookSlot(pid, "free", C.lcitk_free_hook_addr()); ok {
		freeSlot, realFree = addr, orig
	}
	if addr, orig, ok := hookSlot(pid, "realloc", C.lcitk_realloc_hook_addr()); ok {
		reallocSlot, realRealloc = addr, orig
	}

	profiler = heapprof.New(now, config.ReportInterval())
}

// InterposeFini implements interpose_fini: restore every hooked slot
// to its saved original value, then emit one final report (spec.md
// §4.K "On unload").
//
//export InterposeFini
func InterposeFini() {
	if mallocSlot != 0 {
		writeSlot(mallocSlot, realMalloc)
	}
	if callocSlot != 0 {
		writeSlot(callocSlot, realCalloc)
	}
	if freeSlot != 0 {
		writeSlot(freeSlot, realFree)
	}
	if reallocSlot != 0 {
		writeSlot(reallocSlot, realRealloc)
	}

	if profiler != nil && writer != nil {
		if err := writer.Write(profiler.Report(time.Now())); err != nil {
			lcitklog.Errorf("heapprof: final report: %v\n", err)
		}
	}
	if writer != nil {
		writer.Write("------ END ------\n")
	}
}

// captureBacktrace wraps shim.c's lcitk_capture_backtrace, the
// Go-callable execinfo.h backtrace() original_source/heap.c calls
// directly from instrument_malloc.
func captureBacktrace() []uintptr {
	frames := make([]unsafe.Pointer, maxBacktraceFrames)
	n := C.lcitk_capture_backtrace((*unsafe.Pointer)(unsafe.Pointer(&frames[0])), C.int(maxBacktraceFrames))
	addrs := make([]uintptr, int(n))
	for i := range addrs {
		addrs[i] = uintptr(frames[i])
	}
	return addrs
}

// maybeReport implements check_should_report, invoked at the end of
// every hook body (spec.md §4.K).
func maybeReport() {
	if profiler == nil {
		return
	}
	now := time.Now()
	if !profiler.ShouldReport(now) {
		return
	}
	report := profiler.Report(now)
	if writer != nil {
		if err := writer.Write(report); err != nil {
			lcitklog.Errorf("heapprof: periodic report: %v\n", err)
		}
	}
}

// recordAllocation implements instrument_malloc's call site from
// each allocating hook: capture a backtrace, record the allocation,
// then check whether a periodic report is due.
func recordAllocation(ptr unsafe.Pointer, size uintptr) {
	if profiler == nil || ptr == nil {
		return
	}
	profiler.InstrumentMalloc(uintptr(ptr), size, captureBacktrace(), time.Now())
	maybeReport()
}

//export MallocHook
func MallocHook(size C.size_t) unsafe.Pointer {
	ret := C.lcitk_call_malloc(realMalloc, size)
	recordAllocation(ret, uintptr(size))
	return ret
}

//export CallocHook
func CallocHook(nmemb, size C.size_t) unsafe.Pointer {
	ret := C.lcitk_call_calloc(realCalloc, nmemb, size)
	recordAllocation(ret, uintptr(nmemb)*uintptr(size))
	return ret
}

//export FreeHook
func FreeHook(ptr unsafe.Pointer) {
	if profiler != nil {
		profiler.InstrumentFree(uintptr(ptr))
	}
	C.lcitk_call_free(realFree, ptr)
	maybeReport()
}

//export ReallocHook
func ReallocHook(ptr unsafe.Pointer, size C.size_t) unsafe.Pointer {
	ret := C.lcitk_call_realloc(realRealloc, ptr, size)
	if profiler != nil {
		profiler.InstrumentFree(uintptr(ptr))
	}
	recordAllocation(ret, uintptr(size))
	return ret
}

// main only matters when this binary is run directly rather than
// built with -buildmode=c-shared and dlopen'd; it offers a "tail"
// subcommand that follows the profiler's report log.
func main() {
	if len(os.Args) < 2 || os.Args[1] != "tail" {
		fmt.Fprintf(os.Stderr, "usage:\n")
		fmt.Fprintf(os.Stderr, "  %s tail [log-path]   follow a running profiler's report log\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nbuild with -buildmode=c-shared and inject the resulting .so with lcitk-inject to install the profiler.\n")
		os.Exit(1)
	}

	path := config.MallocLogPath()
	if len(os.Args) >= 3 {
		path = os.Args[2]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := heapprof.WatchReports(ctx, path, func(line string) {
		fmt.Println(line)
	}); err != nil {
		fmt.Fprintf(os.Stderr, "lcitk-heapprof: %v\n", err)
		os.Exit(1)
	}
}
