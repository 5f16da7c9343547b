// Package inject loads and unloads a shared object inside a remote
// process via component G, the private libc dlopen/dlclose entry
// points. Grounded on original_source/process.c's inject_so/
// uninject_so and original_source/inject.c's CLI double-dlclose
// semantics for uninject-by-file (SPEC_FULL.md §7).
package inject

import (
	"fmt"
	"path/filepath"

	"github.com/xyproto/lcitk/internal/lcitkerr"
	"github.com/xyproto/lcitk/internal/mapping"
	"github.com/xyproto/lcitk/internal/rcall"
	"github.com/xyproto/lcitk/internal/rmem"
	"github.com/xyproto/lcitk/internal/symres"
)

// rtldLazy and the private dlopen flag bit mirror dlfcn.h's RTLD_LAZY
// and the well-known internal RTLD_DLOPEN bit used by glibc's
// __libc_dlopen_mode (spec.md §4.H).
const (
	rtldLazy       = 0x00001
	rtldDlopenFlag = 0x80000000
	mmapProtRead   = 0x1
	mmapProtWrite  = 0x2
	mmapMapPrivate = 0x02
	mmapMapAnon    = 0x20
)

// Handle is the opaque dlopen handle returned by Inject.
type Handle uint64

// Inject implements inject_so(pid, path) -> handle.
func Inject(pid int, path string) (Handle, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("inject: resolve path %s: %w", path, err)
	}

	mmapAddr, _, err := symres.FindLibcFunction(pid, "mmap")
	if err != nil {
		return 0, fmt.Errorf("inject: locate mmap: %w", err)
	}

	pathLen := uint64(len(absPath) + 1)
	scratch, err := rcall.Call(pid, mmapAddr, []uint64{
		0, pathLen, mmapProtRead | mmapProtWrite, mmapMapPrivate | mmapMapAnon, 0, 0,
	})
	if err != nil {
		return 0, fmt.Errorf("inject: remote mmap: %w", err)
	}

	if err := rmem.Write(pid, scratch, append([]byte(absPath), 0)); err != nil {
		return 0, fmt.Errorf("inject: write path into target: %w", err)
	}

	dlopenAddr, _, err := symres.FindLibcFunction(pid, "__libc_dlopen_mode")
	if err != nil {
		return 0, fmt.Errorf("inject: locate __libc_dlopen_mode: %w", err)
	}
	handle, err := rcall.Call(pid, dlopenAddr, []uint64{scratch, rtldLazy | rtldDlopenFlag})
	if err != nil {
		return 0, fmt.Errorf("inject: remote dlopen: %w", err)
	}

	munmapAddr, _, err := symres.FindLibcFunction(pid, "munmap")
	if err == nil {
		if _, err := rcall.Call(pid, munmapAddr, []uint64{scratch, pathLen}); err != nil {
			// Non-fatal: the scratch page leaks but the load already
			// succeeded, matching the source's fire-and-forget munmap.
			_ = err
		}
	}

	return Handle(handle), nil
}

// Uninject implements uninject_so(pid, handle) -> dlclose's result.
func Uninject(pid int, handle Handle) (int, error) {
	dlcloseAddr, _, err := symres.FindLibcFunction(pid, "__libc_dlclose")
	if err != nil {
		return 0, fmt.Errorf("inject: locate __libc_dlclose: %w", err)
	}
	ret, err := rcall.Call(pid, dlcloseAddr, []uint64{uint64(handle)})
	if err != nil {
		return 0, fmt.Errorf("inject: remote dlclose: %w", err)
	}
	return int(int32(ret)), nil
}

// UninjectByFile implements the CLI's "-u <path>" double-dlclose
// semantics (original_source/inject.c): first confirm the image is
// still loaded via component C, then inject it a second time to
// obtain a fresh handle and close that handle twice: once to drop
// the scratch reference this call just created, once more to drop the
// original reference, so the net observable effect to the caller is
// a single successful uninjection.
func UninjectByFile(pid int, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("inject: resolve path %s: %w", path, err)
	}

	if _, err := mapping.FindImageAddress(pid, absPath); err != nil {
		return fmt.Errorf("inject: %s is not loaded in pid %d: %w", absPath, pid, lcitkerr.ErrNotFound)
	}

	handle, err := Inject(pid, absPath)
	if err != nil {
		return fmt.Errorf("inject: scratch re-injection of %s failed: %w", absPath, err)
	}

	if _, err := Uninject(pid, handle); err != nil {
		return fmt.Errorf("inject: first dlclose (scratch reference) failed: %w", err)
	}
	if _, err := Uninject(pid, handle); err != nil {
		return fmt.Errorf("inject: second dlclose (original reference) failed: %w", err)
	}
	return nil
}
