// Package procres resolves a process specifier, either a bare pid or
// a "[user/]exec_name" pair, into a pid, by scanning the kernel
// process directory. Grounded on original_source/util.c's
// find_process/resolve_process.
//
// Specifier grammar (spec.md §6):
//   - all-digit: a literal pid.
//   - "user/exec_name": user "-" matches any uid; any other username
//     scopes to that user's uid; an unknown username falls back to the
//     resolver's own effective uid.
//   - "exec_name" (no slash): scopes to all users if the caller is
//     root, otherwise to the caller's own uid.
package procres

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	gopsutil "github.com/shirou/gopsutil/v3/process"

	"github.com/xyproto/lcitk/internal/lcitklog"
	"github.com/xyproto/lcitk/internal/lcitkerr"
)

// anyUID is the sentinel meaning "match every user", the Go analog of
// the C source's empty/"-" owner string.
const anyUID = -1

// Resolve turns a process specifier into a pid.
func Resolve(spec string) (int, error) {
	if pid, err := strconv.Atoi(spec); err == nil {
		return pid, nil
	}

	userPart, execName, hasSlash := cutSpecifier(spec)
	uidFilter := resolveUIDFilter(userPart, hasSlash)

	if pid, ok := resolveWithGopsutil(execName, uidFilter); ok {
		return pid, nil
	}
	if pid, ok := resolveWithProcScan(execName, uidFilter); ok {
		return pid, nil
	}
	return 0, fmt.Errorf("procres: %q: %w", spec, lcitkerr.ErrNotFound)
}

func cutSpecifier(spec string) (userPart, execName string, hasSlash bool) {
	if idx := strings.IndexByte(spec, '/'); idx >= 0 {
		return spec[:idx], spec[idx+1:], true
	}
	return "", spec, false
}

// resolveUIDFilter implements the three-way grammar above.
func resolveUIDFilter(userPart string, hasSlash bool) int {
	if !hasSlash {
		if os.Geteuid() == 0 {
			return anyUID
		}
		return os.Geteuid()
	}
	if userPart == "-" {
		return anyUID
	}
	u, err := user.Lookup(userPart)
	if err != nil {
		lcitklog.Printf("procres: unknown user %q, falling back to current uid\n", userPart)
		return os.Geteuid()
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return os.Geteuid()
	}
	return uid
}

// resolveWithGopsutil is the preferred enumeration path (see
// SPEC_FULL.md §6): gopsutil gives a portable process list without the
// hand-rolled /proc bookkeeping this package would otherwise need for
// every platform quirk.
func resolveWithGopsutil(execName string, uidFilter int) (int, bool) {
	procs, err := gopsutil.Processes()
	if err != nil {
		lcitklog.Printf("procres: gopsutil.Processes failed: %v\n", err)
		return 0, false
	}
	for _, p := range procs {
		exe, err := p.Exe()
		if err != nil {
			// Permission denied or the process has already exited;
			// the C source's find_process tolerates this by skipping.
			continue
		}
		if filepath.Base(exe) != execName {
			continue
		}
		if uidFilter != anyUID {
			uids, err := p.Uids()
			if err != nil || len(uids) == 0 || int(uids[0]) != uidFilter {
				continue
			}
		}
		return int(p.Pid), true
	}
	return 0, false
}

// resolveWithProcScan is the fallback path, a direct port of
// find_process's /proc walk, used when the gopsutil path cannot
// enumerate (e.g. a restricted or unusual /proc mount) or finds no
// matching process.
func resolveWithProcScan(execName string, uidFilter int) (int, bool) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return 0, false
	}
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		exe, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
		if err != nil {
			continue
		}
		if filepath.Base(exe) != execName {
			continue
		}
		if uidFilter != anyUID {
			info, err := os.Stat(fmt.Sprintf("/proc/%d", pid))
			if err != nil {
				continue
			}
			stat, ok := info.Sys().(*syscall.Stat_t)
			if !ok || int(stat.Uid) != uidFilter {
				continue
			}
		}
		return pid, true
	}
	return 0, false
}
