// Package mapping parses a process's /proc/pid/maps and corrects a
// mapping's start address into an image load base via the backing
// file's ELF program headers. Grounded on original_source/objdump.c's
// find_image_address and find_image_for_address.
package mapping

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/xyproto/lcitk/internal/elfimage"
	"github.com/xyproto/lcitk/internal/lcitkerr"
	"github.com/xyproto/lcitk/internal/lcitklog"
)

// Mapping is a contiguous readable-executable region of a remote
// process (spec.md §3).
type Mapping struct {
	Start     uint64
	End       uint64
	ImagePath string
	ImageBase uint64
}

// rawEntry is one parsed /proc/pid/maps line before ELF correction.
type rawEntry struct {
	start, end  uint64
	permissions string
	path        string
	deleted     bool
}

// parseMapsLine tokenizes a single /proc/pid/maps line on fixed
// columns, per spec.md §4.C ("the path column may contain spaces").
// Format: "start-end perms offset dev inode path".
func parseMapsLine(line string) (rawEntry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return rawEntry{}, false
	}
	addrRange := fields[0]
	dash := strings.IndexByte(addrRange, '-')
	if dash < 0 {
		return rawEntry{}, false
	}
	start, err := strconv.ParseUint(addrRange[:dash], 16, 64)
	if err != nil {
		return rawEntry{}, false
	}
	end, err := strconv.ParseUint(addrRange[dash+1:], 16, 64)
	if err != nil {
		return rawEntry{}, false
	}
	perms := fields[1]

	var e rawEntry
	e.start, e.end, e.permissions = start, end, perms
	if len(fields) >= 6 {
		// The path field is everything after the 5th column to the end
		// of the line, taken verbatim from the line rather than from
		// the whitespace-split fields, since a path may itself contain
		// spaces (spec.md §4.C edge case).
		rest := line
		for i := 0; i < 5; i++ {
			rest = strings.TrimLeft(rest, " \t")
			rest = rest[strings.IndexAny(rest, " \t"):]
		}
		e.path = strings.TrimLeft(rest, " \t")
		e.deleted = strings.HasSuffix(e.path, "(deleted)")
		if e.deleted {
			e.path = strings.TrimSpace(strings.TrimSuffix(e.path, "(deleted)"))
		}
	}
	return e, true
}

func readMapsLines(pid int) ([]rawEntry, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, fmt.Errorf("mapping: open maps for pid %d: %w", pid, err)
	}
	defer f.Close()

	var entries []rawEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if e, ok := parseMapsLine(scanner.Text()); ok {
			entries = append(entries, e)
		}
	}
	return entries, scanner.Err()
}

// FindImageAddress implements find_image_address(pid, substring):
// the first mapping whose resolved path contains substring, is marked
// readable+executable, and is not tagged (deleted).
func FindImageAddress(pid int, substring string) (Mapping, error) {
	entries, err := readMapsLines(pid)
	if err != nil {
		return Mapping{}, err
	}
	for _, e := range entries {
		if !isReadExec(e.permissions) || e.deleted || e.path == "" {
			continue
		}
		if !strings.Contains(e.path, substring) {
			continue
		}
		base, err := imageBase(e.start, e.path)
		if err != nil {
			lcitklog.Printf("mapping: load-base correction failed for %s: %v\n", e.path, err)
			continue
		}
		return Mapping{Start: e.start, End: e.end, ImagePath: e.path, ImageBase: base}, nil
	}
	return Mapping{}, fmt.Errorf("mapping: %q in pid %d: %w", substring, pid, lcitkerr.ErrNotFound)
}

// FindImageForAddress implements find_image_for_address(pid, addr):
// the mapping whose [start, end) contains addr.
func FindImageForAddress(pid int, addr uint64) (Mapping, error) {
	entries, err := readMapsLines(pid)
	if err != nil {
		return Mapping{}, err
	}
	for _, e := range entries {
		if e.deleted || addr < e.start || addr >= e.end {
			continue
		}
		var base uint64
		if e.path != "" {
			if b, err := imageBase(e.start, e.path); err == nil {
				base = b
			} else {
				lcitklog.Printf("mapping: load-base correction failed for %s: %v\n", e.path, err)
				base = e.start
			}
		}
		return Mapping{Start: e.start, End: e.end, ImagePath: e.path, ImageBase: base}, nil
	}
	return Mapping{}, fmt.Errorf("mapping: address 0x%x in pid %d: %w", addr, pid, lcitkerr.ErrNotFound)
}

func isReadExec(perms string) bool {
	return len(perms) >= 3 && perms[0] == 'r' && perms[2] == 'x'
}

// imageBase applies the vaddr-off correction from the backing file's
// first readable+executable LOAD segment to a mapping's start
// address, per spec.md §3's image_base definition.
func imageBase(mappingStart uint64, path string) (uint64, error) {
	shift, err := elfimage.FirstExecLoadShift(path)
	if err != nil {
		return 0, err
	}
	return uint64(int64(mappingStart) - shift), nil
}
