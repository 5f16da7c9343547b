// Package rmem reads from and writes to an attached process's address
// space, combining a bulk /proc/pid/mem file read with word-at-a-time
// ptrace peek as the read fallback; every write goes through
// word-at-a-time ptrace poke. Grounded on original_source/process.c's
// process_read and process_write.
package rmem

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/xyproto/lcitk/internal/lcitkerr"
	"github.com/xyproto/lcitk/internal/lcitklog"
)

const wordSize = 8

// Read implements process_read(pid, len, remote_addr): a bulk read
// through /proc/pid/mem, falling back to word-at-a-time PEEKDATA
// (auto-attaching if the caller is not already tracing pid).
func Read(pid int, addr uint64, length int) ([]byte, error) {
	if buf, err := readViaMemFile(pid, addr, length); err == nil {
		return buf, nil
	}
	return readViaPeek(pid, addr, length)
}

// Write implements process_write(pid, src, len, remote_addr). Writes
// that are not word-aligned in length read the trailing word first,
// merge the tail bytes, and write the merged word back (spec.md §4.F).
// No page-protection management is performed here; callers that need
// to write to a read-only page (component I) are expected to toggle
// protection themselves.
func Write(pid int, addr uint64, data []byte) error {
	return writeViaPoke(pid, addr, data)
}

func readViaMemFile(pid int, addr uint64, length int) ([]byte, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/mem", pid))
	if err != nil {
		return nil, fmt.Errorf("rmem: open mem file: %w", err)
	}
	defer f.Close()

	buf := make([]byte, length)
	n, err := f.ReadAt(buf, int64(addr))
	if err != nil && n != length {
		return nil, fmt.Errorf("rmem: %w: read mem file at %#x: %v", lcitkerr.ErrRemoteIO, addr, err)
	}
	return buf, nil
}

func readViaPeek(pid int, addr uint64, length int) ([]byte, error) {
	attached, err := ensureAttached(pid)
	if err != nil {
		return nil, err
	}
	if attached {
		defer detach(pid)
	}

	out := make([]byte, 0, length)
	for remaining := length; remaining > 0; {
		word := make([]byte, wordSize)
		n, err := unix.PtracePeekData(pid, uintptr(addr+uint64(len(out))), word)
		if err != nil || n != wordSize {
			return nil, fmt.Errorf("rmem: %w: PEEKDATA at %#x: %v", lcitkerr.ErrRemoteIO, addr, err)
		}
		take := wordSize
		if take > remaining {
			take = remaining
		}
		out = append(out, word[:take]...)
		remaining -= take
	}
	return out, nil
}

func writeViaPoke(pid int, addr uint64, data []byte) error {
	attached, err := ensureAttached(pid)
	if err != nil {
		return err
	}
	if attached {
		defer detach(pid)
	}

	written := 0
	for written < len(data) {
		remaining := len(data) - written
		wordAddr := addr + uint64(written)

		if remaining >= wordSize {
			chunk := data[written : written+wordSize]
			if _, err := unix.PtracePokeData(pid, uintptr(wordAddr), chunk); err != nil {
				return fmt.Errorf("rmem: %w: POKEDATA at %#x: %v", lcitkerr.ErrRemoteIO, wordAddr, err)
			}
			written += wordSize
			continue
		}

		// Trailing partial word: read the existing word, merge the
		// new tail bytes over its low bytes, and write the merged
		// word back (spec.md §4.F).
		existing := make([]byte, wordSize)
		if _, err := unix.PtracePeekData(pid, uintptr(wordAddr), existing); err != nil {
			return fmt.Errorf("rmem: %w: PEEKDATA (merge) at %#x: %v", lcitkerr.ErrRemoteIO, wordAddr, err)
		}
		copy(existing, data[written:])
		if _, err := unix.PtracePokeData(pid, uintptr(wordAddr), existing); err != nil {
			return fmt.Errorf("rmem: %w: POKEDATA (merge) at %#x: %v", lcitkerr.ErrRemoteIO, wordAddr, err)
		}
		written += remaining
	}
	return nil
}

// ensureAttached attaches to pid and waits for it to stop if the
// caller is not already tracing it, reporting whether it performed
// the attach (so the caller knows whether to detach afterward).
//
// Determining "already attached" from outside the tracer has no
// direct syscall; this package follows the source's auto-attach
// fallback by always attempting PTRACE_ATTACH and tolerating EPERM
// (already being traced by this same tracer returns EPERM on a second
// attach attempt) as "already attached, proceed".
func ensureAttached(pid int) (attachedHere bool, err error) {
	if err := unix.PtraceAttach(pid); err != nil {
		if err == unix.EPERM {
			lcitklog.Printf("rmem: pid %d already traced, proceeding without a fresh attach\n", pid)
			return false, nil
		}
		return false, fmt.Errorf("rmem: %w: attach pid %d: %v", lcitkerr.ErrTraceAttach, pid, err)
	}
	var ws unix.WaitStatus
	if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
		return false, fmt.Errorf("rmem: %w: wait4 pid %d: %v", lcitkerr.ErrTraceAttach, pid, err)
	}
	return true, nil
}

func detach(pid int) {
	if err := unix.PtraceDetach(pid); err != nil {
		lcitklog.Printf("rmem: detach pid %d failed: %v\n", pid, err)
	}
}

// ReadUint64 is a convenience wrapper used throughout components C, D,
// G and I, which all read pointer-sized words from a remote process.
func ReadUint64(pid int, addr uint64) (uint64, error) {
	buf, err := Read(pid, addr, wordSize)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// WriteUint64 is the write-side counterpart of ReadUint64.
func WriteUint64(pid int, addr uint64, v uint64) error {
	buf := make([]byte, wordSize)
	binary.LittleEndian.PutUint64(buf, v)
	return Write(pid, addr, buf)
}
