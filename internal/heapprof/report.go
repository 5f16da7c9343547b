package heapprof

import (
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"
)

// ReportWriter appends profiler reports to a well-known log path
// (spec.md §4.K, §6 "Persisted state"), periodically moving the
// accumulated log contents into a zstd-compressed file so a long-lived
// injected target's log does not grow without bound (DESIGN.md's
// enrichment of original_source/heap.c's plain "a" fopen, wired to
// github.com/klauspost/compress/zstd per SPEC_FULL.md §6).
type ReportWriter struct {
	path        string
	rotateEvery int
	written     int
}

// NewReportWriter returns a writer whose every Write opens path for
// appending (creating it if absent, matching fopen(path, "a")); once
// rotateEvery writes have been made, the next Write first moves the
// accumulated contents to a "<path>.<n>.zst" file. rotateEvery <= 0
// disables rotation, leaving a single growing append-only file, the
// source's original behavior.
func NewReportWriter(path string, rotateEvery int) *ReportWriter {
	return &ReportWriter{path: path, rotateEvery: rotateEvery}
}

// Write appends report to the log file, rotating and zstd-compressing
// the prior contents first if the rotation threshold is reached.
func (w *ReportWriter) Write(report string) error {
	if w.rotateEvery > 0 && w.written > 0 && w.written%w.rotateEvery == 0 {
		if err := w.rotate(); err != nil {
			return fmt.Errorf("heapprof: rotate %s: %w", w.path, err)
		}
	}

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("heapprof: open %s: %w", w.path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(report); err != nil {
		return fmt.Errorf("heapprof: write %s: %w", w.path, err)
	}
	w.written++
	return nil
}

// rotate compresses the current log file's contents to
// "<path>.<written>.zst" and truncates path back to empty, so the
// live file a tail -f (or internal/heapprof's fsnotify watcher) is
// following never disappears out from under the reader.
func (w *ReportWriter) rotate() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("construct zstd encoder: %w", err)
	}
	defer enc.Close()
	compressed := enc.EncodeAll(data, nil)

	rotatedPath := fmt.Sprintf("%s.%d.zst", w.path, w.written)
	if err := os.WriteFile(rotatedPath, compressed, 0644); err != nil {
		return fmt.Errorf("write %s: %w", rotatedPath, err)
	}
	return os.Truncate(w.path, 0)
}
