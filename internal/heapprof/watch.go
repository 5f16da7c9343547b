package heapprof

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fsnotify/fsnotify"
)

// WatchReports tails path, calling onLine for every complete line
// appended after the watch starts, until ctx is cancelled. It backs
// cmd/lcitk-heapprof's tail mode and lets tests observe a report being
// written without polling the file (DESIGN.md's companion log-watcher,
// wired to github.com/fsnotify/fsnotify per SPEC_FULL.md §6).
func WatchReports(ctx context.Context, path string, onLine func(string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("heapprof: new watcher: %w", err)
	}
	defer watcher.Close()

	// Ensure the file exists so the watch target and the initial seek
	// offset are well-defined even before the profiler's first report.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0644)
	if err != nil {
		return fmt.Errorf("heapprof: open %s: %w", path, err)
	}
	defer f.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("heapprof: watch %s: %w", path, err)
	}

	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("heapprof: seek %s: %w", path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("heapprof: watch %s: %w", path, err)
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			offset, err = drainLinesFrom(f, offset, onLine)
			if err != nil {
				return fmt.Errorf("heapprof: read %s: %w", path, err)
			}
		}
	}
}

// drainLinesFrom reads every complete line appended to f since offset,
// calling onLine for each, and returns the new offset positioned after
// the last complete line (a trailing partial line is left unread so
// the next write completes it). If the file has shrunk below offset,
// reading restarts at the beginning of the file.
func drainLinesFrom(f *os.File, offset int64, onLine func(string)) (int64, error) {
	// A rotation truncates the file; start over from its beginning.
	if fi, err := f.Stat(); err == nil && fi.Size() < offset {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset, err
	}
	r := bufio.NewReader(f)
	newOffset := offset
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 && line[len(line)-1] == '\n' {
			onLine(line[:len(line)-1])
			newOffset += int64(len(line))
		}
		if err != nil {
			break
		}
	}
	return newOffset, nil
}
