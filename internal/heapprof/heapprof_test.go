package heapprof

import (
	"strings"
	"testing"
	"time"
)

func TestInstrumentMallocDedupesIdenticalBacktraces(t *testing.T) {
	p := New(time.Unix(0, 0), 10*time.Minute)
	bt := []uintptr{0x1000, 0x2000, 0x3000}

	now := time.Unix(0, 0)
	for i := 0; i < 5; i++ {
		p.InstrumentMalloc(uintptr(0x5000+i), 64, bt, now)
	}
	other := []uintptr{0x9000}
	for i := 0; i < 3; i++ {
		p.InstrumentMalloc(uintptr(0x6000+i), 32, other, now)
	}

	stats := p.Stats()
	if stats.ActiveBacktraces != 2 {
		t.Fatalf("expected 2 distinct backtraces, got %d", stats.ActiveBacktraces)
	}
	if stats.ActiveAllocations != 8 {
		t.Fatalf("expected 8 live allocations, got %d", stats.ActiveAllocations)
	}
	if rc, ok := p.BacktraceRefcount(0x5000); !ok || rc != 5 {
		t.Fatalf("expected refcount 5 for first backtrace, got %d (ok=%v)", rc, ok)
	}
	if rc, ok := p.BacktraceRefcount(0x6000); !ok || rc != 3 {
		t.Fatalf("expected refcount 3 for second backtrace, got %d (ok=%v)", rc, ok)
	}
}

func TestInstrumentFreeDecrementsRefcountAndRecyclesSlot(t *testing.T) {
	p := New(time.Unix(0, 0), 10*time.Minute)
	bt := []uintptr{0xaaaa}
	now := time.Unix(0, 0)

	p.InstrumentMalloc(0x100, 8, bt, now)
	p.InstrumentMalloc(0x200, 8, bt, now)

	if rc, _ := p.BacktraceRefcount(0x100); rc != 2 {
		t.Fatalf("expected refcount 2 before free, got %d", rc)
	}

	p.InstrumentFree(0x100)

	stats := p.Stats()
	if stats.ActiveAllocations != 1 {
		t.Fatalf("expected 1 live allocation after free, got %d", stats.ActiveAllocations)
	}
	if stats.ActiveBacktraces != 1 {
		t.Fatalf("expected backtrace to survive (refcount still 1), got %d active", stats.ActiveBacktraces)
	}

	p.InstrumentFree(0x200)
	stats = p.Stats()
	if stats.ActiveBacktraces != 0 {
		t.Fatalf("expected backtrace freed once refcount hits 0, got %d active", stats.ActiveBacktraces)
	}

	// Recycled slot: a fresh allocation should reuse the freed table
	// entry rather than growing the table again.
	p.InstrumentMalloc(0x300, 16, bt, now)
	if peak := p.Stats().PeakAllocations; peak != 2 {
		t.Fatalf("expected peak allocations to stay at 2 (slot recycled), got %d", peak)
	}
}

func TestInstrumentFreeUnknownPointerIsIgnored(t *testing.T) {
	p := New(time.Unix(0, 0), 10*time.Minute)
	p.InstrumentMalloc(0x1, 1, []uintptr{0x1}, time.Unix(0, 0))

	p.InstrumentFree(0xdeadbeef)

	if stats := p.Stats(); stats.ActiveAllocations != 1 {
		t.Fatalf("freeing an unknown pointer must not disturb live allocations, got %d", stats.ActiveAllocations)
	}
}

func TestShouldReportHonorsInterval(t *testing.T) {
	start := time.Unix(0, 0)
	p := New(start, 10*time.Minute)

	if p.ShouldReport(start.Add(5 * time.Minute)) {
		t.Fatal("should not report before the interval elapses")
	}
	if !p.ShouldReport(start.Add(10 * time.Minute)) {
		t.Fatal("should report once the interval elapses")
	}
}

func TestReportSortsInvalidFirstThenByDescendingAge(t *testing.T) {
	p := New(time.Unix(0, 0), 10*time.Minute)
	base := time.Unix(1000, 0)

	p.InstrumentMalloc(0x1, 8, []uintptr{0x1}, base)
	p.InstrumentMalloc(0x2, 8, []uintptr{0x1}, base.Add(5*time.Second))
	p.InstrumentMalloc(0x3, 8, []uintptr{0x1}, base.Add(10*time.Second))
	p.InstrumentFree(0x2)

	report := p.Report(base.Add(20 * time.Second))

	if !strings.Contains(report, "*** BEGIN REPORT:") || !strings.Contains(report, "*** END REPORT ***") {
		t.Fatalf("report missing begin/end markers: %q", report)
	}
	if !strings.Contains(report, "Active allocations:\t\t2") {
		t.Fatalf("expected 2 active allocations in report, got: %q", report)
	}
	if !strings.Contains(report, "0x1") {
		t.Fatalf("expected backtrace address in report, got: %q", report)
	}
	// Valid rows follow oldest first: 0x1 (age 20s) before 0x3 (age 10s).
	if older, newer := strings.Index(report, "20s"), strings.Index(report, "10s"); older < 0 || newer < 0 || older > newer {
		t.Fatalf("expected the 20s-old row before the 10s-old row, got: %q", report)
	}
}

func TestFormatAgeOmitsLeadingZeroUnits(t *testing.T) {
	cases := map[time.Duration]string{
		45 * time.Second:                     "45s",
		90 * time.Second:                     "1m30s",
		2*time.Hour + 3*time.Minute + 4*time.Second: "2h3m4s",
		25*time.Hour + 1*time.Second:         "1d1h1s",
	}
	for d, want := range cases {
		if got := formatAge(d); got != want {
			t.Errorf("formatAge(%v) = %q, want %q", d, got, want)
		}
	}
}
