package symcache

import "testing"

func TestIntMapGetAndPut(t *testing.T) {
	m := newIntMap[string]()
	m.Put(10, "ten")
	m.Put(5, "five")
	m.Put(20, "twenty")

	if v, ok := m.Get(5); !ok || v != "five" {
		t.Fatalf("Get(5) = (%q, %v), want (\"five\", true)", v, ok)
	}
	if _, ok := m.Get(7); ok {
		t.Fatal("Get(7) should miss")
	}

	m.Put(10, "TEN")
	if v, ok := m.Get(10); !ok || v != "TEN" {
		t.Fatalf("Put should overwrite existing key, got (%q, %v)", v, ok)
	}
}

func TestIntMapFloorFindsNearestPredecessor(t *testing.T) {
	m := newIntMap[string]()
	m.Put(10, "ten")
	m.Put(20, "twenty")
	m.Put(30, "thirty")

	if k, v, ok := m.Floor(25); !ok || k != 20 || v != "twenty" {
		t.Fatalf("Floor(25) = (%d, %q, %v), want (20, \"twenty\", true)", k, v, ok)
	}
	if k, v, ok := m.Floor(30); !ok || k != 30 || v != "thirty" {
		t.Fatalf("Floor(30) exact match = (%d, %q, %v), want (30, \"thirty\", true)", k, v, ok)
	}
	if _, _, ok := m.Floor(5); ok {
		t.Fatal("Floor(5) below every key should miss")
	}
}

func TestStringMapGetAndPut(t *testing.T) {
	m := newStringMap[int]()
	m.Put("/lib/libc.so.6", 1)
	m.Put("/bin/ls", 2)

	if v, ok := m.Get("/bin/ls"); !ok || v != 2 {
		t.Fatalf("Get(/bin/ls) = (%d, %v), want (2, true)", v, ok)
	}
	if _, ok := m.Get("/missing"); ok {
		t.Fatal("Get(/missing) should miss")
	}

	m.Put("/bin/ls", 3)
	if v, _ := m.Get("/bin/ls"); v != 3 {
		t.Fatalf("Put should overwrite, got %d", v)
	}
}
