package symcache

import "sort"

type stringEntry[V any] struct {
	key   string
	value V
}

// stringMap is an ordered map keyed by string, used for the
// path-to-symbol-table lookup spec.md §4.J calls for (get_symbols'
// searchStr in original_source/symtab.c). Only exact lookup is
// needed here, never nearest-predecessor.
type stringMap[V any] struct {
	entries []stringEntry[V]
}

func newStringMap[V any]() *stringMap[V] {
	return &stringMap[V]{}
}

func (m *stringMap[V]) Get(key string) (V, bool) {
	i := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].key >= key })
	if i < len(m.entries) && m.entries[i].key == key {
		return m.entries[i].value, true
	}
	var zero V
	return zero, false
}

func (m *stringMap[V]) Put(key string, value V) {
	i := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].key >= key })
	if i < len(m.entries) && m.entries[i].key == key {
		m.entries[i].value = value
		return
	}
	m.entries = append(m.entries, stringEntry[V]{})
	copy(m.entries[i+1:], m.entries[i:])
	m.entries[i] = stringEntry[V]{key: key, value: value}
}
