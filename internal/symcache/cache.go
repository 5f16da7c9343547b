package symcache

import (
	"fmt"

	"github.com/xyproto/lcitk/internal/lcitkerr"
	"github.com/xyproto/lcitk/internal/mapping"
	"github.com/xyproto/lcitk/internal/symres"
)

// mappingEntry is one cached memory mapping, the equivalent of
// original_source/symtab.c's Mapping struct. Keyed by its start
// address in the per-pid mappingTable below.
type mappingEntry struct {
	start, end, imageBase uint64
	imagePath             string
}

// symbolEntry is one cached symbol, the equivalent of Symbol. Keyed
// by its offset from the owning image's base address.
type symbolEntry struct {
	name string
}

// perPidMappings owns the ordered map of mappingEntry for one pid; it
// is the "container that owns a subtree" original_source/symtab.c
// expresses with tree_to_free, here just a field instead of a sentinel
// on a shared node type.
type perPidMappings struct {
	mappings *intMap[mappingEntry]
}

// Cache caches per-pid mappings and per-image symbol tables so
// repeated address lookups do not repeat work component C and D
// already did. The zero value is not usable; construct with New.
type Cache struct {
	pidMappings *intMap[*perPidMappings]
	imageSymbols *stringMap[*intMap[symbolEntry]]
}

// New constructs an empty cache, the equivalent of new_symtab_cache.
func New() *Cache {
	return &Cache{
		pidMappings:  newIntMap[*perPidMappings](),
		imageSymbols: newStringMap[*intMap[symbolEntry]](),
	}
}

// FindSymbolForAddress implements find_symbol_for_address(pid, addr)
// (spec.md §4.J): resolve the mapping containing addr in pid (creating
// and caching it via component C on a cache miss), resolve that
// image's symbol table (populating it via component D on first use),
// and return the name of the symbol with the largest offset not
// exceeding addr-image_base, together with its absolute address.
func (c *Cache) FindSymbolForAddress(pid int, addr uint64) (name string, symbolAddr uint64, err error) {
	m, err := c.findMapping(pid, addr)
	if err != nil {
		return "", 0, err
	}

	symbols, err := c.symbolsForImage(m.imagePath)
	if err != nil {
		return "", 0, err
	}

	offset, sym, ok := symbols.Floor(int64(addr - m.imageBase))
	if !ok {
		return "", 0, fmt.Errorf("symcache: no symbol at or below %#x in %s: %w", addr, m.imagePath, lcitkerr.ErrNotFound)
	}
	return sym.name, m.imageBase + uint64(offset), nil
}

// findMapping implements find_mapping_for_address: a per-pid table
// lookup, created on first reference, then a nearest-predecessor
// search validated against the candidate's [start, end] range before
// falling back to a fresh component C query.
func (c *Cache) findMapping(pid int, addr uint64) (mappingEntry, error) {
	table, ok := c.pidMappings.Get(int64(pid))
	if !ok {
		table = &perPidMappings{mappings: newIntMap[mappingEntry]()}
		c.pidMappings.Put(int64(pid), table)
	}

	if _, m, ok := table.mappings.Floor(int64(addr)); ok && m.start <= addr && addr <= m.end {
		return m, nil
	}

	found, err := mapping.FindImageForAddress(pid, addr)
	if err != nil {
		return mappingEntry{}, fmt.Errorf("symcache: %w", err)
	}
	m := mappingEntry{start: found.Start, end: found.End, imageBase: found.ImageBase, imagePath: found.ImagePath}
	table.mappings.Put(int64(m.start), m)
	return m, nil
}

// symbolsForImage implements get_symbols: a path-keyed lookup,
// populated from component D's ListSymbols on first reference.
func (c *Cache) symbolsForImage(path string) (*intMap[symbolEntry], error) {
	if table, ok := c.imageSymbols.Get(path); ok {
		return table, nil
	}

	syms, err := symres.ListSymbols(path)
	if err != nil {
		return nil, fmt.Errorf("symcache: %w", err)
	}

	table := newIntMap[symbolEntry]()
	for _, s := range syms {
		table.Put(int64(s.Offset), symbolEntry{name: s.Name})
	}
	c.imageSymbols.Put(path, table)
	return table, nil
}
