// Package symres enumerates static and dynamic symbol tables and
// dynamic relocations of an ELF image and resolves names to addresses.
// Grounded on original_source/objdump.c's find_function,
// find_relocation and find_libc_function.
package symres

import (
	"context"
	"debug/elf"
	"fmt"
	"strings"

	"github.com/xyproto/lcitk/internal/config"
	"github.com/xyproto/lcitk/internal/lcitkerr"
	"github.com/xyproto/lcitk/internal/lcitklog"
	"github.com/xyproto/lcitk/internal/mapping"
	"github.com/xyproto/lcitk/internal/toolrun"
)

// FindFunction implements find_function(pid, image_substring, name):
// combines component C with the union of the image's static and
// dynamic symbol tables. Multiple symbols with the same name resolve
// "last-wins" (spec.md §4.D), matching the C source's loop that never
// breaks early on a match.
func FindFunction(pid int, imageSubstring, name string) (addr uint64, path string, err error) {
	m, err := mapping.FindImageAddress(pid, imageSubstring)
	if err != nil {
		return 0, "", err
	}

	offset, err := symbolOffset(m.ImagePath, name)
	if err != nil {
		// debug/elf couldn't resolve it (e.g. a version-script-only
		// symbol); fall back to shelling out to objdump -tT, the way
		// original_source/objdump.c does unconditionally.
		lcitklog.Printf("symres: debug/elf lookup of %s failed (%v), falling back to objdump -tT\n", name, err)
		offset, err = symbolOffsetViaObjdump(m.ImagePath, name)
		if err != nil {
			return 0, "", err
		}
	}
	return m.ImageBase + offset, m.ImagePath, nil
}

// FindLibcFunction implements find_libc_function: find_function with
// the fixed substring "/libc".
func FindLibcFunction(pid int, name string) (uint64, string, error) {
	return FindFunction(pid, "/libc", name)
}

// FindRelocation implements find_relocation(pid, image_substring,
// func): the address of the relocation slot for func, not the
// address of func itself.
func FindRelocation(pid int, imageSubstring, name string) (uint64, error) {
	m, err := mapping.FindImageAddress(pid, imageSubstring)
	if err != nil {
		return 0, err
	}
	offset, err := relocationOffset(m.ImagePath, name)
	if err != nil {
		lcitklog.Printf("symres: debug/elf relocation lookup of %s failed (%v), falling back to objdump -rR\n", name, err)
		offset, err = relocationOffsetViaObjdump(m.ImagePath, name)
		if err != nil {
			return 0, err
		}
	}
	return m.ImageBase + offset, nil
}

// Symbol is one name/offset pair from an image's symbol table.
type Symbol struct {
	Name   string
	Offset uint64
}

// ListSymbols returns every named static and dynamic symbol in path,
// used by component J to populate its per-image symbol table in one
// pass instead of one objdump invocation per queried address (the same
// "-tT" dump original_source/symtab.c's cache_symbols shells out to,
// but parsed once via debug/elf when possible).
func ListSymbols(path string) ([]Symbol, error) {
	f, err := elf.Open(path)
	if err != nil {
		return listSymbolsViaObjdump(path)
	}
	defer f.Close()

	var out []Symbol
	if syms, err := f.Symbols(); err == nil {
		for _, s := range syms {
			if s.Name != "" {
				out = append(out, Symbol{Name: s.Name, Offset: s.Value})
			}
		}
	}
	if dsyms, err := f.DynamicSymbols(); err == nil {
		for _, s := range dsyms {
			if s.Name != "" {
				out = append(out, Symbol{Name: s.Name, Offset: s.Value})
			}
		}
	}
	if len(out) == 0 {
		return listSymbolsViaObjdump(path)
	}
	return out, nil
}

// listSymbolsViaObjdump parses the same "-tT" grammar as
// symbolOffsetViaObjdump, but keeps every row instead of matching a
// single name.
func listSymbolsViaObjdump(path string) ([]Symbol, error) {
	out, err := toolrun.Run(context.Background(), config.ObjdumpPath(), []string{"-tT", path}, nil)
	if err != nil {
		return nil, fmt.Errorf("symres: %w: %v", lcitkerr.ErrToolFailure, err)
	}
	var syms []Symbol
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		addr, perr := parseHexAddr(fields[0])
		if perr != nil {
			continue
		}
		name := fields[len(fields)-1]
		syms = append(syms, Symbol{Name: name, Offset: addr})
	}
	if len(syms) == 0 {
		return nil, fmt.Errorf("symres: no symbols parsed from objdump -tT %s: %w", path, lcitkerr.ErrToolFailure)
	}
	return syms, nil
}

// symbolOffset resolves name to a file offset (the "vaddr" column,
// which becomes offset_from_image_base once combined with the image
// base) using debug/elf's static and dynamic symbol tables, preserving
// the last-wins tie-break of the reference implementation.
func symbolOffset(path, name string) (uint64, error) {
	f, err := elf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("symres: open %s: %w", path, err)
	}
	defer f.Close()

	var found uint64
	ok := false

	if syms, err := f.Symbols(); err == nil {
		for _, s := range syms {
			if s.Name == name {
				found, ok = s.Value, true
			}
		}
	}
	if dsyms, err := f.DynamicSymbols(); err == nil {
		for _, s := range dsyms {
			if s.Name == name {
				found, ok = s.Value, true
			}
		}
	}
	if !ok {
		return 0, fmt.Errorf("symres: %s not in %s: %w", name, path, lcitkerr.ErrNotFound)
	}
	return found, nil
}

// relocationOffset resolves name to the address of its relocation
// slot via debug/elf's dynamic relocation entries (.rela.dyn/.rela.plt).
func relocationOffset(path, name string) (uint64, error) {
	f, err := elf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("symres: open %s: %w", path, err)
	}
	defer f.Close()

	dsyms, err := f.DynamicSymbols()
	if err != nil {
		return 0, fmt.Errorf("symres: no dynamic symbols in %s: %w", path, err)
	}

	relSections := []string{".rela.dyn", ".rela.plt", ".rel.dyn", ".rel.plt"}
	for _, secName := range relSections {
		sec := f.Section(secName)
		if sec == nil {
			continue
		}
		rels, err := readRelocations(f, sec)
		if err != nil {
			continue
		}
		var found uint64
		ok := false
		for _, r := range rels {
			symIdx := int(r.info >> 32)
			if symIdx <= 0 || symIdx >= len(dsyms)+1 {
				continue
			}
			if dsyms[symIdx-1].Name == name {
				found, ok = r.offset, true
			}
		}
		if ok {
			return found, nil
		}
	}
	return 0, fmt.Errorf("symres: relocation for %s not in %s: %w", name, path, lcitkerr.ErrNotFound)
}

type rela struct {
	offset uint64
	info   uint64
}

// readRelocations decodes an ELF64 RELA (or REL) section's raw bytes
// by hand; debug/elf does not expose a generic "give me every
// relocation in this section" accessor for arbitrary architectures,
// so this mirrors the on-disk Elf64_Rela layout directly.
func readRelocations(f *elf.File, sec *elf.Section) ([]rela, error) {
	data, err := sec.Data()
	if err != nil {
		return nil, err
	}
	const relaEntrySize = 24 // offset(8) + info(8) + addend(8)
	const relEntrySize = 16  // offset(8) + info(8)
	entrySize := relaEntrySize
	if strings.HasPrefix(sec.Name, ".rel.") {
		entrySize = relEntrySize
	}
	var out []rela
	bo := f.ByteOrder
	for off := 0; off+entrySize <= len(data); off += entrySize {
		out = append(out, rela{
			offset: bo.Uint64(data[off:]),
			info:   bo.Uint64(data[off+8:]),
		})
	}
	return out, nil
}

// symbolOffsetViaObjdump parses "objdump -tT" output, matching
// find_function's sscanf grammar: a line with version information
// ("addr flags section size ver name") and a line without ("addr flags
// section size name"). The last exact match wins.
func symbolOffsetViaObjdump(path, name string) (uint64, error) {
	out, err := toolrun.Run(context.Background(), config.ObjdumpPath(), []string{"-tT", path}, nil)
	if err != nil {
		return 0, fmt.Errorf("symres: %w: %v", lcitkerr.ErrToolFailure, err)
	}
	var found uint64
	ok := false
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		addrHex := fields[0]
		var symName string
		switch {
		case len(fields) >= 7:
			symName = fields[6]
		default:
			symName = fields[len(fields)-1]
		}
		if symName != name {
			continue
		}
		addr, perr := parseHexAddr(addrHex)
		if perr != nil {
			continue
		}
		found, ok = addr, true
	}
	if !ok {
		return 0, fmt.Errorf("symres: %s not in objdump -tT %s: %w", name, path, lcitkerr.ErrNotFound)
	}
	return found, nil
}

// relocationOffsetViaObjdump parses "objdump -rR" output, matching
// find_relocation's "addr type name" grammar with an exact name match.
func relocationOffsetViaObjdump(path, name string) (uint64, error) {
	out, err := toolrun.Run(context.Background(), config.ObjdumpPath(), []string{"-rR", path}, nil)
	if err != nil {
		return 0, fmt.Errorf("symres: %w: %v", lcitkerr.ErrToolFailure, err)
	}
	var found uint64
	ok := false
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 3 {
			continue
		}
		if fields[2] != name {
			continue
		}
		addr, perr := parseHexAddr(fields[0])
		if perr != nil {
			continue
		}
		found, ok = addr, true
	}
	if !ok {
		return 0, fmt.Errorf("symres: relocation for %s not in objdump -rR %s: %w", name, path, lcitkerr.ErrNotFound)
	}
	return found, nil
}

func parseHexAddr(s string) (uint64, error) {
	var v uint64
	_, err := fmt.Sscanf(s, "%x", &v)
	return v, err
}
