package mapping

import (
	"encoding/binary"
	"fmt"

	"github.com/xyproto/lcitk/internal/lcitkerr"
)

// MemReader reads n bytes from a remote process at addr. Callers pass
// in a component F (internal/rmem) read function; this package takes
// it as a parameter rather than importing rmem directly to keep the
// dependency graph a DAG (rmem has no reason to know about mappings).
type MemReader func(addr uint64, n int) ([]byte, error)

// elf64HeaderSize and the field offsets this package cares about,
// matching the Elf64_Ehdr layout (spec.md's "wire facts" are bit-exact
// by design for this toolkit).
const (
	elf64HeaderSize = 64
	offEIdentClass  = 4
	offEntry        = 0x18
	offPhoff        = 0x20
	offPhentsize    = 0x36
	offPhnum        = 0x38

	elfClass64 = 2

	elf64PhdrSize = 56
	offPType      = 0
	offPOffset    = 8
	offPVaddr     = 16

	ptLoad = 1
)

// FindProcessEntryPoint implements find_process_entry_point(pid):
// reads the main executable's ELF header directly out of the
// process's own memory and returns e_entry + image_base.
func FindProcessEntryPoint(pid int, elfHeaderAddr uint64, read MemReader) (uint64, error) {
	base, err := FindImageLoadInformation(elfHeaderAddr, read)
	if err != nil {
		return 0, err
	}
	hdr, err := read(elfHeaderAddr, elf64HeaderSize)
	if err != nil {
		return 0, fmt.Errorf("mapping: read ELF header: %w", err)
	}
	entry := binary.LittleEndian.Uint64(hdr[offEntry:])
	return base + entry, nil
}

// FindImageLoadInformation implements find_image_load_information:
// reads the ELF header in place at elfHeaderAddr, rejects a non-64-bit
// class, reads all program headers, and returns the image base from
// the PT_LOAD segment covering file offset 0 (or the first PT_LOAD if
// none covers offset 0 exactly, the source's observed tolerance,
// preserved here rather than tightened).
func FindImageLoadInformation(elfHeaderAddr uint64, read MemReader) (uint64, error) {
	hdr, err := read(elfHeaderAddr, elf64HeaderSize)
	if err != nil {
		return 0, fmt.Errorf("mapping: read ELF header: %w", err)
	}
	if hdr[offEIdentClass] != elfClass64 {
		return 0, fmt.Errorf("mapping: non-64-bit ELF class %d: %w", hdr[offEIdentClass], lcitkerr.ErrNotFound)
	}

	phoff := binary.LittleEndian.Uint64(hdr[offPhoff:])
	phentsize := binary.LittleEndian.Uint16(hdr[offPhentsize:])
	phnum := binary.LittleEndian.Uint16(hdr[offPhnum:])
	if phentsize == 0 || phnum == 0 {
		return 0, fmt.Errorf("mapping: no program headers: %w", lcitkerr.ErrNotFound)
	}

	phdrs, err := read(elfHeaderAddr+phoff, int(phentsize)*int(phnum))
	if err != nil {
		return 0, fmt.Errorf("mapping: read program headers: %w", err)
	}

	var firstLoadVaddr, firstLoadOffset uint64
	haveFirst := false
	for i := 0; i < int(phnum); i++ {
		entry := phdrs[i*int(phentsize):]
		if len(entry) < elf64PhdrSize {
			break
		}
		ptype := binary.LittleEndian.Uint32(entry[offPType:])
		if ptype != ptLoad {
			continue
		}
		offset := binary.LittleEndian.Uint64(entry[offPOffset:])
		vaddr := binary.LittleEndian.Uint64(entry[offPVaddr:])
		if !haveFirst {
			firstLoadVaddr, firstLoadOffset = vaddr, offset
			haveFirst = true
		}
		if offset == 0 {
			return elfHeaderAddr - (vaddr - offset), nil
		}
	}
	if !haveFirst {
		return 0, fmt.Errorf("mapping: no PT_LOAD segments: %w", lcitkerr.ErrNotFound)
	}
	return elfHeaderAddr - (firstLoadVaddr - firstLoadOffset), nil
}
