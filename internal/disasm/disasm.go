// Package disasm bridges to the objdump binary to disassemble a range
// of a file or an in-memory buffer, returning instruction records.
// Grounded on original_source/asm.c's parse_objdump_asm,
// get_instructions and get_instructions_from_memory.
package disasm

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/xyproto/lcitk/internal/config"
	"github.com/xyproto/lcitk/internal/lcitkerr"
	"github.com/xyproto/lcitk/internal/toolrun"
)

// Instruction is one disassembled instruction (spec.md §3).
type Instruction struct {
	Address  uint64
	Raw      []byte
	Mnemonic string
	Operand  string
}

// IsBranching reports whether the instruction must be rejected from a
// relocatable prologue per spec.md §4.I: its mnemonic begins with j,
// call, or loop, or its operand text mentions the instruction pointer.
func (ins Instruction) IsBranching() bool {
	m := strings.ToLower(ins.Mnemonic)
	if strings.HasPrefix(m, "j") || strings.HasPrefix(m, "call") || strings.HasPrefix(m, "loop") {
		return true
	}
	return strings.Contains(strings.ToLower(ins.Operand), "rip")
}

// GetInstructions implements get_instructions(file, addr, minBytes):
// disassembles file between addr and addr+minBytes, returning enough
// instructions to cover at least minBytes.
func GetInstructions(ctx context.Context, file string, addr uint64, minBytes int) ([]Instruction, error) {
	start := fmt.Sprintf("0x%x", addr)
	stop := fmt.Sprintf("0x%x", addr+uint64(minBytes))
	out, err := toolrun.Run(ctx, config.ObjdumpPath(),
		[]string{"-D", "--start-address=" + start, "--stop-address=" + stop, file}, nil)
	if err != nil {
		return nil, fmt.Errorf("disasm: %w: %v", lcitkerr.ErrToolFailure, err)
	}
	instrs := parseObjdumpAsm(string(out))
	if len(instrs) == 0 {
		return nil, fmt.Errorf("disasm: no instructions parsed from %s: %w", file, lcitkerr.ErrToolFailure)
	}
	return instrs, nil
}

// GetInstructionsFromMemory implements get_instructions_from_memory:
// writes buf to a temporary file, disassembles it in x86-64 mode, then
// deletes the file. Used by component I to inspect a live prologue
// copied out of a remote process.
func GetInstructionsFromMemory(ctx context.Context, buf []byte) ([]Instruction, error) {
	tmp, err := os.CreateTemp("", "lcitk-prologue-*.bin")
	if err != nil {
		return nil, fmt.Errorf("disasm: create temp file: %w", err)
	}
	path := tmp.Name()
	defer os.Remove(path)

	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("disasm: write temp file: %w", err)
	}
	tmp.Close()

	out, err := toolrun.Run(ctx, config.ObjdumpPath(),
		[]string{"-D", "-b", "binary", "-m", "i386", "-M", "x86-64", path}, nil)
	if err != nil {
		return nil, fmt.Errorf("disasm: %w: %v", lcitkerr.ErrToolFailure, err)
	}
	instrs := parseObjdumpAsm(string(out))
	if len(instrs) == 0 {
		return nil, fmt.Errorf("disasm: no instructions parsed from memory buffer: %w", lcitkerr.ErrToolFailure)
	}
	return instrs, nil
}

// parseObjdumpAsm implements the line grammar of
// original_source/asm.c's parse_objdump_asm: the first hex token
// before a colon is the address; subsequent two-character hex tokens
// separated by a single space are the opcode bytes, terminated by a
// non-hex token which is the mnemonic; every token after the mnemonic,
// joined with single spaces, is the operand field.
func parseObjdumpAsm(output string) []Instruction {
	var out []Instruction
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}
		addrToken := strings.TrimSpace(line[:colon])
		addr, err := strconv.ParseUint(addrToken, 16, 64)
		if err != nil {
			continue
		}

		rest := strings.TrimSpace(line[colon+1:])
		// The opcode-byte run and the mnemonic text are separated by
		// two spaces in objdump's -D output ("ff e0    \tjmp *%rax").
		fields := strings.Fields(rest)

		var raw []byte
		i := 0
		for ; i < len(fields); i++ {
			b, perr := parseHexByte(fields[i])
			if perr != nil {
				break
			}
			raw = append(raw, b)
		}
		if len(raw) == 0 || i >= len(fields) {
			continue
		}

		mnemonic := fields[i]
		operand := ""
		if i+1 < len(fields) {
			operand = strings.Join(fields[i+1:], " ")
		}

		out = append(out, Instruction{
			Address:  addr,
			Raw:      raw,
			Mnemonic: mnemonic,
			Operand:  operand,
		})
	}
	return out
}

func parseHexByte(tok string) (byte, error) {
	if len(tok) != 2 {
		return 0, fmt.Errorf("not a byte token: %q", tok)
	}
	v, err := strconv.ParseUint(tok, 16, 8)
	if err != nil {
		return 0, err
	}
	return byte(v), nil
}
