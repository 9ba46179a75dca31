// Package disasm measures and renders single x86 / x64 instructions.
//
// It is a narrow wrapper around golang.org/x/arch/x86/x86asm: callers hand it
// a slice of code and the address that code lives at, and get back instruction
// lengths, boundaries and Intel syntax. Nothing here ever reads past the end of
// the slice it was given.
package disasm

import (
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"
)

// Lookahead is the decode window. Any defined x86 instruction fits in it.
const Lookahead = 32

// ErrInvalidInstruction is returned when bytes cannot be decoded.
var ErrInvalidInstruction = errors.New("invalid instruction")

// Mode is the processor mode code is decoded in.
type Mode int

const (
	Mode32 Mode = 32
	Mode64 Mode = 64
)

// Native returns the mode of the running process.
func Native() Mode {
	if runtime.GOARCH == "386" {
		return Mode32
	}
	return Mode64
}

func (m Mode) String() string {
	switch m {
	case Mode32:
		return "x86"
	case Mode64:
		return "x64"
	}
	return "unknown"
}

// Instruction is one decoded instruction.
type Instruction struct {
	Addr uintptr
	Len  int
	Text string // Intel syntax, only set by Disassemble
	Inst x86asm.Inst
}

// Next returns the address of the following instruction.
func (i Instruction) Next() uintptr {
	return i.Addr + uintptr(i.Len)
}

// Decoder decodes instructions in a fixed mode. It holds no mutable state.
type Decoder struct {
	mode Mode
}

func NewDecoder(mode Mode) *Decoder {
	if mode != Mode32 && mode != Mode64 {
		panic("disasm: unsupported mode")
	}
	return &Decoder{mode: mode}
}

func (d *Decoder) Mode() Mode { return d.mode }

func window(code []byte) []byte {
	if len(code) > Lookahead {
		return code[:Lookahead]
	}
	return code
}

// Decode decodes the instruction at the start of code, which lives at addr.
func (d *Decoder) Decode(code []byte, addr uintptr) (Instruction, error) {
	if len(code) == 0 {
		return Instruction{}, errors.Wrapf(ErrInvalidInstruction, "no code at %#x", addr)
	}
	inst, err := x86asm.Decode(window(code), int(d.mode))
	if err != nil {
		return Instruction{}, errors.Wrapf(ErrInvalidInstruction, "decode at %#x: %v", addr, err)
	}
	// a lone prefix comes back with no mnemonic
	if inst.Op == 0 || inst.Len <= 0 {
		return Instruction{}, errors.Wrapf(ErrInvalidInstruction, "decode at %#x: unknown opcode %#02x", addr, code[0])
	}
	return Instruction{Addr: addr, Len: inst.Len, Inst: inst}, nil
}

// DecodeLength returns the length in bytes of the instruction at the start
// of code.
func (d *Decoder) DecodeLength(code []byte) (int, error) {
	ins, err := d.Decode(code, 0)
	if err != nil {
		return 0, err
	}
	return ins.Len, nil
}

// Disassemble is Decode plus the Intel syntax rendering of the instruction.
// Relative targets are rendered as absolute addresses.
func (d *Decoder) Disassemble(code []byte, addr uintptr) (Instruction, error) {
	ins, err := d.Decode(code, addr)
	if err != nil {
		return ins, err
	}
	ins.Text = x86asm.IntelSyntax(ins.Inst, uint64(addr), noSymbols)
	return ins, nil
}

// Some x86asm releases call the lookup for every pc-relative operand.
func noSymbols(uint64) (string, uint64) { return "", 0 }

// RoundToInstructionBoundary returns the smallest sum of whole instruction
// lengths from the start of code that is at least minBytes.
func (d *Decoder) RoundToInstructionBoundary(code []byte, minBytes int) (int, error) {
	n := 0
	for n < minBytes {
		if n >= len(code) {
			return 0, errors.Wrapf(ErrInvalidInstruction, "code ends after %d of %d bytes", n, minBytes)
		}
		l, err := d.DecodeLength(code[n:])
		if err != nil {
			return 0, errors.Wrapf(err, "at offset %d", n)
		}
		n += l
	}
	return n, nil
}

// Walk decodes every instruction in code, which lives at addr, calling fn for
// each with its rendered text. It stops early when fn returns false. An
// instruction running past the end of code is an error.
func (d *Decoder) Walk(code []byte, addr uintptr, fn func(Instruction) bool) error {
	for off := 0; off < len(code); {
		ins, err := d.Disassemble(code[off:], addr+uintptr(off))
		if err != nil {
			return err
		}
		if !fn(ins) {
			return nil
		}
		off += ins.Len
	}
	return nil
}
