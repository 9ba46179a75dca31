// Package trampoline relocates the first instructions of a function so they
// can run from somewhere else.
//
// A hook overwrites the start of a function with a jump to its detour. The
// instructions that were there are copied into a trampoline first, with every
// position-dependent reference patched, so calling the trampoline still runs
// the original function. RelocateEntryPoint produces that copy;
// RoundToInstructionBoundary tells the installer how many bytes it may
// overwrite.
package trampoline

import (
	"io"
	"log/slog"

	"github.com/0xffffa/gohooker/internal/disasm"
)

const (
	// MaxEntryPointSize bounds the span RelocateEntryPoint accepts. Spans
	// this large or larger are a programming error.
	MaxEntryPointSize = 20

	// MaxSize is the destination capacity callers should reserve for a
	// relocated entry point. Rewritten branches grow up to 12 bytes each.
	MaxSize = 100
)

type (
	Mode        = disasm.Mode
	Instruction = disasm.Instruction
)

const (
	Mode32 = disasm.Mode32
	Mode64 = disasm.Mode64
)

// Native returns the mode of the running process.
func Native() Mode { return disasm.Native() }

// Relocator relocates entry points for one processor mode. It is immutable
// and safe for concurrent use.
type Relocator struct {
	dec *disasm.Decoder
	log *slog.Logger
}

type Option func(*Relocator)

// WithLogger sends debug records about each relocation decision to l.
func WithLogger(l *slog.Logger) Option {
	return func(r *Relocator) {
		if l != nil {
			r.log = l
		}
	}
}

func NewRelocator(mode Mode, opts ...Option) *Relocator {
	r := &Relocator{
		dec: disasm.NewDecoder(mode),
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Relocator) Mode() Mode { return r.dec.Mode() }

func (r *Relocator) Logger() *slog.Logger { return r.log }

// DecodeLength returns the length of the instruction at the start of code.
func (r *Relocator) DecodeLength(code []byte) (int, error) {
	return r.dec.DecodeLength(code)
}

// RoundToInstructionBoundary rounds minBytes up to the end of the instruction
// it falls in, counting from the start of entry. The result is the number of
// bytes a hook may overwrite without splitting an instruction.
func (r *Relocator) RoundToInstructionBoundary(entry Region, minBytes int) (int, error) {
	return r.dec.RoundToInstructionBoundary(entry.Code, minBytes)
}

// Disassemble decodes and renders every instruction in code.
func (r *Relocator) Disassemble(code Region) ([]Instruction, error) {
	var out []Instruction
	err := r.dec.Walk(code.Code, code.Addr, func(ins Instruction) bool {
		out = append(out, ins)
		return true
	})
	return out, err
}
