package trampoline

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"github.com/0xffffa/gohooker/internal/disasm"
)

type hexAddr uintptr

func (a hexAddr) String() string { return fmt.Sprintf("%#x", uintptr(a)) }

// RelocateEntryPoint copies the first size bytes of entry into dst so that
// running dst behaves like running entry, and returns the number of bytes
// written. size must already be rounded to an instruction boundary with
// RoundToInstructionBoundary and be below MaxEntryPointSize; dst should hold
// MaxSize bytes.
//
// Relative calls and jumps are rewritten to load their absolute target into
// eax/rax and branch through it. rip-relative operands are re-aimed at their
// original target. Conditional branches cannot be relocated and fail with an
// *UnsupportedError. On error the contents of dst are undefined.
func (r *Relocator) RelocateEntryPoint(entry Region, size int, dst Region) (int, error) {
	if size >= MaxEntryPointSize {
		panic(fmt.Sprintf("trampoline: entry point span of %d bytes exceeds %d", size, MaxEntryPointSize-1))
	}
	if size > len(entry.Code) {
		return 0, errors.Wrapf(ErrInvalidInstruction, "entry point at %#x has %d bytes, %d requested",
			entry.Addr, len(entry.Code), size)
	}

	out := &cursor{dst: dst}
	for off := 0; off < size; {
		src := entry.At(off)
		ins, err := r.dec.Decode(src.Code, src.Addr)
		if err != nil {
			return 0, err
		}
		if err := r.relocateOne(entry, size, off == 0, ins, src, out); err != nil {
			return 0, err
		}
		off += ins.Len
	}

	r.log.Debug("relocated entry point",
		"from", hexAddr(entry.Addr), "to", hexAddr(dst.Addr), "size", size, "written", out.n)
	return out.n, nil
}

func (r *Relocator) relocateOne(entry Region, size int, first bool, ins disasm.Instruction, src Region, out *cursor) error {
	op := src.Code[:ins.Len]
	prefixLen := 0
	a16 := false
	class := classifyCode(op)
	if class == Prefix && len(op) > 1 {
		// operand narrowing applies to this instruction only
		a16 = true
		prefixLen = 1
		class = classifyCode(op[1:])
	}

	switch class {
	case ShortCondJmpRel8:
		return unsupported(src.Addr, ReasonShortCondJump)
	case JcxzRel8:
		return unsupported(src.Addr, ReasonJcxz)
	case NearCondJmpRel32:
		return unsupported(src.Addr, ReasonNearCondJump)
	case NearJmpRel32:
		if !first {
			return unsupported(src.Addr, ReasonJmpNotFirst)
		}
		fallthrough
	case NearCallRel32, ShortJmpRel8:
		return r.rewriteBranch(entry, size, class, op[prefixLen+1:], a16, ins, out)
	}

	if hasRelOperand(ins.Inst) {
		return unsupported(src.Addr, ReasonRelativeBranch)
	}

	ok, err := r.relocateRIP(ins, src, out.rest())
	if err != nil {
		return err
	}
	if ok {
		out.advance(ins.Len)
		return nil
	}
	return out.write(op)
}

// rewriteBranch replaces a relative call or jump with an absolute load of its
// target followed by an indirect call or jump.
func (r *Relocator) rewriteBranch(entry Region, size int, class Class, operand []byte, a16 bool, ins disasm.Instruction, out *cursor) error {
	var rel int64
	var width int
	switch {
	case class == ShortJmpRel8:
		width = 1
	case a16:
		width = 2
	default:
		width = 4
	}
	if len(operand) != width {
		return unsupported(ins.Addr, ReasonOperandWidth)
	}
	switch width {
	case 1:
		rel = int64(int8(operand[0]))
	case 2:
		rel = int64(int16(binary.LittleEndian.Uint16(operand)))
	case 4:
		rel = int64(int32(binary.LittleEndian.Uint32(operand)))
	}

	target := uint64(ins.Next()) + uint64(rel)
	if r.Mode() == disasm.Mode32 {
		target &= 0xFFFFFFFF
	}
	if entry.contains(target, size) {
		return unsupported(ins.Addr, ReasonSelfReference)
	}

	asm := absoluteBranch(r.Mode(), target, class == NearCallRel32)
	r.log.Debug("rewrote relative branch",
		"addr", hexAddr(ins.Addr), "class", class, "target", hexAddr(uintptr(target)), "at", hexAddr(out.addr()))
	return out.write(asm)
}
