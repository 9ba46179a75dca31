package trampoline

import (
	"encoding/binary"

	"golang.org/x/arch/x86/x86asm"

	"github.com/0xffffa/gohooker/internal/disasm"
)

// ripFixup describes one rip-relative displacement being moved.
type ripFixup struct {
	start      uintptr
	dispOffset int
	oldDisp    int32
	newDisp    int32
}

// RelocateIfRIPRelative copies the instruction at the start of src to the
// start of dst if it addresses memory relative to rip, adjusting the
// displacement so it still reaches the same target from dst.Addr.
//
// It reports false without writing anything when the instruction is not
// rip-relative, or when the displacement field cannot be located in the
// instruction bytes. In x86 mode it always reports false.
func (r *Relocator) RelocateIfRIPRelative(src, dst Region) (bool, error) {
	if r.Mode() != disasm.Mode64 {
		return false, nil
	}
	ins, err := r.dec.Decode(src.Code, src.Addr)
	if err != nil {
		return false, err
	}
	return r.relocateRIP(ins, src, dst)
}

func (r *Relocator) relocateRIP(ins disasm.Instruction, src, dst Region) (bool, error) {
	if r.Mode() != disasm.Mode64 {
		return false, nil
	}
	mem, ok := pcRelativeMem(ins.Inst)
	if !ok {
		return false, nil
	}
	if mem.Base == x86asm.EIP {
		return false, unsupported(src.Addr, ReasonEIPRelative)
	}

	// x86asm zero-extends the 32-bit displacement
	disp := int64(int32(mem.Disp))
	fix, ok := locateDisplacement(ins, src.Code, disp)
	if !ok {
		r.log.Debug("rip-relative displacement not found in encoding, copying verbatim",
			"addr", hexAddr(src.Addr), "disp", disp)
		return false, nil
	}

	// The next-instruction address moves by the same delta as the
	// instruction itself, so the delta alone corrects the displacement.
	delta := int64(dst.Addr) - int64(src.Addr)
	newDisp := int64(fix.oldDisp) - delta
	if newDisp != int64(int32(newDisp)) {
		return false, unsupported(src.Addr, ReasonDisplacementOverflow)
	}
	fix.newDisp = int32(newDisp)

	if len(dst.Code) < ins.Len {
		return false, bufferFull(dst, ins.Len)
	}
	copy(dst.Code, src.Code[:ins.Len])
	binary.LittleEndian.PutUint32(dst.Code[fix.dispOffset:], uint32(fix.newDisp))

	r.log.Debug("relocated rip-relative operand",
		"addr", hexAddr(fix.start), "to", hexAddr(dst.Addr),
		"disp", fix.oldDisp, "newDisp", fix.newDisp)
	return true, nil
}

// pcRelativeMem returns the memory operand addressed off rip or eip.
func pcRelativeMem(inst x86asm.Inst) (x86asm.Mem, bool) {
	for _, arg := range inst.Args {
		if arg == nil {
			break
		}
		if mem, ok := arg.(x86asm.Mem); ok && (mem.Base == x86asm.RIP || mem.Base == x86asm.EIP) {
			return mem, true
		}
	}
	return x86asm.Mem{}, false
}

// locateDisplacement finds the 32-bit displacement field of a rip-relative
// instruction. The decoder's own record of the field is preferred; older
// decodes fall back to the trailing four bytes. Either way the raw bytes must
// hold the decoded displacement, sign-extended.
func locateDisplacement(ins disasm.Instruction, code []byte, disp int64) (ripFixup, bool) {
	off := ins.Len - 4
	if ins.Inst.PCRel == 4 {
		off = ins.Inst.PCRelOff
	}
	if off < 0 || off+4 > ins.Len || ins.Len > len(code) {
		return ripFixup{}, false
	}
	raw := int32(binary.LittleEndian.Uint32(code[off:]))
	if int64(raw) != disp {
		return ripFixup{}, false
	}
	return ripFixup{start: ins.Addr, dispOffset: off, oldDisp: raw}, true
}
