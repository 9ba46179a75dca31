package trampoline

import "github.com/0xffffa/gohooker/internal/disasm"

const (
	opRexW       = 0x48 // REX.W
	opRexWB      = 0x49 // REX.W + REX.B (r8-r15)
	opRexB       = 0x41
	opMovImmEAX  = 0xB8 // mov eax/rax, imm
	opMovImmR10  = 0xBA // with REX.B: mov r10, imm64
	opIndirect   = 0xFF
	modrmCallEAX = 0xD0 // call eax/rax
	modrmJmpEAX  = 0xE0 // jmp eax/rax
	modrmJmpR10  = 0xE2 // with REX.B: jmp r10

	NearJumpSize     = 5  // jmp rel32
	AbsoluteJumpSize = 13 // mov r10, imm64; jmp r10
)

// toBytes converts a 64-bit integer to a little-endian byte slice.
func toBytes(value uint64, size int) []byte {
	bytes := make([]byte, size)
	for i := 0; i < size; i++ {
		bytes[i] = byte(value >> (i * 8))
	}
	return bytes
}

// absoluteBranch encodes "mov eax, target; call eax" (or jmp). On x64 the
// load carries REX.W and a 64-bit immediate.
func absoluteBranch(mode disasm.Mode, target uint64, call bool) []byte {
	var asm []byte
	if mode == disasm.Mode64 {
		asm = append(asm, opRexW, opMovImmEAX)
		asm = append(asm, toBytes(target, 8)...)
	} else {
		asm = append(asm, opMovImmEAX)
		asm = append(asm, toBytes(target, 4)...)
	}
	if call {
		return append(asm, opIndirect, modrmCallEAX)
	}
	return append(asm, opIndirect, modrmJmpEAX)
}

// IsFarJump reports whether a jmp rel32 at from cannot reach to.
func IsFarJump(from, to uintptr) bool {
	if to >= from {
		return (to - from) > uintptr(0x7fff0000)
	} else {
		return (from - to) > uintptr(0x7fff0000)
	}
}

// NearJump encodes a jmp rel32 located at from.
func NearJump(from, to uintptr) []byte {
	rel := int64(to) - (int64(from) + NearJumpSize)
	return append([]byte{0xE9}, toBytes(uint64(rel), 4)...)
}

// AbsoluteJump encodes "mov r10, to; jmp r10". r10 is volatile in every x64
// calling convention so it is free at a function entry.
func AbsoluteJump(to uintptr) []byte {
	asm := []byte{opRexWB, opMovImmR10}
	asm = append(asm, toBytes(uint64(to), 8)...)
	return append(asm, opRexB, opIndirect, modrmJmpR10)
}

// Jump encodes the shortest jump from from to to in mode. x86 always reaches
// with rel32.
func Jump(mode disasm.Mode, from, to uintptr) []byte {
	if mode == disasm.Mode64 && IsFarJump(from, to) {
		return AbsoluteJump(to)
	}
	return NearJump(from, to)
}
