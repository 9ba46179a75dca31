package trampoline

import "golang.org/x/arch/x86/x86asm"

// Class is the control-flow category of an instruction, derived from its
// leading one or two bytes. Only the opcodes that matter to relocation get a
// class of their own.
type Class int

const (
	Other Class = iota
	Prefix
	NearCallRel32
	NearJmpRel32
	ShortJmpRel8
	ShortCondJmpRel8
	NearCondJmpRel32
	JcxzRel8
)

const (
	opAddrSize = 0x67 // address-size override
	opCallRel  = 0xE8 // call rel16/rel32
	opJmpRel   = 0xE9 // jmp rel16/rel32
	opJmpRel8  = 0xEB // jmp rel8
	opJcxz     = 0xE3 // jcxz/jecxz rel8
	opTwoByte  = 0x0F
)

func (c Class) String() string {
	switch c {
	case Prefix:
		return "prefix"
	case NearCallRel32:
		return "call rel32"
	case NearJmpRel32:
		return "jmp rel32"
	case ShortJmpRel8:
		return "jmp rel8"
	case ShortCondJmpRel8:
		return "jcc rel8"
	case NearCondJmpRel32:
		return "jcc rel32"
	case JcxzRel8:
		return "jcxz rel8"
	}
	return "other"
}

// Classify returns the class of an instruction starting with b1, b2. b2 is
// only consulted after the 0x0F escape.
func Classify(b1, b2 byte) Class {
	switch b1 {
	case opAddrSize:
		return Prefix
	case opCallRel:
		return NearCallRel32
	case opJmpRel:
		return NearJmpRel32
	case opJmpRel8:
		return ShortJmpRel8
	case opJcxz:
		return JcxzRel8
	case opTwoByte:
		if b2&0xF0 == 0x80 {
			return NearCondJmpRel32
		}
		return Other
	}
	if b1&0xF0 == 0x70 {
		return ShortCondJmpRel8
	}
	return Other
}

func classifyCode(code []byte) Class {
	var b2 byte
	if len(code) > 1 {
		b2 = code[1]
	}
	return Classify(code[0], b2)
}

// hasRelOperand reports whether the decoded instruction carries a
// pc-relative branch operand.
func hasRelOperand(inst x86asm.Inst) bool {
	for _, arg := range inst.Args {
		if arg == nil {
			break
		}
		if _, ok := arg.(x86asm.Rel); ok {
			return true
		}
	}
	return false
}
