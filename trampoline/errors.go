package trampoline

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/0xffffa/gohooker/internal/disasm"
)

var (
	// ErrInvalidInstruction is returned when bytes in the entry point cannot
	// be decoded.
	ErrInvalidInstruction = disasm.ErrInvalidInstruction

	// ErrUnsupported matches every *UnsupportedError.
	ErrUnsupported = errors.New("entry point cannot be relocated")

	// ErrBufferTooSmall is returned when the destination cannot hold the
	// relocated code. Reserve MaxSize bytes to avoid it.
	ErrBufferTooSmall = errors.New("relocation buffer too small")
)

// Reason says why an instruction could not be relocated.
type Reason int

const (
	ReasonJmpNotFirst Reason = iota + 1
	ReasonShortCondJump
	ReasonJcxz
	ReasonNearCondJump
	ReasonSelfReference
	ReasonDisplacementOverflow
	ReasonEIPRelative
	ReasonOperandWidth
	ReasonRelativeBranch
)

func (r Reason) String() string {
	switch r {
	case ReasonJmpNotFirst:
		return "near jmp is only relocatable as the first instruction"
	case ReasonShortCondJump:
		return "short conditional jumps are not relocatable"
	case ReasonJcxz:
		return "jcxz/jecxz is not relocatable"
	case ReasonNearCondJump:
		return "near conditional jumps are not relocatable"
	case ReasonSelfReference:
		return "branch target lies inside the relocated entry point"
	case ReasonDisplacementOverflow:
		return "rip-relative displacement does not fit 32 bits after relocation"
	case ReasonEIPRelative:
		return "eip-relative operands are not relocatable"
	case ReasonOperandWidth:
		return "relative operand width disagrees with decoded length"
	case ReasonRelativeBranch:
		return "relative branch not recognized by its opcode"
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// UnsupportedError reports a recognized instruction that cannot be relocated.
type UnsupportedError struct {
	Addr   uintptr
	Reason Reason
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%v at %#x: %v", ErrUnsupported, e.Addr, e.Reason)
}

func (e *UnsupportedError) Is(target error) bool {
	return target == ErrUnsupported
}

func unsupported(addr uintptr, reason Reason) error {
	return errors.WithStack(&UnsupportedError{Addr: addr, Reason: reason})
}

// ReasonOf extracts the Reason from an error chain, or 0.
func ReasonOf(err error) Reason {
	var ue *UnsupportedError
	if errors.As(err, &ue) {
		return ue.Reason
	}
	return 0
}

func bufferFull(dst Region, need int) error {
	return errors.Wrapf(ErrBufferTooSmall, "need %d bytes at %#x, have %d", need, dst.Addr, len(dst.Code))
}
