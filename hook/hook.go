// Package hook diverts a function to a detour while keeping the original
// callable through a trampoline.
package hook

import (
	"github.com/pkg/errors"

	"github.com/0xffffa/gohooker/trampoline"
)

const (
	opInt3 = 0xCC

	// entryWindow is how much of the target is read to plan a hook: the
	// largest span that may be relocated plus one maximal instruction.
	entryWindow = trampoline.MaxEntryPointSize + 15

	// trampolineSize fits a relocated entry point and the jump back.
	trampolineSize = trampoline.MaxSize + trampoline.AbsoluteJumpSize
)

// ErrEntryTooLarge is returned when the jump to the detour would overwrite
// more of the target than can be relocated.
var ErrEntryTooLarge = errors.New("entry point too large to relocate")

// Patch describes how one function is diverted.
type Patch struct {
	Src        uintptr // hooked function
	Dst        uintptr // detour
	Trampoline uintptr // runs the original function

	// Overwrite is the number of bytes at Src replaced by Jumper. It always
	// ends on an instruction boundary.
	Overwrite int
	Jumper    []byte
	Original  []byte

	// Relocated is the length of the relocated entry point at the start of
	// the trampoline. The jump back into Src follows it.
	Relocated int
}

// readableWindow returns how many of the n bytes at addr lie on mapped pages,
// stopping at the first page mapped reports missing. The page holding addr is
// assumed mapped.
func readableWindow(addr uintptr, n int, pageSize uintptr, mapped func(page uintptr) bool) int {
	end := addr + uintptr(n)
	for page := addr&^(pageSize-1) + pageSize; page < end; page += pageSize {
		if !mapped(page) {
			return int(page - addr)
		}
	}
	return n
}

// Plan relocates the entry point of entry into tramp, appends a jump back to
// the rest of the original function and builds the jump that diverts entry
// to detour. tramp is written; entry is only read.
func Plan(r *trampoline.Relocator, entry trampoline.Region, detour uintptr, tramp trampoline.Region) (*Patch, error) {
	jumper := trampoline.Jump(r.Mode(), entry.Addr, detour)

	overwrite, err := r.RoundToInstructionBoundary(entry, len(jumper))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to measure entry point at %#x", entry.Addr)
	}
	if overwrite >= trampoline.MaxEntryPointSize {
		return nil, errors.Wrapf(ErrEntryTooLarge, "%d bytes at %#x", overwrite, entry.Addr)
	}

	n, err := r.RelocateEntryPoint(entry, overwrite, tramp)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create trampoline for %#x", entry.Addr)
	}

	// Add a jump back to the rest of the original function
	back := trampoline.Jump(r.Mode(), tramp.Addr+uintptr(n), entry.Addr+uintptr(overwrite))
	if n+len(back) > len(tramp.Code) {
		return nil, errors.Wrapf(trampoline.ErrBufferTooSmall, "no room for jump back at %#x", tramp.Addr+uintptr(n))
	}
	copy(tramp.Code[n:], back)

	for len(jumper) < overwrite {
		jumper = append(jumper, opInt3)
	}

	return &Patch{
		Src:        entry.Addr,
		Dst:        detour,
		Trampoline: tramp.Addr,
		Overwrite:  overwrite,
		Jumper:     jumper,
		Original:   append([]byte(nil), entry.Code[:overwrite]...),
		Relocated:  n,
	}, nil
}
