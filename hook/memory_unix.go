//go:build unix && (amd64 || 386)

package hook

import (
	"os"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/0xffffa/gohooker/trampoline"
)

// writeMemory makes the pages under address writable, copies data in and
// leaves them read/execute.
func writeMemory(address uintptr, data []byte) error {
	pageSize := uintptr(os.Getpagesize())
	start := address &^ (pageSize - 1)
	end := (address + uintptr(len(data)) + pageSize - 1) &^ (pageSize - 1)
	pages := unsafe.Slice((*byte)(unsafe.Pointer(start)), end-start)

	if err := unix.Mprotect(pages, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC); err != nil {
		return errors.Wrap(err, "mprotect failed")
	}

	copy(unsafe.Slice((*byte)(unsafe.Pointer(address)), len(data)), data)

	if err := unix.Mprotect(pages, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return errors.Wrap(err, "mprotect failed to restore")
	}
	return nil
}

// allocTrampoline maps an anonymous executable page. mmap takes no placement
// hint here, so rip-relative operands that end up out of reach are reported
// by the relocator rather than silently truncated.
func allocTrampoline(_ uintptr, size int) (trampoline.Region, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return trampoline.Region{}, errors.Wrap(err, "mmap failed")
	}
	return trampoline.Region{Addr: uintptr(unsafe.Pointer(unsafe.SliceData(mem))), Code: mem}, nil
}

func freeTrampoline(tramp trampoline.Region) error {
	return errors.Wrap(unix.Munmap(tramp.Code), "munmap failed")
}

// pageMapped reports whether page is mapped. madvise fails with ENOMEM on
// unmapped ranges without touching them.
func pageMapped(page uintptr) bool {
	b := unsafe.Slice((*byte)(unsafe.Pointer(page)), os.Getpagesize())
	return unix.Madvise(b, unix.MADV_NORMAL) == nil
}
