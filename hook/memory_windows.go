//go:build windows && (amd64 || 386)

package hook

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"

	"github.com/0xffffa/gohooker/trampoline"
)

type systemInfo struct {
	ProcessorArchitecture     uint16
	Reserved                  uint16
	PageSize                  uint32
	MinimumApplicationAddress uintptr
	MaximumApplicationAddress uintptr
	ActiveProcessorMask       uintptr
	NumberOfProcessors        uint32
	ProcessorType             uint32
	AllocationGranularity     uint32
	ProcessorLevel            uint16
	ProcessorRevision         uint16
}

var procGetSystemInfo = windows.NewLazySystemDLL("kernel32.dll").NewProc("GetSystemInfo")

func getSystemInfo() systemInfo {
	var info systemInfo
	procGetSystemInfo.Call(uintptr(unsafe.Pointer(&info)))
	return info
}

// writeMemory writes the given bytes to the specified address.
func writeMemory(address uintptr, data []byte) error {
	// Change the memory protection to allow writing
	var oldProtect uint32
	if err := windows.VirtualProtect(address, uintptr(len(data)), windows.PAGE_EXECUTE_READWRITE, &oldProtect); err != nil {
		return errors.Wrap(err, "VirtualProtect failed")
	}

	copy(unsafe.Slice((*byte)(unsafe.Pointer(address)), len(data)), data)

	// Restore the original memory protection
	if err := windows.VirtualProtect(address, uintptr(len(data)), oldProtect, &oldProtect); err != nil {
		return errors.Wrap(err, "VirtualProtect failed to restore")
	}
	return nil
}

// allocTrampoline allocates executable memory. On x64 it searches outward
// from target page by page so that rip-relative operands in the relocated
// entry point, and the jump back, stay within 32-bit reach.
func allocTrampoline(target uintptr, size int) (trampoline.Region, error) {
	if trampoline.Native() == trampoline.Mode32 {
		addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_EXECUTE_READWRITE)
		if err != nil {
			return trampoline.Region{}, errors.Wrap(err, "VirtualAlloc failed")
		}
		return trampoline.LiveRegion(addr, size), nil
	}

	addr := allocNearAddress(target)
	if addr == 0 {
		return trampoline.Region{}, errors.New("no free page within 2GB of target")
	}
	return trampoline.LiveRegion(addr, size), nil
}

func freeTrampoline(tramp trampoline.Region) error {
	return errors.Wrap(windows.VirtualFree(tramp.Addr, 0, windows.MEM_RELEASE), "VirtualFree failed")
}

// pageMapped reports whether page is committed and readable.
func pageMapped(page uintptr) bool {
	var mbi windows.MemoryBasicInformation
	if err := windows.VirtualQuery(page, &mbi, unsafe.Sizeof(mbi)); err != nil {
		return false
	}
	return mbi.State == windows.MEM_COMMIT && mbi.Protect&(windows.PAGE_NOACCESS|windows.PAGE_GUARD) == 0
}

func allocNearAddress(targetAddr uintptr) uintptr {
	sysInfo := getSystemInfo()

	pageSize := uintptr(sysInfo.PageSize)
	startAddr := targetAddr & ^(pageSize - 1) // Round down to the nearest page boundary
	minAddr := uintptr(0)
	if startAddr > 0x7FFFFF00 {
		minAddr = startAddr - 0x7FFFFF00
	}
	if minAddr < sysInfo.MinimumApplicationAddress {
		minAddr = sysInfo.MinimumApplicationAddress
	}
	maxAddr := startAddr + 0x7FFFFF00
	if maxAddr > sysInfo.MaximumApplicationAddress || maxAddr < startAddr {
		maxAddr = sysInfo.MaximumApplicationAddress
	}

	for pageOffset := uintptr(1); ; pageOffset++ {
		byteOffset := pageOffset * pageSize
		highAddr := startAddr + byteOffset
		var lowAddr uintptr
		if startAddr > byteOffset {
			lowAddr = startAddr - byteOffset
		}

		needsExit := highAddr > maxAddr && lowAddr < minAddr

		if highAddr < maxAddr {
			outAddr, _ := windows.VirtualAlloc(highAddr, pageSize, windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_EXECUTE_READWRITE)
			if outAddr != 0 {
				return outAddr
			}
		}

		if lowAddr > minAddr {
			outAddr, _ := windows.VirtualAlloc(lowAddr, pageSize, windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_EXECUTE_READWRITE)
			if outAddr != 0 {
				return outAddr
			}
		}

		if needsExit {
			return 0
		}
	}
}
