package trampoline

import "unsafe"

// Region is code located at Addr. Code may alias live memory or be a copy of
// it; either way it is only read through Region.
type Region struct {
	Addr uintptr
	Code []byte
}

// LiveRegion aliases n bytes of process memory starting at addr.
func LiveRegion(addr uintptr, n int) Region {
	return Region{
		Addr: addr,
		Code: unsafe.Slice((*byte)(unsafe.Pointer(addr)), n),
	}
}

// At returns the region starting off bytes in.
func (r Region) At(off int) Region {
	return Region{Addr: r.Addr + uintptr(off), Code: r.Code[off:]}
}

func (r Region) Len() int { return len(r.Code) }

func (r Region) contains(addr uint64, size int) bool {
	return addr >= uint64(r.Addr) && addr < uint64(r.Addr)+uint64(size)
}

// cursor writes into a destination region and never past its end.
type cursor struct {
	dst Region
	n   int
}

func (c *cursor) addr() uintptr { return c.dst.Addr + uintptr(c.n) }

func (c *cursor) rest() Region { return c.dst.At(c.n) }

func (c *cursor) write(b []byte) error {
	if c.n+len(b) > len(c.dst.Code) {
		return bufferFull(c.dst, c.n+len(b))
	}
	c.n += copy(c.dst.Code[c.n:], b)
	return nil
}

// advance accounts for n bytes already written at the cursor.
func (c *cursor) advance(n int) { c.n += n }
