//go:build amd64 || arm64

package trampoline

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"
)

// mov eax, dword ptr [rip+0x78563412]
var movRIP = []byte{0x8b, 0x05, 0x12, 0x34, 0x56, 0x78}

func TestRelocateIfRIPRelative(t *testing.T) {
	r := NewRelocator(Mode64)
	tests := []struct {
		src, dst uintptr
	}{
		{0x7ff600001000, 0x7ff600101000},
		{0x7ff600101000, 0x7ff600001000},
		{0x7ff600001000, 0x7ff600001000},
		{0x10000000, 0x10000010},
	}
	for _, tt := range tests {
		dst := Region{Addr: tt.dst, Code: make([]byte, 16)}
		ok, err := r.RelocateIfRIPRelative(Region{Addr: tt.src, Code: code(movRIP...)}, dst)
		if err != nil {
			t.Fatalf("%#x -> %#x: %v", tt.src, tt.dst, err)
		}
		if !ok {
			t.Fatalf("%#x -> %#x: not relocated", tt.src, tt.dst)
		}
		if !bytes.Equal(dst.Code[:2], movRIP[:2]) {
			t.Fatalf("opcode changed: % x", dst.Code[:6])
		}
		got := int32(binary.LittleEndian.Uint32(dst.Code[2:6]))
		want := int32(int64(0x78563412) - (int64(tt.dst) - int64(tt.src)))
		if got != want {
			t.Errorf("%#x -> %#x: displacement %#x, want %#x", tt.src, tt.dst, got, want)
		}
		if !bytes.Equal(dst.Code[6:], make([]byte, 10)) {
			t.Errorf("wrote past the instruction: % x", dst.Code)
		}
	}
}

func TestRelocateIfRIPRelativeDisplacements(t *testing.T) {
	// lea rax, [rip-0x10]
	leaBack := []byte{0x48, 0x8d, 0x05, 0xf0, 0xff, 0xff, 0xff}
	// jmp qword ptr [rip]
	jmpHere := []byte{0xff, 0x25, 0x00, 0x00, 0x00, 0x00}

	tests := []struct {
		name     string
		src      []byte
		dispOff  int
		from, to uintptr
		want     int32
	}{
		{"negative up", leaBack, 3, 0x7ff600001000, 0x7ff600101000, -0x10 - 0x100000},
		{"negative down", leaBack, 3, 0x7ff600101000, 0x7ff600001000, -0x10 + 0x100000},
		{"zero up", jmpHere, 2, 0x7ff600001000, 0x7ff600002000, -0x1000},
		{"zero down", jmpHere, 2, 0x7ff600002000, 0x7ff600001000, 0x1000},
		{"lowest reachable", leaBack, 3, 0x10000000, 0x10000000 + 0x7ffffff0, -0x80000000},
	}
	r := NewRelocator(Mode64)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := Region{Addr: tt.to, Code: make([]byte, 16)}
			ok, err := r.RelocateIfRIPRelative(Region{Addr: tt.from, Code: code(tt.src...)}, dst)
			if err != nil {
				t.Fatal(err)
			}
			if !ok {
				t.Fatal("not relocated")
			}
			if !bytes.Equal(dst.Code[:tt.dispOff], tt.src[:tt.dispOff]) {
				t.Fatalf("opcode changed: % x", dst.Code[:len(tt.src)])
			}
			if got := int32(binary.LittleEndian.Uint32(dst.Code[tt.dispOff:])); got != tt.want {
				t.Fatalf("displacement %#x, want %#x", got, tt.want)
			}
		})
	}
}

func TestRelocateIfRIPRelativeUnderflow(t *testing.T) {
	// one byte further than the lowest reachable move
	leaBack := []byte{0x48, 0x8d, 0x05, 0xf0, 0xff, 0xff, 0xff}
	dst := Region{Addr: 0x10000000 + 0x7ffffff1, Code: make([]byte, 16)}
	ok, err := NewRelocator(Mode64).RelocateIfRIPRelative(Region{Addr: 0x10000000, Code: code(leaBack...)}, dst)
	if ok || ReasonOf(err) != ReasonDisplacementOverflow {
		t.Fatalf("expected displacement overflow, got %v, %v", ok, err)
	}
	if !bytes.Equal(dst.Code, make([]byte, 16)) {
		t.Fatalf("wrote % x", dst.Code)
	}
}

func TestRelocateIfRIPRelativeOverflow(t *testing.T) {
	r := NewRelocator(Mode64)
	// moving down 0x10000000 pushes the displacement past int32
	dst := Region{Addr: 0x7ff5f0001000, Code: make([]byte, 16)}
	_, err := r.RelocateIfRIPRelative(Region{Addr: 0x7ff600001000, Code: code(movRIP...)}, dst)
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if ReasonOf(err) != ReasonDisplacementOverflow {
		t.Fatalf("unexpected reason %v", ReasonOf(err))
	}

	// the same move inside a whole entry point fails the same way
	entry := Region{Addr: 0x7ff600001000, Code: code(movRIP...)}
	_, err = r.RelocateEntryPoint(entry, len(movRIP), Region{Addr: 0x7ff5f0001000, Code: make([]byte, MaxSize)})
	if ReasonOf(err) != ReasonDisplacementOverflow {
		t.Fatalf("entry point: unexpected error %v", err)
	}
}

func TestRelocateIfRIPRelativeImmediateAfterDisplacement(t *testing.T) {
	// mov dword ptr [rip+0x100], 0xdeadbeef: the displacement is not the
	// last four bytes
	src := []byte{0xc7, 0x05, 0x00, 0x01, 0x00, 0x00, 0xef, 0xbe, 0xad, 0xde}
	r := NewRelocator(Mode64)
	dst := Region{Addr: 0x7ff600002000, Code: make([]byte, 16)}
	ok, err := r.RelocateIfRIPRelative(Region{Addr: 0x7ff600001000, Code: code(src...)}, dst)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("not relocated")
	}
	if got := int32(binary.LittleEndian.Uint32(dst.Code[2:6])); got != 0x100-0x1000 {
		t.Fatalf("displacement %#x", got)
	}
	if !bytes.Equal(dst.Code[6:10], src[6:10]) {
		t.Fatalf("immediate changed: % x", dst.Code[:10])
	}
}

func TestRelocateIfRIPRelativeNotRelative(t *testing.T) {
	r := NewRelocator(Mode64)
	for _, src := range [][]byte{
		{0x55},                                     // push rbp
		{0x48, 0x8b, 0x45, 0x10},                   // mov rax, [rbp+0x10]
		{0x8b, 0x04, 0x25, 0x12, 0x34, 0x56, 0x78}, // mov eax, [0x78563412]
	} {
		dst := Region{Addr: 0x2000, Code: make([]byte, 16)}
		ok, err := r.RelocateIfRIPRelative(Region{Addr: 0x1000, Code: code(src...)}, dst)
		if err != nil {
			t.Fatalf("% x: %v", src, err)
		}
		if ok {
			t.Fatalf("% x: relocated", src)
		}
		if !bytes.Equal(dst.Code, make([]byte, 16)) {
			t.Fatalf("% x: wrote % x", src, dst.Code)
		}
	}
}

func TestRelocateIfRIPRelative32Bit(t *testing.T) {
	// the same bytes mean mov eax, [0x78563412] on x86
	r := NewRelocator(Mode32)
	dst := Region{Addr: 0x2000, Code: make([]byte, 16)}
	ok, err := r.RelocateIfRIPRelative(Region{Addr: 0x1000, Code: code(movRIP...)}, dst)
	if err != nil || ok {
		t.Fatalf("got %v, %v", ok, err)
	}
	if !bytes.Equal(dst.Code, make([]byte, 16)) {
		t.Fatalf("wrote % x", dst.Code)
	}
}

func TestRelocateIfRIPRelativeEIP(t *testing.T) {
	// mov eax, [eip+0x10]
	src := []byte{0x67, 0x8b, 0x05, 0x10, 0x00, 0x00, 0x00}
	_, err := NewRelocator(Mode64).RelocateIfRIPRelative(Region{Addr: 0x1000, Code: code(src...)}, Region{Addr: 0x2000, Code: make([]byte, 16)})
	if ReasonOf(err) != ReasonEIPRelative {
		t.Fatalf("expected eip rejection, got %v", err)
	}
}
