package trampoline

import (
	"bytes"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		b1, b2 byte
		want   Class
	}{
		{0x67, 0xe8, Prefix},
		{0xe8, 0x00, NearCallRel32},
		{0xe9, 0x00, NearJmpRel32},
		{0xeb, 0x00, ShortJmpRel8},
		{0x70, 0x00, ShortCondJmpRel8},
		{0x7f, 0x00, ShortCondJmpRel8},
		{0xe3, 0x00, JcxzRel8},
		{0x0f, 0x80, NearCondJmpRel32},
		{0x0f, 0x8f, NearCondJmpRel32},
		{0x0f, 0x05, Other}, // syscall
		{0x0f, 0x1f, Other}, // nop r/m
		{0x55, 0x48, Other},
		{0x8b, 0x05, Other},
	}
	for _, tt := range tests {
		if got := Classify(tt.b1, tt.b2); got != tt.want {
			t.Errorf("%02x %02x: got %v, want %v", tt.b1, tt.b2, got, tt.want)
		}
	}
}

func TestNearJump(t *testing.T) {
	want := []byte{0xe9, 0xfb, 0x0f, 0x00, 0x00}
	if got := NearJump(0x1000, 0x2000); !bytes.Equal(got, want) {
		t.Fatalf("got % x, want % x", got, want)
	}
	want = []byte{0xe9, 0xfb, 0xef, 0xff, 0xff}
	if got := NearJump(0x2000, 0x1000); !bytes.Equal(got, want) {
		t.Fatalf("backwards: got % x, want % x", got, want)
	}
}

func TestAbsoluteJump(t *testing.T) {
	to := uintptr(0x55667788)
	got := AbsoluteJump(to)
	want := []byte{0x49, 0xba, 0x88, 0x77, 0x66, 0x55, 0, 0, 0, 0, 0x41, 0xff, 0xe2}
	if len(got) != AbsoluteJumpSize {
		t.Fatalf("%d bytes", len(got))
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got % x, want % x", got, want)
	}
}

func TestJumpPicksEncoding(t *testing.T) {
	if got := Jump(Mode64, 0x1000, 0x2000); len(got) != NearJumpSize {
		t.Errorf("near jump encoded in %d bytes", len(got))
	}
	if !IsFarJump(0x1000, 0x1000+0x80000000) {
		t.Errorf("2GB away is not far")
	}
	if !IsFarJump(0x80001000, 0x1000) {
		t.Errorf("2GB back is not far")
	}
	if IsFarJump(0x7fff1000, 0x1000) {
		t.Errorf("just under 2GB back is far")
	}
	if IsFarJump(0x1000, 0x7fff1000) {
		t.Errorf("just under 2GB ahead is far")
	}
}

func TestAbsoluteBranch(t *testing.T) {
	call64 := absoluteBranch(Mode64, 0x1122334455667788, true)
	want := []byte{0x48, 0xb8, 0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11, 0xff, 0xd0}
	if !bytes.Equal(call64, want) {
		t.Errorf("x64 call: got % x, want % x", call64, want)
	}
	jmp32 := absoluteBranch(Mode32, 0x00401000, false)
	want = []byte{0xb8, 0x00, 0x10, 0x40, 0x00, 0xff, 0xe0}
	if !bytes.Equal(jmp32, want) {
		t.Errorf("x86 jmp: got % x, want % x", jmp32, want)
	}
}
