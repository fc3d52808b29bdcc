package kernel

import (
	"bytes"
	"testing"
	"unsafe"
)

func TestMemset(t *testing.T) {
	// Memset with a 0 size should be a no-op
	Memset(uintptr(0), 0x00, 0)

	for pageCount := uint32(1); pageCount <= 10; pageCount++ {
		buf := make([]byte, 4096*pageCount)
		for i := 0; i < len(buf); i++ {
			buf[i] = 0xFE
		}

		addr := uintptr(unsafe.Pointer(&buf[0]))
		Memset(addr, 0x00, uintptr(len(buf)))

		for i := 0; i < len(buf); i++ {
			if got := buf[i]; got != 0x00 {
				t.Errorf("[block with %d pages] expected byte: %d to be 0x00; got 0x%x", pageCount, i, got)
			}
		}
	}
}

func TestMemcopy(t *testing.T) {
	// Memcopy with a 0 size should be a no-op
	Memcopy(uintptr(0), uintptr(0), 0)

	var (
		src = make([]byte, 4096)
		dst = make([]byte, 4096)
	)
	for i := 0; i < len(src); i++ {
		src[i] = byte(i % 256)
	}

	Memcopy(
		uintptr(unsafe.Pointer(&src[0])),
		uintptr(unsafe.Pointer(&dst[0])),
		4096,
	)

	if !bytes.Equal(src, dst) {
		t.Fatal("expected dst to match src after Memcopy")
	}
}

func TestPhysMemory(t *testing.T) {
	var (
		backing = make([]byte, 64)
		addr    = uintptr(unsafe.Pointer(&backing[0]))
		mem     PhysMemory
	)

	if err := mem.Write(addr+8, []byte("gopher")); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, 6)
	if err := mem.Read(addr+8, got); err != nil {
		t.Fatal(err)
	}

	if string(got) != "gopher" {
		t.Fatalf("expected to read back %q; got %q", "gopher", got)
	}
}

func TestImageMemory(t *testing.T) {
	mem := NewImageMemory(0x1000, 0x100)

	specs := []struct {
		addr   uintptr
		size   int
		expErr *Error
	}{
		{0x1000, 16, nil},
		{0x10f0, 16, nil},
		{0x10f8, 16, ErrOutOfBounds},
		{0x0ff0, 4, ErrOutOfBounds},
		{^uintptr(0) - 2, 8, ErrOutOfBounds},
	}

	for specIndex, spec := range specs {
		payload := bytes.Repeat([]byte{byte(specIndex + 1)}, spec.size)
		if err := mem.Write(spec.addr, payload); err != spec.expErr {
			t.Errorf("[spec %d] expected Write to return %v; got %v", specIndex, spec.expErr, err)
			continue
		}

		if spec.expErr != nil {
			continue
		}

		got := make([]byte, spec.size)
		if err := mem.Read(spec.addr, got); err != nil {
			t.Errorf("[spec %d] unexpected Read error: %v", specIndex, err)
			continue
		}

		if !bytes.Equal(got, payload) {
			t.Errorf("[spec %d] expected to read back %v; got %v", specIndex, payload, got)
		}
	}
}
