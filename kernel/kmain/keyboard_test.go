package kmain

import (
	"io"
	"testing"
)

func TestDecodeScancode(t *testing.T) {
	specs := []struct {
		sc  uint8
		exp byte
	}{
		{0x1e, 'A'},
		{0x02, '1'},
		{0x39, ' '},
		{0x1c, keyEnter},
		{0x0e, keyBackspace},
		{0x9e, 0},
		{0x3a, 0},
		{0x00, 0},
	}

	for specIndex, spec := range specs {
		if got := decodeScancode(spec.sc); got != spec.exp {
			t.Errorf("[spec %d] expected scancode 0x%x to decode to %q; got %q", specIndex, spec.sc, spec.exp, got)
		}
	}
}

func TestPS2Keyboard(t *testing.T) {
	defer func(orig func(uint16) uint8) {
		portReadFn = orig
	}(portReadFn)

	// release of A, press of H, then an empty output buffer
	data := []uint8{0x9e, 0x23}
	portReadFn = func(port uint16) uint8 {
		switch port {
		case ps2Status:
			if len(data) == 0 {
				return 0
			}
			return ps2OutputFull
		case ps2Data:
			sc := data[0]
			data = data[1:]
			return sc
		}
		t.Fatalf("unexpected read from port 0x%x", port)
		return 0
	}

	if key, ok := ps2Keyboard(); !ok || key != 'H' {
		t.Fatalf("expected to read key 'H'; got %q, %t", key, ok)
	}

	if _, ok := ps2Keyboard(); ok {
		t.Fatal("expected no key to be pending")
	}
}

func TestInputBuffer(t *testing.T) {
	var b inputBuffer

	if _, err := b.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("expected io.EOF from an empty buffer; got %v", err)
	}

	for i := 0; i < inputBufferSize+10; i++ {
		_ = b.WriteByte(byte(i))
	}

	p := make([]byte, inputBufferSize*2)
	n, err := b.Read(p)
	if err != nil {
		t.Fatal(err)
	}

	if n != inputBufferSize {
		t.Fatalf("expected keys past the buffer size to be dropped; read %d bytes", n)
	}

	if p[0] != 0 || p[n-1] != byte(inputBufferSize-1) {
		t.Fatalf("expected the oldest keys to be kept; got first %d, last %d", p[0], p[n-1])
	}

	_ = b.WriteByte('x')
	if n, _ = b.Read(p[:1]); n != 1 || p[0] != 'x' {
		t.Fatalf("expected the buffer to wrap around; got %q", p[:n])
	}
}
