package kmain

import (
	"io"

	"github.com/gnl2024/os-tutorial/kernel/cpu"
)

const (
	ps2Data   = uint16(0x60)
	ps2Status = uint16(0x64)

	ps2OutputFull = uint8(1 << 0)
	keyReleased   = uint8(0x80)

	keyBackspace = byte(0x08)
	keyEnter     = byte('\n')
)

var (
	// portReadFn is mocked by tests.
	portReadFn = cpu.PortReadByte

	// scancodeSet1 maps set 1 make codes to ASCII. Unmapped keys are 0.
	scancodeSet1 = [0x3a]byte{
		0x01: 0x1b,
		0x02: '1', 0x03: '2', 0x04: '3', 0x05: '4', 0x06: '5',
		0x07: '6', 0x08: '7', 0x09: '8', 0x0a: '9', 0x0b: '0',
		0x0c: '-', 0x0d: '=', 0x0e: keyBackspace, 0x0f: '\t',
		0x10: 'Q', 0x11: 'W', 0x12: 'E', 0x13: 'R', 0x14: 'T',
		0x15: 'Y', 0x16: 'U', 0x17: 'I', 0x18: 'O', 0x19: 'P',
		0x1a: '[', 0x1b: ']', 0x1c: keyEnter,
		0x1e: 'A', 0x1f: 'S', 0x20: 'D', 0x21: 'F', 0x22: 'G',
		0x23: 'H', 0x24: 'J', 0x25: 'K', 0x26: 'L', 0x27: ';',
		0x28: '\'', 0x29: '`', 0x2b: '\\',
		0x2c: 'Z', 0x2d: 'X', 0x2e: 'C', 0x2f: 'V', 0x30: 'B',
		0x31: 'N', 0x32: 'M', 0x33: ',', 0x34: '.', 0x35: '/',
		0x39: ' ',
	}
)

// decodeScancode translates a set 1 scancode to ASCII. Key releases and
// unmapped keys decode to 0.
func decodeScancode(sc uint8) byte {
	if sc&keyReleased != 0 || int(sc) >= len(scancodeSet1) {
		return 0
	}
	return scancodeSet1[sc]
}

// ps2Keyboard drains the PS/2 controller output buffer until it finds a
// key press.
func ps2Keyboard() (byte, bool) {
	for portReadFn(ps2Status)&ps2OutputFull != 0 {
		if key := decodeScancode(portReadFn(ps2Data)); key != 0 {
			return key, true
		}
	}
	return 0, false
}

const inputBufferSize = 256

// inputBuffer keeps keystrokes until a process reads them from stdin.
// Keys typed while the buffer is full are dropped.
type inputBuffer struct {
	data       [inputBufferSize]byte
	head, size int
}

func (b *inputBuffer) WriteByte(c byte) error {
	if b.size == inputBufferSize {
		return nil
	}

	b.data[(b.head+b.size)%inputBufferSize] = c
	b.size++
	return nil
}

func (b *inputBuffer) Read(p []byte) (int, error) {
	if b.size == 0 {
		return 0, io.EOF
	}

	n := 0
	for ; n < len(p) && b.size > 0; n++ {
		p[n] = b.data[b.head]
		b.head = (b.head + 1) % inputBufferSize
		b.size--
	}
	return n, nil
}
