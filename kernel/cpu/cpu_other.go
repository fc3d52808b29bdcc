//go:build !amd64

package cpu

// The kernel only runs on amd64. These stubs let the hosted tooling build on
// other architectures; none of them touch the hardware.

// EnableInterrupts enables interrupt handling.
func EnableInterrupts() {}

// DisableInterrupts disables interrupt handling.
func DisableInterrupts() {}

// Halt stops instruction execution.
func Halt() {
	for {
	}
}

// Idle waits for the next interrupt.
func Idle() {}

// ReadCR2 returns the value stored in the CR2 register.
func ReadCR2() uint64 { return 0 }

// PortWriteByte writes a uint8 value to the requested port.
func PortWriteByte(port uint16, val uint8) {}

// PortReadByte reads a uint8 value from the requested port.
func PortReadByte(port uint16) uint8 { return 0 }
