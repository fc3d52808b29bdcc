package cpu

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt disables interrupts and stops instruction execution.
func Halt()

// Idle enables interrupts and waits for the next one to arrive.
func Idle()

// ReadCR2 returns the value stored in the CR2 register. After a page fault
// it holds the address whose access triggered the fault.
func ReadCR2() uint64

// PortWriteByte writes a uint8 value to the requested port.
func PortWriteByte(port uint16, val uint8)

// PortReadByte reads a uint8 value from the requested port.
func PortReadByte(port uint16) uint8
