package irq

// 8259 programmable interrupt controller ports and commands.
const (
	picMasterCmd  = uint16(0x20)
	picMasterData = uint16(0x21)
	picSlaveCmd   = uint16(0xa0)
	picSlaveData  = uint16(0xa1)

	picEOI     = uint8(0x20)
	icw1Init   = uint8(0x11)
	icw48086   = uint8(0x01)
	icw3Master = uint8(0x04) // slave attached to IRQ2
	icw3Slave  = uint8(0x02) // slave cascade identity
	unmaskAll  = uint8(0x00)
)

// PortWriter writes a byte to an I/O port.
type PortWriter func(port uint16, val uint8)

// remapPIC reprograms the controller pair so hardware IRQs 0-15 are raised
// on vectors IRQBase to IRQBase+15 and unmasks every line.
func remapPIC(out PortWriter) {
	out(picMasterCmd, icw1Init)
	out(picSlaveCmd, icw1Init)
	out(picMasterData, IRQBase)
	out(picSlaveData, SlaveBase)
	out(picMasterData, icw3Master)
	out(picSlaveData, icw3Slave)
	out(picMasterData, icw48086)
	out(picSlaveData, icw48086)
	out(picMasterData, unmaskAll)
	out(picSlaveData, unmaskAll)
}

// ackPIC sends an end-of-interrupt for the IRQ raised on vector. IRQs routed
// through the slave controller need an acknowledgment on both controllers.
func ackPIC(out PortWriter, vector uint8) {
	if vector >= SlaveBase {
		out(picSlaveCmd, picEOI)
	}
	out(picMasterCmd, picEOI)
}
