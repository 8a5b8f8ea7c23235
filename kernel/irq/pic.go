package irq

const (
	masterCmdPort  = uint16(0x20)
	masterDataPort = uint16(0x21)
	slaveCmdPort   = uint16(0xa0)
	slaveDataPort  = uint16(0xa1)

	cmdEOI = uint8(0x20)

	// ICW1: edge triggered, cascade mode, ICW4 follows.
	icw1Init = uint8(0x11)

	// ICW3: the slave is cascaded on master IRQ 2.
	icw3Master = uint8(0x04)
	icw3Slave  = uint8(0x02)

	icw4Mode8086 = uint8(0x01)
)

// PortIO provides byte-wide access to the I/O port space.
type PortIO interface {
	Out8(port uint16, val uint8)
	In8(port uint16) uint8
}

// PIC drives a cascaded pair of 8259A programmable interrupt controllers.
type PIC struct {
	io PortIO
}

// Init attaches the controller pair to the given port accessor.
func (p *PIC) Init(io PortIO) {
	p.io = io
}

// Remap reprograms the controllers so that IRQs 0-7 are delivered on
// vectors [masterOffset, masterOffset+8) and IRQs 8-15 on [slaveOffset,
// slaveOffset+8). The existing IRQ masks are preserved.
func (p *PIC) Remap(masterOffset, slaveOffset Vector) {
	masterMask := p.io.In8(masterDataPort)
	slaveMask := p.io.In8(slaveDataPort)

	p.io.Out8(masterCmdPort, icw1Init)
	p.io.Out8(slaveCmdPort, icw1Init)
	p.io.Out8(masterDataPort, uint8(masterOffset))
	p.io.Out8(slaveDataPort, uint8(slaveOffset))
	p.io.Out8(masterDataPort, icw3Master)
	p.io.Out8(slaveDataPort, icw3Slave)
	p.io.Out8(masterDataPort, icw4Mode8086)
	p.io.Out8(slaveDataPort, icw4Mode8086)

	p.io.Out8(masterDataPort, masterMask)
	p.io.Out8(slaveDataPort, slaveMask)
}

// Ack sends an end-of-interrupt for the given IRQ line. Lines served by the
// slave controller need an EOI on both controllers.
func (p *PIC) Ack(irq uint8) {
	if irq >= 8 {
		p.io.Out8(slaveCmdPort, cmdEOI)
	}
	p.io.Out8(masterCmdPort, cmdEOI)
}

// Enable unmasks the given IRQ line.
func (p *PIC) Enable(irq uint8) {
	port, bit := maskBit(irq)
	p.io.Out8(port, p.io.In8(port)&^bit)
}

// Disable masks the given IRQ line.
func (p *PIC) Disable(irq uint8) {
	port, bit := maskBit(irq)
	p.io.Out8(port, p.io.In8(port)|bit)
}

// Mask returns the combined IRQ mask; bit n is set if IRQ n is masked.
func (p *PIC) Mask() uint16 {
	return uint16(p.io.In8(slaveDataPort))<<8 | uint16(p.io.In8(masterDataPort))
}

func maskBit(irq uint8) (uint16, uint8) {
	if irq < 8 {
		return masterDataPort, 1 << irq
	}
	return slaveDataPort, 1 << ((irq - 8) & 7)
}
