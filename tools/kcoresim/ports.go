package main

import (
	"fmt"
	"io"
)

const (
	masterDataPort = uint16(0x21)
	slaveDataPort  = uint16(0xa1)
)

// PortWrite is a single byte written to an I/O port.
type PortWrite struct {
	Port  uint16
	Value uint8
}

// portLog is an irq.PortIO that records every write. Reads from the PIC data
// ports return the last value written to them, which is the IRQ mask once
// the controllers have been initialized.
type portLog struct {
	writes []PortWrite
	data   map[uint16]uint8
}

func newPortLog() *portLog {
	return &portLog{
		data: map[uint16]uint8{
			masterDataPort: 0xff,
			slaveDataPort:  0xff,
		},
	}
}

func (l *portLog) Out8(port uint16, val uint8) {
	l.writes = append(l.writes, PortWrite{Port: port, Value: val})
	l.data[port] = val
}

func (l *portLog) In8(port uint16) uint8 {
	return l.data[port]
}

// count returns the number of times val was written to port.
func (l *portLog) count(port uint16, val uint8) int {
	var n int
	for _, w := range l.writes {
		if w.Port == port && w.Value == val {
			n++
		}
	}
	return n
}

// DumpTo writes the log to w collapsing runs of identical writes.
func (l *portLog) DumpTo(w io.Writer) {
	fmt.Fprintf(w, "=== Port Writes ===\n")
	for i := 0; i < len(l.writes); {
		run := 1
		for i+run < len(l.writes) && l.writes[i+run] == l.writes[i] {
			run++
		}

		if run == 1 {
			fmt.Fprintf(w, "0x%02x <- 0x%02x\n", l.writes[i].Port, l.writes[i].Value)
		} else {
			fmt.Fprintf(w, "0x%02x <- 0x%02x (x%d)\n", l.writes[i].Port, l.writes[i].Value, run)
		}
		i += run
	}
}
