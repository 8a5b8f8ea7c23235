package pit

import (
	"bytes"
	"minicore/device"
	"minicore/device/timer"
	"minicore/kernel/cpu"
	"testing"
)

type portWrite struct {
	port uint16
	val  uint8
}

func TestDriverInit(t *testing.T) {
	defer func() {
		portWriteByteFn = cpu.PortWriteByte
	}()

	var writes []portWrite
	portWriteByteFn = func(port uint16, val uint8) {
		writes = append(writes, portWrite{port, val})
	}

	var (
		drv    = probeForPIT()
		buf    bytes.Buffer
		_      timer.Device = New(0)
		expLog              = "channel 0 running at 100Hz (divisor 11931)\n"
	)

	if drv.DriverName() != "pit" {
		t.Fatalf("unexpected driver name %q", drv.DriverName())
	}

	if major, minor, patch := drv.DriverVersion(); major != 1 || minor != 0 || patch != 0 {
		t.Fatalf("unexpected driver version %d.%d.%d", major, minor, patch)
	}

	if err := drv.DriverInit(&buf); err != nil {
		t.Fatal(err)
	}

	// 11931 = 0x2e9b
	exp := []portWrite{{0x43, 0x36}, {0x40, 0x9b}, {0x40, 0x2e}}
	if len(writes) != len(exp) {
		t.Fatalf("expected %d port writes; got %d", len(exp), len(writes))
	}

	for i := range exp {
		if writes[i] != exp[i] {
			t.Errorf("expected port write %d to be %+v; got %+v", i, exp[i], writes[i])
		}
	}

	if got := buf.String(); got != expLog {
		t.Fatalf("expected log output %q; got %q", expLog, got)
	}

	pit := drv.(*PIT)
	if pit.Frequency() != DefaultFrequency || pit.IRQ() != 0 {
		t.Fatal("unexpected timer configuration")
	}
}

func TestDriverInitErrors(t *testing.T) {
	defer func() {
		portWriteByteFn = cpu.PortWriteByte
	}()

	portWriteByteFn = func(uint16, uint8) {
		t.Fatal("unexpected port write")
	}

	for _, freq := range []uint32{0, 1, 2 * BaseFrequency} {
		if err := New(freq).DriverInit(&bytes.Buffer{}); err != errBadFrequency {
			t.Errorf("[freq %d] expected errBadFrequency; got %v", freq, err)
		}
	}
}

type recordingPorts struct {
	writes []portWrite
}

func (p *recordingPorts) Out8(port uint16, val uint8) {
	p.writes = append(p.writes, portWrite{port, val})
}

func (p *recordingPorts) In8(uint16) uint8 { return 0 }

func TestDriverInitWithPorts(t *testing.T) {
	defer func() {
		portWriteByteFn = cpu.PortWriteByte
	}()

	portWriteByteFn = func(uint16, uint8) {
		t.Fatal("unexpected CPU port write")
	}

	var ports recordingPorts
	drv := NewWithPorts(1000, &ports)
	if err := drv.DriverInit(&bytes.Buffer{}); err != nil {
		t.Fatal(err)
	}

	// 1193 = 0x04a9
	exp := []portWrite{{0x43, 0x36}, {0x40, 0xa9}, {0x40, 0x04}}
	if len(ports.writes) != len(exp) {
		t.Fatalf("expected %d port writes; got %d", len(exp), len(ports.writes))
	}

	for i := range exp {
		if ports.writes[i] != exp[i] {
			t.Errorf("expected port write %d to be %+v; got %+v", i, exp[i], ports.writes[i])
		}
	}

	if drv.Divisor() != 1193 {
		t.Errorf("expected divisor 1193; got %d", drv.Divisor())
	}
}

func TestProbeRegistration(t *testing.T) {
	var found bool
	for _, info := range device.DriverList() {
		if info.Order == device.DetectOrderPlatform {
			if _, ok := info.Probe().(*PIT); ok {
				found = true
			}
		}
	}

	if !found {
		t.Fatal("expected the PIT driver to be registered at DetectOrderPlatform")
	}
}
