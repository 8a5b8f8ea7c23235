package kmain

import (
	"bytes"
	"encoding/binary"
	"minicore/kernel"
	"minicore/kernel/heap"
	"minicore/kernel/kfmt"
	"minicore/kernel/mem"
	"minicore/kernel/sched"
	"minicore/kernel/sync"
	"minicore/multiboot"
	"strings"
	"testing"
	"unsafe"
)

type memRegion struct {
	start, length uint64
	typ           multiboot.MemoryEntryType
}

// bootInfo assembles a multiboot info payload with a command line tag and a
// memory map tag.
func bootInfo(cmdLine string, regions []memRegion) []byte {
	var buf bytes.Buffer

	putTag := func(tagType uint32, payload []byte) {
		binary.Write(&buf, binary.LittleEndian, tagType)
		binary.Write(&buf, binary.LittleEndian, uint32(8+len(payload)))
		buf.Write(payload)
		for buf.Len()%8 != 0 {
			buf.WriteByte(0)
		}
	}

	// header; the total size is patched below
	buf.Write(make([]byte, 8))

	putTag(1, append([]byte(cmdLine), 0))

	var mmap bytes.Buffer
	binary.Write(&mmap, binary.LittleEndian, uint32(24)) // entry size
	binary.Write(&mmap, binary.LittleEndian, uint32(0))  // entry version
	for _, r := range regions {
		binary.Write(&mmap, binary.LittleEndian, r.start)
		binary.Write(&mmap, binary.LittleEndian, r.length)
		binary.Write(&mmap, binary.LittleEndian, uint32(r.typ))
		binary.Write(&mmap, binary.LittleEndian, uint32(0))
	}
	putTag(6, mmap.Bytes())

	putTag(0, nil)

	data := buf.Bytes()
	binary.LittleEndian.PutUint32(data, uint32(len(data)))
	return data
}

var qemuMemoryMap = []memRegion{
	{0, 0x9fc00, multiboot.MemAvailable},
	{0x9fc00, 0x400, multiboot.MemReserved},
	{0xf0000, 0x10000, multiboot.MemReserved},
	{0x100000, 0x7ee0000, multiboot.MemAvailable},
	{0x7fe0000, 0x20000, multiboot.MemReserved},
}

type fakePorts struct {
	data map[uint16]uint8
}

func (p *fakePorts) Out8(port uint16, val uint8) { p.data[port] = val }
func (p *fakePorts) In8(port uint16) uint8       { return p.data[port] }

type fakeTimer struct{}

func (fakeTimer) IRQ() uint8 { return 0 }

type kmainHarness struct {
	ports            *fakePorts
	output           bytes.Buffer
	panicErr         *kernel.Error
	panicCalls       int
	fatalErr         *kernel.Error
	fatalState       kfmt.Dumper
	fatalCalls       int
	interruptsOn     bool
	idleCalls        int
	hardwareDetected bool
	arena            []byte
}

func setupKmain(t *testing.T, info []byte, timer irqSource) *kmainHarness {
	h := &kmainHarness{
		ports: &fakePorts{data: map[uint16]uint8{0x21: 0xff, 0xa1: 0xff}},
	}

	origPortIO, origOverlay, origDetect := portIO, overlayFn, detectHardwareFn
	origTimer, origEnable, origIdle, origPanic := activeTimerFn, enableInterruptsFn, idleFn, panicFn
	origVendor, origFatal := cpuVendorFn, fatalFn
	t.Cleanup(func() {
		portIO, overlayFn, detectHardwareFn = origPortIO, origOverlay, origDetect
		activeTimerFn, enableInterruptsFn, idleFn, panicFn = origTimer, origEnable, origIdle, origPanic
		cpuVendorFn, fatalFn = origVendor, origFatal
		kfmt.SetOutputSink(nil)
		multiboot.SetInfoPtr(0)
	})

	portIO = h.ports
	overlayFn = func(addr uintptr, size mem.Size) []byte {
		if addr != heap.ArenaBase {
			t.Errorf("expected arena to be overlaid at 0x%x; got 0x%x", heap.ArenaBase, addr)
		}
		h.arena = make([]byte, size)
		return h.arena
	}
	detectHardwareFn = func() { h.hardwareDetected = true }
	activeTimerFn = func() irqSource { return timer }
	enableInterruptsFn = func() { h.interruptsOn = true }
	idleFn = func() bool {
		h.idleCalls++
		return h.idleCalls < 3
	}
	panicFn = func(e interface{}) {
		h.panicCalls++
		h.panicErr, _ = e.(*kernel.Error)
	}
	fatalFn = func(err *kernel.Error, state kfmt.Dumper) {
		h.fatalCalls++
		h.fatalErr = err
		h.fatalState = state
	}
	cpuVendorFn = func(buf *[12]byte) {
		copy(buf[:], "GenuineIntel")
	}

	kfmt.SetOutputSink(&h.output)
	multiboot.SetInfoPtr(uintptr(unsafe.Pointer(&info[0])))
	return h
}

func TestKmain(t *testing.T) {
	info := bootInfo("heap.strict", qemuMemoryMap)
	h := setupKmain(t, info, fakeTimer{})

	Kmain(uintptr(unsafe.Pointer(&info[0])))

	if !h.hardwareDetected {
		t.Error("expected DetectHardware to be called")
	}

	if !h.interruptsOn {
		t.Error("expected interrupts to be enabled")
	}

	if h.idleCalls != 3 {
		t.Errorf("expected idle loop to run 3 times; got %d", h.idleCalls)
	}

	if h.panicCalls != 1 || h.panicErr != errKmainReturned {
		t.Errorf("expected a single panic with errKmainReturned; got %d call(s) with %v", h.panicCalls, h.panicErr)
	}

	if h.fatalCalls != 0 {
		t.Errorf("expected boot to succeed; got fatal error %v", h.fatalErr)
	}

	if got := pic.Mask(); got != 0xfffe {
		t.Errorf("expected only IRQ0 to be unmasked; got mask 0x%x", got)
	}

	if len(h.arena) != int(heap.ArenaSize) {
		t.Errorf("expected heap arena of %d bytes; got %d", heap.ArenaSize, len(h.arena))
	}

	output := h.output.String()
	for _, exp := range []string{
		"[kmain] cpu vendor: GenuineIntel\n",
		"[kmain] system memory map:",
		"[0x0000100000 - 0x0007fe0000], size:  133038080, type: available",
		"size:       1024, type: reserved",
		"=== Memory Map ===",
		"Heap Size: 1048576 bytes",
		"[kmain] 0 driver(s) active\n",
		"[kmain] no console detected, output remains buffered\n",
		"grace: 100 ticks",
	} {
		if !strings.Contains(output, exp) {
			t.Errorf("expected output to contain %q; got:\n%s", exp, output)
		}
	}
}

func TestKmainNoGrace(t *testing.T) {
	info := bootInfo("quiet sched.nograce", qemuMemoryMap)
	h := setupKmain(t, info, fakeTimer{})

	Kmain(uintptr(unsafe.Pointer(&info[0])))

	if !strings.Contains(h.output.String(), "grace: 0 ticks") {
		t.Errorf("expected grace window to be disabled; got:\n%s", h.output.String())
	}

}

func TestKmainBootErrors(t *testing.T) {
	specs := []struct {
		descr   string
		regions []memRegion
		timer   irqSource
		expErr  *kernel.Error
	}{
		{
			"arena in reserved memory",
			[]memRegion{
				{0, 0x9fc00, multiboot.MemAvailable},
				{0x100000, 0x200000, multiboot.MemReserved},
			},
			fakeTimer{},
			errArenaNotAvailable,
		},
		{
			"arena crosses end of available region",
			[]memRegion{
				{0x100000, 0x180000, multiboot.MemAvailable},
			},
			fakeTimer{},
			errArenaNotAvailable,
		},
		{
			"no timer",
			qemuMemoryMap,
			nil,
			errNoTimer,
		},
	}

	for specIndex, spec := range specs {
		info := bootInfo("", spec.regions)
		h := setupKmain(t, info, spec.timer)

		Kmain(uintptr(unsafe.Pointer(&info[0])))

		if h.fatalCalls != 1 || h.fatalErr != spec.expErr {
			t.Errorf("[spec %d] %s: expected a single fatal error %v; got %d call(s) with %v", specIndex, spec.descr, spec.expErr, h.fatalCalls, h.fatalErr)
		}

		if _, ok := h.fatalState.(systemState); !ok {
			t.Errorf("[spec %d] %s: expected the system state to be reported; got %T", specIndex, spec.descr, h.fatalState)
		}

		if h.panicCalls != 0 {
			t.Errorf("[spec %d] %s: expected Kmain to stop after the fatal error", specIndex, spec.descr)
		}

		if h.interruptsOn {
			t.Errorf("[spec %d] %s: expected interrupts to remain disabled", specIndex, spec.descr)
		}

		if h.idleCalls != 0 {
			t.Errorf("[spec %d] %s: expected idle loop not to run", specIndex, spec.descr)
		}
	}
}

func TestSystemStateDumpTo(t *testing.T) {
	defer func() {
		heap.KernelHeap = heap.Allocator{}
		scheduler = sched.Scheduler{}
	}()

	var buf bytes.Buffer

	// before the heap and the scheduler are initialized
	heap.KernelHeap = heap.Allocator{}
	scheduler = sched.Scheduler{}
	systemState{}.DumpTo(&buf)

	if exp := "Total Memory: 0 bytes\n"; !strings.Contains(buf.String(), exp) {
		t.Errorf("expected output to contain %q; got:\n%s", exp, buf.String())
	}

	if err := heap.KernelHeap.Init(make([]byte, 1024), heap.Config{Guard: sync.NopGuard{}}); err != nil {
		t.Fatal(err)
	}
	if _, err := heap.KernelHeap.Alloc(100); err != nil {
		t.Fatal(err)
	}

	scheduler.Init(sched.Config{Guard: sync.NopGuard{}, Trap: func() {}})
	if _, err := scheduler.CreateTask("shell", func() {}); err != nil {
		t.Fatal(err)
	}

	buf.Reset()
	systemState{}.DumpTo(&buf)

	for _, exp := range []string{
		"Used Memory: 104 bytes\n",
		"Allocations: 1\n",
		"  1 shell",
		"READY\n",
	} {
		if !strings.Contains(buf.String(), exp) {
			t.Errorf("expected output to contain %q; got:\n%s", exp, buf.String())
		}
	}
}

func TestRegionAvailable(t *testing.T) {
	info := bootInfo("", qemuMemoryMap)
	multiboot.SetInfoPtr(uintptr(unsafe.Pointer(&info[0])))
	defer multiboot.SetInfoPtr(0)

	specs := []struct {
		start, size uint64
		exp         bool
	}{
		{0x200000, 0x100000, true},
		{0x100000, 0x7ee0000, true},
		{0x100000, 0x7ee0001, false},
		{0x9f000, 0x1000, false},
		{0xf0000, 0x100, false},
		{0x10000000, 0x1000, false},
	}

	for specIndex, spec := range specs {
		if got := regionAvailable(spec.start, spec.size); got != spec.exp {
			t.Errorf("[spec %d] expected regionAvailable(0x%x, 0x%x) to return %t; got %t", specIndex, spec.start, spec.size, spec.exp, got)
		}
	}
}
