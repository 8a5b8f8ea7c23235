package kmain

import (
	"io"
	"minicore/device"
	"minicore/kernel"
	"minicore/kernel/cpu"
	"minicore/kernel/hal"
	"minicore/kernel/heap"
	"minicore/kernel/irq"
	"minicore/kernel/kfmt"
	"minicore/kernel/mem"
	"minicore/kernel/mm"
	"minicore/kernel/sched"
	"minicore/multiboot"

	// Drivers register themselves with the device package when imported.
	_ "minicore/device/timer/pit"
	_ "minicore/device/video/console"
)

const (
	// bootGraceTicks is the number of ticks after boot during which no
	// task is dispatched.
	bootGraceTicks = 100

	// slaveVectorOffset is the first vector used by the slave PIC.
	slaveVectorOffset = irq.FirstIRQVector + 8
)

var (
	errKmainReturned     = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
	errArenaNotAvailable = &kernel.Error{Module: "kmain", Message: "heap arena is not backed by available memory"}
	errNoTimer           = &kernel.Error{Module: "kmain", Message: "no system timer detected"}

	pic       irq.PIC
	scheduler sched.Scheduler

	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	portIO             irq.PortIO = cpu.Ports{}
	overlayFn                     = mem.Overlay
	detectHardwareFn              = hal.DetectHardware
	activeTimerFn                 = activeTimer
	cpuVendorFn                   = cpu.Vendor
	enableInterruptsFn            = cpu.EnableInterrupts
	idleFn                        = idle
	panicFn                       = kfmt.Panic
	fatalFn                       = kfmt.Fatal
)

// Kmain is the only Go symbol that is visible (exported) from the rt0
// initialization code. This function is invoked by the rt0 assembly code after
// setting up the GDT, the IDT and the trap entry stubs and setting up a
// minimal g0 struct that allows Go code to use the stack allocated by the
// assembly code.
//
// The rt0 code passes the address of the multiboot info payload provided by
// the bootloader.
//
// Kmain is not expected to return. Once the kernel is initialized, the boot
// thread becomes the scheduler's idle context and halts until the next
// interrupt arrives.
//
//go:noinline
func Kmain(multibootInfoPtr uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	if err := boot(); err != nil {
		fatalFn(err, systemState{})
		return
	}

	enableInterruptsFn()
	for idleFn() {
	}

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	panicFn(errKmainReturned)
}

// boot initializes the kernel subsystems. It returns with interrupts still
// masked.
func boot() *kernel.Error {
	var vendor [12]byte
	cpuVendorFn(&vendor)
	kfmt.Printf("[kmain] cpu vendor: %s\n", vendor[:])

	printMemoryMap()

	if !regionAvailable(uint64(heap.ArenaBase), uint64(heap.ArenaSize)) {
		return errArenaNotAvailable
	}

	heapCfg := heap.Config{Strict: multiboot.HasBootFlag("heap.strict")}
	if err := heap.KernelHeap.Init(overlayFn(heap.ArenaBase, heap.ArenaSize), heapCfg); err != nil {
		return err
	}
	heap.KernelHeap.PrintMemoryMap(kfmt.GetOutputSink())

	mm.InitPaging()

	pic.Init(portIO)
	irq.Init(&pic)
	pic.Remap(irq.FirstIRQVector, slaveVectorOffset)

	detectHardwareFn()
	printDrivers()

	timer := activeTimerFn()
	if timer == nil {
		return errNoTimer
	}

	schedCfg := sched.Config{GraceTicks: bootGraceTicks}
	if multiboot.HasBootFlag("sched.nograce") {
		schedCfg.GraceTicks = 0
	}
	scheduler.Init(schedCfg)
	scheduler.Start()

	irq.Register(irq.IRQVector(timer.IRQ()), &scheduler)
	irq.Register(sched.YieldVector, &scheduler)
	pic.Enable(timer.IRQ())

	kfmt.Printf("[kmain] scheduler running (time slice: %d ticks, grace: %d ticks)\n", uint32(sched.DefaultTimeSlice), schedCfg.GraceTicks)
	return nil
}

// idle halts the CPU until the next interrupt arrives and reports whether
// the idle loop should keep running.
func idle() bool {
	cpu.WaitForInterrupt()
	return true
}

// activeTimer adapts hal.ActiveTimer to the minimal interface used by boot.
func activeTimer() irqSource {
	if t := hal.ActiveTimer(); t != nil {
		return t
	}
	return nil
}

// irqSource is implemented by devices that are wired to a PIC line.
type irqSource interface {
	IRQ() uint8
}

// printDrivers logs the drivers that the hal brought up.
func printDrivers() {
	var count int
	hal.ActiveDrivers(func(drv device.Driver) {
		major, minor, patch := drv.DriverVersion()
		kfmt.Printf("[kmain] active driver: %s(%d.%d.%d)\n", drv.DriverName(), major, minor, patch)
		count++
	})
	kfmt.Printf("[kmain] %d driver(s) active\n", count)

	if hal.ActiveConsole() == nil {
		kfmt.Printf("[kmain] no console detected, output remains buffered\n")
	}
}

// systemState reports the heap counters and the task table when the kernel
// fails.
type systemState struct{}

func (systemState) DumpTo(w io.Writer) {
	heap.KernelHeap.Stats().DumpTo(w)
	scheduler.DumpTo(w)
}

// printMemoryMap logs the memory regions reported by the boot loader.
func printMemoryMap() {
	var totalFree uint64

	kfmt.Printf("[kmain] system memory map:\n")
	multiboot.VisitMemRegions(func(region multiboot.MemoryMapEntry) bool {
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n", region.PhysAddress, region.End(), region.Length, region.Type.String())
		if region.Type == multiboot.MemAvailable {
			totalFree += region.Length
		}
		return true
	})
	kfmt.Printf("[kmain] available memory: %dKb\n", totalFree/uint64(mem.Kb))
}

// regionAvailable returns true if [start, start+size) is fully contained in a
// memory region that the boot loader reports as available.
func regionAvailable(start, size uint64) bool {
	var found bool

	multiboot.VisitMemRegions(func(region multiboot.MemoryMapEntry) bool {
		if region.Type == multiboot.MemAvailable && region.Contains(start, size) {
			found = true
			return false
		}
		return true
	})

	return found
}
