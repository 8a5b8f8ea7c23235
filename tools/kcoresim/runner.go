package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"minicore/device/timer/pit"
	"minicore/kernel"
	"minicore/kernel/heap"
	"minicore/kernel/irq"
	"minicore/kernel/kfmt"
	"minicore/kernel/mem"
	"minicore/kernel/sched"
	"minicore/kernel/sync"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/viant/afs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const idleName = "idle"

var errHeapCorrupted = errors.New("heap integrity check failed")

// Runner executes scenarios against the kernel heap and scheduler packages.
type Runner struct {
	fs      afs.Service
	out     io.Writer
	logger  *slog.Logger
	tracer  trace.Tracer
	verbose bool
	newID   func() string
}

// Option customizes a Runner.
type Option func(*Runner)

// WithVerbose makes the runner print the task that runs after every tick.
func WithVerbose(verbose bool) Option {
	return func(r *Runner) { r.verbose = verbose }
}

// WithTracer overrides the tracer obtained from the global provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Runner) { r.tracer = tracer }
}

// NewRunner returns a Runner that loads scenarios through fs and writes its
// report to out.
func NewRunner(fs afs.Service, out io.Writer, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		fs:     fs,
		out:    out,
		logger: logger,
		tracer: otel.Tracer(tracerName),
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report summarizes a scenario run.
type Report struct {
	RunID     string
	Scenario  string
	Heap      *HeapReport
	Scheduler *SchedReport
}

// HeapReport describes the allocator state at the end of a run.
type HeapReport struct {
	Stats  heap.Stats
	Blocks []heap.Block
	Intact bool
}

// FreeBlocks returns the payload sizes of the free blocks in arena order.
func (r *HeapReport) FreeBlocks() []uint64 {
	var sizes []uint64
	for _, b := range r.Blocks {
		if b.Free {
			sizes = append(sizes, uint64(b.Size))
		}
	}
	return sizes
}

// SchedReport describes what the scheduler did during a run.
type SchedReport struct {
	Ticks    uint64
	Trace    []string
	Order    []string
	RunTicks map[string]int
	States   map[string]string
	EOIs     int
	Divisor  uint16
	Ports    []PortWrite
}

// RunURL loads the scenario stored at URL and runs it.
func (r *Runner) RunURL(ctx context.Context, URL string) (*Report, error) {
	scenario, err := LoadScenario(ctx, r.fs, URL)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, scenario)
}

// Run executes scenario and prints its report.
func (r *Runner) Run(ctx context.Context, scenario *Scenario) (report *Report, err error) {
	report = &Report{RunID: r.newID(), Scenario: scenario.Name}
	logger := r.logger.With(slog.String("run_id", report.RunID), slog.String("scenario", scenario.Name))

	ctx, span := r.tracer.Start(ctx, "scenario", trace.WithAttributes(
		attribute.String("scenario.name", scenario.Name),
		attribute.String("run.id", report.RunID),
	))
	defer func() { endSpan(span, err) }()

	logger.Info("scenario started")
	fmt.Fprintf(r.out, "### %s (%s)\n", scenario.Name, report.RunID)

	if scenario.Heap != nil {
		if report.Heap, err = r.runHeap(ctx, logger, scenario.Heap); err != nil {
			logger.Error("heap simulation failed", errAttr(err))
			return report, err
		}
	}

	if scenario.Scheduler != nil {
		if report.Scheduler, err = r.runScheduler(ctx, logger, scenario.Scheduler); err != nil {
			logger.Error("scheduler simulation failed", errAttr(err))
			return report, err
		}
	}

	logger.Info("scenario completed")
	return report, nil
}

func (r *Runner) runHeap(ctx context.Context, logger *slog.Logger, hs *HeapScenario) (report *HeapReport, err error) {
	_, span := r.tracer.Start(ctx, "heap", trace.WithAttributes(
		attribute.Int("heap.arena_size", int(hs.arenaSize())),
		attribute.Bool("heap.strict", hs.Strict),
		attribute.Int("heap.ops", len(hs.Ops)),
	))
	defer func() { endSpan(span, err) }()

	var alloc heap.Allocator
	if kerr := alloc.Init(make([]byte, hs.arenaSize()), heap.Config{Strict: hs.Strict, Guard: sync.NopGuard{}}); kerr != nil {
		return nil, fmt.Errorf("heap init: %w", kerr)
	}

	handles := map[string]heap.Ptr{}
	for i, op := range hs.Ops {
		p, kerr := applyHeapOp(&alloc, handles, op)
		logger.Debug("heap op", slog.Int("index", i), slog.String("op", op.Op), slog.Uint64("ptr", uint64(p)), slog.Bool("failed", kerr != nil))

		switch {
		case op.ExpectError != "":
			if kerr == nil || kerr.Message != op.ExpectError {
				return nil, fmt.Errorf("heap op %d (%s): expected error %q; got %v", i, op.Op, op.ExpectError, errString(kerr))
			}
			continue
		case kerr != nil:
			return nil, fmt.Errorf("heap op %d (%s): %w", i, op.Op, kerr)
		}

		switch {
		case op.ID != "":
			handles[op.ID] = p
		case op.Op == opRealloc && op.Ref != "":
			handles[op.Ref] = p
		}
	}

	report = &HeapReport{Stats: alloc.Stats(), Intact: alloc.CheckIntegrity()}
	alloc.VisitBlocks(func(b heap.Block) bool {
		report.Blocks = append(report.Blocks, b)
		return true
	})

	alloc.DumpTo(r.out)
	report.Stats.DumpTo(r.out)

	if !report.Intact {
		return report, errHeapCorrupted
	}

	if exp := hs.Expect; exp != nil {
		if exp.Used != nil && *exp.Used != uint64(report.Stats.Used) {
			return report, fmt.Errorf("expected %d used bytes; got %d", *exp.Used, uint64(report.Stats.Used))
		}
		if exp.Free != nil && *exp.Free != uint64(report.Stats.Free) {
			return report, fmt.Errorf("expected %d free bytes; got %d", *exp.Free, uint64(report.Stats.Free))
		}
		if exp.FreeBlocks != nil {
			if err = expectLines("free blocks", formatUints(exp.FreeBlocks), formatUints(report.FreeBlocks())); err != nil {
				return report, err
			}
		}
	}

	return report, nil
}

func applyHeapOp(alloc *heap.Allocator, handles map[string]heap.Ptr, op HeapOp) (heap.Ptr, *kernel.Error) {
	target := handles[op.Ref]
	if op.Ptr != nil {
		target = heap.Ptr(*op.Ptr)
	}

	switch op.Op {
	case opAlloc:
		return alloc.Alloc(mem.Size(op.Size))
	case opCalloc:
		return alloc.AllocZeroed(mem.Size(op.Count), mem.Size(op.Size))
	case opAligned:
		return alloc.AllocAligned(mem.Size(op.Size), mem.Size(op.Align))
	case opRealloc:
		return alloc.Realloc(target, mem.Size(op.Size))
	case opFree:
		return heap.Nil, alloc.Free(target)
	case opFreeAligned:
		return heap.Nil, alloc.FreeAligned(target)
	}
	return heap.Nil, nil
}

// machine bundles the simulated hardware that the scheduler runs on.
type machine struct {
	ports *portLog
	pic   irq.PIC
	table irq.Table
	timer *pit.PIT
	sched sched.Scheduler

	// frame is the trap frame of whatever the CPU is executing.
	frame irq.Registers
}

// raise delivers vector v through the vector table.
func (m *machine) raise(v irq.Vector) {
	m.frame.Vector = uint32(v)
	m.table.Dispatch(&m.frame)
}

func (m *machine) trap() {
	m.raise(sched.YieldVector)
}

func (m *machine) tick() {
	m.raise(irq.IRQVector(m.timer.IRQ()))
}

// noopTask is the entry point of simulated tasks. Tasks never execute on the
// host; their behaviour is scripted by scenario events.
func noopTask() {}

func (r *Runner) runScheduler(ctx context.Context, logger *slog.Logger, ss *SchedScenario) (report *SchedReport, err error) {
	_, span := r.tracer.Start(ctx, "scheduler", trace.WithAttributes(
		attribute.Int("sched.tasks", len(ss.Tasks)),
		attribute.Int64("sched.ticks", int64(ss.Ticks)),
		attribute.Int64("sched.grace", int64(ss.Grace)),
	))
	defer func() { endSpan(span, err) }()

	m := &machine{ports: newPortLog()}
	m.pic.Init(m.ports)
	m.table.Init(&m.pic)
	m.pic.Remap(irq.FirstIRQVector, irq.FirstIRQVector+8)

	m.timer = pit.NewWithPorts(ss.timerHz(), m.ports)
	if kerr := m.timer.DriverInit(&kfmt.PrefixWriter{Sink: r.out, Prefix: []byte("[pit] ")}); kerr != nil {
		return nil, fmt.Errorf("timer init: %w", kerr)
	}

	m.sched.Init(sched.Config{
		TimeSlice:  ss.TimeSlice,
		GraceTicks: ss.Grace,
		Guard:      sync.NopGuard{},
		Trap:       m.trap,
	})
	m.sched.Start()

	m.table.Register(irq.IRQVector(m.timer.IRQ()), &m.sched)
	m.table.Register(sched.YieldVector, &m.sched)
	m.pic.Enable(m.timer.IRQ())

	for _, name := range ss.Tasks {
		if _, kerr := m.sched.CreateTask(name, noopTask); kerr != nil {
			return nil, fmt.Errorf("create task %q: %w", name, kerr)
		}
	}

	events := append([]SchedEvent(nil), ss.Events...)
	sort.SliceStable(events, func(i, j int) bool { return events[i].At < events[j].At })

	report = &SchedReport{RunTicks: map[string]int{}, States: map[string]string{}, Divisor: m.timer.Divisor()}

	var last *sched.Task
	observe := func() {
		cur := m.sched.Current()
		if cur != nil && cur != last {
			report.Order = append(report.Order, strings.Clone(cur.Name()))
		}
		last = cur
	}

	for tick := uint64(1); tick <= ss.Ticks; tick++ {
		m.tick()
		observe()

		name := idleName
		if cur := m.sched.Current(); cur != nil {
			name = strings.Clone(cur.Name())
		}
		report.Trace = append(report.Trace, name)
		report.RunTicks[name]++
		if r.verbose {
			fmt.Fprintf(r.out, "tick %5d: %s\n", tick, name)
		}

		for len(events) != 0 && events[0].At == tick {
			r.applyEvent(logger, m, events[0])
			events = events[1:]
			observe()
		}
	}

	report.Ticks = m.sched.Ticks()
	report.EOIs = m.ports.count(0x20, 0x20)
	report.Ports = m.ports.writes
	m.sched.Visit(func(t *sched.Task) bool {
		report.States[strings.Clone(t.Name())] = t.State().String()
		return true
	})

	m.sched.DumpTo(r.out)
	fmt.Fprintf(r.out, "run order: %s\n", strings.Join(report.Order, " "))
	for _, name := range sortedKeys(report.RunTicks) {
		fmt.Fprintf(r.out, "%s: %d ticks\n", name, report.RunTicks[name])
	}
	m.ports.DumpTo(r.out)

	logger.Info("scheduler run finished",
		slog.Uint64("ticks", report.Ticks),
		slog.Int("dispatches", len(report.Order)),
		slog.Int("eois", report.EOIs),
	)

	if exp := ss.Expect; exp != nil {
		if exp.Order != nil {
			if err = expectLines("run order", exp.Order, report.Order); err != nil {
				return report, err
			}
		}
		if exp.States != nil {
			if err = expectLines("task states", formatStates(exp.States), formatStates(report.States)); err != nil {
				return report, err
			}
		}
	}

	return report, nil
}

func (r *Runner) applyEvent(logger *slog.Logger, m *machine, ev SchedEvent) {
	cur := m.sched.Current()
	if ev.Action != eventSpawn && cur == nil {
		logger.Warn("ignoring event while idle", slog.Uint64("tick", ev.At), slog.String("action", ev.Action))
		return
	}

	logger.Debug("scheduler event", slog.Uint64("tick", ev.At), slog.String("action", ev.Action), slog.String("task", taskName(cur)))

	switch ev.Action {
	case eventSleep:
		m.sched.Sleep(ev.Ticks)
	case eventYield:
		m.sched.Yield()
	case eventExit:
		m.sched.Exit()
	case eventSpawn:
		if _, kerr := m.sched.CreateTask(ev.Name, noopTask); kerr != nil {
			logger.Warn("spawn failed", slog.String("task", ev.Name), errAttr(kerr))
		}
	}
}

func taskName(t *sched.Task) string {
	if t == nil {
		return idleName
	}
	return t.Name()
}

func formatUints(values []uint64) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strconv.FormatUint(v, 10)
	}
	return out
}

func formatStates(states map[string]string) []string {
	var out []string
	for _, name := range sortedKeys(states) {
		out = append(out, name+": "+states[name])
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func errString(err *kernel.Error) string {
	if err == nil {
		return "no error"
	}
	return strconv.Quote(err.Message)
}
