package main

import (
	"context"
	"errors"
	"fmt"
	"minicore/device/timer/pit"
	"minicore/kernel/heap"
	"path"
	"strings"

	"github.com/viant/afs"
	"gopkg.in/yaml.v3"
)

// Heap operations understood by the runner.
const (
	opAlloc       = "alloc"
	opCalloc      = "calloc"
	opAligned     = "aligned"
	opRealloc     = "realloc"
	opFree        = "free"
	opFreeAligned = "freeAligned"
)

// Scheduler events understood by the runner.
const (
	eventSleep = "sleep"
	eventYield = "yield"
	eventExit  = "exit"
	eventSpawn = "spawn"
)

// Scenario describes a single simulation run. Either section may be omitted.
type Scenario struct {
	Name      string         `yaml:"name"`
	Heap      *HeapScenario  `yaml:"heap,omitempty"`
	Scheduler *SchedScenario `yaml:"scheduler,omitempty"`
}

// HeapScenario drives an allocator through a list of operations.
type HeapScenario struct {
	// ArenaSize defaults to the size of the kernel heap arena.
	ArenaSize uint32      `yaml:"arenaSize"`
	Strict    bool        `yaml:"strict"`
	Ops       []HeapOp    `yaml:"ops"`
	Expect    *HeapExpect `yaml:"expect,omitempty"`
}

// HeapOp is a single allocator call. The result of an allocating call is
// remembered under ID; Ref names the handle that free and realloc operate on
// while Ptr supplies a raw handle instead.
type HeapOp struct {
	Op          string  `yaml:"op"`
	ID          string  `yaml:"id,omitempty"`
	Ref         string  `yaml:"ref,omitempty"`
	Ptr         *uint32 `yaml:"ptr,omitempty"`
	Size        uint32  `yaml:"size,omitempty"`
	Count       uint32  `yaml:"count,omitempty"`
	Align       uint32  `yaml:"align,omitempty"`
	ExpectError string  `yaml:"expectError,omitempty"`
}

// HeapExpect holds the allocator state expected after all operations ran.
type HeapExpect struct {
	Used       *uint64  `yaml:"used,omitempty"`
	Free       *uint64  `yaml:"free,omitempty"`
	FreeBlocks []uint64 `yaml:"freeBlocks,omitempty"`
}

// SchedScenario drives a scheduler with timer ticks and task events.
type SchedScenario struct {
	TimeSlice uint32       `yaml:"timeSlice"`
	Grace     uint64       `yaml:"grace"`
	TimerHz   uint32       `yaml:"timerHz"`
	Tasks     []string     `yaml:"tasks"`
	Ticks     uint64       `yaml:"ticks"`
	Events    []SchedEvent `yaml:"events"`
	Expect    *SchedExpect `yaml:"expect,omitempty"`
}

// SchedEvent is applied on behalf of the running task right after the timer
// tick At has been handled.
type SchedEvent struct {
	At     uint64 `yaml:"at"`
	Action string `yaml:"action"`
	Ticks  uint64 `yaml:"ticks,omitempty"`
	Name   string `yaml:"name,omitempty"`
}

// SchedExpect holds the scheduler behaviour expected by the end of the run.
type SchedExpect struct {
	Order  []string          `yaml:"order,omitempty"`
	States map[string]string `yaml:"states,omitempty"`
}

func (h *HeapScenario) arenaSize() uint32 {
	if h.ArenaSize == 0 {
		return uint32(heap.ArenaSize)
	}
	return h.ArenaSize
}

func (s *SchedScenario) timerHz() uint32 {
	if s.TimerHz == 0 {
		return pit.DefaultFrequency
	}
	return s.TimerHz
}

// LoadScenario downloads and decodes the scenario stored at URL.
func LoadScenario(ctx context.Context, fs afs.Service, URL string) (*Scenario, error) {
	data, err := fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to load scenario from %s: %w", URL, err)
	}

	scenario, err := DecodeScenario(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse scenario from %s: %w", URL, err)
	}

	if scenario.Name == "" {
		scenario.Name = scenarioNameFromURL(URL)
	}
	return scenario, nil
}

// DecodeScenario decodes a YAML scenario and validates it.
func DecodeScenario(encoded []byte) (*Scenario, error) {
	var scenario Scenario
	if err := yaml.Unmarshal(encoded, &scenario); err != nil {
		return nil, err
	}

	if err := scenario.Validate(); err != nil {
		return nil, err
	}
	return &scenario, nil
}

// scenarioNameFromURL returns the file name of URL without its extension.
func scenarioNameFromURL(URL string) string {
	name := path.Base(URL)
	return strings.TrimSuffix(name, path.Ext(name))
}

// Validate reports every problem found in the scenario.
func (s *Scenario) Validate() error {
	if s.Heap == nil && s.Scheduler == nil {
		return errors.New("scenario defines neither a heap nor a scheduler section")
	}

	var errs []error
	if s.Heap != nil {
		errs = append(errs, s.Heap.validate()...)
	}
	if s.Scheduler != nil {
		errs = append(errs, s.Scheduler.validate()...)
	}
	return errors.Join(errs...)
}

func (h *HeapScenario) validate() []error {
	var (
		errs []error
		ids  = map[string]bool{}
	)

	for i, op := range h.Ops {
		switch op.Op {
		case opAlloc, opCalloc, opAligned:
		case opRealloc, opFree, opFreeAligned:
			if op.Ptr == nil && !ids[op.Ref] {
				errs = append(errs, fmt.Errorf("heap op %d (%s): unknown handle %q", i, op.Op, op.Ref))
			}
		default:
			errs = append(errs, fmt.Errorf("heap op %d: unsupported operation %q", i, op.Op))
			continue
		}

		if op.ID != "" {
			ids[op.ID] = true
		}
	}

	return errs
}

func (s *SchedScenario) validate() []error {
	var errs []error

	if s.Ticks == 0 {
		errs = append(errs, errors.New("scheduler: ticks must be greater than zero"))
	}

	for i, ev := range s.Events {
		switch ev.Action {
		case eventYield, eventExit:
		case eventSleep:
			if ev.Ticks == 0 {
				errs = append(errs, fmt.Errorf("scheduler event %d: sleep requires a positive tick count", i))
			}
		case eventSpawn:
			if ev.Name == "" {
				errs = append(errs, fmt.Errorf("scheduler event %d: spawn requires a task name", i))
			}
		default:
			errs = append(errs, fmt.Errorf("scheduler event %d: unsupported action %q", i, ev.Action))
		}

		if ev.At == 0 || ev.At > s.Ticks {
			errs = append(errs, fmt.Errorf("scheduler event %d: tick %d is outside the run", i, ev.At))
		}
	}

	return errs
}
