// Package model wires one Mem, one bus.Controller, two memio.Adapters
// (IOC's and the CDU's), an ioc.Controller and a cdu.CentralDispatchUnit
// into a single runnable Simulation, the way the teacher's main.go wires
// a core, its channels and its devices onto one master chan before
// handing control to a run loop. Unlike the teacher's CPU, which runs
// indefinitely servicing whatever device traffic shows up, a Simulation
// here drives exactly one inference to completion and returns its
// result, so there is no goroutine/done-channel lifecycle to manage:
// Run is a plain blocking call, and an interactive caller (the liner
// console) single-steps it with Step instead.
package model

import (
	"fmt"

	"github.com/rcornwell/netzp/emu/bus"
	"github.com/rcornwell/netzp/emu/cdu"
	"github.com/rcornwell/netzp/emu/event"
	"github.com/rcornwell/netzp/emu/ioc"
	"github.com/rcornwell/netzp/emu/layout"
	"github.com/rcornwell/netzp/emu/memio"
	"github.com/rcornwell/netzp/emu/netz"
	"github.com/rcornwell/netzp/emu/signal"
)

// Config selects a Simulation's fixed topology. There is no per-run
// device list to parse the way the teacher's config file describes one,
// since the bus has exactly two masters by construction.
type Config struct {
	// CoreCount is the number of ComputCores the CDU dispatches across.
	CoreCount int
	// CycleBudget caps how many cycles each of Run's three waits (writing
	// the problem, the inference, reading the output) may advance before
	// Run gives up on a stuck inference.
	CycleBudget int
}

// DefaultConfig returns the Config a bare CLI invocation uses.
func DefaultConfig() Config {
	return Config{CoreCount: layout.DefaultCoreCount, CycleBudget: 1_000_000}
}

// Simulation is one wired instance of the accelerator.
type Simulation struct {
	cfg Config
	clk *event.Clock
	rst *signal.Signal[bool]
	bus *bus.Controller
	ioc *ioc.Controller
	cdu *cdu.CentralDispatchUnit
}

const (
	iocMasterID = 0
	cduMasterID = 1
)

// New builds a Simulation per cfg and resets it.
func New(cfg Config) *Simulation {
	if cfg.CoreCount <= 0 {
		cfg.CoreCount = layout.DefaultCoreCount
	}
	clk := event.New()
	rst := signal.NewComparable(false)
	clk.Watch(rst)

	busC := bus.NewController(clk, rst, layout.MaxConnections)
	iocAdapter := memio.New(clk, iocMasterID, rst, busC.Port(iocMasterID))
	cduAdapter := memio.New(clk, cduMasterID, rst, busC.Port(cduMasterID))

	d := cdu.New(clk, rst, cduAdapter, cfg.CoreCount)
	c := ioc.New(clk, rst, iocAdapter, d.FinishedSignal())

	s := &Simulation{cfg: cfg, clk: clk, rst: rst, bus: busC, ioc: c, cdu: d}
	s.Reset()
	return s
}

// Reset pulses the shared reset signal for one cycle, returning every
// registered component to its power-on state.
func (s *Simulation) Reset() {
	s.rst.Write(true)
	s.clk.Advance(1)
	s.rst.Write(false)
	s.clk.Advance(1)
}

// Cycle returns the number of cycles advanced so far.
func (s *Simulation) Cycle() uint64 { return s.clk.Cycle() }

// Step advances the simulation by one cycle.
func (s *Simulation) Step() error { return s.clk.Advance(1) }

// Dump renders the underlying Mem's full contents, for the interactive
// console.
func (s *Simulation) Dump() string { return s.bus.Mem().Dump() }

// Run loads pixels and net into memory via the IOC, starts the CDU, and
// advances the clock until the output block has been written back and
// read out, returning the classification scores in neuron-evaluation
// order. It reports an error if any Ticker aborts or the cycle budget is
// exhausted first.
func (s *Simulation) Run(pixels ioc.Pixels, net netz.NetzwerkData) ([]float32, error) {
	s.Reset()
	s.ioc.SetPixels(pixels)
	s.ioc.SetNetwork(net)

	budget := s.cfg.CycleBudget
	for i := 0; !s.ioc.FinishedWriting(); i++ {
		if i >= budget {
			return nil, fmt.Errorf("model: timed out writing problem after %d cycles", budget)
		}
		if err := s.clk.Advance(1); err != nil {
			return nil, err
		}
	}

	s.cdu.Start(true)
	for i := 0; !s.cdu.Finished(); i++ {
		if i >= budget {
			return nil, fmt.Errorf("model: timed out waiting for inference after %d cycles", budget)
		}
		if err := s.clk.Advance(1); err != nil {
			return nil, err
		}
	}
	s.cdu.Start(false)

	for i := 0; !s.ioc.FinishedReading(); i++ {
		if i >= budget {
			return nil, fmt.Errorf("model: timed out reading output after %d cycles", budget)
		}
		if err := s.clk.Advance(1); err != nil {
			return nil, err
		}
	}

	return s.ioc.Outputs(), nil
}
