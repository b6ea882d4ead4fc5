// Package core implements the Computation Core: a fused multiply-
// accumulate stage feeding a sigmoid activation stage, wired together as
// ComputCore (spec.md §4.6). Grounded on the original's
// netzp_comp_core.cpp AccumulationCore/ActivationCore/ComputCore split;
// the "on change of X" sensitivity each sub-core reacts to is expressed
// directly with signal.Signal's Touched(), so no separate event
// subscription mechanism is needed beyond what package signal already
// gives every signal.
package core

import (
	"fmt"
	"math"

	"github.com/rcornwell/netzp/emu/event"
	"github.com/rcornwell/netzp/emu/netz"
	"github.com/rcornwell/netzp/emu/signal"
)

// AbortError marks a fatal invariant violation inside a core, per
// spec.md §7.
type AbortError struct {
	Reason string
}

func (e *AbortError) Error() string {
	return "abort: " + e.Reason
}

// ComputationData is the core port record carried on input_data and
// output_data: a neuron descriptor, the input activations it pairs
// with, and (once computed) the neuron's output.
type ComputationData struct {
	Data   netz.NeuronData
	Inputs []float32
	Output float32
}

// Equal reports structural equality, the comparison two-phase signals of
// ComputationData use for change detection.
func (c ComputationData) Equal(o ComputationData) bool {
	if !c.Data.Equal(o.Data) || c.Output != o.Output {
		return false
	}
	if len(c.Inputs) != len(o.Inputs) {
		return false
	}
	for i := range c.Inputs {
		if c.Inputs[i] != o.Inputs[i] {
			return false
		}
	}
	return true
}

// writeStrobe is the equality function of the accumulator and activator
// result signals: every write counts as a change, so a result equal to
// the previous one (a zero dot product, say) still reaches the output.
func writeStrobe(a, b float32) bool { return false }

func sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}

// accumulator computes the dot product of a neuron's weights and its
// input activations, one rising edge after the data input changes.
type accumulator struct {
	data   *signal.Signal[ComputationData]
	result *signal.Signal[float32]
}

func newAccumulator() *accumulator {
	return &accumulator{
		data:   signal.New(ComputationData{}, ComputationData.Equal),
		result: signal.New[float32](0, writeStrobe),
	}
}

func (a *accumulator) tick() error {
	if !a.data.Touched() {
		return nil
	}
	d := a.data.Read()
	weights := d.Data.Weights
	if len(weights) != len(d.Inputs) {
		return &AbortError{Reason: fmt.Sprintf(
			"accumulation core: weights_count=%d but inputs.len()=%d for neuron %d/%d",
			len(weights), len(d.Inputs), d.Data.Layer, d.Data.Neuron)}
	}
	var sum float32
	for i := range weights {
		sum += weights[i] * d.Inputs[i]
	}
	a.result.Write(sum)
	return nil
}

// activator applies the sigmoid to the accumulator's result, one rising
// edge after the accumulator writes it.
type activator struct {
	x      *signal.Signal[float32]
	result *signal.Signal[float32]
}

func newActivator() *activator {
	return &activator{
		x:      signal.NewComparable[float32](0),
		result: signal.New[float32](0, writeStrobe),
	}
}

func (a *activator) tick() error {
	if !a.x.Touched() {
		return nil
	}
	a.result.Write(sigmoid(a.x.Read()))
	return nil
}

// ComputCore wires accumulator -> activator and exposes the port record
// a CDU assigns neurons through.
type ComputCore struct {
	rst       *signal.Signal[bool]
	inputData *signal.Signal[ComputationData]

	outputData *signal.Signal[ComputationData]
	ready      *signal.Signal[bool]

	acc *accumulator
	act *activator

	compdataCurrent ComputationData
}

// New builds a ComputCore sharing rst with the rest of the simulation,
// and registers it with clk.
func New(clk *event.Clock, rst *signal.Signal[bool]) *ComputCore {
	c := &ComputCore{
		rst:        rst,
		inputData:  signal.New(ComputationData{}, ComputationData.Equal),
		outputData: signal.New(ComputationData{}, ComputationData.Equal),
		ready:      signal.NewComparable(false),
		acc:        newAccumulator(),
		act:        newActivator(),
	}
	// The activator watches the accumulator's result directly: wire them
	// so act.x IS acc.result, i.e. any write to one is the other.
	c.act.x = c.acc.result

	clk.Watch(c.inputData)
	clk.Watch(c.acc.data)
	clk.Watch(c.acc.result)
	clk.Watch(c.act.result)
	clk.Watch(c.outputData)
	clk.Watch(c.ready)
	clk.Register(c)
	return c
}

// InputData is the signal a CDU writes a neuron assignment onto.
func (c *ComputCore) InputData() *signal.Signal[ComputationData] { return c.inputData }

// OutputData is the core's most recently committed result record.
func (c *ComputCore) OutputData() ComputationData { return c.outputData.Read() }

// Ready reports whether OutputData carries the result of the most recent
// assignment. It stays true until the next InputData lands.
func (c *ComputCore) Ready() bool { return c.ready.Read() }

// Tick implements event.Ticker.
func (c *ComputCore) Tick() error {
	if c.rst.Read() {
		c.outputData.Write(ComputationData{})
		c.ready.Write(false)
		c.compdataCurrent = ComputationData{}
		return nil
	}

	if c.inputData.Touched() {
		c.compdataCurrent = c.inputData.Read()
		c.ready.Write(false)
		c.acc.data.Write(c.compdataCurrent)
	}

	if err := c.acc.tick(); err != nil {
		return err
	}
	if err := c.act.tick(); err != nil {
		return err
	}

	if c.act.result.Touched() {
		out := c.compdataCurrent
		out.Output = c.act.result.Read()
		c.outputData.Write(out)
		c.ready.Write(true)
	}
	return nil
}
