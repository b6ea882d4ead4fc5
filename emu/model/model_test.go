package model_test

import (
	"math"
	"strings"
	"testing"

	"github.com/rcornwell/netzp/emu/ioc"
	"github.com/rcornwell/netzp/emu/layout"
	"github.com/rcornwell/netzp/emu/model"
	"github.com/rcornwell/netzp/emu/netz"
)

func TestSimulationRunSingleNeuronIdentity(t *testing.T) {
	sim := model.New(model.Config{CoreCount: 2, CycleBudget: 10000})

	var px ioc.Pixels
	px[3] = true

	out, err := sim.Run(px, netz.NetzwerkData{Neurons: []netz.NeuronData{
		{Layer: 0, Neuron: 0, WeightsCount: layout.PixelCount, Weights: make([]float32, layout.PixelCount)},
	}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	if math.Abs(float64(out[0]-0.5)) > 1e-6 {
		t.Fatalf("out[0] = %v, want 0.5", out[0])
	}
}

func TestSimulationRunTwiceReusesInstance(t *testing.T) {
	sim := model.New(model.Config{CoreCount: 1, CycleBudget: 10000})

	net := netz.NetzwerkData{Neurons: []netz.NeuronData{
		{Layer: 0, Neuron: 0, WeightsCount: layout.PixelCount, Weights: make([]float32, layout.PixelCount)},
	}}

	var px ioc.Pixels
	out1, err := sim.Run(px, net)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}

	px[0] = true
	out2, err := sim.Run(px, net)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if len(out1) != 1 || len(out2) != 1 {
		t.Fatalf("unexpected output lengths: %d, %d", len(out1), len(out2))
	}
	if math.Abs(float64(out1[0]-0.5)) > 1e-6 || math.Abs(float64(out2[0]-0.5)) > 1e-6 {
		t.Fatalf("zero-weight network should always score 0.5, got %v and %v", out1[0], out2[0])
	}
}

func TestSimulationDumpReflectsWrittenInputs(t *testing.T) {
	sim := model.New(model.Config{CoreCount: 1, CycleBudget: 10000})

	var px ioc.Pixels
	px[0] = true
	if _, err := sim.Run(px, netz.NetzwerkData{Neurons: []netz.NeuronData{
		{Layer: 0, Neuron: 0, WeightsCount: layout.PixelCount, Weights: make([]float32, layout.PixelCount)},
	}}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	dump := sim.Dump()
	if dump == "" {
		t.Fatalf("Dump() returned an empty string")
	}
	// Pixel 0 lives at InputsOffset 0x402: the second pair of row 0x400.
	if !strings.Contains(dump, "000400: 0000 0100 ") {
		t.Fatalf("Dump() row 0x400 does not show pixel 0 written as 1")
	}
	if sim.Cycle() == 0 {
		t.Fatalf("Cycle() = 0 after a Run")
	}
}
