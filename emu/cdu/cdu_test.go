package cdu_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/rcornwell/netzp/emu/bus"
	"github.com/rcornwell/netzp/emu/cdu"
	"github.com/rcornwell/netzp/emu/event"
	"github.com/rcornwell/netzp/emu/layout"
	"github.com/rcornwell/netzp/emu/memio"
	"github.com/rcornwell/netzp/emu/netz"
	"github.com/rcornwell/netzp/emu/signal"
)

type fixture struct {
	clk  *event.Clock
	rst  *signal.Signal[bool]
	busC *bus.Controller
	cdu  *cdu.CentralDispatchUnit
}

func setup(coreCount int) *fixture {
	clk := event.New()
	rst := signal.NewComparable(false)
	clk.Watch(rst)
	busC := bus.NewController(clk, rst, 1)
	adapter := memio.New(clk, 0, rst, busC.Port(0))
	d := cdu.New(clk, rst, adapter, coreCount)
	return &fixture{clk: clk, rst: rst, busC: busC, cdu: d}
}

func writePixels(mem interface {
	WriteByte(uint16, byte)
}, pixels [layout.PixelCount]bool) {
	for i, on := range pixels {
		v := byte(0)
		if on {
			v = 1
		}
		mem.WriteByte(layout.InputsOffset+uint16(i), v)
	}
}

func writeNetwork(mem interface {
	WriteByte(uint16, byte)
}, net netz.NetzwerkData) {
	bytes := net.Serialize()
	for i, b := range bytes {
		mem.WriteByte(layout.NetzDataOffset+uint16(i), b)
	}
}

func runInference(t *testing.T, f *fixture, budget int) []float32 {
	t.Helper()
	f.cdu.Start(true)
	for i := 0; i < budget; i++ {
		if err := f.clk.Advance(1); err != nil {
			t.Fatalf("Advance: %v", err)
		}
		if f.cdu.Finished() {
			break
		}
	}
	if !f.cdu.Finished() {
		t.Fatalf("cdu did not finish within %d cycles", budget)
	}

	count := f.busC.Mem().ReadByte(layout.OutputsBaseAddr)
	out := make([]float32, count)
	for i := range out {
		var buf [4]byte
		for j := 0; j < 4; j++ {
			buf[j] = f.busC.Mem().ReadByte(layout.OutputsBaseAddr + 1 + uint16(i*4+j))
		}
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[:]))
	}
	return out
}

func TestCDUSingleNeuronIdentity(t *testing.T) {
	f := setup(1)
	var px [layout.PixelCount]bool
	px[0] = true
	writePixels(f.busC.Mem(), px)
	writeNetwork(f.busC.Mem(), netz.NetzwerkData{Neurons: []netz.NeuronData{
		{Layer: 0, Neuron: 0, WeightsCount: layout.PixelCount, Weights: make([]float32, layout.PixelCount)},
	}})

	out := runInference(t, f, 2000)
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	if diff := math.Abs(float64(out[0] - 0.5)); diff > 1e-6 {
		t.Fatalf("out[0] = %v, want 0.5", out[0])
	}
}

func TestCDUTwoLayerNetwork(t *testing.T) {
	f := setup(4)
	var px [layout.PixelCount]bool
	px[0] = true
	writePixels(f.busC.Mem(), px)

	w0 := make([]float32, layout.PixelCount)
	w0[0] = 2
	w1 := make([]float32, layout.PixelCount)
	w1[0] = -2

	writeNetwork(f.busC.Mem(), netz.NetzwerkData{Neurons: []netz.NeuronData{
		{Layer: 0, Neuron: 0, WeightsCount: layout.PixelCount, Weights: w0},
		{Layer: 0, Neuron: 1, WeightsCount: layout.PixelCount, Weights: w1},
		{Layer: 1, Neuron: 0, WeightsCount: 2, Weights: []float32{1, 1}},
	}})

	out := runInference(t, f, 2000)
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	want := float32(1 / (1 + math.Exp(-1.0)))
	if diff := math.Abs(float64(out[0] - want)); diff > 1e-6 {
		t.Fatalf("out[0] = %v, want %v", out[0], want)
	}
}

func TestCDUCoreCountIndependence(t *testing.T) {
	net := netz.NetzwerkData{Neurons: []netz.NeuronData{
		{Layer: 0, Neuron: 0, WeightsCount: layout.PixelCount, Weights: weightsWithFirst(1.0)},
		{Layer: 0, Neuron: 1, WeightsCount: layout.PixelCount, Weights: weightsWithFirst(-1.0)},
		{Layer: 0, Neuron: 2, WeightsCount: layout.PixelCount, Weights: weightsWithFirst(0.5)},
		{Layer: 1, Neuron: 0, WeightsCount: 3, Weights: []float32{1, 1, 1}},
	}}

	var outs [][]float32
	for _, n := range []int{1, 4} {
		f := setup(n)
		var px [layout.PixelCount]bool
		px[0] = true
		writePixels(f.busC.Mem(), px)
		writeNetwork(f.busC.Mem(), net)
		outs = append(outs, runInference(t, f, 4000))
	}

	if len(outs[0]) != len(outs[1]) {
		t.Fatalf("output length differs across core counts: %v vs %v", outs[0], outs[1])
	}
	for i := range outs[0] {
		if outs[0][i] != outs[1][i] {
			t.Fatalf("output %d differs across core counts: %v vs %v", i, outs[0][i], outs[1][i])
		}
	}
}

func weightsWithFirst(v float32) []float32 {
	w := make([]float32, layout.PixelCount)
	w[0] = v
	return w
}

func TestCDUResetMidInference(t *testing.T) {
	f := setup(2)
	var px [layout.PixelCount]bool
	px[0] = true
	writePixels(f.busC.Mem(), px)
	writeNetwork(f.busC.Mem(), netz.NetzwerkData{Neurons: []netz.NeuronData{
		{Layer: 0, Neuron: 0, WeightsCount: layout.PixelCount, Weights: make([]float32, layout.PixelCount)},
	}})

	f.cdu.Start(true)
	for i := 0; i < 3; i++ {
		f.clk.Advance(1)
	}

	f.rst.Write(true)
	f.clk.Advance(1)
	f.rst.Write(false)
	f.cdu.Start(false)
	f.clk.Advance(1)

	if f.cdu.Finished() {
		t.Fatalf("Finished() true right after reset")
	}

	// Reset zeroes Mem, so the problem has to be loaded again.
	writePixels(f.busC.Mem(), px)
	writeNetwork(f.busC.Mem(), netz.NetzwerkData{Neurons: []netz.NeuronData{
		{Layer: 0, Neuron: 0, WeightsCount: layout.PixelCount, Weights: make([]float32, layout.PixelCount)},
	}})

	out := runInference(t, f, 2000)
	if len(out) != 1 || math.Abs(float64(out[0]-0.5)) > 1e-6 {
		t.Fatalf("post-reset inference out = %v, want [0.5]", out)
	}
}
