// Package ioc implements the InOut Controller (spec.md §4.7): the
// host-facing side of the simulator that serialises the input pixels and
// the network descriptor into memory before inference, and reads the
// output block back afterwards. Grounded on the original's
// InOutController::MainProcess (build-burst-then-wait-for-drain shape)
// and on the teacher's channel completion signalling
// (finished_writing/finished_reading mirror a subchannel's CE/DE
// completion flags).
package ioc

import (
	"encoding/binary"
	"math"

	"github.com/rcornwell/netzp/emu/event"
	"github.com/rcornwell/netzp/emu/layout"
	"github.com/rcornwell/netzp/emu/memio"
	"github.com/rcornwell/netzp/emu/memproto"
	"github.com/rcornwell/netzp/emu/netz"
	"github.com/rcornwell/netzp/emu/signal"
)

// Pixels is the 7x7 binary input image, row-major.
type Pixels [layout.PixelCount]bool

func equalOutputs(a, b signal.DataVector[float32]) bool {
	return signal.EqualDataVector(signal.EqualComparable[float32])(a, b)
}

type phase int

const (
	phaseIdle phase = iota
	phaseSubmitPixels
	phaseWaitPixels
	phaseSubmitNetwork
	phaseWaitNetwork
	phaseWriteDone
	phaseWaitGotOutput
	phaseReadCount
	phaseWaitCount
	phaseReadFloats
	phaseWaitFloats
)

// Controller is the IOC thread process.
type Controller struct {
	rst *signal.Signal[bool]

	pixels  *signal.Signal[Pixels]
	network *signal.Signal[netz.NetzwerkData]

	finishedWriting *signal.Signal[bool]
	finishedReading *signal.Signal[bool]
	outputs         *signal.Signal[signal.DataVector[float32]]

	gotOutput *signal.Signal[bool]

	adapter *memio.Adapter

	state          phase
	pixelsPending  bool
	networkPending bool
	outputCount    int
}

// New builds an IOC wired to adapter (its MemIO[0] master port) and to
// gotOutput, the CDU's finished signal it watches to know when the
// output block is ready to read back.
func New(clk *event.Clock, rst *signal.Signal[bool], adapter *memio.Adapter, gotOutput *signal.Signal[bool]) *Controller {
	// Every SetPixels/SetNetwork call counts as a change, so a host
	// re-supplying the same problem after a reset (which zeroes Mem)
	// gets it written again.
	c := &Controller{
		rst:             rst,
		pixels:          signal.New(Pixels{}, func(a, b Pixels) bool { return false }),
		network:         signal.New(netz.NetzwerkData{}, func(a, b netz.NetzwerkData) bool { return false }),
		finishedWriting: signal.NewComparable(false),
		finishedReading: signal.NewComparable(false),
		outputs:         signal.New(signal.DataVector[float32]{}, equalOutputs),
		gotOutput:       gotOutput,
		adapter:         adapter,
	}
	clk.Watch(c.pixels)
	clk.Watch(c.network)
	clk.Watch(c.finishedWriting)
	clk.Watch(c.finishedReading)
	clk.Watch(c.outputs)
	clk.Register(c)
	return c
}

// SetPixels is the host-side write of the input image.
func (c *Controller) SetPixels(p Pixels) { c.pixels.Write(p) }

// SetNetwork is the host-side write of the network descriptor.
func (c *Controller) SetNetwork(n netz.NetzwerkData) { c.network.Write(n) }

// FinishedWriting reports whether the problem has been fully written to
// memory.
func (c *Controller) FinishedWriting() bool { return c.finishedWriting.Read() }

// FinishedReading reports whether the output block has been read back.
func (c *Controller) FinishedReading() bool { return c.finishedReading.Read() }

// Outputs returns the most recently decoded output scores.
func (c *Controller) Outputs() []float32 { return c.outputs.Read().Items }

// Tick implements event.Ticker.
func (c *Controller) Tick() error {
	if c.rst.Read() {
		c.state = phaseIdle
		c.pixelsPending = false
		c.networkPending = false
		c.finishedWriting.Write(false)
		c.finishedReading.Write(false)
		return nil
	}

	if c.pixels.Touched() {
		c.pixelsPending = true
		c.finishedWriting.Write(false)
	}
	if c.network.Touched() {
		c.networkPending = true
		c.finishedWriting.Write(false)
	}

	switch c.state {
	case phaseIdle:
		if c.pixelsPending {
			c.submitPixels()
			c.state = phaseWaitPixels
		} else if c.networkPending {
			c.submitNetwork()
			c.state = phaseWaitNetwork
		} else if c.gotOutput.Touched() && c.gotOutput.Read() {
			c.state = phaseReadCount
		}

	case phaseWaitPixels:
		if c.adapter.ReplyBatchSignal().Touched() {
			c.pixelsPending = false
			if c.networkPending {
				c.submitNetwork()
				c.state = phaseWaitNetwork
			} else {
				c.state = phaseWriteDone
			}
		}

	case phaseWaitNetwork:
		if c.adapter.ReplyBatchSignal().Touched() {
			c.networkPending = false
			c.state = phaseWriteDone
		}

	case phaseWriteDone:
		c.finishedWriting.Write(true)
		c.state = phaseIdle

	case phaseReadCount:
		c.adapter.SubmitRequests(memproto.RequestBatch{Items: []memproto.MemRequest{
			{Op: memproto.OpRead, Addr: layout.OutputsBaseAddr},
		}})
		c.state = phaseWaitCount

	case phaseWaitCount:
		if c.adapter.ReplyBatchSignal().Touched() {
			reply := c.adapter.ReplyBatchSignal().Read()
			c.outputCount = int(reply.Items[0].Data)
			c.state = phaseReadFloats
		}

	case phaseReadFloats:
		reqs := make([]memproto.MemRequest, c.outputCount*4)
		for i := range reqs {
			reqs[i] = memproto.MemRequest{Op: memproto.OpRead, Addr: layout.OutputsBaseAddr + 1 + uint16(i)}
		}
		c.adapter.SubmitRequests(memproto.RequestBatch{Items: reqs})
		c.state = phaseWaitFloats

	case phaseWaitFloats:
		if c.adapter.ReplyBatchSignal().Touched() {
			reply := c.adapter.ReplyBatchSignal().Read()
			out := make([]float32, c.outputCount)
			for i := 0; i < c.outputCount; i++ {
				var buf [4]byte
				for j := 0; j < 4; j++ {
					buf[j] = reply.Items[i*4+j].Data
				}
				out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[:]))
			}
			c.outputs.Write(signal.NewDataVector(out...))
			c.finishedReading.Write(true)
			c.state = phaseIdle
		}
	}
	return nil
}

func (c *Controller) submitPixels() {
	px := c.pixels.Read()
	reqs := make([]memproto.MemRequest, layout.PixelCount)
	for i, on := range px {
		v := byte(0)
		if on {
			v = 1
		}
		reqs[i] = memproto.MemRequest{Op: memproto.OpWrite, Addr: layout.InputsOffset + uint16(i), DataWr: v}
	}
	c.adapter.SubmitRequests(memproto.RequestBatch{Items: reqs})
}

func (c *Controller) submitNetwork() {
	bytes := c.network.Read().Serialize()
	reqs := make([]memproto.MemRequest, len(bytes))
	for i, b := range bytes {
		reqs[i] = memproto.MemRequest{Op: memproto.OpWrite, Addr: layout.NetzDataOffset + uint16(i), DataWr: b}
	}
	c.adapter.SubmitRequests(memproto.RequestBatch{Items: reqs})
}
