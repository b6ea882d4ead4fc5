// Package memio implements the per-master FIFO adapter (spec.md §4.5)
// that turns a batched DataVector<MemRequest> from a host module (IOC or
// CDU) into a sequence of single-beat bus transactions, and reassembles
// the matching single-beat replies into a batched DataVector<MemReply>
// once every request in the batch has round-tripped. Grounded on the
// teacher's emu/sys_channel subchannel request/reply FIFO handling,
// stripped of CCW decoding since this protocol has no channel commands,
// only flat read/write beats.
package memio

import (
	"github.com/rcornwell/netzp/emu/bus"
	"github.com/rcornwell/netzp/emu/event"
	"github.com/rcornwell/netzp/emu/memproto"
	"github.com/rcornwell/netzp/emu/signal"
)

// Adapter is one master's bridge onto the bus.
type Adapter struct {
	masterID memproto.MasterID
	rst      *signal.Signal[bool]
	port     *bus.Port

	hostRequests *signal.Signal[memproto.RequestBatch]
	hostReplies  *signal.Signal[memproto.ReplyBatch]

	requestsFIFO []memproto.MemRequest
	repliesFIFO  []memproto.MemReply
}

// New builds an Adapter for masterID, wired to port and to the host
// request/reply signals, and registers it with clk.
func New(clk *event.Clock, masterID memproto.MasterID, rst *signal.Signal[bool], port *bus.Port) *Adapter {
	// Every submission to hostRequests is a new batch, even one equal to
	// the last (a host re-issuing the same reads after a reset).
	a := &Adapter{
		masterID:     masterID,
		rst:          rst,
		port:         port,
		hostRequests: signal.New(memproto.RequestBatch{}, func(a, b memproto.RequestBatch) bool { return false }),
		hostReplies:  signal.New(memproto.ReplyBatch{}, memproto.EqualReplyBatch),
	}
	// port.AccessRequest/RequestIn are committed by the bus.Controller that
	// owns the Port, not here: a Port may be driven by something other
	// than an Adapter (see the bus package's own tests), so the
	// commit point has to live with the type that owns every instance of
	// it, not with one particular writer.
	clk.Watch(a.hostRequests)
	clk.Watch(a.hostReplies)
	clk.Register(a)
	return a
}

// SubmitRequests is the host-side write into the batch signal. Hosts
// call this once per batch; Tick picks it up next cycle, even when it
// equals the previous batch.
func (a *Adapter) SubmitRequests(batch memproto.RequestBatch) {
	a.hostRequests.Write(batch)
}

// Replies is the host-side read of the reassembled reply batch. It
// returns the most recently published batch; hosts should gate reads on
// a Touched()-style check of their own (see IOC/CDU, which watch
// ReplyBatchSignal directly).
func (a *Adapter) Replies() memproto.ReplyBatch { return a.hostReplies.Read() }

// ReplyBatchSignal exposes the underlying signal so a host can detect
// "new batch published" via Touched() the same cycle it commits.
func (a *Adapter) ReplyBatchSignal() *signal.Signal[memproto.ReplyBatch] { return a.hostReplies }

// Idle reports whether the adapter has no outstanding work: no pending
// requests and nothing left to reassemble.
func (a *Adapter) Idle() bool {
	return len(a.requestsFIFO) == 0 && len(a.repliesFIFO) == 0
}

// Tick implements event.Ticker.
func (a *Adapter) Tick() error {
	if a.rst.Read() {
		a.requestsFIFO = nil
		a.repliesFIFO = nil
		a.port.AccessRequest.Write(false)
		return nil
	}

	if a.hostRequests.Touched() {
		a.requestsFIFO = append(a.requestsFIFO, a.hostRequests.Read().Items...)
	}

	if len(a.requestsFIFO) > 0 {
		// Present the request unconditionally while pending, win or not:
		// the bus needs RequestIn already settled the cycle its grant
		// decision becomes visible, not the same cycle it is written.
		a.port.AccessRequest.Write(true)
		req := a.requestsFIFO[0]
		req.MasterID = a.masterID
		a.port.RequestIn.Write(req)

		if a.port.AccessGranted.Read() && a.port.ReplyOut.Touched() {
			a.repliesFIFO = append(a.repliesFIFO, a.port.ReplyOut.Read())
			a.requestsFIFO = a.requestsFIFO[1:]
			if len(a.requestsFIFO) == 0 {
				// Drop the request the same cycle the last beat is taken,
				// so the bus does not grant a second beat of it.
				a.port.AccessRequest.Write(false)
			}
		}
	} else {
		a.port.AccessRequest.Write(false)
	}

	if len(a.requestsFIFO) == 0 && len(a.repliesFIFO) > 0 {
		batch := make([]memproto.MemReply, len(a.repliesFIFO))
		copy(batch, a.repliesFIFO)
		a.hostReplies.Write(memproto.ReplyBatch{Items: batch})
		a.repliesFIFO = nil
	}
	return nil
}
