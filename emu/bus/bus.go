// Package bus implements the Memory Controller: a round-robin arbiter
// fanning N master ports into the single Mem port, grounded on the
// teacher's emu/sys_channel arbitration shape (a hidden rotating
// selector deciding which attached unit's request is live this cycle)
// and on the original's MemController::AtCounter/AtRequest/AtAck split,
// collapsed here into one Tick since both ran on the same clock edge
// and read each other's previous-cycle committed state, never this
// cycle's.
package bus

import (
	"github.com/rcornwell/netzp/emu/event"
	"github.com/rcornwell/netzp/emu/memory"
	"github.com/rcornwell/netzp/emu/memproto"
	"github.com/rcornwell/netzp/emu/signal"
)

// Port is one master's connection point on the bus. AccessRequest and
// RequestIn are written by the master; AccessGranted and ReplyOut are
// written by the Controller. Each field therefore keeps exactly one
// writer even though both sides hold the pointer.
type Port struct {
	AccessRequest *signal.Signal[bool]
	AccessGranted *signal.Signal[bool]
	RequestIn     *signal.Signal[memproto.MemRequest]
	ReplyOut      *signal.Signal[memproto.MemReply]
}

func newPort() *Port {
	return &Port{
		AccessRequest: signal.NewComparable(false),
		AccessGranted: signal.NewComparable(false),
		RequestIn:     signal.NewComparable(memproto.MemRequest{}),
		ReplyOut:      signal.NewComparable(memproto.MemReply{}),
	}
}

// Controller is the arbitrated fabric between N masters and one Mem.
type Controller struct {
	rst           *signal.Signal[bool]
	ports         []*Port
	currentAccess *signal.Signal[int]

	// ackPending marks that the granted port's beat was acknowledged last
	// cycle: the grant is held one more cycle so a master's Adapter can
	// still observe AccessGranted together with ReplyOut.Touched() (which
	// only becomes true the cycle after the reply is written), then the
	// port is released and currentAccess rotates.
	ackPending *signal.Signal[bool]

	mem   *memory.Mem
	memIn memory.Inputs
}

// NewController builds a Controller with n master ports and its own
// private Mem instance, registering everything with clk.
func NewController(clk *event.Clock, rst *signal.Signal[bool], n int) *Controller {
	memIn := memory.Inputs{
		Rst:    rst,
		Addr:   signal.NewComparable[uint16](0),
		WEn:    signal.NewComparable(false),
		REn:    signal.NewComparable(false),
		DataWr: signal.NewComparable[byte](0),
		AckIn:  signal.NewComparable(false),
	}
	clk.Watch(memIn.Addr)
	clk.Watch(memIn.WEn)
	clk.Watch(memIn.REn)
	clk.Watch(memIn.DataWr)
	clk.Watch(memIn.AckIn)
	mem := memory.New(clk, memIn)

	ports := make([]*Port, n)
	for i := range ports {
		ports[i] = newPort()
	}
	currentAccess := signal.NewComparable(0)
	ackPending := signal.NewComparable(false)

	c := &Controller{
		rst:           rst,
		ports:         ports,
		currentAccess: currentAccess,
		ackPending:    ackPending,
		mem:           mem,
		memIn:         memIn,
	}

	for _, p := range ports {
		// Port mixes signals written by the Controller (AccessGranted,
		// ReplyOut) with signals written by whatever master holds the
		// pointer (AccessRequest, RequestIn); Controller commits all four
		// since it is the type that owns every Port instance.
		clk.Watch(p.AccessRequest)
		clk.Watch(p.AccessGranted)
		clk.Watch(p.RequestIn)
		clk.Watch(p.ReplyOut)
	}
	clk.Watch(currentAccess)
	clk.Watch(ackPending)
	clk.Register(c)
	return c
}

// Mem returns the Controller's private Mem, for Dump/ReadByte access in
// tests and the interactive console.
func (c *Controller) Mem() *memory.Mem { return c.mem }

// Port returns master port i. Masters write AccessRequest/RequestIn and
// read AccessGranted/ReplyOut.
func (c *Controller) Port(i int) *Port { return c.ports[i] }

// NumPorts returns how many master ports this Controller arbitrates.
func (c *Controller) NumPorts() int { return len(c.ports) }

// Tick implements event.Ticker.
func (c *Controller) Tick() error {
	if c.rst.Read() {
		for _, p := range c.ports {
			p.AccessGranted.Write(false)
		}
		c.currentAccess.Write(0)
		c.ackPending.Write(false)
		c.memIn.Addr.Write(0)
		c.memIn.WEn.Write(false)
		c.memIn.REn.Write(false)
		c.memIn.DataWr.Write(0)
		c.memIn.AckIn.Write(false)
		return nil
	}

	cur := c.currentAccess.Read()
	port := c.ports[cur]

	if c.ackPending.Read() {
		// The adapter had its one-cycle window last cycle to observe
		// AccessGranted together with ReplyOut.Touched(); release the
		// port now and rotate so a continuously-requesting master
		// yields the bus one beat at a time instead of holding it.
		port.AccessGranted.Write(false)
		c.memIn.AckIn.Write(false)
		c.ackPending.Write(false)
		c.currentAccess.Write((cur + 1) % len(c.ports))
		return nil
	}

	if port.AccessGranted.Read() {
		req := port.RequestIn.Read()
		switch req.Op {
		case memproto.OpRead:
			c.memIn.Addr.Write(req.Addr)
			c.memIn.REn.Write(true)
			c.memIn.WEn.Write(false)
			c.memIn.DataWr.Write(0)
		case memproto.OpWrite:
			c.memIn.Addr.Write(req.Addr)
			c.memIn.REn.Write(false)
			c.memIn.WEn.Write(true)
			c.memIn.DataWr.Write(req.DataWr)
		default:
			c.memIn.REn.Write(false)
			c.memIn.WEn.Write(false)
		}

		if c.mem.AckOut() {
			reply := memproto.MemReply{
				MasterID: req.MasterID,
				Op:       req.Op,
				Status:   memproto.StatusOK,
				Addr:     req.Addr,
			}
			if req.Op == memproto.OpWrite {
				reply.Data = req.DataWr
			} else {
				reply.Data = c.mem.DataRd()
			}
			port.ReplyOut.Write(reply)
			c.memIn.AckIn.Write(true)

			// Clear REn/WEn now so Mem doesn't recompute this same
			// beat's ack pulse again next cycle, but leave the grant
			// itself asserted: ackPending defers the actual release and
			// rotation by one cycle, so the adapter's AccessGranted.Read()
			// && ReplyOut.Touched() check still sees both true together
			// the cycle this reply commits.
			c.memIn.REn.Write(false)
			c.memIn.WEn.Write(false)
			c.ackPending.Write(true)
			return nil
		}
		c.memIn.AckIn.Write(false)

		for i, p := range c.ports {
			if i != cur {
				p.AccessGranted.Write(false)
			}
		}
		port.AccessGranted.Write(true)
		return nil
	}

	c.memIn.REn.Write(false)
	c.memIn.WEn.Write(false)
	c.memIn.AckIn.Write(false)
	for _, p := range c.ports {
		p.AccessGranted.Write(false)
	}

	// Not currently granted: scan forward from cur for the next port
	// actually requesting the bus, so a request that commits this very
	// cycle is granted immediately rather than waiting a full lap.
	for i := 0; i < len(c.ports); i++ {
		idx := (cur + i) % len(c.ports)
		if c.ports[idx].AccessRequest.Read() {
			c.ports[idx].AccessGranted.Write(true)
			c.currentAccess.Write(idx)
			return nil
		}
	}
	c.currentAccess.Write(cur)
	return nil
}
