package bus_test

import (
	"testing"

	"github.com/rcornwell/netzp/emu/bus"
	"github.com/rcornwell/netzp/emu/event"
	"github.com/rcornwell/netzp/emu/memproto"
	"github.com/rcornwell/netzp/emu/signal"
)

func setup(n int) (*event.Clock, *bus.Controller) {
	clk := event.New()
	rst := signal.NewComparable(false)
	clk.Watch(rst)
	c := bus.NewController(clk, rst, n)
	return clk, c
}

// drive presents req on port i continuously until it sees a reply,
// returning the reply. It fails the test if no reply arrives within a
// generous cycle budget.
func drive(t *testing.T, clk *event.Clock, c *bus.Controller, i int, req memproto.MemRequest) memproto.MemReply {
	t.Helper()
	port := c.Port(i)
	port.AccessRequest.Write(true)
	port.RequestIn.Write(req)
	for cyc := 0; cyc < 20; cyc++ {
		if err := clk.Advance(1); err != nil {
			t.Fatalf("Advance: %v", err)
		}
		if port.ReplyOut.Touched() {
			reply := port.ReplyOut.Read()
			port.AccessRequest.Write(false)
			clk.Advance(1)
			return reply
		}
		port.RequestIn.Write(req)
	}
	t.Fatalf("port %d never received a reply", i)
	return memproto.MemReply{}
}

func TestBusWriteThenReadRoundTrip(t *testing.T) {
	clk, c := setup(2)

	wreply := drive(t, clk, c, 0, memproto.MemRequest{Op: memproto.OpWrite, Addr: 0x20, DataWr: 0xab})
	if wreply.Status != memproto.StatusOK {
		t.Fatalf("write reply status = %v, want OK", wreply.Status)
	}
	if wreply.Data != 0xab {
		t.Fatalf("write reply Data = 0x%02x, want echo of DataWr 0xab", wreply.Data)
	}

	rreply := drive(t, clk, c, 0, memproto.MemRequest{Op: memproto.OpRead, Addr: 0x20})
	if rreply.Data != 0xab {
		t.Fatalf("read reply Data = 0x%02x, want 0xab", rreply.Data)
	}
	if rreply.Addr != 0x20 {
		t.Fatalf("read reply Addr = 0x%x, want 0x20", rreply.Addr)
	}
}

func TestBusArbiterFairnessUnderContention(t *testing.T) {
	clk, c := setup(3)

	for i := 0; i < c.NumPorts(); i++ {
		p := c.Port(i)
		p.AccessRequest.Write(true)
		p.RequestIn.Write(memproto.MemRequest{Op: memproto.OpWrite, Addr: uint16(i), DataWr: byte(i)})
	}

	var grantSeq []int
	lastGranted := -1
	for cyc := 0; cyc < 60 && len(grantSeq) < 9; cyc++ {
		if err := clk.Advance(1); err != nil {
			t.Fatalf("Advance: %v", err)
		}
		for i := 0; i < c.NumPorts(); i++ {
			if c.Port(i).AccessGranted.Read() && i != lastGranted {
				grantSeq = append(grantSeq, i)
				lastGranted = i
			}
		}
	}

	if len(grantSeq) < 6 {
		t.Fatalf("not enough distinct grants observed: %v", grantSeq)
	}
	for i, g := range grantSeq {
		want := i % c.NumPorts()
		if g != want {
			t.Fatalf("grant sequence = %v, want a rotation of 0..%d starting at 0", grantSeq, c.NumPorts()-1)
		}
	}
}

func TestBusArbitrationUnderContentionNoLostWrites(t *testing.T) {
	clk, c := setup(2)

	const n = 8
	p0 := c.Port(0)
	p1 := c.Port(1)
	p0.AccessRequest.Write(true)
	p1.AccessRequest.Write(true)

	done0, done1 := false, false
	i0, i1 := 0, 0
	for cyc := 0; cyc < 200 && !(done0 && done1); cyc++ {
		if !done0 {
			p0.RequestIn.Write(memproto.MemRequest{Op: memproto.OpWrite, Addr: uint16(i0), DataWr: byte(0x10 + i0)})
		}
		if !done1 {
			p1.RequestIn.Write(memproto.MemRequest{Op: memproto.OpWrite, Addr: uint16(0x100 + i1), DataWr: byte(0x80 + i1)})
		}
		if err := clk.Advance(1); err != nil {
			t.Fatalf("Advance: %v", err)
		}
		if !done0 && p0.ReplyOut.Touched() {
			i0++
			if i0 == n {
				done0 = true
				p0.AccessRequest.Write(false)
			}
		}
		if !done1 && p1.ReplyOut.Touched() {
			i1++
			if i1 == n {
				done1 = true
				p1.AccessRequest.Write(false)
			}
		}
	}
	if !done0 || !done1 {
		t.Fatalf("both masters did not complete: done0=%v done1=%v", done0, done1)
	}

	mem := c.Mem()
	for i := 0; i < n; i++ {
		if got := mem.ReadByte(uint16(i)); got != byte(0x10+i) {
			t.Fatalf("mem[%d] = 0x%02x, want 0x%02x", i, got, 0x10+i)
		}
		if got := mem.ReadByte(uint16(0x100 + i)); got != byte(0x80+i) {
			t.Fatalf("mem[0x%x] = 0x%02x, want 0x%02x", 0x100+i, got, 0x80+i)
		}
	}
}
