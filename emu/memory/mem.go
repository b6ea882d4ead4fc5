// Package memory implements Mem, the single-ported byte-addressable
// memory slave. It is the Go-native, instance-owned replacement for the
// teacher's emu/memory package: that package kept one global word-array
// singleton addressed through package-level functions (SetSize/GetMemory/
// PutWord...) because a mainframe has exactly one real-storage image for
// the life of the process. Here each Simulation owns its own Mem, so the
// global-singleton shape is dropped, but the bool/error-returning,
// access-bit-free style of GetMemory/PutWord carries over directly into
// Mem.Tick's read/write branches.
package memory

import (
	"fmt"
	"strings"

	"github.com/rcornwell/netzp/emu/event"
	"github.com/rcornwell/netzp/emu/layout"
	"github.com/rcornwell/netzp/emu/signal"
)

// AbortError marks a failure that must abort the whole simulation, per
// spec.md §7's "Fatal" policy rows.
type AbortError struct {
	Reason string
}

func (e *AbortError) Error() string {
	return "abort: " + e.Reason
}

// Inputs are the signals Mem reads every cycle. Mem never writes to
// these; the Bus owns and writes them as the single master driving Mem.
type Inputs struct {
	Rst    *signal.Signal[bool]
	Addr   *signal.Signal[uint16]
	WEn    *signal.Signal[bool]
	REn    *signal.Signal[bool]
	DataWr *signal.Signal[byte]
	AckIn  *signal.Signal[bool]
}

// Mem is the 64 KiB single-port byte memory described in spec.md §4.3.
type Mem struct {
	cells  [layout.MemSize]byte
	in     Inputs
	ackOut *signal.Signal[bool]
	dataRd *signal.Signal[byte]
}

// New constructs a Mem wired to in and registers it with clk.
func New(clk *event.Clock, in Inputs) *Mem {
	m := &Mem{
		in:     in,
		ackOut: signal.NewComparable(false),
		dataRd: signal.NewComparable[byte](0),
	}
	clk.Watch(m.ackOut)
	clk.Watch(m.dataRd)
	clk.Register(m)
	return m
}

// AckOut is Mem's handshake pulse, high the cycle after a beat completes.
func (m *Mem) AckOut() bool { return m.ackOut.Read() }

// DataRd is the byte read back by the most recently completed read beat.
func (m *Mem) DataRd() byte { return m.dataRd.Read() }

// Tick implements event.Ticker.
func (m *Mem) Tick() error {
	if m.in.Rst.Read() {
		for i := range m.cells {
			m.cells[i] = 0
		}
		m.ackOut.Write(false)
		m.dataRd.Write(0)
		return nil
	}

	addr := m.in.Addr.Read()
	rEn := m.in.REn.Read()
	wEn := m.in.WEn.Read()

	// addr is a 16-bit wire value and MemSize is exactly 64 KiB, so this
	// can never actually trigger; it is kept as the defensive guard
	// spec.md §4.3 and §7 call for in case MemSize is ever narrowed.
	if rEn || wEn {
		if int(addr) >= layout.MemSize {
			return &AbortError{Reason: fmt.Sprintf("memory access out of range: addr=0x%04x", addr)}
		}
	}

	ackPulse := false
	switch {
	case rEn:
		// Read wins when both enables are asserted in the same cycle.
		m.dataRd.Write(m.cells[addr])
		ackPulse = true
	case wEn:
		m.cells[addr] = m.in.DataWr.Read()
		ackPulse = true
	}
	m.ackOut.Write(ackPulse)

	if m.in.AckIn.Read() {
		// Handshake close takes priority over a freshly asserted pulse.
		m.ackOut.Write(false)
	}
	return nil
}

// Dump renders the full memory image as a hex dump, 32 bytes per row
// grouped in pairs, mirroring the original's Mem::Dump.
func (m *Mem) Dump() string {
	var b strings.Builder
	for row := 0; row < layout.MemSize; row += 32 {
		fmt.Fprintf(&b, "%06x: ", row)
		for col := 0; col < 32; col += 2 {
			fmt.Fprintf(&b, "%02x%02x ", m.cells[row+col], m.cells[row+col+1])
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// ReadByte returns the byte at addr without going through the bus
// protocol, for test setup and host-side snapshotting after a run.
func (m *Mem) ReadByte(addr uint16) byte {
	return m.cells[addr]
}

// WriteByte sets the byte at addr directly, for test fixtures.
func (m *Mem) WriteByte(addr uint16, v byte) {
	m.cells[addr] = v
}
