// Package netz defines the NeuronData/NetzwerkData wire structures
// (spec.md §3) and their little-endian serialisation, grounded on the
// original's netzp_io.cpp NeuronData::Serialize/Deserialize (byte
// layout: layer, neuron, weights_count, then weights_count packed
// float32 weights) and on the teacher's util/hex formatting idiom for
// anything that needs to render bytes for debugging.
package netz

import (
	"encoding/binary"
	"fmt"
	"math"
)

// NeuronData is one neuron's static descriptor plus its weight vector.
type NeuronData struct {
	Layer        uint8
	Neuron       uint8
	WeightsCount uint8
	Weights      []float32
}

// SizeInBytes returns the serialised length: 3 header bytes plus 4 bytes
// per weight.
func (n NeuronData) SizeInBytes() int {
	return 3 + 4*int(n.WeightsCount)
}

// Equal reports structural equality, used by tests asserting round-trip
// idempotence.
func (n NeuronData) Equal(o NeuronData) bool {
	if n.Layer != o.Layer || n.Neuron != o.Neuron || n.WeightsCount != o.WeightsCount {
		return false
	}
	if len(n.Weights) != len(o.Weights) {
		return false
	}
	for i := range n.Weights {
		if n.Weights[i] != o.Weights[i] {
			return false
		}
	}
	return true
}

// Serialize appends the wire encoding of n to dst and returns the result.
func (n NeuronData) Serialize(dst []byte) []byte {
	dst = append(dst, n.Layer, n.Neuron, n.WeightsCount)
	for _, w := range n.Weights {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(w))
		dst = append(dst, buf[:]...)
	}
	return dst
}

// DeserializeNeuron decodes one NeuronData starting at offset off in b
// and returns it along with the offset just past it.
func DeserializeNeuron(b []byte, off int) (NeuronData, int, error) {
	if off+3 > len(b) {
		return NeuronData{}, off, fmt.Errorf("netz: truncated neuron header at offset %d", off)
	}
	n := NeuronData{
		Layer:        b[off],
		Neuron:       b[off+1],
		WeightsCount: b[off+2],
	}
	off += 3
	end := off + 4*int(n.WeightsCount)
	if end > len(b) {
		return NeuronData{}, off, fmt.Errorf("netz: truncated weights for neuron %d/%d at offset %d", n.Layer, n.Neuron, off)
	}
	n.Weights = make([]float32, n.WeightsCount)
	for i := range n.Weights {
		bits := binary.LittleEndian.Uint32(b[off : off+4])
		n.Weights[i] = math.Float32frombits(bits)
		off += 4
	}
	return n, off, nil
}

// NetzwerkData is the whole serialised network: a count byte followed by
// that many NeuronData records, in layer-grouped evaluation order.
type NetzwerkData struct {
	Neurons []NeuronData
}

// Equal reports structural equality.
func (d NetzwerkData) Equal(o NetzwerkData) bool {
	if len(d.Neurons) != len(o.Neurons) {
		return false
	}
	for i := range d.Neurons {
		if !d.Neurons[i].Equal(o.Neurons[i]) {
			return false
		}
	}
	return true
}

// Serialize encodes the whole network: count byte, then each neuron in
// order.
func (d NetzwerkData) Serialize() []byte {
	out := make([]byte, 0, 1+len(d.Neurons)*8)
	out = append(out, uint8(len(d.Neurons)))
	for _, n := range d.Neurons {
		out = n.Serialize(out)
	}
	return out
}

// DeserializeNetzwerk decodes a whole NetzwerkData from b.
func DeserializeNetzwerk(b []byte) (NetzwerkData, error) {
	if len(b) < 1 {
		return NetzwerkData{}, fmt.Errorf("netz: empty network descriptor")
	}
	count := int(b[0])
	d := NetzwerkData{Neurons: make([]NeuronData, 0, count)}
	off := 1
	for i := 0; i < count; i++ {
		n, next, err := DeserializeNeuron(b, off)
		if err != nil {
			return NetzwerkData{}, err
		}
		d.Neurons = append(d.Neurons, n)
		off = next
	}
	return d, nil
}
