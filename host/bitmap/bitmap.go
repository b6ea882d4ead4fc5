// Package bitmap loads the 7x7 binary input image spec.md's core treats
// as an opaque 49-byte block, from the textual form a host file provides.
// The generator that produces noisy training samples is explicitly out
// of scope (spec.md §1); this package is only the load-time half of that
// boundary, grounded on the original's main.cpp input loop (scan
// characters, keep only '0'/'1', stop at INPUT_COUNT).
package bitmap

import (
	"bufio"
	"fmt"
	"io"

	"github.com/rcornwell/netzp/emu/ioc"
	"github.com/rcornwell/netzp/emu/layout"
)

// Load reads a 7x7 grid of '0'/'1' characters from r, in row-major order,
// ignoring whitespace and any other character, and returns it as Pixels.
func Load(r io.Reader) (ioc.Pixels, error) {
	var px ioc.Pixels
	n := 0

	br := bufio.NewReader(r)
	for {
		c, _, err := br.ReadRune()
		if err == io.EOF {
			break
		}
		if err != nil {
			return ioc.Pixels{}, fmt.Errorf("bitmap: %w", err)
		}
		if c != '0' && c != '1' {
			continue
		}
		if n >= layout.PixelCount {
			return ioc.Pixels{}, fmt.Errorf("bitmap: more than %d pixel characters", layout.PixelCount)
		}
		px[n] = c == '1'
		n++
	}

	if n != layout.PixelCount {
		return ioc.Pixels{}, fmt.Errorf("bitmap: found %d pixel characters, want %d", n, layout.PixelCount)
	}
	return px, nil
}

// parseLiteral is the package-internal helper the canonical fixtures use:
// each row is a 7-character string of '0'/'1', seven rows.
func parseLiteral(rows [layout.PictureHeight]string) ioc.Pixels {
	var px ioc.Pixels
	i := 0
	for _, row := range rows {
		for _, c := range row {
			px[i] = c == '1'
			i++
		}
	}
	return px
}

// Canonical fixtures matching the shapes the original's bitmap generator
// produces noisy variants of (see spec.md §8 scenario 3).
var (
	BaseCircle = parseLiteral([layout.PictureHeight]string{
		"0000000",
		"0011100",
		"0100010",
		"0100010",
		"0100010",
		"0011100",
		"0000000",
	})

	BaseSquare = parseLiteral([layout.PictureHeight]string{
		"0000000",
		"0111110",
		"0100010",
		"0100010",
		"0100010",
		"0111110",
		"0000000",
	})

	BaseTriangle = parseLiteral([layout.PictureHeight]string{
		"0000000",
		"0001000",
		"0010100",
		"0100010",
		"1000001",
		"1111111",
		"0000000",
	})
)
