package corewindow

import (
	"hash/fnv"
	"strconv"
)

// CountMinSketch is a depth x width table of saturating uint64 counters
// with depth independent hash seeds, giving an always-overestimating
// point frequency estimate in bounded memory.
type CountMinSketch struct {
	depth int
	width int
	table [][]uint64
	seeds []uint64
}

// NewCountMinSketch builds a sketch of the given shape. Both depth and
// width must be positive (validated by Config.Validate for façade
// callers).
func NewCountMinSketch(depth, width int) *CountMinSketch {
	table := make([][]uint64, depth)
	for i := range table {
		table[i] = make([]uint64, width)
	}
	seeds := make([]uint64, depth)
	for i := range seeds {
		// Deterministic, distinct seeds per row: grounded on the
		// Python original's `i * 31` seed scheme, translated into a
		// seed salted into an FNV-1a hash rather than a seeded PRNG.
		seeds[i] = uint64(i)*0x9E3779B97F4A7C15 + 31
	}
	return &CountMinSketch{depth: depth, width: width, table: table, seeds: seeds}
}

func (c *CountMinSketch) rowIndex(row int, key string) int {
	h := fnv.New64a()
	h.Write([]byte(strconv.FormatUint(c.seeds[row], 36)))
	h.Write([]byte{0})
	h.Write([]byte(key))
	return int(h.Sum64() % uint64(c.width))
}

// Add increments every row's cell for key by delta.
func (c *CountMinSketch) Add(key string, delta uint64) {
	for row := 0; row < c.depth; row++ {
		c.table[row][c.rowIndex(row, key)] += delta
	}
}

// Estimate returns the minimum cell across rows, an upper bound on the
// true count for key.
func (c *CountMinSketch) Estimate(key string) uint64 {
	var min uint64
	for row := 0; row < c.depth; row++ {
		v := c.table[row][c.rowIndex(row, key)]
		if row == 0 || v < min {
			min = v
		}
	}
	return min
}

// Subtract performs a cell-wise saturating subtraction of other from c.
// Both sketches must share the same shape.
func (c *CountMinSketch) Subtract(other *CountMinSketch) {
	for row := 0; row < c.depth; row++ {
		for col := 0; col < c.width; col++ {
			a, b := c.table[row][col], other.table[row][col]
			if b > a {
				c.table[row][col] = 0
			} else {
				c.table[row][col] = a - b
			}
		}
	}
}

// Merge performs a cell-wise addition of other into c. Both sketches
// must share the same shape.
func (c *CountMinSketch) Merge(other *CountMinSketch) {
	for row := 0; row < c.depth; row++ {
		for col := 0; col < c.width; col++ {
			c.table[row][col] += other.table[row][col]
		}
	}
}

// Reset zeroes every cell without reallocating the table.
func (c *CountMinSketch) Reset() {
	for row := 0; row < c.depth; row++ {
		for col := 0; col < c.width; col++ {
			c.table[row][col] = 0
		}
	}
}
