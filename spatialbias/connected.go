package spatialbias

import (
	"github.com/theodesp/unionfind"
)

// Two-pass 4-connectivity labelling, following
// http://aishack.in/tutorials/connected-component-labelling/

// Component is one 4-connected foreground region of a 2-D slice. Rows index
// the first axis of the slice and columns the second.
type Component struct {
	Label int
	Area  int

	// Inclusive bounding box.
	Top, Left, Bottom, Right int

	CentroidRow, CentroidCol float64
}

// Height is the number of rows spanned by the bounding box.
func (c Component) Height() int {
	return c.Bottom - c.Top + 1
}

// Connected holds the labelling of one slice. Labels run from 1 in raster
// order of each component's first pixel; background is 0.
type Connected struct {
	labels     [][]int
	Components []Component
}

// NewConnected labels the foreground of slice, which is indexed [row][col].
func NewConnected(slice [][]bool) *Connected {
	rows := len(slice)
	cols := 0
	if rows > 0 {
		cols = len(slice[0])
	}

	c := &Connected{labels: make([][]int, rows)}
	for i := range c.labels {
		c.labels[i] = make([]int, cols)
	}

	// Provisional labels never exceed the pixel count.
	uf := unionfind.New(rows*cols + 1)

	nextLabel := 1
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if !slice[i][j] {
				continue
			}

			up, left := 0, 0
			if i > 0 && slice[i-1][j] {
				up = c.labels[i-1][j]
			}
			if j > 0 && slice[i][j-1] {
				left = c.labels[i][j-1]
			}

			switch {
			case up != 0 && left != 0:
				c.labels[i][j] = min(up, left)
				if up != left {
					uf.Union(up, left)
				}
			case up != 0:
				c.labels[i][j] = up
			case left != 0:
				c.labels[i][j] = left
			default:
				// Nothing adjacent has a label yet, so it gets its own
				c.labels[i][j] = nextLabel
				nextLabel++
			}
		}
	}

	// Resolve equivalences and renumber in raster order.
	final := make(map[int]int)
	var sumRow, sumCol []float64
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := c.labels[i][j]
			if v == 0 {
				continue
			}

			root := uf.Root(v)
			label, ok := final[root]
			if !ok {
				label = len(c.Components) + 1
				final[root] = label
				c.Components = append(c.Components, Component{
					Label: label,
					Top:   i, Bottom: i,
					Left: j, Right: j,
				})
				sumRow = append(sumRow, 0)
				sumCol = append(sumCol, 0)
			}
			c.labels[i][j] = label

			comp := &c.Components[label-1]
			comp.Area++
			comp.Bottom = max(comp.Bottom, i)
			comp.Left = min(comp.Left, j)
			comp.Right = max(comp.Right, j)
			sumRow[label-1] += float64(i)
			sumCol[label-1] += float64(j)
		}
	}

	for k := range c.Components {
		area := float64(c.Components[k].Area)
		c.Components[k].CentroidRow = sumRow[k] / area
		c.Components[k].CentroidCol = sumCol[k] / area
	}

	return c
}

// LabelAt is the final label of pixel (i, j), or 0 for background.
func (c *Connected) LabelAt(i, j int) int {
	return c.labels[i][j]
}

// Largest returns the n components with the greatest area, largest first.
// Equal areas keep label order.
func (c *Connected) Largest(n int) []Component {
	out := make([]Component, 0, n)
	used := make([]bool, len(c.Components))
	for len(out) < n && len(out) < len(c.Components) {
		best := -1
		for k, comp := range c.Components {
			if used[k] {
				continue
			}
			if best < 0 || comp.Area > c.Components[best].Area {
				best = k
			}
		}
		used[best] = true
		out = append(out, c.Components[best])
	}
	return out
}
