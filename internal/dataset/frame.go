// Package dataset provides the time-indexed wide table used throughout the
// pipeline and the sliding-window supervised dataset builder.
package dataset

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Frame is an ordered, date-indexed table of float64 columns.
// Undefined cells hold NaN. All columns share the date index length.
type Frame struct {
	dates   []time.Time
	columns map[string][]float64
	order   []string // column insertion order
}

// New creates an empty frame over the given date index.
func New(dates []time.Time) *Frame {
	return &Frame{
		dates:   dates,
		columns: make(map[string][]float64),
	}
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.dates) }

// Dates returns the date index.
func (f *Frame) Dates() []time.Time { return f.dates }

// ColumnNames returns column names in insertion order.
func (f *Frame) ColumnNames() []string {
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

// SetColumn adds or replaces a column. The values length must match the index.
func (f *Frame) SetColumn(name string, values []float64) error {
	if len(values) != len(f.dates) {
		return fmt.Errorf("column %s: length %d does not match index length %d", name, len(values), len(f.dates))
	}
	if _, exists := f.columns[name]; !exists {
		f.order = append(f.order, name)
	}
	f.columns[name] = values
	return nil
}

// Column returns the values for name.
func (f *Frame) Column(name string) ([]float64, bool) {
	v, ok := f.columns[name]
	return v, ok
}

// Value returns the cell at (row, name), NaN if the column is missing.
func (f *Frame) Value(row int, name string) float64 {
	col, ok := f.columns[name]
	if !ok {
		return math.NaN()
	}
	return col[row]
}

// HasColumns reports whether every named column is present.
func (f *Frame) HasColumns(names []string) error {
	for _, n := range names {
		if _, ok := f.columns[n]; !ok {
			return fmt.Errorf("missing column %s", n)
		}
	}
	return nil
}

// Slice returns a view copy of rows [i, j).
func (f *Frame) Slice(i, j int) *Frame {
	out := New(f.dates[i:j])
	for _, name := range f.order {
		col := make([]float64, j-i)
		copy(col, f.columns[name][i:j])
		out.columns[name] = col
		out.order = append(out.order, name)
	}
	return out
}

// SortByDate sorts rows ascending by date. Stable for equal dates.
func (f *Frame) SortByDate() {
	idx := make([]int, len(f.dates))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return f.dates[idx[a]].Before(f.dates[idx[b]])
	})

	newDates := make([]time.Time, len(f.dates))
	for i, j := range idx {
		newDates[i] = f.dates[j]
	}
	f.dates = newDates

	for name, col := range f.columns {
		newCol := make([]float64, len(col))
		for i, j := range idx {
			newCol[i] = col[j]
		}
		f.columns[name] = newCol
	}
}

// SplitChronological splits rows into two frames at ratio (0 < ratio < 1).
// Rows are assumed date-sorted; the split never shuffles.
func (f *Frame) SplitChronological(ratio float64) (*Frame, *Frame) {
	n := int(float64(f.Len()) * ratio)
	if n < 0 {
		n = 0
	}
	if n > f.Len() {
		n = f.Len()
	}
	return f.Slice(0, n), f.Slice(n, f.Len())
}

// Concat appends rows of other frames. Columns present in some frames but not
// others are filled with NaN for the missing rows.
func Concat(frames ...*Frame) *Frame {
	total := 0
	var order []string
	seen := make(map[string]struct{})
	for _, fr := range frames {
		total += fr.Len()
		for _, name := range fr.order {
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				order = append(order, name)
			}
		}
	}

	dates := make([]time.Time, 0, total)
	for _, fr := range frames {
		dates = append(dates, fr.dates...)
	}

	out := New(dates)
	for _, name := range order {
		col := make([]float64, 0, total)
		for _, fr := range frames {
			if src, ok := fr.columns[name]; ok {
				col = append(col, src...)
			} else {
				for i := 0; i < fr.Len(); i++ {
					col = append(col, math.NaN())
				}
			}
		}
		out.columns[name] = col
		out.order = append(out.order, name)
	}
	return out
}

// Join left-joins other onto f by date. Missing values in joined columns are
// forward-filled then backward-filled, matching how the feature table is
// aligned with the price index before model use.
func (f *Frame) Join(other *Frame) *Frame {
	out := f.Slice(0, f.Len())

	lookup := make(map[time.Time]int, other.Len())
	for i, d := range other.dates {
		lookup[d] = i
	}

	for _, name := range other.order {
		src := other.columns[name]
		col := make([]float64, f.Len())
		for i, d := range f.dates {
			if j, ok := lookup[d]; ok {
				col[i] = src[j]
			} else {
				col[i] = math.NaN()
			}
		}
		fillForwardBackward(col)
		out.columns[name] = col
		out.order = append(out.order, name)
	}
	return out
}

// DropLeadingNaN removes leading rows where any of the named columns is NaN.
func (f *Frame) DropLeadingNaN(names []string) *Frame {
	start := 0
scan:
	for ; start < f.Len(); start++ {
		for _, n := range names {
			col, ok := f.columns[n]
			if !ok || math.IsNaN(col[start]) {
				continue scan
			}
		}
		break
	}
	return f.Slice(start, f.Len())
}

// fillForwardBackward replaces NaN runs with the last seen value, then fills
// any remaining leading NaNs from the first real value.
func fillForwardBackward(col []float64) {
	last := math.NaN()
	for i, v := range col {
		if math.IsNaN(v) {
			col[i] = last
		} else {
			last = v
		}
	}
	next := math.NaN()
	for i := len(col) - 1; i >= 0; i-- {
		if math.IsNaN(col[i]) {
			col[i] = next
		} else {
			next = col[i]
		}
	}
}
