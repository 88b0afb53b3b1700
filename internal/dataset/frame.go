// Package dataset holds the tabular representation of customer data used for
// training and batch scoring, together with the column-name conventions the
// service accepts from uploaded files.
package dataset

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind is the inferred storage type of a column.
type Kind int

const (
	KindNumeric Kind = iota
	KindText
)

func (k Kind) String() string {
	if k == KindNumeric {
		return "numeric"
	}
	return "text"
}

// Column is a single named column. Numeric columns store NaN for missing
// cells, text columns store "".
type Column struct {
	Name string
	Kind Kind
	Num  []float64
	Text []string
}

// Len returns the number of cells in the column.
func (c *Column) Len() int {
	if c.Kind == KindNumeric {
		return len(c.Num)
	}
	return len(c.Text)
}

// Float returns cell i as a number. Text cells are parsed; unparsable or
// empty cells yield NaN.
func (c *Column) Float(i int) float64 {
	if c.Kind == KindNumeric {
		return c.Num[i]
	}
	return parseNumber(c.Text[i])
}

// String returns cell i as text. Missing numeric cells yield "".
func (c *Column) String(i int) string {
	if c.Kind == KindText {
		return c.Text[i]
	}
	v := c.Num[i]
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// IsMissing reports whether cell i holds no value.
func (c *Column) IsMissing(i int) bool {
	if c.Kind == KindNumeric {
		return math.IsNaN(c.Num[i])
	}
	return c.Text[i] == ""
}

// MissingCount returns the number of missing cells.
func (c *Column) MissingCount() int {
	n := 0
	for i := 0; i < c.Len(); i++ {
		if c.IsMissing(i) {
			n++
		}
	}
	return n
}

func (c *Column) take(idx []int) *Column {
	out := &Column{Name: c.Name, Kind: c.Kind}
	if c.Kind == KindNumeric {
		out.Num = make([]float64, len(idx))
		for j, i := range idx {
			out.Num[j] = c.Num[i]
		}
		return out
	}
	out.Text = make([]string, len(idx))
	for j, i := range idx {
		out.Text[j] = c.Text[i]
	}
	return out
}

// Frame is a column-oriented table with a fixed row count.
type Frame struct {
	rows    int
	columns []*Column
	index   map[string]int
}

// NewFrame creates an empty frame holding rows rows.
func NewFrame(rows int) *Frame {
	return &Frame{rows: rows, index: make(map[string]int)}
}

// Rows returns the number of rows.
func (f *Frame) Rows() int {
	return f.rows
}

// Empty reports whether the frame has no rows.
func (f *Frame) Empty() bool {
	return f.rows == 0
}

// Columns returns the column names in order.
func (f *Frame) Columns() []string {
	names := make([]string, len(f.columns))
	for i, c := range f.columns {
		names[i] = c.Name
	}
	return names
}

// Column looks up a column by exact name.
func (f *Frame) Column(name string) (*Column, bool) {
	i, ok := f.index[name]
	if !ok {
		return nil, false
	}
	return f.columns[i], true
}

// Has reports whether the frame holds a column with the given name.
func (f *Frame) Has(name string) bool {
	_, ok := f.index[name]
	return ok
}

// AddNumeric appends or replaces a numeric column.
func (f *Frame) AddNumeric(name string, values []float64) error {
	return f.add(&Column{Name: name, Kind: KindNumeric, Num: values})
}

// AddText appends or replaces a text column.
func (f *Frame) AddText(name string, values []string) error {
	return f.add(&Column{Name: name, Kind: KindText, Text: values})
}

func (f *Frame) add(c *Column) error {
	if c.Len() != f.rows {
		return fmt.Errorf("column %s has %d rows, frame has %d", c.Name, c.Len(), f.rows)
	}
	if i, ok := f.index[c.Name]; ok {
		f.columns[i] = c
		return nil
	}
	f.index[c.Name] = len(f.columns)
	f.columns = append(f.columns, c)
	return nil
}

// Drop returns a new frame without the named columns. Unknown names are ignored.
func (f *Frame) Drop(names ...string) *Frame {
	skip := make(map[string]bool, len(names))
	for _, n := range names {
		skip[n] = true
	}
	out := NewFrame(f.rows)
	for _, c := range f.columns {
		if !skip[c.Name] {
			_ = out.add(c)
		}
	}
	return out
}

// Rename returns a new frame with columns renamed per mapping. When two
// columns end up with the same name the later one wins.
func (f *Frame) Rename(mapping map[string]string) *Frame {
	out := NewFrame(f.rows)
	for _, c := range f.columns {
		if to, ok := mapping[c.Name]; ok && to != c.Name {
			renamed := *c
			renamed.Name = to
			_ = out.add(&renamed)
			continue
		}
		_ = out.add(c)
	}
	return out
}

// Select returns a new frame holding only the named columns, in order.
func (f *Frame) Select(names []string) (*Frame, error) {
	out := NewFrame(f.rows)
	var missing []string
	for _, n := range names {
		c, ok := f.Column(n)
		if !ok {
			missing = append(missing, n)
			continue
		}
		_ = out.add(c)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing columns: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// Take returns a new frame holding the rows at idx, in that order.
func (f *Frame) Take(idx []int) *Frame {
	out := NewFrame(len(idx))
	for _, c := range f.columns {
		_ = out.add(c.take(idx))
	}
	return out
}

var missingTokens = map[string]bool{
	"":     true,
	"na":   true,
	"n/a":  true,
	"nan":  true,
	"null": true,
	"none": true,
}

func isMissingToken(s string) bool {
	return missingTokens[strings.ToLower(strings.TrimSpace(s))]
}

func parseNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if isMissingToken(s) {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
