package features

import (
	"errors"
	"math"
	"sort"
	"strings"

	"churn-service/internal/dataset"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"
)

const (
	numericPrefix     = "num__"
	categoricalPrefix = "cat__"
	missingCategory   = "missing"
)

var ErrNoColumns = errors.New("no columns to preprocess")

// NumericSpec holds the fitted median imputer and standard scaler of a column.
type NumericSpec struct {
	Name   string  `json:"name"`
	Median float64 `json:"median"`
	Mean   float64 `json:"mean"`
	Scale  float64 `json:"scale"`
}

// CategoricalSpec holds the fitted most-frequent imputer and one-hot
// categories of a column.
type CategoricalSpec struct {
	Name         string   `json:"name"`
	MostFrequent string   `json:"most_frequent"`
	Categories   []string `json:"categories"`
}

// Preprocessor turns a frame into a dense design matrix: numeric columns
// first (imputed and standardized), then one-hot blocks for text columns.
// Unknown categories encode as an all-zero block.
type Preprocessor struct {
	Numeric     []NumericSpec     `json:"numeric"`
	Categorical []CategoricalSpec `json:"categorical"`
}

// Fit learns imputation values, scaling and categories from frame. Column
// roles follow the frame's inferred kinds.
func Fit(frame *dataset.Frame) (*Preprocessor, error) {
	if len(frame.Columns()) == 0 {
		return nil, ErrNoColumns
	}

	p := &Preprocessor{}
	for _, name := range frame.Columns() {
		col, _ := frame.Column(name)
		if col.Kind == dataset.KindNumeric {
			p.Numeric = append(p.Numeric, fitNumeric(col))
		} else {
			p.Categorical = append(p.Categorical, fitCategorical(col))
		}
	}

	log.Debug().
		Strs("numeric", p.NumericColumns()).
		Strs("categorical", p.CategoricalColumns()).
		Msg("Preprocessor fitted")

	return p, nil
}

func fitNumeric(col *dataset.Column) NumericSpec {
	present := make([]float64, 0, col.Len())
	for _, v := range col.Num {
		if !math.IsNaN(v) {
			present = append(present, v)
		}
	}

	median := 0.0
	if len(present) > 0 {
		sorted := append([]float64(nil), present...)
		sort.Float64s(sorted)
		mid := len(sorted) / 2
		if len(sorted)%2 == 0 {
			median = (sorted[mid-1] + sorted[mid]) / 2
		} else {
			median = sorted[mid]
		}
	}

	imputed := make([]float64, col.Len())
	for i, v := range col.Num {
		if math.IsNaN(v) {
			v = median
		}
		imputed[i] = v
	}

	mean, std := 0.0, 0.0
	if len(imputed) > 0 {
		mean, std = stat.PopMeanStdDev(imputed, nil)
	}
	if std == 0 || math.IsNaN(std) {
		std = 1
	}

	return NumericSpec{Name: col.Name, Median: median, Mean: mean, Scale: std}
}

func fitCategorical(col *dataset.Column) CategoricalSpec {
	counts := make(map[string]int)
	for i := 0; i < col.Len(); i++ {
		if v := col.String(i); v != "" {
			counts[v]++
		}
	}

	mostFrequent := missingCategory
	best := 0
	for v, n := range counts {
		// ties resolve to the lexicographically smallest value
		if n > best || (n == best && v < mostFrequent) {
			mostFrequent, best = v, n
		}
	}

	seen := make(map[string]bool, len(counts)+1)
	for v := range counts {
		seen[v] = true
	}
	seen[mostFrequent] = true

	categories := make([]string, 0, len(seen))
	for v := range seen {
		categories = append(categories, v)
	}
	sort.Strings(categories)

	return CategoricalSpec{Name: col.Name, MostFrequent: mostFrequent, Categories: categories}
}

// NumFeatures returns the width of the transformed matrix.
func (p *Preprocessor) NumFeatures() int {
	n := len(p.Numeric)
	for _, c := range p.Categorical {
		n += len(c.Categories)
	}
	return n
}

// NumericColumns returns the names of numeric input columns.
func (p *Preprocessor) NumericColumns() []string {
	names := make([]string, len(p.Numeric))
	for i, s := range p.Numeric {
		names[i] = s.Name
	}
	return names
}

// CategoricalColumns returns the names of categorical input columns.
func (p *Preprocessor) CategoricalColumns() []string {
	names := make([]string, len(p.Categorical))
	for i, s := range p.Categorical {
		names[i] = s.Name
	}
	return names
}

// InputColumns returns every input column the preprocessor consumes.
func (p *Preprocessor) InputColumns() []string {
	return append(p.NumericColumns(), p.CategoricalColumns()...)
}

// FeatureNamesOut returns the transformed column names, e.g. num__Age and
// cat__Contract_Month-to-month.
func (p *Preprocessor) FeatureNamesOut() []string {
	names := make([]string, 0, p.NumFeatures())
	for _, s := range p.Numeric {
		names = append(names, numericPrefix+s.Name)
	}
	for _, s := range p.Categorical {
		for _, c := range s.Categories {
			names = append(names, categoricalPrefix+s.Name+"_"+c)
		}
	}
	return names
}

// Transform encodes every row of frame. Columns missing from frame are
// treated as entirely missing.
func (p *Preprocessor) Transform(frame *dataset.Frame) [][]float64 {
	rows := frame.Rows()
	width := p.NumFeatures()
	backing := make([]float64, rows*width)
	out := make([][]float64, rows)
	for i := range out {
		out[i] = backing[i*width : (i+1)*width]
	}

	offset := 0
	for _, s := range p.Numeric {
		col, ok := frame.Column(s.Name)
		for i := 0; i < rows; i++ {
			v := math.NaN()
			if ok {
				v = col.Float(i)
			}
			if math.IsNaN(v) {
				v = s.Median
			}
			out[i][offset] = (v - s.Mean) / s.Scale
		}
		offset++
	}

	for _, s := range p.Categorical {
		col, ok := frame.Column(s.Name)
		for i := 0; i < rows; i++ {
			v := ""
			if ok {
				v = col.String(i)
			}
			if v == "" {
				v = s.MostFrequent
			}
			if j := sort.SearchStrings(s.Categories, v); j < len(s.Categories) && s.Categories[j] == v {
				out[i][offset+j] = 1
			}
		}
		offset += len(s.Categories)
	}

	return out
}

// BusinessFeatureName maps a transformed column name back to the input
// feature it was derived from.
func BusinessFeatureName(transformed string, required []string) string {
	name := transformed
	if i := strings.Index(name, "__"); i >= 0 {
		name = name[i+2:]
	}

	for _, feature := range required {
		if name == feature || strings.HasPrefix(name, feature+"_") {
			return feature
		}
	}

	if i := strings.Index(name, "_"); i >= 0 {
		return name[:i]
	}
	return name
}
