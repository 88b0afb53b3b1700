package dataset

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"
)

// Canonical column names.
const (
	ColCustomerID     = "CustomerID"
	ColAge            = "Age"
	ColGender         = "Gender"
	ColTenure         = "Tenure"
	ColMonthlyCharges = "MonthlyCharges"
	ColContract       = "Contract"
	ColPaymentMethod  = "PaymentMethod"
	ColTotalCharges   = "TotalCharges"
	ColChurn          = "Churn"
)

// RequiredFeatures lists the model inputs in their canonical order.
var RequiredFeatures = []string{
	ColAge,
	ColGender,
	ColTenure,
	ColMonthlyCharges,
	ColContract,
	ColPaymentMethod,
	ColTotalCharges,
}

// ExpectedColumns lists the columns of a full training file.
var ExpectedColumns = append(append([]string{ColCustomerID}, RequiredFeatures...), ColChurn)

var columnNameMapping = map[string]string{
	"customerid":     ColCustomerID,
	"idclient":       ColCustomerID,
	"age":            ColAge,
	"gender":         ColGender,
	"sex":            ColGender,
	"tenure":         ColTenure,
	"anciennete":     ColTenure,
	"monthlycharges": ColMonthlyCharges,
	"paymentmethod":  ColPaymentMethod,
	"contract":       ColContract,
	"totalcharges":   ColTotalCharges,
	"churn":          ColChurn,
	"target":         ColChurn,
	"label":          ColChurn,
}

var targetColumnAliases = map[string]bool{
	"churn":   true,
	"target":  true,
	"label":   true,
	"ischurn": true,
	"churned": true,
}

var idColumnAliases = map[string]bool{
	"customerid": true,
	"idclient":   true,
	"id":         true,
}

// NormalizeColumnName lowercases name and keeps letters and digits only.
func NormalizeColumnName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsTargetColumn reports whether name is one of the accepted label aliases.
func IsTargetColumn(name string) bool {
	return targetColumnAliases[NormalizeColumnName(name)]
}

// IsIdentifierColumn reports whether name is one of the accepted identifier aliases.
func IsIdentifierColumn(name string) bool {
	return idColumnAliases[NormalizeColumnName(name)]
}

// StandardizeColumns renames known aliases to canonical column names.
func StandardizeColumns(f *Frame) *Frame {
	mapping := make(map[string]string)
	for _, col := range f.Columns() {
		if canonical, ok := columnNameMapping[NormalizeColumnName(col)]; ok {
			mapping[col] = canonical
		}
	}
	if len(mapping) == 0 {
		return f
	}
	return f.Rename(mapping)
}

// FindTargetColumn returns the first column that looks like a churn label.
func FindTargetColumn(columns []string) (string, error) {
	for _, col := range columns {
		if IsTargetColumn(col) {
			return col, nil
		}
	}
	return "", fmt.Errorf("no target column found. Expected aliases include Churn/target/label")
}

// DropIdentifierColumns removes customer identifier columns.
func DropIdentifierColumns(f *Frame) *Frame {
	var drop []string
	for _, col := range f.Columns() {
		if IsIdentifierColumn(col) {
			drop = append(drop, col)
		}
	}
	if len(drop) == 0 {
		return f
	}
	log.Debug().Strs("columns", drop).Msg("Dropping identifier columns")
	return f.Drop(drop...)
}

// DropTargetColumns removes every column that looks like a churn label.
func DropTargetColumns(f *Frame) *Frame {
	var drop []string
	for _, col := range f.Columns() {
		if IsTargetColumn(col) {
			drop = append(drop, col)
		}
	}
	if len(drop) == 0 {
		return f
	}
	return f.Drop(drop...)
}

const maxLoggedTargetValues = 10

var targetValueMapping = map[string]int{
	"yes":   1,
	"y":     1,
	"1":     1,
	"true":  1,
	"churn": 1,
	"no":    0,
	"n":     0,
	"0":     0,
	"false": 0,
	"stay":  0,
}

// EncodeTarget maps a label column to 0/1. Unmapped text labels fall back
// to their numeric value when positive; anything else, blanks included,
// encodes as 0.
func EncodeTarget(c *Column) []int {
	out := make([]int, c.Len())

	if c.Kind == KindNumeric {
		for i, v := range c.Num {
			// NaN compares false, so missing labels encode as 0
			if v > 0 {
				out[i] = 1
			}
		}
		return out
	}

	unmapped := make(map[string]int)
	for i, raw := range c.Text {
		normalized := strings.ToLower(strings.TrimSpace(raw))
		if v, ok := targetValueMapping[normalized]; ok {
			out[i] = v
			continue
		}
		num := parseNumber(normalized)
		if math.IsNaN(num) {
			unmapped[raw]++
			continue
		}
		if num > 0 {
			out[i] = 1
		}
	}

	if len(unmapped) > 0 {
		rows := 0
		values := make([]string, 0, len(unmapped))
		for v, n := range unmapped {
			values = append(values, fmt.Sprintf("%q", v))
			rows += n
		}
		sort.Strings(values)
		if len(values) > maxLoggedTargetValues {
			values = values[:maxLoggedTargetValues]
		}
		log.Warn().
			Str("column", c.Name).
			Int("rows", rows).
			Strs("values", values).
			Msg("Unrecognized target values encoded as 0")
	}

	return out
}
