package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"churn-service/internal/dataset"
	"churn-service/internal/explain"
	"churn-service/internal/ml"

	"golang.org/x/text/encoding/charmap"
)

const maxActionableRows = 200

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var errUndecodable = errors.New("could not decode CSV file")

// uploadAliases maps export-style headers to canonical names. They apply
// only when a required column is missing.
var uploadAliases = map[string]string{
	"Tenure in Months": dataset.ColTenure,
	"Monthly Charge":   dataset.ColMonthlyCharges,
	"Payment Method":   dataset.ColPaymentMethod,
	"Total Charges":    dataset.ColTotalCharges,
}

// decodeUpload returns data as text: UTF-8 with or without BOM, otherwise
// Latin-1.
func decodeUpload(data []byte) (string, error) {
	if trimmed := bytes.TrimPrefix(data, utf8BOM); utf8.Valid(trimmed) {
		return string(trimmed), nil
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return "", errUndecodable
	}
	return string(decoded), nil
}

// normalizeUploadColumns trims header whitespace and applies uploadAliases
// when the file lacks some required column.
func normalizeUploadColumns(raw *dataset.Frame) *dataset.Frame {
	trim := make(map[string]string)
	for _, name := range raw.Columns() {
		if t := strings.TrimSpace(name); t != name {
			trim[name] = t
		}
	}
	frame := raw
	if len(trim) > 0 {
		frame = raw.Rename(trim)
	}

	complete := true
	for _, name := range dataset.RequiredFeatures {
		if !frame.Has(name) {
			complete = false
			break
		}
	}
	if complete {
		return frame
	}

	rename := make(map[string]string)
	for source, target := range uploadAliases {
		if frame.Has(source) && !frame.Has(target) {
			rename[source] = target
		}
	}
	if len(rename) == 0 {
		return frame
	}
	return frame.Rename(rename)
}

// batch is an upload prepared for scoring.
type batch struct {
	standardized *dataset.Frame
	features     *dataset.Frame
	labels       []int
}

// MissingColumnsError reports required columns absent from an upload.
type MissingColumnsError struct {
	Missing []string
	Found   []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("Missing required columns for prediction: %s. Columns found in CSV: %s",
		pyOrderedList(e.Missing), pyOrderedList(e.Found))
}

func pyOrderedList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + v + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// prepareBatch standardizes an uploaded frame and extracts the model
// features in canonical order. Labels are returned when the file carries a
// recognisable churn column.
func prepareBatch(raw *dataset.Frame) (*batch, error) {
	standardized := dataset.StandardizeColumns(normalizeUploadColumns(raw))
	if err := dataset.CleanTotalCharges(standardized); err != nil {
		return nil, err
	}

	var labels []int
	if target, err := dataset.FindTargetColumn(standardized.Columns()); err == nil {
		col, _ := standardized.Column(target)
		labels = dataset.EncodeTarget(col)
	}

	candidates := dataset.DropTargetColumns(dataset.DropIdentifierColumns(standardized))
	var missing []string
	for _, name := range dataset.RequiredFeatures {
		if !candidates.Has(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingColumnsError{Missing: missing, Found: candidates.Columns()}
	}

	features, err := candidates.Select(dataset.RequiredFeatures)
	if err != nil {
		return nil, err
	}
	return &batch{standardized: standardized, features: features, labels: labels}, nil
}

// actionableRow is one line of the risk table returned for an upload.
type actionableRow struct {
	CustomerID       any     `json:"Customer ID"`
	ChurnProbability float64 `json:"churn_probability"`
	ChurnRiskPercent string  `json:"churn_risk_percent"`
	RiskLevel        string  `json:"risk_level"`
	Contract         *string `json:"Contract"`
	Tenure           *int    `json:"Tenure"`
	MonthlyCharges   *string `json:"MonthlyCharges"`
	PaymentMethod    *string `json:"PaymentMethod"`
	TotalCharges     *string `json:"TotalCharges"`
}

func textCell(f *dataset.Frame, name string, i int) *string {
	col, ok := f.Column(name)
	if !ok || col.IsMissing(i) {
		return nil
	}
	v := col.String(i)
	return &v
}

// idCell keeps the identifier's CSV type: numeric columns render as JSON
// numbers, text columns as strings.
func idCell(f *dataset.Frame, name string, i int) any {
	col, ok := f.Column(name)
	if !ok || col.IsMissing(i) {
		return nil
	}
	if col.Kind == dataset.KindNumeric {
		return json.Number(strconv.FormatFloat(col.Num[i], 'f', -1, 64))
	}
	return col.String(i)
}

func numberCell(f *dataset.Frame, name string, i int) (float64, bool) {
	col, ok := f.Column(name)
	if !ok {
		return 0, false
	}
	v := col.Float(i)
	return v, !math.IsNaN(v)
}

func moneyCell(f *dataset.Frame, name string, i int) *string {
	v, ok := numberCell(f, name, i)
	if !ok {
		return nil
	}
	s := fmt.Sprintf("%.2f", ml.RoundTo(v, 2))
	return &s
}

// actionableRows lists the riskiest customers first, keeping at most
// maxActionableRows rows.
func actionableRows(standardized *dataset.Frame, probabilities []float64) []actionableRow {
	rows := make([]actionableRow, len(probabilities))
	for i, p := range probabilities {
		row := actionableRow{
			CustomerID:       idCell(standardized, dataset.ColCustomerID, i),
			ChurnProbability: ml.RoundTo(p, 6),
			ChurnRiskPercent: fmt.Sprintf("%.2f%%", p*100),
			RiskLevel:        explain.FrenchRiskLevel(p),
			Contract:         textCell(standardized, dataset.ColContract, i),
			MonthlyCharges:   moneyCell(standardized, dataset.ColMonthlyCharges, i),
			PaymentMethod:    textCell(standardized, dataset.ColPaymentMethod, i),
			TotalCharges:     moneyCell(standardized, dataset.ColTotalCharges, i),
		}
		if v, ok := numberCell(standardized, dataset.ColTenure, i); ok {
			tenure := int(math.RoundToEven(v))
			row.Tenure = &tenure
		}
		rows[i] = row
	}

	sort.SliceStable(rows, func(a, b int) bool {
		return rows[a].ChurnProbability > rows[b].ChurnProbability
	})
	if len(rows) > maxActionableRows {
		rows = rows[:maxActionableRows]
	}
	return rows
}
