package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrNoHeader is returned when a CSV input has no header row.
var ErrNoHeader = errors.New("csv has no header row")

// ReadCSV parses CSV data into a frame. A column is numeric when every
// non-missing cell parses as a number; otherwise it is kept as text.
func ReadCSV(r io.Reader) (*Frame, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoHeader
		}
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	cells := make([][]string, len(header))
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}
		for i := range header {
			cells[i] = append(cells[i], strings.TrimSpace(record[i]))
		}
	}

	rows := 0
	if len(cells) > 0 {
		rows = len(cells[0])
	}

	frame := NewFrame(rows)
	for i, name := range header {
		col := inferColumn(name, cells[i])
		if err := frame.add(col); err != nil {
			return nil, err
		}
	}

	return frame, nil
}

func inferColumn(name string, values []string) *Column {
	nums := make([]float64, len(values))
	numeric := true
	for i, v := range values {
		if isMissingToken(v) {
			nums[i] = math.NaN()
			continue
		}
		n := parseNumber(v)
		if math.IsNaN(n) {
			numeric = false
			break
		}
		nums[i] = n
	}
	if numeric {
		return &Column{Name: name, Kind: KindNumeric, Num: nums}
	}

	text := make([]string, len(values))
	for i, v := range values {
		if !isMissingToken(v) {
			text[i] = v
		}
	}
	return &Column{Name: name, Kind: KindText, Text: text}
}

// CleanTotalCharges coerces TotalCharges to numeric, stripping thousands
// separators. Unparsable cells become missing.
func CleanTotalCharges(f *Frame) error {
	col, ok := f.Column(ColTotalCharges)
	if !ok || col.Kind == KindNumeric {
		return nil
	}
	values := make([]float64, col.Len())
	for i, raw := range col.Text {
		values[i] = parseNumber(strings.ReplaceAll(raw, ",", ""))
	}
	return f.AddNumeric(ColTotalCharges, values)
}

// LoadCSV reads a churn dataset from disk, standardizes its column names and
// logs basic diagnostics.
func LoadCSV(path string) (*Frame, error) {
	log.Info().Str("path", path).Msg("Loading data")

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	frame, err := ReadCSV(file)
	if err != nil {
		return nil, err
	}

	frame = StandardizeColumns(frame)
	if err := CleanTotalCharges(frame); err != nil {
		return nil, err
	}

	logDiagnostics(frame)
	return frame, nil
}

func logDiagnostics(f *Frame) {
	kinds := make(map[string]string, len(f.columns))
	missing := make(map[string]int, len(f.columns))
	for _, c := range f.columns {
		kinds[c.Name] = c.Kind.String()
		missing[c.Name] = c.MissingCount()
	}

	log.Info().
		Int("rows", f.Rows()).
		Int("columns", len(f.columns)).
		Strs("names", f.Columns()).
		Msg("Data loaded")
	log.Debug().Interface("kinds", kinds).Msg("Column kinds")
	log.Debug().Interface("missing", missing).Msg("Missing values per column")
}
