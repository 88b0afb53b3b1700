package dataset

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `customerID,Age,Gender,Tenure,MonthlyCharges,Contract,PaymentMethod,TotalCharges,Churn
C1,58,Female,4,119.9,Month-to-month,Electronic check,"1,420.5",Yes
C2,37,Male,62,45.2,Two year,Bank transfer,2810.7,No
C3,44,Female,,70,One year,Credit card,,no
C4,29,Male,1,80.5,Month-to-month,Mailed check, ,yes
`

func TestNormalizeColumnName(t *testing.T) {
	tests := map[string]string{
		"CustomerID":        "customerid",
		" Monthly Charges ": "monthlycharges",
		"id_client":         "idclient",
		"Ancienneté":        "ancienneté",
		"Is-Churn?":         "ischurn",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeColumnName(in), in)
	}
}

func TestReadCSV_InfersKinds(t *testing.T) {
	frame, err := ReadCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	assert.Equal(t, 4, frame.Rows())

	age, ok := frame.Column("Age")
	require.True(t, ok)
	assert.Equal(t, KindNumeric, age.Kind)

	tenure, _ := frame.Column("Tenure")
	assert.Equal(t, KindNumeric, tenure.Kind)
	assert.True(t, math.IsNaN(tenure.Num[2]))

	total, _ := frame.Column("TotalCharges")
	assert.Equal(t, KindText, total.Kind, "thousands separator keeps the column textual until cleaned")

	require.NoError(t, CleanTotalCharges(frame))
	total, _ = frame.Column("TotalCharges")
	assert.Equal(t, KindNumeric, total.Kind)
	assert.InDelta(t, 1420.5, total.Num[0], 1e-9)
	assert.True(t, math.IsNaN(total.Num[2]))
	assert.True(t, math.IsNaN(total.Num[3]))
}

func TestReadCSV_Malformed(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrNoHeader)

	_, err = ReadCSV(strings.NewReader("a,b\n1,2,3\n"))
	assert.Error(t, err)
}

func TestStandardizeAndDropColumns(t *testing.T) {
	frame, err := ReadCSV(strings.NewReader("IdClient,sex,anciennete,label\n1,Male,3,1\n"))
	require.NoError(t, err)

	frame = StandardizeColumns(frame)
	assert.Equal(t, []string{"CustomerID", "Gender", "Tenure", "Churn"}, frame.Columns())

	frame = DropIdentifierColumns(frame)
	assert.Equal(t, []string{"Gender", "Tenure", "Churn"}, frame.Columns())

	frame = DropTargetColumns(frame)
	assert.Equal(t, []string{"Gender", "Tenure"}, frame.Columns())
}

func TestFindTargetColumn(t *testing.T) {
	col, err := FindTargetColumn([]string{"Age", "Churned"})
	require.NoError(t, err)
	assert.Equal(t, "Churned", col)

	_, err = FindTargetColumn([]string{"Age", "Gender"})
	assert.Error(t, err)
}

func TestEncodeTarget(t *testing.T) {
	tests := []struct {
		name string
		col  *Column
		want []int
	}{
		{
			name: "text labels",
			col:  &Column{Name: "Churn", Kind: KindText, Text: []string{"Yes", " no ", "TRUE", "stay", "churn", "2", "0.0"}},
			want: []int{1, 0, 1, 0, 1, 1, 0},
		},
		{
			name: "numeric labels",
			col:  &Column{Name: "Churn", Kind: KindNumeric, Num: []float64{0, 1, 3, -1, math.NaN()}},
			want: []int{0, 1, 1, 0, 0},
		},
		{
			name: "blank and unrecognized labels",
			col:  &Column{Name: "Churn", Kind: KindText, Text: []string{"Yes", "No", "", "maybe"}},
			want: []int{1, 0, 0, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EncodeTarget(tt.col))
		})
	}
}

func TestStratifiedSplit(t *testing.T) {
	y := make([]int, 100)
	for i := 0; i < 30; i++ {
		y[i] = 1
	}

	split, err := StratifiedSplit(y, 0.2, 42)
	require.NoError(t, err)
	assert.Len(t, split.Test, 20)
	assert.Len(t, split.Train, 80)

	positives := 0
	for _, i := range split.Test {
		positives += y[i]
	}
	assert.Equal(t, 6, positives)

	again, err := StratifiedSplit(y, 0.2, 42)
	require.NoError(t, err)
	assert.Equal(t, split, again)

	seen := make(map[int]bool)
	for _, i := range append(append([]int(nil), split.Train...), split.Test...) {
		assert.False(t, seen[i], "index %d assigned twice", i)
		seen[i] = true
	}
	assert.Len(t, seen, 100)
}

func TestStratifiedSplit_Errors(t *testing.T) {
	_, err := StratifiedSplit([]int{0, 0, 1}, 0.2, 42)
	assert.Error(t, err)

	_, err = StratifiedSplit([]int{0, 1}, 1.5, 42)
	assert.Error(t, err)
}

func TestLoadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "churn.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o644))

	frame, err := LoadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, ExpectedColumns, frame.Columns())

	_, err = LoadCSV(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestFromCustomers(t *testing.T) {
	frame := FromCustomers([]Customer{{
		Age: 58, Gender: "Female", Tenure: 4, MonthlyCharges: 119.9,
		Contract: "Month-to-month", PaymentMethod: "Electronic check", TotalCharges: 420.5,
	}})
	assert.Equal(t, RequiredFeatures, frame.Columns())

	age, _ := frame.Column(ColAge)
	assert.Equal(t, []float64{58}, age.Num)
	payment, _ := frame.Column(ColPaymentMethod)
	assert.Equal(t, "Electronic check", payment.String(0))
}

func TestFrameTakeAndSelect(t *testing.T) {
	frame, err := ReadCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	sub := frame.Take([]int{3, 0})
	assert.Equal(t, 2, sub.Rows())
	age, _ := sub.Column("Age")
	assert.Equal(t, []float64{29, 58}, age.Num)

	_, err = frame.Select([]string{"Age", "Unknown"})
	assert.Error(t, err)
}
