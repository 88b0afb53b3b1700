package api

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"churn-service/internal/dataset"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeUpload(t *testing.T) {
	text, err := decodeUpload([]byte("\xef\xbb\xbfAge,Gender\n"))
	require.NoError(t, err)
	assert.Equal(t, "Age,Gender\n", text)

	text, err = decodeUpload([]byte("Ancienneté\n"))
	require.NoError(t, err)
	assert.Equal(t, "Ancienneté\n", text)

	text, err = decodeUpload([]byte("Anciennet\xe9\n"))
	require.NoError(t, err)
	assert.Equal(t, "Ancienneté\n", text)
}

func TestNormalizeUploadColumns(t *testing.T) {
	raw, err := dataset.ReadCSV(strings.NewReader(
		" Age ,Gender,Tenure in Months,Monthly Charge,Contract,Payment Method,Total Charges\n30,Male,5,80,One year,Credit card,400\n"))
	require.NoError(t, err)

	frame := normalizeUploadColumns(raw)
	assert.Equal(t, dataset.RequiredFeatures, frame.Columns())
}

func TestNormalizeUploadColumns_AliasesOnlyWhenNeeded(t *testing.T) {
	raw, err := dataset.ReadCSV(strings.NewReader(
		"Age,Gender,Tenure,MonthlyCharges,Contract,PaymentMethod,TotalCharges,Monthly Charge\n30,Male,5,80,One year,Credit card,400,1\n"))
	require.NoError(t, err)

	frame := normalizeUploadColumns(raw)
	assert.True(t, frame.Has("Monthly Charge"))
	col, _ := frame.Column(dataset.ColMonthlyCharges)
	assert.Equal(t, []float64{80}, col.Num)
}

func TestPrepareBatch(t *testing.T) {
	raw, err := dataset.ReadCSV(strings.NewReader(
		"customerID,Age,Gender,Tenure,MonthlyCharges,Contract,PaymentMethod,TotalCharges,Churn\n" +
			"A1,30,Male,5,80,One year,Credit card,\"1,400.5\",Yes\n" +
			"A2,45,Female,20,40,Two year,Bank transfer,800,No\n"))
	require.NoError(t, err)

	prepared, err := prepareBatch(raw)
	require.NoError(t, err)
	assert.Equal(t, dataset.RequiredFeatures, prepared.features.Columns())
	assert.Equal(t, []int{1, 0}, prepared.labels)

	total, _ := prepared.features.Column(dataset.ColTotalCharges)
	assert.InDelta(t, 1400.5, total.Float(0), 1e-9)
	assert.True(t, prepared.standardized.Has(dataset.ColCustomerID))
}

func TestPrepareBatch_UnreadableLabelsAreIgnored(t *testing.T) {
	raw, err := dataset.ReadCSV(strings.NewReader(
		"Age,Gender,Tenure,MonthlyCharges,Contract,PaymentMethod,TotalCharges,Churn\n" +
			"30,Male,5,80,One year,Credit card,400,maybe\n"))
	require.NoError(t, err)

	prepared, err := prepareBatch(raw)
	require.NoError(t, err)
	assert.Nil(t, prepared.labels)
}

func TestActionableRows(t *testing.T) {
	frame := dataset.NewFrame(3)
	require.NoError(t, frame.AddText(dataset.ColCustomerID, []string{"A", "", "C"}))
	require.NoError(t, frame.AddText(dataset.ColContract, []string{"One year", "Month-to-month", ""}))
	require.NoError(t, frame.AddNumeric(dataset.ColTenure, []float64{2.5, math.NaN(), 7}))
	require.NoError(t, frame.AddNumeric(dataset.ColMonthlyCharges, []float64{80.456, 20, math.NaN()}))

	rows := actionableRows(frame, []float64{0.2, 0.9123456789, 0.55})
	require.Len(t, rows, 3)

	assert.Nil(t, rows[0].CustomerID)
	assert.Equal(t, 0.912346, rows[0].ChurnProbability)
	assert.Equal(t, "91.23%", rows[0].ChurnRiskPercent)
	assert.Equal(t, "ÉLEVÉ", rows[0].RiskLevel)
	assert.Nil(t, rows[0].Tenure)
	assert.Equal(t, "20.00", *rows[0].MonthlyCharges)
	assert.Nil(t, rows[0].TotalCharges, "absent column renders as null")
	assert.Nil(t, rows[0].PaymentMethod)

	assert.Equal(t, "C", rows[1].CustomerID)
	assert.Equal(t, "MOYEN", rows[1].RiskLevel)
	assert.Nil(t, rows[1].Contract)
	assert.Nil(t, rows[1].MonthlyCharges)

	assert.Equal(t, "A", rows[2].CustomerID)
	assert.Equal(t, 2, *rows[2].Tenure, "half rounds to even")
	assert.Equal(t, "80.46", *rows[2].MonthlyCharges)
	assert.Equal(t, "FAIBLE", rows[2].RiskLevel)
}

func TestActionableRows_NumericIdentifier(t *testing.T) {
	frame := dataset.NewFrame(2)
	require.NoError(t, frame.AddNumeric(dataset.ColCustomerID, []float64{1001, math.NaN()}))

	rows := actionableRows(frame, []float64{0.8, 0.1})
	require.Len(t, rows, 2)
	assert.Equal(t, json.Number("1001"), rows[0].CustomerID)
	assert.Nil(t, rows[1].CustomerID)

	body, err := json.Marshal(rows[0])
	require.NoError(t, err)
	assert.Contains(t, string(body), `"Customer ID":1001`)
}

func TestActionableRows_Capped(t *testing.T) {
	frame := dataset.NewFrame(250)
	probs := make([]float64, 250)
	for i := range probs {
		probs[i] = float64(i) / 250
	}

	rows := actionableRows(frame, probs)
	assert.Len(t, rows, maxActionableRows)
	assert.Equal(t, round6(249.0/250), rows[0].ChurnProbability)
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

func TestPyList(t *testing.T) {
	assert.Equal(t, "['Age', 'Tenure']", pyList([]string{"Tenure", "Age", "Tenure"}))
	assert.Equal(t, "[]", pyList(nil))
}
