package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"churn-service/internal/dataset"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fieldTypes(verr *ValidationError) map[string]string {
	types := make(map[string]string, len(verr.Errors))
	for _, fe := range verr.Errors {
		types[fe.Loc[len(fe.Loc)-1]] = fe.Type
	}
	return types
}

func TestDecodeCustomer(t *testing.T) {
	c, err := decodeCustomer(strings.NewReader(`{
		"CustomerID": "C-1", "Age": 58, "Gender": "Female", "Tenure": 4,
		"MonthlyCharges": 119.9, "Contract": "Month-to-month",
		"PaymentMethod": "Electronic check", "TotalCharges": "420.5"}`))
	require.NoError(t, err)
	assert.Equal(t, dataset.Customer{
		CustomerID: "C-1", Age: 58, Gender: "Female", Tenure: 4, MonthlyCharges: 119.9,
		Contract: "Month-to-month", PaymentMethod: "Electronic check", TotalCharges: 420.5,
	}, c)
}

func TestDecodeCustomer_ZeroValuesArePresent(t *testing.T) {
	c, err := decodeCustomer(strings.NewReader(`{
		"Age": 0, "Gender": "", "Tenure": 0, "MonthlyCharges": 0,
		"Contract": "", "PaymentMethod": "", "TotalCharges": 0}`))
	require.NoError(t, err)
	assert.Equal(t, 0, c.Age)
	assert.Equal(t, 0, c.Tenure)
}

func TestDecodeCustomer_NumericIdentifier(t *testing.T) {
	tests := map[string]string{
		`1001`:       "1001",
		`"1001"`:     "1001",
		`null`:       "",
		`{"id": 1}`:  "",
		`12.5`:       "12.5",
		`"ABC-0001"`: "ABC-0001",
	}
	for raw, want := range tests {
		body := `{"CustomerID": ` + raw + `, "Age": 30, "Gender": "Male", "Tenure": 1,
			"MonthlyCharges": 10, "Contract": "One year", "PaymentMethod": "Credit card", "TotalCharges": 10}`
		c, err := decodeCustomer(strings.NewReader(body))
		require.NoError(t, err, raw)
		assert.Equal(t, want, c.CustomerID, raw)
	}
}

func TestDecodeCustomer_FieldErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want map[string]string
	}{
		{
			name: "all missing",
			body: `{}`,
			want: map[string]string{
				"Age": "missing", "Gender": "missing", "Tenure": "missing", "MonthlyCharges": "missing",
				"Contract": "missing", "PaymentMethod": "missing", "TotalCharges": "missing",
			},
		},
		{
			name: "ranges",
			body: `{"Age": 121, "Gender": "Male", "Tenure": -1, "MonthlyCharges": -0.5,
				"Contract": "One year", "PaymentMethod": "Credit card", "TotalCharges": 3000000000}`,
			want: map[string]string{"Age": "less_than_equal", "Tenure": "greater_than_equal", "MonthlyCharges": "greater_than_equal"},
		},
		{
			name: "types reported once",
			body: `{"Age": 30.5, "Gender": 3, "Tenure": "soon", "MonthlyCharges": "cheap",
				"Contract": null, "PaymentMethod": "Credit card", "TotalCharges": 10}`,
			want: map[string]string{
				"Age": "int_parsing", "Gender": "string_type", "Tenure": "int_parsing",
				"MonthlyCharges": "float_parsing", "Contract": "string_type",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeCustomer(strings.NewReader(tt.body))
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.want, fieldTypes(verr))
			assert.Len(t, verr.Errors, len(tt.want))
		})
	}
}

func TestDecodeCustomer_RangeMessages(t *testing.T) {
	_, err := decodeCustomer(strings.NewReader(`{"Age": 130, "Gender": "Male", "Tenure": 1,
		"MonthlyCharges": 1, "Contract": "One year", "PaymentMethod": "Credit card", "TotalCharges": -2}`))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Errors, 2)

	assert.Equal(t, []string{"body", "Age"}, verr.Errors[0].Loc)
	assert.Equal(t, "Input should be less than or equal to 120", verr.Errors[0].Msg)
	assert.Equal(t, []string{"body", "TotalCharges"}, verr.Errors[1].Loc)
	assert.Equal(t, "Input should be greater than or equal to 0", verr.Errors[1].Msg)
}

func TestParseHistoryQuery(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantErr map[string]string
		ranged  bool
		limit   int
	}{
		{name: "defaults", query: "", limit: defaultHistory},
		{name: "limit", query: "limit=10", limit: 10},
		{name: "range", query: "since=2026-01-01T00:00:00Z&until=2026-02-01T00:00:00Z", limit: defaultHistory, ranged: true},
		{name: "since only", query: "since=2026-01-01T00:00:00Z", limit: defaultHistory, ranged: true},
		{name: "limit too large", query: "limit=1001", wantErr: map[string]string{"limit": "less_than_equal"}},
		{name: "limit zero", query: "limit=0", wantErr: map[string]string{"limit": "greater_than_equal"}},
		{name: "limit not a number", query: "limit=abc", wantErr: map[string]string{"limit": "int_parsing"}},
		{name: "bad timestamp", query: "since=yesterday", wantErr: map[string]string{"since": "datetime_parsing"}},
		{
			name:    "inverted range",
			query:   "since=2026-02-01T00:00:00Z&until=2026-01-01T00:00:00Z",
			wantErr: map[string]string{"until": "greater_than_equal"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/predictions/history?"+tt.query, nil)
			q, err := parseHistoryQuery(req)
			if tt.wantErr != nil {
				var verr *ValidationError
				require.True(t, errors.As(err, &verr))
				assert.Equal(t, tt.wantErr, fieldTypes(verr))
				assert.Equal(t, "query", verr.Errors[0].Loc[0])
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.limit, q.Limit)
			assert.Equal(t, tt.ranged, q.ranged)
		})
	}
}

func TestNewestFirst(t *testing.T) {
	assert.Equal(t, []int{5, 4, 3}, newestFirst([]int{1, 2, 3, 4, 5}, 3))
	assert.Equal(t, []int{2, 1}, newestFirst([]int{1, 2}, 10))
	assert.Empty(t, newestFirst([]int{}, 10))
}
