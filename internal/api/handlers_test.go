package api

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"churn-service/internal/metrics"
	"churn-service/internal/ml"
	"churn-service/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestPredict(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, jsonRequest(t, "/predict", validCustomer()))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	p := body["churn_probability"].(float64)
	assert.True(t, p >= 0 && p <= 1)
	assert.Equal(t, ml.FormatRiskPercent(p), body["risk_percent"])
	assert.Contains(t, []string{"LOW", "MEDIUM", "HIGH"}, body["risk_level"])
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.MLPredictions))
}

func TestPredict_Validation(t *testing.T) {
	env := newTestEnv(t, false)

	tests := []struct {
		name   string
		body   any
		detail string
	}{
		{
			name: "missing and invalid fields",
			body: func() map[string]any {
				c := validCustomer()
				delete(c, "Age")
				delete(c, "Contract")
				c["Tenure"] = -1
				c["MonthlyCharges"] = "cheap"
				return c
			}(),
			detail: "Invalid request payload. Missing required fields: ['Age', 'Contract'] Invalid values for fields: ['MonthlyCharges', 'Tenure']",
		},
		{
			name: "age out of range",
			body: func() map[string]any {
				c := validCustomer()
				c["Age"] = 121
				return c
			}(),
			detail: "Invalid request payload. Invalid values for fields: ['Age']",
		},
		{
			name: "null gender",
			body: func() map[string]any {
				c := validCustomer()
				c["Gender"] = nil
				return c
			}(),
			detail: "Invalid request payload. Invalid values for fields: ['Gender']",
		},
		{
			name:   "malformed json",
			body:   "{not json",
			detail: "Invalid request payload. Invalid values for fields: ['payload']",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, jsonRequest(t, "/predict", tt.body))
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

			body := decodeBody(t, rec)
			assert.Equal(t, tt.detail, body["detail"])
			assert.NotEmpty(t, body["errors"])
		})
	}
}

func TestPredict_AcceptsNumericStrings(t *testing.T) {
	env := newTestEnv(t, false)
	c := validCustomer()
	c["Age"] = "58"
	c["TotalCharges"] = "420.5"

	rec := env.do(t, jsonRequest(t, "/predict", c))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestPredict_ModelNotFound(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	server := NewServer(Config{
		Predictor: ml.NewPredictor(filepath.Join(t.TempDir(), "missing.json"), metrics.NewWrapper(m)),
		Metrics:   m,
	})

	for _, path := range []string{"/predict", "/explain"} {
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, jsonRequest(t, path, validCustomer()))

		assert.Equal(t, http.StatusInternalServerError, rec.Code, path)
		assert.JSONEq(t, `{"detail":"Model not found. Run training first: churntrain"}`, rec.Body.String(), path)
	}
}

func TestExplain(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, jsonRequest(t, "/explain", validCustomer()))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Contains(t, body, "probability")
	assert.Contains(t, body, "churn")
	assert.Contains(t, body, "risk_level")

	drivers := body["top_drivers"].([]any)
	require.Len(t, drivers, 3)
	first := drivers[0].(map[string]any)
	assert.NotEmpty(t, first["feature"])
	assert.Contains(t, []any{"increases", "decreases"}, first["direction"])
	assert.NotEmpty(t, first["human_explanation"])

	recs := body["recommendations"].([]any)
	assert.Equal(t, "Proposer une offre avec engagement 12 ou 24 mois incluant une remise.", recs[0])
}

func TestExplain_UnsupportedModel(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	server := NewServer(Config{
		Predictor: ml.NewPredictorFromPipeline(&ml.Pipeline{Name: "broken"}, metrics.NewWrapper(m)),
		Metrics:   m,
	})

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, jsonRequest(t, "/explain", validCustomer()))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"detail":"pipeline must expose 'preprocessor' and 'classifier' steps"}`, rec.Body.String())
}

func TestPredictCSV(t *testing.T) {
	env := newTestEnv(t, true)
	customers, y := syntheticCustomers(60, 32)

	rec := env.do(t, uploadRequest(t, "portfolio.CSV", customersCSV(customers, y)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)

	assert.Equal(t, "portfolio.CSV", body["filename"])
	assert.Equal(t, 60.0, body["row_count"])
	assert.Equal(t, 60.0, body["n_rows"])
	assert.Equal(t, body["predictions"], body["rows"])

	summary := body["summary"].(map[string]any)
	assert.Equal(t, body["probability_mean"], summary["avg_probability"])
	assert.Equal(t, body["high_risk_count"], summary["high_risk_count"])
	assert.Equal(t, body["high_risk_rate"], summary["high_risk_rate"])

	rows := body["predictions"].([]any)
	require.Len(t, rows, 60)
	probs := make([]float64, len(rows))
	for i, r := range rows {
		row := r.(map[string]any)
		probs[i] = row["churn_probability"].(float64)
		assert.True(t, strings.HasPrefix(row["Customer ID"].(string), "C"))
		assert.True(t, strings.HasSuffix(row["churn_risk_percent"].(string), "%"))
		assert.Contains(t, []any{"FAIBLE", "MOYEN", "ÉLEVÉ"}, row["risk_level"])
		assert.NotNil(t, row["Tenure"])
		assert.Regexp(t, `^\d+\.\d{2}$`, row["MonthlyCharges"])
	}
	assert.True(t, sort.SliceIsSorted(probs, func(a, b int) bool { return probs[a] > probs[b] }))

	assert.NotEmpty(t, body["global_top_drivers"])
	assert.NotEmpty(t, body["recommendations"])
	assert.Contains(t, body, "segments")
	assert.NotNil(t, body["data_drift"])
	assert.NotContains(t, body, "HeuristicDrivers")

	assert.Equal(t, 60.0, testutil.ToFloat64(env.metrics.CSVRowsScored))

	batches, err := env.store.RecentBatches(10)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, 60, batches[0].Rows)
	require.NotNil(t, batches[0].Accuracy, "labels in the upload are scored")
	assert.NotEmpty(t, batches[0].ModelVersion)
}

func TestPredictCSV_Rejections(t *testing.T) {
	env := newTestEnv(t, false)

	tests := []struct {
		name     string
		filename string
		content  string
		detail   string
	}{
		{"wrong extension", "data.txt", "a,b\n1,2\n", "Please upload a .csv file."},
		{"empty file", "data.csv", "", "Uploaded file is empty."},
		{"header only", "data.csv", "Age,Gender\n", "CSV has no rows."},
		{"ragged rows", "data.csv", "a,b\n1,2,3\n", "Invalid CSV format: "},
		{
			"missing columns",
			"data.csv",
			"Customer ID,Age,Gender,Churn\nC1,30,Male,No\n",
			"Missing required columns for prediction: ['Tenure', 'MonthlyCharges', 'Contract', 'PaymentMethod', 'TotalCharges']. Columns found in CSV: ['Age', 'Gender']",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, uploadRequest(t, tt.filename, []byte(tt.content)))
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.True(t, strings.HasPrefix(decodeBody(t, rec)["detail"].(string), tt.detail), rec.Body.String())
		})
	}
	assert.Equal(t, float64(len(tests)), testutil.ToFloat64(env.metrics.CSVRejected))
}

func TestPredictCSV_MissingFile(t *testing.T) {
	env := newTestEnv(t, false)
	req := httptest.NewRequest(http.MethodPost, "/predict-csv", strings.NewReader(""))

	rec := env.do(t, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "Invalid request payload. Missing required fields: ['file']", decodeBody(t, rec)["detail"])
}

func TestPredictCSV_Latin1(t *testing.T) {
	env := newTestEnv(t, false)
	content := []byte("Age,Gender,Tenure,MonthlyCharges,Contract,PaymentMethod,TotalCharges\n" +
		"40,F\xe9minin,10,50,Month-to-month,Ch\xe8que,500\n")

	rec := env.do(t, uploadRequest(t, "latin.csv", content))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rows := decodeBody(t, rec)["predictions"].([]any)
	require.Len(t, rows, 1)
	row := rows[0].(map[string]any)
	assert.Equal(t, "Chèque", row["PaymentMethod"])
	assert.Nil(t, row["Customer ID"])
}

func TestModelInfo(t *testing.T) {
	env := newTestEnv(t, true)
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/model/info", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, ml.ModelLogisticRegression, body["model_name"])
	assert.Len(t, body["input_features"], 7)
	assert.NotEmpty(t, body["feature_names"])
	assert.Len(t, body["feature_importance"], 7)

	version := body["active_version"].(map[string]any)
	assert.Equal(t, true, version["is_active"])
	assert.Equal(t, 500.0, body["drift_baseline"].(map[string]any)["sample_count"])
}

func TestHistory(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		env := newTestEnv(t, false)
		rec := env.do(t, httptest.NewRequest(http.MethodGet, "/predictions/history", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("records predictions", func(t *testing.T) {
		env := newTestEnv(t, true)
		for i := 0; i < 3; i++ {
			rec := env.do(t, jsonRequest(t, "/predict", validCustomer()))
			require.Equal(t, http.StatusOK, rec.Code)
		}

		rec := env.do(t, httptest.NewRequest(http.MethodGet, "/predictions/history?limit=2", nil))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		body := decodeBody(t, rec)
		predictions := body["predictions"].([]any)
		assert.Len(t, predictions, 2)
		first := predictions[0].(map[string]any)
		assert.Equal(t, "/predict", first["endpoint"])
		assert.Equal(t, ml.ModelLogisticRegression, first["model_name"])
		assert.Empty(t, body["batches"])
	})

	t.Run("invalid limit", func(t *testing.T) {
		env := newTestEnv(t, true)
		rec := env.do(t, httptest.NewRequest(http.MethodGet, "/predictions/history?limit=abc", nil))
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "Invalid request payload. Invalid values for fields: ['limit']", decodeBody(t, rec)["detail"])
	})

	t.Run("time range", func(t *testing.T) {
		env := newTestEnv(t, true)
		old := time.Now().Add(-48 * time.Hour)
		_, err := env.store.StorePrediction(storage.PredictionRecord{Timestamp: old, Endpoint: "/predict"})
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			rec := env.do(t, jsonRequest(t, "/explain", validCustomer()))
			require.Equal(t, http.StatusOK, rec.Code)
		}

		since := url.QueryEscape(time.Now().Add(-time.Hour).UTC().Format(time.RFC3339))
		rec := env.do(t, httptest.NewRequest(http.MethodGet, "/predictions/history?limit=2&since="+since, nil))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		predictions := decodeBody(t, rec)["predictions"].([]any)
		require.Len(t, predictions, 2)
		for _, p := range predictions {
			assert.Equal(t, "/explain", p.(map[string]any)["endpoint"])
		}
		first, _ := time.Parse(time.RFC3339Nano, predictions[0].(map[string]any)["timestamp"].(string))
		second, _ := time.Parse(time.RFC3339Nano, predictions[1].(map[string]any)["timestamp"].(string))
		assert.False(t, first.Before(second), "newest first")

		until := url.QueryEscape(time.Now().Add(-24 * time.Hour).UTC().Format(time.RFC3339))
		rec = env.do(t, httptest.NewRequest(http.MethodGet, "/predictions/history?until="+until, nil))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Len(t, decodeBody(t, rec)["predictions"], 1)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, false)
	env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{method="GET",route="/health",status="200"} 1`)
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, false)
	req := httptest.NewRequest(http.MethodOptions, "/predict", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")

	rec := env.do(t, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}
