package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"churn-service/internal/dataset"
	"churn-service/internal/explain"
	"churn-service/internal/metrics"
	"churn-service/internal/ml"
	"churn-service/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

var (
	modelOnce sync.Once
	testModel *ml.Pipeline
	modelErr  error
)

func syntheticCustomers(n int, seed int64) ([]dataset.Customer, []int) {
	rng := rand.New(rand.NewSource(seed))
	contracts := []string{"Month-to-month", "One year", "Two year"}
	payments := []string{"Electronic check", "Mailed check", "Bank transfer", "Credit card"}

	customers := make([]dataset.Customer, n)
	y := make([]int, n)
	for i := range customers {
		c := dataset.Customer{
			CustomerID:     fmt.Sprintf("C%04d", i),
			Age:            18 + rng.Intn(60),
			Gender:         []string{"Female", "Male"}[rng.Intn(2)],
			Tenure:         rng.Intn(72),
			MonthlyCharges: math.Round((20+rng.Float64()*100)*100) / 100,
			Contract:       contracts[rng.Intn(len(contracts))],
			PaymentMethod:  payments[rng.Intn(len(payments))],
		}
		c.TotalCharges = math.Round(c.MonthlyCharges*float64(c.Tenure)*100) / 100

		logit := -0.5 - 0.05*float64(c.Tenure) + 0.03*(c.MonthlyCharges-70)
		if c.Contract == "Month-to-month" {
			logit += 2.5
		}
		if c.PaymentMethod == "Electronic check" {
			logit += 1
		}
		if rng.Float64() < 1/(1+math.Exp(-logit)) {
			y[i] = 1
		}
		customers[i] = c
	}
	return customers, y
}

// trainedModel trains a logistic pipeline once per test binary.
func trainedModel(t *testing.T) *ml.Pipeline {
	t.Helper()
	modelOnce.Do(func() {
		customers, y := syntheticCustomers(500, 31)
		cfg := ml.DefaultTrainConfig()
		cfg.Forest.Trees = 10
		cfg.Forest.MaxDepth = 4
		models, err := ml.TrainModels(context.Background(), dataset.FromCustomers(customers), y, cfg)
		if err != nil {
			modelErr = err
			return
		}
		testModel = models[ml.ModelLogisticRegression]
	})
	require.NoError(t, modelErr)
	return testModel
}

type testEnv struct {
	server   *Server
	metrics  *metrics.Metrics
	store    *storage.Store
	versions *ml.ModelManager
	artifact string
}

func newTestEnv(t *testing.T, withStore bool) *testEnv {
	t.Helper()
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	cfg := Config{
		Predictor: ml.NewPredictorFromPipeline(trainedModel(t), metrics.NewWrapper(m)),
		Metrics:   m,
		Batch:     explain.BatchOptions{SampleRows: 30, BackgroundRows: 5, Seed: 42},
	}

	env := &testEnv{metrics: m}
	if withStore {
		store, err := storage.New(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		cfg.Store = store
		env.store = store

		modelsDir := filepath.Join(t.TempDir(), "models")
		env.artifact = filepath.Join(modelsDir, "churn_model.json")
		require.NoError(t, ml.SavePipeline(env.artifact, trainedModel(t)))

		versions, err := ml.NewModelManager(modelsDir)
		require.NoError(t, err)
		v, err := versions.AddVersion(ml.ModelLogisticRegression, env.artifact, ml.ModelMetrics{Accuracy: 0.8})
		require.NoError(t, err)
		require.NoError(t, versions.ActivateVersion(v.Version))
		cfg.Versions = versions
		env.versions = versions
	}

	env.server = NewServer(cfg)
	return env
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(t *testing.T, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func uploadRequest(t *testing.T, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/predict-csv", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// customersCSV renders customers as an export-style file with alias headers
// and a Churn column.
func customersCSV(customers []dataset.Customer, y []int) []byte {
	var b strings.Builder
	b.WriteString("Customer ID,Age,Gender,Tenure in Months,Monthly Charge,Contract,Payment Method,Total Charges,Churn\n")
	for i, c := range customers {
		label := "No"
		if y[i] == 1 {
			label = "Yes"
		}
		fmt.Fprintf(&b, "%s,%d,%s,%d,%.2f,%s,%s,%.2f,%s\n",
			c.CustomerID, c.Age, c.Gender, c.Tenure, c.MonthlyCharges, c.Contract, c.PaymentMethod, c.TotalCharges, label)
	}
	return []byte(b.String())
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func validCustomer() map[string]any {
	return map[string]any{
		"Age":            58,
		"Gender":         "Female",
		"Tenure":         4,
		"MonthlyCharges": 119.9,
		"Contract":       "Month-to-month",
		"PaymentMethod":  "Electronic check",
		"TotalCharges":   420.5,
	}
}
