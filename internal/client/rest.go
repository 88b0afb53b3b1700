package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"churn-service/internal/dataset"
	"churn-service/internal/explain"

	"github.com/go-resty/resty/v2"
)

// Client talks to a running churn API.
type Client struct {
	base string
	rest *resty.Client
}

func NewREST(base string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(60 * time.Second) // batch scoring can be slow
	}
	r.SetHeader("Accept", "application/json")
	return &Client{base: strings.TrimRight(base, "/"), rest: r}
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("churn api: status %d", e.Status)
	}
	return fmt.Sprintf("churn api: %d %s", e.Status, e.Detail)
}

type errorBody struct {
	Detail string `json:"detail"`
}

// Prediction is the answer of POST /predict.
type Prediction struct {
	ChurnProbability float64 `json:"churn_probability"`
	RiskPercent      string  `json:"risk_percent"`
	RiskLevel        string  `json:"risk_level"`
}

// BatchSummary is the headline of a scored CSV upload.
type BatchSummary struct {
	AvgProbability float64 `json:"avg_probability"`
	HighRiskCount  int     `json:"high_risk_count"`
	HighRiskRate   float64 `json:"high_risk_rate"`
}

// CustomerID is an identifier the API reports as a JSON string or number.
type CustomerID string

func (id *CustomerID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = CustomerID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("customer id: %w", err)
	}
	*id = CustomerID(n.String())
	return nil
}

// BatchRow is one actionable customer of a scored upload.
type BatchRow struct {
	CustomerID       CustomerID `json:"Customer ID"`
	ChurnProbability float64    `json:"churn_probability"`
	ChurnRiskPercent string     `json:"churn_risk_percent"`
	RiskLevel        string     `json:"risk_level"`
	Contract         string     `json:"Contract"`
	PaymentMethod    string     `json:"PaymentMethod"`
}

// BatchResult is the answer of POST /predict-csv. Fields the CLI does not
// print are left out.
type BatchResult struct {
	Filename         string                 `json:"filename"`
	RowCount         int                    `json:"row_count"`
	Summary          BatchSummary           `json:"summary"`
	Rows             []BatchRow             `json:"rows"`
	RiskLevelGlobal  string                 `json:"risk_level_global"`
	GlobalTopDrivers []explain.GlobalDriver `json:"global_top_drivers"`
	Recommendations  []string               `json:"recommendations"`
	DataDrift        []map[string]any       `json:"data_drift"`
}

// Health returns the status reported by GET /health.
func (c *Client) Health() (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.do(c.rest.R().SetResult(&out), http.MethodGet, "/health"); err != nil {
		return "", err
	}
	return out.Status, nil
}

// Predict scores one customer.
func (c *Client) Predict(customer dataset.Customer) (*Prediction, error) {
	out := &Prediction{}
	if err := c.do(c.rest.R().SetBody(customer).SetResult(out), http.MethodPost, "/predict"); err != nil {
		return nil, err
	}
	return out, nil
}

// Explain returns the drivers behind one customer's score.
func (c *Client) Explain(customer dataset.Customer) (*explain.Explanation, error) {
	out := &explain.Explanation{}
	if err := c.do(c.rest.R().SetBody(customer).SetResult(out), http.MethodPost, "/explain"); err != nil {
		return nil, err
	}
	return out, nil
}

// UploadCSV scores the customers in the CSV file at path.
func (c *Client) UploadCSV(path string) (*BatchResult, error) {
	out := &BatchResult{}
	req := c.rest.R().
		SetFile("file", path).
		SetResult(out)
	if err := c.do(req, http.MethodPost, "/predict-csv"); err != nil {
		return nil, fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}
	return out, nil
}

// ModelInfo returns the raw GET /model/info document.
func (c *Client) ModelInfo() (map[string]any, error) {
	out := map[string]any{}
	if err := c.do(c.rest.R().SetResult(&out), http.MethodGet, "/model/info"); err != nil {
		return nil, err
	}
	return out, nil
}

// Versions returns the raw GET /model/versions document.
func (c *Client) Versions() (map[string]any, error) {
	out := map[string]any{}
	if err := c.do(c.rest.R().SetResult(&out), http.MethodGet, "/model/versions"); err != nil {
		return nil, err
	}
	return out, nil
}

// Rollback asks the API to serve the previous model version.
func (c *Client) Rollback() (map[string]any, error) {
	out := map[string]any{}
	if err := c.do(c.rest.R().SetResult(&out), http.MethodPost, "/model/rollback"); err != nil {
		return nil, err
	}
	return out, nil
}

// Reload asks the API to load the active model version again.
func (c *Client) Reload() (map[string]any, error) {
	out := map[string]any{}
	if err := c.do(c.rest.R().SetResult(&out), http.MethodPost, "/model/reload"); err != nil {
		return nil, err
	}
	return out, nil
}

// History returns the raw GET /predictions/history document.
func (c *Client) History(limit int) (map[string]any, error) {
	out := map[string]any{}
	req := c.rest.R().SetResult(&out)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	if err := c.do(req, http.MethodGet, "/predictions/history"); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(req *resty.Request, method, path string) error {
	apiErr := &errorBody{}
	resp, err := req.SetError(apiErr).Execute(method, c.base+path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		detail := apiErr.Detail
		if detail == "" {
			detail = strings.TrimSpace(resp.String())
		}
		return &APIError{Status: resp.StatusCode(), Detail: detail}
	}
	return nil
}
