package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"churn-service/internal/dataset"
	"churn-service/internal/explain"
	"churn-service/internal/ml"
	"churn-service/internal/storage"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// ModelNotFoundDetail is returned when no trained artifact exists yet.
const ModelNotFoundDetail = "Model not found. Run training first: churntrain"

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// model returns the loaded pipeline or writes the error response.
func (s *Server) model(w http.ResponseWriter) (*ml.Pipeline, bool) {
	model, err := s.predictor.Model()
	if err != nil {
		s.respondModelError(w, err)
		return nil, false
	}
	return model, true
}

func (s *Server) respondModelError(w http.ResponseWriter, err error) {
	if errors.Is(err, ml.ErrModelNotFound) {
		respondDetail(w, http.StatusInternalServerError, ModelNotFoundDetail)
		return
	}
	respondDetail(w, http.StatusInternalServerError, fmt.Sprintf("Prediction failed: %v", err))
}

func respondValidation(w http.ResponseWriter, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": verr.Error(),
			"errors": verr.Errors,
		})
		return
	}
	respondDetail(w, http.StatusUnprocessableEntity, err.Error())
}

type predictResponse struct {
	ChurnProbability float64 `json:"churn_probability"`
	RiskPercent      string  `json:"risk_percent"`
	RiskLevel        string  `json:"risk_level"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	customer, err := decodeCustomer(r.Body)
	if err != nil {
		respondValidation(w, err)
		return
	}

	proba, percent, err := s.predictor.PredictChurnProba(customer)
	if err != nil {
		s.respondModelError(w, err)
		return
	}

	s.audit(r, customer, proba)
	respondJSON(w, http.StatusOK, predictResponse{
		ChurnProbability: proba,
		RiskPercent:      percent,
		RiskLevel:        explain.RiskLevel(proba),
	})
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	customer, err := decodeCustomer(r.Body)
	if err != nil {
		respondValidation(w, err)
		return
	}

	model, ok := s.model(w)
	if !ok {
		return
	}

	result, err := explain.ExplainClient(r.Context(), model, customer)
	switch {
	case err == nil:
	case errors.Is(err, explain.ErrUnsupportedModel), errors.Is(err, explain.ErrAttribution):
		log.Error().Err(err).Msg("Explanation failed")
		respondDetail(w, http.StatusInternalServerError, err.Error())
		return
	default:
		log.Error().Err(err).Msg("Explanation failed")
		respondDetail(w, http.StatusInternalServerError, fmt.Sprintf("Explanation failed. Details: %v", err))
		return
	}

	s.audit(r, customer, result.Probability)
	respondJSON(w, http.StatusOK, result)
}

type csvSummary struct {
	AvgProbability float64 `json:"avg_probability"`
	HighRiskCount  int     `json:"high_risk_count"`
	HighRiskRate   float64 `json:"high_risk_rate"`
}

type csvResponse struct {
	Filename    string          `json:"filename"`
	RowCount    int             `json:"row_count"`
	Summary     csvSummary      `json:"summary"`
	Predictions []actionableRow `json:"predictions"`
	Rows        []actionableRow `json:"rows"`
	DataDrift   []ml.DriftAlert `json:"data_drift"`
	*explain.BatchInsights
}

func (s *Server) handlePredictCSV(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		verr := &ValidationError{}
		verr.add("missing", "file", "Field required")
		respondValidation(w, verr)
		return
	}
	defer file.Close()

	if header.Filename == "" || !strings.EqualFold(filepath.Ext(header.Filename), ".csv") {
		s.rejectCSV(w, "Please upload a .csv file.")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.rejectCSV(w, fmt.Sprintf("Invalid CSV format: %v", err))
		return
	}
	if len(data) == 0 {
		s.rejectCSV(w, "Uploaded file is empty.")
		return
	}

	text, err := decodeUpload(data)
	if err != nil {
		s.rejectCSV(w, "Could not decode CSV file.")
		return
	}

	raw, err := dataset.ReadCSV(strings.NewReader(text))
	if err != nil {
		s.rejectCSV(w, fmt.Sprintf("Invalid CSV format: %v", err))
		return
	}
	if raw.Empty() {
		s.rejectCSV(w, "CSV has no rows.")
		return
	}

	prepared, err := prepareBatch(raw)
	if err != nil {
		s.rejectCSV(w, err.Error())
		return
	}

	model, ok := s.model(w)
	if !ok {
		return
	}
	probabilities, err := s.predictor.PredictProba(prepared.features)
	if err != nil {
		s.respondModelError(w, err)
		return
	}
	s.metrics.CSVRowsScored.Add(float64(len(probabilities)))

	rows := actionableRows(prepared.standardized, probabilities)
	insights := explain.BuildBatchInsights(r.Context(), model, prepared.features, probabilities, s.batch)
	if insights.HeuristicDrivers {
		s.metrics.MLFallbackUse.Inc()
	}

	drift := model.Baseline.Detect(prepared.features, s.driftThreshold)
	for _, alert := range drift {
		s.metrics.RecordDrift(alert.FeatureName, alert.Severity)
	}
	if drift == nil {
		drift = []ml.DriftAlert{}
	}

	var accuracy *float64
	if len(prepared.labels) == len(probabilities) {
		s.predictor.ObserveAccuracy(prepared.labels, probabilities)
		acc := ml.ScoreProbabilities(prepared.labels, probabilities).Accuracy
		accuracy = &acc
	}

	log.Info().
		Str("file", header.Filename).
		Int("rows", len(probabilities)).
		Int("high_risk", insights.HighRiskCount).
		Int("drift_alerts", len(drift)).
		Bool("heuristic_drivers", insights.HeuristicDrivers).
		Msg("Scored CSV upload")

	s.auditBatch(header.Filename, insights, len(drift), accuracy)

	respondJSON(w, http.StatusOK, csvResponse{
		Filename: header.Filename,
		RowCount: prepared.features.Rows(),
		Summary: csvSummary{
			AvgProbability: insights.ProbabilityMean,
			HighRiskCount:  insights.HighRiskCount,
			HighRiskRate:   insights.HighRiskRate,
		},
		Predictions:   rows,
		Rows:          rows,
		DataDrift:     drift,
		BatchInsights: insights,
	})
}

func (s *Server) rejectCSV(w http.ResponseWriter, detail string) {
	s.metrics.CSVRejected.Inc()
	respondDetail(w, http.StatusBadRequest, detail)
}

type modelInfoResponse struct {
	ModelName         string              `json:"model_name"`
	ModelPath         string              `json:"model_path,omitempty"`
	LoadedAt          time.Time           `json:"loaded_at"`
	InputFeatures     []string            `json:"input_features"`
	FeatureNames      []string            `json:"feature_names"`
	FeatureImportance []ml.FeatureScore   `json:"feature_importance"`
	ActiveVersion     *ml.ModelVersion    `json:"active_version,omitempty"`
	DriftBaseline     *driftBaselineBrief `json:"drift_baseline,omitempty"`
	ErrorRate         float64             `json:"error_rate"`
}

type driftBaselineBrief struct {
	SampleCount int       `json:"sample_count"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	model, ok := s.model(w)
	if !ok {
		return
	}
	pre, _, ok := model.Steps()
	if !ok {
		respondDetail(w, http.StatusInternalServerError, explain.ErrUnsupportedModel.Error())
		return
	}

	info := modelInfoResponse{
		ModelName:         model.Name,
		ModelPath:         s.predictor.ModelPath(),
		LoadedAt:          s.predictor.LoadedAt(),
		InputFeatures:     pre.InputColumns(),
		FeatureNames:      pre.FeatureNamesOut(),
		FeatureImportance: []ml.FeatureScore{},
		ErrorRate:         s.metrics.GetErrorRate(),
	}
	if importances, err := model.FeatureImportances(); err == nil {
		info.FeatureImportance = ml.RankFeatures(importances)
	}
	if s.versions != nil {
		info.ActiveVersion = s.versions.CurrentVersion()
	}
	if model.Baseline != nil {
		info.DriftBaseline = &driftBaselineBrief{SampleCount: model.Baseline.SampleCount, CreatedAt: model.Baseline.CreatedAt}
	}

	respondJSON(w, http.StatusOK, info)
}

// historyQuery holds the /predictions/history parameters. Since and Until
// are RFC 3339 timestamps; when either is set the store is read by range.
type historyQuery struct {
	Limit  int       `json:"limit" validate:"gte=1,lte=1000"`
	Since  time.Time `json:"since"`
	Until  time.Time `json:"until" validate:"gtefield=Since"`
	ranged bool
}

func parseHistoryQuery(r *http.Request) (historyQuery, error) {
	q := historyQuery{Limit: defaultHistory, Since: time.Unix(0, 0).UTC(), Until: time.Now().UTC()}
	verr := &ValidationError{}
	query := r.URL.Query()

	if v := query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			verr.add("int_parsing", "limit", "Input should be a valid integer")
		}
		q.Limit = n
	}
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"since", &q.Since}, {"until", &q.Until}} {
		v := query.Get(p.name)
		if v == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			verr.add("datetime_parsing", p.name, "Input should be a valid RFC 3339 datetime")
			continue
		}
		*p.dst = ts
		q.ranged = true
	}

	if err := validate.Struct(q); err != nil {
		fieldErrors(err, verr)
	}
	if len(verr.Errors) > 0 {
		for i := range verr.Errors {
			verr.Errors[i].Loc[0] = "query"
		}
		return q, verr
	}
	return q, nil
}

// newestFirst reverses an oldest-first range and keeps the newest limit
// records.
func newestFirst[T any](records []T, limit int) []T {
	out := make([]T, 0, min(len(records), limit))
	for i := len(records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, records[i])
	}
	return out
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondDetail(w, http.StatusNotFound, "Prediction history is not enabled. Set STORE_PATH to record predictions.")
		return
	}

	q, err := parseHistoryQuery(r)
	if err != nil {
		respondValidation(w, err)
		return
	}

	var (
		predictions []storage.PredictionRecord
		batches     []storage.BatchRecord
	)
	if q.ranged {
		predictions, err = s.store.GetPredictions(q.Since, q.Until)
	} else {
		predictions, err = s.store.RecentPredictions(q.Limit)
	}
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read prediction history: %v", err))
		return
	}
	if q.ranged {
		batches, err = s.store.GetBatches(q.Since, q.Until)
	} else {
		batches, err = s.store.RecentBatches(q.Limit)
	}
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read batch history: %v", err))
		return
	}
	if q.ranged {
		predictions = newestFirst(predictions, q.Limit)
		batches = newestFirst(batches, q.Limit)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"predictions": predictions,
		"batches":     batches,
	})
}

func (s *Server) activeVersion() (name, version string) {
	if s.versions == nil {
		return "", ""
	}
	if v := s.versions.CurrentVersion(); v != nil {
		return v.ModelName, v.Version
	}
	return "", ""
}

// audit records a single-customer prediction when history is enabled.
// Failures are logged and never fail the request.
func (s *Server) audit(r *http.Request, c dataset.Customer, proba float64) {
	if s.store == nil {
		return
	}
	name, version := s.activeVersion()
	_, err := s.store.StorePrediction(storage.PredictionRecord{
		Endpoint:     r.URL.Path,
		Customer:     c,
		Probability:  proba,
		RiskLevel:    explain.RiskLevel(proba),
		ModelName:    name,
		ModelVersion: version,
	})
	if err != nil {
		s.metrics.AuditWriteFails.Inc()
		log.Warn().Err(err).Str("request_id", middleware.GetReqID(r.Context())).Msg("Failed to record prediction")
	}
}

func (s *Server) auditBatch(fileName string, insights *explain.BatchInsights, driftAlerts int, accuracy *float64) {
	if s.store == nil {
		return
	}
	_, version := s.activeVersion()
	_, err := s.store.StoreBatch(storage.BatchRecord{
		FileName:        fileName,
		Rows:            insights.NRows,
		ProbabilityMean: insights.ProbabilityMean,
		HighRiskCount:   insights.HighRiskCount,
		RiskLevelGlobal: insights.RiskLevelGlobal,
		DriftAlerts:     driftAlerts,
		Accuracy:        accuracy,
		ModelVersion:    version,
	})
	if err != nil {
		s.metrics.AuditWriteFails.Inc()
		log.Warn().Err(err).Str("file", fileName).Msg("Failed to record batch")
	}
}
