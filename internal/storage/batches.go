package storage

import "time"

// BatchRecord summarises one scored CSV upload.
type BatchRecord struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	FileName        string    `json:"file_name"`
	Rows            int       `json:"rows"`
	ProbabilityMean float64   `json:"probability_mean"`
	HighRiskCount   int       `json:"high_risk_count"`
	RiskLevelGlobal string    `json:"risk_level_global"`
	DriftAlerts     int       `json:"drift_alerts"`
	Accuracy        *float64  `json:"accuracy,omitempty"`
	ModelVersion    string    `json:"model_version,omitempty"`
}

// StoreBatch appends a batch summary to the history and returns its id.
func (s *Store) StoreBatch(record BatchRecord) (string, error) {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	return s.put(batchesBucket, record.Timestamp, &record)
}

func setBatchID(r *BatchRecord, id string) { r.ID = id }

// RecentBatches returns up to limit batch summaries, newest first.
func (s *Store) RecentBatches(limit int) ([]BatchRecord, error) {
	return recent(s, batchesBucket, limit, setBatchID)
}

// GetBatches returns batches scored between start and end inclusive.
func (s *Store) GetBatches(start, end time.Time) ([]BatchRecord, error) {
	return inRange(s, batchesBucket, start, end, setBatchID)
}
