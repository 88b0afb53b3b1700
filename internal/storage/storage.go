// Package storage provides persistent prediction history for the churn
// service. It uses BoltDB as the underlying storage engine to keep an audit
// trail of single-customer predictions and scored CSV batches.
//
// Keys are zero-padded nanosecond timestamps followed by a bucket sequence,
// so cursor order is chronological and range queries are simple seeks.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"churn-service/internal/dataset"

	"go.etcd.io/bbolt"
)

const (
	dbFileName        = "churn-history.db"
	predictionsBucket = "predictions" // Bucket name for single-customer predictions
	batchesBucket     = "batches"     // Bucket name for scored CSV batches
)

// Store provides persistent storage for prediction history using BoltDB.
type Store struct {
	db *bbolt.DB
}

// PredictionRecord is one audited single-customer prediction.
type PredictionRecord struct {
	ID           string           `json:"id"`
	Timestamp    time.Time        `json:"timestamp"`
	Endpoint     string           `json:"endpoint"`
	Customer     dataset.Customer `json:"customer"`
	Probability  float64          `json:"probability"`
	RiskLevel    string           `json:"risk_level"`
	ModelName    string           `json:"model_name,omitempty"`
	ModelVersion string           `json:"model_version,omitempty"`
}

// New creates a new storage instance under dataPath, creating the directory
// and buckets when needed.
func New(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataPath, dbFileName)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(predictionsBucket)); err != nil {
			return fmt.Errorf("create predictions bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(batchesBucket)); err != nil {
			return fmt.Errorf("create batches bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database. Closing twice is a no-op.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// timeKey renders ts as a fixed-width key prefix that sorts chronologically.
func timeKey(ts time.Time) []byte {
	return []byte(fmt.Sprintf("%020d", ts.UnixNano()))
}

// put stores value under a fresh chronological key and returns the key.
func (s *Store) put(bucketName string, ts time.Time, value any) (string, error) {
	var key string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}
		key = fmt.Sprintf("%s_%08d", timeKey(ts), seq)

		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal %s record: %w", bucketName, err)
		}
		return b.Put([]byte(key), data)
	})
	return key, err
}

// StorePrediction appends a prediction to the history and returns its id.
// A zero timestamp is replaced with the current time.
func (s *Store) StorePrediction(record PredictionRecord) (string, error) {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	return s.put(predictionsBucket, record.Timestamp, &record)
}

// recent walks bucketName from newest to oldest and decodes up to limit
// records. Malformed records are skipped.
func recent[T any](s *Store, bucketName string, limit int, setID func(*T, string)) ([]T, error) {
	records := []T{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketName)).Cursor()
		for k, v := c.Last(); k != nil && (limit <= 0 || len(records) < limit); k, v = c.Prev() {
			var record T
			if err := json.Unmarshal(v, &record); err != nil {
				continue
			}
			setID(&record, string(k))
			records = append(records, record)
		}
		return nil
	})
	return records, err
}

// inRange decodes records of bucketName stored between start and end,
// both inclusive, oldest first.
func inRange[T any](s *Store, bucketName string, start, end time.Time, setID func(*T, string)) ([]T, error) {
	records := []T{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketName)).Cursor()
		startKey := timeKey(start)
		endKey := timeKey(end)

		for k, v := c.Seek(startKey); k != nil && compareKeys(k[:len(endKey)], endKey) <= 0; k, v = c.Next() {
			var record T
			if err := json.Unmarshal(v, &record); err != nil {
				continue // Skip malformed records
			}
			setID(&record, string(k))
			records = append(records, record)
		}
		return nil
	})
	return records, err
}

func setPredictionID(r *PredictionRecord, id string) { r.ID = id }

// RecentPredictions returns up to limit predictions, newest first. A
// non-positive limit returns everything.
func (s *Store) RecentPredictions(limit int) ([]PredictionRecord, error) {
	return recent(s, predictionsBucket, limit, setPredictionID)
}

// GetPredictions returns predictions made between start and end inclusive,
// oldest first.
func (s *Store) GetPredictions(start, end time.Time) ([]PredictionRecord, error) {
	return inRange(s, predictionsBucket, start, end, setPredictionID)
}

func compareKeys(a, b []byte) int {
	return bytes.Compare(a, b)
}
