// Package history keeps one summary per finished run in a bbolt file so
// past runs can be listed with "yalt history".
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.etcd.io/bbolt"
)

const bucketRuns = "runs"

// ErrNotFound is returned by Get for unknown ids.
var ErrNotFound = errors.New("run not found")

// Entry is a persisted run summary. IDs are ULIDs, so key order is start
// order.
type Entry struct {
	ID               string    `json:"id"`
	StartedAt        time.Time `json:"started_at"`
	Targets          []string  `json:"targets"`
	Rate             float64   `json:"rate"`
	DurationSeconds  uint64    `json:"duration_seconds"`
	Sent             uint64    `json:"sent"`
	AverageRPS       float64   `json:"average_rps"`
	Successes        int64     `json:"successes"`
	Failures         int64     `json:"failures"`
	P99LatencyMs     float64   `json:"p99_latency_ms"`
	Database         string    `json:"database"`
	ThresholdsPassed bool      `json:"thresholds_passed"`
	Interrupted      bool      `json:"interrupted,omitempty"`
}

type Store struct {
	db *bbolt.DB
}

// Open opens or creates the history file at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketRuns))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init history %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores e, assigning an ID derived from StartedAt when it has none.
func (s *Store) Save(e Entry) (Entry, error) {
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now()
	}
	if e.ID == "" {
		id, err := ulid.New(ulid.Timestamp(e.StartedAt), ulid.DefaultEntropy())
		if err != nil {
			return Entry{}, fmt.Errorf("generate run id: %w", err)
		}
		e.ID = id.String()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return Entry{}, err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketRuns)).Put([]byte(e.ID), data)
	})
	if err != nil {
		return Entry{}, fmt.Errorf("save run %s: %w", e.ID, err)
	}
	return e, nil
}

// List returns up to limit entries, newest first. limit <= 0 returns all.
func (s *Store) List(limit int) ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketRuns)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode run %s: %w", k, err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	return entries, err
}

func (s *Store) Get(id string) (Entry, error) {
	var e Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(bucketRuns)).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &e)
	})
	return e, err
}
