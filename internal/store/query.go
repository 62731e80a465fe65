package store

import (
	"context"
	"fmt"
)

// Counts summarizes persisted outcomes.
type Counts struct {
	Total     int64 `json:"total" yaml:"total"`
	Successes int64 `json:"successes" yaml:"successes"`
	Failures  int64 `json:"failures" yaml:"failures"`
}

// Count returns row totals split by outcome.
func (s *Store) Count(ctx context.Context) (Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c Counts
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) FROM metrics`)
	if err := row.Scan(&c.Total, &c.Successes); err != nil {
		return Counts{}, fmt.Errorf("count metrics: %w", err)
	}
	c.Failures = c.Total - c.Successes
	return c, nil
}

// CountByHost groups persisted outcomes by the ip column.
func (s *Store) CountByHost(ctx context.Context) (map[string]Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT ip, COUNT(*), COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) FROM metrics GROUP BY ip`)
	if err != nil {
		return nil, fmt.Errorf("count metrics by host: %w", err)
	}
	defer rows.Close()

	result := make(map[string]Counts)
	for rows.Next() {
		var host string
		var c Counts
		if err := rows.Scan(&host, &c.Total, &c.Successes); err != nil {
			return nil, fmt.Errorf("count metrics by host: %w", err)
		}
		c.Failures = c.Total - c.Successes
		result[host] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count metrics by host: %w", err)
	}
	return result, nil
}

// Records returns every row in insertion order. Intended for tests and small
// exports; it loads the whole table.
func (s *Store) Records(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT timestamp, ip, payload, success FROM metrics ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("read metrics: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var payload string
		if err := rows.Scan(&rec.Timestamp, &rec.Host, &payload, &rec.Success); err != nil {
			return nil, fmt.Errorf("read metrics: %w", err)
		}
		rec.Payload = []byte(payload)
		out = append(out, rec)
	}
	return out, rows.Err()
}
