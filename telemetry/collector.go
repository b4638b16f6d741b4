package telemetry

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Collector persists analysis outcomes and exposes aggregate stats via
// SQLite. It is the durable counterpart to the engine's in-memory decision
// history; the engine works fine without it.
type Collector struct {
	db *sql.DB
}

// AnalysisEvent captures the outcome of one Analyze call.
type AnalysisEvent struct {
	ID              string
	Timestamp       time.Time
	TaskType        string
	SelectedBackend string
	FallbackChain   []string
	Confidence      float64
	Agreement       *float64
	LatencyMs       int
	Succeeded       bool
}

// Stats holds aggregate telemetry across recorded events.
type Stats struct {
	TotalRequests int
	Succeeded     int
	ByBackend     map[string]int
	FallbackCount int
	AvgConfidence float64
	AvgAgreement  float64
}

// NewCollector opens (or creates) the SQLite database at dbPath and ensures
// the analysis_events table exists.
func NewCollector(dbPath string) (*Collector, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS analysis_events (
		id TEXT PRIMARY KEY,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		task_type TEXT,
		selected_backend TEXT,
		fallback_chain TEXT,
		confidence REAL,
		agreement REAL,
		latency_ms INTEGER,
		succeeded INTEGER
	)`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Collector{db: db}, nil
}

// Close releases the database connection.
func (c *Collector) Close() error {
	return c.db.Close()
}

// RecordAnalysis inserts one analysis event.
func (c *Collector) RecordAnalysis(e AnalysisEvent) error {
	chainJSON, _ := json.Marshal(e.FallbackChain)

	var agreement interface{}
	if e.Agreement != nil {
		agreement = *e.Agreement
	}

	succeeded := 0
	if e.Succeeded {
		succeeded = 1
	}

	_, err := c.db.Exec(
		`INSERT INTO analysis_events
			(id, task_type, selected_backend, fallback_chain, confidence, agreement, latency_ms, succeeded)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TaskType, e.SelectedBackend, string(chainJSON),
		e.Confidence, agreement, e.LatencyMs, succeeded,
	)
	return err
}

// RecentEvents returns up to limit events, newest first.
func (c *Collector) RecentEvents(limit int) ([]AnalysisEvent, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := c.db.Query(
		`SELECT id, timestamp, task_type, selected_backend, fallback_chain,
		        confidence, agreement, latency_ms, succeeded
		 FROM analysis_events ORDER BY timestamp DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []AnalysisEvent
	for rows.Next() {
		var (
			e         AnalysisEvent
			chainJSON string
			agreement sql.NullFloat64
			succeeded int
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.TaskType, &e.SelectedBackend,
			&chainJSON, &e.Confidence, &agreement, &e.LatencyMs, &succeeded); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(chainJSON), &e.FallbackChain)
		if agreement.Valid {
			v := agreement.Float64
			e.Agreement = &v
		}
		e.Succeeded = succeeded == 1
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetStats returns aggregate stats. When backendFilter is non-empty,
// TotalRequests, Succeeded, and the averages are scoped to that backend;
// ByBackend and FallbackCount always cover all events.
func (c *Collector) GetStats(backendFilter string) (*Stats, error) {
	stats := &Stats{ByBackend: make(map[string]int)}

	query := `SELECT COUNT(*),
	                 COALESCE(SUM(succeeded), 0),
	                 COALESCE(AVG(confidence), 0),
	                 COALESCE(AVG(agreement), 0)
	          FROM analysis_events`
	args := []interface{}{}
	if backendFilter != "" {
		query += ` WHERE selected_backend = ?`
		args = append(args, backendFilter)
	}

	if err := c.db.QueryRow(query, args...).Scan(
		&stats.TotalRequests, &stats.Succeeded,
		&stats.AvgConfidence, &stats.AvgAgreement); err != nil {
		return nil, err
	}

	rows, err := c.db.Query(
		`SELECT selected_backend, COUNT(*) FROM analysis_events
		 WHERE selected_backend != '' GROUP BY selected_backend`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var backend string
		var count int
		if err := rows.Scan(&backend, &count); err != nil {
			return nil, err
		}
		stats.ByBackend[backend] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Events whose fallback chain is non-empty involved at least one failover.
	if err := c.db.QueryRow(
		`SELECT COUNT(*) FROM analysis_events
		 WHERE fallback_chain != '[]' AND fallback_chain != 'null'`,
	).Scan(&stats.FallbackCount); err != nil {
		return nil, err
	}

	return stats, nil
}
