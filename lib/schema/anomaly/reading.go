// Copyright 2026 The Sentinel Authors
// SPDX-License-Identifier: Apache-2.0

package anomaly

import "time"

// Label is the detector's verdict carried by a raw event. The ingest
// service rejects any other value.
type Label string

const (
	LabelNormal    Label = "normal"
	LabelAnomalous Label = "anomalous"
)

// Valid reports whether the label is one of the two known values.
func (l Label) Valid() bool {
	return l == LabelNormal || l == LabelAnomalous
}

// Status is the operational state derived from a reading's label and
// score.
type Status string

const (
	StatusNormal   Status = "normal"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// Severity is the urgency bucket derived alongside Status. The two are
// correlated but independently consumed: dashboards color by status,
// alert routing keys on severity.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// EventPayload is the JSON object sensor nodes publish on the
// inference topic. Score is the model's anomaly score; it normally
// falls in [0,1] but out-of-range values are accepted rather than
// dropped (sensor noise should not discard signal).
type EventPayload struct {
	DeviceID string  `json:"device_id"`
	Label    Label   `json:"label"`
	Score    float64 `json:"score"`
}

// Classification is a validated, classified event that has not yet
// been persisted. ObservedAt is assigned at classification time; the
// store assigns the id and recorded time on append.
type Classification struct {
	DeviceID   string    `json:"device_id"`
	Label      Label     `json:"label"`
	Score      float64   `json:"score"`
	Status     Status    `json:"status"`
	Severity   Severity  `json:"severity"`
	ObservedAt time.Time `json:"timestamp"`
}

// Reading is one classified, durably stored anomaly event. Readings
// are immutable: rows are never updated, and deletion happens only
// through the bulk retention sweep.
//
// The JSON field names match the persisted column names so that API
// responses mirror the storage schema: ObservedAt is "timestamp",
// RecordedAt is "created_at".
type Reading struct {
	ID         int64     `json:"id"`
	DeviceID   string    `json:"device_id"`
	Label      Label     `json:"label"`
	Score      float64   `json:"score"`
	Status     Status    `json:"status"`
	Severity   Severity  `json:"severity"`
	ObservedAt time.Time `json:"timestamp"`
	RecordedAt time.Time `json:"created_at"`
}

// LiveEvent is the frame pushed to websocket subscribers for each
// accepted reading.
type LiveEvent struct {
	ID        int64     `json:"id"`
	DeviceID  string    `json:"device_id"`
	Label     Label     `json:"label"`
	Score     float64   `json:"score"`
	Status    Status    `json:"status"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

// DailyAggregate is one row of the daily rollup, keyed by calendar
// date (UTC, "2006-01-02"). It is recomputed in full from the durable
// log on every accepted reading for that date, so repeated refreshes
// converge regardless of ordering.
//
// Aggregates are a historical ledger: the retention sweep deletes raw
// readings without revising the aggregates of swept dates.
type DailyAggregate struct {
	Date          string  `json:"date"`
	TotalReadings int64   `json:"total_readings"`
	NormalCount   int64   `json:"normal_count"`
	WarningCount  int64   `json:"warning_count"`
	CriticalCount int64   `json:"critical_count"`
	AvgScore      float64 `json:"avg_score"`
}

// TrailingStats is the live aggregate over the configured trailing
// window, computed directly from the durable log on every request.
// LastUpdate is the newest observed time in the window; zero when the
// window is empty.
type TrailingStats struct {
	Total      int64     `json:"total"`
	Normal     int64     `json:"normal"`
	Warning    int64     `json:"warning"`
	Critical   int64     `json:"critical"`
	AvgScore   float64   `json:"avg_score"`
	LastUpdate time.Time `json:"last_update"`
}

// DeviceStats is the per-device slice of the trailing window.
type DeviceStats struct {
	DeviceID      string    `json:"device_id"`
	TotalReadings int64     `json:"total_readings"`
	CriticalCount int64     `json:"critical_count"`
	WarningCount  int64     `json:"warning_count"`
	AvgScore      float64   `json:"avg_score"`
	LastSeen      time.Time `json:"last_seen"`
}
