// Copyright 2026 The Sentinel Authors
// SPDX-License-Identifier: Apache-2.0

// Package classify turns raw sensor events into classified readings.
//
// Classification is a pure function of the payload: no clock, no
// store, no side effects. The ingest coordinator stamps the observed
// time; this package only decides status and severity.
package classify

import (
	"fmt"
	"time"

	"github.com/sentinel-works/sentinel/lib/schema/anomaly"
)

// Score thresholds for anomalous readings. Both boundaries belong to
// the lower-severity bucket: a score of exactly 0.8 is a warning, a
// score of exactly 0.5 is normal.
const (
	criticalThreshold = 0.8
	warningThreshold  = 0.5
)

// Classify validates a raw event payload and derives its status and
// severity. Returns an error wrapping [anomaly.ErrInvalidPayload] when
// device_id is empty or the label is unknown.
//
// Scores outside [0,1] are accepted as-is: clamping or rejecting them
// would drop signal on sensor noise, and consumers clamp for display.
func Classify(payload anomaly.EventPayload, observedAt time.Time) (anomaly.Classification, error) {
	if payload.DeviceID == "" {
		return anomaly.Classification{}, fmt.Errorf("%w: device_id is required", anomaly.ErrInvalidPayload)
	}
	if !payload.Label.Valid() {
		return anomaly.Classification{}, fmt.Errorf("%w: unknown label %q", anomaly.ErrInvalidPayload, payload.Label)
	}

	status, severity := grade(payload.Label, payload.Score)

	return anomaly.Classification{
		DeviceID:   payload.DeviceID,
		Label:      payload.Label,
		Score:      payload.Score,
		Status:     status,
		Severity:   severity,
		ObservedAt: observedAt,
	}, nil
}

// grade maps a label and score onto the status/severity pair. Normal
// readings grade normal/low regardless of score.
func grade(label anomaly.Label, score float64) (anomaly.Status, anomaly.Severity) {
	if label != anomaly.LabelAnomalous {
		return anomaly.StatusNormal, anomaly.SeverityLow
	}
	switch {
	case score > criticalThreshold:
		return anomaly.StatusCritical, anomaly.SeverityHigh
	case score > warningThreshold:
		return anomaly.StatusWarning, anomaly.SeverityMedium
	default:
		return anomaly.StatusNormal, anomaly.SeverityLow
	}
}
