// Copyright 2026 The Sentinel Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sentinel-works/sentinel/lib/classify"
	"github.com/sentinel-works/sentinel/lib/clock"
	"github.com/sentinel-works/sentinel/lib/schema/anomaly"
	"github.com/sentinel-works/sentinel/lib/testutil"
)

// newTestStore opens a store on a throwaway database with a fake
// clock pinned to a known instant.
func newTestStore(t *testing.T) (*Store, *clock.FakeClock) {
	t.Helper()
	fake := clock.Fake(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))
	store, err := OpenStore(StoreConfig{
		Path:   filepath.Join(t.TempDir(), "anomalies.db"),
		Clock:  fake,
		Logger: testutil.Logger(t),
	})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("closing store: %v", err)
		}
	})
	return store, fake
}

// appendReading classifies and appends one reading, failing the test
// on any error.
func appendReading(t *testing.T, store *Store, deviceID string, label anomaly.Label, score float64, observedAt time.Time) anomaly.Reading {
	t.Helper()
	classified, err := classify.Classify(anomaly.EventPayload{
		DeviceID: deviceID,
		Label:    label,
		Score:    score,
	}, observedAt)
	if err != nil {
		t.Fatalf("classifying: %v", err)
	}
	reading, err := store.Append(t.Context(), classified)
	if err != nil {
		t.Fatalf("appending: %v", err)
	}
	return reading
}

func TestAppendAssignsIncreasingIDs(t *testing.T) {
	store, fake := newTestStore(t)

	first := appendReading(t, store, "press-01", anomaly.LabelNormal, 0.1, fake.Now())
	second := appendReading(t, store, "press-01", anomaly.LabelAnomalous, 0.9, fake.Now())

	if first.ID <= 0 {
		t.Errorf("first reading id = %d, want positive", first.ID)
	}
	if second.ID <= first.ID {
		t.Errorf("second reading id = %d, want greater than %d", second.ID, first.ID)
	}
	if !second.RecordedAt.Equal(fake.Now().UTC()) {
		t.Errorf("recorded_at = %v, want clock time %v", second.RecordedAt, fake.Now().UTC())
	}
}

func TestAppendRoundTrip(t *testing.T) {
	store, fake := newTestStore(t)

	observed := fake.Now().Add(-3 * time.Minute)
	appended := appendReading(t, store, "lathe-07", anomaly.LabelAnomalous, 0.95, observed)

	readings, err := store.RecentReadings(t.Context(), 10)
	if err != nil {
		t.Fatalf("recent readings: %v", err)
	}
	if len(readings) != 1 {
		t.Fatalf("got %d readings, want 1", len(readings))
	}
	got := readings[0]
	if got != appended {
		t.Errorf("stored reading = %+v, want %+v", got, appended)
	}
	if got.Status != anomaly.StatusCritical || got.Severity != anomaly.SeverityHigh {
		t.Errorf("classification = %s/%s, want critical/high", got.Status, got.Severity)
	}
}

func TestRecentReadingsNewestFirstWithLimit(t *testing.T) {
	store, fake := newTestStore(t)

	base := fake.Now()
	for i := 0; i < 5; i++ {
		appendReading(t, store, "press-01", anomaly.LabelNormal, 0.1, base.Add(time.Duration(i)*time.Second))
	}

	readings, err := store.RecentReadings(t.Context(), 3)
	if err != nil {
		t.Fatalf("recent readings: %v", err)
	}
	if len(readings) != 3 {
		t.Fatalf("got %d readings, want 3", len(readings))
	}
	for i := 1; i < len(readings); i++ {
		if !readings[i].ObservedAt.Before(readings[i-1].ObservedAt) {
			t.Errorf("readings[%d] observed %v, not before readings[%d] %v",
				i, readings[i].ObservedAt, i-1, readings[i-1].ObservedAt)
		}
	}
	if !readings[0].ObservedAt.Equal(base.Add(4 * time.Second).UTC()) {
		t.Errorf("newest reading observed %v, want %v", readings[0].ObservedAt, base.Add(4*time.Second).UTC())
	}
}

func TestRecentReadingsDefaultLimit(t *testing.T) {
	store, fake := newTestStore(t)

	base := fake.Now()
	for i := 0; i < 60; i++ {
		appendReading(t, store, "press-01", anomaly.LabelNormal, 0.1, base.Add(time.Duration(i)*time.Second))
	}

	readings, err := store.RecentReadings(t.Context(), 0)
	if err != nil {
		t.Fatalf("recent readings: %v", err)
	}
	if len(readings) != 50 {
		t.Errorf("got %d readings with default limit, want 50", len(readings))
	}
}

func TestReadingsInPeriodInclusiveBounds(t *testing.T) {
	store, fake := newTestStore(t)

	base := fake.Now()
	before := appendReading(t, store, "d", anomaly.LabelNormal, 0.1, base.Add(-time.Second))
	atStart := appendReading(t, store, "d", anomaly.LabelNormal, 0.1, base)
	atEnd := appendReading(t, store, "d", anomaly.LabelNormal, 0.1, base.Add(time.Minute))
	after := appendReading(t, store, "d", anomaly.LabelNormal, 0.1, base.Add(time.Minute+time.Second))

	readings, err := store.ReadingsInPeriod(t.Context(), base, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("readings in period: %v", err)
	}
	ids := make(map[int64]bool)
	for _, r := range readings {
		ids[r.ID] = true
	}
	if !ids[atStart.ID] || !ids[atEnd.ID] {
		t.Errorf("period query missed boundary readings, got ids %v", ids)
	}
	if ids[before.ID] || ids[after.ID] {
		t.Errorf("period query included out-of-range readings, got ids %v", ids)
	}
}

func TestDeleteOlderThanIsStrict(t *testing.T) {
	store, fake := newTestStore(t)

	cutoff := fake.Now().Add(-30 * 24 * time.Hour)
	old := appendReading(t, store, "d", anomaly.LabelNormal, 0.1, cutoff.Add(-time.Hour))
	atCutoff := appendReading(t, store, "d", anomaly.LabelNormal, 0.1, cutoff)
	fresh := appendReading(t, store, "d", anomaly.LabelNormal, 0.1, fake.Now())

	deleted, err := store.DeleteOlderThan(t.Context(), cutoff)
	if err != nil {
		t.Fatalf("delete older than: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted %d readings, want 1", deleted)
	}

	remaining, err := store.RecentReadings(t.Context(), 10)
	if err != nil {
		t.Fatalf("recent readings: %v", err)
	}
	ids := make(map[int64]bool)
	for _, r := range remaining {
		ids[r.ID] = true
	}
	if ids[old.ID] {
		t.Error("reading older than cutoff survived the sweep")
	}
	if !ids[atCutoff.ID] || !ids[fresh.ID] {
		t.Errorf("sweep deleted readings at or after the cutoff, remaining ids %v", ids)
	}
}

func TestRefreshDailyRollup(t *testing.T) {
	store, fake := newTestStore(t)

	day := fake.Now()
	appendReading(t, store, "d", anomaly.LabelNormal, 0.2, day)
	appendReading(t, store, "d", anomaly.LabelAnomalous, 0.6, day.Add(time.Minute))
	appendReading(t, store, "d", anomaly.LabelAnomalous, 0.9, day.Add(2*time.Minute))
	// A reading on the following day must not leak into the rollup.
	appendReading(t, store, "d", anomaly.LabelAnomalous, 0.99, day.Add(13*time.Hour))

	date := day.UTC().Format("2006-01-02")
	aggregate, err := store.RefreshDailyRollup(t.Context(), date)
	if err != nil {
		t.Fatalf("refreshing rollup: %v", err)
	}

	want := anomaly.DailyAggregate{
		Date:          date,
		TotalReadings: 3,
		NormalCount:   1,
		WarningCount:  1,
		CriticalCount: 1,
		AvgScore:      (0.2 + 0.6 + 0.9) / 3,
	}
	if aggregate.Date != want.Date ||
		aggregate.TotalReadings != want.TotalReadings ||
		aggregate.NormalCount != want.NormalCount ||
		aggregate.WarningCount != want.WarningCount ||
		aggregate.CriticalCount != want.CriticalCount {
		t.Errorf("rollup = %+v, want %+v", aggregate, want)
	}
	if diff := aggregate.AvgScore - want.AvgScore; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("avg_score = %g, want %g", aggregate.AvgScore, want.AvgScore)
	}
}

func TestRefreshDailyRollupIsIdempotent(t *testing.T) {
	store, fake := newTestStore(t)

	appendReading(t, store, "d", anomaly.LabelAnomalous, 0.9, fake.Now())
	date := dateOf(fake.Now())

	first, err := store.RefreshDailyRollup(t.Context(), date)
	if err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	second, err := store.RefreshDailyRollup(t.Context(), date)
	if err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if first != second {
		t.Errorf("repeated refresh changed the rollup: %+v vs %+v", first, second)
	}
}

func TestRefreshDailyRollupAfterSweep(t *testing.T) {
	store, fake := newTestStore(t)

	observed := fake.Now().Add(-40 * 24 * time.Hour)
	appendReading(t, store, "d", anomaly.LabelNormal, 0.1, observed)
	date := dateOf(observed)

	if _, err := store.RefreshDailyRollup(t.Context(), date); err != nil {
		t.Fatalf("initial refresh: %v", err)
	}
	if _, ok, err := store.DailyRollup(t.Context(), date); err != nil || !ok {
		t.Fatalf("rollup row missing before sweep: ok=%v err=%v", ok, err)
	}

	if _, err := store.DeleteOlderThan(t.Context(), fake.Now().Add(-30*24*time.Hour)); err != nil {
		t.Fatalf("sweeping: %v", err)
	}
	if _, err := store.RefreshDailyRollup(t.Context(), date); err != nil {
		t.Fatalf("refresh after sweep: %v", err)
	}

	_, ok, err := store.DailyRollup(t.Context(), date)
	if err != nil {
		t.Fatalf("reading rollup: %v", err)
	}
	if ok {
		t.Error("rollup row survived for a date with no readings")
	}
}

func TestConcurrentRollupRefreshesConverge(t *testing.T) {
	store, fake := newTestStore(t)

	dayA := fake.Now()
	dayB := fake.Now().Add(-24 * time.Hour)
	appendReading(t, store, "d", anomaly.LabelNormal, 0.2, dayA)
	appendReading(t, store, "d", anomaly.LabelAnomalous, 0.6, dayA.Add(time.Minute))
	appendReading(t, store, "d", anomaly.LabelAnomalous, 0.9, dayA.Add(2*time.Minute))
	appendReading(t, store, "d", anomaly.LabelNormal, 0.1, dayB)
	appendReading(t, store, "d", anomaly.LabelAnomalous, 0.95, dayB.Add(time.Minute))

	dateA, dateB := dateOf(dayA), dateOf(dayB)

	// Hammer both dates from parallel goroutines: same-date refreshes
	// serialize on the per-date lock, different dates interleave.
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		for _, date := range []string{dateA, dateB} {
			wg.Add(1)
			go func(date string) {
				defer wg.Done()
				for i := 0; i < 5; i++ {
					if _, err := store.RefreshDailyRollup(t.Context(), date); err != nil {
						t.Errorf("refreshing %s: %v", date, err)
						return
					}
				}
			}(date)
		}
	}
	wg.Wait()

	wantA := anomaly.DailyAggregate{
		Date:          dateA,
		TotalReadings: 3,
		NormalCount:   1,
		WarningCount:  1,
		CriticalCount: 1,
	}
	wantB := anomaly.DailyAggregate{
		Date:          dateB,
		TotalReadings: 2,
		NormalCount:   1,
		CriticalCount: 1,
	}
	for _, want := range []anomaly.DailyAggregate{wantA, wantB} {
		got, ok, err := store.DailyRollup(t.Context(), want.Date)
		if err != nil {
			t.Fatalf("daily rollup %s: %v", want.Date, err)
		}
		if !ok {
			t.Fatalf("no rollup row for %s", want.Date)
		}
		got.AvgScore = 0 // checked separately below
		if got != want {
			t.Errorf("rollup %s = %+v, want %+v", want.Date, got, want)
		}
	}

	gotA, _, err := store.DailyRollup(t.Context(), dateA)
	if err != nil {
		t.Fatalf("daily rollup: %v", err)
	}
	wantAvg := (0.2 + 0.6 + 0.9) / 3
	if diff := gotA.AvgScore - wantAvg; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("avg_score = %g, want %g", gotA.AvgScore, wantAvg)
	}
}

func TestRefreshDailyRollupRejectsBadDate(t *testing.T) {
	store, _ := newTestStore(t)

	if _, err := store.RefreshDailyRollup(t.Context(), "03/15/2026"); err == nil {
		t.Fatal("expected error for malformed date")
	}
}

func TestTrailingStatsWindow(t *testing.T) {
	store, fake := newTestStore(t)

	now := fake.Now()
	appendReading(t, store, "d", anomaly.LabelAnomalous, 0.9, now.Add(-25*time.Hour))
	inWindow := appendReading(t, store, "d", anomaly.LabelAnomalous, 0.6, now.Add(-time.Hour))
	appendReading(t, store, "d", anomaly.LabelNormal, 0.2, now.Add(-23*time.Hour))

	stats, err := store.TrailingStats(t.Context(), 24*time.Hour)
	if err != nil {
		t.Fatalf("trailing stats: %v", err)
	}
	if stats.Total != 2 || stats.Normal != 1 || stats.Warning != 1 || stats.Critical != 0 {
		t.Errorf("stats = %+v, want total=2 normal=1 warning=1 critical=0", stats)
	}
	if !stats.LastUpdate.Equal(inWindow.ObservedAt) {
		t.Errorf("last_update = %v, want %v", stats.LastUpdate, inWindow.ObservedAt)
	}
}

func TestTrailingStatsEmpty(t *testing.T) {
	store, _ := newTestStore(t)

	stats, err := store.TrailingStats(t.Context(), 24*time.Hour)
	if err != nil {
		t.Fatalf("trailing stats: %v", err)
	}
	if stats.Total != 0 || stats.AvgScore != 0 || !stats.LastUpdate.IsZero() {
		t.Errorf("empty-log stats = %+v, want zero value", stats)
	}
}

func TestDeviceStats(t *testing.T) {
	store, fake := newTestStore(t)

	now := fake.Now()
	appendReading(t, store, "press-01", anomaly.LabelAnomalous, 0.9, now.Add(-time.Hour))
	appendReading(t, store, "press-01", anomaly.LabelNormal, 0.1, now.Add(-30*time.Minute))
	appendReading(t, store, "lathe-07", anomaly.LabelAnomalous, 0.6, now.Add(-10*time.Minute))
	// Outside the window.
	appendReading(t, store, "lathe-07", anomaly.LabelAnomalous, 0.99, now.Add(-48*time.Hour))

	devices, err := store.DeviceStats(t.Context(), 24*time.Hour)
	if err != nil {
		t.Fatalf("device stats: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("got %d devices, want 2", len(devices))
	}
	lathe, press := devices[0], devices[1]
	if lathe.DeviceID != "lathe-07" || press.DeviceID != "press-01" {
		t.Fatalf("device order = %s, %s, want lathe-07, press-01", lathe.DeviceID, press.DeviceID)
	}
	if lathe.TotalReadings != 1 || lathe.WarningCount != 1 || lathe.CriticalCount != 0 {
		t.Errorf("lathe stats = %+v", lathe)
	}
	if press.TotalReadings != 2 || press.CriticalCount != 1 {
		t.Errorf("press stats = %+v", press)
	}
	if !lathe.LastSeen.Equal(now.Add(-10 * time.Minute).UTC()) {
		t.Errorf("lathe last_seen = %v, want %v", lathe.LastSeen, now.Add(-10*time.Minute).UTC())
	}
}

func TestStoreErrorsAreClassified(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))
	store, err := OpenStore(StoreConfig{
		Path:   filepath.Join(t.TempDir(), "anomalies.db"),
		Clock:  fake,
		Logger: testutil.Logger(t),
	})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("closing store: %v", err)
	}

	classified, err := classify.Classify(anomaly.EventPayload{
		DeviceID: "d",
		Label:    anomaly.LabelNormal,
		Score:    0.1,
	}, fake.Now())
	if err != nil {
		t.Fatalf("classifying: %v", err)
	}
	_, err = store.Append(t.Context(), classified)
	if err == nil {
		t.Fatal("expected error appending to a closed store")
	}
	if !errors.Is(err, anomaly.ErrStoreUnavailable) {
		t.Errorf("append error %v is not classified as store-unavailable", err)
	}
}
