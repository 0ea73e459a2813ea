package utils

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/02loveslollipop/canal-flow-monitor/services/watcher/internal/models"
)

func ptr(v float64) *float64 { return &v }

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		name string
		in   *float64
		want *float64
	}{
		{name: "nil", in: nil, want: nil},
		{name: "sentinel", in: ptr(-999), want: nil},
		{name: "nan", in: ptr(math.NaN()), want: nil},
		{name: "inf", in: ptr(math.Inf(1)), want: nil},
		{name: "zero", in: ptr(0), want: ptr(0)},
		{name: "valid", in: ptr(1.25), want: ptr(1.25)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeValue(tt.in)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
			assert.NotSame(t, tt.in, got)
		})
	}
}

func TestBuildMeasurementCandidates(t *testing.T) {
	retrieval := time.Date(2026, 10, 16, 15, 0, 0, 0, time.UTC)
	stamped := time.Date(2026, 10, 16, 8, 55, 0, 0, time.FixedZone("CST", -6*3600))
	points := map[string]models.PointSensor{
		"101": {PointID: "p1", SensorID: "101", Coefficient: 2, Exponent: 2},
		"102": {PointID: "p2", SensorID: "102", Coefficient: 1.5, Exponent: 1},
	}
	stations := []models.Station{
		{Code: 101, Value: ptr(0.5)},
		{Code: 102, Value: ptr(2), Timestamp: &stamped},
		{Code: 103, Value: ptr(1)},
		{Code: 101, Value: ptr(-999)},
	}

	got := BuildMeasurementCandidates(stations, points, retrieval)

	require.Len(t, got, 2)
	assert.Equal(t, "p1", got[0].PointID)
	assert.InDelta(t, 0.5, got[0].Flow, 1e-12)
	assert.Equal(t, retrieval, got[0].TS)
	assert.Equal(t, "p2", got[1].PointID)
	assert.InDelta(t, 3.0, got[1].Flow, 1e-12)
	assert.Equal(t, stamped.UTC(), got[1].TS)
	assert.Zero(t, got[1].Volume)
}

func TestBuildLevelCandidates(t *testing.T) {
	retrieval := time.Date(2026, 10, 16, 15, 0, 0, 0, time.UTC)
	dams := map[string]models.DamSensor{"7": {DamID: "d1", SensorID: "7"}}
	stations := []models.Station{
		{Code: 7, Value: ptr(312.4)},
		{Code: 8, Value: ptr(100)},
		{Code: 7, Value: nil},
	}

	got := BuildLevelCandidates(stations, dams, retrieval)

	require.Len(t, got, 1)
	assert.Equal(t, models.LevelCandidate{DamID: "d1", Level: 312.4, TS: retrieval}, got[0])
}

func TestFilterNewMeasurements(t *testing.T) {
	base := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	last := map[string]models.LastReading{
		"p1": {Value: 2, TS: base},
		"p2": {Value: 1, TS: base},
		"p3": {Value: 1, TS: base},
		"p4": {Value: 4, TS: base.Add(-3 * time.Hour)},
	}
	candidates := []models.MeasurementCandidate{
		{PointID: "p1", Flow: 2, TS: base.Add(10 * time.Minute)}, // interval elapsed
		{PointID: "p2", Flow: 1.0001, TS: base.Add(time.Minute)}, // same value, too soon
		{PointID: "p3", Flow: 1, TS: base},                       // not after previous
		{PointID: "p4", Flow: 5, TS: base},                       // gap capped
		{PointID: "new", Flow: 0.4, TS: base},                    // first sample
	}

	got := FilterNewMeasurements(candidates, last, 5*time.Minute, 0.001, 30*time.Minute)

	require.Len(t, got, 3)
	assert.Equal(t, "p1", got[0].PointID)
	assert.InDelta(t, 2*600/1e6, got[0].Volume, 1e-12)
	assert.Equal(t, "p4", got[1].PointID)
	assert.InDelta(t, 4*1800/1e6, got[1].Volume, 1e-12)
	assert.Equal(t, "new", got[2].PointID)
	assert.Zero(t, got[2].Volume)
}

func TestFilterNewMeasurementsChangedValueWithinInterval(t *testing.T) {
	base := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	last := map[string]models.LastReading{"p1": {Value: 1, TS: base}}
	candidates := []models.MeasurementCandidate{{PointID: "p1", Flow: 1.5, TS: base.Add(time.Minute)}}

	got := FilterNewMeasurements(candidates, last, 5*time.Minute, 0.001, 0)

	require.Len(t, got, 1)
	assert.InDelta(t, 60/1e6, got[0].Volume, 1e-12)
}

func TestFilterNewLevels(t *testing.T) {
	base := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	last := map[string]models.LastReading{"d1": {Value: 300, TS: base}}
	candidates := []models.LevelCandidate{
		{DamID: "d1", Level: 300, TS: base.Add(time.Minute)},
		{DamID: "d1", Level: 301, TS: base.Add(2 * time.Minute)},
		{DamID: "d2", Level: 50, TS: base},
	}

	got := FilterNewLevels(candidates, last, 5*time.Minute, 0.01)

	require.Len(t, got, 2)
	assert.Equal(t, 301.0, got[0].Level)
	assert.Equal(t, "d2", got[1].DamID)
}

func TestIDs(t *testing.T) {
	points := map[string]models.PointSensor{"1": {PointID: "p1"}, "2": {PointID: "p2"}}
	dams := map[string]models.DamSensor{"9": {DamID: "d9"}}

	assert.ElementsMatch(t, []string{"p1", "p2"}, PointIDs(points))
	assert.Equal(t, []string{"d9"}, DamIDs(dams))
	assert.Empty(t, PointIDs(nil))
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, ValuesEqual(1, 1.0005, 0.001))
	assert.False(t, ValuesEqual(1, 1.01, 0.001))
}
