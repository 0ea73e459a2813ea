package utils

import (
	"math"
	"strconv"
	"time"

	"github.com/02loveslollipop/canal-flow-monitor/services/api/hydraulics"
	"github.com/02loveslollipop/canal-flow-monitor/services/watcher/internal/models"
)

// SensorID is the key feeds and the database share for a station.
func SensorID(st models.Station) string {
	return strconv.Itoa(st.Code)
}

// PointIDs extracts point identifiers from the sensor mapping.
func PointIDs(points map[string]models.PointSensor) []string {
	ids := make([]string, 0, len(points))
	for _, p := range points {
		ids = append(ids, p.PointID)
	}
	return ids
}

// DamIDs extracts dam identifiers from the sensor mapping.
func DamIDs(dams map[string]models.DamSensor) []string {
	ids := make([]string, 0, len(dams))
	for _, d := range dams {
		ids = append(ids, d.DamID)
	}
	return ids
}

// NormalizeValue cleans raw sensor values; -999 sentinel -> nil.
func NormalizeValue(v *float64) *float64 {
	if v == nil {
		return nil
	}
	if *v <= -900 || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	val := *v
	return &val
}

// readingTime prefers the station's own timestamp over the retrieval time.
func readingTime(st models.Station, retrievalTS time.Time) time.Time {
	if st.Timestamp != nil && !st.Timestamp.IsZero() {
		return st.Timestamp.UTC()
	}
	return retrievalTS
}

// BuildMeasurementCandidates converts gauge heads into flow samples for the
// points that have a registered sensor. Stations without a valid value or
// without a point are skipped.
func BuildMeasurementCandidates(stations []models.Station, points map[string]models.PointSensor, retrievalTS time.Time) []models.MeasurementCandidate {
	candidates := make([]models.MeasurementCandidate, 0, len(stations))
	for _, st := range stations {
		ps, ok := points[SensorID(st)]
		if !ok {
			continue
		}
		head := NormalizeValue(st.Value)
		if head == nil {
			continue
		}
		curve := hydraulics.RatingCurve{Coefficient: ps.Coefficient, Exponent: ps.Exponent}
		candidates = append(candidates, models.MeasurementCandidate{
			PointID: ps.PointID,
			Head:    *head,
			Flow:    curve.Flow(*head),
			TS:      readingTime(st, retrievalTS),
		})
	}
	return candidates
}

// BuildLevelCandidates maps dam feed stations to level readings.
func BuildLevelCandidates(stations []models.Station, dams map[string]models.DamSensor, retrievalTS time.Time) []models.LevelCandidate {
	candidates := make([]models.LevelCandidate, 0, len(stations))
	for _, st := range stations {
		ds, ok := dams[SensorID(st)]
		if !ok {
			continue
		}
		level := NormalizeValue(st.Value)
		if level == nil {
			continue
		}
		candidates = append(candidates, models.LevelCandidate{
			DamID: ds.DamID,
			Level: *level,
			TS:    readingTime(st, retrievalTS),
		})
	}
	return candidates
}

// keep reports whether a reading at ts with value should be stored given the
// previous one. Readings not after the previous are always dropped.
func keep(prev models.LastReading, hasPrev bool, ts time.Time, value float64, minInterval time.Duration, epsilon float64) bool {
	if !hasPrev {
		return true
	}
	if !ts.After(prev.TS) {
		return false
	}
	if ts.Sub(prev.TS) >= minInterval {
		return true
	}
	return !ValuesEqual(prev.Value, value, epsilon)
}

// FilterNewMeasurements selects flow samples that should be inserted and
// fills in the volume delivered since the previous stored sample. The
// previous flow is held over the gap, which is capped at maxGap.
func FilterNewMeasurements(
	candidates []models.MeasurementCandidate,
	last map[string]models.LastReading,
	minInterval time.Duration,
	epsilon float64,
	maxGap time.Duration,
) []models.MeasurementCandidate {
	out := make([]models.MeasurementCandidate, 0, len(candidates))
	for _, cand := range candidates {
		prev, ok := last[cand.PointID]
		if !keep(prev, ok, cand.TS, cand.Flow, minInterval, epsilon) {
			continue
		}
		if ok {
			elapsed := cand.TS.Sub(prev.TS)
			if maxGap > 0 && elapsed > maxGap {
				elapsed = maxGap
			}
			cand.Volume = hydraulics.VolumeIncrement(prev.Value, elapsed)
		}
		out = append(out, cand)
	}
	return out
}

// FilterNewLevels selects dam readings that should be inserted.
func FilterNewLevels(
	candidates []models.LevelCandidate,
	last map[string]models.LastReading,
	minInterval time.Duration,
	epsilon float64,
) []models.LevelCandidate {
	out := make([]models.LevelCandidate, 0, len(candidates))
	for _, cand := range candidates {
		prev, ok := last[cand.DamID]
		if keep(prev, ok, cand.TS, cand.Level, minInterval, epsilon) {
			out = append(out, cand)
		}
	}
	return out
}

// ValuesEqual compares two values with tolerance.
func ValuesEqual(a, b float64, epsilon float64) bool {
	return math.Abs(a-b) <= epsilon
}
