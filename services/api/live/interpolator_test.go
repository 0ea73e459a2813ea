package live

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/02loveslollipop/canal-flow-monitor/services/api/civilday"
	"github.com/02loveslollipop/canal-flow-monitor/services/api/network"
)

// 14:00 UTC is 08:00 in the reference zone, comfortably inside the civil day.
var t0 = time.Date(2026, 10, 16, 14, 0, 0, 0, time.UTC)

func newInterpolator(t *testing.T) *Interpolator {
	t.Helper()
	cal, err := civilday.New("America/Mexico_City")
	require.NoError(t, err)
	return New(cal, 1800*time.Second)
}

func TestVolumeScenario(t *testing.T) {
	ip := newInterpolator(t)
	const accumulated = 1.20000

	at600 := accumulated + ip.Volume(0.05, t0, t0.Add(600*time.Second), "2026-10-16")
	assert.InDelta(t, 1.20003, at600, 1e-12)

	at3600 := accumulated + ip.Volume(0.05, t0, t0.Add(3600*time.Second), "2026-10-16")
	assert.InDelta(t, 1.20009, at3600, 1e-12, "estimate freezes at the drift cap")
}

func TestVolumeDriftCapBounded(t *testing.T) {
	ip := newInterpolator(t)
	capped := 0.3 * 1800 / 1_000_000

	for _, elapsed := range []time.Duration{1800 * time.Second, 2 * time.Hour, 9 * time.Hour} {
		got := ip.Volume(0.3, t0, t0.Add(elapsed), "2026-10-16")
		assert.InDelta(t, capped, got, 1e-15, "elapsed=%s", elapsed)
	}
}

func TestVolumeZeroForHistoricalDates(t *testing.T) {
	ip := newInterpolator(t)
	for _, q := range []float64{0, 0.05, 3.7, 120} {
		assert.Zero(t, ip.Volume(q, t0, t0.Add(10*time.Minute), "2026-10-15"))
		assert.Zero(t, ip.Volume(q, t0, t0.Add(10*time.Minute), "2025-01-01"))
	}
}

func TestVolumeEdgeCases(t *testing.T) {
	ip := newInterpolator(t)
	assert.Zero(t, ip.Volume(0.05, time.Time{}, t0, "2026-10-16"), "no sample yet")
	assert.Zero(t, ip.Volume(0.05, t0.Add(time.Minute), t0, "2026-10-16"), "sample in the future")
}

func TestDefaultDriftCap(t *testing.T) {
	cal, err := civilday.New("")
	require.NoError(t, err)
	assert.Equal(t, DefaultDriftCap, New(cal, 0).DriftCap())
}

func TestOverlayDoesNotMutateTree(t *testing.T) {
	ip := newInterpolator(t)
	modules := []network.Module{
		{
			ID:             "m1",
			CurrentFlow:    0.05,
			DailyVol:       0.01,
			AccumulatedVol: 2,
			AuthorizedVol:  4,
			Points: []network.DeliveryPoint{
				{ID: "p1", CurrentQ: 0.05, Accumulated: 1.2, DailyVol: 0.01, IsOpen: true, LastMeasuredAt: t0},
				{ID: "p2", CurrentQ: 0, Accumulated: 0.4, LastMeasuredAt: t0},
			},
		},
	}
	before, err := json.Marshal(modules)
	require.NoError(t, err)

	view := ip.Overlay(modules, t0.Add(600*time.Second), "2026-10-16")

	after, err := json.Marshal(modules)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	require.Len(t, view, 1)
	assert.InDelta(t, 1.20003, view[0].Points[0].Accumulated, 1e-12)
	assert.InDelta(t, 0.01003, view[0].Points[0].DailyVol, 1e-12)
	assert.Zero(t, view[0].Points[1].Interpolated)
	assert.InDelta(t, 0.00003, view[0].Interpolated, 1e-12)
	assert.InDelta(t, 0.01003, view[0].DailyVol, 1e-12)
	assert.InDelta(t, 2.00003, view[0].AccumulatedVol, 1e-12)
	assert.InDelta(t, 50.00075, view[0].ProgressPct, 1e-9)

	again := ip.Overlay(modules, t0.Add(600*time.Second), "2026-10-16")
	assert.Equal(t, view, again, "overlay is idempotent for the same tick")
}
