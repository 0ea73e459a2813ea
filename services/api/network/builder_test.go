package network

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 10, 16, 14, 0, 0, 0, time.UTC)

func sampleRows() []ModuleRow {
	return []ModuleRow{
		{
			ID:             "m1",
			Code:           "M-01",
			Name:           "Modulo Uno",
			AccumulatedVol: 12.5,
			AuthorizedVol:  40,
			TargetFlow:     1.2,
			Points: []PointRow{
				{
					ID:   "p1",
					Name: "Toma 1",
					Km:   3.4,
					Type: PointToma,
					Measurements: []Measurement{
						{Flow: 0.02, Volume: 0.0001, Timestamp: t0.Add(-2 * time.Hour)},
						{Flow: 0.05, Volume: 0.0003, Timestamp: t0},
						{Flow: 0.04, Volume: 0.0002, Timestamp: t0.Add(-time.Hour)},
					},
				},
				{
					ID:      "p2",
					Name:    "Lateral 2",
					Km:      61,
					Type:    PointLateral,
					Section: &Section{ID: "X", Name: "Explicit", Color: "#000000"},
					Measurements: []Measurement{
						{Flow: 0, Volume: 0, Timestamp: t0},
					},
				},
			},
		},
		{
			ID:   "m2",
			Code: "M-02",
			Name: "Modulo Dos",
			Points: []PointRow{
				{ID: "p3", Name: "Carcamo 3", Km: 95, Type: PointCarcamo},
			},
		},
	}
}

func sampleReports() []DailyReport {
	return []DailyReport{
		{Date: "2026-10-16", ModuleID: "m1", PointID: "p1", Volume: 0.010},
		{Date: "2026-10-16", ModuleID: "m1", PointID: "p2", Volume: 0.002},
		{Date: "2026-10-16", ModuleID: "m1", Volume: 0.001},
		{Date: "2026-10-15", ModuleID: "m1", PointID: "p1", Volume: 9},
		{Date: "2026-10-16", ModuleID: "m2", PointID: "p3", Volume: 0.004},
	}
}

func TestBuildAggregatesPoints(t *testing.T) {
	modules, err := Build(sampleRows(), sampleReports(), "2026-10-16")
	require.NoError(t, err)
	require.Len(t, modules, 2)

	m1 := modules[0]
	require.Len(t, m1.Points, 2)
	p1 := m1.Points[0]

	assert.Equal(t, 0.05, p1.CurrentQ, "latest sample sets current flow")
	assert.True(t, p1.IsOpen)
	assert.Equal(t, t0, p1.LastMeasuredAt)
	assert.InDelta(t, 0.0006, p1.Accumulated, 1e-12, "accumulated sums every fetched row")
	assert.InDelta(t, 0.010, p1.DailyVol, 1e-12)
	require.Len(t, p1.Measurements, 3)
	assert.Equal(t, t0, p1.Measurements[0].Timestamp)
	assert.Equal(t, t0.Add(-2*time.Hour), p1.Measurements[2].Timestamp)
	assert.Equal(t, "p1", p1.Measurements[0].PointID)
	assert.Equal(t, "S1", p1.Section.ID)

	p2 := m1.Points[1]
	assert.False(t, p2.IsOpen)
	assert.Equal(t, "X", p2.Section.ID, "explicit section wins over km band")

	assert.InDelta(t, 0.013, m1.DailyVol, 1e-12, "module daily volume sums its own report rows")
	assert.Equal(t, 12.5, m1.AccumulatedVol)
	assert.Equal(t, 40.0, m1.AuthorizedVol)

	m2 := modules[1]
	assert.Equal(t, 0.0, m2.Points[0].CurrentQ)
	assert.False(t, m2.Points[0].IsOpen)
	assert.True(t, m2.Points[0].LastMeasuredAt.IsZero())
	assert.Equal(t, "S4", m2.Points[0].Section.ID)
	assert.InDelta(t, 0.004, m2.DailyVol, 1e-12)
}

func TestBuildModuleFlowIsPointSum(t *testing.T) {
	modules, err := Build(sampleRows(), nil, "2026-10-16")
	require.NoError(t, err)
	for _, m := range modules {
		var sum float64
		for _, p := range m.Points {
			sum += p.CurrentQ
			assert.Equal(t, p.CurrentQ > 0, p.IsOpen)
		}
		assert.Equal(t, sum, m.CurrentFlow, "module %s", m.ID)
	}
}

func TestBuildMissingReportsDefaultToZero(t *testing.T) {
	modules, err := Build(sampleRows(), nil, "2026-10-16")
	require.NoError(t, err)
	assert.Zero(t, modules[0].DailyVol)
	assert.Zero(t, modules[0].Points[0].DailyVol)
}

func TestBuildDoesNotMutateInput(t *testing.T) {
	rows := sampleRows()
	_, err := Build(rows, nil, "2026-10-16")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(-2*time.Hour), rows[0].Points[0].Measurements[0].Timestamp)
	assert.Empty(t, rows[0].Points[0].Measurements[0].PointID)
}

func TestBuildRejectsInvalidRows(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(rows []ModuleRow) []ModuleRow
		is     error
	}{
		{
			name: "empty module id",
			mutate: func(rows []ModuleRow) []ModuleRow {
				rows[1].ID = ""
				return rows
			},
		},
		{
			name: "empty point id",
			mutate: func(rows []ModuleRow) []ModuleRow {
				rows[1].Points[0].ID = ""
				return rows
			},
		},
		{
			name: "point listed twice",
			mutate: func(rows []ModuleRow) []ModuleRow {
				rows[1].Points[0].ID = "p1"
				return rows
			},
			is: ErrDuplicatePoint,
		},
		{
			name: "non-finite flow",
			mutate: func(rows []ModuleRow) []ModuleRow {
				rows[0].Points[0].Measurements[1].Flow = math.NaN()
				return rows
			},
		},
		{
			name: "non-finite module ledger",
			mutate: func(rows []ModuleRow) []ModuleRow {
				rows[0].AccumulatedVol = math.Inf(1)
				return rows
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			modules, err := Build(tt.mutate(sampleRows()), nil, "2026-10-16")
			require.Error(t, err)
			assert.Nil(t, modules, "a failed build yields no tree")

			var verr *ValidationError
			assert.True(t, errors.As(err, &verr))
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}
