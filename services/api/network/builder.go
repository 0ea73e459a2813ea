package network

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrDuplicatePoint is returned when two rows claim the same point id.
var ErrDuplicatePoint = errors.New("duplicate point id")

// ValidationError describes a source row that cannot be mapped.
type ValidationError struct {
	Kind   string
	ID     string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("invalid %s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Kind, e.ID, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Build maps bulk rows and the daily rollups of date into the module tree.
// It returns either a complete tree or an error, never a partial tree.
func Build(rows []ModuleRow, reports []DailyReport, date string) ([]Module, error) {
	pointDaily, moduleDaily := indexReports(reports, date)

	seen := make(map[string]string)
	modules := make([]Module, 0, len(rows))
	for _, row := range rows {
		if row.ID == "" {
			return nil, &ValidationError{Kind: "module", Reason: "empty id"}
		}
		if !finite(row.AccumulatedVol, row.AuthorizedVol, row.TargetFlow) {
			return nil, &ValidationError{Kind: "module", ID: row.ID, Reason: "non-finite volume or flow"}
		}

		points := make([]DeliveryPoint, 0, len(row.Points))
		for _, pr := range row.Points {
			if pr.ID == "" {
				return nil, &ValidationError{Kind: "point", Reason: "empty id in module " + row.ID}
			}
			if owner, dup := seen[pr.ID]; dup {
				return nil, &ValidationError{
					Kind:   "point",
					ID:     pr.ID,
					Reason: fmt.Sprintf("listed under modules %q and %q", owner, row.ID),
					Err:    ErrDuplicatePoint,
				}
			}
			seen[pr.ID] = row.ID

			point, err := buildPoint(pr)
			if err != nil {
				return nil, err
			}
			point.DailyVol = pointDaily[pr.ID]
			points = append(points, point)
		}

		modules = append(modules, Module{
			ID:             row.ID,
			Code:           row.Code,
			Name:           row.Name,
			CurrentFlow:    SumFlow(points),
			DailyVol:       moduleDaily[row.ID],
			AccumulatedVol: row.AccumulatedVol,
			AuthorizedVol:  row.AuthorizedVol,
			TargetFlow:     row.TargetFlow,
			Points:         points,
		})
	}
	return modules, nil
}

func buildPoint(pr PointRow) (DeliveryPoint, error) {
	history := make([]Measurement, len(pr.Measurements))
	copy(history, pr.Measurements)
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Timestamp.After(history[j].Timestamp)
	})

	point := DeliveryPoint{
		ID:           pr.ID,
		Name:         pr.Name,
		Km:           pr.Km,
		Type:         pr.Type,
		Capacity:     pr.Capacity,
		Section:      ResolveSection(pr.Section, pr.Km),
		Measurements: history,
	}

	for i := range history {
		m := &history[i]
		if !finite(m.Flow, m.Volume) {
			return DeliveryPoint{}, &ValidationError{Kind: "measurement", ID: pr.ID, Reason: "non-finite flow or volume"}
		}
		if m.PointID == "" {
			m.PointID = pr.ID
		}
		point.Accumulated += m.Volume
	}
	if len(history) > 0 {
		point.CurrentQ = history[0].Flow
		point.LastMeasuredAt = history[0].Timestamp
	}
	point.IsOpen = point.CurrentQ > 0
	return point, nil
}

func indexReports(reports []DailyReport, date string) (map[string]float64, map[string]float64) {
	byPoint := make(map[string]float64)
	byModule := make(map[string]float64)
	for _, r := range reports {
		if r.Date != date || !finite(r.Volume) {
			continue
		}
		if r.PointID != "" {
			byPoint[r.PointID] += r.Volume
		}
		if r.ModuleID != "" {
			byModule[r.ModuleID] += r.Volume
		}
	}
	return byPoint, byModule
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
