// Package live estimates the volume delivered since the last recorded
// sample so dashboards can show a figure that keeps growing between samples.
// Nothing here writes back into the module tree.
package live

import (
	"time"

	"github.com/02loveslollipop/canal-flow-monitor/services/api/civilday"
	"github.com/02loveslollipop/canal-flow-monitor/services/api/hydraulics"
	"github.com/02loveslollipop/canal-flow-monitor/services/api/network"
)

// DefaultDriftCap bounds extrapolation when ingestion stalls.
const DefaultDriftCap = 1800 * time.Second

// Interpolator computes the read-time volume overlay.
type Interpolator struct {
	driftCap time.Duration
	calendar *civilday.Calendar
}

// New returns an Interpolator. A non-positive cap selects DefaultDriftCap.
func New(calendar *civilday.Calendar, driftCap time.Duration) *Interpolator {
	if driftCap <= 0 {
		driftCap = DefaultDriftCap
	}
	return &Interpolator{driftCap: driftCap, calendar: calendar}
}

// DriftCap returns the configured elapsed-time ceiling.
func (i *Interpolator) DriftCap() time.Duration {
	return i.driftCap
}

// Volume returns the Mm³ delivered at currentQ since lastAt, as seen at now.
// Historical dates always get zero.
func (i *Interpolator) Volume(currentQ float64, lastAt, now time.Time, viewedDate string) float64 {
	if lastAt.IsZero() || viewedDate != i.calendar.DateString(now) {
		return 0
	}
	elapsed := now.Sub(lastAt)
	if elapsed > i.driftCap {
		elapsed = i.driftCap
	}
	return hydraulics.VolumeIncrement(currentQ, elapsed)
}

// LivePoint is a delivery point with the overlay applied.
type LivePoint struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	SectionID      string    `json:"section_id"`
	CurrentQ       float64   `json:"current_q"`
	IsOpen         bool      `json:"is_open"`
	Accumulated    float64   `json:"accumulated"`
	DailyVol       float64   `json:"daily_vol"`
	Interpolated   float64   `json:"interpolated"`
	LastMeasuredAt time.Time `json:"last_measured_at"`
}

// LiveModule is a module with the overlay applied to its volumes.
type LiveModule struct {
	ID             string      `json:"id"`
	Code           string      `json:"code"`
	Name           string      `json:"name"`
	CurrentFlow    float64     `json:"current_flow"`
	TargetFlow     float64     `json:"target_flow"`
	DailyVol       float64     `json:"daily_vol"`
	AccumulatedVol float64     `json:"accumulated_vol"`
	AuthorizedVol  float64     `json:"authorized_vol"`
	Interpolated   float64     `json:"interpolated"`
	ProgressPct    float64     `json:"progress_pct"`
	Points         []LivePoint `json:"points"`
}

// Overlay builds the live view of modules at now for viewedDate.
func (i *Interpolator) Overlay(modules []network.Module, now time.Time, viewedDate string) []LiveModule {
	out := make([]LiveModule, 0, len(modules))
	for _, m := range modules {
		lm := LiveModule{
			ID:            m.ID,
			Code:          m.Code,
			Name:          m.Name,
			CurrentFlow:   m.CurrentFlow,
			TargetFlow:    m.TargetFlow,
			AuthorizedVol: m.AuthorizedVol,
			Points:        make([]LivePoint, 0, len(m.Points)),
		}
		for _, p := range m.Points {
			extra := i.Volume(p.CurrentQ, p.LastMeasuredAt, now, viewedDate)
			lm.Interpolated += extra
			lm.Points = append(lm.Points, LivePoint{
				ID:             p.ID,
				Name:           p.Name,
				SectionID:      p.Section.ID,
				CurrentQ:       p.CurrentQ,
				IsOpen:         p.IsOpen,
				Accumulated:    p.Accumulated + extra,
				DailyVol:       p.DailyVol + extra,
				Interpolated:   extra,
				LastMeasuredAt: p.LastMeasuredAt,
			})
		}
		lm.DailyVol = m.DailyVol + lm.Interpolated
		lm.AccumulatedVol = m.AccumulatedVol + lm.Interpolated
		lm.ProgressPct = hydraulics.Efficiency(lm.AccumulatedVol, m.AuthorizedVol)
		out = append(out, lm)
	}
	return out
}
