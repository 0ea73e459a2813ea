package network

import "time"

// PointType classifies a delivery point by the kind of structure.
type PointType string

const (
	PointToma    PointType = "toma"
	PointLateral PointType = "lateral"
	PointCarcamo PointType = "carcamo"
)

// Section is a contiguous river-km band used to group points on the map.
// KmEnd is nil for an open-ended band.
type Section struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Color   string   `json:"color"`
	KmStart float64  `json:"km_start"`
	KmEnd   *float64 `json:"km_end,omitempty"`
}

// Measurement is one timestamped sample at a delivery point. Volume is the
// increment in Mm³ attributable to the interval since the previous sample.
type Measurement struct {
	ID        int64     `json:"id,omitempty"`
	PointID   string    `json:"point_id"`
	Flow      float64   `json:"valor_q"`
	Volume    float64   `json:"valor_vol"`
	Timestamp time.Time `json:"ts"`
}

// DeliveryPoint is a physical outlet with its derived hydraulic state.
// Measurements are ordered most recent first.
type DeliveryPoint struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Km             float64       `json:"km"`
	Type           PointType     `json:"type"`
	Capacity       float64       `json:"capacity"`
	CurrentQ       float64       `json:"current_q"`
	Accumulated    float64       `json:"accumulated"`
	DailyVol       float64       `json:"daily_vol"`
	IsOpen         bool          `json:"is_open"`
	Section        Section       `json:"section"`
	LastMeasuredAt time.Time     `json:"last_measured_at"`
	Measurements   []Measurement `json:"measurements"`
}

// Module is an irrigation association's allocation and the points it owns.
type Module struct {
	ID             string          `json:"id"`
	Code           string          `json:"code"`
	Name           string          `json:"name"`
	CurrentFlow    float64         `json:"current_flow"`
	DailyVol       float64         `json:"daily_vol"`
	AccumulatedVol float64         `json:"accumulated_vol"`
	AuthorizedVol  float64         `json:"authorized_vol"`
	TargetFlow     float64         `json:"target_flow"`
	Points         []DeliveryPoint `json:"points"`
}

// ModuleRow is a module record as read from the relational store, with its
// nested point rows.
type ModuleRow struct {
	ID             string
	Code           string
	Name           string
	AccumulatedVol float64
	AuthorizedVol  float64
	TargetFlow     float64
	Points         []PointRow
}

// PointRow is a delivery point record. Section is set only when the source
// assigns one explicitly.
type PointRow struct {
	ID           string
	Name         string
	Km           float64
	Type         PointType
	Capacity     float64
	Section      *Section
	Measurements []Measurement
}

// DailyReport is a pre-aggregated volume total for one civil date.
type DailyReport struct {
	Date     string  `json:"date"`
	ModuleID string  `json:"module_id"`
	PointID  string  `json:"point_id"`
	Volume   float64 `json:"volume"`
}

// FindPoint returns the module and point holding pointID.
func FindPoint(modules []Module, pointID string) (Module, DeliveryPoint, bool) {
	for _, m := range modules {
		for _, p := range m.Points {
			if p.ID == pointID {
				return m, p, true
			}
		}
	}
	return Module{}, DeliveryPoint{}, false
}

// FindModule returns the module with the given id.
func FindModule(modules []Module, moduleID string) (Module, bool) {
	for _, m := range modules {
		if m.ID == moduleID {
			return m, true
		}
	}
	return Module{}, false
}

// SumFlow adds up the instantaneous flow of points.
func SumFlow(points []DeliveryPoint) float64 {
	var total float64
	for _, p := range points {
		total += p.CurrentQ
	}
	return total
}
