package models

import "time"

// FeedResponse models the JSON payload returned by a telemetry feed.
type FeedResponse struct {
	Stations []Station `json:"estaciones"`
	Network  string    `json:"red"`
}

// Station is one sensor reading. Value is a gauge head in metres for
// delivery-point feeds and a reservoir elevation for dam feeds.
type Station struct {
	Code      int        `json:"codigo"`
	Name      string     `json:"nombre"`
	Value     *float64   `json:"valor"`
	Timestamp *time.Time `json:"fecha,omitempty"`
}

// PointSensor maps a gauge to its delivery point and rating curve.
type PointSensor struct {
	PointID     string
	SensorID    string
	Coefficient float64
	Exponent    float64
}

// DamSensor maps a level sensor to its dam.
type DamSensor struct {
	DamID    string
	SensorID string
}

// MeasurementCandidate is a flow sample ready for insertion into mediciones.
type MeasurementCandidate struct {
	PointID string
	Head    float64
	Flow    float64
	Volume  float64
	TS      time.Time
}

// LevelCandidate is a dam level ready for insertion into lecturas_presas.
type LevelCandidate struct {
	DamID string
	Level float64
	TS    time.Time
}

// LastReading is the most recent stored value for a point or dam.
type LastReading struct {
	Value float64
	TS    time.Time
}
