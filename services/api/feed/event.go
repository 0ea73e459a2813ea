// Package feed turns database row-insertion notifications into typed events
// and delivers them, in arrival order, to a Handler.
package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/02loveslollipop/canal-flow-monitor/services/api/network"
)

// Tables whose inserts are published on the notification channel.
const (
	TableMeasurements  = "mediciones"
	TableLevelReadings = "lecturas_presas"
)

// ErrUnknownEvent is returned by Decode for notifications it has no kind for.
var ErrUnknownEvent = errors.New("unknown event")

// Handler reacts to each kind of event. Adding an event kind adds a method
// here, so every handler has to decide what to do with it.
type Handler interface {
	OnMeasurementInserted(ev MeasurementInserted)
	OnLevelReadingInserted(ev LevelReadingInserted)
}

// Event is one of the kinds declared in this package.
type Event interface {
	Dispatch(h Handler)
	isEvent()
}

// MeasurementInserted carries a new flow sample for a delivery point.
type MeasurementInserted struct {
	MeasurementID   int64
	PointID         string
	Flow            float64
	VolumeIncrement float64
	Timestamp       time.Time
}

func (ev MeasurementInserted) Dispatch(h Handler) { h.OnMeasurementInserted(ev) }
func (MeasurementInserted) isEvent()              {}

// Measurement converts the event to the tree's measurement record.
func (ev MeasurementInserted) Measurement() network.Measurement {
	return network.Measurement{
		ID:        ev.MeasurementID,
		PointID:   ev.PointID,
		Flow:      ev.Flow,
		Volume:    ev.VolumeIncrement,
		Timestamp: ev.Timestamp,
	}
}

// LevelReadingInserted signals a new dam level reading. Its payload is not
// used for patching; its arrival forces a full rebuild.
type LevelReadingInserted struct {
	DamID     string
	Level     float64
	Timestamp time.Time
}

func (ev LevelReadingInserted) Dispatch(h Handler) { h.OnLevelReadingInserted(ev) }
func (LevelReadingInserted) isEvent()              {}

// envelope is the JSON written by the notify triggers.
type envelope struct {
	Table  string          `json:"table"`
	Record json.RawMessage `json:"record"`
}

type measurementRecord struct {
	ID        int64           `json:"id"`
	PointID   json.RawMessage `json:"punto_id"`
	Flow      *float64        `json:"valor_q"`
	Volume    *float64        `json:"valor_vol"`
	Timestamp *time.Time      `json:"fecha_hora"`
}

type levelRecord struct {
	DamID     json.RawMessage `json:"presa_id"`
	Level     float64         `json:"nivel"`
	Timestamp *time.Time      `json:"fecha_hora"`
}

// Decode parses one notification payload.
func Decode(payload []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Table {
	case TableMeasurements:
		var rec measurementRecord
		if err := json.Unmarshal(env.Record, &rec); err != nil {
			return nil, fmt.Errorf("decode %s record: %w", env.Table, err)
		}
		pointID, err := decodeID(rec.PointID)
		if err != nil {
			return nil, fmt.Errorf("decode %s record: punto_id: %w", env.Table, err)
		}
		if rec.Flow == nil {
			return nil, fmt.Errorf("decode %s record: valor_q is required", env.Table)
		}
		ev := MeasurementInserted{
			MeasurementID: rec.ID,
			PointID:       pointID,
			Flow:          *rec.Flow,
		}
		if rec.Volume != nil {
			ev.VolumeIncrement = *rec.Volume
		}
		if rec.Timestamp != nil {
			ev.Timestamp = *rec.Timestamp
		}
		return ev, nil

	case TableLevelReadings:
		var rec levelRecord
		if len(env.Record) > 0 {
			if err := json.Unmarshal(env.Record, &rec); err != nil {
				return nil, fmt.Errorf("decode %s record: %w", env.Table, err)
			}
		}
		damID, _ := decodeID(rec.DamID)
		ev := LevelReadingInserted{DamID: damID, Level: rec.Level}
		if rec.Timestamp != nil {
			ev.Timestamp = *rec.Timestamp
		}
		return ev, nil
	}

	return nil, fmt.Errorf("%w: table %q", ErrUnknownEvent, env.Table)
}

// decodeID accepts both string and numeric identifiers.
func decodeID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", errors.New("missing id")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", errors.New("empty id")
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("unsupported id %s", raw)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return "", fmt.Errorf("unsupported id %s", raw)
	}
	return n.String(), nil
}
