package db

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/02loveslollipop/canal-flow-monitor/services/api/network"
)

const dailyReportsSQL = `
    SELECT to_char(fecha, 'YYYY-MM-DD'), modulo_id, COALESCE(punto_id, ''), volumen
    FROM sica.reportes_diarios
    WHERE fecha = $1::date
    ORDER BY modulo_id, punto_id NULLS FIRST
`

// FetchDailyReports returns the per-module and per-point rollups for date
// (YYYY-MM-DD). Module-level rows have an empty PointID.
func (s *Store) FetchDailyReports(ctx context.Context, date string) ([]network.DailyReport, error) {
	rows, err := s.pool.Query(ctx, dailyReportsSQL, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reports := make([]network.DailyReport, 0)
	for rows.Next() {
		var r network.DailyReport
		if err := rows.Scan(&r.Date, &r.ModuleID, &r.PointID, &r.Volume); err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// MeasurementQuery holds filters for a point's measurement history.
type MeasurementQuery struct {
	PointID string
	Limit   int
	Since   *time.Time
	Until   *time.Time
}

func buildMeasurementQuery(q MeasurementQuery) (string, []any) {
	args := []any{q.PointID}
	clause := " WHERE punto_id = $1"
	argPos := 2
	if q.Since != nil {
		clause += " AND fecha_hora >= $" + strconv.Itoa(argPos)
		args = append(args, *q.Since)
		argPos++
	}
	if q.Until != nil {
		clause += " AND fecha_hora <= $" + strconv.Itoa(argPos)
		args = append(args, *q.Until)
		argPos++
	}
	order := " ORDER BY fecha_hora DESC"
	limit := ""
	if q.Limit > 0 {
		limit = " LIMIT $" + strconv.Itoa(argPos)
		args = append(args, q.Limit)
	}
	return listMeasurementsSQL + clause + order + limit, args
}

// ListMeasurements returns a point's stored measurements, most recent first.
func (s *Store) ListMeasurements(ctx context.Context, q MeasurementQuery) ([]network.Measurement, error) {
	sql, args := buildMeasurementQuery(q)
	out, err := queryMeasurements(ctx, s.pool, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list measurements for %s: %w", q.PointID, err)
	}
	return out, nil
}
