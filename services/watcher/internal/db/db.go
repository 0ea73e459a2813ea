package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/02loveslollipop/canal-flow-monitor/services/watcher/internal/models"
)

// FetchPointSensors loads the gauge to delivery point mapping, keyed by
// sensor id.
func FetchPointSensors(ctx context.Context, pool *pgxpool.Pool) (map[string]models.PointSensor, error) {
	rows, err := pool.Query(ctx, `
SELECT id, sensor_id, coef_gasto, exp_gasto
FROM sica.puntos_entrega
WHERE sensor_id IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]models.PointSensor)
	for rows.Next() {
		var ps models.PointSensor
		if err := rows.Scan(&ps.PointID, &ps.SensorID, &ps.Coefficient, &ps.Exponent); err != nil {
			return nil, err
		}
		result[ps.SensorID] = ps
	}
	return result, rows.Err()
}

// FetchDamSensors loads the level sensor to dam mapping, keyed by sensor id.
func FetchDamSensors(ctx context.Context, pool *pgxpool.Pool) (map[string]models.DamSensor, error) {
	rows, err := pool.Query(ctx, `
SELECT id, sensor_id
FROM sica.presas
WHERE sensor_id IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]models.DamSensor)
	for rows.Next() {
		var ds models.DamSensor
		if err := rows.Scan(&ds.DamID, &ds.SensorID); err != nil {
			return nil, err
		}
		result[ds.SensorID] = ds
	}
	return result, rows.Err()
}

// FetchLastMeasurements loads the most recent stored flow per point.
func FetchLastMeasurements(ctx context.Context, pool *pgxpool.Pool, pointIDs []string) (map[string]models.LastReading, error) {
	return fetchLast(ctx, pool, `
SELECT DISTINCT ON (punto_id) punto_id, valor_q, fecha_hora
FROM sica.mediciones
WHERE punto_id = ANY($1)
ORDER BY punto_id, fecha_hora DESC`, pointIDs)
}

// FetchLastLevels loads the most recent stored level per dam.
func FetchLastLevels(ctx context.Context, pool *pgxpool.Pool, damIDs []string) (map[string]models.LastReading, error) {
	return fetchLast(ctx, pool, `
SELECT DISTINCT ON (presa_id) presa_id, nivel, fecha_hora
FROM sica.lecturas_presas
WHERE presa_id = ANY($1)
ORDER BY presa_id, fecha_hora DESC`, damIDs)
}

func fetchLast(ctx context.Context, pool *pgxpool.Pool, sql string, ids []string) (map[string]models.LastReading, error) {
	result := make(map[string]models.LastReading, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := pool.Query(ctx, sql, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var value float64
		var ts time.Time
		if err := rows.Scan(&id, &value, &ts); err != nil {
			return nil, err
		}
		result[id] = models.LastReading{Value: value, TS: ts}
	}

	return result, rows.Err()
}

// InsertMeasurements writes new flow samples. Each insert fires the
// notification trigger the API listens on.
func InsertMeasurements(ctx context.Context, pool *pgxpool.Pool, measurements []models.MeasurementCandidate) error {
	if len(measurements) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `INSERT INTO sica.mediciones (punto_id, valor_q, valor_vol, fecha_hora)
VALUES ($1,$2,$3,$4)`

	for _, m := range measurements {
		batch.Queue(query, m.PointID, m.Flow, m.Volume, m.TS)
	}

	res := pool.SendBatch(ctx, batch)
	defer res.Close()

	for range measurements {
		if _, err := res.Exec(); err != nil {
			return err
		}
	}

	return nil
}

// InsertLevels writes new dam level readings.
func InsertLevels(ctx context.Context, pool *pgxpool.Pool, levels []models.LevelCandidate) error {
	if len(levels) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `INSERT INTO sica.lecturas_presas (presa_id, nivel, fecha_hora)
VALUES ($1,$2,$3)`

	for _, l := range levels {
		batch.Queue(query, l.DamID, l.Level, l.TS)
	}

	res := pool.SendBatch(ctx, batch)
	defer res.Close()

	for range levels {
		if _, err := res.Exec(); err != nil {
			return err
		}
	}

	return nil
}
