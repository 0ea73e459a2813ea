package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/02loveslollipop/canal-flow-monitor/services/api/network"
)

// Store wraps database access helpers.
type Store struct {
	pool        *pgxpool.Pool
	historyDays int
	now         func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithHistoryDays limits FetchNetwork to measurements from the last n days.
// Zero, the default, reads the full history.
func WithHistoryDays(n int) Option {
	return func(s *Store) { s.historyDays = n }
}

// New creates a Store backed by a pgx pool.
func New(ctx context.Context, databaseURL string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	s := &Store{pool: pool, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the pool resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Pool exposes the underlying pool for LISTEN connections.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const listModulesSQL = `
    SELECT id, codigo, nombre, vol_acumulado, vol_autorizado, caudal_objetivo
    FROM sica.modulos
    ORDER BY codigo, id
`

const listPointsSQL = `
    SELECT p.id, p.modulo_id, p.nombre, p.km, p.tipo, p.capacidad,
           s.id, s.nombre, s.color, s.km_inicio, s.km_fin
    FROM sica.puntos_entrega p
    LEFT JOIN sica.secciones s ON s.id = p.seccion_id
    ORDER BY p.modulo_id, p.km, p.id
`

const listMeasurementsSQL = `
    SELECT id, punto_id, valor_q, valor_vol, fecha_hora
    FROM sica.mediciones
`

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// pointRecord is a delivery point row with its owning module id.
type pointRecord struct {
	ModuleID string
	Row      network.PointRow
}

// FetchNetwork reads modules, delivery points and measurements from one
// consistent snapshot of the database.
func (s *Store) FetchNetwork(ctx context.Context) ([]network.ModuleRow, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("begin read transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	modules, err := queryModules(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("list modules: %w", err)
	}
	points, err := queryPoints(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("list delivery points: %w", err)
	}

	sql, args := s.measurementsQuery()
	measurements, err := queryMeasurements(ctx, tx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list measurements: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit read transaction: %w", err)
	}
	return assemble(modules, points, measurements), nil
}

func (s *Store) measurementsQuery() (string, []any) {
	if s.historyDays <= 0 {
		return listMeasurementsSQL + " ORDER BY punto_id, fecha_hora DESC", nil
	}
	since := s.now().AddDate(0, 0, -s.historyDays)
	return listMeasurementsSQL + " WHERE fecha_hora >= $1 ORDER BY punto_id, fecha_hora DESC", []any{since}
}

func queryModules(ctx context.Context, tx pgx.Tx) ([]network.ModuleRow, error) {
	rows, err := tx.Query(ctx, listModulesSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	modules := make([]network.ModuleRow, 0)
	for rows.Next() {
		var m network.ModuleRow
		if err := rows.Scan(
			&m.ID,
			&m.Code,
			&m.Name,
			&m.AccumulatedVol,
			&m.AuthorizedVol,
			&m.TargetFlow,
		); err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

func queryPoints(ctx context.Context, tx pgx.Tx) ([]pointRecord, error) {
	rows, err := tx.Query(ctx, listPointsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := make([]pointRecord, 0)
	for rows.Next() {
		var rec pointRecord
		var pointType string
		var secID, secName, secColor *string
		var secStart, secEnd *float64
		if err := rows.Scan(
			&rec.Row.ID,
			&rec.ModuleID,
			&rec.Row.Name,
			&rec.Row.Km,
			&pointType,
			&rec.Row.Capacity,
			&secID,
			&secName,
			&secColor,
			&secStart,
			&secEnd,
		); err != nil {
			return nil, err
		}
		rec.Row.Type = network.PointType(pointType)
		if secID != nil {
			rec.Row.Section = &network.Section{
				ID:      *secID,
				Name:    deref(secName),
				Color:   deref(secColor),
				KmStart: derefFloat(secStart),
				KmEnd:   secEnd,
			}
		}
		points = append(points, rec)
	}
	return points, rows.Err()
}

func queryMeasurements(ctx context.Context, q querier, sql string, args ...any) ([]network.Measurement, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]network.Measurement, 0)
	for rows.Next() {
		var m network.Measurement
		if err := rows.Scan(&m.ID, &m.PointID, &m.Flow, &m.Volume, &m.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// assemble nests points under their modules and measurements under their
// points, preserving query order. Orphan rows are dropped.
func assemble(modules []network.ModuleRow, points []pointRecord, measurements []network.Measurement) []network.ModuleRow {
	byPoint := make(map[string][]network.Measurement)
	for _, m := range measurements {
		byPoint[m.PointID] = append(byPoint[m.PointID], m)
	}

	index := make(map[string]int, len(modules))
	for i := range modules {
		index[modules[i].ID] = i
		modules[i].Points = make([]network.PointRow, 0)
	}

	for _, rec := range points {
		i, ok := index[rec.ModuleID]
		if !ok {
			continue
		}
		row := rec.Row
		row.Measurements = byPoint[row.ID]
		modules[i].Points = append(modules[i].Points, row)
	}
	return modules
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefFloat(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
