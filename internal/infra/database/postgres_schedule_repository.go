package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sweep_notifier/internal/domain/schedule"

	"github.com/lib/pq"
)

const scheduleColumns = `block_sweep_id, cnn, corridor, limits, cnn_right_left, block_side, full_name,
               week_day, from_hour, to_hour, week1, week2, week3, week4, week5, holidays`

const regulationColumns = `id, regulation, days, hrs_begin, hrs_end, hour_limit, neighborhood`

// PostgresScheduleRepository reads the imported schedules and
// parking_regulations tables.
type PostgresScheduleRepository struct {
	db *sql.DB
}

func NewPostgresScheduleRepository(db *sql.DB) *PostgresScheduleRepository {
	return &PostgresScheduleRepository{db: db}
}

func scanSchedule(row rowScanner) (*schedule.SweepingSchedule, error) {
	s := &schedule.SweepingSchedule{}
	err := row.Scan(&s.BlockSweepID, &s.CNN, &s.Corridor, &s.Limits, &s.CNNRightLeft, &s.BlockSide, &s.FullName,
		&s.WeekDay, &s.FromHour, &s.ToHour, &s.Week1, &s.Week2, &s.Week3, &s.Week4, &s.Week5, &s.Holidays)
	return s, err
}

func scanRegulation(row rowScanner) (*schedule.ParkingRegulation, error) {
	reg := &schedule.ParkingRegulation{}
	err := row.Scan(&reg.ID, &reg.Regulation, &reg.Days, &reg.HoursBegin, &reg.HoursEnd, &reg.HourLimit, &reg.Neighborhood)
	return reg, err
}

// GetSchedulesByIDs fetches every schedule in ids with one query. Unknown
// ids are simply absent from the result.
func (r *PostgresScheduleRepository) GetSchedulesByIDs(ctx context.Context, ids []int64) ([]*schedule.SweepingSchedule, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + scheduleColumns + `
               FROM schedules WHERE block_sweep_id = ANY($1)`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("error querying schedules by ids: %w", err)
	}
	defer rows.Close()

	var out []*schedule.SweepingSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning schedule row: %w", err)
		}
		out = append(out, s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedule rows: %w", err)
	}
	return out, nil
}

func (r *PostgresScheduleRepository) GetRegulationsByIDs(ctx context.Context, ids []int64) ([]*schedule.ParkingRegulation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + regulationColumns + `
               FROM parking_regulations WHERE id = ANY($1)`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("error querying parking regulations by ids: %w", err)
	}
	defer rows.Close()

	var out []*schedule.ParkingRegulation
	for rows.Next() {
		reg, err := scanRegulation(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning parking regulation row: %w", err)
		}
		out = append(out, reg)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating parking regulation rows: %w", err)
	}
	return out, nil
}

func (r *PostgresScheduleRepository) GetScheduleByID(ctx context.Context, id int64) (*schedule.SweepingSchedule, error) {
	query := `SELECT ` + scheduleColumns + `
               FROM schedules WHERE block_sweep_id = $1`
	s, err := scanSchedule(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, schedule.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("error getting schedule by ID: %w", err)
	}
	return s, nil
}

func (r *PostgresScheduleRepository) GetRegulationByID(ctx context.Context, id int64) (*schedule.ParkingRegulation, error) {
	query := `SELECT ` + regulationColumns + `
               FROM parking_regulations WHERE id = $1`
	reg, err := scanRegulation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, schedule.ErrRegulationNotFound
		}
		return nil, fmt.Errorf("error getting parking regulation by ID: %w", err)
	}
	return reg, nil
}
