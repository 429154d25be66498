package schedule

import "context"

// Repository reads the schedule and regulation tables. Both are populated
// by the import pipeline; this service never writes them.
type Repository interface {
	GetSchedulesByIDs(ctx context.Context, ids []int64) ([]*SweepingSchedule, error)
	GetRegulationsByIDs(ctx context.Context, ids []int64) ([]*ParkingRegulation, error)
	GetScheduleByID(ctx context.Context, id int64) (*SweepingSchedule, error)
	GetRegulationByID(ctx context.Context, id int64) (*ParkingRegulation, error)
}
