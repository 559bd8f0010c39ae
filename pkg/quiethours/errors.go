package quiethours

import "errors"

var (
	ErrInvalidSchedule = errors.New("quiethours: invalid schedule")
	ErrLoadSchedules   = errors.New("quiethours: failed to load schedules")
)
