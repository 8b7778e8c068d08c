package services

import (
	"math"
	"time"

	"stockwatch/internal/models"
)

// ComputePeriodsElapsed returns how many whole consumption periods of rate fit
// between lastAppliedAt and now. Elapsed time is first floored to whole hours;
// remainders are left for a later evaluation to accumulate. A malformed rate
// yields 0 together with an error wrapping models.ErrMalformedRate.
func ComputePeriodsElapsed(rate models.ConsumptionRate, lastAppliedAt, now time.Time) (int64, error) {
	if err := rate.Validate(); err != nil {
		return 0, err
	}
	if !now.After(lastAppliedAt) {
		return 0, nil
	}

	hours := math.Floor(now.Sub(lastAppliedAt).Hours())
	periods := math.Floor(hours / rate.PeriodHours())
	if periods < 0 {
		return 0, nil
	}
	return int64(periods), nil
}
