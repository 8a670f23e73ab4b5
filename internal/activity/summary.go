package activity

import (
	"time"

	"example.com/heartstream/internal/domain"
)

// CaloriesPerKM estimates energy when a caller does not supply calories.
const CaloriesPerKM = 70.0

// summarize fills the completion fields of act from its waypoints.
func summarize(act *domain.Activity, waypoints []domain.Waypoint, end time.Time, calories *float64) {
	act.EndTime = &end
	act.Status = domain.ActivityStatusCompleted
	act.DistanceKM = PathDistanceKM(waypoints)
	act.DurationMinutes = end.Sub(act.StartTime).Minutes()

	act.AvgHeartRate, act.MinHeartRate, act.MaxHeartRate = 0, 0, 0
	sum, n := 0, 0
	for _, wp := range waypoints {
		if wp.HeartRate == nil || *wp.HeartRate <= 0 {
			continue
		}
		hr := *wp.HeartRate
		if n == 0 || hr < act.MinHeartRate {
			act.MinHeartRate = hr
		}
		if hr > act.MaxHeartRate {
			act.MaxHeartRate = hr
		}
		sum += hr
		n++
	}
	if n > 0 {
		act.AvgHeartRate = float64(sum) / float64(n)
	}

	act.AvgSpeed = 0
	if act.DistanceKM > 0 {
		act.AvgSpeed = act.DurationMinutes / act.DistanceKM
	}

	if calories != nil {
		act.Calories = *calories
	} else {
		act.Calories = act.DistanceKM * CaloriesPerKM
	}
}
